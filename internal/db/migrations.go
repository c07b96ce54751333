package db

import (
	"errors"

	"timeline/core/internal/db/migration"

	"gorm.io/gorm"
)

// SyncSchema creates/updates tables and indexes from models. Table structure changes do not use versioned migrations.
func SyncSchema(db *gorm.DB) error {
	if db == nil {
		return errors.New("db is required")
	}
	if err := db.AutoMigrate(
		&TimelineItem{},
		&Task{},
		&Activity{},
		&Memory{},
		&Routine{},
		&Habit{},
		&TaskClosure{},
		&TimeInterval{},
		&TimeRollup{},
		&Episode{},
		&Anchor{},
		&Agent{},
		&Delegation{},
		&Config{},
	); err != nil {
		return err
	}
	for _, stmt := range []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_time_intervals_running_user ON time_intervals(user_id) WHERE end_at IS NULL;`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_parent_order ON tasks(parent_id, sibling_order);`,
		`CREATE INDEX IF NOT EXISTS idx_task_closure_descendant ON task_closure(descendant_id, distance);`,
		`CREATE INDEX IF NOT EXISTS idx_task_closure_ancestor_distance ON task_closure(ancestor_id, distance);`,
		`CREATE INDEX IF NOT EXISTS idx_timeline_items_owner_end ON timeline_items(owner_id, end_at);`,
	} {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

// MigrateUp syncs schema then runs data migrations.
func MigrateUp(db *gorm.DB) error {
	if err := SyncSchema(db); err != nil {
		return err
	}
	return migration.RunAll(db)
}
