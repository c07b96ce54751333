package migration

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type step struct {
	name string
	run  func(*Migration) error
}

var steps []step

func register(name string, run func(*Migration) error) {
	steps = append(steps, step{name: name, run: run})
}

// Migration is passed to each migration step. DB is a transaction owned by RunAll.
type Migration struct {
	DB   *gorm.DB
	logs []string
}

func (m *Migration) Log(v ...interface{}) {
	m.logs = append(m.logs, fmt.Sprint(v...))
}

// Logs returns what the last step recorded.
func (m *Migration) Logs() []string {
	return append([]string(nil), m.logs...)
}

type marker struct {
	Key       string `gorm:"column:key;primaryKey"`
	Value     string `gorm:"column:value"`
	UpdatedAt int64  `gorm:"column:updated_at"`
}

func (marker) TableName() string { return "config" }

func markerKey(name string) string { return "migration." + name }

// RunAll runs every registered step that has not completed yet, each in its
// own transaction, and records completion in the config table. Schema is
// synced via db.SyncSchema before this runs.
func RunAll(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("db is required")
	}
	for _, s := range steps {
		var n int64
		if err := db.Model(&marker{}).Where("key = ?", markerKey(s.name)).Count(&n).Error; err != nil {
			return fmt.Errorf("migration %s: read marker: %w", s.name, err)
		}
		if n > 0 {
			continue
		}
		err := db.Transaction(func(tx *gorm.DB) error {
			ctx := &Migration{DB: tx}
			if err := s.run(ctx); err != nil {
				return err
			}
			row := marker{Key: markerKey(s.name), Value: "done", UpdatedAt: time.Now().UTC().Unix()}
			return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
		})
		if err != nil {
			return fmt.Errorf("migration %s failed: %w", s.name, err)
		}
	}
	return nil
}
