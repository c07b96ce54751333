package engine

import (
	"fmt"

	dbmodel "timeline/core/internal/db"
	"timeline/core/internal/timeline"

	"gorm.io/gorm"
)

// Columns owned by the hierarchy manager and the aggregate maintainer. A
// plain subtype save never writes them.
var taskManagedColumns = []string{
	"id", "owner_id", "created_at",
	"parent_id", "depth", "path", "sibling_order",
	"subtask_count", "completed_subtask_count",
}

var itemImmutableColumns = []string{"id", "owner_id", "created_at"}

func loadSubtype(db *gorm.DB, id string, kind timeline.Kind) (timeline.Subtype, error) {
	switch kind {
	case timeline.KindTask:
		t, err := loadTask(db, id)
		if err != nil {
			return nil, err
		}
		return &t, nil
	case timeline.KindActivity:
		var row dbmodel.Activity
		if err := db.Where("id = ?", id).Take(&row).Error; err != nil {
			return nil, notFoundOr(err, "activity", id)
		}
		return activityOf(row), nil
	case timeline.KindMemory:
		var row dbmodel.Memory
		if err := db.Where("id = ?", id).Take(&row).Error; err != nil {
			return nil, notFoundOr(err, "memory", id)
		}
		return memoryOf(row), nil
	case timeline.KindRoutine:
		var row dbmodel.Routine
		if err := db.Where("id = ?", id).Take(&row).Error; err != nil {
			return nil, notFoundOr(err, "routine", id)
		}
		return routineOf(row), nil
	case timeline.KindHabit:
		var row dbmodel.Habit
		if err := db.Where("id = ?", id).Take(&row).Error; err != nil {
			return nil, notFoundOr(err, "habit", id)
		}
		return habitOf(row), nil
	}
	return nil, timeline.Violation("unknown_value", "item", id, fmt.Sprintf("kind %q", kind))
}

func loadTask(db *gorm.DB, id string) (timeline.Task, error) {
	var row dbmodel.Task
	if err := db.Where("id = ?", id).Take(&row).Error; err != nil {
		return timeline.Task{}, notFoundOr(err, "task", id)
	}
	rollup, err := loadRollup(db, id)
	if err != nil {
		return timeline.Task{}, err
	}
	return taskOf(row, rollup), nil
}

// insertSubtype writes a new subtype row including hierarchy columns.
func (t *txn) insertSubtype(s timeline.Subtype) error {
	var err error
	switch v := s.(type) {
	case *timeline.Task:
		row := taskRow(v)
		err = t.db.Create(&row).Error
	case *timeline.Activity:
		row := activityRow(v)
		err = t.db.Create(&row).Error
	case *timeline.Memory:
		row := memoryRow(v)
		err = t.db.Create(&row).Error
	case *timeline.Routine:
		row := routineRow(v)
		err = t.db.Create(&row).Error
	case *timeline.Habit:
		row := habitRow(v)
		err = t.db.Create(&row).Error
	default:
		return fmt.Errorf("unsupported subtype %T", s)
	}
	if err != nil {
		if isUniqueConstraintError(err) {
			return timeline.Violation("duplicate_id", string(s.Kind()), s.Common().ID, "id already in use")
		}
		return fmt.Errorf("insert %s: %w", s.Kind(), err)
	}
	return nil
}

// saveSubtypeFields overwrites the caller-editable columns of an existing row.
func (t *txn) saveSubtypeFields(s timeline.Subtype) error {
	id := s.Common().ID
	var res *gorm.DB
	switch v := s.(type) {
	case *timeline.Task:
		row := taskRow(v)
		res = t.db.Model(&dbmodel.Task{}).Where("id = ?", id).Select("*").Omit(taskManagedColumns...).Updates(&row)
	case *timeline.Activity:
		row := activityRow(v)
		res = t.db.Model(&dbmodel.Activity{}).Where("id = ?", id).Select("*").Omit(itemImmutableColumns...).Updates(&row)
	case *timeline.Memory:
		row := memoryRow(v)
		res = t.db.Model(&dbmodel.Memory{}).Where("id = ?", id).Select("*").Omit(itemImmutableColumns...).Updates(&row)
	case *timeline.Routine:
		row := routineRow(v)
		res = t.db.Model(&dbmodel.Routine{}).Where("id = ?", id).Select("*").Omit(itemImmutableColumns...).Updates(&row)
	case *timeline.Habit:
		row := habitRow(v)
		res = t.db.Model(&dbmodel.Habit{}).Where("id = ?", id).Select("*").Omit(itemImmutableColumns...).Updates(&row)
	default:
		return fmt.Errorf("unsupported subtype %T", s)
	}
	if res.Error != nil {
		return fmt.Errorf("save %s %s: %w", s.Kind(), id, res.Error)
	}
	if res.RowsAffected != 1 {
		return timeline.NotFound(string(s.Kind()), id)
	}
	return nil
}

func (t *txn) deleteSubtypeRow(id string, kind timeline.Kind) error {
	var model any
	switch kind {
	case timeline.KindTask:
		model = &dbmodel.Task{}
	case timeline.KindActivity:
		model = &dbmodel.Activity{}
	case timeline.KindMemory:
		model = &dbmodel.Memory{}
	case timeline.KindRoutine:
		model = &dbmodel.Routine{}
	case timeline.KindHabit:
		model = &dbmodel.Habit{}
	default:
		return fmt.Errorf("unsupported kind %q", kind)
	}
	return t.db.Where("id = ?", id).Delete(model).Error
}
