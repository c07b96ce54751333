package engine

import (
	"fmt"

	dbmodel "timeline/core/internal/db"
	"timeline/core/internal/projection"
	"timeline/core/internal/timeline"

	"gorm.io/gorm"
)

// Synchronizer step. These helpers write the supertype row and nothing
// else; rollups belong to the aggregate step.

func (t *txn) projectCreated(s timeline.Subtype) error {
	row := itemRow(projection.Project(s))
	if err := t.db.Create(&row).Error; err != nil {
		return fmt.Errorf("project %s %s: %w", s.Kind(), s.Common().ID, err)
	}
	if s.Kind().TimeBearing() {
		rollup := dbmodel.TimeRollup{ItemID: s.Common().ID}
		if err := t.db.Create(&rollup).Error; err != nil {
			return fmt.Errorf("create rollup %s: %w", s.Common().ID, err)
		}
	}
	return nil
}

// projectUpdated re-derives the supertype row. dropped lists subtype
// metadata keys removed by this mutation.
func (t *txn) projectUpdated(s timeline.Subtype, dropped []string) error {
	id := s.Common().ID
	prev, err := loadItem(t.db, id)
	if err != nil {
		return err
	}
	if prev.Kind != s.Kind() {
		return timeline.KindMismatch(id, s.Kind(), prev.Kind)
	}
	row := itemRow(projection.Update(prev, s, dropped))
	res := t.db.Model(&dbmodel.TimelineItem{}).Where("id = ? AND kind = ?", id, string(s.Kind())).
		Select("*").Omit("id", "kind", "owner_id", "created_at").Updates(&row)
	if res.Error != nil {
		return fmt.Errorf("project %s %s: %w", s.Kind(), id, res.Error)
	}
	return nil
}

func (t *txn) projectDeleted(id string, kind timeline.Kind) error {
	return t.db.Where("id = ? AND kind = ?", id, string(kind)).Delete(&dbmodel.TimelineItem{}).Error
}

func loadItem(db *gorm.DB, id string) (timeline.TimelineItem, error) {
	var row dbmodel.TimelineItem
	if err := db.Where("id = ?", id).Take(&row).Error; err != nil {
		return timeline.TimelineItem{}, notFoundOr(err, "item", id)
	}
	rollup, err := loadRollup(db, id)
	if err != nil {
		return timeline.TimelineItem{}, err
	}
	return itemOf(row, rollup), nil
}
