package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"timeline/core/internal/aggregate"
	dbmodel "timeline/core/internal/db"
	"timeline/core/internal/invariant"
	"timeline/core/internal/timeline"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// txn is the state of one mutation. All reads and writes go through db,
// which is the open transaction.
type txn struct {
	db     *gorm.DB
	now    time.Time
	gate   invariant.Gate
	events []Event
}

func (t *txn) emit(evt Event) {
	t.events = append(t.events, evt)
}

func (t *txn) ItemHeader(id string) (timeline.Kind, string, error) {
	return itemHeader(t.db, id)
}

func (t *txn) RunningInterval(userID string) (timeline.TimeInterval, bool, error) {
	return runningInterval(t.db, userID)
}

func (t *txn) EpisodeOwner(id string) (string, error) {
	var row dbmodel.Episode
	if err := t.db.Select("id", "owner_id").Where("id = ?", id).Take(&row).Error; err != nil {
		return "", notFoundOr(err, "episode", id)
	}
	return row.OwnerID, nil
}

func itemHeader(db *gorm.DB, id string) (timeline.Kind, string, error) {
	var row dbmodel.TimelineItem
	if err := db.Select("id", "kind", "owner_id").Where("id = ?", id).Take(&row).Error; err != nil {
		return "", "", notFoundOr(err, "item", id)
	}
	return timeline.Kind(row.Kind), row.OwnerID, nil
}

func runningInterval(db *gorm.DB, userID string) (timeline.TimeInterval, bool, error) {
	var rows []dbmodel.TimeInterval
	if err := db.Where("user_id = ? AND end_at IS NULL", userID).Limit(1).Find(&rows).Error; err != nil {
		return timeline.TimeInterval{}, false, err
	}
	if len(rows) == 0 {
		return timeline.TimeInterval{}, false, nil
	}
	return intervalOf(rows[0]), true, nil
}

func notFoundOr(err error, entity, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return timeline.NotFound(entity, id)
	}
	return fmt.Errorf("load %s %s: %w", entity, id, err)
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

// applySubtaskDelta moves a parent's child counters. Roots have no parent.
func (t *txn) applySubtaskDelta(parentID string, d aggregate.SubtaskDelta) error {
	if parentID == "" || d.IsZero() {
		return nil
	}
	res := t.db.Model(&dbmodel.Task{}).Where("id = ?", parentID).Updates(map[string]any{
		"subtask_count":           gorm.Expr("subtask_count + ?", d.Total),
		"completed_subtask_count": gorm.Expr("completed_subtask_count + ?", d.Completed),
	})
	if res.Error != nil {
		return fmt.Errorf("apply subtask delta to %s: %w", parentID, res.Error)
	}
	if res.RowsAffected != 1 {
		return timeline.NotFound("task", parentID)
	}
	return nil
}

// applyTimeDelta moves an item's tracked-time rollup.
func (t *txn) applyTimeDelta(itemID string, d aggregate.TimeDelta) error {
	if d.IsZero() {
		return nil
	}
	row := dbmodel.TimeRollup{ItemID: itemID, MinutesTotal: d.Minutes, SegmentsCount: d.Segments}
	err := t.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "item_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"minutes_total":  gorm.Expr("time_rollups.minutes_total + excluded.minutes_total"),
			"segments_count": gorm.Expr("time_rollups.segments_count + excluded.segments_count"),
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("apply time delta to %s: %w", itemID, err)
	}
	return nil
}

// applyAgentDelta moves an agent's delegation counters and score together.
func (t *txn) applyAgentDelta(agentID string, d aggregate.AgentDelta) error {
	if d.IsZero() {
		return nil
	}
	res := t.db.Model(&dbmodel.Agent{}).Where("id = ?", agentID).Updates(map[string]any{
		"delegation_count":           gorm.Expr("delegation_count + ?", d.Delegations),
		"completed_delegation_count": gorm.Expr("completed_delegation_count + ?", d.Completed),
		"activity_score":             gorm.Expr("activity_score + ?", d.Score()),
	})
	if res.Error != nil {
		return fmt.Errorf("apply agent delta to %s: %w", agentID, res.Error)
	}
	if res.RowsAffected != 1 {
		return timeline.NotFound("agent", agentID)
	}
	return nil
}

func (t *txn) rollup(itemID string) (dbmodel.TimeRollup, error) {
	return loadRollup(t.db, itemID)
}

func loadRollup(db *gorm.DB, itemID string) (dbmodel.TimeRollup, error) {
	var rows []dbmodel.TimeRollup
	if err := db.Where("item_id = ?", itemID).Limit(1).Find(&rows).Error; err != nil {
		return dbmodel.TimeRollup{}, err
	}
	if len(rows) == 0 {
		return dbmodel.TimeRollup{ItemID: itemID}, nil
	}
	return rows[0], nil
}
