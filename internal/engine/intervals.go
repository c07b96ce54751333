package engine

import (
	"fmt"
	"time"

	"timeline/core/internal/aggregate"
	dbmodel "timeline/core/internal/db"
	"timeline/core/internal/invariant"
	"timeline/core/internal/timeline"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OpenInterval starts a timer for actor on itemID. Only one timer per user
// may run at a time.
func (e *Engine) OpenInterval(actor, itemID string, source timeline.IntervalSource) (string, error) {
	if source == "" {
		source = timeline.SourceTimer
	}
	id := uuid.NewString()
	err := e.mutate("open_interval", actor, func(t *txn) error {
		if err := t.gate.IntervalTarget(itemID, actor); err != nil {
			return err
		}
		if err := t.gate.NoRunningInterval(actor); err != nil {
			return err
		}
		row := dbmodel.TimeInterval{
			ID:        id,
			ItemID:    itemID,
			UserID:    actor,
			StartAt:   t.now.Unix(),
			Source:    string(source),
			CreatedAt: t.now.Unix(),
			UpdatedAt: t.now.Unix(),
		}
		if err := t.db.Create(&row).Error; err != nil {
			if isUniqueConstraintError(err) {
				return timeline.AlreadyRunning(actor, "")
			}
			return fmt.Errorf("insert interval: %w", err)
		}
		t.emit(Event{Topic: TopicIntervalOpened, OwnerID: actor, ItemID: itemID, Payload: map[string]any{"interval_id": id}})
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// CloseInterval stops a running interval at end and returns its duration in
// whole minutes.
func (e *Engine) CloseInterval(actor, intervalID string, end time.Time) (int64, error) {
	var minutes int64
	err := e.mutate("close_interval", actor, func(t *txn) error {
		iv, err := t.ownedInterval(intervalID, actor)
		if err != nil {
			return err
		}
		if !iv.Running() {
			return timeline.Violation(invariant.RuleIntervalClosed, "interval", intervalID, "interval is already closed")
		}
		end = end.UTC().Truncate(time.Second)
		if end.Before(iv.StartAt) {
			return timeline.Violation(invariant.RuleIntervalWindow, "interval", intervalID, "end before start")
		}
		minutes = timeline.DurationMinutes(iv.StartAt, end)
		if err := t.writeWindow(intervalID, iv.StartAt, &end, minutes); err != nil {
			return err
		}
		if err := t.applyTimeDelta(iv.ItemID, aggregate.IntervalClosed(minutes)); err != nil {
			return err
		}
		t.emit(Event{Topic: TopicIntervalClosed, OwnerID: actor, ItemID: iv.ItemID, Payload: map[string]any{
			"interval_id": intervalID,
			"minutes":     minutes,
		}})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return minutes, nil
}

// AddInterval records an already finished interval, for manual entry and
// imports.
func (e *Engine) AddInterval(actor, itemID string, start, end time.Time, source timeline.IntervalSource) (string, error) {
	if source == "" {
		source = timeline.SourceManual
	}
	id := uuid.NewString()
	err := e.mutate("add_interval", actor, func(t *txn) error {
		if err := t.gate.IntervalTarget(itemID, actor); err != nil {
			return err
		}
		start, end := start.UTC().Truncate(time.Second), end.UTC().Truncate(time.Second)
		if end.Before(start) {
			return timeline.Violation(invariant.RuleIntervalWindow, "interval", id, "end before start")
		}
		minutes := timeline.DurationMinutes(start, end)
		endUnix := end.Unix()
		row := dbmodel.TimeInterval{
			ID:              id,
			ItemID:          itemID,
			UserID:          actor,
			StartAt:         start.Unix(),
			EndAt:           &endUnix,
			DurationMinutes: minutes,
			Source:          string(source),
			CreatedAt:       t.now.Unix(),
			UpdatedAt:       t.now.Unix(),
		}
		if err := t.db.Create(&row).Error; err != nil {
			return fmt.Errorf("insert interval: %w", err)
		}
		if err := t.applyTimeDelta(itemID, aggregate.IntervalClosed(minutes)); err != nil {
			return err
		}
		t.emit(Event{Topic: TopicIntervalClosed, OwnerID: actor, ItemID: itemID, Payload: map[string]any{
			"interval_id": id,
			"minutes":     minutes,
		}})
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// IntervalEdit changes the window of an interval. Setting EndAt on a running
// interval closes it.
type IntervalEdit struct {
	StartAt *time.Time
	EndAt   *time.Time
}

func (e *Engine) EditInterval(actor, intervalID string, edit IntervalEdit) error {
	return e.mutate("edit_interval", actor, func(t *txn) error {
		before, err := t.ownedInterval(intervalID, actor)
		if err != nil {
			return err
		}
		after := before
		if edit.StartAt != nil {
			after.StartAt = edit.StartAt.UTC().Truncate(time.Second)
		}
		if edit.EndAt != nil {
			end := edit.EndAt.UTC().Truncate(time.Second)
			after.EndAt = &end
		}
		if after.EndAt != nil {
			if after.EndAt.Before(after.StartAt) {
				return timeline.Violation(invariant.RuleIntervalWindow, "interval", intervalID, "end before start")
			}
			after.DurationMinutes = timeline.DurationMinutes(after.StartAt, *after.EndAt)
		}
		if err := t.writeWindow(intervalID, after.StartAt, after.EndAt, after.DurationMinutes); err != nil {
			return err
		}
		if err := t.applyTimeDelta(before.ItemID, aggregate.IntervalEdited(before, after)); err != nil {
			return err
		}
		t.emit(Event{Topic: TopicIntervalChanged, OwnerID: actor, ItemID: before.ItemID, Payload: map[string]any{
			"interval_id": intervalID,
			"minutes":     after.DurationMinutes,
		}})
		return nil
	})
}

// ReopenInterval clears the end of a closed interval, making it the user's
// running timer again.
func (e *Engine) ReopenInterval(actor, intervalID string) error {
	return e.mutate("reopen_interval", actor, func(t *txn) error {
		iv, err := t.ownedInterval(intervalID, actor)
		if err != nil {
			return err
		}
		if iv.Running() {
			return timeline.AlreadyRunning(actor, intervalID)
		}
		if err := t.gate.NoRunningInterval(actor); err != nil {
			return err
		}
		if err := t.writeWindow(intervalID, iv.StartAt, nil, 0); err != nil {
			if isUniqueConstraintError(err) {
				return timeline.AlreadyRunning(actor, "")
			}
			return err
		}
		if err := t.applyTimeDelta(iv.ItemID, aggregate.IntervalReopened(iv.DurationMinutes)); err != nil {
			return err
		}
		t.emit(Event{Topic: TopicIntervalOpened, OwnerID: actor, ItemID: iv.ItemID, Payload: map[string]any{"interval_id": intervalID}})
		return nil
	})
}

// ReassignInterval moves an interval to another time-bearing item.
func (e *Engine) ReassignInterval(actor, intervalID, itemID string) error {
	return e.mutate("reassign_interval", actor, func(t *txn) error {
		iv, err := t.ownedInterval(intervalID, actor)
		if err != nil {
			return err
		}
		if iv.ItemID == itemID {
			return nil
		}
		if err := t.gate.IntervalTarget(itemID, actor); err != nil {
			return err
		}
		err = t.db.Model(&dbmodel.TimeInterval{}).Where("id = ?", intervalID).Updates(map[string]any{
			"item_id":    itemID,
			"updated_at": t.now.Unix(),
		}).Error
		if err != nil {
			return fmt.Errorf("reassign interval %s: %w", intervalID, err)
		}
		from, to := aggregate.IntervalMoved(iv)
		if err := t.applyTimeDelta(iv.ItemID, from); err != nil {
			return err
		}
		if err := t.applyTimeDelta(itemID, to); err != nil {
			return err
		}
		t.emit(Event{Topic: TopicIntervalChanged, OwnerID: actor, ItemID: itemID, Payload: map[string]any{
			"interval_id": intervalID,
			"from":        iv.ItemID,
		}})
		return nil
	})
}

func (e *Engine) DeleteInterval(actor, intervalID string) error {
	return e.mutate("delete_interval", actor, func(t *txn) error {
		iv, err := t.ownedInterval(intervalID, actor)
		if err != nil {
			return err
		}
		if err := t.db.Where("id = ?", intervalID).Delete(&dbmodel.TimeInterval{}).Error; err != nil {
			return fmt.Errorf("delete interval %s: %w", intervalID, err)
		}
		if err := t.applyTimeDelta(iv.ItemID, aggregate.IntervalRemoved(iv)); err != nil {
			return err
		}
		t.emit(Event{Topic: TopicIntervalDeleted, OwnerID: actor, ItemID: iv.ItemID, Payload: map[string]any{"interval_id": intervalID}})
		return nil
	})
}

// RunningInterval returns the user's running timer, if any.
func (e *Engine) RunningInterval(userID string) (timeline.TimeInterval, bool, error) {
	return runningInterval(e.db, userID)
}

func (e *Engine) GetInterval(id string) (timeline.TimeInterval, error) {
	iv, err := loadInterval(e.db, id)
	return iv, timeline.WithOp("get_interval", err)
}

// Intervals lists the intervals of an item, oldest first.
func (e *Engine) Intervals(itemID string) ([]timeline.TimeInterval, error) {
	var rows []dbmodel.TimeInterval
	if err := e.db.Where("item_id = ?", itemID).Order("start_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]timeline.TimeInterval, 0, len(rows))
	for _, r := range rows {
		out = append(out, intervalOf(r))
	}
	return out, nil
}

func loadInterval(db *gorm.DB, id string) (timeline.TimeInterval, error) {
	var row dbmodel.TimeInterval
	if err := db.Where("id = ?", id).Take(&row).Error; err != nil {
		return timeline.TimeInterval{}, notFoundOr(err, "interval", id)
	}
	return intervalOf(row), nil
}

func (t *txn) ownedInterval(id, actor string) (timeline.TimeInterval, error) {
	iv, err := loadInterval(t.db, id)
	if err != nil {
		return timeline.TimeInterval{}, err
	}
	if err := invariant.Owned("interval", id, iv.UserID, actor); err != nil {
		return timeline.TimeInterval{}, err
	}
	return iv, nil
}

func (t *txn) writeWindow(id string, start time.Time, end *time.Time, minutes int64) error {
	err := t.db.Model(&dbmodel.TimeInterval{}).Where("id = ?", id).Updates(map[string]any{
		"start_at":         start.Unix(),
		"end_at":           unixPtr(end),
		"duration_minutes": minutes,
		"updated_at":       t.now.Unix(),
	}).Error
	if err != nil {
		return fmt.Errorf("update interval %s: %w", id, err)
	}
	return nil
}
