package engine

import (
	"errors"
	"fmt"
	"time"

	"timeline/core/internal/aggregate"
	dbmodel "timeline/core/internal/db"
	"timeline/core/internal/invariant"
	"timeline/core/internal/projection"
	"timeline/core/internal/timeline"

	"github.com/google/uuid"
)

// CreateSubtype stores a new subtype record for actor and projects it. The
// record's ID is generated when empty.
func (e *Engine) CreateSubtype(actor string, s timeline.Subtype) (string, error) {
	if s == nil {
		return "", timeline.Violation(invariant.RuleRequired, "item", "", "subtype is required")
	}
	s = timeline.Clone(s)
	b := s.Common()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.OwnerID == "" {
		b.OwnerID = actor
	}
	err := e.mutate("create_subtype", actor, func(t *txn) error {
		return t.createSubtype(actor, s)
	})
	if err != nil {
		return "", err
	}
	return b.ID, nil
}

func (t *txn) createSubtype(actor string, s timeline.Subtype) error {
	b := s.Common()
	if err := invariant.Owned(string(s.Kind()), b.ID, b.OwnerID, actor); err != nil {
		return err
	}
	if kind, _, err := itemHeader(t.db, b.ID); err == nil {
		if kind != s.Kind() {
			return timeline.KindMismatch(b.ID, s.Kind(), kind)
		}
		return timeline.Violation("duplicate_id", string(s.Kind()), b.ID, "id already in use")
	} else if !errors.Is(err, timeline.ErrNotFound) {
		return err
	}
	timeline.ApplyDefaults(s)
	b.CreatedAt = t.now
	b.UpdatedAt = t.now
	if err := t.gate.Subtype(s); err != nil {
		return err
	}

	task, isTask := s.(*timeline.Task)
	if isTask {
		if err := t.placeNewTask(actor, task); err != nil {
			return err
		}
		if task.Status == timeline.TaskCompleted && task.CompletedAt == nil {
			task.CompletedAt = &t.now
		}
	}

	if err := t.insertSubtype(s); err != nil {
		return err
	}
	if err := t.projectCreated(s); err != nil {
		return err
	}
	if isTask {
		if err := t.insertClosure(task.Path); err != nil {
			return err
		}
		if err := t.applySubtaskDelta(task.ParentID, aggregate.ChildAdded(task.Status)); err != nil {
			return err
		}
		if task.Status == timeline.TaskCompleted {
			if err := t.autoCompleteFrom(task.ParentID); err != nil {
				return err
			}
		}
	}
	t.emit(Event{Topic: TopicItemCreated, OwnerID: b.OwnerID, ItemID: b.ID, Kind: s.Kind()})
	return nil
}

// UpdateSubtype applies a partial update to the subtype addressed by id and
// kind, then re-syncs the projection and the affected rollups.
func (e *Engine) UpdateSubtype(actor, id string, kind timeline.Kind, patch timeline.Patch) error {
	return e.mutate("update_subtype", actor, func(t *txn) error {
		return t.updateSubtype(actor, id, kind, patch)
	})
}

func (t *txn) updateSubtype(actor, id string, kind timeline.Kind, patch timeline.Patch) error {
	if patch == nil {
		return timeline.Violation(invariant.RuleRequired, string(kind), id, "patch is required")
	}
	if _, err := t.gate.Item(id, kind, actor); err != nil {
		return err
	}
	if patch.Kind() != kind {
		return timeline.KindMismatch(id, patch.Kind(), kind)
	}
	before, err := loadSubtype(t.db, id, kind)
	if err != nil {
		return err
	}
	after := timeline.Clone(before)
	patch.Apply(after)
	after.Common().UpdatedAt = t.now

	var (
		taskBefore, taskAfter *timeline.Task
		newParent             *string
	)
	if kind == timeline.KindTask {
		taskBefore, taskAfter = before.(*timeline.Task), after.(*timeline.Task)
		if tp, ok := patch.(timeline.TaskPatch); ok && tp.ParentID != nil && *tp.ParentID != taskBefore.ParentID {
			newParent = tp.ParentID
		}
		switch {
		case taskBefore.Status != timeline.TaskCompleted && taskAfter.Status == timeline.TaskCompleted:
			taskAfter.CompletedAt = &t.now
		case taskAfter.Status != timeline.TaskCompleted:
			taskAfter.CompletedAt = nil
		}
	}
	if err := t.gate.Subtype(after); err != nil {
		return err
	}
	if err := t.saveSubtypeFields(after); err != nil {
		return err
	}

	if kind == timeline.KindTask {
		// Counters on the current parent move first so the auto-complete
		// check below reads post-transition counts.
		if err := t.applySubtaskDelta(taskBefore.ParentID, aggregate.ChildStatusChanged(taskBefore.Status, taskAfter.Status)); err != nil {
			return err
		}
		if newParent != nil {
			if err := t.reparent(actor, id, *newParent, nil); err != nil {
				return err
			}
			moved, err := loadTask(t.db, id)
			if err != nil {
				return err
			}
			taskAfter.ParentID = moved.ParentID
		}
	}

	if err := t.projectUpdated(after, projection.DroppedKeys(before.Common().Metadata, after.Common().Metadata)); err != nil {
		return err
	}

	if kind == timeline.KindTask && taskBefore.Status != timeline.TaskCompleted && taskAfter.Status == timeline.TaskCompleted {
		if err := t.autoCompleteFrom(taskAfter.ParentID); err != nil {
			return err
		}
	}
	t.emit(Event{Topic: TopicItemUpdated, OwnerID: actor, ItemID: id, Kind: kind, Payload: map[string]any{
		"status": after.StatusValue(),
	}})
	return nil
}

// DeleteSubtype removes the subtype and everything hanging off it: its
// intervals, rollup, anchors, delegations and projection. Deleting a task
// removes its whole subtree.
func (e *Engine) DeleteSubtype(actor, id string, kind timeline.Kind) error {
	return e.mutate("delete_subtype", actor, func(t *txn) error {
		return t.deleteSubtype(actor, id, kind)
	})
}

func (t *txn) deleteSubtype(actor, id string, kind timeline.Kind) error {
	if _, err := t.gate.Item(id, kind, actor); err != nil {
		return err
	}
	if kind != timeline.KindTask {
		if err := t.deleteItemCascade(id, kind); err != nil {
			return err
		}
		t.emit(Event{Topic: TopicItemDeleted, OwnerID: actor, ItemID: id, Kind: kind})
		return nil
	}

	task, err := loadTask(t.db, id)
	if err != nil {
		return err
	}
	subtree, err := t.subtreeIDs(id)
	if err != nil {
		return err
	}
	if err := t.detach(task); err != nil {
		return err
	}
	for _, node := range subtree {
		if err := t.deleteItemCascade(node, timeline.KindTask); err != nil {
			return err
		}
	}
	if err := t.db.Where("descendant_id IN ?", subtree).Delete(&dbmodel.TaskClosure{}).Error; err != nil {
		return fmt.Errorf("delete closure of %s: %w", id, err)
	}
	for _, node := range subtree {
		t.emit(Event{Topic: TopicItemDeleted, OwnerID: actor, ItemID: node, Kind: timeline.KindTask})
	}
	return nil
}

func (t *txn) deleteItemCascade(id string, kind timeline.Kind) error {
	if err := t.db.Where("item_id = ?", id).Delete(&dbmodel.TimeInterval{}).Error; err != nil {
		return fmt.Errorf("delete intervals of %s: %w", id, err)
	}
	if err := t.db.Where("item_id = ?", id).Delete(&dbmodel.TimeRollup{}).Error; err != nil {
		return fmt.Errorf("delete rollup of %s: %w", id, err)
	}
	if err := t.db.Where("memory_id = ? OR (target_kind = ? AND target_id = ?)", id, string(timeline.TargetItem), id).Delete(&dbmodel.Anchor{}).Error; err != nil {
		return fmt.Errorf("delete anchors of %s: %w", id, err)
	}
	if kind == timeline.KindTask {
		var delegations []dbmodel.Delegation
		if err := t.db.Where("task_id = ?", id).Find(&delegations).Error; err != nil {
			return err
		}
		for _, d := range delegations {
			if err := t.applyAgentDelta(d.AgentID, aggregate.DelegationRemoved(timeline.DelegationStatus(d.Status))); err != nil {
				return err
			}
		}
		if err := t.db.Where("task_id = ?", id).Delete(&dbmodel.Delegation{}).Error; err != nil {
			return err
		}
	}
	if err := t.deleteSubtypeRow(id, kind); err != nil {
		return fmt.Errorf("delete %s %s: %w", kind, id, err)
	}
	return t.projectDeleted(id, kind)
}

// GetSupertypeView returns the projection of any item.
func (e *Engine) GetSupertypeView(id string) (timeline.TimelineItem, error) {
	item, err := loadItem(e.db, id)
	return item, timeline.WithOp("get_supertype_view", err)
}

// GetSubtype returns the authoritative record of id, checking its kind.
func (e *Engine) GetSubtype(id string, kind timeline.Kind) (timeline.Subtype, error) {
	stored, _, err := itemHeader(e.db, id)
	if err != nil {
		return nil, timeline.WithOp("get_subtype", err)
	}
	if stored != kind {
		return nil, timeline.WithOp("get_subtype", timeline.KindMismatch(id, kind, stored))
	}
	s, err := loadSubtype(e.db, id, kind)
	return s, timeline.WithOp("get_subtype", err)
}

func (e *Engine) GetTask(id string) (timeline.Task, error) {
	s, err := e.GetSubtype(id, timeline.KindTask)
	if err != nil {
		return timeline.Task{}, err
	}
	return *s.(*timeline.Task), nil
}

// ItemFilter narrows ListItems. EndFrom/EndTo bound the item's end instant
// (a task's due date), which is what "due this week" queries use.
type ItemFilter struct {
	Kinds    []timeline.Kind
	Statuses []timeline.ItemStatus
	EndFrom  *time.Time
	EndTo    *time.Time
	Limit    int
}

// ListItems queries the projection across kinds for one owner.
func (e *Engine) ListItems(ownerID string, f ItemFilter) ([]timeline.TimelineItem, error) {
	q := e.db.Model(&dbmodel.TimelineItem{}).Where("owner_id = ?", ownerID)
	if len(f.Kinds) > 0 {
		kinds := make([]string, 0, len(f.Kinds))
		for _, k := range f.Kinds {
			kinds = append(kinds, string(k))
		}
		q = q.Where("kind IN ?", kinds)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, 0, len(f.Statuses))
		for _, s := range f.Statuses {
			statuses = append(statuses, string(s))
		}
		q = q.Where("status IN ?", statuses)
	}
	if f.EndFrom != nil {
		q = q.Where("end_at >= ?", f.EndFrom.UTC().Unix())
	}
	if f.EndTo != nil {
		q = q.Where("end_at < ?", f.EndTo.UTC().Unix())
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var rows []dbmodel.TimelineItem
	if err := q.Order("end_at IS NULL, end_at ASC, created_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	var rollups []dbmodel.TimeRollup
	if len(ids) > 0 {
		if err := e.db.Where("item_id IN ?", ids).Find(&rollups).Error; err != nil {
			return nil, err
		}
	}
	byID := make(map[string]dbmodel.TimeRollup, len(rollups))
	for _, r := range rollups {
		byID[r.ItemID] = r
	}
	out := make([]timeline.TimelineItem, 0, len(rows))
	for _, r := range rows {
		out = append(out, itemOf(r, byID[r.ID]))
	}
	return out, nil
}
