package engine

import (
	"fmt"
	"iter"
	"slices"

	"timeline/core/internal/aggregate"
	dbmodel "timeline/core/internal/db"
	"timeline/core/internal/hierarchy"
	"timeline/core/internal/invariant"
	"timeline/core/internal/timeline"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type reparentOptions struct {
	position *int
}

type ReparentOption func(*reparentOptions)

// WithPosition inserts the task at pos among its new siblings instead of
// appending it.
func WithPosition(pos int) ReparentOption {
	return func(o *reparentOptions) { o.position = &pos }
}

// ReparentTask moves taskID and its subtree under newParentID. An empty
// newParentID makes the task a root.
func (e *Engine) ReparentTask(actor, taskID, newParentID string, opts ...ReparentOption) error {
	var o reparentOptions
	for _, opt := range opts {
		opt(&o)
	}
	return e.mutate("reparent_task", actor, func(t *txn) error {
		if _, err := t.gate.Item(taskID, timeline.KindTask, actor); err != nil {
			return err
		}
		return t.reparent(actor, taskID, newParentID, o.position)
	})
}

// siblings scopes a query to the children of parentID. Roots are scoped by
// owner.
func (t *txn) siblings(ownerID, parentID string) *gorm.DB {
	q := t.db.Model(&dbmodel.Task{})
	if parentID == "" {
		return q.Where("owner_id = ? AND parent_id = ''", ownerID)
	}
	return q.Where("parent_id = ?", parentID)
}

func (t *txn) placeNewTask(actor string, task *timeline.Task) error {
	var parentPath []string
	if task.ParentID != "" {
		if _, err := t.gate.Item(task.ParentID, timeline.KindTask, actor); err != nil {
			return err
		}
		parent, err := loadTask(t.db, task.ParentID)
		if err != nil {
			return err
		}
		if err := invariant.Placement(task.ID, parent.Path, 0); err != nil {
			return err
		}
		parentPath = parent.Path
	}
	var count int64
	if err := t.siblings(task.OwnerID, task.ParentID).Count(&count).Error; err != nil {
		return fmt.Errorf("count siblings of %s: %w", task.ID, err)
	}
	task.Path = hierarchy.PathFor(parentPath, task.ID)
	task.Depth = hierarchy.DepthOf(task.Path)
	task.SiblingOrder = int(count)
	task.SubtaskCount = 0
	task.CompletedSubtaskCount = 0
	return nil
}

func (t *txn) insertClosure(path []string) error {
	pairs := hierarchy.ClosureFor(path)
	if len(pairs) == 0 {
		return nil
	}
	rows := make([]dbmodel.TaskClosure, 0, len(pairs))
	for _, p := range pairs {
		rows = append(rows, dbmodel.TaskClosure{AncestorID: p.Ancestor, DescendantID: p.Descendant, Distance: p.Distance})
	}
	if err := t.db.Create(&rows).Error; err != nil {
		return fmt.Errorf("insert closure: %w", err)
	}
	return nil
}

// subtreeIDs lists id and all of its descendants, nearest first.
func (t *txn) subtreeIDs(id string) ([]string, error) {
	var ids []string
	err := t.db.Model(&dbmodel.TaskClosure{}).Where("ancestor_id = ?", id).
		Order("distance ASC, descendant_id ASC").Pluck("descendant_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("load subtree of %s: %w", id, err)
	}
	return ids, nil
}

func (t *txn) subtreeHeight(id string) (int, error) {
	var height int
	err := t.db.Model(&dbmodel.TaskClosure{}).Where("ancestor_id = ?", id).
		Select("COALESCE(MAX(distance), 0)").Scan(&height).Error
	if err != nil {
		return 0, fmt.Errorf("subtree height of %s: %w", id, err)
	}
	return height, nil
}

// detach removes task from its parent's counters and closes the gap it
// leaves among its siblings.
func (t *txn) detach(task timeline.Task) error {
	if err := t.applySubtaskDelta(task.ParentID, aggregate.ChildRemoved(task.Status)); err != nil {
		return err
	}
	err := t.siblings(task.OwnerID, task.ParentID).
		Where("id <> ? AND sibling_order > ?", task.ID, task.SiblingOrder).
		Update("sibling_order", gorm.Expr("sibling_order - 1")).Error
	if err != nil {
		return fmt.Errorf("compact siblings of %s: %w", task.ID, err)
	}
	return nil
}

func (t *txn) reparent(actor, id, newParentID string, position *int) error {
	task, err := loadTask(t.db, id)
	if err != nil {
		return err
	}
	var parentPath []string
	if newParentID != "" {
		if newParentID == id {
			return timeline.CycleDetected(id, newParentID)
		}
		if _, err := t.gate.Item(newParentID, timeline.KindTask, actor); err != nil {
			return err
		}
		parent, err := loadTask(t.db, newParentID)
		if err != nil {
			return err
		}
		parentPath = parent.Path
	}
	height, err := t.subtreeHeight(id)
	if err != nil {
		return err
	}
	if err := invariant.Placement(id, parentPath, height); err != nil {
		return err
	}

	if err := t.detach(task); err != nil {
		return err
	}

	var count int64
	if err := t.siblings(task.OwnerID, newParentID).Where("id <> ?", id).Count(&count).Error; err != nil {
		return fmt.Errorf("count siblings of %s: %w", id, err)
	}
	pos := hierarchy.Placement(position, int(count))
	err = t.siblings(task.OwnerID, newParentID).
		Where("id <> ? AND sibling_order >= ?", id, pos).
		Update("sibling_order", gorm.Expr("sibling_order + 1")).Error
	if err != nil {
		return fmt.Errorf("open slot for %s: %w", id, err)
	}

	newPath := hierarchy.PathFor(parentPath, id)
	err = t.db.Model(&dbmodel.Task{}).Where("id = ?", id).Updates(map[string]any{
		"parent_id":     newParentID,
		"sibling_order": pos,
		"path":          datatypes.JSONSlice[string](newPath),
		"depth":         hierarchy.DepthOf(newPath),
		"updated_at":    t.now.Unix(),
	}).Error
	if err != nil {
		return fmt.Errorf("move %s: %w", id, err)
	}
	if err := t.rebaseDescendants(id, task.Path, newPath); err != nil {
		return err
	}
	if err := t.applySubtaskDelta(newParentID, aggregate.ChildAdded(task.Status)); err != nil {
		return err
	}
	if err := t.rewriteClosure(id, parentPath); err != nil {
		return err
	}

	moved, err := loadTask(t.db, id)
	if err != nil {
		return err
	}
	if err := t.projectUpdated(&moved, nil); err != nil {
		return err
	}
	t.emit(Event{Topic: TopicTaskReparented, OwnerID: task.OwnerID, ItemID: id, Kind: timeline.KindTask, Payload: map[string]any{
		"from":     task.ParentID,
		"to":       newParentID,
		"position": pos,
	}})
	return nil
}

func (t *txn) rebaseDescendants(id string, oldPath, newPath []string) error {
	var rows []dbmodel.Task
	err := t.db.Where("id IN (?)", t.db.Model(&dbmodel.TaskClosure{}).
		Select("descendant_id").Where("ancestor_id = ? AND distance > 0", id)).
		Find(&rows).Error
	if err != nil {
		return fmt.Errorf("load descendants of %s: %w", id, err)
	}
	for _, row := range rows {
		path, ok := hierarchy.Rebase(row.Path, oldPath, newPath)
		if !ok {
			return timeline.Violation("path_prefix", "task", row.ID, "stored path does not start with its ancestor's path")
		}
		err := t.db.Model(&dbmodel.Task{}).Where("id = ?", row.ID).Updates(map[string]any{
			"path":  datatypes.JSONSlice[string](path),
			"depth": hierarchy.DepthOf(path),
		}).Error
		if err != nil {
			return fmt.Errorf("rebase %s: %w", row.ID, err)
		}
	}
	return nil
}

// rewriteClosure drops the pairs linking the subtree of id to its former
// ancestors and links it to the ancestors in parentPath.
func (t *txn) rewriteClosure(id string, parentPath []string) error {
	var inner []dbmodel.TaskClosure
	if err := t.db.Where("ancestor_id = ?", id).Find(&inner).Error; err != nil {
		return fmt.Errorf("load closure of %s: %w", id, err)
	}
	subtree := make([]string, 0, len(inner))
	for _, c := range inner {
		subtree = append(subtree, c.DescendantID)
	}
	err := t.db.Where("descendant_id IN ? AND ancestor_id NOT IN ?", subtree, subtree).
		Delete(&dbmodel.TaskClosure{}).Error
	if err != nil {
		return fmt.Errorf("unlink closure of %s: %w", id, err)
	}
	if len(parentPath) == 0 {
		return nil
	}
	rows := make([]dbmodel.TaskClosure, 0, len(parentPath)*len(inner))
	for i, anc := range parentPath {
		up := len(parentPath) - 1 - i
		for _, c := range inner {
			rows = append(rows, dbmodel.TaskClosure{AncestorID: anc, DescendantID: c.DescendantID, Distance: up + c.Distance + 1})
		}
	}
	if err := t.db.Create(&rows).Error; err != nil {
		return fmt.Errorf("link closure of %s: %w", id, err)
	}
	return nil
}

// autoCompleteFrom walks up from parentID completing every auto parent whose
// children are now all completed.
func (t *txn) autoCompleteFrom(parentID string) error {
	for parentID != "" {
		p, err := loadTask(t.db, parentID)
		if err != nil {
			return err
		}
		counts := aggregate.Counts{Total: p.SubtaskCount, Completed: p.CompletedSubtaskCount}
		if p.CompletionBehavior != timeline.CompletionAuto || p.Status == timeline.TaskCompleted || !counts.AllDone() {
			return nil
		}
		prev := p.Status
		p.Status = timeline.TaskCompleted
		p.ProgressPercent = 100
		p.CompletedAt = &t.now
		p.UpdatedAt = t.now
		if err := t.saveSubtypeFields(&p); err != nil {
			return err
		}
		if err := t.applySubtaskDelta(p.ParentID, aggregate.ChildStatusChanged(prev, p.Status)); err != nil {
			return err
		}
		if err := t.projectUpdated(&p, nil); err != nil {
			return err
		}
		t.emit(Event{Topic: TopicTaskAutoCompleted, OwnerID: p.OwnerID, ItemID: p.ID, Kind: timeline.KindTask})
		parentID = p.ParentID
	}
	return nil
}

// TaskProgress returns the effective progress of a task.
func (e *Engine) TaskProgress(id string) (int, error) {
	task, err := loadTask(e.db, id)
	if err != nil {
		return 0, timeline.WithOp("task_progress", err)
	}
	p, err := hierarchy.Progress(task, e.children)
	return p, timeline.WithOp("task_progress", err)
}

func (e *Engine) children(parentID string) ([]timeline.Task, error) {
	var rows []dbmodel.Task
	if err := e.db.Where("parent_id = ?", parentID).Order("sibling_order ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load children of %s: %w", parentID, err)
	}
	out := make([]timeline.Task, 0, len(rows))
	for _, r := range rows {
		out = append(out, taskOf(r, dbmodel.TimeRollup{}))
	}
	return out, nil
}

// Tree is a lazily fetched subtree. Iterating All again re-reads the store.
type Tree struct {
	db       *gorm.DB
	rootID   string
	maxDepth int
	err      error
}

// GetSubtaskTree walks the subtree under rootID breadth first. A negative
// maxDepth walks the whole subtree; 0 yields the root only.
func (e *Engine) GetSubtaskTree(rootID string, maxDepth int) *Tree {
	return &Tree{db: e.db, rootID: rootID, maxDepth: maxDepth}
}

// Err reports the error that stopped the last iteration, if any.
func (tr *Tree) Err() error { return tr.err }

// All yields each task with its depth relative to the root, ordered by
// (depth, sibling_order). Ties go to the parent's position in the previous
// level, then to id.
func (tr *Tree) All() iter.Seq2[timeline.Task, int] {
	return func(yield func(timeline.Task, int) bool) {
		tr.err = nil
		root, err := loadTask(tr.db, tr.rootID)
		if err != nil {
			tr.err = timeline.WithOp("get_subtask_tree", err)
			return
		}
		if !yield(root, 0) {
			return
		}
		rank := map[string]int{root.ID: 0}
		for level := 1; tr.maxDepth < 0 || level <= tr.maxDepth; level++ {
			tasks, err := tr.level(level)
			if err != nil {
				tr.err = timeline.WithOp("get_subtask_tree", err)
				return
			}
			if len(tasks) == 0 {
				return
			}
			slices.SortFunc(tasks, func(a, b timeline.Task) int {
				if d := a.SiblingOrder - b.SiblingOrder; d != 0 {
					return d
				}
				if d := rank[a.ParentID] - rank[b.ParentID]; d != 0 {
					return d
				}
				if a.ID < b.ID {
					return -1
				}
				if a.ID > b.ID {
					return 1
				}
				return 0
			})
			next := make(map[string]int, len(tasks))
			for i, task := range tasks {
				next[task.ID] = i
				if !yield(task, level) {
					return
				}
			}
			rank = next
		}
	}
}

func (tr *Tree) level(distance int) ([]timeline.Task, error) {
	var rows []dbmodel.Task
	err := tr.db.Where("id IN (?)", tr.db.Model(&dbmodel.TaskClosure{}).
		Select("descendant_id").Where("ancestor_id = ? AND distance = ?", tr.rootID, distance)).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load level %d under %s: %w", distance, tr.rootID, err)
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	rollups := map[string]dbmodel.TimeRollup{}
	if len(ids) > 0 {
		var rs []dbmodel.TimeRollup
		if err := tr.db.Where("item_id IN ?", ids).Find(&rs).Error; err != nil {
			return nil, err
		}
		for _, r := range rs {
			rollups[r.ItemID] = r
		}
	}
	out := make([]timeline.Task, 0, len(rows))
	for _, r := range rows {
		out = append(out, taskOf(r, rollups[r.ID]))
	}
	return out, nil
}
