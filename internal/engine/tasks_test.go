package engine

import (
	"slices"
	"testing"
	"time"

	dbmodel "timeline/core/internal/db"
	"timeline/core/internal/timeline"
)

func TestCreateSubtype_TaskHierarchy(t *testing.T) {
	e := newTestEnv(t).engine
	root := mustCreate(t, e, alice, newTask("root", ""))
	child := mustCreate(t, e, alice, newTask("child", root))
	grand := mustCreate(t, e, alice, newTask("grand", child))
	second := mustCreate(t, e, alice, newTask("second", root))

	g := mustTask(t, e, grand)
	if !slices.Equal(g.Path, []string{root, child, grand}) || g.Depth != 2 {
		t.Fatalf("unexpected grandchild placement: path=%v depth=%d", g.Path, g.Depth)
	}
	if s := mustTask(t, e, second); s.SiblingOrder != 1 {
		t.Fatalf("expected second child appended at 1, got %d", s.SiblingOrder)
	}
	r := mustTask(t, e, root)
	if r.SubtaskCount != 2 || r.CompletedSubtaskCount != 0 {
		t.Fatalf("unexpected root counters: %d/%d", r.SubtaskCount, r.CompletedSubtaskCount)
	}

	var pairs int64
	e.DB().Model(&dbmodel.TaskClosure{}).Where("ancestor_id = ?", root).Count(&pairs)
	if pairs != 4 {
		t.Fatalf("expected 4 closure pairs under root, got %d", pairs)
	}
}

func TestCreateSubtype_DepthLimit(t *testing.T) {
	e := newTestEnv(t).engine
	parent := ""
	var chain []string
	for i := 0; i < timeline.MaxTreeLevels; i++ {
		parent = mustCreate(t, e, alice, newTask("level", parent))
		chain = append(chain, parent)
	}
	if last := mustTask(t, e, parent); last.Depth != timeline.MaxTreeLevels-1 {
		t.Fatalf("expected deepest depth %d, got %d", timeline.MaxTreeLevels-1, last.Depth)
	}
	_, err := e.CreateSubtype(alice, newTask("too deep", parent))
	expectCode(t, err, timeline.ErrDepthExceeded)

	// A two-level subtree fits under depth 7 but not under depth 8.
	sub := mustCreate(t, e, alice, newTask("sub", ""))
	mustCreate(t, e, alice, newTask("sub child", sub))
	expectCode(t, e.ReparentTask(alice, sub, chain[8]), timeline.ErrDepthExceeded)
	if err := e.ReparentTask(alice, sub, chain[7]); err != nil {
		t.Fatalf("expected subtree to fit under depth 7: %v", err)
	}
}

func TestReparentTask_GrandchildCycleRejected(t *testing.T) {
	env := newTestEnv(t)
	e := env.engine
	a := mustCreate(t, e, alice, newTask("A", ""))
	b := mustCreate(t, e, alice, newTask("B", a))
	c := mustCreate(t, e, alice, newTask("C", b))

	expectCode(t, e.ReparentTask(alice, a, c), timeline.ErrCycleDetected)
	expectCode(t, e.ReparentTask(alice, a, a), timeline.ErrCycleDetected)

	parentID := c
	err := e.UpdateSubtype(alice, a, timeline.KindTask, timeline.TaskPatch{ParentID: &parentID})
	expectCode(t, err, timeline.ErrCycleDetected)

	if got := mustTask(t, e, c).Path; !slices.Equal(got, []string{a, b, c}) {
		t.Fatalf("rejected reparent changed paths: %v", got)
	}
	if got := mustTask(t, e, a); got.ParentID != "" || got.Depth != 0 {
		t.Fatalf("rejected reparent moved A: %+v", got)
	}
}

func TestReparentTask_DetachReattachRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	e := env.engine
	p := mustCreate(t, e, alice, newTask("P", ""))
	x := mustCreate(t, e, alice, newTask("X", p))
	y := mustCreate(t, e, alice, newTask("Y", p))
	z := mustCreate(t, e, alice, newTask("Z", p))
	x1 := mustCreate(t, e, alice, newTask("X1", x))

	if err := e.ReparentTask(alice, x, ""); err != nil {
		t.Fatalf("detach: %v", err)
	}
	if got := mustTask(t, e, x1); !slices.Equal(got.Path, []string{x, x1}) || got.Depth != 1 {
		t.Fatalf("descendant not rebased: %+v", got)
	}
	if got := mustTask(t, e, y).SiblingOrder; got != 0 {
		t.Fatalf("expected siblings compacted, Y at %d", got)
	}
	if got := mustTask(t, e, p).SubtaskCount; got != 2 {
		t.Fatalf("expected P to have 2 children, got %d", got)
	}
	if got := mustTask(t, e, x).SiblingOrder; got != 1 {
		t.Fatalf("expected X appended after root P, got %d", got)
	}

	if err := e.ReparentTask(alice, x, p, WithPosition(0)); err != nil {
		t.Fatalf("reattach: %v", err)
	}
	for id, want := range map[string]struct {
		path  []string
		order int
	}{
		x:  {[]string{p, x}, 0},
		y:  {[]string{p, y}, 1},
		z:  {[]string{p, z}, 2},
		x1: {[]string{p, x, x1}, 0},
	} {
		got := mustTask(t, e, id)
		if !slices.Equal(got.Path, want.path) || got.Depth != len(want.path)-1 || got.SiblingOrder != want.order {
			t.Fatalf("task %s not restored: path=%v depth=%d order=%d", got.Title, got.Path, got.Depth, got.SiblingOrder)
		}
	}
	if got := mustTask(t, e, p).SubtaskCount; got != 3 {
		t.Fatalf("expected P to have 3 children again, got %d", got)
	}

	var rows []dbmodel.TaskClosure
	e.DB().Where("descendant_id = ?", x1).Order("distance ASC").Find(&rows)
	if len(rows) != 3 || rows[2].AncestorID != p || rows[2].Distance != 2 {
		t.Fatalf("unexpected closure for X1: %+v", rows)
	}
	view, err := e.GetSupertypeView(x)
	if err != nil {
		t.Fatal(err)
	}
	if view.Metadata["parent_id"] != p {
		t.Fatalf("projection not resynced after move: %+v", view.Metadata)
	}
}

func TestUpdateSubtype_StatusAndParentChangeTogether(t *testing.T) {
	e := newTestEnv(t).engine
	oldParent := mustCreate(t, e, alice, newTask("old", ""))
	newParent := mustCreate(t, e, alice, newTask("new", ""))
	child := mustCreate(t, e, alice, newTask("child", oldParent))

	status := timeline.TaskCompleted
	err := e.UpdateSubtype(alice, child, timeline.KindTask, timeline.TaskPatch{Status: &status, ParentID: &newParent})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := mustTask(t, e, oldParent); got.SubtaskCount != 0 || got.CompletedSubtaskCount != 0 {
		t.Fatalf("old parent counters: %d/%d", got.SubtaskCount, got.CompletedSubtaskCount)
	}
	if got := mustTask(t, e, newParent); got.SubtaskCount != 1 || got.CompletedSubtaskCount != 1 {
		t.Fatalf("new parent counters: %d/%d", got.SubtaskCount, got.CompletedSubtaskCount)
	}
	if got := mustTask(t, e, child); got.CompletedAt == nil || got.ParentID != newParent {
		t.Fatalf("unexpected child: %+v", got)
	}
}

func TestAutoComplete_CascadesUpward(t *testing.T) {
	env := newTestEnv(t)
	e := env.engine
	g := mustCreate(t, e, alice, &timeline.Task{Base: timeline.Base{Title: "G"}, CompletionBehavior: timeline.CompletionAuto})
	p := mustCreate(t, e, alice, &timeline.Task{Base: timeline.Base{Title: "P"}, ParentID: g, CompletionBehavior: timeline.CompletionAuto})
	c1 := mustCreate(t, e, alice, newTask("C1", p))
	c2 := mustCreate(t, e, alice, newTask("C2", p))

	done := timeline.TaskCompleted
	if err := e.UpdateSubtype(alice, c1, timeline.KindTask, timeline.TaskPatch{Status: &done}); err != nil {
		t.Fatal(err)
	}
	if got := mustTask(t, e, p); got.Status == timeline.TaskCompleted || got.CompletedSubtaskCount != 1 {
		t.Fatalf("P completed too early: %+v", got)
	}
	if err := e.UpdateSubtype(alice, c2, timeline.KindTask, timeline.TaskPatch{Status: &done}); err != nil {
		t.Fatal(err)
	}

	pt := mustTask(t, e, p)
	if pt.Status != timeline.TaskCompleted || pt.ProgressPercent != 100 || pt.CompletedAt == nil {
		t.Fatalf("expected P auto-completed: %+v", pt)
	}
	gt := mustTask(t, e, g)
	if gt.Status != timeline.TaskCompleted || gt.CompletedSubtaskCount != 1 {
		t.Fatalf("expected G auto-completed: %+v", gt)
	}
	view, err := e.GetSupertypeView(g)
	if err != nil {
		t.Fatal(err)
	}
	if view.Status != timeline.ItemCompleted {
		t.Fatalf("projection of G not resynced: %s", view.Status)
	}

	n := 0
	for _, topic := range env.events.topics() {
		if topic == TopicTaskAutoCompleted {
			n++
		}
	}
	if n != 2 {
		t.Fatalf("expected 2 auto-complete events, got %d", n)
	}
}

func TestAutoComplete_ManualParentAndReopen(t *testing.T) {
	e := newTestEnv(t).engine
	manual := mustCreate(t, e, alice, newTask("manual", ""))
	child := mustCreate(t, e, alice, newTask("child", manual))
	done := timeline.TaskCompleted
	if err := e.UpdateSubtype(alice, child, timeline.KindTask, timeline.TaskPatch{Status: &done}); err != nil {
		t.Fatal(err)
	}
	if got := mustTask(t, e, manual); got.Status != timeline.TaskPending || got.CompletedSubtaskCount != 1 {
		t.Fatalf("manual parent must not auto-complete: %+v", got)
	}

	reopen := timeline.TaskInProgress
	if err := e.UpdateSubtype(alice, child, timeline.KindTask, timeline.TaskPatch{Status: &reopen}); err != nil {
		t.Fatal(err)
	}
	if got := mustTask(t, e, manual).CompletedSubtaskCount; got != 0 {
		t.Fatalf("expected completed count back to 0, got %d", got)
	}
	if got := mustTask(t, e, child).CompletedAt; got != nil {
		t.Fatalf("expected completed_at cleared, got %v", got)
	}
}

func TestAutoComplete_ChildCreatedCompleted(t *testing.T) {
	e := newTestEnv(t).engine
	p := mustCreate(t, e, alice, &timeline.Task{Base: timeline.Base{Title: "P"}, CompletionBehavior: timeline.CompletionAuto})
	mustCreate(t, e, alice, &timeline.Task{Base: timeline.Base{Title: "done"}, ParentID: p, Status: timeline.TaskCompleted})
	if got := mustTask(t, e, p); got.Status != timeline.TaskCompleted {
		t.Fatalf("expected P completed, got %s", got.Status)
	}
}

func TestDeleteSubtype_TaskRemovesSubtree(t *testing.T) {
	env := newTestEnv(t)
	e := env.engine
	p := mustCreate(t, e, alice, newTask("P", ""))
	c := mustCreate(t, e, alice, newTask("C", p))
	sibling := mustCreate(t, e, alice, newTask("S", p))
	d := mustCreate(t, e, alice, newTask("D", c))
	start := env.clock.Now()
	if _, err := e.AddInterval(alice, d, start, start.Add(20*time.Minute), ""); err != nil {
		t.Fatal(err)
	}

	if err := e.DeleteSubtype(alice, c, timeline.KindTask); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, err := e.GetTask(d)
	expectCode(t, err, timeline.ErrNotFound)
	if got := mustTask(t, e, p); got.SubtaskCount != 1 {
		t.Fatalf("expected P to keep 1 child, got %d", got.SubtaskCount)
	}
	if got := mustTask(t, e, sibling).SiblingOrder; got != 0 {
		t.Fatalf("expected sibling compacted to 0, got %d", got)
	}
	var n int64
	e.DB().Model(&dbmodel.TaskClosure{}).Where("descendant_id IN ?", []string{c, d}).Count(&n)
	if n != 0 {
		t.Fatalf("expected closure rows removed, got %d", n)
	}
	e.DB().Model(&dbmodel.TimelineItem{}).Where("id IN ?", []string{c, d}).Count(&n)
	if n != 0 {
		t.Fatalf("expected projections removed, got %d", n)
	}
}

func TestGetSubtaskTree_LevelOrderAndRestart(t *testing.T) {
	e := newTestEnv(t).engine
	p := mustCreate(t, e, alice, newTask("P", ""))
	a := mustCreate(t, e, alice, newTask("A", p))
	b := mustCreate(t, e, alice, newTask("B", p))
	mustCreate(t, e, alice, newTask("B1", b))
	mustCreate(t, e, alice, newTask("A1", a))
	if err := e.ReparentTask(alice, b, p, WithPosition(0)); err != nil {
		t.Fatal(err)
	}

	tree := e.GetSubtaskTree(p, -1)
	collect := func() []string {
		var out []string
		for task, depth := range tree.All() {
			out = append(out, task.Title+"@"+string(rune('0'+depth)))
		}
		if err := tree.Err(); err != nil {
			t.Fatalf("tree: %v", err)
		}
		return out
	}
	want := []string{"P@0", "B@1", "A@1", "B1@2", "A1@2"}
	if got := collect(); !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if got := collect(); !slices.Equal(got, want) {
		t.Fatalf("second pass: expected %v, got %v", want, got)
	}

	var shallow []string
	for task := range e.GetSubtaskTree(p, 1).All() {
		shallow = append(shallow, task.Title)
	}
	if !slices.Equal(shallow, []string{"P", "B", "A"}) {
		t.Fatalf("unexpected shallow tree: %v", shallow)
	}

	missing := e.GetSubtaskTree("nope", -1)
	for range missing.All() {
		t.Fatal("expected no tasks for a missing root")
	}
	expectCode(t, missing.Err(), timeline.ErrNotFound)
}

func TestGetSubtaskTree_OrdersLevelBySiblingOrder(t *testing.T) {
	e := newTestEnv(t).engine
	root := mustCreate(t, e, alice, newTask("root", ""))
	p1 := mustCreate(t, e, alice, newTask("p1", root))
	p2 := mustCreate(t, e, alice, newTask("p2", root))
	mustCreate(t, e, alice, newTask("p1c0", p1))
	mustCreate(t, e, alice, newTask("p1c1", p1))
	mustCreate(t, e, alice, newTask("p2c0", p2))

	var got []string
	tree := e.GetSubtaskTree(root, -1)
	for task, depth := range tree.All() {
		got = append(got, task.Title+"@"+string(rune('0'+depth)))
	}
	if err := tree.Err(); err != nil {
		t.Fatalf("tree: %v", err)
	}
	want := []string{"root@0", "p1@1", "p2@1", "p1c0@2", "p2c0@2", "p1c1@2"}
	if !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestTaskProgress_Rollups(t *testing.T) {
	e := newTestEnv(t).engine
	avg := mustCreate(t, e, alice, &timeline.Task{Base: timeline.Base{Title: "avg"}, ProgressCalculation: timeline.ProgressAverage, ProgressPercent: 5})
	mustCreate(t, e, alice, &timeline.Task{Base: timeline.Base{Title: "a"}, ParentID: avg, ProgressPercent: 20})
	mustCreate(t, e, alice, &timeline.Task{Base: timeline.Base{Title: "b"}, ParentID: avg, ProgressPercent: 60})

	got, err := e.TaskProgress(avg)
	if err != nil {
		t.Fatal(err)
	}
	if got != 40 {
		t.Fatalf("expected average 40, got %d", got)
	}

	weighted := mustCreate(t, e, alice, &timeline.Task{Base: timeline.Base{Title: "w"}, ProgressCalculation: timeline.ProgressWeighted})
	mustCreate(t, e, alice, &timeline.Task{Base: timeline.Base{Title: "short"}, ParentID: weighted, ProgressPercent: 100, EstimatedMinutes: 30})
	mustCreate(t, e, alice, &timeline.Task{Base: timeline.Base{Title: "long"}, ParentID: weighted, EstimatedMinutes: 90})
	got, err = e.TaskProgress(weighted)
	if err != nil {
		t.Fatal(err)
	}
	if got != 25 {
		t.Fatalf("expected weighted 25, got %d", got)
	}

	leaf := mustCreate(t, e, alice, &timeline.Task{Base: timeline.Base{Title: "leaf"}, ProgressCalculation: timeline.ProgressAverage, ProgressPercent: 70})
	if got, _ := e.TaskProgress(leaf); got != 70 {
		t.Fatalf("expected leaf to report stored progress, got %d", got)
	}
}
