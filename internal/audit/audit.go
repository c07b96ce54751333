// Package audit recomputes every cached aggregate and derived hierarchy
// column from the detail rows and reports where the stored value drifted.
// Repair rewrites the drifted values in one transaction.
package audit

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"timeline/core/internal/aggregate"
	dbmodel "timeline/core/internal/db"
	"timeline/core/internal/hierarchy"
	"timeline/core/internal/timeline"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	CheckRollup     = "time_rollup"
	CheckSubtasks   = "subtask_counts"
	CheckPath       = "task_path"
	CheckClosure    = "task_closure"
	CheckSiblings   = "sibling_order"
	CheckRunning    = "running_interval"
	CheckAgent      = "agent_counters"
	CheckProjection = "projection"
)

// Drift is one stored value that disagrees with its recomputation.
type Drift struct {
	Check  string `json:"check"`
	ID     string `json:"id"`
	Stored string `json:"stored"`
	Want   string `json:"want"`
}

func (d Drift) String() string {
	return fmt.Sprintf("%s %s: stored %s, want %s", d.Check, d.ID, d.Stored, d.Want)
}

type Auditor struct {
	db *gorm.DB
}

// New uses the shared DB. Caller must not close the db while auditing.
func New(db *gorm.DB) (*Auditor, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &Auditor{db: db}, nil
}

// Verify reports drift without changing anything.
func (a *Auditor) Verify() ([]Drift, error) {
	snap, err := loadSnapshot(a.db)
	if err != nil {
		return nil, err
	}
	return snap.plan().drifts, nil
}

// Repair rewrites every repairable drifted value and returns what it found.
// Running-interval conflicts and subtype rows without a projection are
// reported but left alone.
func (a *Auditor) Repair() ([]Drift, error) {
	var found []Drift
	err := a.db.Transaction(func(tx *gorm.DB) error {
		snap, err := loadSnapshot(tx)
		if err != nil {
			return err
		}
		p := snap.plan()
		found = p.drifts
		return p.apply(tx)
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

type snapshot struct {
	items       []dbmodel.TimelineItem
	subtypes    map[string]string
	tasks       []dbmodel.Task
	intervals   []dbmodel.TimeInterval
	rollups     []dbmodel.TimeRollup
	closure     []dbmodel.TaskClosure
	agents      []dbmodel.Agent
	delegations []dbmodel.Delegation
}

func loadSnapshot(db *gorm.DB) (*snapshot, error) {
	s := &snapshot{subtypes: map[string]string{}}
	for _, q := range []struct {
		name string
		dest any
	}{
		{"items", &s.items},
		{"tasks", &s.tasks},
		{"intervals", &s.intervals},
		{"rollups", &s.rollups},
		{"closure", &s.closure},
		{"agents", &s.agents},
		{"delegations", &s.delegations},
	} {
		if err := db.Find(q.dest).Error; err != nil {
			return nil, fmt.Errorf("load %s: %w", q.name, err)
		}
	}
	for kind, model := range map[timeline.Kind]any{
		timeline.KindTask:     &dbmodel.Task{},
		timeline.KindActivity: &dbmodel.Activity{},
		timeline.KindMemory:   &dbmodel.Memory{},
		timeline.KindRoutine:  &dbmodel.Routine{},
		timeline.KindHabit:    &dbmodel.Habit{},
	} {
		var ids []string
		if err := db.Model(model).Pluck("id", &ids).Error; err != nil {
			return nil, fmt.Errorf("load %s ids: %w", kind, err)
		}
		for _, id := range ids {
			s.subtypes[id] = string(kind)
		}
	}
	return s, nil
}

type taskFix struct {
	path        []string
	parentID    string
	order       int
	subtasks    aggregate.Counts
	pathChanged bool
	orderChange bool
	countChange bool
}

type plan struct {
	drifts     []Drift
	rollups    map[string]aggregate.Rollup
	orphanRoll []string
	tasks      map[string]*taskFix
	closure    []dbmodel.TaskClosure
	rebuild    bool
	agents     map[string]aggregate.Counts
	orphanItem []string
}

func (p *plan) drift(check, id string, stored, want any) {
	p.drifts = append(p.drifts, Drift{Check: check, ID: id, Stored: fmt.Sprint(stored), Want: fmt.Sprint(want)})
}

func (s *snapshot) plan() *plan {
	p := &plan{
		rollups: map[string]aggregate.Rollup{},
		tasks:   map[string]*taskFix{},
		agents:  map[string]aggregate.Counts{},
	}
	s.checkProjection(p)
	s.checkRollups(p)
	s.checkTasks(p)
	s.checkRunning(p)
	s.checkAgents(p)
	slices.SortStableFunc(p.drifts, func(a, b Drift) int {
		return strings.Compare(a.Check, b.Check)
	})
	return p
}

func (s *snapshot) checkProjection(p *plan) {
	seen := map[string]bool{}
	for _, it := range s.items {
		seen[it.ID] = true
		kind, ok := s.subtypes[it.ID]
		switch {
		case !ok:
			p.drift(CheckProjection, it.ID, it.Kind, "no subtype row")
			p.orphanItem = append(p.orphanItem, it.ID)
		case kind != it.Kind:
			p.drift(CheckProjection, it.ID, it.Kind, kind)
		}
	}
	for id, kind := range s.subtypes {
		if !seen[id] {
			p.drift(CheckProjection, id, "no projection", kind)
		}
	}
}

func (s *snapshot) checkRollups(p *plan) {
	want := map[string]aggregate.Rollup{}
	for _, iv := range s.intervals {
		if iv.EndAt == nil {
			continue
		}
		want[iv.ItemID] = want[iv.ItemID].Apply(aggregate.IntervalClosed(iv.DurationMinutes))
	}
	stored := map[string]aggregate.Rollup{}
	for _, r := range s.rollups {
		stored[r.ItemID] = aggregate.Rollup{Minutes: r.MinutesTotal, Segments: r.SegmentsCount}
	}
	bearing := map[string]bool{}
	for _, it := range s.items {
		if _, ok := s.subtypes[it.ID]; !ok || !timeline.Kind(it.Kind).TimeBearing() {
			continue
		}
		bearing[it.ID] = true
		_, hasRow := stored[it.ID]
		if w, got := want[it.ID], stored[it.ID]; w != got || !hasRow {
			p.drift(CheckRollup, it.ID, rollupString(got, hasRow), rollupString(w, true))
			p.rollups[it.ID] = w
		}
	}
	for _, r := range s.rollups {
		if !bearing[r.ItemID] {
			p.drift(CheckRollup, r.ItemID, rollupString(stored[r.ItemID], true), "no rollup")
			p.orphanRoll = append(p.orphanRoll, r.ItemID)
		}
	}
}

func rollupString(r aggregate.Rollup, ok bool) string {
	if !ok {
		return "missing"
	}
	return strconv.FormatInt(r.Minutes, 10) + "m/" + strconv.Itoa(r.Segments)
}

func (s *snapshot) checkTasks(p *plan) {
	byID := make(map[string]dbmodel.Task, len(s.tasks))
	for _, t := range s.tasks {
		byID[t.ID] = t
	}

	// Paths follow parent_id. A dangling or looping parent makes the task a
	// root.
	paths := map[string][]string{}
	parents := map[string]string{}
	var resolve func(id string, seen map[string]bool) []string
	resolve = func(id string, seen map[string]bool) []string {
		if path, ok := paths[id]; ok {
			return path
		}
		t := byID[id]
		parent := t.ParentID
		if parent != "" {
			if _, ok := byID[parent]; !ok || seen[parent] || byID[parent].OwnerID != t.OwnerID {
				parent = ""
			}
		}
		var path []string
		if parent == "" {
			path = hierarchy.PathFor(nil, id)
		} else {
			seen[id] = true
			path = hierarchy.PathFor(resolve(parent, seen), id)
			if len(path) > timeline.MaxTreeLevels {
				parent, path = "", hierarchy.PathFor(nil, id)
			}
		}
		paths[id], parents[id] = path, parent
		return path
	}

	counts := map[string]aggregate.Counts{}
	for _, t := range s.tasks {
		resolve(t.ID, map[string]bool{})
	}
	for _, t := range s.tasks {
		if parent := parents[t.ID]; parent != "" {
			counts[parent] = counts[parent].Apply(aggregate.ChildAdded(timeline.TaskStatus(t.Status)))
		}
	}

	groups := map[string][]dbmodel.Task{}
	for _, t := range s.tasks {
		key := parents[t.ID]
		if key == "" {
			key = "root:" + t.OwnerID
		}
		groups[key] = append(groups[key], t)
	}
	order := map[string]int{}
	for _, g := range groups {
		slices.SortFunc(g, func(a, b dbmodel.Task) int {
			if a.SiblingOrder != b.SiblingOrder {
				return a.SiblingOrder - b.SiblingOrder
			}
			return strings.Compare(a.ID, b.ID)
		})
		for i, t := range g {
			order[t.ID] = i
		}
	}

	for _, t := range s.tasks {
		fix := &taskFix{path: paths[t.ID], parentID: parents[t.ID], order: order[t.ID], subtasks: counts[t.ID]}
		if !slices.Equal([]string(t.Path), fix.path) || t.ParentID != fix.parentID || t.Depth != hierarchy.DepthOf(fix.path) {
			p.drift(CheckPath, t.ID, strings.Join(t.Path, "/"), strings.Join(fix.path, "/"))
			fix.pathChanged = true
		}
		if t.SiblingOrder != fix.order {
			p.drift(CheckSiblings, t.ID, t.SiblingOrder, fix.order)
			fix.orderChange = true
		}
		stored := aggregate.Counts{Total: t.SubtaskCount, Completed: t.CompletedSubtaskCount}
		if stored != fix.subtasks {
			p.drift(CheckSubtasks, t.ID, countString(stored), countString(fix.subtasks))
			fix.countChange = true
		}
		if fix.pathChanged || fix.orderChange || fix.countChange {
			p.tasks[t.ID] = fix
		}
	}

	want := map[[2]string]int{}
	for _, t := range s.tasks {
		for _, pair := range hierarchy.ClosureFor(paths[t.ID]) {
			want[[2]string{pair.Ancestor, pair.Descendant}] = pair.Distance
			p.closure = append(p.closure, dbmodel.TaskClosure{AncestorID: pair.Ancestor, DescendantID: pair.Descendant, Distance: pair.Distance})
		}
	}
	got := map[[2]string]int{}
	for _, c := range s.closure {
		got[[2]string{c.AncestorID, c.DescendantID}] = c.Distance
	}
	for k, d := range want {
		if g, ok := got[k]; !ok || g != d {
			p.drift(CheckClosure, k[0]+">"+k[1], closureString(g, ok), d)
			p.rebuild = true
		}
	}
	for k, g := range got {
		if _, ok := want[k]; !ok {
			p.drift(CheckClosure, k[0]+">"+k[1], g, "no pair")
			p.rebuild = true
		}
	}
}

func countString(c aggregate.Counts) string {
	return strconv.Itoa(c.Completed) + "/" + strconv.Itoa(c.Total)
}

func closureString(d int, ok bool) string {
	if !ok {
		return "missing"
	}
	return strconv.Itoa(d)
}

func (s *snapshot) checkRunning(p *plan) {
	running := map[string]int{}
	for _, iv := range s.intervals {
		if iv.EndAt == nil {
			running[iv.UserID]++
		}
	}
	for user, n := range running {
		if n > 1 {
			p.drift(CheckRunning, user, n, 1)
		}
	}
}

func (s *snapshot) checkAgents(p *plan) {
	want := map[string]aggregate.Counts{}
	for _, d := range s.delegations {
		delta := aggregate.DelegationAdded(timeline.DelegationStatus(d.Status))
		c := want[d.AgentID]
		want[d.AgentID] = aggregate.Counts{Total: c.Total + delta.Delegations, Completed: c.Completed + delta.Completed}
	}
	for _, a := range s.agents {
		w := want[a.ID]
		score := aggregate.Score(w.Total, w.Completed)
		if a.DelegationCount != w.Total || a.CompletedDelegationCount != w.Completed || a.ActivityScore != score {
			p.drift(CheckAgent, a.ID,
				fmt.Sprintf("%d/%d score %d", a.CompletedDelegationCount, a.DelegationCount, a.ActivityScore),
				fmt.Sprintf("%d/%d score %d", w.Completed, w.Total, score))
			p.agents[a.ID] = w
		}
	}
}

func (p *plan) apply(tx *gorm.DB) error {
	for id, r := range p.rollups {
		row := dbmodel.TimeRollup{ItemID: id, MinutesTotal: r.Minutes, SegmentsCount: r.Segments}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "item_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"minutes_total", "segments_count"}),
		}).Create(&row).Error
		if err != nil {
			return fmt.Errorf("repair rollup %s: %w", id, err)
		}
	}
	if len(p.orphanRoll) > 0 {
		if err := tx.Where("item_id IN ?", p.orphanRoll).Delete(&dbmodel.TimeRollup{}).Error; err != nil {
			return fmt.Errorf("drop orphan rollups: %w", err)
		}
	}
	if len(p.orphanItem) > 0 {
		if err := tx.Where("id IN ?", p.orphanItem).Delete(&dbmodel.TimelineItem{}).Error; err != nil {
			return fmt.Errorf("drop orphan projections: %w", err)
		}
	}
	for id, fix := range p.tasks {
		err := tx.Model(&dbmodel.Task{}).Where("id = ?", id).Updates(map[string]any{
			"parent_id":               fix.parentID,
			"path":                    datatypes.JSONSlice[string](fix.path),
			"depth":                   hierarchy.DepthOf(fix.path),
			"sibling_order":           fix.order,
			"subtask_count":           fix.subtasks.Total,
			"completed_subtask_count": fix.subtasks.Completed,
		}).Error
		if err != nil {
			return fmt.Errorf("repair task %s: %w", id, err)
		}
	}
	if p.rebuild {
		if err := tx.Where("1 = 1").Delete(&dbmodel.TaskClosure{}).Error; err != nil {
			return fmt.Errorf("clear closure: %w", err)
		}
		if len(p.closure) > 0 {
			if err := tx.CreateInBatches(&p.closure, 200).Error; err != nil {
				return fmt.Errorf("rebuild closure: %w", err)
			}
		}
	}
	for id, c := range p.agents {
		err := tx.Model(&dbmodel.Agent{}).Where("id = ?", id).Updates(map[string]any{
			"delegation_count":           c.Total,
			"completed_delegation_count": c.Completed,
			"activity_score":             aggregate.Score(c.Total, c.Completed),
		}).Error
		if err != nil {
			return fmt.Errorf("repair agent %s: %w", id, err)
		}
	}
	return nil
}
