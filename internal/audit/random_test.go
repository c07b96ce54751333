package audit

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	dbmodel "timeline/core/internal/db"
	"timeline/core/internal/engine"
	"timeline/core/internal/timeline"

	"gorm.io/gorm"
)

// mutationMix drives the engine with a seeded sequence of mutations. Rejected
// mutations are expected; any error without a timeline code fails the test.
type mutationMix struct {
	t     *testing.T
	e     *engine.Engine
	db    *gorm.DB
	rng   *rand.Rand
	agent string
	base  time.Time
	trail []string
}

func (m *mutationMix) ids(model any, where ...any) []string {
	m.t.Helper()
	var out []string
	q := m.db.Model(model)
	if len(where) > 0 {
		q = q.Where(where[0], where[1:]...)
	}
	if err := q.Order("id").Pluck("id", &out).Error; err != nil {
		m.t.Fatalf("list ids: %v", err)
	}
	return out
}

func (m *mutationMix) pick(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	return ids[m.rng.IntN(len(ids))]
}

func (m *mutationMix) at(minutes int) time.Time {
	return m.base.Add(time.Duration(minutes) * time.Minute)
}

var taskStatuses = []timeline.TaskStatus{
	timeline.TaskPending, timeline.TaskInProgress, timeline.TaskCompleted, timeline.TaskCancelled, timeline.TaskOnHold,
}

func (m *mutationMix) step(i int) {
	m.t.Helper()
	tasks := m.ids(&dbmodel.Task{})
	items := append(tasks, m.ids(&dbmodel.Activity{})...)
	intervals := m.ids(&dbmodel.TimeInterval{})
	var (
		op  string
		err error
	)
	switch m.rng.IntN(13) {
	case 0, 1:
		op = "create task"
		behavior := timeline.CompletionManual
		if m.rng.IntN(2) == 0 {
			behavior = timeline.CompletionAuto
		}
		parent := ""
		if m.rng.IntN(3) > 0 {
			parent = m.pick(tasks)
		}
		_, err = m.e.CreateSubtype("u1", &timeline.Task{
			Base:               timeline.Base{Title: fmt.Sprintf("t%d", i)},
			ParentID:           parent,
			Status:             taskStatuses[m.rng.IntN(len(taskStatuses))],
			CompletionBehavior: behavior,
		})
	case 2:
		op = "create activity"
		_, err = m.e.CreateSubtype("u1", &timeline.Activity{Base: timeline.Base{Title: fmt.Sprintf("a%d", i)}, Status: timeline.ActivityOngoing})
	case 3:
		op = "set status"
		st := taskStatuses[m.rng.IntN(len(taskStatuses))]
		err = m.e.UpdateSubtype("u1", m.pick(tasks), timeline.KindTask, timeline.TaskPatch{Status: &st})
	case 4:
		op = "reparent"
		parent := ""
		if m.rng.IntN(4) > 0 {
			parent = m.pick(tasks)
		}
		err = m.e.ReparentTask("u1", m.pick(tasks), parent, engine.WithPosition(m.rng.IntN(3)))
	case 5:
		op = "delete task"
		if m.rng.IntN(3) == 0 {
			err = m.e.DeleteSubtype("u1", m.pick(tasks), timeline.KindTask)
		}
	case 6:
		op = "add interval"
		start := m.rng.IntN(600)
		_, err = m.e.AddInterval("u1", m.pick(items), m.at(start), m.at(start+m.rng.IntN(90)), "")
	case 7:
		op = "open/close interval"
		running, ok, rerr := m.e.RunningInterval("u1")
		if rerr != nil {
			m.t.Fatalf("running interval: %v", rerr)
		}
		if ok {
			_, err = m.e.CloseInterval("u1", running.ID, running.StartAt.Add(time.Duration(m.rng.IntN(120))*time.Minute))
		} else {
			_, err = m.e.OpenInterval("u1", m.pick(items), "")
		}
	case 8:
		op = "edit interval"
		start, end := m.at(m.rng.IntN(600)), m.at(m.rng.IntN(700))
		edit := engine.IntervalEdit{StartAt: &start}
		if m.rng.IntN(2) == 0 {
			edit.EndAt = &end
		}
		err = m.e.EditInterval("u1", m.pick(intervals), edit)
	case 9:
		op = "reassign interval"
		err = m.e.ReassignInterval("u1", m.pick(intervals), m.pick(items))
	case 10:
		op = "reopen/delete interval"
		if m.rng.IntN(2) == 0 {
			err = m.e.ReopenInterval("u1", m.pick(intervals))
		} else {
			err = m.e.DeleteInterval("u1", m.pick(intervals))
		}
	case 11:
		op = "delegate"
		_, err = m.e.Delegate("u1", m.agent, m.pick(tasks))
	case 12:
		op = "delegation status"
		delegations := m.ids(&dbmodel.Delegation{})
		if m.rng.IntN(4) == 0 {
			err = m.e.DeleteDelegation("u1", m.pick(delegations))
		} else {
			st := []timeline.DelegationStatus{timeline.DelegationOpen, timeline.DelegationDone, timeline.DelegationFailed}[m.rng.IntN(3)]
			err = m.e.UpdateDelegation("u1", m.pick(delegations), st)
		}
	}
	m.trail = append(m.trail, fmt.Sprintf("%d %s: %v", i, op, err))
	if err != nil && timeline.CodeOf(err) == "" {
		m.t.Fatalf("step %d (%s) failed with an untyped error: %v\n%v", i, op, err, m.trail)
	}
}

func TestVerify_NoDriftAfterRandomMutations(t *testing.T) {
	seeds, steps := 30, 80
	if testing.Short() {
		seeds = 5
	}
	for seed := uint64(1); seed <= uint64(seeds); seed++ {
		t.Run(fmt.Sprintf("seed-%d", seed), func(t *testing.T) {
			e, gdb := openTestEngine(t)
			agent, err := e.CreateAgent("u1", "helper")
			if err != nil {
				t.Fatal(err)
			}
			m := &mutationMix{
				t:     t,
				e:     e,
				db:    gdb,
				rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
				agent: agent,
				base:  time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC),
			}
			for i := 0; i < steps; i++ {
				m.step(i)
			}

			a, err := New(gdb)
			if err != nil {
				t.Fatal(err)
			}
			drifts, err := a.Verify()
			if err != nil {
				t.Fatal(err)
			}
			if len(drifts) > 0 {
				t.Fatalf("expected no drift, got %v\nafter %v", drifts, m.trail)
			}
		})
	}
}
