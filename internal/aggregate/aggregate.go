// Package aggregate computes the deltas applied to cached rollups. Every
// mutation of a detail row maps to exactly one delta per affected owner; the
// engine applies them as col = col + delta so counters never get recomputed
// on the hot path.
package aggregate

import "timeline/core/internal/timeline"

// TimeDelta changes an item's tracked-time rollup.
type TimeDelta struct {
	Minutes  int64
	Segments int
}

func (d TimeDelta) IsZero() bool { return d.Minutes == 0 && d.Segments == 0 }

func (d TimeDelta) Neg() TimeDelta { return TimeDelta{Minutes: -d.Minutes, Segments: -d.Segments} }

func (d TimeDelta) Add(o TimeDelta) TimeDelta {
	return TimeDelta{Minutes: d.Minutes + o.Minutes, Segments: d.Segments + o.Segments}
}

// IntervalClosed is the delta for an interval gaining an end instant.
func IntervalClosed(minutes int64) TimeDelta {
	return TimeDelta{Minutes: minutes, Segments: 1}
}

// IntervalEdited is the signed difference for a closed interval whose
// duration changed. Running intervals contribute nothing.
func IntervalEdited(before, after timeline.TimeInterval) TimeDelta {
	return contribution(after).Add(contribution(before).Neg())
}

// IntervalReopened undoes a previous close.
func IntervalReopened(minutes int64) TimeDelta {
	return IntervalClosed(minutes).Neg()
}

// IntervalRemoved is the delta for deleting iv from its item.
func IntervalRemoved(iv timeline.TimeInterval) TimeDelta {
	return contribution(iv).Neg()
}

// IntervalMoved splits a cross-item reassignment into a removal from the old
// item and an addition to the new one.
func IntervalMoved(iv timeline.TimeInterval) (from, to TimeDelta) {
	c := contribution(iv)
	return c.Neg(), c
}

func contribution(iv timeline.TimeInterval) TimeDelta {
	if iv.Running() {
		return TimeDelta{}
	}
	return IntervalClosed(iv.DurationMinutes)
}

// Rollup is the cached tracked-time state of one item.
type Rollup struct {
	Minutes  int64
	Segments int
}

func (r Rollup) Apply(d TimeDelta) Rollup {
	return Rollup{Minutes: r.Minutes + d.Minutes, Segments: r.Segments + d.Segments}
}

// SubtaskDelta changes a parent's child counters.
type SubtaskDelta struct {
	Total     int
	Completed int
}

func (d SubtaskDelta) IsZero() bool { return d.Total == 0 && d.Completed == 0 }

func (d SubtaskDelta) Neg() SubtaskDelta {
	return SubtaskDelta{Total: -d.Total, Completed: -d.Completed}
}

func ChildAdded(status timeline.TaskStatus) SubtaskDelta {
	d := SubtaskDelta{Total: 1}
	if status == timeline.TaskCompleted {
		d.Completed = 1
	}
	return d
}

func ChildRemoved(status timeline.TaskStatus) SubtaskDelta {
	return ChildAdded(status).Neg()
}

// ChildStatusChanged only moves the completed counter.
func ChildStatusChanged(before, after timeline.TaskStatus) SubtaskDelta {
	was, is := before == timeline.TaskCompleted, after == timeline.TaskCompleted
	switch {
	case !was && is:
		return SubtaskDelta{Completed: 1}
	case was && !is:
		return SubtaskDelta{Completed: -1}
	}
	return SubtaskDelta{}
}

// Counts is a parent's cached child counters.
type Counts struct {
	Total     int
	Completed int
}

func (c Counts) Apply(d SubtaskDelta) Counts {
	return Counts{Total: c.Total + d.Total, Completed: c.Completed + d.Completed}
}

// AllDone reports whether every child is completed. A parent with no
// children is never considered done by this rule.
func (c Counts) AllDone() bool {
	return c.Total > 0 && c.Completed == c.Total
}

// AgentDelta changes an agent's delegation counters.
type AgentDelta struct {
	Delegations int
	Completed   int
}

func (d AgentDelta) IsZero() bool { return d.Delegations == 0 && d.Completed == 0 }

// Score is the activity score contribution of the delta.
func (d AgentDelta) Score() int { return Score(d.Delegations, d.Completed) }

// Score weighs completed delegations double.
func Score(delegations, completed int) int { return delegations + 2*completed }

func DelegationAdded(status timeline.DelegationStatus) AgentDelta {
	d := AgentDelta{Delegations: 1}
	if status == timeline.DelegationDone {
		d.Completed = 1
	}
	return d
}

func DelegationRemoved(status timeline.DelegationStatus) AgentDelta {
	d := DelegationAdded(status)
	return AgentDelta{Delegations: -d.Delegations, Completed: -d.Completed}
}

func DelegationStatusChanged(before, after timeline.DelegationStatus) AgentDelta {
	was, is := before == timeline.DelegationDone, after == timeline.DelegationDone
	switch {
	case !was && is:
		return AgentDelta{Completed: 1}
	case was && !is:
		return AgentDelta{Completed: -1}
	}
	return AgentDelta{}
}
