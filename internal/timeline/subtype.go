package timeline

import (
	"maps"
	"slices"
	"time"
)

// Subtype is the closed sum of item kinds. Only the types in this package
// implement it.
type Subtype interface {
	Kind() Kind
	Common() *Base
	StatusValue() string
	clone() Subtype
}

// Base holds the fields every kind shares with its TimelineItem.
type Base struct {
	ID          string
	OwnerID     string
	Title       string
	Description string
	Priority    Priority
	CategoryID  string
	Tags        []string
	Metadata    map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Task struct {
	Base
	Status                TaskStatus
	DueAt                 *time.Time
	ProgressPercent       int
	ParentID              string
	Depth                 int
	Path                  []string
	SiblingOrder          int
	CompletionBehavior    CompletionBehavior
	ProgressCalculation   ProgressCalculation
	EstimatedMinutes      int
	Assignee              string
	SubtaskCount          int
	CompletedSubtaskCount int
	TrackedMinutesTotal   int64
	TrackedSegmentsCount  int
	CompletedAt           *time.Time
}

type Activity struct {
	Base
	Status   ActivityStatus
	StartAt  *time.Time
	EndAt    *time.Time
	Location string
}

type Memory struct {
	Base
	Status     MemoryStatus
	OccurredAt *time.Time
	Emotion    string
	Salience   int
	Valence    int
}

type Routine struct {
	Base
	Status           RoutineStatus
	Schedule         string
	EstimatedMinutes int
}

type Habit struct {
	Base
	Status        HabitStatus
	TargetPerWeek int
	Streak        int
}

func (t *Task) Kind() Kind          { return KindTask }
func (t *Task) Common() *Base       { return &t.Base }
func (t *Task) StatusValue() string { return string(t.Status) }
func (t *Task) clone() Subtype {
	cp := *t
	cp.Base = t.Base.clone()
	cp.Path = slices.Clone(t.Path)
	return &cp
}

func (a *Activity) Kind() Kind          { return KindActivity }
func (a *Activity) Common() *Base       { return &a.Base }
func (a *Activity) StatusValue() string { return string(a.Status) }
func (a *Activity) clone() Subtype {
	cp := *a
	cp.Base = a.Base.clone()
	return &cp
}

func (m *Memory) Kind() Kind          { return KindMemory }
func (m *Memory) Common() *Base       { return &m.Base }
func (m *Memory) StatusValue() string { return string(m.Status) }
func (m *Memory) clone() Subtype {
	cp := *m
	cp.Base = m.Base.clone()
	return &cp
}

func (r *Routine) Kind() Kind          { return KindRoutine }
func (r *Routine) Common() *Base       { return &r.Base }
func (r *Routine) StatusValue() string { return string(r.Status) }
func (r *Routine) clone() Subtype {
	cp := *r
	cp.Base = r.Base.clone()
	return &cp
}

func (h *Habit) Kind() Kind          { return KindHabit }
func (h *Habit) Common() *Base       { return &h.Base }
func (h *Habit) StatusValue() string { return string(h.Status) }
func (h *Habit) clone() Subtype {
	cp := *h
	cp.Base = h.Base.clone()
	return &cp
}

func (b Base) clone() Base {
	cp := b
	cp.Tags = slices.Clone(b.Tags)
	cp.Metadata = maps.Clone(b.Metadata)
	return cp
}

// Clone returns a deep copy so callers can mutate without aliasing.
func Clone(s Subtype) Subtype {
	if s == nil {
		return nil
	}
	return s.clone()
}

// ApplyDefaults fills zero values the storage layer expects.
func ApplyDefaults(s Subtype) {
	b := s.Common()
	if b.Priority == "" {
		b.Priority = PriorityMedium
	}
	switch v := s.(type) {
	case *Task:
		if v.Status == "" {
			v.Status = TaskPending
		}
		if v.CompletionBehavior == "" {
			v.CompletionBehavior = CompletionManual
		}
		if v.ProgressCalculation == "" {
			v.ProgressCalculation = ProgressManual
		}
	case *Activity:
		if v.Status == "" {
			v.Status = ActivityPlanned
		}
	case *Memory:
		if v.Status == "" {
			v.Status = MemoryActive
		}
	case *Routine:
		if v.Status == "" {
			v.Status = RoutineActive
		}
	case *Habit:
		if v.Status == "" {
			v.Status = HabitBuilding
		}
	}
}
