package timeline

import "time"

// Patch is a partial update for one kind. Nil pointer fields are left as is.
type Patch interface {
	Kind() Kind
	Apply(Subtype) bool
}

type BasePatch struct {
	Title       *string
	Description *string
	Priority    *Priority
	CategoryID  *string
	Tags        *[]string
	// Metadata keys are merged; a nil value deletes the key.
	Metadata map[string]any
}

func (p BasePatch) apply(b *Base) {
	if p.Title != nil {
		b.Title = *p.Title
	}
	if p.Description != nil {
		b.Description = *p.Description
	}
	if p.Priority != nil {
		b.Priority = *p.Priority
	}
	if p.CategoryID != nil {
		b.CategoryID = *p.CategoryID
	}
	if p.Tags != nil {
		b.Tags = append([]string(nil), (*p.Tags)...)
	}
	if len(p.Metadata) > 0 && b.Metadata == nil {
		b.Metadata = map[string]any{}
	}
	for k, v := range p.Metadata {
		if v == nil {
			delete(b.Metadata, k)
			continue
		}
		b.Metadata[k] = v
	}
}

type TaskPatch struct {
	BasePatch
	Status              *TaskStatus
	DueAt               **time.Time
	ProgressPercent     *int
	CompletionBehavior  *CompletionBehavior
	ProgressCalculation *ProgressCalculation
	EstimatedMinutes    *int
	Assignee            *string
	// ParentID moves the task; "" makes it a root. Handled by the hierarchy
	// step, not by Apply.
	ParentID *string
}

func (TaskPatch) Kind() Kind { return KindTask }

func (p TaskPatch) Apply(s Subtype) bool {
	t, ok := s.(*Task)
	if !ok {
		return false
	}
	p.BasePatch.apply(&t.Base)
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.DueAt != nil {
		t.DueAt = *p.DueAt
	}
	if p.ProgressPercent != nil {
		t.ProgressPercent = *p.ProgressPercent
	}
	if p.CompletionBehavior != nil {
		t.CompletionBehavior = *p.CompletionBehavior
	}
	if p.ProgressCalculation != nil {
		t.ProgressCalculation = *p.ProgressCalculation
	}
	if p.EstimatedMinutes != nil {
		t.EstimatedMinutes = *p.EstimatedMinutes
	}
	if p.Assignee != nil {
		t.Assignee = *p.Assignee
	}
	return true
}

type ActivityPatch struct {
	BasePatch
	Status   *ActivityStatus
	StartAt  **time.Time
	EndAt    **time.Time
	Location *string
}

func (ActivityPatch) Kind() Kind { return KindActivity }

func (p ActivityPatch) Apply(s Subtype) bool {
	a, ok := s.(*Activity)
	if !ok {
		return false
	}
	p.BasePatch.apply(&a.Base)
	if p.Status != nil {
		a.Status = *p.Status
	}
	if p.StartAt != nil {
		a.StartAt = *p.StartAt
	}
	if p.EndAt != nil {
		a.EndAt = *p.EndAt
	}
	if p.Location != nil {
		a.Location = *p.Location
	}
	return true
}

type MemoryPatch struct {
	BasePatch
	Status     *MemoryStatus
	OccurredAt **time.Time
	Emotion    *string
	Salience   *int
	Valence    *int
}

func (MemoryPatch) Kind() Kind { return KindMemory }

func (p MemoryPatch) Apply(s Subtype) bool {
	m, ok := s.(*Memory)
	if !ok {
		return false
	}
	p.BasePatch.apply(&m.Base)
	if p.Status != nil {
		m.Status = *p.Status
	}
	if p.OccurredAt != nil {
		m.OccurredAt = *p.OccurredAt
	}
	if p.Emotion != nil {
		m.Emotion = *p.Emotion
	}
	if p.Salience != nil {
		m.Salience = *p.Salience
	}
	if p.Valence != nil {
		m.Valence = *p.Valence
	}
	return true
}

type RoutinePatch struct {
	BasePatch
	Status           *RoutineStatus
	Schedule         *string
	EstimatedMinutes *int
}

func (RoutinePatch) Kind() Kind { return KindRoutine }

func (p RoutinePatch) Apply(s Subtype) bool {
	r, ok := s.(*Routine)
	if !ok {
		return false
	}
	p.BasePatch.apply(&r.Base)
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.Schedule != nil {
		r.Schedule = *p.Schedule
	}
	if p.EstimatedMinutes != nil {
		r.EstimatedMinutes = *p.EstimatedMinutes
	}
	return true
}

type HabitPatch struct {
	BasePatch
	Status        *HabitStatus
	TargetPerWeek *int
	Streak        *int
}

func (HabitPatch) Kind() Kind { return KindHabit }

func (p HabitPatch) Apply(s Subtype) bool {
	h, ok := s.(*Habit)
	if !ok {
		return false
	}
	p.BasePatch.apply(&h.Base)
	if p.Status != nil {
		h.Status = *p.Status
	}
	if p.TargetPerWeek != nil {
		h.TargetPerWeek = *p.TargetPerWeek
	}
	if p.Streak != nil {
		h.Streak = *p.Streak
	}
	return true
}

// Ptr is a small helper for building patches.
func Ptr[T any](v T) *T { return &v }
