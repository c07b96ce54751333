// Package timeline holds the domain model shared by every component of the
// core: the five item kinds, their status vocabularies, the TimelineItem
// projection and the detail rows (intervals, anchors, delegations).
package timeline

import "time"

type Kind string

const (
	KindTask     Kind = "task"
	KindActivity Kind = "activity"
	KindMemory   Kind = "memory"
	KindRoutine  Kind = "routine"
	KindHabit    Kind = "habit"
)

var Kinds = []Kind{KindTask, KindActivity, KindMemory, KindRoutine, KindHabit}

func (k Kind) Valid() bool {
	switch k {
	case KindTask, KindActivity, KindMemory, KindRoutine, KindHabit:
		return true
	}
	return false
}

// TimeBearing reports whether items of this kind may own time intervals.
func (k Kind) TimeBearing() bool {
	return k.Valid() && k != KindMemory
}

type ItemStatus string

const (
	ItemActive    ItemStatus = "active"
	ItemInactive  ItemStatus = "inactive"
	ItemCompleted ItemStatus = "completed"
	ItemCancelled ItemStatus = "cancelled"
	ItemArchived  ItemStatus = "archived"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskCancelled  TaskStatus = "cancelled"
	TaskOnHold     TaskStatus = "on_hold"
)

type ActivityStatus string

const (
	ActivityPlanned ActivityStatus = "planned"
	ActivityOngoing ActivityStatus = "ongoing"
	ActivityDone    ActivityStatus = "done"
	ActivitySkipped ActivityStatus = "skipped"
)

type MemoryStatus string

const (
	MemoryActive   MemoryStatus = "active"
	MemoryFaded    MemoryStatus = "faded"
	MemoryArchived MemoryStatus = "archived"
)

type RoutineStatus string

const (
	RoutineActive  RoutineStatus = "active"
	RoutinePaused  RoutineStatus = "paused"
	RoutineRetired RoutineStatus = "retired"
)

type HabitStatus string

const (
	HabitBuilding    HabitStatus = "building"
	HabitEstablished HabitStatus = "established"
	HabitBroken      HabitStatus = "broken"
	HabitPaused      HabitStatus = "paused"
)

type CompletionBehavior string

const (
	CompletionManual CompletionBehavior = "manual"
	CompletionAuto   CompletionBehavior = "auto"
)

type ProgressCalculation string

const (
	ProgressManual   ProgressCalculation = "manual"
	ProgressAverage  ProgressCalculation = "average"
	ProgressWeighted ProgressCalculation = "weighted"
)

// MaxTreeLevels bounds task trees: depth is 0-based, so the deepest
// allowed node sits at depth MaxTreeLevels-1.
const MaxTreeLevels = 10

// TimelineItem is the read projection shared by all kinds.
type TimelineItem struct {
	ID                   string         `json:"id"`
	Kind                 Kind           `json:"kind"`
	OwnerID              string         `json:"owner_id"`
	Title                string         `json:"title"`
	Description          string         `json:"description,omitempty"`
	StartAt              *time.Time     `json:"start_at,omitempty"`
	EndAt                *time.Time     `json:"end_at,omitempty"`
	Status               ItemStatus     `json:"status"`
	Priority             Priority       `json:"priority"`
	CategoryID           string         `json:"category_id,omitempty"`
	Tags                 []string       `json:"tags,omitempty"`
	Metadata             map[string]any `json:"metadata,omitempty"`
	TrackedMinutesTotal  int64          `json:"tracked_minutes_total"`
	TrackedSegmentsCount int            `json:"tracked_segments_count"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

type IntervalSource string

const (
	SourceTimer  IntervalSource = "timer"
	SourceManual IntervalSource = "manual"
	SourceImport IntervalSource = "import"
)

type TimeInterval struct {
	ID              string         `json:"id"`
	ItemID          string         `json:"item_id"`
	UserID          string         `json:"user_id"`
	StartAt         time.Time      `json:"start_at"`
	EndAt           *time.Time     `json:"end_at,omitempty"`
	DurationMinutes int64          `json:"duration_minutes"`
	Source          IntervalSource `json:"source"`
}

func (iv TimeInterval) Running() bool { return iv.EndAt == nil }

// DurationMinutes is the derived duration of a closed interval in whole minutes.
func DurationMinutes(start, end time.Time) int64 {
	if !end.After(start) {
		return 0
	}
	return int64(end.Sub(start) / time.Minute)
}

type AnchorTarget string

const (
	TargetItem    AnchorTarget = "item"
	TargetEpisode AnchorTarget = "episode"
)

type AnchorRelation string

const (
	RelContextOf   AnchorRelation = "context_of"
	RelResultOf    AnchorRelation = "result_of"
	RelTriggeredBy AnchorRelation = "triggered_by"
	RelReflectsOn  AnchorRelation = "reflects_on"
	RelPartOf      AnchorRelation = "part_of"
)

func (r AnchorRelation) Valid() bool {
	switch r {
	case RelContextOf, RelResultOf, RelTriggeredBy, RelReflectsOn, RelPartOf:
		return true
	}
	return false
}

// Anchor is a typed, directional link from a memory to an item or episode.
type Anchor struct {
	ID         string         `json:"id"`
	MemoryID   string         `json:"memory_id"`
	TargetKind AnchorTarget   `json:"target_kind"`
	TargetID   string         `json:"target_id"`
	Relation   AnchorRelation `json:"relation"`
	OwnerID    string         `json:"owner_id"`
	CreatedAt  time.Time      `json:"created_at"`
}

type Episode struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Title     string    `json:"title"`
	Summary   string    `json:"summary,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type DelegationStatus string

const (
	DelegationOpen   DelegationStatus = "open"
	DelegationDone   DelegationStatus = "done"
	DelegationFailed DelegationStatus = "failed"
)

// Agent carries the cached delegation rollups. ActivityScore is
// DelegationCount + 2*CompletedDelegationCount.
type Agent struct {
	ID                       string     `json:"id"`
	OwnerID                  string     `json:"owner_id"`
	Name                     string     `json:"name"`
	DelegationCount          int        `json:"delegation_count"`
	CompletedDelegationCount int        `json:"completed_delegation_count"`
	ActivityScore            int        `json:"activity_score"`
	LastDelegatedAt          *time.Time `json:"last_delegated_at,omitempty"`
}

type Delegation struct {
	ID        string           `json:"id"`
	AgentID   string           `json:"agent_id"`
	TaskID    string           `json:"task_id"`
	Status    DelegationStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
}
