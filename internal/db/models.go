package db

import "gorm.io/datatypes"

// ItemColumns are shared by the supertype table and every subtype table.
type ItemColumns struct {
	ID          string                      `gorm:"column:id;primaryKey"`
	OwnerID     string                      `gorm:"column:owner_id;not null;index"`
	Title       string                      `gorm:"column:title;not null;default:''"`
	Description string                      `gorm:"column:description;not null;default:''"`
	Priority    string                      `gorm:"column:priority;not null;default:'medium'"`
	CategoryID  string                      `gorm:"column:category_id;not null;default:''"`
	Tags        datatypes.JSONSlice[string] `gorm:"column:tags"`
	Metadata    datatypes.JSONMap           `gorm:"column:metadata"`
	CreatedAt   int64                       `gorm:"column:created_at;not null;default:0;autoCreateTime:false"`
	UpdatedAt   int64                       `gorm:"column:updated_at;not null;default:0;autoUpdateTime:false"`
}

type TimelineItem struct {
	ItemColumns
	Kind    string `gorm:"column:kind;not null;index"`
	Status  string `gorm:"column:status;not null;default:'active'"`
	StartAt *int64 `gorm:"column:start_at"`
	EndAt   *int64 `gorm:"column:end_at"`
}

func (TimelineItem) TableName() string { return "timeline_items" }

type Task struct {
	ItemColumns
	Status                string                      `gorm:"column:status;not null;default:'pending'"`
	DueAt                 *int64                      `gorm:"column:due_at"`
	ProgressPercent       int                         `gorm:"column:progress_percent;not null;default:0"`
	ParentID              string                      `gorm:"column:parent_id;not null;default:''"`
	Depth                 int                         `gorm:"column:depth;not null;default:0"`
	Path                  datatypes.JSONSlice[string] `gorm:"column:path"`
	SiblingOrder          int                         `gorm:"column:sibling_order;not null;default:0"`
	CompletionBehavior    string                      `gorm:"column:completion_behavior;not null;default:'manual'"`
	ProgressCalculation   string                      `gorm:"column:progress_calculation;not null;default:'manual'"`
	EstimatedMinutes      int                         `gorm:"column:estimated_minutes;not null;default:0"`
	Assignee              string                      `gorm:"column:assignee;not null;default:''"`
	SubtaskCount          int                         `gorm:"column:subtask_count;not null;default:0"`
	CompletedSubtaskCount int                         `gorm:"column:completed_subtask_count;not null;default:0"`
	CompletedAt           *int64                      `gorm:"column:completed_at"`
}

func (Task) TableName() string { return "tasks" }

type Activity struct {
	ItemColumns
	Status   string `gorm:"column:status;not null;default:'planned'"`
	StartAt  *int64 `gorm:"column:start_at"`
	EndAt    *int64 `gorm:"column:end_at"`
	Location string `gorm:"column:location;not null;default:''"`
}

func (Activity) TableName() string { return "activities" }

type Memory struct {
	ItemColumns
	Status     string `gorm:"column:status;not null;default:'active'"`
	OccurredAt *int64 `gorm:"column:occurred_at"`
	Emotion    string `gorm:"column:emotion;not null;default:''"`
	Salience   int    `gorm:"column:salience;not null;default:0"`
	Valence    int    `gorm:"column:valence;not null;default:0"`
}

func (Memory) TableName() string { return "memories" }

type Routine struct {
	ItemColumns
	Status           string `gorm:"column:status;not null;default:'active'"`
	Schedule         string `gorm:"column:schedule;not null;default:''"`
	EstimatedMinutes int    `gorm:"column:estimated_minutes;not null;default:0"`
}

func (Routine) TableName() string { return "routines" }

type Habit struct {
	ItemColumns
	Status        string `gorm:"column:status;not null;default:'building'"`
	TargetPerWeek int    `gorm:"column:target_per_week;not null;default:0"`
	Streak        int    `gorm:"column:streak;not null;default:0"`
}

func (Habit) TableName() string { return "habits" }

// TaskClosure indexes every (ancestor, descendant) pair of the task forest,
// including the reflexive pair at distance 0.
type TaskClosure struct {
	AncestorID   string `gorm:"column:ancestor_id;primaryKey"`
	DescendantID string `gorm:"column:descendant_id;primaryKey"`
	Distance     int    `gorm:"column:distance;not null;default:0"`
}

func (TaskClosure) TableName() string { return "task_closure" }

type TimeInterval struct {
	ID              string `gorm:"column:id;primaryKey"`
	ItemID          string `gorm:"column:item_id;not null;index"`
	UserID          string `gorm:"column:user_id;not null"`
	StartAt         int64  `gorm:"column:start_at;not null"`
	EndAt           *int64 `gorm:"column:end_at"`
	DurationMinutes int64  `gorm:"column:duration_minutes;not null;default:0"`
	Source          string `gorm:"column:source;not null;default:'timer'"`
	CreatedAt       int64  `gorm:"column:created_at;not null;default:0;autoCreateTime:false"`
	UpdatedAt       int64  `gorm:"column:updated_at;not null;default:0;autoUpdateTime:false"`
}

func (TimeInterval) TableName() string { return "time_intervals" }

type TimeRollup struct {
	ItemID        string `gorm:"column:item_id;primaryKey"`
	MinutesTotal  int64  `gorm:"column:minutes_total;not null;default:0"`
	SegmentsCount int    `gorm:"column:segments_count;not null;default:0"`
}

func (TimeRollup) TableName() string { return "time_rollups" }

type Episode struct {
	ID        string `gorm:"column:id;primaryKey"`
	OwnerID   string `gorm:"column:owner_id;not null;index"`
	Title     string `gorm:"column:title;not null;default:''"`
	Summary   string `gorm:"column:summary;not null;default:''"`
	CreatedAt int64  `gorm:"column:created_at;not null;default:0;autoCreateTime:false"`
}

func (Episode) TableName() string { return "episodes" }

type Anchor struct {
	ID         string `gorm:"column:id;primaryKey"`
	MemoryID   string `gorm:"column:memory_id;not null;uniqueIndex:uq_anchor_edge,priority:1"`
	TargetKind string `gorm:"column:target_kind;not null"`
	TargetID   string `gorm:"column:target_id;not null;uniqueIndex:uq_anchor_edge,priority:2;index"`
	Relation   string `gorm:"column:relation;not null;uniqueIndex:uq_anchor_edge,priority:3"`
	OwnerID    string `gorm:"column:owner_id;not null"`
	CreatedAt  int64  `gorm:"column:created_at;not null;default:0;autoCreateTime:false"`
}

func (Anchor) TableName() string { return "anchors" }

type Agent struct {
	ID                       string `gorm:"column:id;primaryKey"`
	OwnerID                  string `gorm:"column:owner_id;not null;index"`
	Name                     string `gorm:"column:name;not null;default:''"`
	DelegationCount          int    `gorm:"column:delegation_count;not null;default:0"`
	CompletedDelegationCount int    `gorm:"column:completed_delegation_count;not null;default:0"`
	ActivityScore            int    `gorm:"column:activity_score;not null;default:0"`
	LastDelegatedAt          *int64 `gorm:"column:last_delegated_at"`
}

func (Agent) TableName() string { return "agents" }

type Delegation struct {
	ID        string `gorm:"column:id;primaryKey"`
	AgentID   string `gorm:"column:agent_id;not null;index"`
	TaskID    string `gorm:"column:task_id;not null;index"`
	Status    string `gorm:"column:status;not null;default:'open'"`
	CreatedAt int64  `gorm:"column:created_at;not null;default:0;autoCreateTime:false"`
	UpdatedAt int64  `gorm:"column:updated_at;not null;default:0;autoUpdateTime:false"`
}

func (Delegation) TableName() string { return "delegations" }

type Config struct {
	Key       string `gorm:"column:key;primaryKey"`
	Value     string `gorm:"column:value;not null;default:''"`
	UpdatedAt int64  `gorm:"column:updated_at;not null;default:0;autoUpdateTime:false"`
}

func (Config) TableName() string { return "config" }
