package engine

import (
	"maps"
	"slices"
	"time"

	dbmodel "timeline/core/internal/db"
	"timeline/core/internal/timeline"

	"gorm.io/datatypes"
)

func unixPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	v := t.UTC().Unix()
	return &v
}

func timePtr(v *int64) *time.Time {
	if v == nil {
		return nil
	}
	t := time.Unix(*v, 0).UTC()
	return &t
}

func fromUnix(v int64) time.Time {
	return time.Unix(v, 0).UTC()
}

func itemColumns(b *timeline.Base) dbmodel.ItemColumns {
	return dbmodel.ItemColumns{
		ID:          b.ID,
		OwnerID:     b.OwnerID,
		Title:       b.Title,
		Description: b.Description,
		Priority:    string(b.Priority),
		CategoryID:  b.CategoryID,
		Tags:        datatypes.JSONSlice[string](slices.Clone(b.Tags)),
		Metadata:    datatypes.JSONMap(maps.Clone(b.Metadata)),
		CreatedAt:   b.CreatedAt.UTC().Unix(),
		UpdatedAt:   b.UpdatedAt.UTC().Unix(),
	}
}

func baseOf(c dbmodel.ItemColumns) timeline.Base {
	return timeline.Base{
		ID:          c.ID,
		OwnerID:     c.OwnerID,
		Title:       c.Title,
		Description: c.Description,
		Priority:    timeline.Priority(c.Priority),
		CategoryID:  c.CategoryID,
		Tags:        slices.Clone([]string(c.Tags)),
		Metadata:    maps.Clone(map[string]any(c.Metadata)),
		CreatedAt:   fromUnix(c.CreatedAt),
		UpdatedAt:   fromUnix(c.UpdatedAt),
	}
}

func taskRow(t *timeline.Task) dbmodel.Task {
	return dbmodel.Task{
		ItemColumns:           itemColumns(&t.Base),
		Status:                string(t.Status),
		DueAt:                 unixPtr(t.DueAt),
		ProgressPercent:       t.ProgressPercent,
		ParentID:              t.ParentID,
		Depth:                 t.Depth,
		Path:                  datatypes.JSONSlice[string](slices.Clone(t.Path)),
		SiblingOrder:          t.SiblingOrder,
		CompletionBehavior:    string(t.CompletionBehavior),
		ProgressCalculation:   string(t.ProgressCalculation),
		EstimatedMinutes:      t.EstimatedMinutes,
		Assignee:              t.Assignee,
		SubtaskCount:          t.SubtaskCount,
		CompletedSubtaskCount: t.CompletedSubtaskCount,
		CompletedAt:           unixPtr(t.CompletedAt),
	}
}

func taskOf(row dbmodel.Task, rollup dbmodel.TimeRollup) timeline.Task {
	return timeline.Task{
		Base:                  baseOf(row.ItemColumns),
		Status:                timeline.TaskStatus(row.Status),
		DueAt:                 timePtr(row.DueAt),
		ProgressPercent:       row.ProgressPercent,
		ParentID:              row.ParentID,
		Depth:                 row.Depth,
		Path:                  slices.Clone([]string(row.Path)),
		SiblingOrder:          row.SiblingOrder,
		CompletionBehavior:    timeline.CompletionBehavior(row.CompletionBehavior),
		ProgressCalculation:   timeline.ProgressCalculation(row.ProgressCalculation),
		EstimatedMinutes:      row.EstimatedMinutes,
		Assignee:              row.Assignee,
		SubtaskCount:          row.SubtaskCount,
		CompletedSubtaskCount: row.CompletedSubtaskCount,
		TrackedMinutesTotal:   rollup.MinutesTotal,
		TrackedSegmentsCount:  rollup.SegmentsCount,
		CompletedAt:           timePtr(row.CompletedAt),
	}
}

func activityRow(a *timeline.Activity) dbmodel.Activity {
	return dbmodel.Activity{
		ItemColumns: itemColumns(&a.Base),
		Status:      string(a.Status),
		StartAt:     unixPtr(a.StartAt),
		EndAt:       unixPtr(a.EndAt),
		Location:    a.Location,
	}
}

func activityOf(row dbmodel.Activity) *timeline.Activity {
	return &timeline.Activity{
		Base:     baseOf(row.ItemColumns),
		Status:   timeline.ActivityStatus(row.Status),
		StartAt:  timePtr(row.StartAt),
		EndAt:    timePtr(row.EndAt),
		Location: row.Location,
	}
}

func memoryRow(m *timeline.Memory) dbmodel.Memory {
	return dbmodel.Memory{
		ItemColumns: itemColumns(&m.Base),
		Status:      string(m.Status),
		OccurredAt:  unixPtr(m.OccurredAt),
		Emotion:     m.Emotion,
		Salience:    m.Salience,
		Valence:     m.Valence,
	}
}

func memoryOf(row dbmodel.Memory) *timeline.Memory {
	return &timeline.Memory{
		Base:       baseOf(row.ItemColumns),
		Status:     timeline.MemoryStatus(row.Status),
		OccurredAt: timePtr(row.OccurredAt),
		Emotion:    row.Emotion,
		Salience:   row.Salience,
		Valence:    row.Valence,
	}
}

func routineRow(r *timeline.Routine) dbmodel.Routine {
	return dbmodel.Routine{
		ItemColumns:      itemColumns(&r.Base),
		Status:           string(r.Status),
		Schedule:         r.Schedule,
		EstimatedMinutes: r.EstimatedMinutes,
	}
}

func routineOf(row dbmodel.Routine) *timeline.Routine {
	return &timeline.Routine{
		Base:             baseOf(row.ItemColumns),
		Status:           timeline.RoutineStatus(row.Status),
		Schedule:         row.Schedule,
		EstimatedMinutes: row.EstimatedMinutes,
	}
}

func habitRow(h *timeline.Habit) dbmodel.Habit {
	return dbmodel.Habit{
		ItemColumns:   itemColumns(&h.Base),
		Status:        string(h.Status),
		TargetPerWeek: h.TargetPerWeek,
		Streak:        h.Streak,
	}
}

func habitOf(row dbmodel.Habit) *timeline.Habit {
	return &timeline.Habit{
		Base:          baseOf(row.ItemColumns),
		Status:        timeline.HabitStatus(row.Status),
		TargetPerWeek: row.TargetPerWeek,
		Streak:        row.Streak,
	}
}

func itemRow(item timeline.TimelineItem) dbmodel.TimelineItem {
	return dbmodel.TimelineItem{
		ItemColumns: dbmodel.ItemColumns{
			ID:          item.ID,
			OwnerID:     item.OwnerID,
			Title:       item.Title,
			Description: item.Description,
			Priority:    string(item.Priority),
			CategoryID:  item.CategoryID,
			Tags:        datatypes.JSONSlice[string](slices.Clone(item.Tags)),
			Metadata:    datatypes.JSONMap(maps.Clone(item.Metadata)),
			CreatedAt:   item.CreatedAt.UTC().Unix(),
			UpdatedAt:   item.UpdatedAt.UTC().Unix(),
		},
		Kind:    string(item.Kind),
		Status:  string(item.Status),
		StartAt: unixPtr(item.StartAt),
		EndAt:   unixPtr(item.EndAt),
	}
}

func itemOf(row dbmodel.TimelineItem, rollup dbmodel.TimeRollup) timeline.TimelineItem {
	b := baseOf(row.ItemColumns)
	return timeline.TimelineItem{
		ID:                   b.ID,
		Kind:                 timeline.Kind(row.Kind),
		OwnerID:              b.OwnerID,
		Title:                b.Title,
		Description:          b.Description,
		StartAt:              timePtr(row.StartAt),
		EndAt:                timePtr(row.EndAt),
		Status:               timeline.ItemStatus(row.Status),
		Priority:             b.Priority,
		CategoryID:           b.CategoryID,
		Tags:                 b.Tags,
		Metadata:             b.Metadata,
		TrackedMinutesTotal:  rollup.MinutesTotal,
		TrackedSegmentsCount: rollup.SegmentsCount,
		CreatedAt:            b.CreatedAt,
		UpdatedAt:            b.UpdatedAt,
	}
}

func intervalOf(row dbmodel.TimeInterval) timeline.TimeInterval {
	return timeline.TimeInterval{
		ID:              row.ID,
		ItemID:          row.ItemID,
		UserID:          row.UserID,
		StartAt:         fromUnix(row.StartAt),
		EndAt:           timePtr(row.EndAt),
		DurationMinutes: row.DurationMinutes,
		Source:          timeline.IntervalSource(row.Source),
	}
}

func anchorOf(row dbmodel.Anchor) timeline.Anchor {
	return timeline.Anchor{
		ID:         row.ID,
		MemoryID:   row.MemoryID,
		TargetKind: timeline.AnchorTarget(row.TargetKind),
		TargetID:   row.TargetID,
		Relation:   timeline.AnchorRelation(row.Relation),
		OwnerID:    row.OwnerID,
		CreatedAt:  fromUnix(row.CreatedAt),
	}
}

func agentOf(row dbmodel.Agent) timeline.Agent {
	return timeline.Agent{
		ID:                       row.ID,
		OwnerID:                  row.OwnerID,
		Name:                     row.Name,
		DelegationCount:          row.DelegationCount,
		CompletedDelegationCount: row.CompletedDelegationCount,
		ActivityScore:            row.ActivityScore,
		LastDelegatedAt:          timePtr(row.LastDelegatedAt),
	}
}

func delegationOf(row dbmodel.Delegation) timeline.Delegation {
	return timeline.Delegation{
		ID:        row.ID,
		AgentID:   row.AgentID,
		TaskID:    row.TaskID,
		Status:    timeline.DelegationStatus(row.Status),
		CreatedAt: fromUnix(row.CreatedAt),
	}
}
