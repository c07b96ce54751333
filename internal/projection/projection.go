// Package projection derives the shared TimelineItem view from a subtype
// record. It is the only place that knows how each kind's status vocabulary
// folds into the common one. Nothing here touches aggregates.
package projection

import (
	"maps"
	"slices"
	"time"

	"timeline/core/internal/timeline"
)

// StatusOf maps a subtype status onto the shared status set. It is total:
// values outside a kind's vocabulary fold to inactive.
func StatusOf(kind timeline.Kind, status string) timeline.ItemStatus {
	switch kind {
	case timeline.KindTask:
		switch timeline.TaskStatus(status) {
		case timeline.TaskPending, timeline.TaskInProgress:
			return timeline.ItemActive
		case timeline.TaskCompleted:
			return timeline.ItemCompleted
		case timeline.TaskCancelled:
			return timeline.ItemCancelled
		case timeline.TaskOnHold:
			return timeline.ItemInactive
		}
	case timeline.KindActivity:
		switch timeline.ActivityStatus(status) {
		case timeline.ActivityPlanned, timeline.ActivityOngoing:
			return timeline.ItemActive
		case timeline.ActivityDone:
			return timeline.ItemCompleted
		case timeline.ActivitySkipped:
			return timeline.ItemCancelled
		}
	case timeline.KindMemory:
		switch timeline.MemoryStatus(status) {
		case timeline.MemoryActive:
			return timeline.ItemActive
		case timeline.MemoryFaded:
			return timeline.ItemInactive
		case timeline.MemoryArchived:
			return timeline.ItemArchived
		}
	case timeline.KindRoutine:
		switch timeline.RoutineStatus(status) {
		case timeline.RoutineActive:
			return timeline.ItemActive
		case timeline.RoutinePaused:
			return timeline.ItemInactive
		case timeline.RoutineRetired:
			return timeline.ItemArchived
		}
	case timeline.KindHabit:
		switch timeline.HabitStatus(status) {
		case timeline.HabitBuilding, timeline.HabitEstablished:
			return timeline.ItemActive
		case timeline.HabitPaused:
			return timeline.ItemInactive
		case timeline.HabitBroken:
			return timeline.ItemCancelled
		}
	}
	return timeline.ItemInactive
}

// KnownStatus reports whether status belongs to the kind's vocabulary.
func KnownStatus(kind timeline.Kind, status string) bool {
	return slices.Contains(statusVocabulary[kind], status)
}

var statusVocabulary = map[timeline.Kind][]string{
	timeline.KindTask: {
		string(timeline.TaskPending), string(timeline.TaskInProgress), string(timeline.TaskCompleted),
		string(timeline.TaskCancelled), string(timeline.TaskOnHold),
	},
	timeline.KindActivity: {
		string(timeline.ActivityPlanned), string(timeline.ActivityOngoing),
		string(timeline.ActivityDone), string(timeline.ActivitySkipped),
	},
	timeline.KindMemory: {
		string(timeline.MemoryActive), string(timeline.MemoryFaded), string(timeline.MemoryArchived),
	},
	timeline.KindRoutine: {
		string(timeline.RoutineActive), string(timeline.RoutinePaused), string(timeline.RoutineRetired),
	},
	timeline.KindHabit: {
		string(timeline.HabitBuilding), string(timeline.HabitEstablished),
		string(timeline.HabitBroken), string(timeline.HabitPaused),
	},
}

// Window returns the time window an item exposes on the timeline.
func Window(s timeline.Subtype) (start, end *time.Time) {
	switch v := s.(type) {
	case *timeline.Task:
		return nil, v.DueAt
	case *timeline.Activity:
		return v.StartAt, v.EndAt
	}
	return nil, nil
}

// KindFields are the subtype columns mirrored into the projection metadata.
// A nil value means the key is absent.
func KindFields(s timeline.Subtype) map[string]any {
	out := map[string]any{
		"subtype_status": s.StatusValue(),
	}
	switch v := s.(type) {
	case *timeline.Task:
		out["progress"] = v.ProgressPercent
		out["estimated_minutes"] = nonZero(v.EstimatedMinutes)
		out["assignee"] = nonEmpty(v.Assignee)
		out["parent_id"] = nonEmpty(v.ParentID)
		out["completion_behavior"] = string(v.CompletionBehavior)
	case *timeline.Activity:
		out["location"] = nonEmpty(v.Location)
	case *timeline.Memory:
		out["emotion"] = nonEmpty(v.Emotion)
		out["salience"] = v.Salience
		out["valence"] = v.Valence
		if v.OccurredAt != nil {
			out["occurred_at"] = v.OccurredAt.UTC().Format(time.RFC3339)
		} else {
			out["occurred_at"] = nil
		}
	case *timeline.Routine:
		out["schedule"] = nonEmpty(v.Schedule)
		out["estimated_minutes"] = nonZero(v.EstimatedMinutes)
	case *timeline.Habit:
		out["target_per_week"] = nonZero(v.TargetPerWeek)
		out["streak"] = v.Streak
	}
	return out
}

// Project builds the projection for a freshly created subtype.
func Project(s timeline.Subtype) timeline.TimelineItem {
	return Update(timeline.TimelineItem{}, s, nil)
}

// Update re-derives the projection from s on top of prev. Metadata keys
// written by other components survive; dropped lists subtype metadata keys
// the caller removed since the last sync.
func Update(prev timeline.TimelineItem, s timeline.Subtype, dropped []string) timeline.TimelineItem {
	b := s.Common()
	start, end := Window(s)
	item := timeline.TimelineItem{
		ID:                   b.ID,
		Kind:                 s.Kind(),
		OwnerID:              b.OwnerID,
		Title:                b.Title,
		Description:          b.Description,
		StartAt:              start,
		EndAt:                end,
		Status:               StatusOf(s.Kind(), s.StatusValue()),
		Priority:             b.Priority,
		CategoryID:           b.CategoryID,
		Tags:                 slices.Clone(b.Tags),
		TrackedMinutesTotal:  prev.TrackedMinutesTotal,
		TrackedSegmentsCount: prev.TrackedSegmentsCount,
		CreatedAt:            b.CreatedAt,
		UpdatedAt:            b.UpdatedAt,
	}
	item.Metadata = MergeMetadata(prev.Metadata, b.Metadata, KindFields(s), dropped)
	return item
}

// MergeMetadata layers subtype metadata and kind fields over prev.
func MergeMetadata(prev, subtype, kindFields map[string]any, dropped []string) map[string]any {
	out := maps.Clone(prev)
	if out == nil {
		out = map[string]any{}
	}
	for _, k := range dropped {
		delete(out, k)
	}
	maps.Copy(out, subtype)
	for k, v := range kindFields {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// DroppedKeys lists keys present in before and missing from after.
func DroppedKeys(before, after map[string]any) []string {
	var out []string
	for k := range before {
		if _, ok := after[k]; !ok {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}

func nonEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nonZero(n int) any {
	if n == 0 {
		return nil
	}
	return n
}
