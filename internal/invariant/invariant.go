// Package invariant is the gate every mutation passes before the engine
// commits. A failed check returns a *timeline.Error and the engine rolls the
// whole transaction back.
package invariant

import (
	"fmt"
	"strings"

	"timeline/core/internal/hierarchy"
	"timeline/core/internal/projection"
	"timeline/core/internal/timeline"
)

// Rule names reported in timeline.Error.Rule.
const (
	RuleNonTimeBearing = "non_time_bearing"
	RuleMemoryAnchor   = "memory_anchor"
	RuleAnchorSource   = "anchor_source"
	RuleFieldRange     = "field_range"
	RuleUnknownValue   = "unknown_value"
	RuleRequired       = "required"
	RuleIntervalClosed = "interval_closed"
	RuleIntervalWindow = "interval_window"
)

// Reader is the read access the gate needs, scoped to the mutation's
// transaction.
type Reader interface {
	ItemHeader(id string) (kind timeline.Kind, ownerID string, err error)
	RunningInterval(userID string) (timeline.TimeInterval, bool, error)
	EpisodeOwner(id string) (string, error)
}

// CategoryChecker is provided by the categories service.
type CategoryChecker interface {
	CategoryExists(ownerID, categoryID string) (bool, error)
}

type Gate struct {
	Reader     Reader
	Categories CategoryChecker
}

// Subtype validates field values of a subtype about to be written.
func (g Gate) Subtype(s timeline.Subtype) error {
	b := s.Common()
	if strings.TrimSpace(b.OwnerID) == "" {
		return timeline.Violation(RuleRequired, string(s.Kind()), b.ID, "owner id is required")
	}
	if strings.TrimSpace(b.Title) == "" {
		return timeline.Violation(RuleRequired, string(s.Kind()), b.ID, "title is required")
	}
	if !b.Priority.Valid() {
		return timeline.Violation(RuleUnknownValue, string(s.Kind()), b.ID, fmt.Sprintf("priority %q", b.Priority))
	}
	if !projection.KnownStatus(s.Kind(), s.StatusValue()) {
		return timeline.Violation(RuleUnknownValue, string(s.Kind()), b.ID, fmt.Sprintf("status %q", s.StatusValue()))
	}
	switch v := s.(type) {
	case *timeline.Task:
		if v.ProgressPercent < 0 || v.ProgressPercent > 100 {
			return timeline.Violation(RuleFieldRange, "task", b.ID, fmt.Sprintf("progress %d outside 0..100", v.ProgressPercent))
		}
		switch v.CompletionBehavior {
		case timeline.CompletionManual, timeline.CompletionAuto:
		default:
			return timeline.Violation(RuleUnknownValue, "task", b.ID, fmt.Sprintf("completion behavior %q", v.CompletionBehavior))
		}
		switch v.ProgressCalculation {
		case timeline.ProgressManual, timeline.ProgressAverage, timeline.ProgressWeighted:
		default:
			return timeline.Violation(RuleUnknownValue, "task", b.ID, fmt.Sprintf("progress calculation %q", v.ProgressCalculation))
		}
		if v.EstimatedMinutes < 0 {
			return timeline.Violation(RuleFieldRange, "task", b.ID, "estimated minutes must not be negative")
		}
	case *timeline.Activity:
		if v.StartAt != nil && v.EndAt != nil && v.EndAt.Before(*v.StartAt) {
			return timeline.Violation(RuleFieldRange, "activity", b.ID, "end before start")
		}
	case *timeline.Memory:
		if v.Salience < 0 || v.Salience > 10 {
			return timeline.Violation(RuleFieldRange, "memory", b.ID, fmt.Sprintf("salience %d outside 0..10", v.Salience))
		}
		if v.Valence < -5 || v.Valence > 5 {
			return timeline.Violation(RuleFieldRange, "memory", b.ID, fmt.Sprintf("valence %d outside -5..5", v.Valence))
		}
	case *timeline.Routine:
		if v.EstimatedMinutes < 0 {
			return timeline.Violation(RuleFieldRange, "routine", b.ID, "estimated minutes must not be negative")
		}
	case *timeline.Habit:
		if v.TargetPerWeek < 0 || v.Streak < 0 {
			return timeline.Violation(RuleFieldRange, "habit", b.ID, "target and streak must not be negative")
		}
	}
	return g.Category(b.OwnerID, b.CategoryID)
}

// Category checks the reference with the categories service when one is wired.
func (g Gate) Category(ownerID, categoryID string) error {
	if categoryID == "" || g.Categories == nil {
		return nil
	}
	ok, err := g.Categories.CategoryExists(ownerID, categoryID)
	if err != nil {
		return err
	}
	if !ok {
		return timeline.NotFound("category", categoryID)
	}
	return nil
}

// Owned fails unless actor owns the entity.
func Owned(entity, id, ownerID, actor string) error {
	if ownerID != actor {
		return timeline.OwnershipMismatch(entity, id, actor)
	}
	return nil
}

// Item loads an item header, checks the kind when want is set and checks
// ownership.
func (g Gate) Item(id string, want timeline.Kind, actor string) (timeline.Kind, error) {
	kind, owner, err := g.Reader.ItemHeader(id)
	if err != nil {
		return "", err
	}
	if want != "" && kind != want {
		return "", timeline.KindMismatch(id, want, kind)
	}
	if err := Owned("item", id, owner, actor); err != nil {
		return "", err
	}
	return kind, nil
}

// IntervalTarget rejects intervals on items whose kind cannot carry time.
func (g Gate) IntervalTarget(itemID, actor string) error {
	kind, err := g.Item(itemID, "", actor)
	if err != nil {
		return err
	}
	if !kind.TimeBearing() {
		return timeline.Violation(RuleNonTimeBearing, string(kind), itemID, "items of this kind cannot own time intervals")
	}
	return nil
}

// NoRunningInterval enforces a single running timer per user.
func (g Gate) NoRunningInterval(userID string) error {
	running, ok, err := g.Reader.RunningInterval(userID)
	if err != nil {
		return err
	}
	if ok {
		return timeline.AlreadyRunning(userID, running.ID)
	}
	return nil
}

// Anchor validates a new memory anchor.
func (g Gate) Anchor(a timeline.Anchor, actor string) error {
	kind, owner, err := g.Reader.ItemHeader(a.MemoryID)
	if err != nil {
		return err
	}
	if kind != timeline.KindMemory {
		return timeline.Violation(RuleAnchorSource, string(kind), a.MemoryID, "anchors originate from memories")
	}
	if err := Owned("memory", a.MemoryID, owner, actor); err != nil {
		return err
	}
	if !a.Relation.Valid() {
		return timeline.Violation(RuleUnknownValue, "anchor", a.ID, fmt.Sprintf("relation %q", a.Relation))
	}
	switch a.TargetKind {
	case timeline.TargetItem:
		targetKind, targetOwner, err := g.Reader.ItemHeader(a.TargetID)
		if err != nil {
			return err
		}
		if targetKind == timeline.KindMemory {
			return timeline.Violation(RuleMemoryAnchor, "memory", a.MemoryID, "a memory cannot anchor to memory "+a.TargetID)
		}
		return Owned("item", a.TargetID, targetOwner, actor)
	case timeline.TargetEpisode:
		owner, err := g.Reader.EpisodeOwner(a.TargetID)
		if err != nil {
			return err
		}
		return Owned("episode", a.TargetID, owner, actor)
	}
	return timeline.Violation(RuleUnknownValue, "anchor", a.ID, fmt.Sprintf("target kind %q", a.TargetKind))
}

// Placement is the authoritative cycle/depth check for hanging taskID (whose
// subtree has the given height) under a parent with parentPath.
func Placement(taskID string, parentPath []string, subtreeHeight int) error {
	if len(parentPath) > 0 && hierarchy.WouldCycle(taskID, parentPath) {
		return timeline.CycleDetected(taskID, parentPath[len(parentPath)-1])
	}
	return hierarchy.CheckDepth(taskID, parentPath, subtreeHeight)
}
