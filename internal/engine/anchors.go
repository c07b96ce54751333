package engine

import (
	"fmt"
	"strings"

	dbmodel "timeline/core/internal/db"
	"timeline/core/internal/invariant"
	"timeline/core/internal/timeline"

	"github.com/google/uuid"
)

// CreateEpisode stores a narrative grouping memories can anchor to.
func (e *Engine) CreateEpisode(actor string, ep timeline.Episode) (string, error) {
	if ep.ID == "" {
		ep.ID = uuid.NewString()
	}
	if ep.OwnerID == "" {
		ep.OwnerID = actor
	}
	err := e.mutate("create_episode", actor, func(t *txn) error {
		if err := invariant.Owned("episode", ep.ID, ep.OwnerID, actor); err != nil {
			return err
		}
		if strings.TrimSpace(ep.Title) == "" {
			return timeline.Violation(invariant.RuleRequired, "episode", ep.ID, "title is required")
		}
		row := dbmodel.Episode{ID: ep.ID, OwnerID: ep.OwnerID, Title: ep.Title, Summary: ep.Summary, CreatedAt: t.now.Unix()}
		if err := t.db.Create(&row).Error; err != nil {
			if isUniqueConstraintError(err) {
				return timeline.Violation("duplicate_id", "episode", ep.ID, "id already in use")
			}
			return fmt.Errorf("insert episode: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return ep.ID, nil
}

// DeleteEpisode removes an episode and the anchors pointing at it.
func (e *Engine) DeleteEpisode(actor, id string) error {
	return e.mutate("delete_episode", actor, func(t *txn) error {
		owner, err := t.EpisodeOwner(id)
		if err != nil {
			return err
		}
		if err := invariant.Owned("episode", id, owner, actor); err != nil {
			return err
		}
		if err := t.db.Where("target_kind = ? AND target_id = ?", string(timeline.TargetEpisode), id).Delete(&dbmodel.Anchor{}).Error; err != nil {
			return fmt.Errorf("delete anchors of episode %s: %w", id, err)
		}
		return t.db.Where("id = ?", id).Delete(&dbmodel.Episode{}).Error
	})
}

// AddAnchor links a memory to an item or episode. Memories never anchor to
// other memories.
func (e *Engine) AddAnchor(actor string, a timeline.Anchor) (string, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.TargetKind == "" {
		a.TargetKind = timeline.TargetItem
	}
	err := e.mutate("add_anchor", actor, func(t *txn) error {
		if err := t.gate.Anchor(a, actor); err != nil {
			return err
		}
		var dup int64
		err := t.db.Model(&dbmodel.Anchor{}).
			Where("memory_id = ? AND target_id = ? AND relation = ?", a.MemoryID, a.TargetID, string(a.Relation)).
			Count(&dup).Error
		if err != nil {
			return err
		}
		if dup > 0 {
			return timeline.Violation("duplicate_anchor", "anchor", a.MemoryID, fmt.Sprintf("%s already %s %s", a.MemoryID, a.Relation, a.TargetID))
		}
		row := dbmodel.Anchor{
			ID:         a.ID,
			MemoryID:   a.MemoryID,
			TargetKind: string(a.TargetKind),
			TargetID:   a.TargetID,
			Relation:   string(a.Relation),
			OwnerID:    actor,
			CreatedAt:  t.now.Unix(),
		}
		if err := t.db.Create(&row).Error; err != nil {
			return fmt.Errorf("insert anchor: %w", err)
		}
		t.emit(Event{Topic: TopicAnchorAdded, OwnerID: actor, ItemID: a.MemoryID, Kind: timeline.KindMemory, Payload: map[string]any{
			"anchor_id": a.ID,
			"target_id": a.TargetID,
			"relation":  string(a.Relation),
		}})
		return nil
	})
	if err != nil {
		return "", err
	}
	return a.ID, nil
}

func (e *Engine) RemoveAnchor(actor, anchorID string) error {
	return e.mutate("remove_anchor", actor, func(t *txn) error {
		var row dbmodel.Anchor
		if err := t.db.Where("id = ?", anchorID).Take(&row).Error; err != nil {
			return notFoundOr(err, "anchor", anchorID)
		}
		if err := invariant.Owned("anchor", anchorID, row.OwnerID, actor); err != nil {
			return err
		}
		if err := t.db.Where("id = ?", anchorID).Delete(&dbmodel.Anchor{}).Error; err != nil {
			return fmt.Errorf("delete anchor %s: %w", anchorID, err)
		}
		t.emit(Event{Topic: TopicAnchorRemoved, OwnerID: actor, ItemID: row.MemoryID, Kind: timeline.KindMemory, Payload: map[string]any{"anchor_id": anchorID}})
		return nil
	})
}

// ListAnchors returns the anchors of a memory, oldest first.
func (e *Engine) ListAnchors(memoryID string) ([]timeline.Anchor, error) {
	var rows []dbmodel.Anchor
	if err := e.db.Where("memory_id = ?", memoryID).Order("created_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]timeline.Anchor, 0, len(rows))
	for _, r := range rows {
		out = append(out, anchorOf(r))
	}
	return out, nil
}
