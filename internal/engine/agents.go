package engine

import (
	"fmt"
	"strings"

	"timeline/core/internal/aggregate"
	dbmodel "timeline/core/internal/db"
	"timeline/core/internal/invariant"
	"timeline/core/internal/timeline"

	"github.com/google/uuid"
)

func (e *Engine) CreateAgent(actor, name string) (string, error) {
	id := uuid.NewString()
	err := e.mutate("create_agent", actor, func(t *txn) error {
		if strings.TrimSpace(name) == "" {
			return timeline.Violation(invariant.RuleRequired, "agent", id, "name is required")
		}
		row := dbmodel.Agent{ID: id, OwnerID: actor, Name: name}
		if err := t.db.Create(&row).Error; err != nil {
			return fmt.Errorf("insert agent: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (e *Engine) GetAgent(id string) (timeline.Agent, error) {
	var row dbmodel.Agent
	if err := e.db.Where("id = ?", id).Take(&row).Error; err != nil {
		return timeline.Agent{}, timeline.WithOp("get_agent", notFoundOr(err, "agent", id))
	}
	return agentOf(row), nil
}

// Delegate hands taskID to agentID and bumps the agent's rollups.
func (e *Engine) Delegate(actor, agentID, taskID string) (string, error) {
	id := uuid.NewString()
	err := e.mutate("delegate", actor, func(t *txn) error {
		if _, err := t.ownedAgent(agentID, actor); err != nil {
			return err
		}
		if _, err := t.gate.Item(taskID, timeline.KindTask, actor); err != nil {
			return err
		}
		row := dbmodel.Delegation{
			ID:        id,
			AgentID:   agentID,
			TaskID:    taskID,
			Status:    string(timeline.DelegationOpen),
			CreatedAt: t.now.Unix(),
			UpdatedAt: t.now.Unix(),
		}
		if err := t.db.Create(&row).Error; err != nil {
			return fmt.Errorf("insert delegation: %w", err)
		}
		if err := t.applyAgentDelta(agentID, aggregate.DelegationAdded(timeline.DelegationOpen)); err != nil {
			return err
		}
		if err := t.db.Model(&dbmodel.Agent{}).Where("id = ?", agentID).Update("last_delegated_at", t.now.Unix()).Error; err != nil {
			return fmt.Errorf("touch agent %s: %w", agentID, err)
		}
		t.emit(Event{Topic: TopicAgentUpdated, OwnerID: actor, ItemID: taskID, Kind: timeline.KindTask, Payload: map[string]any{
			"agent_id":      agentID,
			"delegation_id": id,
		}})
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (e *Engine) UpdateDelegation(actor, delegationID string, status timeline.DelegationStatus) error {
	return e.mutate("update_delegation", actor, func(t *txn) error {
		switch status {
		case timeline.DelegationOpen, timeline.DelegationDone, timeline.DelegationFailed:
		default:
			return timeline.Violation(invariant.RuleUnknownValue, "delegation", delegationID, fmt.Sprintf("status %q", status))
		}
		d, err := t.ownedDelegation(delegationID, actor)
		if err != nil {
			return err
		}
		before := timeline.DelegationStatus(d.Status)
		if before == status {
			return nil
		}
		err = t.db.Model(&dbmodel.Delegation{}).Where("id = ?", delegationID).Updates(map[string]any{
			"status":     string(status),
			"updated_at": t.now.Unix(),
		}).Error
		if err != nil {
			return fmt.Errorf("update delegation %s: %w", delegationID, err)
		}
		if err := t.applyAgentDelta(d.AgentID, aggregate.DelegationStatusChanged(before, status)); err != nil {
			return err
		}
		t.emit(Event{Topic: TopicAgentUpdated, OwnerID: actor, ItemID: d.TaskID, Kind: timeline.KindTask, Payload: map[string]any{
			"agent_id":      d.AgentID,
			"delegation_id": delegationID,
			"status":        string(status),
		}})
		return nil
	})
}

func (e *Engine) DeleteDelegation(actor, delegationID string) error {
	return e.mutate("delete_delegation", actor, func(t *txn) error {
		d, err := t.ownedDelegation(delegationID, actor)
		if err != nil {
			return err
		}
		if err := t.db.Where("id = ?", delegationID).Delete(&dbmodel.Delegation{}).Error; err != nil {
			return fmt.Errorf("delete delegation %s: %w", delegationID, err)
		}
		if err := t.applyAgentDelta(d.AgentID, aggregate.DelegationRemoved(timeline.DelegationStatus(d.Status))); err != nil {
			return err
		}
		t.emit(Event{Topic: TopicAgentUpdated, OwnerID: actor, ItemID: d.TaskID, Kind: timeline.KindTask, Payload: map[string]any{
			"agent_id":      d.AgentID,
			"delegation_id": delegationID,
		}})
		return nil
	})
}

// Delegations lists an agent's delegations, oldest first.
func (e *Engine) Delegations(agentID string) ([]timeline.Delegation, error) {
	var rows []dbmodel.Delegation
	if err := e.db.Where("agent_id = ?", agentID).Order("created_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]timeline.Delegation, 0, len(rows))
	for _, r := range rows {
		out = append(out, delegationOf(r))
	}
	return out, nil
}

func (t *txn) ownedAgent(id, actor string) (dbmodel.Agent, error) {
	var row dbmodel.Agent
	if err := t.db.Where("id = ?", id).Take(&row).Error; err != nil {
		return dbmodel.Agent{}, notFoundOr(err, "agent", id)
	}
	return row, invariant.Owned("agent", id, row.OwnerID, actor)
}

func (t *txn) ownedDelegation(id, actor string) (dbmodel.Delegation, error) {
	var row dbmodel.Delegation
	if err := t.db.Where("id = ?", id).Take(&row).Error; err != nil {
		return dbmodel.Delegation{}, notFoundOr(err, "delegation", id)
	}
	if _, err := t.ownedAgent(row.AgentID, actor); err != nil {
		return dbmodel.Delegation{}, err
	}
	return row, nil
}
