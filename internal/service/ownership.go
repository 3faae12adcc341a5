package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/capitalize-ai/inbox-console/internal/backend"
	"github.com/capitalize-ai/inbox-console/internal/model"
	"github.com/capitalize-ai/inbox-console/internal/ownership"
	"github.com/capitalize-ai/inbox-console/pkg/metrics"
)

// Takeover assigns the chat to agentID. Repeating a takeover by the current owner is a no-op.
func (c *Controller) Takeover(ctx context.Context, chatID, agentID, agentName string) (model.Conversation, error) {
	return c.changeOwnership(ctx, ownership.Request{
		Action:    model.ActionTakeover,
		ChatID:    chatID,
		ActorID:   agentID,
		AgentID:   agentID,
		AgentName: agentName,
	})
}

// Release returns the chat to the AI.
func (c *Controller) Release(ctx context.Context, chatID, actorID string) (model.Conversation, error) {
	return c.changeOwnership(ctx, ownership.Request{
		Action:  model.ActionRelease,
		ChatID:  chatID,
		ActorID: actorID,
	})
}

// Handover assigns the chat to targetID and appends an audit line to the chat notes.
func (c *Controller) Handover(ctx context.Context, chatID, actorID, targetID, targetName, notes string) (model.Conversation, error) {
	return c.changeOwnership(ctx, ownership.Request{
		Action:    model.ActionHandover,
		ChatID:    chatID,
		ActorID:   actorID,
		AgentID:   targetID,
		AgentName: targetName,
		Notes:     notes,
	})
}

func ownershipRequest(req ownership.Request) backend.OwnershipRequest {
	out := backend.OwnershipRequest{ActorAgentID: req.ActorID, Notes: req.Notes}
	switch req.Action {
	case model.ActionTakeover:
		out.AgentID = req.AgentID
		out.AgentName = req.AgentName
	case model.ActionHandover:
		out.TargetAgentID = req.AgentID
		out.TargetAgentName = req.AgentName
	}
	return out
}

// changeOwnership applies the optimistic fragment, calls the backend off the loop and then
// either commits the authoritative fragment or restores the prior ownership exactly.
func (c *Controller) changeOwnership(ctx context.Context, req ownership.Request) (model.Conversation, error) {
	return call(ctx, c, func(lctx context.Context, out chan<- reply[model.Conversation]) {
		tr, err := c.own.Begin(lctx, req)
		if err != nil {
			metrics.RecordAction(string(req.Action), err)
			out <- reply[model.Conversation]{err: err}
			return
		}
		if tr.Noop() {
			conv, _ := c.store.Chat(req.ChatID)
			metrics.RecordAction(string(req.Action), nil)
			out <- reply[model.Conversation]{val: conv}
			return
		}
		c.emit(model.EventChatsChanged, req.ChatID, "ownership_pending", map[string]any{"action": string(req.Action)})

		c.goAsync(func() {
			actx, cancel := context.WithTimeout(lctx, c.cfg.ActionTimeout)
			defer cancel()
			res, callErr := c.backend.Ownership(actx, req.ChatID, req.Action, ownershipRequest(req))

			c.post(func(context.Context) {
				var (
					record model.OwnershipTransition
					err    error
				)
				if callErr != nil {
					err = c.own.Rollback(tr, callErr)
				} else {
					record, err = c.own.Commit(tr, res.Ownership, res.Notes)
				}
				metrics.RecordAction(string(req.Action), err)

				if err != nil {
					c.log.Warn("ownership action rolled back",
						zap.String("chat_id", req.ChatID),
						zap.String("action", string(req.Action)),
						zap.Error(err),
					)
					c.emit(model.EventActionFailed, req.ChatID, string(req.Action), map[string]any{"error": err.Error()})
					c.emit(model.EventChatsChanged, req.ChatID, "ownership_rolled_back", nil)
					out <- reply[model.Conversation]{err: err}
					return
				}

				c.log.Info("ownership changed",
					zap.String("chat_id", req.ChatID),
					zap.String("action", string(req.Action)),
					zap.String("from", record.FromOwner),
					zap.String("to", record.ToOwner),
				)
				c.recordTransition(record)
				c.emit(model.EventOwnershipChanged, req.ChatID, string(req.Action), map[string]any{
					"from":  record.FromOwner,
					"to":    record.ToOwner,
					"actor": record.ActorAgentID,
				})
				conv, _ := c.store.Chat(req.ChatID)
				out <- reply[model.Conversation]{val: conv}
			})
		})
	})
}

func (c *Controller) recordTransition(t model.OwnershipTransition) {
	if c.audit == nil {
		return
	}
	c.goAsync(func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ActionTimeout)
		defer cancel()
		if err := c.audit.LogTransition(ctx, t); err != nil {
			c.log.Error("failed to record ownership transition", zap.String("chat_id", t.ChatID), zap.Error(err))
		}
	})
}
