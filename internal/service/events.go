package service

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/capitalize-ai/inbox-console/internal/model"
	"github.com/capitalize-ai/inbox-console/internal/reconcile"
	"github.com/capitalize-ai/inbox-console/internal/transport"
	"github.com/capitalize-ai/inbox-console/pkg/metrics"
)

// HandleFrame enqueues a transport frame. It blocks while the inbox is full so that the
// transport read loop slows down instead of dropping events.
func (c *Controller) HandleFrame(frame model.Frame) {
	err := c.submit(context.Background(), func(context.Context) {
		c.applyFrame(frame)
	})
	if err != nil {
		c.log.Debug("frame dropped", zap.String("type", string(frame.Type)), zap.Error(err))
	}
}

func (c *Controller) applyFrame(frame model.Frame) {
	if frame.SessionID != "" && frame.SessionID != c.cfg.SessionID {
		c.log.Warn("ignoring frame for another session", zap.String("frame_session", frame.SessionID))
		return
	}

	switch frame.Type {
	case model.FrameMessagesUpsert:
		var data model.MessagesUpsert
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			c.log.Warn("malformed messages.upsert frame", zap.Error(err))
			return
		}
		c.applyMessages(data.Messages)

	case model.FrameMessageUpdate:
		var data model.MessageUpdate
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			c.log.Warn("malformed message_update frame", zap.Error(err))
			return
		}
		if c.rec.ApplyUpdate(data) {
			c.emit(model.EventMessagesChanged, c.store.OpenChat(), "media_updated", map[string]any{"messageId": data.MessageID})
		}

	default:
		c.log.Debug("ignoring frame", zap.String("type", string(frame.Type)))
	}
}

// applyMessages runs authoritative messages through the reconciler and notifies subscribers.
func (c *Controller) applyMessages(msgs []model.Message) {
	open := c.store.OpenChat()
	openChanged := false
	chats := make(map[string]bool)

	for _, res := range c.rec.Apply(msgs) {
		metrics.ReconcileOutcomesTotal.WithLabelValues(string(res.Outcome)).Inc()
		switch res.Outcome {
		case reconcile.OutcomeRejected:
			c.log.Warn("rejected stream message", zap.String("message_id", res.MessageID), zap.String("chat_id", res.ChatID))
			continue
		case reconcile.OutcomeDuplicate:
			continue
		case reconcile.OutcomeInserted, reconcile.OutcomeConfirmed:
			if res.ChatID == open {
				openChanged = true
			}
		}
		chats[res.ChatID] = true
	}

	for chatID := range chats {
		c.emit(model.EventChatsChanged, chatID, "message", nil)
	}
	if openChanged {
		c.emit(model.EventMessagesChanged, open, "message", nil)
	}
}

// HandleConnectionState records a transport transition. A restored connection triggers a
// snapshot refetch when configured, since frames sent during the outage are not replayed.
func (c *Controller) HandleConnectionState(from, to transport.State) {
	c.connMu.Lock()
	c.connState = to
	c.connMu.Unlock()

	err := c.submit(context.Background(), func(ctx context.Context) {
		c.emit(model.EventConnection, "", string(to), map[string]any{"from": string(from), "to": string(to)})
		if transport.IsReconnect(from, to) && c.cfg.RefetchOnReconnect {
			c.refetch(ctx)
		}
	})
	if err != nil {
		c.log.Debug("connection state not delivered", zap.Error(err))
	}
}

// LoadSnapshot fetches the chat list and merges it into the cache.
func (c *Controller) LoadSnapshot(ctx context.Context) (int, error) {
	chats, err := c.backend.FetchChats(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch chats: %w", err)
	}
	return query(ctx, c, func() int {
		n := c.applySnapshot(chats)
		c.emit(model.EventSnapshotRefetched, "", "snapshot", map[string]any{"chats": n})
		return n
	})
}

// applySnapshot overwrites cached chats with the backend's view. Chats with an ownership
// action in flight keep their optimistic fragment, and the open chat keeps a zero unread count.
func (c *Controller) applySnapshot(chats []model.Conversation) int {
	n := 0
	for _, conv := range chats {
		patch := model.PatchFrom(conv)
		if c.own.InFlight(conv.ChatID) {
			patch.Ownership = nil
			patch.Notes = nil
		}
		if conv.ChatID == c.store.OpenChat() {
			patch.UnreadCount = nil
		}
		if _, err := c.store.UpsertChat(patch); err != nil {
			c.log.Warn("skipping invalid chat in snapshot", zap.String("chat_id", conv.ChatID), zap.Error(err))
			continue
		}
		n++
	}
	return n
}

// refetch reloads the chat list and the open chat's history after a reconnect.
func (c *Controller) refetch(ctx context.Context) {
	openChat := c.store.OpenChat()
	generation := c.store.Generation()

	c.goAsync(func() {
		fctx, cancel := context.WithTimeout(ctx, c.cfg.ActionTimeout)
		defer cancel()

		chats, chatsErr := c.backend.FetchChats(fctx)
		var page []model.Message
		var historyErr error
		if openChat != "" {
			page, historyErr = c.backend.FetchHistory(fctx, openChat, c.cfg.HistoryLimit)
		}

		c.post(func(context.Context) {
			reason := "reconnect"
			if chatsErr != nil {
				c.log.Warn("snapshot refetch failed", zap.Error(chatsErr))
			} else {
				c.applySnapshot(chats)
			}

			switch {
			case openChat == "":
			case historyErr != nil:
				c.log.Warn("history refetch failed", zap.String("chat_id", openChat), zap.Error(historyErr))
			case openChat != c.store.OpenChat() || generation != c.store.Generation():
				c.log.Debug("discarding stale history refetch", zap.String("chat_id", openChat))
			default:
				// Running the page through the reconciler confirms sends whose echo was missed.
				c.applyMessages(normalize(page, openChat))
			}

			if chatsErr != nil && historyErr != nil {
				reason = "reconnect_failed"
			}
			c.emit(model.EventSnapshotRefetched, openChat, reason, nil)
		})
	})
}

// normalize returns page oldest first with the chat id filled in.
func normalize(page []model.Message, chatID string) []model.Message {
	out := make([]model.Message, 0, len(page))
	for i := range page {
		m := page[i]
		m.ChatID = chatID
		out = append(out, m)
	}
	if len(out) > 1 && out[0].Timestamp > out[len(out)-1].Timestamp {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

// OpenChat makes chatID the open chat and waits for its history. When another chat is opened
// before the history arrives the page is discarded and ErrSuperseded is returned.
func (c *Controller) OpenChat(ctx context.Context, chatID string) (OpenMessages, error) {
	return call(ctx, c, func(lctx context.Context, out chan<- reply[OpenMessages]) {
		if _, ok := c.store.Chat(chatID); !ok {
			out <- reply[OpenMessages]{err: model.ErrChatNotFound}
			return
		}

		generation := c.store.SetOpenChat(chatID)
		c.rec.Reset()
		c.emit(model.EventChatsChanged, chatID, "opened", nil)

		c.goAsync(func() {
			fctx, cancel := context.WithTimeout(lctx, c.cfg.ActionTimeout)
			defer cancel()
			page, err := c.backend.FetchHistory(fctx, chatID, c.cfg.HistoryLimit)

			c.post(func(context.Context) {
				if err != nil {
					c.log.Warn("history fetch failed", zap.String("chat_id", chatID), zap.Error(err))
					out <- reply[OpenMessages]{err: fmt.Errorf("failed to fetch history: %w", err)}
					return
				}
				if !c.store.LoadHistory(chatID, generation, page) {
					out <- reply[OpenMessages]{err: ErrSuperseded}
					return
				}
				c.emit(model.EventMessagesChanged, chatID, "history", nil)
				out <- reply[OpenMessages]{val: OpenMessages{ChatID: chatID, Messages: c.store.Messages()}}
			})
		})
	})
}
