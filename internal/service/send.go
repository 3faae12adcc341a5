package service

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/capitalize-ai/inbox-console/internal/audit"
	"github.com/capitalize-ai/inbox-console/internal/backend"
	"github.com/capitalize-ai/inbox-console/internal/model"
	"github.com/capitalize-ai/inbox-console/pkg/metrics"
)

// SendReceipt identifies a dispatched message. MessageID is empty when the backend did not
// return the authoritative id; the stream echo then confirms the pending entry.
type SendReceipt struct {
	ChatID    string `json:"chatId"`
	TempID    string `json:"tempId"`
	MessageID string `json:"messageId,omitempty"`
}

// SendText sends a text message from agentName.
func (c *Controller) SendText(ctx context.Context, chatID, text, agentName string) (SendReceipt, error) {
	if strings.TrimSpace(text) == "" {
		return SendReceipt{}, model.NewValidationError("text", "must not be empty")
	}
	return c.send(ctx, chatID, model.TextContent(text), backend.SendRequest{
		Type:      model.KindText,
		Text:      text,
		AgentName: agentName,
	})
}

// SendImage sends an image by URL with an optional caption.
func (c *Controller) SendImage(ctx context.Context, chatID, imageURL, caption, agentName string) (SendReceipt, error) {
	u, err := url.Parse(imageURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return SendReceipt{}, model.NewValidationError("imageUrl", "must be an absolute http(s) URL")
	}
	return c.send(ctx, chatID, model.ImageContent(imageURL, caption), backend.SendRequest{
		Type:      model.KindImage,
		ImageURL:  imageURL,
		Caption:   caption,
		AgentName: agentName,
	})
}

// SendProduct sends a product card.
func (c *Controller) SendProduct(ctx context.Context, chatID string, product model.Product, agentName string) (SendReceipt, error) {
	if strings.TrimSpace(product.ProductID) == "" {
		return SendReceipt{}, model.NewValidationError("productId", "required")
	}
	if strings.TrimSpace(product.Name) == "" {
		return SendReceipt{}, model.NewValidationError("name", "required")
	}
	return c.send(ctx, chatID, model.ProductContent(product), backend.SendRequest{
		Type:      model.KindProduct,
		Product:   &product,
		AgentName: agentName,
	})
}

// send inserts the optimistic entry, dispatches the request off the loop and settles the
// entry when the backend answers: bound to the returned id, or removed on failure.
func (c *Controller) send(ctx context.Context, chatID string, content model.Content, req backend.SendRequest) (SendReceipt, error) {
	action := "send_" + string(req.Type)

	return call(ctx, c, func(lctx context.Context, out chan<- reply[SendReceipt]) {
		if _, ok := c.store.Chat(chatID); !ok {
			out <- reply[SendReceipt]{err: model.ErrChatNotFound}
			return
		}

		pending := c.rec.NewPending(chatID, content, req.AgentName)
		receipt := SendReceipt{ChatID: chatID, TempID: pending.MessageID}
		if chatID == c.store.OpenChat() {
			c.emit(model.EventMessagesChanged, chatID, "pending", map[string]any{"tempId": pending.MessageID})
		}

		c.goAsync(func() {
			sctx, cancel := context.WithTimeout(lctx, c.cfg.ActionTimeout)
			defer cancel()
			res, err := c.backend.Send(sctx, chatID, req)

			c.post(func(context.Context) {
				metrics.RecordAction(action, err)
				if err != nil {
					removed := c.rec.Fail(chatID, pending.MessageID)
					c.log.Warn("send failed",
						zap.String("chat_id", chatID),
						zap.String("temp_id", pending.MessageID),
						zap.Bool("pending_removed", removed),
						zap.Error(err),
					)
					c.recordSendFailure(audit.SendFailure{
						ChatID: chatID,
						TempID: pending.MessageID,
						Kind:   string(req.Type),
						Reason: err.Error(),
					})
					c.emit(model.EventActionFailed, chatID, action, map[string]any{"tempId": pending.MessageID, "error": err.Error()})
					if removed {
						c.emit(model.EventMessagesChanged, chatID, "pending_removed", map[string]any{"tempId": pending.MessageID})
					}
					out <- reply[SendReceipt]{err: &model.ActionFailed{Action: action, ChatID: chatID, Err: err}}
					return
				}

				receipt.MessageID = res.MessageID
				c.rec.Bind(chatID, pending.MessageID, res.MessageID)
				out <- reply[SendReceipt]{val: receipt}
			})
		})
	})
}

func (c *Controller) recordSendFailure(f audit.SendFailure) {
	if c.audit == nil {
		return
	}
	c.goAsync(func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ActionTimeout)
		defer cancel()
		if err := c.audit.LogSendFailure(ctx, f); err != nil {
			c.log.Error("failed to record send failure", zap.Error(err))
		}
	})
}
