package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/inbox-console/internal/middleware"
	"github.com/capitalize-ai/inbox-console/internal/model"
	"github.com/capitalize-ai/inbox-console/internal/service"
	"github.com/capitalize-ai/inbox-console/pkg/logger"
)

// ActionHandler handles sends and ownership actions.
type ActionHandler struct {
	console *service.Controller
	logger  *logger.Logger
}

// NewActionHandler creates a new action handler.
func NewActionHandler(console *service.Controller, log *logger.Logger) *ActionHandler {
	return &ActionHandler{
		console: console,
		logger:  log,
	}
}

// SendRequest is the body of POST /api/v1/chats/{id}/messages.
type SendRequest struct {
	Type     model.ContentKind `json:"type"`
	Text     string            `json:"text,omitempty"`
	ImageURL string            `json:"imageUrl,omitempty"`
	Caption  string            `json:"caption,omitempty"`
	Product  *model.Product    `json:"product,omitempty"`
}

// HandoverRequest is the body of POST /api/v1/chats/{id}/handover.
type HandoverRequest struct {
	TargetAgentID   string `json:"targetAgentId"`
	TargetAgentName string `json:"targetAgentName,omitempty"`
	Notes           string `json:"notes,omitempty"`
}

// Send handles POST /api/v1/chats/{id}/messages
func (h *ActionHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	chatID := chi.URLParam(r, "id")
	if err := middleware.ValidateChatID(chatID); err != nil {
		writeActionError(w, err)
		return
	}

	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	agentName := middleware.GetUserName(ctx)
	var (
		receipt service.SendReceipt
		err     error
	)
	switch req.Type {
	case model.KindText, "":
		if err := middleware.ValidateMessageText(req.Text); err != nil {
			writeActionError(w, err)
			return
		}
		receipt, err = h.console.SendText(ctx, chatID, req.Text, agentName)
	case model.KindImage:
		receipt, err = h.console.SendImage(ctx, chatID, req.ImageURL, req.Caption, agentName)
	case model.KindProduct:
		if req.Product == nil {
			writeActionError(w, model.NewValidationError("product", "required"))
			return
		}
		receipt, err = h.console.SendProduct(ctx, chatID, *req.Product, agentName)
	default:
		writeActionError(w, model.NewValidationError("type", "must be text, image or product"))
		return
	}
	if err != nil {
		writeActionError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, receipt)
}

// Takeover handles POST /api/v1/chats/{id}/takeover
func (h *ActionHandler) Takeover(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	chatID := chi.URLParam(r, "id")
	if err := middleware.ValidateChatID(chatID); err != nil {
		writeActionError(w, err)
		return
	}

	conv, err := h.console.Takeover(ctx, chatID, middleware.GetUserID(ctx), middleware.GetUserName(ctx))
	if err != nil {
		writeActionError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// Release handles POST /api/v1/chats/{id}/release
func (h *ActionHandler) Release(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	chatID := chi.URLParam(r, "id")
	if err := middleware.ValidateChatID(chatID); err != nil {
		writeActionError(w, err)
		return
	}

	conv, err := h.console.Release(ctx, chatID, middleware.GetUserID(ctx))
	if err != nil {
		writeActionError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// Handover handles POST /api/v1/chats/{id}/handover
func (h *ActionHandler) Handover(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	chatID := chi.URLParam(r, "id")
	if err := middleware.ValidateChatID(chatID); err != nil {
		writeActionError(w, err)
		return
	}

	var req HandoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateAgentID("targetAgentId", req.TargetAgentID); err != nil {
		writeActionError(w, err)
		return
	}
	if err := middleware.ValidateNotes(req.Notes); err != nil {
		writeActionError(w, err)
		return
	}

	conv, err := h.console.Handover(ctx, chatID, middleware.GetUserID(ctx), req.TargetAgentID, req.TargetAgentName, req.Notes)
	if err != nil {
		writeActionError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}
