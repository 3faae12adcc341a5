// Package handler provides HTTP handlers for the console API.
package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/inbox-console/internal/middleware"
	"github.com/capitalize-ai/inbox-console/internal/projector"
	"github.com/capitalize-ai/inbox-console/internal/service"
	"github.com/capitalize-ai/inbox-console/pkg/logger"
)

// ChatHandler handles chat list, chat detail and open-chat endpoints.
type ChatHandler struct {
	console *service.Controller
	logger  *logger.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(console *service.Controller, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		console: console,
		logger:  log,
	}
}

// List handles GET /api/v1/chats?tab=&q=
func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tab := projector.TabAll
	if v := r.URL.Query().Get("tab"); v != "" {
		parsed, ok := projector.ParseTab(v)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown tab")
			return
		}
		tab = parsed
	}

	chats, err := h.console.List(ctx, tab, r.URL.Query().Get("q"), middleware.GetUserID(ctx))
	if err != nil {
		h.logger.Error("failed to list chats", zap.Error(err))
		writeActionError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"chats": chats,
		"total": len(chats),
		"tab":   tab,
	})
}

// Get handles GET /api/v1/chats/{id}
func (h *ChatHandler) Get(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "id")
	if err := middleware.ValidateChatID(chatID); err != nil {
		writeActionError(w, err)
		return
	}

	conv, err := h.console.Chat(r.Context(), chatID)
	if err != nil {
		writeActionError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// Open handles POST /api/v1/chats/{id}/open
func (h *ChatHandler) Open(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "id")
	if err := middleware.ValidateChatID(chatID); err != nil {
		writeActionError(w, err)
		return
	}

	res, err := h.console.OpenChat(r.Context(), chatID)
	if err != nil {
		h.logger.Warn("failed to open chat", zap.String("chat_id", chatID), zap.Error(err))
		writeActionError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// Messages handles GET /api/v1/messages
func (h *ChatHandler) Messages(w http.ResponseWriter, r *http.Request) {
	res, err := h.console.Messages(r.Context())
	if err != nil {
		writeActionError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// Connection handles GET /api/v1/connection
func (h *ChatHandler) Connection(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"state": string(h.console.ConnectionState()),
	})
}

// Audit handles GET /api/v1/chats/{id}/audit?limit=
func (h *ChatHandler) Audit(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "id")
	if err := middleware.ValidateChatID(chatID); err != nil {
		writeActionError(w, err)
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	history, err := h.console.AuditHistory(r.Context(), chatID, limit)
	if err != nil {
		h.logger.Error("failed to read audit history", zap.String("chat_id", chatID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read audit history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"chatId":      chatID,
		"transitions": history,
	})
}
