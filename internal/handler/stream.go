package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/inbox-console/internal/middleware"
	"github.com/capitalize-ai/inbox-console/internal/model"
	"github.com/capitalize-ai/inbox-console/pkg/logger"
	"github.com/capitalize-ai/inbox-console/pkg/metrics"
)

// Subscriber delivers live console events.
type Subscriber interface {
	Subscribe() (<-chan model.ConsoleEvent, func())
}

// Replayer returns published events after a stream sequence.
type Replayer interface {
	ReplayEvents(ctx context.Context, tenantID, sessionID string, afterSequence uint64, limit int) ([]model.ConsoleEvent, error)
}

// StreamHandler serves console events over SSE.
type StreamHandler struct {
	events    Subscriber
	replayer  Replayer
	tenantID  string
	sessionID string
	heartbeat time.Duration
	logger    *logger.Logger
}

// NewStreamHandler creates a new stream handler. replayer may be nil, which disables replay.
func NewStreamHandler(events Subscriber, replayer Replayer, tenantID, sessionID string, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		events:    events,
		replayer:  replayer,
		tenantID:  tenantID,
		sessionID: sessionID,
		heartbeat: 30 * time.Second,
		logger:    log,
	}
}

// ReplayCompleteEvent represents the completion of event replay.
type ReplayCompleteEvent struct {
	LastSequence uint64 `json:"last_sequence"`
	EventCount   int    `json:"event_count"`
}

// Stream handles GET /api/v1/stream
// Supports ?after_sequence=N to replay published events before going live. Sequences are
// stream positions, so a client resumes with the last sequence it received.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	var afterSequence uint64
	replay := false
	seqStr := r.URL.Query().Get("after_sequence")
	if seqStr == "" {
		// EventSource sends the last id it saw when it reconnects.
		seqStr = r.Header.Get("Last-Event-ID")
	}
	if seqStr != "" {
		seq, err := strconv.ParseUint(seqStr, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid after_sequence")
			return
		}
		afterSequence = seq
		replay = h.replayer != nil
	}

	// Subscribe before replaying so no live event falls between the two.
	events, cancel := h.events.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	userID := middleware.GetUserID(ctx)
	sendSSEEvent(w, flusher, "connected", map[string]string{
		"tenant_id":  h.tenantID,
		"session_id": h.sessionID,
	})

	// Live events that were already sent by the replay are skipped.
	var replayed uint64
	if replay {
		replayed = h.replay(ctx, w, flusher, afterSequence)
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected", zap.String("user_id", userID))
			return

		case event, ok := <-events:
			if !ok {
				return
			}
			if event.Sequence != 0 && event.Sequence <= replayed {
				continue
			}
			if err := sendConsoleEvent(w, flusher, event); err != nil {
				h.logger.Warn("failed to write SSE event", zap.Error(err))
				return
			}

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", &model.HeartbeatEvent{
				Timestamp: time.Now(),
			})
		}
	}
}

// replay sends stored events after afterSequence and returns the last sequence sent.
func (h *StreamHandler) replay(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, afterSequence uint64) uint64 {
	lastSequence := afterSequence
	total := 0

	for {
		batch, err := h.replayer.ReplayEvents(ctx, h.tenantID, h.sessionID, lastSequence, 100)
		if err != nil {
			h.logger.Error("failed to replay events", zap.Error(err))
			sendSSEEvent(w, flusher, "error", map[string]string{
				"code":    "replay_error",
				"message": "failed to replay events",
			})
			return lastSequence
		}
		for _, event := range batch {
			sendConsoleEvent(w, flusher, event)
			lastSequence = event.Sequence
			total++
		}
		if len(batch) < 100 {
			break
		}
	}

	sendSSEEvent(w, flusher, "replay_complete", &ReplayCompleteEvent{
		LastSequence: lastSequence,
		EventCount:   total,
	})
	return lastSequence
}

// sendConsoleEvent writes a console event with its stream sequence as the SSE id.
func sendConsoleEvent(w http.ResponseWriter, flusher http.Flusher, event model.ConsoleEvent) error {
	if event.Sequence == 0 {
		return sendSSEEvent(w, flusher, string(event.Type), event)
	}
	if _, err := fmt.Fprintf(w, "id: %d\n", event.Sequence); err != nil {
		return err
	}
	return sendSSEEvent(w, flusher, string(event.Type), event)
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()

	return nil
}
