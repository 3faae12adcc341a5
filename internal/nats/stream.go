package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/inbox-console/internal/model"
	"github.com/capitalize-ai/inbox-console/pkg/metrics"
)

const (
	// StreamName is the name of the console events stream.
	StreamName = "CONSOLE_EVENTS"

	// SubjectPrefix is the prefix for all console subjects.
	SubjectPrefix = "console"
)

// StreamManager handles JetStream stream operations.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStream ensures the console events stream exists.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	if _, err := js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      30 * 24 * time.Hour,
		MaxBytes:    10 * 1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Console ownership, delivery and connection events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// subjectToken makes an id safe for use as a single subject token.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(s)
}

// EventSubject returns the subject for an event.
func EventSubject(tenantID, sessionID, chatID string, eventType model.EventType) string {
	return fmt.Sprintf("%s.%s.%s.%s.event.%s", SubjectPrefix,
		subjectToken(tenantID), subjectToken(sessionID), subjectToken(chatID), eventType)
}

// SessionFilter returns the filter subject for all events of a session.
func SessionFilter(tenantID, sessionID string) string {
	return fmt.Sprintf("%s.%s.%s.>", SubjectPrefix, subjectToken(tenantID), subjectToken(sessionID))
}

// PublishEvent publishes an event and returns its stream sequence.
func (m *StreamManager) PublishEvent(ctx context.Context, event *model.ConsoleEvent) (uint64, error) {
	subject := EventSubject(event.TenantID, event.SessionID, event.ChatID, event.Type)

	data, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	ack, err := m.client.JetStream().Publish(ctx, subject, data)
	if err != nil {
		metrics.EventsPublishedTotal.WithLabelValues(string(event.Type), "error").Inc()
		return 0, fmt.Errorf("failed to publish event: %w", err)
	}
	metrics.EventsPublishedTotal.WithLabelValues(string(event.Type), "ok").Inc()

	return ack.Sequence, nil
}

// ReplayEvents returns up to limit events of a session published after afterSequence.
func (m *StreamManager) ReplayEvents(ctx context.Context, tenantID, sessionID string, afterSequence uint64, limit int) ([]model.ConsoleEvent, error) {
	js := m.client.JetStream()

	cfg := jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{SessionFilter(tenantID, sessionID)},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	}
	if afterSequence > 0 {
		cfg.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		cfg.OptStartSeq = afterSequence + 1
	}

	consumer, err := js.OrderedConsumer(ctx, StreamName, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	batch, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}

	var events []model.ConsoleEvent
	for msg := range batch.Messages() {
		var event model.ConsoleEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			continue
		}
		if meta, err := msg.Metadata(); err == nil {
			event.Sequence = meta.Sequence.Stream
		}
		events = append(events, event)
	}

	if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("batch error: %w", err)
	}

	return events, nil
}
