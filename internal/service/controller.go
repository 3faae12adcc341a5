// Package service provides the console controller, the single owner of conversation state.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/inbox-console/internal/audit"
	"github.com/capitalize-ai/inbox-console/internal/backend"
	"github.com/capitalize-ai/inbox-console/internal/model"
	"github.com/capitalize-ai/inbox-console/internal/ownership"
	"github.com/capitalize-ai/inbox-console/internal/projector"
	"github.com/capitalize-ai/inbox-console/internal/reconcile"
	"github.com/capitalize-ai/inbox-console/internal/store"
	"github.com/capitalize-ai/inbox-console/internal/transport"
	"github.com/capitalize-ai/inbox-console/pkg/logger"
	"github.com/capitalize-ai/inbox-console/pkg/metrics"
)

var (
	// ErrStopped is returned for requests submitted after the controller stopped.
	ErrStopped = errors.New("console controller stopped")

	// ErrSuperseded is returned by OpenChat when another chat was opened before history arrived.
	ErrSuperseded = errors.New("chat switched before history arrived")
)

// Backend is the REST surface the controller calls.
type Backend interface {
	FetchChats(ctx context.Context) ([]model.Conversation, error)
	FetchHistory(ctx context.Context, chatID string, limit int) ([]model.Message, error)
	Send(ctx context.Context, chatID string, req backend.SendRequest) (backend.SendResult, error)
	Ownership(ctx context.Context, chatID string, action model.Action, req backend.OwnershipRequest) (backend.OwnershipResult, error)
}

// EventSink receives console events for downstream consumers.
type EventSink interface {
	PublishEvent(ctx context.Context, event *model.ConsoleEvent) (uint64, error)
}

// AuditLog persists committed transitions and failed sends.
type AuditLog interface {
	LogTransition(ctx context.Context, t model.OwnershipTransition) error
	LogSendFailure(ctx context.Context, f audit.SendFailure) error
	History(ctx context.Context, chatID string, limit int) ([]model.OwnershipTransition, error)
}

// Config configures the controller.
type Config struct {
	TenantID           string
	SessionID          string
	InboxSize          int
	HistoryLimit       int
	ActionTimeout      time.Duration
	RefetchOnReconnect bool
}

type command func(ctx context.Context)

// Controller serializes every state mutation through a bounded inbox drained by Run.
// Backend calls run on their own goroutines and post their completion back to the inbox.
type Controller struct {
	cfg     Config
	log     *logger.Logger
	backend Backend
	sink    EventSink
	audit   AuditLog

	inbox chan command
	done  chan struct{}
	wg    sync.WaitGroup

	// Owned by the Run goroutine.
	store *store.ConversationStore
	rec   *reconcile.Reconciler
	own   *ownership.Machine

	connMu    sync.RWMutex
	connState transport.State

	subsMu  sync.Mutex
	subs    map[int]chan model.ConsoleEvent
	nextSub int

	// outbox feeds the publisher goroutine, which stores events in the sink in emit
	// order and stamps each with its stream sequence before fanning it out.
	outbox  chan model.ConsoleEvent
	stopped <-chan struct{}
}

// outboxSize bounds the events waiting for the sink. emit blocks when it is full.
const outboxSize = 1024

// NewController creates a controller. sink and auditLog may be nil.
func NewController(cfg Config, b Backend, sink EventSink, auditLog AuditLog, log *logger.Logger) *Controller {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 256
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = 15 * time.Second
	}

	s := store.New()
	return &Controller{
		cfg:       cfg,
		log:       log.Named("console").WithSession(cfg.TenantID, cfg.SessionID),
		backend:   b,
		sink:      sink,
		audit:     auditLog,
		inbox:     make(chan command, cfg.InboxSize),
		done:      make(chan struct{}),
		store:     s,
		rec:       reconcile.New(s),
		own:       ownership.NewMachine(s),
		connState: transport.StateDisconnected,
		subs:      make(map[int]chan model.ConsoleEvent),
		outbox:    make(chan model.ConsoleEvent, outboxSize),
	}
}

// Run drains the inbox until ctx is cancelled. It must be called exactly once.
func (c *Controller) Run(ctx context.Context) error {
	c.log.Info("console controller started", zap.Int("inbox_size", cap(c.inbox)))
	c.stopped = ctx.Done()
	if c.sink != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.publishLoop(ctx)
		}()
	}
	defer func() {
		close(c.done)
		c.wg.Wait()
		c.log.Info("console controller stopped")
	}()

	for {
		select {
		case cmd := <-c.inbox:
			cmd(ctx)
			metrics.InboxDepth.Set(float64(len(c.inbox)))
			metrics.PendingMessages.Set(float64(c.store.PendingCount()))
		case <-ctx.Done():
			return nil
		}
	}
}

// submit enqueues cmd, blocking while the inbox is full.
func (c *Controller) submit(ctx context.Context, cmd command) error {
	select {
	case c.inbox <- cmd:
		return nil
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post enqueues a completion from a background goroutine.
func (c *Controller) post(cmd command) {
	select {
	case c.inbox <- cmd:
	case <-c.done:
	}
}

// goAsync runs fn off the loop. It must be called from the Run goroutine.
func (c *Controller) goAsync(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

type reply[T any] struct {
	val T
	err error
}

// call runs fn on the loop and waits for the value it delivers. fn must eventually
// send exactly one reply, either directly or from a posted completion.
func call[T any](ctx context.Context, c *Controller, fn func(ctx context.Context, out chan<- reply[T])) (T, error) {
	var zero T
	out := make(chan reply[T], 1)
	if err := c.submit(ctx, func(lctx context.Context) { fn(lctx, out) }); err != nil {
		return zero, err
	}
	select {
	case r := <-out:
		return r.val, r.err
	case <-c.done:
		return zero, ErrStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// query runs a read-only fn on the loop.
func query[T any](ctx context.Context, c *Controller, fn func() T) (T, error) {
	return call(ctx, c, func(_ context.Context, out chan<- reply[T]) {
		out <- reply[T]{val: fn()}
	})
}

// Subscribe returns a channel of console events and a function that cancels the subscription.
// Events are dropped for subscribers that fall behind.
func (c *Controller) Subscribe() (<-chan model.ConsoleEvent, func()) {
	ch := make(chan model.ConsoleEvent, 64)

	c.subsMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subsMu.Lock()
			delete(c.subs, id)
			c.subsMu.Unlock()
			close(ch)
		})
	}
}

// emit delivers an event to subscribers, through the sink when one is configured.
// It is called from the loop.
func (c *Controller) emit(eventType model.EventType, chatID, reason string, metadata map[string]any) {
	event := model.ConsoleEvent{
		ID:        uuid.NewString(),
		TenantID:  c.cfg.TenantID,
		SessionID: c.cfg.SessionID,
		ChatID:    chatID,
		Type:      eventType,
		Reason:    reason,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}

	if c.sink == nil {
		c.fanOut(event)
		return
	}
	select {
	case c.outbox <- event:
	case <-c.stopped:
	}
}

// publishLoop stores events in the sink one at a time so the stream keeps emit order.
// Subscribers see an event only after the sink assigned its sequence, which lets a
// reconnecting client resume replay from the last sequence it saw.
func (c *Controller) publishLoop(ctx context.Context) {
	for {
		select {
		case event := <-c.outbox:
			pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			seq, err := c.sink.PublishEvent(pctx, &event)
			cancel()
			if err != nil {
				c.log.Warn("failed to publish console event", zap.String("type", string(event.Type)), zap.Error(err))
			} else {
				event.Sequence = seq
			}
			c.fanOut(event)
		case <-ctx.Done():
			return
		}
	}
}

// fanOut hands event to every subscriber, dropping it for those that fall behind.
func (c *Controller) fanOut(event model.ConsoleEvent) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// ConnectionState returns the last known transport state.
func (c *Controller) ConnectionState() transport.State {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connState
}

// UpsertChat merges a partial conversation into the cache.
func (c *Controller) UpsertChat(ctx context.Context, patch model.ChatPatch) (model.Conversation, error) {
	return call(ctx, c, func(_ context.Context, out chan<- reply[model.Conversation]) {
		conv, err := c.store.UpsertChat(patch)
		if err == nil {
			c.emit(model.EventChatsChanged, patch.ChatID, "upsert", nil)
		}
		out <- reply[model.Conversation]{val: conv, err: err}
	})
}

// List returns the chats visible under tab that match query.
func (c *Controller) List(ctx context.Context, tab projector.Tab, q, currentUserID string) ([]model.Conversation, error) {
	return query(ctx, c, func() []model.Conversation {
		return projector.Project(c.store.Chats(), tab, q, currentUserID)
	})
}

// Chat returns one chat by id.
func (c *Controller) Chat(ctx context.Context, chatID string) (model.Conversation, error) {
	return call(ctx, c, func(_ context.Context, out chan<- reply[model.Conversation]) {
		conv, ok := c.store.Chat(chatID)
		if !ok {
			out <- reply[model.Conversation]{err: model.ErrChatNotFound}
			return
		}
		out <- reply[model.Conversation]{val: conv}
	})
}

// OpenMessages is the open chat and its ordered messages.
type OpenMessages struct {
	ChatID   string          `json:"chatId"`
	Messages []model.Message `json:"messages"`
}

// Messages returns the open chat's messages in display order.
func (c *Controller) Messages(ctx context.Context) (OpenMessages, error) {
	return query(ctx, c, func() OpenMessages {
		return OpenMessages{ChatID: c.store.OpenChat(), Messages: c.store.Messages()}
	})
}

// AuditHistory returns the recorded ownership transitions of a chat, newest first.
func (c *Controller) AuditHistory(ctx context.Context, chatID string, limit int) ([]model.OwnershipTransition, error) {
	if c.audit == nil {
		return []model.OwnershipTransition{}, nil
	}
	return c.audit.History(ctx, chatID, limit)
}
