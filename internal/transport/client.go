package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"github.com/qmuntal/stateless"
	"go.uber.org/zap"

	"github.com/capitalize-ai/inbox-console/internal/model"
	"github.com/capitalize-ai/inbox-console/pkg/logger"
	"github.com/capitalize-ai/inbox-console/pkg/metrics"
)

const defaultReadLimit = 4 << 20

// Conn is one open event stream that has already been subscribed.
type Conn struct {
	ws        *websocket.Conn
	sessionID string
}

// Connect opens the event stream for sessionID and sends the subscribe frame.
// An upgrade rejected with 401 or 403 yields a ConnectionError with Unauthorized set.
func Connect(ctx context.Context, rawURL, sessionID, token string) (*Conn, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	ws, resp, err := websocket.Dial(ctx, rawURL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		cerr := &model.ConnectionError{SessionID: sessionID, Err: err}
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			cerr.Unauthorized = true
		}
		return nil, cerr
	}
	ws.SetReadLimit(defaultReadLimit)

	c := &Conn{ws: ws, sessionID: sessionID}
	if err := c.writeJSON(ctx, model.Frame{Type: model.FrameSubscribe, SessionID: sessionID}); err != nil {
		ws.Close(websocket.StatusInternalError, "subscribe failed")
		return nil, &model.ConnectionError{SessionID: sessionID, Err: fmt.Errorf("failed to subscribe: %w", err)}
	}
	return c, nil
}

func (c *Conn) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// ReadFrame blocks until the next frame arrives. Frames that are not valid JSON are
// returned as errors wrapped in a *FrameError so the caller can skip them.
func (c *Conn) ReadFrame(ctx context.Context) (model.Frame, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		cerr := &model.ConnectionError{SessionID: c.sessionID, Err: err}
		if websocket.CloseStatus(err) == websocket.StatusPolicyViolation {
			cerr.Unauthorized = true
		}
		return model.Frame{}, cerr
	}

	var f model.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return model.Frame{}, &FrameError{Err: err}
	}
	return f, nil
}

// Close closes the connection normally.
func (c *Conn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "client closing")
}

// FrameError reports a frame that could not be decoded.
type FrameError struct {
	Err error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("malformed frame: %v", e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// Config configures a Client.
type Config struct {
	URL        string
	SessionID  string
	Token      string
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxRetries int // 0 retries forever
}

// Client keeps the event stream of one session alive and delivers frames in receipt order.
type Client struct {
	cfg Config
	log *logger.Logger
	sm  *stateless.StateMachine
	bo  *backoff.ExponentialBackOff

	eventHandlers []func(model.Frame)
	stateHandlers []func(from, to State)
	mu            sync.RWMutex

	reconnects int
}

// NewClient creates a transport client in the disconnected state.
func NewClient(cfg Config, log *logger.Logger) *Client {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.BaseDelay
	bo.MaxInterval = cfg.MaxDelay
	bo.MaxElapsedTime = 0
	bo.Reset()

	c := &Client{
		cfg: cfg,
		log: log.Named("transport"),
		bo:  bo,
	}
	c.sm = newMachine(c.notifyState)
	return c
}

// OnEvent registers a handler called once per frame, in receipt order, from the read loop.
func (c *Client) OnEvent(handler func(model.Frame)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eventHandlers = append(c.eventHandlers, handler)
}

// OnStateChange registers a handler for connection state transitions.
func (c *Client) OnStateChange(handler func(from, to State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateHandlers = append(c.stateHandlers, handler)
}

// State returns the current connection state.
func (c *Client) State() State {
	s, err := c.sm.State(context.Background())
	if err != nil {
		return StateDisconnected
	}
	return s.(State)
}

// Reconnects returns the number of reconnection attempts made so far.
func (c *Client) Reconnects() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reconnects
}

// Run connects and keeps the stream alive until ctx is cancelled, the server rejects the
// credentials, or MaxRetries consecutive attempts fail. Every connection re-subscribes.
func (c *Client) Run(ctx context.Context) error {
	c.fire(TriggerConnect)

	failures := 0
	for {
		conn, err := Connect(ctx, c.cfg.URL, c.cfg.SessionID, c.cfg.Token)
		if err == nil {
			failures = 0
			c.bo.Reset()
			c.fire(TriggerConnected)
			c.log.Info("event stream subscribed")
			err = c.readLoop(ctx, conn)
			conn.Close()
		}

		if ctx.Err() != nil {
			c.fire(TriggerClose)
			return nil
		}

		var cerr *model.ConnectionError
		if errors.As(err, &cerr) && cerr.Unauthorized {
			c.log.Error("event stream rejected credentials", zap.Error(err))
			c.fire(TriggerClose)
			return err
		}

		c.fire(TriggerConnectionLost)
		failures++
		if c.cfg.MaxRetries > 0 && failures > c.cfg.MaxRetries {
			c.fire(TriggerClose)
			return &model.ConnectionError{
				SessionID: c.cfg.SessionID,
				Err:       fmt.Errorf("giving up after %d attempts: %w", failures, err),
			}
		}

		delay := c.bo.NextBackOff()
		c.mu.Lock()
		c.reconnects++
		c.mu.Unlock()
		metrics.TransportReconnectsTotal.WithLabelValues(c.cfg.SessionID).Inc()
		c.log.Warn("event stream lost, scheduling reconnect",
			zap.Error(err),
			zap.Duration("delay", delay),
			zap.Int("attempt", failures),
		)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			c.fire(TriggerClose)
			return nil
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn *Conn) error {
	for {
		frame, err := conn.ReadFrame(ctx)
		if err != nil {
			var ferr *FrameError
			if errors.As(err, &ferr) {
				c.log.Warn("skipping malformed frame", zap.Error(err))
				metrics.FramesTotal.WithLabelValues("malformed").Inc()
				continue
			}
			return err
		}

		metrics.FramesTotal.WithLabelValues(string(frame.Type)).Inc()

		c.mu.RLock()
		handlers := make([]func(model.Frame), len(c.eventHandlers))
		copy(handlers, c.eventHandlers)
		c.mu.RUnlock()

		for _, h := range handlers {
			h(frame)
		}
	}
}

func (c *Client) fire(trigger Trigger) {
	if err := c.sm.Fire(trigger); err != nil {
		c.log.Error("transport state transition failed", zap.String("trigger", string(trigger)), zap.Error(err))
	}
}

func (c *Client) notifyState(from, to State) {
	c.log.Info("transport state transition", zap.String("from", string(from)), zap.String("to", string(to)))
	metrics.SetTransportConnected(c.cfg.SessionID, to == StateConnected)

	c.mu.RLock()
	handlers := make([]func(from, to State), len(c.stateHandlers))
	copy(handlers, c.stateHandlers)
	c.mu.RUnlock()

	for _, h := range handlers {
		h(from, to)
	}
}
