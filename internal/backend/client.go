// Package backend is the REST client for the console backend: history, snapshots, sends and ownership.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/capitalize-ai/inbox-console/internal/model"
	"github.com/capitalize-ai/inbox-console/pkg/metrics"
)

const tracerName = "github.com/capitalize-ai/inbox-console/internal/backend"

// ErrNoOwnership is returned when an ownership call succeeds without naming the resulting owner.
var ErrNoOwnership = errors.New("backend response carries no ownership fragment")

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: backend returned status %d: %s", e.Operation, e.StatusCode, e.Body)
}

// Config configures the client.
type Config struct {
	BaseURL   string
	SessionID string
	Token     string
	Timeout   time.Duration
}

// Client calls the backend on behalf of one device session.
type Client struct {
	baseURL   string
	sessionID string
	token     string
	client    *http.Client
}

// NewClient creates a backend client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		sessionID: cfg.SessionID,
		token:     cfg.Token,
		client:    &http.Client{Timeout: timeout},
	}
}

// SendRequest is the body of a send call.
type SendRequest struct {
	Type      model.ContentKind `json:"type"`
	Text      string            `json:"text,omitempty"`
	ImageURL  string            `json:"imageUrl,omitempty"`
	Caption   string            `json:"caption,omitempty"`
	Product   *model.Product    `json:"product,omitempty"`
	AgentName string            `json:"agentName,omitempty"`
}

// SendResult is the answer of a send call. MessageID may be empty when the backend cannot
// provide the authoritative id synchronously.
type SendResult struct {
	MessageID string `json:"messageId"`
}

// OwnershipRequest is the body of takeover, release and handover calls.
type OwnershipRequest struct {
	ActorAgentID    string `json:"actorAgentId,omitempty"`
	AgentID         string `json:"agentId,omitempty"`
	AgentName       string `json:"agentName,omitempty"`
	TargetAgentID   string `json:"targetAgentId,omitempty"`
	TargetAgentName string `json:"targetAgentName,omitempty"`
	Notes           string `json:"notes,omitempty"`
}

// OwnershipResult is the authoritative conversation fragment returned by ownership calls.
type OwnershipResult struct {
	model.Ownership
	Notes *string `json:"notes,omitempty"`
}

// ownershipResponse keeps humanTakeover as a pointer so an empty body is not read as a release.
type ownershipResponse struct {
	HumanTakeover     *bool   `json:"humanTakeover"`
	AssignedAgentID   string  `json:"assignedAgentId"`
	AssignedAgentName string  `json:"assignedAgentName"`
	Notes             *string `json:"notes"`
}

type historyResponse struct {
	Messages []model.Message `json:"messages"`
}

type chatsResponse struct {
	Chats []model.Conversation `json:"chats"`
}

// FetchChats returns the chat snapshot of the session.
func (c *Client) FetchChats(ctx context.Context) ([]model.Conversation, error) {
	var resp chatsResponse
	path := fmt.Sprintf("/sessions/%s/chats", url.PathEscape(c.sessionID))
	if err := c.do(ctx, "fetch_chats", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Chats, nil
}

// FetchHistory returns a page of a chat's messages in whatever order the backend keeps them.
func (c *Client) FetchHistory(ctx context.Context, chatID string, limit int) ([]model.Message, error) {
	var resp historyResponse
	path := fmt.Sprintf("/sessions/%s/chats/%s/messages?limit=%s",
		url.PathEscape(c.sessionID), url.PathEscape(chatID), strconv.Itoa(limit))
	if err := c.do(ctx, "fetch_history", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// Send dispatches a text, image or product-card message.
func (c *Client) Send(ctx context.Context, chatID string, req SendRequest) (SendResult, error) {
	var resp SendResult
	path := fmt.Sprintf("/sessions/%s/chats/%s/messages", url.PathEscape(c.sessionID), url.PathEscape(chatID))
	if err := c.do(ctx, "send_"+string(req.Type), http.MethodPost, path, req, &resp); err != nil {
		return SendResult{}, err
	}
	return resp, nil
}

// Ownership performs a takeover, release or handover and returns the authoritative fragment.
func (c *Client) Ownership(ctx context.Context, chatID string, action model.Action, req OwnershipRequest) (OwnershipResult, error) {
	var resp ownershipResponse
	path := fmt.Sprintf("/sessions/%s/chats/%s/%s", url.PathEscape(c.sessionID), url.PathEscape(chatID), action)
	if err := c.do(ctx, string(action), http.MethodPost, path, req, &resp); err != nil {
		return OwnershipResult{}, err
	}
	if resp.HumanTakeover == nil {
		return OwnershipResult{}, fmt.Errorf("%s: %w", action, ErrNoOwnership)
	}
	return OwnershipResult{
		Ownership: model.Ownership{
			HumanTakeover:     *resp.HumanTakeover,
			AssignedAgentID:   resp.AssignedAgentID,
			AssignedAgentName: resp.AssignedAgentName,
		},
		Notes: resp.Notes,
	}, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) (err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "backend."+op)
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", c.sessionID),
		attribute.String("http.method", method),
	)

	start := time.Now()
	defer func() {
		metrics.RecordBackendCall(op, err, time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Operation: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
