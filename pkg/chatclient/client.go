// Package chatclient is the client side of the conversation sync protocol:
// it submits messages, polls a conversation and merges what it finds into a
// local transcript.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"estate-assist-go/internal/model"
)

// ErrNotFound is returned by a Source when the conversation does not exist yet.
var ErrNotFound = errors.New("conversation not found")

// Source yields the authoritative message list of a conversation.
type Source interface {
	Fetch(ctx context.Context, conversationID string) ([]model.ChatMessage, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, conversationID string) ([]model.ChatMessage, error)

func (f SourceFunc) Fetch(ctx context.Context, conversationID string) ([]model.ChatMessage, error) {
	return f(ctx, conversationID)
}

// SubmitRequest mirrors the ingress request body.
type SubmitRequest struct {
	Content        string  `json:"content"`
	ConversationID string  `json:"conversationId,omitempty"`
	UserID         *string `json:"userId,omitempty"`
}

// SubmitResponse is the immediate acknowledgement.
type SubmitResponse struct {
	ConversationID string    `json:"conversationId"`
	MessageID      string    `json:"messageId"`
	Text           string    `json:"text"`
	Timestamp      time.Time `json:"timestamp"`
	Pending        bool      `json:"pending"`
}

// HTTPClient talks to the server's public API.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithToken sends a bearer token identifying the caller.
func WithToken(token string) Option {
	return func(c *HTTPClient) { c.token = token }
}

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.client = hc }
}

// NewHTTPClient creates a client for the server at baseURL, e.g. http://localhost:8080.
func NewHTTPClient(baseURL string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch implements Source against GET /api/v1/conversations/:id/messages.
func (c *HTTPClient) Fetch(ctx context.Context, conversationID string) ([]model.ChatMessage, error) {
	endpoint := fmt.Sprintf("%s/api/v1/conversations/%s/messages", c.baseURL, url.PathEscape(conversationID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("fetch messages", resp)
	}
	var msgs []model.ChatMessage
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return msgs, nil
}

// Submit posts a user message to POST /api/v1/chat.
func (c *HTTPClient) Submit(ctx context.Context, in SubmitRequest) (*SubmitResponse, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submit message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("submit message", resp)
	}
	var out SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode submit response: %w", err)
	}
	return &out, nil
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// statusError turns a non-2xx response into an error carrying the server's message.
func statusError(op string, resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return fmt.Errorf("%s: %s: %s", op, resp.Status, body.Error)
	}
	return fmt.Errorf("%s: %s", op, resp.Status)
}
