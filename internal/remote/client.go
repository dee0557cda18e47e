package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dehqonjon/internal/auth"
	"dehqonjon/internal/models"
)

const (
	defaultTimeout = 15 * time.Second
	maxErrorBody   = 64 * 1024
)

// Client talks to the backend's /chat/sessions endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

// NewClient builds a client for the API rooted at baseURL (".../api").
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

type createSessionRequest struct {
	Title string `json:"title"`
}

type errorBody struct {
	Detail string `json:"detail"`
	Error  string `json:"error"`
}

// CreateSession creates an empty remote session.
func (c *Client) CreateSession(ctx context.Context, creds auth.Credentials, title string) (*models.RemoteSession, error) {
	var out models.RemoteSession
	if err := c.do(ctx, "create_session", creds, http.MethodPost, "/chat/sessions", createSessionRequest{Title: title}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListSessions returns the caller's sessions including their messages.
func (c *Client) ListSessions(ctx context.Context, creds auth.Credentials) ([]models.RemoteSession, error) {
	var out []models.RemoteSession
	if err := c.do(ctx, "list_sessions", creds, http.MethodGet, "/chat/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetSession fetches one remote session.
func (c *Client) GetSession(ctx context.Context, creds auth.Credentials, sessionID string) (*models.RemoteSession, error) {
	var out models.RemoteSession
	if err := c.do(ctx, "get_session", creds, http.MethodGet, "/chat/sessions/"+url.PathEscape(sessionID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AppendMessage pushes one message onto a remote session.
func (c *Client) AppendMessage(ctx context.Context, creds auth.Credentials, sessionID string, msg models.ChatMessage) error {
	path := "/chat/sessions/" + url.PathEscape(sessionID) + "/messages"
	return c.do(ctx, "append_message", creds, http.MethodPost, path, models.NewRemoteMessage(msg), nil)
}

// DeleteSession removes a remote session.
func (c *Client) DeleteSession(ctx context.Context, creds auth.Credentials, sessionID string) error {
	return c.do(ctx, "delete_session", creds, http.MethodDelete, "/chat/sessions/"+url.PathEscape(sessionID), nil, nil)
}

func (c *Client) do(ctx context.Context, op string, creds auth.Credentials, method, path string, body, out any) error {
	if !creds.Present() {
		return &SyncError{Kind: KindAuth, Op: op, Message: "no credentials", Cause: auth.ErrNoCredentials}
	}
	if creds.Expired(c.now()) {
		return &SyncError{Kind: KindAuth, Op: op, Message: "token expired"}
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", creds.AuthorizationHeader())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return newNetworkError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return statusError(op, resp.StatusCode, errorDetail(raw, resp.Status))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &SyncError{Kind: KindNetwork, Op: op, Status: resp.StatusCode, Message: "malformed response", Cause: err}
	}
	return nil
}

func errorDetail(raw []byte, fallback string) string {
	var body errorBody
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Detail != "" {
			return body.Detail
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return fallback
}
