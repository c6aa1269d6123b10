// Package remote implements the HTTP client for the project-transparency
// backend, as consumed by the sync workers:
//
//   - POST /api/projects/{id}/progress        - create a chained progress report
//   - GET  /api/projects/{id}/progress/latest - current chain head
//   - POST /api/uploads/presign               - obtain a write-capable object URL
//   - PUT  {presigned URL}                    - binary payload upload
//   - POST /api/projects/{id}/media           - register an uploaded media asset
//   - POST /api/projects/{id}/tracks          - register an uploaded GPS track
//   - POST /api/auth/login                    - exchange credentials for tokens
//   - POST /api/auth/refresh                  - exchange the refresh token
//   - GET  /api/health                        - connectivity probe
//
// Every create/register request carries the entity's client_local_id so
// the server can deduplicate a retried submission that already succeeded
// before the client recorded the result.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 30 * time.Second

// maxResponseSize limits response body reads.
const maxResponseSize = 4 * 1024 * 1024 // 4MB

// Client is the backend HTTP client. It is safe for concurrent use by
// multiple sync workers.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu           sync.RWMutex
	token        string
	refreshToken string
}

// New creates a client for the given backend base URL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// NewWithToken creates a client with an access token and optional
// refresh token.
func NewWithToken(baseURL, token, refreshToken string) *Client {
	c := New(baseURL)
	c.token = token
	c.refreshToken = refreshToken
	return c
}

// SetTokens replaces the access and refresh tokens.
func (c *Client) SetTokens(token, refreshToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.refreshToken = refreshToken
}

// Token returns the current access token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// CreateProgressRequest is the body for the create-progress call.
type CreateProgressRequest struct {
	ProjectID    string   `json:"project_id"`
	Description  string   `json:"description"`
	Percent      int      `json:"percent"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	PreviousHash string   `json:"previous_hash,omitempty"`

	// ClientLocalID is the idempotency key: a retried submission that
	// already succeeded server-side is answered with the original
	// result instead of a duplicate chain entry.
	ClientLocalID string `json:"client_local_id"`
}

// CreateProgressResponse is the success body for the create-progress call.
type CreateProgressResponse struct {
	ServerID    string    `json:"server_id"`
	CurrentHash string    `json:"current_hash"`
	CreatedAt   time.Time `json:"created_at"`
}

// CreateProgress submits one progress entry.
//
// A 409 means the server's chain head differs from the submitted
// previous_hash (another device advanced the chain); callers must treat
// that as non-retryable and never guess a new previous_hash.
func (c *Client) CreateProgress(ctx context.Context, req *CreateProgressRequest) (*CreateProgressResponse, error) {
	var resp CreateProgressResponse
	path := fmt.Sprintf("/api/projects/%s/progress", url.PathEscape(req.ProjectID))
	if err := c.post(ctx, path, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LatestProgressResponse describes the server's current chain head for a
// project.
type LatestProgressResponse struct {
	ProjectID   string    `json:"project_id"`
	ServerID    string    `json:"server_id,omitempty"`
	Percent     int       `json:"percent"`
	CurrentHash string    `json:"current_hash,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// LatestProgress fetches the server's chain head for a project. Used to
// regenerate an entry after a chain conflict. An empty CurrentHash means
// the server has no entries for the project yet.
func (c *Client) LatestProgress(ctx context.Context, projectID string) (*LatestProgressResponse, error) {
	var resp LatestProgressResponse
	path := fmt.Sprintf("/api/projects/%s/progress/latest", url.PathEscape(projectID))
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LoginRequest carries field officer credentials.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the issued token pair.
type LoginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// Login exchanges credentials for a token pair and installs it on the
// client.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	var resp LoginResponse
	if err := c.post(ctx, "/api/auth/login", &LoginRequest{Username: username, Password: password}, &resp); err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}
	c.SetTokens(resp.AccessToken, resp.RefreshToken)
	return &resp, nil
}

// refreshRequest / refreshResponse exchange a refresh token for fresh
// credentials.
type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// Refresh exchanges the refresh token for a new access token. Called by
// a sync worker after a 401/403 before the entity becomes retry-eligible.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.RLock()
	rt := c.refreshToken
	c.mu.RUnlock()

	if rt == "" {
		return fmt.Errorf("no refresh token configured")
	}

	var resp refreshResponse
	if err := c.post(ctx, "/api/auth/refresh", &refreshRequest{RefreshToken: rt}, &resp); err != nil {
		return fmt.Errorf("token refresh failed: %w", err)
	}

	c.mu.Lock()
	c.token = resp.AccessToken
	if resp.RefreshToken != "" {
		c.refreshToken = resp.RefreshToken
	}
	c.mu.Unlock()
	return nil
}

// Health probes the backend. A nil return means the device is online.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		return fmt.Errorf("creating health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health probe failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode}
	}
	return nil
}

// post sends a JSON POST request and decodes the JSON response.
func (c *Client) post(ctx context.Context, path string, reqBody, respBody any) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, respBody)
}

// get sends a GET request and decodes the JSON response.
func (c *Client) get(ctx context.Context, path string, respBody any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	return c.do(req, respBody)
}

func (c *Client) do(req *http.Request, respBody any) error {
	req.Header.Set("Accept", "application/json")
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if int64(len(respBytes)) > maxResponseSize {
		return fmt.Errorf("response exceeds maximum size of %d bytes", maxResponseSize)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(respBytes),
		}
	}

	if respBody == nil {
		return nil
	}
	if err := json.Unmarshal(respBytes, respBody); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// errorMessage extracts a human-readable detail from an error body.
// The backend sends {"detail": "..."}; fall back to the raw body.
func errorMessage(body []byte) string {
	var payload struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Detail != "" {
			return payload.Detail
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(bytes.TrimSpace(body))
}
