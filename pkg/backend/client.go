// Package backend provides the client for the moderation backend API. All
// outbound calls route through the shared retrying caller and circuit
// breaker registry, so backend failures surface in module health instead of
// cascading.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go-warden/pkg/resilience"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Breaker target keys: one per backend route template, never per request
// URL, so the registry's key space stays bounded.
const (
	targetBans     = "backend:/v1/moderation/bans"
	targetKicks    = "backend:/v1/moderation/kicks"
	targetWarnings = "backend:/v1/moderation/warnings"
	targetCases    = "backend:/v1/moderation/cases/{id}"
	targetAlerts   = "backend:/v1/alerts/{id}/resolve"
	targetStatus   = "backend:/v1/status"
)

// Config holds backend client configuration
type Config struct {
	BaseURL     string
	TokenSecret string
	TokenIssuer string
	TokenTTL    time.Duration
}

// Client calls the moderation backend API on behalf of moderators
type Client struct {
	baseURL string
	caller  *resilience.Caller
	tokens  *tokenSource
}

// NewClient creates a backend client sharing the given breaker registry
func NewClient(cfg Config, breakers *resilience.Registry, retry resilience.RetryConfig) *Client {
	httpClient := &http.Client{
		Timeout:   30 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	return &Client{
		baseURL: cfg.BaseURL,
		caller:  resilience.NewCaller(httpClient, breakers, retry),
		tokens:  newTokenSource(cfg.TokenSecret, cfg.TokenIssuer, "warden-bot", cfg.TokenTTL),
	}
}

// ActionRequest describes one moderation action against a user
type ActionRequest struct {
	GuildID     string `json:"guild_id"`
	UserID      string `json:"user_id"`
	ModeratorID string `json:"moderator_id"`
	Reason      string `json:"reason,omitempty"`
	// DurationSeconds is only meaningful for temporary bans
	DurationSeconds int64 `json:"duration_seconds,omitempty"`
}

// ActionResult is the backend's acknowledgment of a moderation action
type ActionResult struct {
	CaseID    string    `json:"case_id"`
	Action    string    `json:"action"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Case is a moderation case record
type Case struct {
	ID          string    `json:"id"`
	Action      string    `json:"action"`
	GuildID     string    `json:"guild_id"`
	UserID      string    `json:"user_id"`
	ModeratorID string    `json:"moderator_id"`
	Reason      string    `json:"reason,omitempty"`
	Resolved    bool      `json:"resolved"`
	CreatedAt   time.Time `json:"created_at"`
}

// BanUser bans a user via the backend API
func (c *Client) BanUser(ctx context.Context, req ActionRequest) (*ActionResult, error) {
	return c.postAction(ctx, targetBans, "/v1/moderation/bans", req)
}

// KickUser kicks a user via the backend API
func (c *Client) KickUser(ctx context.Context, req ActionRequest) (*ActionResult, error) {
	return c.postAction(ctx, targetKicks, "/v1/moderation/kicks", req)
}

// WarnUser records a warning via the backend API
func (c *Client) WarnUser(ctx context.Context, req ActionRequest) (*ActionResult, error) {
	return c.postAction(ctx, targetWarnings, "/v1/moderation/warnings", req)
}

// GetCase fetches a moderation case by ID
func (c *Client) GetCase(ctx context.Context, caseID string) (*Case, error) {
	header, err := c.authHeader()
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/v1/moderation/cases/%s", c.baseURL, caseID)
	resp, err := c.caller.Do(ctx, targetCases, http.MethodGet, url, nil, header)
	if err != nil {
		return nil, err
	}

	var result Case
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return nil, fmt.Errorf("decode case response: %w", err)
	}
	return &result, nil
}

// ResolveAlert marks an ingested alert as resolved by a moderator
func (c *Client) ResolveAlert(ctx context.Context, alertID, moderatorID, resolution string) error {
	header, err := c.authHeader()
	if err != nil {
		return err
	}

	body, err := json.Marshal(map[string]string{
		"moderator_id": moderatorID,
		"resolution":   resolution,
	})
	if err != nil {
		return fmt.Errorf("encode resolve request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/alerts/%s/resolve", c.baseURL, alertID)
	_, err = c.caller.Do(ctx, targetAlerts, http.MethodPost, url, body, header)
	return err
}

// Status probes the backend's status endpoint. Used by health checks.
func (c *Client) Status(ctx context.Context) error {
	header, err := c.authHeader()
	if err != nil {
		return err
	}
	_, err = c.caller.Do(ctx, targetStatus, http.MethodGet, c.baseURL+"/v1/status", nil, header)
	return err
}

func (c *Client) postAction(ctx context.Context, target, path string, req ActionRequest) (*ActionResult, error) {
	header, err := c.authHeader()
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode action request: %w", err)
	}

	resp, err := c.caller.Do(ctx, target, http.MethodPost, c.baseURL+path, body, header)
	if err != nil {
		return nil, err
	}

	var result ActionResult
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return nil, fmt.Errorf("decode action response: %w", err)
	}
	return &result, nil
}

func (c *Client) authHeader() (http.Header, error) {
	token, err := c.tokens.Token()
	if err != nil {
		return nil, err
	}
	header := make(http.Header)
	header.Set("Authorization", "Bearer "+token)
	header.Set("Content-Type", "application/json")
	return header, nil
}
