package client

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

	"github.com/picogrid/legion-missions/pkg/logger"
)

type contextKey string

// OrgIDContextKey carries the organization ID sent as X-ORG-ID
const OrgIDContextKey contextKey = "legion-org-id"

const defaultTimeout = 30 * time.Second

// Legion is a minimal client for the parts of the Legion API the mission
// engine publishes to: entities and entity locations
type Legion struct {
	baseURL      string
	apiKey       string
	tokenManager TokenManager
	httpClient   *http.Client
}

// TokenManager hands out OAuth2 access tokens, renewing them as needed
type TokenManager interface {
	GetAccessToken(ctx context.Context) (string, error)
}

// Config holds the configuration for the Legion client. TokenManager takes
// precedence over APIKey when both are set.
type Config struct {
	BaseURL      string
	APIKey       string
	TokenManager TokenManager
	Timeout      time.Duration
}

// NewClient creates a new Legion client with the given configuration
func NewClient(cfg Config) (*Legion, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	return &Legion{
		baseURL:      strings.TrimRight(u.String(), "/"),
		apiKey:       cfg.APIKey,
		tokenManager: cfg.TokenManager,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// doRequest performs an authenticated JSON request. Responses with a
// status of 400 or above are turned into errors.
func (c *Legion) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if orgID, ok := ctx.Value(OrgIDContextKey).(string); ok && orgID != "" {
		req.Header.Set("X-ORG-ID", orgID)
	}
	switch {
	case c.tokenManager != nil:
		token, err := c.tokenManager.GetAccessToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get access token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	case c.apiKey != "":
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode >= 400 {
		defer closeBody(resp.Body)
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	return resp, nil
}

// decodeResponse decodes a JSON response into v and closes the body
func decodeResponse(resp *http.Response, v interface{}) error {
	defer closeBody(resp.Body)
	if v == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func closeBody(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		logger.Errorf("failed to close response body: %v", err)
	}
}

// ValidateConnection checks the credentials against the /v3/me endpoint
func (c *Legion) ValidateConnection(ctx context.Context) error {
	resp, err := c.doRequest(ctx, http.MethodGet, "/v3/me", nil)
	if err != nil {
		return fmt.Errorf("connection validation failed: %w", err)
	}
	closeBody(resp.Body)
	return nil
}

// WithOrgID returns a new context with the organization ID set
func WithOrgID(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, OrgIDContextKey, orgID)
}
