package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/picogrid/legion-missions/pkg/logger"
)

// ErrInvalidCredentials is returned when Keycloak rejects the email or password
var ErrInvalidCredentials = errors.New("invalid credentials")

// KeycloakConfig holds the configuration for Keycloak authentication
type KeycloakConfig struct {
	BaseURL  string
	Realm    string
	ClientID string
	Timeout  time.Duration
}

// TokenResponse is the body of a successful token endpoint call
type TokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int    `json:"expires_in"`
	RefreshExpiresIn int    `json:"refresh_expires_in"`
	TokenType        string `json:"token_type"`
}

// KeycloakClient talks to the OpenID Connect token endpoint of one realm
type KeycloakClient struct {
	config     KeycloakConfig
	httpClient *http.Client
}

// NewKeycloakClient creates a new Keycloak client
func NewKeycloakClient(config KeycloakConfig) *KeycloakClient {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &KeycloakClient{
		config:     config,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Authenticate performs a password grant
func (k *KeycloakClient) Authenticate(ctx context.Context, username, password string) (*TokenResponse, error) {
	tok, err := k.requestToken(ctx, url.Values{
		"grant_type": {"password"},
		"client_id":  {k.config.ClientID},
		"username":   {username},
		"password":   {password},
	})
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	return tok, nil
}

// RefreshToken trades a refresh token for a new token pair
func (k *KeycloakClient) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	tok, err := k.requestToken(ctx, url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {k.config.ClientID},
		"refresh_token": {refreshToken},
	})
	if err != nil {
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}
	return tok, nil
}

func (k *KeycloakClient) tokenURL() string {
	return fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", k.config.BaseURL, k.config.Realm)
}

func (k *KeycloakClient) requestToken(ctx context.Context, form url.Values) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.tokenURL(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Errorf("failed to close response body: %v", err)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusUnauthorized {
			return nil, ErrInvalidCredentials
		}
		var errResp struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		if json.Unmarshal(body, &errResp) == nil && errResp.ErrorDescription != "" {
			return nil, fmt.Errorf("%s (HTTP %d)", errResp.ErrorDescription, resp.StatusCode)
		}
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tok TokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, errors.New("token response carried no access token")
	}
	return &tok, nil
}
