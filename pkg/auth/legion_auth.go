package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/AlecAivazis/survey/v2"

	"github.com/picogrid/legion-missions/pkg/client"
	"github.com/picogrid/legion-missions/pkg/logger"
)

const (
	defaultKeycloakURL = "https://auth.legion-staging.com"
	defaultRealm       = "legion"
	defaultClientID    = "frontend...orion"
)

// AuthConfig locates the Keycloak realm a Legion deployment logs in through
type AuthConfig struct {
	KeycloakURL string
	Realm       string
	ClientID    string
}

// DefaultAuthConfig is used when the Legion deployment cannot be asked.
// KEYCLOAK_URL overrides the staging realm host.
func DefaultAuthConfig() AuthConfig {
	keycloakURL := os.Getenv("KEYCLOAK_URL")
	if keycloakURL == "" {
		keycloakURL = defaultKeycloakURL
	}
	return AuthConfig{KeycloakURL: keycloakURL, Realm: defaultRealm, ClientID: defaultClientID}
}

// DiscoverAuthConfig asks Legion for its OAuth authorization URL and derives
// the Keycloak base URL and realm from it
func DiscoverAuthConfig(ctx context.Context, legionURL string) (AuthConfig, error) {
	if _, err := url.Parse(legionURL); err != nil {
		return AuthConfig{}, fmt.Errorf("invalid Legion URL: %w", err)
	}

	endpoint := strings.TrimRight(legionURL, "/") + "/v3/integrations/oauth/authorization-url"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return AuthConfig{}, fmt.Errorf("failed to create request: %w", err)
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}
	resp, err := httpClient.Do(req)
	if err != nil {
		return AuthConfig{}, fmt.Errorf("failed to get authorization URL: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Errorf("failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return AuthConfig{}, fmt.Errorf("failed to get authorization URL: status %d", resp.StatusCode)
	}

	var body struct {
		AuthorizationURL string `json:"authorization_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return AuthConfig{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if body.AuthorizationURL == "" {
		return AuthConfig{}, errors.New("empty authorization URL in response")
	}
	return ParseAuthorizationURL(body.AuthorizationURL)
}

// ParseAuthorizationURL extracts the Keycloak base and realm from an OpenID
// Connect authorization URL such as
// https://auth.example.com/auth/realms/legion/protocol/openid-connect/auth
func ParseAuthorizationURL(authURL string) (AuthConfig, error) {
	u, err := url.Parse(authURL)
	if err != nil {
		return AuthConfig{}, fmt.Errorf("invalid authorization URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return AuthConfig{}, fmt.Errorf("invalid authorization URL %q", authURL)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, part := range parts {
		if part != "realms" || i+1 >= len(parts) || parts[i+1] == "" {
			continue
		}
		base := u.Scheme + "://" + u.Host
		if i > 0 {
			base += "/" + strings.Join(parts[:i], "/")
		}
		return AuthConfig{KeycloakURL: base, Realm: parts[i+1], ClientID: defaultClientID}, nil
	}
	return AuthConfig{}, errors.New("could not extract realm from authorization URL")
}

// credentials reads LEGION_EMAIL and LEGION_PASSWORD, prompting for
// whichever is missing
func credentials() (email, password string, err error) {
	email = os.Getenv("LEGION_EMAIL")
	password = os.Getenv("LEGION_PASSWORD")
	if email != "" && password != "" {
		logger.Info("Using Legion credentials from environment")
		return email, password, nil
	}

	logger.LogSection("Legion Authentication")
	if email == "" {
		if err := survey.AskOne(&survey.Input{Message: "Email:"}, &email, survey.WithValidator(survey.Required)); err != nil {
			return "", "", err
		}
	}
	if password == "" {
		if err := survey.AskOne(&survey.Password{Message: "Password:"}, &password, survey.WithValidator(survey.Required)); err != nil {
			return "", "", err
		}
	}
	return email, password, nil
}

// AuthenticateUser logs in with a password grant and returns a token manager
// that keeps the session alive
func AuthenticateUser(ctx context.Context, config AuthConfig) (*TokenManager, error) {
	email, password, err := credentials()
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}

	kc := NewKeycloakClient(KeycloakConfig{
		BaseURL:  config.KeycloakURL,
		Realm:    config.Realm,
		ClientID: config.ClientID,
	})

	var tok *TokenResponse
	err = logger.WithSpinner(fmt.Sprintf("Authenticating %s", email), func() error {
		var err error
		tok, err = kc.Authenticate(ctx, email, password)
		return err
	})
	if err != nil {
		return nil, err
	}
	return NewTokenManager(kc, tok), nil
}

// AuthenticateUserWithLegion discovers the realm from Legion, falling back to
// DefaultAuthConfig, and logs the user in
func AuthenticateUserWithLegion(ctx context.Context, legionURL string) (*TokenManager, error) {
	config, err := DiscoverAuthConfig(ctx, legionURL)
	if err != nil {
		logger.Warnf("Could not fetch auth config from Legion, using defaults: %v", err)
		config = DefaultAuthConfig()
	}
	return AuthenticateUser(ctx, config)
}

// CreateAuthenticatedClient creates a Legion client authenticating with
// OAuth2 access tokens instead of an API key
func CreateAuthenticatedClient(baseURL string, tokenManager *TokenManager) (*client.Legion, error) {
	return client.NewClient(client.Config{
		BaseURL:      baseURL,
		TokenManager: tokenManager,
	})
}
