package auth

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultRefreshMargin is how long before expiry an access token is renewed
const DefaultRefreshMargin = 30 * time.Second

// Refresher renews a token pair; *KeycloakClient satisfies it
type Refresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error)
}

// TokenManager holds the current token pair and renews the access token
// shortly before it expires. It satisfies client.TokenManager and is safe
// for concurrent use by the publisher's workers.
type TokenManager struct {
	refresher     Refresher
	refreshMargin time.Duration
	now           func() time.Time

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	expiresAt    time.Time
}

// NewTokenManager creates a token manager seeded with an initial token pair
func NewTokenManager(refresher Refresher, tok *TokenResponse) *TokenManager {
	tm := &TokenManager{
		refresher:     refresher,
		refreshMargin: DefaultRefreshMargin,
		now:           time.Now,
	}
	tm.UpdateTokens(tok)
	return tm
}

// GetAccessToken returns a valid access token, refreshing if necessary
func (tm *TokenManager) GetAccessToken(ctx context.Context) (string, error) {
	tm.mu.RLock()
	if tm.fresh() {
		token := tm.accessToken
		tm.mu.RUnlock()
		return token, nil
	}
	tm.mu.RUnlock()

	tm.mu.Lock()
	defer tm.mu.Unlock()

	// another worker may have refreshed while we waited for the lock
	if tm.fresh() {
		return tm.accessToken, nil
	}

	tok, err := tm.refresher.RefreshToken(ctx, tm.refreshToken)
	if err != nil {
		return "", fmt.Errorf("failed to refresh token: %w", err)
	}
	tm.set(tok)
	return tm.accessToken, nil
}

// UpdateTokens replaces the token pair, e.g. after a fresh login
func (tm *TokenManager) UpdateTokens(tok *TokenResponse) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.set(tok)
}

// ExpiresAt reports when the current access token expires
func (tm *TokenManager) ExpiresAt() time.Time {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.expiresAt
}

// IsExpired checks if the current access token is past its expiry
func (tm *TokenManager) IsExpired() bool {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.now().After(tm.expiresAt)
}

func (tm *TokenManager) fresh() bool {
	return tm.now().Before(tm.expiresAt.Add(-tm.refreshMargin))
}

func (tm *TokenManager) set(tok *TokenResponse) {
	tm.accessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		tm.refreshToken = tok.RefreshToken
	}
	tm.expiresAt = tm.now().Add(time.Duration(tok.ExpiresIn) * time.Second)
}
