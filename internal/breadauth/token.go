// Package breadauth owns the Record Client's bearer token: a single mutable
// cell guarded by a mutex, refreshed via a caller-supplied hook (spec §4.A).
// JWT minting itself is out of scope (spec §1) — the package only consumes
// tokens issued elsewhere, but it does carry a local JWT parser used by the
// bootstrap/test harness to mint short-lived dev tokens without a live
// record store, grounded on the teacher's JWTService.
package breadauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoRefreshHook is returned when a refresh is needed but none was configured.
	ErrNoRefreshHook = errors.New("breadauth: no refresh hook configured")
	// ErrInvalidToken is returned by Validate for malformed or expired dev tokens.
	ErrInvalidToken = errors.New("breadauth: invalid token")
)

// RefreshHook exchanges identity for a fresh bearer token, implementing the
// `POST /auth/token` call in spec §6.1. It is supplied by the caller; this
// package never mints tokens itself.
type RefreshHook func(ctx context.Context) (token string, expiresAt time.Time, err error)

// TokenCell holds the Record Client's current bearer token as a single
// mutable value, refreshed proactively on an interval and reactively on 401.
type TokenCell struct {
	mu      sync.RWMutex
	token   atomic.Value // string
	expires time.Time

	hook            RefreshHook
	proactiveEvery  time.Duration
	stop            chan struct{}
	stopOnce        sync.Once
	refreshInFlight sync.Mutex
}

// NewTokenCell creates a token cell backed by hook, proactively refreshing
// every `proactiveEvery` (spec §4.A: default 10 minutes).
func NewTokenCell(hook RefreshHook, proactiveEvery time.Duration) *TokenCell {
	if proactiveEvery <= 0 {
		proactiveEvery = 10 * time.Minute
	}
	c := &TokenCell{
		hook:           hook,
		proactiveEvery: proactiveEvery,
		stop:           make(chan struct{}),
	}
	c.token.Store("")
	return c
}

// Get returns the current token without locking (atomic load).
func (c *TokenCell) Get() string {
	v := c.token.Load()
	if v == nil {
		return ""
	}
	return v.(string)
}

// Refresh forces a token refresh via the configured hook. Concurrent callers
// collapse onto a single in-flight refresh.
func (c *TokenCell) Refresh(ctx context.Context) error {
	c.refreshInFlight.Lock()
	defer c.refreshInFlight.Unlock()

	if c.hook == nil {
		return ErrNoRefreshHook
	}

	token, expiresAt, err := c.hook(ctx)
	if err != nil {
		return fmt.Errorf("refresh token: %w", err)
	}

	c.mu.Lock()
	c.expires = expiresAt
	c.mu.Unlock()
	c.token.Store(token)
	return nil
}

// StartProactiveRefresh launches a background timer that refreshes the token
// every proactiveEvery interval irrespective of failures, per spec §4.D.
// Call Stop to end it.
func (c *TokenCell) StartProactiveRefresh(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(c.proactiveEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = c.Refresh(ctx)
			case <-c.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the proactive refresh loop. Safe to call multiple times.
func (c *TokenCell) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// ExpiresAt returns the current token's expiry, or the zero time if unknown.
func (c *TokenCell) ExpiresAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.expires
}

// DevClaims is the claim set embedded in locally-minted development tokens.
type DevClaims struct {
	OwnerID string   `json:"owner_id"`
	AgentID string   `json:"agent_id"`
	Roles   []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// DevIssuer mints and validates short-lived HMAC tokens for local/test use
// when no live record store auth endpoint is available. It is not used in
// production — the Record Client always consumes tokens via RefreshHook.
type DevIssuer struct {
	secret []byte
	expiry time.Duration
}

// NewDevIssuer builds a dev-token issuer with the given HMAC secret and expiry.
func NewDevIssuer(secret string, expiry time.Duration) *DevIssuer {
	return &DevIssuer{secret: []byte(secret), expiry: expiry}
}

// Issue mints a signed token for ownerID/agentID with the given roles.
func (d *DevIssuer) Issue(ownerID, agentID string, roles []string) (string, time.Time, error) {
	if d == nil || len(d.secret) == 0 {
		return "", time.Time{}, errors.New("breadauth: dev issuer has no secret")
	}
	if strings.TrimSpace(agentID) == "" {
		return "", time.Time{}, errors.New("breadauth: agent id required")
	}

	now := time.Now()
	expiry := now.Add(d.expiry)
	claims := DevClaims{
		OwnerID: ownerID,
		AgentID: agentID,
		Roles:   roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   agentID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(d.secret)
	return signed, expiry, err
}

// Validate parses and validates a dev token, returning its claims.
func (d *DevIssuer) Validate(token string) (*DevClaims, error) {
	if d == nil || len(d.secret) == 0 {
		return nil, ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(token, &DevClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return d.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*DevClaims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.AgentID) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
