package icd11

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"
)

const (
	// ExpiryMargin is subtracted from a token's lifetime before it is reused.
	ExpiryMargin = 30 * time.Second

	// DefaultTokenLifetime applies when the token response carries neither
	// expires_in nor a JWT exp claim.
	DefaultTokenLifetime = time.Hour

	DefaultTimeout = 10 * time.Second
)

// CredentialConfig configures the client-credentials exchange. Leaving
// ClientID or ClientSecret empty disables remote access entirely.
type CredentialConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scope        string
	Timeout      time.Duration
}

// CredentialCache holds the single bearer token used for ICD-11 requests and
// refreshes it on demand. Concurrent refreshes collapse into one exchange.
type CredentialCache struct {
	oauth  *clientcredentials.Config
	client *http.Client
	logger zerolog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	token     string
	expiresAt time.Time

	flight singleflight.Group
}

// NewCredentialCache creates a credential cache. It never performs network
// I/O until Token is called.
func NewCredentialCache(cfg CredentialConfig, logger zerolog.Logger) *CredentialCache {
	c := &CredentialCache{
		logger: logger.With().Str("component", "icd11-credentials").Logger(),
		now:    time.Now,
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return c
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c.client = &http.Client{Timeout: timeout}

	c.oauth = &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if cfg.Scope != "" {
		c.oauth.Scopes = []string{cfg.Scope}
	}
	return c
}

// Enabled reports whether client credentials are configured.
func (c *CredentialCache) Enabled() bool {
	return c.oauth != nil
}

// Token returns a bearer token. ok is false with a nil error when no
// credentials are configured. A failed exchange returns an
// *AuthenticationError and leaves any previous slot state untouched.
func (c *CredentialCache) Token(ctx context.Context) (token string, ok bool, err error) {
	if !c.Enabled() {
		return "", false, nil
	}

	if tok, valid := c.cached(); valid {
		return tok, true, nil
	}

	v, err, _ := c.flight.Do("token", func() (interface{}, error) {
		// Another flight may have refreshed the slot while this one queued.
		if tok, valid := c.cached(); valid {
			return tok, nil
		}
		return c.refresh(ctx)
	})
	if err != nil {
		return "", false, err
	}
	return v.(string), true, nil
}

// Invalidate discards the cached token so the next Token call re-authenticates.
func (c *CredentialCache) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}

func (c *CredentialCache) cached() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == "" {
		return "", false
	}
	if !c.now().Add(ExpiryMargin).Before(c.expiresAt) {
		return "", false
	}
	return c.token, true
}

func (c *CredentialCache) refresh(ctx context.Context) (string, error) {
	// Shared by every caller waiting on this flight, so it must not die with
	// the first caller's request context.
	exchangeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.client.Timeout)
	defer cancel()
	exchangeCtx = context.WithValue(exchangeCtx, oauth2.HTTPClient, c.client)

	tok, err := c.oauth.Token(exchangeCtx)
	if err != nil {
		c.logger.Warn().Err(err).Str("token_url", c.oauth.TokenURL).Msg("client credentials exchange failed")
		return "", &AuthenticationError{Err: err}
	}
	if tok.AccessToken == "" {
		return "", &AuthenticationError{Err: fmt.Errorf("token response missing access_token")}
	}

	issuedAt := c.now()
	expiresAt := c.expiry(tok, issuedAt)

	c.mu.Lock()
	c.token = tok.AccessToken
	c.expiresAt = expiresAt
	c.mu.Unlock()

	c.logger.Debug().Time("expires_at", expiresAt).Msg("obtained ICD-11 access token")
	return tok.AccessToken, nil
}

// expiry prefers expires_in from the raw response, then the JWT exp claim of
// the access token, then DefaultTokenLifetime.
func (c *CredentialCache) expiry(tok *oauth2.Token, issuedAt time.Time) time.Time {
	if secs, ok := expiresIn(tok.Extra("expires_in")); ok && secs > 0 {
		return issuedAt.Add(time.Duration(secs) * time.Second)
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok.AccessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}

	return issuedAt.Add(DefaultTokenLifetime)
}

func expiresIn(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}
