// Package auth manages the EasyEcom bearer-token lifecycle. A single
// shared credential is kept valid across an arbitrarily long extraction
// run; the token never leaves the package except as a formatted
// Authorization header.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SafetyMargin is subtracted from the token lifetime so a request issued
// just before expiry cannot race the server-side cutoff.
const SafetyMargin = 300 * time.Second

// DefaultTTL applies when the identity response omits expires_in.
const DefaultTTL = 3600 * time.Second

// Credential is the bearer token with its validity window. The three
// fields are only ever written together; a half-updated credential is
// worse than a stale one.
type Credential struct {
	Token    string
	IssuedAt time.Time
	TTL      time.Duration
}

// Valid reports whether the credential can still be used at the given
// instant, honoring the safety margin.
func (c Credential) Valid(now time.Time) bool {
	if c.Token == "" || c.TTL <= 0 {
		return false
	}
	return now.Before(c.IssuedAt.Add(c.TTL - SafetyMargin))
}

// TransportError is a failed identity-endpoint call: network error or
// non-2xx status. Fatal for the run; waiting will not fix credentials.
type TransportError struct {
	StatusCode int
	Body       string
	Cause      string
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.Cause != "" {
		return fmt.Sprintf("auth transport error: %s", e.Cause)
	}
	return fmt.Sprintf("auth transport error: status %d: %s", e.StatusCode, e.Body)
}

// ResponseError is a 2xx identity response missing the expected nested
// token object. Proceeding with no credential would be silent breakage.
type ResponseError struct {
	Body string
}

// Error implements the error interface.
func (e *ResponseError) Error() string {
	return fmt.Sprintf("auth response malformed: no jwt_token in %s", e.Body)
}

// Config holds the identity-endpoint settings and account credentials.
type Config struct {
	// Endpoint is the identity endpoint, e.g. "https://api.easyecom.io/access/token".
	Endpoint string

	Email       string
	Password    string
	LocationKey string

	// Timeout per token refresh request.
	Timeout time.Duration
}

// Authenticator owns the process-wide credential and produces valid
// Authorization headers, refreshing through the identity endpoint when
// the credential is absent or expired.
type Authenticator struct {
	config     Config
	httpClient *http.Client
	logger     zerolog.Logger

	// mu guards cred so that parallel stream workers, if ever added,
	// observe exactly one refresh instead of N.
	mu   sync.Mutex
	cred Credential

	now func() time.Time
}

// New creates an authenticator. An optional seed credential (persisted
// from an earlier run) avoids a refresh when still valid.
func New(cfg Config, seed Credential) (*Authenticator, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("auth endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Authenticator{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     log.With().Str("component", "auth").Logger(),
		cred:       seed,
		now:        time.Now,
	}, nil
}

// Header returns a usable "Bearer <token>" header value or the underlying
// refresh failure. A still-valid credential performs no network calls.
func (a *Authenticator) Header(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.cred.Valid(a.now()) {
		a.logger.Info().Msg("Token expired or absent, refreshing access token")
		if err := a.refresh(ctx); err != nil {
			return "", err
		}
	} else {
		a.logger.Debug().Msg("Using existing valid token")
	}

	return "Bearer " + a.cred.Token, nil
}

// Credential returns a copy of the current credential for persistence
// across runs. The token itself must not be logged or emitted downstream.
func (a *Authenticator) Credential() Credential {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cred
}

// tokenResponse mirrors the identity endpoint's nested payload.
type tokenResponse struct {
	Data struct {
		Token struct {
			JWTToken  string `json:"jwt_token"`
			ExpiresIn int64  `json:"expires_in"`
		} `json:"token"`
	} `json:"data"`
}

// refresh calls the identity endpoint and atomically replaces the
// credential. Callers hold a.mu.
func (a *Authenticator) refresh(ctx context.Context) error {
	reqBody, err := json.Marshal(map[string]string{
		"email":        a.config.Email,
		"password":     a.config.Password,
		"location_key": a.config.LocationKey,
	})
	if err != nil {
		return fmt.Errorf("marshal auth request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.Endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("create auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		a.logger.Error().Err(err).Msg("Token refresh request failed")
		return &TransportError{Cause: err.Error()}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		a.logger.Error().
			Int("status", resp.StatusCode).
			Str("body", string(body)).
			Msg("Token refresh rejected")
		return &TransportError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil || tr.Data.Token.JWTToken == "" {
		a.logger.Error().Str("body", string(body)).Msg("Invalid token response")
		return &ResponseError{Body: string(body)}
	}

	ttl := time.Duration(tr.Data.Token.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	// Atomic replacement of the (token, issued_at, ttl) group.
	a.cred = Credential{
		Token:    tr.Data.Token.JWTToken,
		IssuedAt: a.now(),
		TTL:      ttl,
	}

	a.logger.Info().
		Dur("ttl", ttl).
		Msg("Access token refreshed")
	return nil
}
