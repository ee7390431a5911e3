package research

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"research-client/internal/config"
	"research-client/internal/domain"
	"research-client/internal/domain/model"
	"research-client/internal/infra/logging"
	"research-client/internal/infra/metrics"
)

// TokenSource hands out bearer tokens for the analysis service.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	// Invalidate forgets the cached credential so the next Token call exchanges again.
	Invalidate()
}

var _ TokenSource = (*TokenCache)(nil)

// TokenCache exchanges a long-lived API key for short-lived bearer tokens.
//
// Concurrent callers that find the credential stale share one in-flight exchange
// through a singleflight group. The exchange runs on the first caller's context,
// so a cancelled first caller fails the waiters of that round as well.
type TokenCache struct {
	endpoint string
	apiKey   string
	lifetime time.Duration
	skew     time.Duration
	client   *http.Client
	log      *zerolog.Logger
	now      func() time.Time

	mu    sync.Mutex
	cred  *model.Credential
	group singleflight.Group
}

func NewTokenCache(baseURL, apiKey string, lifetime, skew time.Duration, client *http.Client, log *zerolog.Logger) (*TokenCache, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("research: api key empty")
	}
	if lifetime <= 0 {
		lifetime = time.Hour
	}
	if skew < config.MinTokenSkew {
		skew = config.MinTokenSkew
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = logging.Nop()
	}
	return &TokenCache{
		endpoint: strings.TrimRight(baseURL, "/") + "/auth/token",
		apiKey:   apiKey,
		lifetime: lifetime,
		skew:     skew,
		client:   client,
		log:      log,
		now:      time.Now,
	}, nil
}

// Token returns the cached token while now < expiresAt - skew, otherwise exchanges a new one.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	if tok, ok := c.cached(); ok {
		return tok, nil
	}
	ch := c.group.DoChan("token", func() (any, error) {
		// a concurrent round may have refreshed between our check and Do
		if tok, ok := c.cached(); ok {
			return tok, nil
		}
		cred, err := c.exchange(ctx)
		metrics.IncTokenRefresh(err == nil)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.cred = cred
		c.mu.Unlock()
		c.log.Debug().Time("expires_at", cred.ExpiresAt).Msg("bearer token refreshed")
		return cred.Token, nil
	})
	select {
	case <-ctx.Done():
		return "", &domain.AuthError{Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.cred = nil
	c.mu.Unlock()
}

func (c *TokenCache) cached() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cred.FreshAt(c.now(), c.skew) {
		return c.cred.Token, true
	}
	return "", false
}

type tokenResponse struct {
	Token       string  `json:"token"`
	JWT         string  `json:"jwt"`
	AccessToken string  `json:"access_token"`
	ExpiresIn   float64 `json:"expires_in"`
	ExpiresAt   string  `json:"expires_at"`
}

func (r tokenResponse) value() string {
	for _, v := range []string{r.Token, r.JWT, r.AccessToken} {
		if v != "" {
			return v
		}
	}
	return ""
}

func (c *TokenCache) exchange(ctx context.Context) (*model.Credential, error) {
	b, _ := json.Marshal(map[string]string{"api_key": c.apiKey})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(b))
	if err != nil {
		return nil, &domain.AuthError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	issuedAt := c.now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &domain.AuthError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &domain.AuthError{Err: &domain.HTTPError{Status: resp.StatusCode, Endpoint: "/auth/token", Body: strings.TrimSpace(string(body))}}
	}

	var payload tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &domain.AuthError{Err: fmt.Errorf("decode token response: %w", err)}
	}
	tok := payload.value()
	if tok == "" {
		return nil, &domain.AuthError{Err: errors.New("token response carries no token, jwt or access_token")}
	}
	return &model.Credential{Token: tok, ExpiresAt: c.expiry(payload, tok, issuedAt)}, nil
}

// expiry prefers a declared lifetime, then the JWT exp claim, then the assumed lifetime.
func (c *TokenCache) expiry(p tokenResponse, tok string, issuedAt time.Time) time.Time {
	if p.ExpiresIn > 0 {
		return issuedAt.Add(time.Duration(p.ExpiresIn * float64(time.Second)))
	}
	if p.ExpiresAt != "" {
		if t, err := time.Parse(time.RFC3339, p.ExpiresAt); err == nil {
			return t
		}
	}
	if exp, ok := jwtExpiry(tok); ok {
		return exp
	}
	return issuedAt.Add(c.lifetime)
}

// jwtExpiry reads the exp claim without verifying the signature.
func jwtExpiry(tok string) (time.Time, bool) {
	if strings.Count(tok, ".") != 2 {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
