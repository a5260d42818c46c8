package credential

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/inboxpilot-dev/mail-sync-infra/internal/mail"
)

const (
	googleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"

	// readinessTimeout bounds the initial JWKS warm-up
	readinessTimeout = 10 * time.Second
	jwksRefreshTTL   = 5 * time.Minute
)

var googleIssuers = []string{"https://accounts.google.com", "accounts.google.com"}

// Claims are the identity fields extracted from a verified ID token
type Claims struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
}

// UserInfo converts the claims into the canonical account identity
func (c *Claims) UserInfo() mail.UserInfo {
	name := c.Name
	if name == "" {
		name = c.Email
	}
	return mail.UserInfo{Email: c.Email, Name: name, Avatar: c.Picture}
}

// Verifier validates Google ID tokens against a cached JWKS
type Verifier struct {
	jwksURL  string
	issuers  []string
	audience string
	cache    *jwk.Cache

	mu      sync.RWMutex
	keySet  jwk.Set
	started sync.Once
}

// NewGoogleVerifier creates a verifier for ID tokens issued to clientID.
// The JWKS is not fetched here; call Ready before first use.
func NewGoogleVerifier(clientID string) (*Verifier, error) {
	v := &Verifier{
		jwksURL:  googleJWKSURL,
		issuers:  googleIssuers,
		audience: clientID,
	}

	cache := jwk.NewCache(context.Background())
	if err := cache.Register(v.jwksURL, jwk.WithMinRefreshInterval(jwksRefreshTTL)); err != nil {
		return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
	}
	v.cache = cache

	return v, nil
}

// Ready performs the initial JWKS fetch with bounded retries. It fails with
// a typed timeout once the 10 second window closes. Safe to call again
// after a failure.
func (v *Verifier) Ready(ctx context.Context) error {
	v.mu.RLock()
	warmed := v.keySet != nil
	v.mu.RUnlock()
	if warmed {
		return nil
	}

	deadline := time.Now().Add(readinessTimeout)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var lastErr error
	for attempt := 0; ; attempt++ {
		fetchCtx, fetchCancel := context.WithTimeout(ctx, 3*time.Second)
		keySet, err := v.fetchKeySet(fetchCtx)
		fetchCancel()

		if err == nil {
			v.mu.Lock()
			v.keySet = keySet
			v.mu.Unlock()
			v.started.Do(func() { go v.backgroundRefresh() })
			return nil
		}
		lastErr = err

		wait := time.Duration(attempt+1) * 500 * time.Millisecond
		select {
		case <-ctx.Done():
			return NewAuthError(KindTimeout, mail.KindGmail, fmt.Errorf("JWKS not reachable within %v: %w", readinessTimeout, lastErr))
		case <-time.After(wait):
		}
	}
}

func (v *Verifier) fetchKeySet(ctx context.Context) (jwk.Set, error) {
	keySet, err := v.cache.Get(ctx, v.jwksURL)
	if err != nil {
		return jwk.Fetch(ctx, v.jwksURL)
	}
	return keySet, nil
}

// backgroundRefresh keeps the key set warm so verification never blocks on
// a network fetch.
func (v *Verifier) backgroundRefresh() {
	ticker := time.NewTicker(jwksRefreshTTL)
	defer ticker.Stop()

	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		keySet, err := v.fetchKeySet(ctx)
		cancel()

		if err == nil {
			v.mu.Lock()
			v.keySet = keySet
			v.mu.Unlock()
		}
	}
}

func (v *Verifier) getKeySet() jwk.Set {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.keySet
}

// VerifyIDToken checks signature, expiry, issuer and audience, returning
// the identity claims.
func (v *Verifier) VerifyIDToken(ctx context.Context, raw string) (*Claims, error) {
	keySet := v.getKeySet()
	if keySet == nil {
		if err := v.Ready(ctx); err != nil {
			return nil, err
		}
		keySet = v.getKeySet()
	}

	token, err := jwt.Parse([]byte(raw), jwt.WithKeySet(keySet), jwt.WithValidate(true))
	if err != nil {
		return nil, NewAuthError(KindUnauthorized, mail.KindGmail, fmt.Errorf("failed to parse ID token: %w", err))
	}

	if !issuerAllowed(token.Issuer(), v.issuers) {
		return nil, NewAuthError(KindUnauthorized, mail.KindGmail, fmt.Errorf("unexpected issuer %q", token.Issuer()))
	}
	if v.audience != "" && !audienceContains(token.Audience(), v.audience) {
		return nil, NewAuthError(KindUnauthorized, mail.KindGmail, fmt.Errorf("token not issued for this client"))
	}

	claims := &Claims{Subject: token.Subject()}
	if c, ok := token.Get("email"); ok {
		claims.Email, _ = c.(string)
	}
	if c, ok := token.Get("email_verified"); ok {
		claims.EmailVerified, _ = c.(bool)
	}
	if c, ok := token.Get("name"); ok {
		claims.Name, _ = c.(string)
	}
	if c, ok := token.Get("picture"); ok {
		claims.Picture, _ = c.(string)
	}

	if claims.Email == "" {
		return nil, NewAuthError(KindUnauthorized, mail.KindGmail, fmt.Errorf("token missing email claim"))
	}

	return claims, nil
}

func issuerAllowed(issuer string, allowed []string) bool {
	for _, a := range allowed {
		if issuer == a {
			return true
		}
	}
	return false
}

func audienceContains(aud []string, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}
