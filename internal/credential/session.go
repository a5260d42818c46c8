package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"
	calendar "google.golang.org/api/calendar/v3"
	gmail "google.golang.org/api/gmail/v1"

	"github.com/inboxpilot-dev/mail-sync-infra/internal/mail"
	"github.com/inboxpilot-dev/mail-sync-infra/internal/secrets"
)

const (
	// expiryBuffer treats a token within 5 minutes of expiry as expired
	expiryBuffer = 5 * time.Minute
	// silentTimeout bounds non-interactive renewal
	silentTimeout = 5 * time.Second

	googleRevokeURL = "https://oauth2.googleapis.com/revoke"
)

// Session is a cached bearer credential for one provider identity
type Session struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	TokenType    string    `json:"tokenType,omitempty"`
	IDToken      string    `json:"idToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Scope        string    `json:"scope,omitempty"`
	SignedIn     bool      `json:"signedIn"`
}

// Valid reports whether the session's access token is usable at now
func (s *Session) Valid(now time.Time) bool {
	return s != nil && s.SignedIn && s.AccessToken != "" && now.Before(s.ExpiresAt.Add(-expiryBuffer))
}

// SecretStore persists opaque session blobs under provider-scoped keys
type SecretStore interface {
	Set(key string, data []byte) error
	Get(key string) ([]byte, error)
	Delete(key string) error
}

// Attempt is one pending interactive consent flow. All concurrent callers
// share the same attempt; it resolves exactly once.
type Attempt struct {
	State   string
	AuthURL string

	done    chan struct{}
	session *Session
	err     error
}

// Wait blocks until the attempt resolves or ctx expires
func (a *Attempt) Wait(ctx context.Context) (*Session, error) {
	select {
	case <-a.done:
		return a.session, a.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *Attempt) resolve(s *Session, err error) {
	a.session = s
	a.err = err
	close(a.done)
}

// Manager owns the credential lifecycle for exactly one provider identity.
// All session access goes through its methods.
type Manager struct {
	kind      mail.Kind
	oauth     *oauth2.Config
	revokeURL string
	store     SecretStore
	client    *http.Client
	now       func() time.Time

	mu      sync.Mutex
	session *Session
	pending *Attempt
}

// NewGoogle builds the Google credential manager. Empty client credentials
// leave the manager unconfigured; auth operations then fail typed.
func NewGoogle(clientID, clientSecret, redirectURL string, store SecretStore) *Manager {
	m := &Manager{
		kind:      mail.KindGmail,
		revokeURL: googleRevokeURL,
		store:     store,
		client:    &http.Client{Timeout: 10 * time.Second},
		now:       time.Now,
	}
	if clientID == "" || clientSecret == "" {
		return m
	}
	m.oauth = &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes: []string{
			"openid", "email", "profile",
			gmail.GmailModifyScope,
			calendar.CalendarEventsScope,
		},
		Endpoint: google.Endpoint,
	}
	return m
}

// NewMicrosoft builds the Microsoft credential manager for the given tenant.
// There is no standard Microsoft revocation endpoint; revoke clears local
// state only.
func NewMicrosoft(clientID, clientSecret, redirectURL, tenantID string, store SecretStore) *Manager {
	m := &Manager{
		kind:   mail.KindOutlook,
		store:  store,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
	if clientID == "" || clientSecret == "" {
		return m
	}
	if tenantID == "" {
		tenantID = "common"
	}
	m.oauth = &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes: []string{
			"offline_access", "openid", "email", "profile",
			"https://graph.microsoft.com/User.Read",
			"https://graph.microsoft.com/Mail.ReadWrite",
		},
		Endpoint: microsoft.AzureADEndpoint(tenantID),
	}
	return m
}

// Kind returns the provider this manager serves
func (m *Manager) Kind() mail.Kind {
	return m.kind
}

// Configured reports whether client credentials are provisioned
func (m *Manager) Configured() bool {
	return m.oauth != nil
}

// Connected reports whether a non-expired session is held
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Valid(m.now())
}

// CurrentSession returns a copy of the held session, or nil
func (m *Manager) CurrentSession() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	cp := *m.session
	return &cp
}

func (m *Manager) storageKey() string {
	return fmt.Sprintf("oauth:session:%s", m.kind)
}

// Restore loads a persisted session. It returns the session only while its
// access token is outside the expiry buffer; an expired access token is
// purged from storage (the refresh credential is kept for silent renewal)
// and ErrNoSession is returned.
func (m *Manager) Restore(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.session.Valid(now) {
		cp := *m.session
		return &cp, nil
	}

	blob, err := m.store.Get(m.storageKey())
	if err != nil {
		if errors.Is(err, secrets.ErrNotFound) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("failed to load stored session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(blob, &sess); err != nil {
		log.Printf("credential: purging undecodable %s session blob: %v", m.kind, err)
		m.purgeLocked(&sess)
		return nil, ErrNoSession
	}

	if !sess.Valid(now) {
		m.purgeLocked(&sess)
		return nil, ErrNoSession
	}

	m.session = &sess
	cp := sess
	return &cp, nil
}

// purgeLocked drops the expired access token. When no refresh credential
// remains the whole blob is deleted.
func (m *Manager) purgeLocked(sess *Session) {
	m.session = nil
	if sess != nil && sess.RefreshToken != "" {
		kept := Session{RefreshToken: sess.RefreshToken, Scope: sess.Scope}
		if blob, err := json.Marshal(kept); err == nil {
			if err := m.store.Set(m.storageKey(), blob); err != nil {
				log.Printf("credential: failed to rewrite %s session blob: %v", m.kind, err)
			}
			return
		}
	}
	if err := m.store.Delete(m.storageKey()); err != nil {
		log.Printf("credential: failed to purge %s session: %v", m.kind, err)
	}
}

// Silent renews the session from a previously granted refresh credential
// without user interaction, bounded by a 5 second wait.
func (m *Manager) Silent(ctx context.Context) (*Session, error) {
	if m.oauth == nil {
		return nil, NewAuthError(KindNotConfigured, m.kind, nil)
	}

	refresh, scope := m.refreshCredential()
	if refresh == "" {
		return nil, NewAuthError(KindUnauthorized, m.kind, errors.New("no refresh credential granted"))
	}

	ctx, cancel := context.WithTimeout(ctx, silentTimeout)
	defer cancel()

	tok, err := m.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refresh}).Token()
	if err != nil {
		return nil, NewAuthError(classifyTokenError(err), m.kind, err)
	}

	sess := m.sessionFromToken(tok, refresh, scope)
	m.commit(sess)
	cp := *sess
	return &cp, nil
}

// refreshCredential returns the held or persisted refresh token
func (m *Manager) refreshCredential() (string, string) {
	m.mu.Lock()
	if m.session != nil && m.session.RefreshToken != "" {
		r, s := m.session.RefreshToken, m.session.Scope
		m.mu.Unlock()
		return r, s
	}
	m.mu.Unlock()

	blob, err := m.store.Get(m.storageKey())
	if err != nil {
		return "", ""
	}
	var sess Session
	if err := json.Unmarshal(blob, &sess); err != nil {
		return "", ""
	}
	return sess.RefreshToken, sess.Scope
}

// BeginInteractive opens (or joins) the single pending consent attempt.
// A second caller gets the in-flight attempt back, never a second consent
// surface.
func (m *Manager) BeginInteractive() (*Attempt, error) {
	if m.oauth == nil {
		return nil, NewAuthError(KindNotConfigured, m.kind, nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending != nil {
		return m.pending, nil
	}

	state := uuid.NewString()
	m.pending = &Attempt{
		State:   state,
		AuthURL: m.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline),
		done:    make(chan struct{}),
	}
	return m.pending, nil
}

// PendingAttempt returns the in-flight consent attempt, if any
func (m *Manager) PendingAttempt() *Attempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}

// CompleteInteractive exchanges the authorization code delivered to the
// redirect endpoint and resolves the pending attempt.
func (m *Manager) CompleteInteractive(ctx context.Context, state, code string) (*Session, error) {
	if m.oauth == nil {
		return nil, NewAuthError(KindNotConfigured, m.kind, nil)
	}

	m.mu.Lock()
	attempt := m.pending
	m.mu.Unlock()
	if attempt == nil || attempt.State != state {
		return nil, fmt.Errorf("%w for state %q", ErrNoAttempt, state)
	}

	tok, err := m.oauth.Exchange(ctx, code)
	if err != nil {
		authErr := NewAuthError(classifyTokenError(err), m.kind, err)
		m.finishAttempt(attempt, nil, authErr)
		return nil, authErr
	}

	sess := m.sessionFromToken(tok, "", "")
	m.commit(sess)
	cp := *sess
	m.finishAttempt(attempt, &cp, nil)
	return &cp, nil
}

// CancelInteractive resolves the pending attempt as abandoned by the user
func (m *Manager) CancelInteractive(state string) bool {
	m.mu.Lock()
	attempt := m.pending
	m.mu.Unlock()
	if attempt == nil || (state != "" && attempt.State != state) {
		return false
	}
	m.finishAttempt(attempt, nil, NewAuthError(KindUserCancelled, m.kind, nil))
	return true
}

func (m *Manager) finishAttempt(a *Attempt, s *Session, err error) {
	m.mu.Lock()
	if m.pending == a {
		m.pending = nil
	}
	m.mu.Unlock()
	a.resolve(s, err)
}

// SignIn resolves a session with the fewest user-visible prompts:
// restore, then silent renewal, then interactive consent. In the last case
// it returns a ConsentRequiredError carrying the URL the user must visit;
// callers needing to block use Attempt.Wait.
func (m *Manager) SignIn(ctx context.Context) (*Session, error) {
	if m.oauth == nil {
		return nil, NewAuthError(KindNotConfigured, m.kind, nil)
	}

	sess, err := m.Restore(ctx)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, ErrNoSession) {
		return nil, err
	}

	if sess, err := m.Silent(ctx); err == nil {
		return sess, nil
	} else if errors.Is(err, ErrConfigMismatch) || errors.Is(err, ErrNotConfigured) {
		return nil, err
	}

	attempt, err := m.BeginInteractive()
	if err != nil {
		return nil, err
	}
	return nil, &ConsentRequiredError{Provider: m.kind, AuthURL: attempt.AuthURL, State: attempt.State}
}

// Token returns a valid bearer token without user interaction
func (m *Manager) Token(ctx context.Context) (string, error) {
	if sess, err := m.Restore(ctx); err == nil {
		return sess.AccessToken, nil
	}
	sess, err := m.Silent(ctx)
	if err != nil {
		return "", err
	}
	return sess.AccessToken, nil
}

// TokenSource returns an oauth2 token source backed by this manager, so
// provider clients pick up silent renewals instead of holding a token
// that goes stale.
func (m *Manager) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &managerTokenSource{ctx: ctx, m: m}
}

type managerTokenSource struct {
	ctx context.Context
	m   *Manager
}

func (ts *managerTokenSource) Token() (*oauth2.Token, error) {
	sess, err := ts.m.Restore(ts.ctx)
	if err != nil {
		sess, err = ts.m.Silent(ts.ctx)
		if err != nil {
			return nil, err
		}
	}

	return &oauth2.Token{
		AccessToken:  sess.AccessToken,
		RefreshToken: sess.RefreshToken,
		TokenType:    sess.TokenType,
		Expiry:       sess.ExpiresAt,
	}, nil
}

// Revoke invalidates the token with the provider and clears all local
// state. Provider-side failures are logged, never surfaced; local state is
// cleared regardless so the account does not stay stuck connected.
func (m *Manager) Revoke(ctx context.Context) {
	m.mu.Lock()
	var access string
	if m.session != nil {
		access = m.session.AccessToken
	}
	m.session = nil
	m.pending = nil
	m.mu.Unlock()

	if access == "" {
		if blob, err := m.store.Get(m.storageKey()); err == nil {
			var sess Session
			if json.Unmarshal(blob, &sess) == nil {
				access = sess.AccessToken
				if access == "" {
					access = sess.RefreshToken
				}
			}
		}
	}

	if m.revokeURL != "" && access != "" {
		form := url.Values{"token": {access}}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.revokeURL, strings.NewReader(form.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			resp, err := m.client.Do(req)
			if err != nil {
				log.Printf("credential: %s revoke call failed: %v", m.kind, err)
			} else {
				resp.Body.Close()
				if resp.StatusCode >= 400 {
					log.Printf("credential: %s revoke returned status %d", m.kind, resp.StatusCode)
				}
			}
		}
	}

	if err := m.store.Delete(m.storageKey()); err != nil {
		log.Printf("credential: failed to clear stored %s session: %v", m.kind, err)
	}
}

// commit stores the session in memory and persists the blob
func (m *Manager) commit(sess *Session) {
	m.mu.Lock()
	m.session = sess
	m.mu.Unlock()

	blob, err := json.Marshal(sess)
	if err != nil {
		log.Printf("credential: failed to encode %s session: %v", m.kind, err)
		return
	}
	if err := m.store.Set(m.storageKey(), blob); err != nil {
		log.Printf("credential: failed to persist %s session: %v", m.kind, err)
	}
}

func (m *Manager) sessionFromToken(tok *oauth2.Token, prevRefresh, prevScope string) *Session {
	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = prevRefresh
	}
	scope := prevScope
	if s, ok := tok.Extra("scope").(string); ok && s != "" {
		scope = s
	}
	idToken, _ := tok.Extra("id_token").(string)

	return &Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: refresh,
		TokenType:    tok.TokenType,
		IDToken:      idToken,
		ExpiresAt:    tok.Expiry,
		Scope:        scope,
		SignedIn:     true,
	}
}

// classifyTokenError maps oauth2 transport failures onto the taxonomy
func classifyTokenError(err error) ErrorKind {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		switch re.ErrorCode {
		case "invalid_grant":
			return KindUnauthorized
		case "invalid_client", "unauthorized_client":
			return KindConfigMismatch
		case "redirect_uri_mismatch":
			return KindConfigMismatch
		case "access_denied":
			return KindUserCancelled
		}
		if re.Response != nil {
			switch re.Response.StatusCode {
			case http.StatusUnauthorized:
				return KindUnauthorized
			case http.StatusForbidden:
				return KindForbidden
			}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindProvider
}
