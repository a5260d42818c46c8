package credential

import (
	"errors"
	"fmt"

	"github.com/inboxpilot-dev/mail-sync-infra/internal/mail"
)

// ErrorKind classifies an authentication failure
type ErrorKind string

const (
	KindNotConfigured  ErrorKind = "not_configured"
	KindUserCancelled  ErrorKind = "user_cancelled"
	KindConfigMismatch ErrorKind = "config_mismatch"
	KindUnauthorized   ErrorKind = "unauthorized"
	KindForbidden      ErrorKind = "forbidden"
	KindTimeout        ErrorKind = "timeout"
	KindProvider       ErrorKind = "provider"
)

// Sentinel targets for errors.Is against an AuthError
var (
	ErrNotConfigured  = errors.New("provider credentials not configured")
	ErrUserCancelled  = errors.New("consent flow cancelled")
	ErrConfigMismatch = errors.New("oauth client configuration mismatch")
	ErrUnauthorized   = errors.New("token rejected by provider")
	ErrForbidden      = errors.New("permission denied by provider")
	ErrTimeout        = errors.New("provider did not answer in time")
	ErrNoSession      = errors.New("no stored session")
	ErrNoAttempt      = errors.New("no pending consent attempt")
)

// AuthError is a classified authentication failure for one provider.
// Hint carries remediation text specific to the failure category.
type AuthError struct {
	Kind     ErrorKind
	Provider mail.Kind
	Hint     string
	Err      error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s auth failed (%s): %v", e.Provider, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s auth failed (%s)", e.Provider, e.Kind)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel corresponding to the error's kind
func (e *AuthError) Is(target error) bool {
	switch target {
	case ErrNotConfigured:
		return e.Kind == KindNotConfigured
	case ErrUserCancelled:
		return e.Kind == KindUserCancelled
	case ErrConfigMismatch:
		return e.Kind == KindConfigMismatch
	case ErrUnauthorized:
		return e.Kind == KindUnauthorized
	case ErrForbidden:
		return e.Kind == KindForbidden
	case ErrTimeout:
		return e.Kind == KindTimeout
	}
	return false
}

// NewAuthError builds a classified failure with its remediation hint
func NewAuthError(kind ErrorKind, provider mail.Kind, err error) *AuthError {
	return &AuthError{
		Kind:     kind,
		Provider: provider,
		Hint:     remediation(kind),
		Err:      err,
	}
}

// IsAuthError extracts an AuthError from an error chain
func IsAuthError(err error) (*AuthError, bool) {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// ConsentRequiredError reports that a sign-in needs interactive consent.
// AuthURL is where the user must be sent; State identifies the attempt.
type ConsentRequiredError struct {
	Provider mail.Kind
	AuthURL  string
	State    string
}

func (e *ConsentRequiredError) Error() string {
	return fmt.Sprintf("%s sign-in requires interactive consent", e.Provider)
}

func remediation(kind ErrorKind) string {
	switch kind {
	case KindNotConfigured:
		return "provider client credentials are not provisioned; set client_id and client_secret in the config"
	case KindUserCancelled:
		return "the consent window was closed before finishing; start the connect flow again"
	case KindConfigMismatch:
		return "the OAuth client's redirect URL does not match this deployment; fix the provider app registration"
	case KindUnauthorized:
		return "the stored token was rejected; reconnect the account"
	case KindForbidden:
		return "the account lacks the required scopes; reconnect and grant access"
	case KindTimeout:
		return "the provider did not answer in time; try again"
	default:
		return "temporary provider failure; try again"
	}
}
