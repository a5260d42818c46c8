package sync

import (
	"context"
	"errors"

	"github.com/inboxpilot-dev/mail-sync-infra/internal/mail"
)

// ErrNotConnected is returned by adapter operations without a valid session
var ErrNotConnected = errors.New("provider not connected")

// MailProvider is the capability contract every provider adapter serves,
// identical across provider kinds.
type MailProvider interface {
	// GetUserInfo returns the connected account identity
	GetUserInfo(ctx context.Context) (mail.UserInfo, error)

	// ListMessages returns messages matching every set field of filter, in
	// provider-default order. Detail fetches are capped, so the result may
	// cover only a prefix of a larger mailbox.
	ListMessages(ctx context.Context, filter mail.Filter, maxResults int64) ([]mail.EmailMessage, error)

	// MarkRead marks a message read. Marking an already-read message
	// succeeds trivially.
	MarkRead(ctx context.Context, messageID string) error

	// SetStarred stars or unstars a message, idempotently
	SetStarred(ctx context.Context, messageID string, starred bool) error

	// GetUnreadCount reports the unread total. It may be a provider
	// estimate under high volume.
	GetUnreadCount(ctx context.Context) (int64, error)
}
