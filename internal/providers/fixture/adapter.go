package fixture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/inboxpilot-dev/mail-sync-infra/internal/mail"
)

// Adapter serves a deterministic in-memory mailbox. It stands in for a
// live provider when no client credentials are provisioned, so every code
// path stays exercisable without network access.
type Adapter struct {
	kind mail.Kind

	mu       sync.Mutex
	messages []mail.EmailMessage
}

// New creates the fixture adapter for a provider kind. The mailbox always
// starts with the same three messages, one of them unread.
func New(kind mail.Kind) *Adapter {
	return &Adapter{kind: kind, messages: seedMessages(kind)}
}

func seedMessages(kind mail.Kind) []mail.EmailMessage {
	providerID := string(kind)
	return []mail.EmailMessage{
		{
			ID:       "fixture-001",
			ThreadID: "fixture-thread-001",
			Subject:  "Quick sync next Tuesday?",
			From:     mail.Address{Name: "Sarah Chen", Email: "sarah.chen@acmecorp.example"},
			To:       []mail.Address{{Name: "Demo User", Email: demoEmail(kind)}},
			Date:     time.Date(2025, 1, 14, 9, 12, 0, 0, time.UTC),
			Body: mail.Body{
				Text: "Hi! Could we schedule a meeting next Tuesday at 2pm to walk through the Q1 roadmap? Alex from product would join too. Best, Sarah",
			},
			Labels:     []string{"INBOX"},
			IsRead:     false,
			Snippet:    "Hi! Could we schedule a meeting next Tuesday at 2pm to walk through the Q1 roadmap?",
			ProviderID: providerID,
		},
		{
			ID:       "fixture-002",
			ThreadID: "fixture-thread-002",
			Subject:  "Re: invoice #4417",
			From:     mail.Address{Name: "Miles Ortega", Email: "miles@supplies.example"},
			To:       []mail.Address{{Name: "Demo User", Email: demoEmail(kind)}},
			Date:     time.Date(2025, 1, 13, 16, 40, 0, 0, time.UTC),
			Body: mail.Body{
				Text: "Thanks for the quick turnaround, the invoice is settled. Following up next month on the renewal.",
			},
			Labels:     []string{"INBOX"},
			IsRead:     true,
			IsStarred:  true,
			Snippet:    "Thanks for the quick turnaround, the invoice is settled.",
			ProviderID: providerID,
		},
		{
			ID:       "fixture-003",
			ThreadID: "fixture-thread-003",
			Subject:  "Your weekly product digest",
			From:     mail.Address{Name: "Digest", Email: "no-reply@digest.example"},
			To:       []mail.Address{{Name: "Demo User", Email: demoEmail(kind)}},
			Date:     time.Date(2025, 1, 12, 7, 0, 0, 0, time.UTC),
			Body: mail.Body{
				Text: "Here is what shipped this week across the tools you follow.",
				HTML: "<p>Here is what shipped this week across the tools you follow.</p>",
			},
			Labels:     []string{"INBOX", "NEWSLETTERS"},
			IsRead:     true,
			Snippet:    "Here is what shipped this week across the tools you follow.",
			ProviderID: providerID,
		},
	}
}

func demoEmail(kind mail.Kind) string {
	return fmt.Sprintf("demo@%s.example", kind)
}

// GetUserInfo returns the demo account identity
func (a *Adapter) GetUserInfo(ctx context.Context) (mail.UserInfo, error) {
	return mail.UserInfo{
		Email: demoEmail(a.kind),
		Name:  "Demo User",
	}, nil
}

// ListMessages applies the filter over the in-memory mailbox
func (a *Adapter) ListMessages(ctx context.Context, filter mail.Filter, maxResults int64) ([]mail.EmailMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []mail.EmailMessage
	for _, m := range a.messages {
		if !filter.Matches(m) {
			continue
		}
		out = append(out, m)
		if maxResults > 0 && int64(len(out)) >= maxResults {
			break
		}
	}
	return out, nil
}

// MarkRead marks a message read; already-read messages succeed trivially
func (a *Adapter) MarkRead(ctx context.Context, messageID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.messages {
		if a.messages[i].ID == messageID {
			a.messages[i].IsRead = true
			return nil
		}
	}
	return fmt.Errorf("message %s not found", messageID)
}

// SetStarred stars or unstars a message idempotently
func (a *Adapter) SetStarred(ctx context.Context, messageID string, starred bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.messages {
		if a.messages[i].ID == messageID {
			a.messages[i].IsStarred = starred
			return nil
		}
	}
	return fmt.Errorf("message %s not found", messageID)
}

// GetUnreadCount counts unread fixture messages
func (a *Adapter) GetUnreadCount(ctx context.Context) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var n int64
	for _, m := range a.messages {
		if !m.IsRead {
			n++
		}
	}
	return n, nil
}
