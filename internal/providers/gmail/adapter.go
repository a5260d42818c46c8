package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"github.com/inboxpilot-dev/mail-sync-infra/internal/mail"
)

const (
	// detailFetchCap bounds full-message fetches per listing. Listings
	// beyond the cap trade completeness for latency.
	detailFetchCap    = 10
	defaultMaxResults = 50

	labelUnread    = "UNREAD"
	labelStarred   = "STARRED"
	labelImportant = "IMPORTANT"
)

// Adapter implements MailProvider for Gmail
type Adapter struct {
	svc  *gmail.Service
	user *oauth2api.Service
}

// New creates a Gmail adapter backed by the given token source
func New(ctx context.Context, ts oauth2.TokenSource) (*Adapter, error) {
	svc, err := gmail.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	user, err := oauth2api.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("failed to create userinfo service: %w", err)
	}

	return &Adapter{svc: svc, user: user}, nil
}

// GetUserInfo returns the authenticated account's identity
func (a *Adapter) GetUserInfo(ctx context.Context) (mail.UserInfo, error) {
	info, err := a.user.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return mail.UserInfo{}, fmt.Errorf("failed to get user info: %w", err)
	}

	return mail.UserInfo{
		Email:  info.Email,
		Name:   info.Name,
		Avatar: info.Picture,
	}, nil
}

// ListMessages lists messages matching the filter, hydrating full details
// for at most detailFetchCap of them
func (a *Adapter) ListMessages(ctx context.Context, filter mail.Filter, maxResults int64) ([]mail.EmailMessage, error) {
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}

	call := a.svc.Users.Messages.List("me").IncludeSpamTrash(false).MaxResults(maxResults)
	if q := buildQuery(filter); q != "" {
		call = call.Q(q)
	}

	resp, err := call.Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	limit := len(resp.Messages)
	if limit > detailFetchCap {
		limit = detailFetchCap
	}

	out := make([]mail.EmailMessage, 0, limit)
	for _, ref := range resp.Messages[:limit] {
		msg, err := a.svc.Users.Messages.Get("me", ref.Id).Format("full").Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("failed to get message %s: %w", ref.Id, err)
		}
		out = append(out, normalize(msg))
	}

	return out, nil
}

// MarkRead removes the unread label; removing it twice succeeds trivially
func (a *Adapter) MarkRead(ctx context.Context, messageID string) error {
	req := &gmail.ModifyMessageRequest{RemoveLabelIds: []string{labelUnread}}
	if _, err := a.svc.Users.Messages.Modify("me", messageID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to mark message %s read: %w", messageID, err)
	}
	return nil
}

// SetStarred adds or removes the starred label
func (a *Adapter) SetStarred(ctx context.Context, messageID string, starred bool) error {
	req := &gmail.ModifyMessageRequest{}
	if starred {
		req.AddLabelIds = []string{labelStarred}
	} else {
		req.RemoveLabelIds = []string{labelStarred}
	}

	if _, err := a.svc.Users.Messages.Modify("me", messageID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to set starred on message %s: %w", messageID, err)
	}
	return nil
}

// GetUnreadCount returns the provider's unread estimate, not an exact count
func (a *Adapter) GetUnreadCount(ctx context.Context) (int64, error) {
	resp, err := a.svc.Users.Messages.List("me").Q("is:unread").MaxResults(1).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return resp.ResultSizeEstimate, nil
}

// buildQuery translates a canonical filter into Gmail search syntax
func buildQuery(f mail.Filter) string {
	var parts []string

	if f.IsRead != nil {
		if *f.IsRead {
			parts = append(parts, "-is:unread")
		} else {
			parts = append(parts, "is:unread")
		}
	}
	if f.IsStarred != nil {
		if *f.IsStarred {
			parts = append(parts, "is:starred")
		} else {
			parts = append(parts, "-is:starred")
		}
	}
	if f.IsImportant != nil {
		if *f.IsImportant {
			parts = append(parts, "is:important")
		} else {
			parts = append(parts, "-is:important")
		}
	}
	if f.HasAttachments != nil {
		if *f.HasAttachments {
			parts = append(parts, "has:attachment")
		} else {
			parts = append(parts, "-has:attachment")
		}
	}
	if f.Sender != "" {
		parts = append(parts, "from:"+f.Sender)
	}
	if f.Subject != "" {
		parts = append(parts, "subject:"+f.Subject)
	}
	if !f.After.IsZero() {
		parts = append(parts, "after:"+f.After.Format("2006/01/02"))
	}
	if !f.Before.IsZero() {
		parts = append(parts, "before:"+f.Before.Format("2006/01/02"))
	}
	if f.Query != "" {
		parts = append(parts, f.Query)
	}

	return strings.Join(parts, " ")
}

// normalize converts a Gmail message to the canonical form
func normalize(m *gmail.Message) mail.EmailMessage {
	headers := make(map[string]string)
	if m.Payload != nil {
		for _, kv := range m.Payload.Headers {
			headers[kv.Name] = kv.Value
		}
	}

	text, html := extractBody(m.Payload)
	body := mail.Body{Text: text, HTML: html}
	if body.Text == "" && body.HTML != "" {
		body.Text = mail.HTMLToText(body.HTML)
	}

	snippet := m.Snippet
	if snippet == "" {
		snippet = mail.Snippet(body.Text, 120)
	}

	return mail.EmailMessage{
		ID:             m.Id,
		ThreadID:       m.ThreadId,
		Subject:        headers["Subject"],
		From:           mail.ParseAddress(headers["From"]),
		To:             mail.ParseAddressList(headers["To"]),
		Cc:             mail.ParseAddressList(headers["Cc"]),
		Date:           time.UnixMilli(m.InternalDate),
		Body:           body,
		Labels:         m.LabelIds,
		IsRead:         !hasLabel(m.LabelIds, labelUnread),
		IsStarred:      hasLabel(m.LabelIds, labelStarred),
		IsImportant:    hasLabel(m.LabelIds, labelImportant),
		HasAttachments: hasAttachment(m.Payload),
		Snippet:        snippet,
		ProviderID:     string(mail.KindGmail),
	}
}

// extractBody walks the MIME tree collecting the first text/plain and
// text/html bodies
func extractBody(p *gmail.MessagePart) (text, html string) {
	if p == nil {
		return "", ""
	}

	if len(p.Parts) == 0 && p.Body != nil && p.Body.Data != "" {
		data, err := base64.URLEncoding.DecodeString(p.Body.Data)
		if err == nil {
			if p.MimeType == "text/html" {
				return "", string(data)
			}
			return string(data), ""
		}
	}

	var walk func(parts []*gmail.MessagePart)
	walk = func(parts []*gmail.MessagePart) {
		for _, part := range parts {
			if part.Body != nil && part.Body.Data != "" {
				data, err := base64.URLEncoding.DecodeString(part.Body.Data)
				if err == nil {
					switch part.MimeType {
					case "text/plain":
						if text == "" {
							text = string(data)
						}
					case "text/html":
						if html == "" {
							html = string(data)
						}
					}
				}
			}
			if len(part.Parts) > 0 {
				walk(part.Parts)
			}
		}
	}
	walk(p.Parts)

	return text, html
}

func hasAttachment(p *gmail.MessagePart) bool {
	if p == nil {
		return false
	}

	found := false
	var walk func(parts []*gmail.MessagePart)
	walk = func(parts []*gmail.MessagePart) {
		for _, part := range parts {
			if part.Filename != "" && part.Body != nil && part.Body.AttachmentId != "" {
				found = true
				return
			}
			if len(part.Parts) > 0 {
				walk(part.Parts)
			}
		}
	}
	walk(p.Parts)

	return found
}

func hasLabel(labels []string, label string) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}
