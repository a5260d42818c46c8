package outlook

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/users"
	"golang.org/x/oauth2"

	"github.com/inboxpilot-dev/mail-sync-infra/internal/mail"
)

const defaultMaxResults = 50

var messageSelect = []string{
	"id", "conversationId", "subject", "from", "toRecipients", "ccRecipients",
	"body", "bodyPreview", "receivedDateTime", "isRead", "flag", "importance",
	"hasAttachments", "categories",
}

// Adapter implements MailProvider for Outlook/Microsoft Graph
type Adapter struct {
	client *msgraphsdk.GraphServiceClient
}

// New creates an Outlook adapter backed by the given token source
func New(ctx context.Context, ts oauth2.TokenSource) (*Adapter, error) {
	cred := &tokenSourceCredential{ts: ts}

	client, err := msgraphsdk.NewGraphServiceClientWithCredentials(cred, []string{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Graph client: %w", err)
	}

	return &Adapter{client: client}, nil
}

// GetUserInfo returns the authenticated account's identity
func (a *Adapter) GetUserInfo(ctx context.Context) (mail.UserInfo, error) {
	user, err := a.client.Me().Get(ctx, nil)
	if err != nil {
		return mail.UserInfo{}, fmt.Errorf("failed to get user profile: %w", err)
	}

	var info mail.UserInfo
	if addr := user.GetMail(); addr != nil {
		info.Email = *addr
	} else if upn := user.GetUserPrincipalName(); upn != nil {
		info.Email = *upn
	}
	if name := user.GetDisplayName(); name != nil {
		info.Name = *name
	}
	return info, nil
}

// ListMessages lists messages matching the filter. Graph returns full
// message bodies in the listing itself, so no per-message hydration is
// needed. Ordering is the provider default (recency descending).
func (a *Adapter) ListMessages(ctx context.Context, filter mail.Filter, maxResults int64) ([]mail.EmailMessage, error) {
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}

	params := &users.ItemMessagesRequestBuilderGetQueryParameters{
		Top:    Int32Ptr(int32(maxResults)),
		Select: messageSelect,
	}

	// Graph rejects $search combined with $filter, so free text wins.
	if filter.Query != "" {
		search := fmt.Sprintf("%q", filter.Query)
		params.Search = &search
	} else if f := buildFilter(filter); f != "" {
		params.Filter = &f
	}

	requestConfig := &users.ItemMessagesRequestBuilderGetRequestConfiguration{
		QueryParameters: params,
	}

	result, err := a.client.Me().Messages().Get(ctx, requestConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	msgs := result.GetValue()
	out := make([]mail.EmailMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, normalize(m))
	}
	return out, nil
}

// MarkRead patches the message's read flag; patching it twice succeeds
// trivially
func (a *Adapter) MarkRead(ctx context.Context, messageID string) error {
	patch := models.NewMessage()
	read := true
	patch.SetIsRead(&read)

	if _, err := a.client.Me().Messages().ByMessageId(messageID).Patch(ctx, patch, nil); err != nil {
		return fmt.Errorf("failed to mark message %s read: %w", messageID, err)
	}
	return nil
}

// SetStarred maps starring onto the follow-up flag
func (a *Adapter) SetStarred(ctx context.Context, messageID string, starred bool) error {
	status := models.NOTFLAGGED_FOLLOWUPFLAGSTATUS
	if starred {
		status = models.FLAGGED_FOLLOWUPFLAGSTATUS
	}

	flag := models.NewFollowupFlag()
	flag.SetFlagStatus(&status)

	patch := models.NewMessage()
	patch.SetFlag(flag)

	if _, err := a.client.Me().Messages().ByMessageId(messageID).Patch(ctx, patch, nil); err != nil {
		return fmt.Errorf("failed to set starred on message %s: %w", messageID, err)
	}
	return nil
}

// GetUnreadCount reads the inbox folder's unread counter
func (a *Adapter) GetUnreadCount(ctx context.Context) (int64, error) {
	folder, err := a.client.Me().MailFolders().ByMailFolderId("inbox").Get(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to get inbox folder: %w", err)
	}

	if n := folder.GetUnreadItemCount(); n != nil {
		return int64(*n), nil
	}
	return 0, nil
}

// buildFilter translates the structured filter fields into OData syntax
func buildFilter(f mail.Filter) string {
	var parts []string

	if f.IsRead != nil {
		parts = append(parts, fmt.Sprintf("isRead eq %t", *f.IsRead))
	}
	if f.IsStarred != nil {
		if *f.IsStarred {
			parts = append(parts, "flag/flagStatus eq 'flagged'")
		} else {
			parts = append(parts, "flag/flagStatus eq 'notFlagged'")
		}
	}
	if f.IsImportant != nil {
		if *f.IsImportant {
			parts = append(parts, "importance eq 'high'")
		} else {
			parts = append(parts, "importance ne 'high'")
		}
	}
	if f.HasAttachments != nil {
		parts = append(parts, fmt.Sprintf("hasAttachments eq %t", *f.HasAttachments))
	}
	if f.Sender != "" {
		parts = append(parts, fmt.Sprintf("from/emailAddress/address eq '%s'", f.Sender))
	}
	if f.Subject != "" {
		parts = append(parts, fmt.Sprintf("contains(subject, '%s')", f.Subject))
	}
	if !f.After.IsZero() {
		parts = append(parts, "receivedDateTime ge "+f.After.UTC().Format(time.RFC3339))
	}
	if !f.Before.IsZero() {
		parts = append(parts, "receivedDateTime lt "+f.Before.UTC().Format(time.RFC3339))
	}

	return strings.Join(parts, " and ")
}

// normalize converts a Graph message to the canonical form
func normalize(m models.Messageable) mail.EmailMessage {
	msg := mail.EmailMessage{
		ProviderID: string(mail.KindOutlook),
	}

	if id := m.GetId(); id != nil {
		msg.ID = *id
	}
	if convID := m.GetConversationId(); convID != nil {
		msg.ThreadID = *convID
	}
	if subject := m.GetSubject(); subject != nil {
		msg.Subject = *subject
	}
	if from := m.GetFrom(); from != nil {
		msg.From = toAddress(from)
	}
	if to := m.GetToRecipients(); to != nil {
		msg.To = toAddresses(to)
	}
	if cc := m.GetCcRecipients(); cc != nil {
		msg.Cc = toAddresses(cc)
	}
	if rcvd := m.GetReceivedDateTime(); rcvd != nil {
		msg.Date = *rcvd
	}
	if body := m.GetBody(); body != nil {
		if content := body.GetContent(); content != nil {
			if ct := body.GetContentType(); ct != nil && *ct == models.HTML_BODYTYPE {
				msg.Body.HTML = *content
				msg.Body.Text = mail.HTMLToText(*content)
			} else {
				msg.Body.Text = *content
			}
		}
	}
	if categories := m.GetCategories(); categories != nil {
		msg.Labels = categories
	}
	if read := m.GetIsRead(); read != nil {
		msg.IsRead = *read
	}
	if flag := m.GetFlag(); flag != nil {
		if status := flag.GetFlagStatus(); status != nil {
			msg.IsStarred = *status == models.FLAGGED_FOLLOWUPFLAGSTATUS
		}
	}
	if importance := m.GetImportance(); importance != nil {
		msg.IsImportant = *importance == models.HIGH_IMPORTANCE
	}
	if has := m.GetHasAttachments(); has != nil {
		msg.HasAttachments = *has
	}
	if preview := m.GetBodyPreview(); preview != nil {
		msg.Snippet = *preview
	}
	if msg.Snippet == "" {
		msg.Snippet = mail.Snippet(msg.Body.Text, 120)
	}

	return msg
}

// toAddress normalizes a Graph recipient; a missing display name falls
// back to the address
func toAddress(r models.Recipientable) mail.Address {
	var addr mail.Address
	if emailAddr := r.GetEmailAddress(); emailAddr != nil {
		if a := emailAddr.GetAddress(); a != nil {
			addr.Email = *a
		}
		if n := emailAddr.GetName(); n != nil {
			addr.Name = *n
		}
	}
	if addr.Name == "" {
		addr.Name = addr.Email
	}
	return addr
}

func toAddresses(recipients []models.Recipientable) []mail.Address {
	var addrs []mail.Address
	for _, r := range recipients {
		addrs = append(addrs, toAddress(r))
	}
	return addrs
}

// tokenSourceCredential adapts an oauth2 token source to the azcore
// credential interface Graph clients expect
type tokenSourceCredential struct {
	ts oauth2.TokenSource
}

func (c *tokenSourceCredential) GetToken(ctx context.Context, options policy.TokenRequestOptions) (azcore.AccessToken, error) {
	tok, err := c.ts.Token()
	if err != nil {
		return azcore.AccessToken{}, fmt.Errorf("failed to acquire token: %w", err)
	}

	expires := tok.Expiry
	if expires.IsZero() {
		expires = time.Now().Add(1 * time.Hour)
	}

	return azcore.AccessToken{
		Token:     tok.AccessToken,
		ExpiresOn: expires,
	}, nil
}

// Int32Ptr returns a pointer to an int32
func Int32Ptr(i int32) *int32 {
	return &i
}
