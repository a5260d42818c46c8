package mail

import (
	"time"
)

// Kind identifies a supported mail provider
type Kind string

const (
	KindGmail   Kind = "gmail"
	KindOutlook Kind = "outlook"
)

// Valid reports whether k names a supported provider
func (k Kind) Valid() bool {
	return k == KindGmail || k == KindOutlook
}

// Address is a parsed mailbox address
type Address struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// UserInfo is the account identity returned by a provider
type UserInfo struct {
	Email  string `json:"email"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// Body holds the extracted message content
type Body struct {
	Text string `json:"text"`
	HTML string `json:"html,omitempty"`
}

// EmailMessage is the canonical provider-agnostic message shape
type EmailMessage struct {
	ID             string    `json:"id"`
	ThreadID       string    `json:"threadId"`
	Subject        string    `json:"subject"`
	From           Address   `json:"from"`
	To             []Address `json:"to"`
	Cc             []Address `json:"cc,omitempty"`
	Date           time.Time `json:"date"`
	Body           Body      `json:"body"`
	Labels         []string  `json:"labels,omitempty"`
	IsRead         bool      `json:"isRead"`
	IsStarred      bool      `json:"isStarred"`
	IsImportant    bool      `json:"isImportant"`
	HasAttachments bool      `json:"hasAttachments"`
	Snippet        string    `json:"snippet"`
	ProviderID     string    `json:"providerId"`
	RoomID         string    `json:"roomId,omitempty"`
}

// Filter narrows a message listing; unset fields impose no constraint
type Filter struct {
	IsRead         *bool
	IsStarred      *bool
	IsImportant    *bool
	HasAttachments *bool
	Sender         string
	Subject        string
	Query          string
	After          time.Time
	Before         time.Time
}

// Bool returns a pointer to v for filter construction
func Bool(v bool) *bool {
	return &v
}

// Matches reports whether m satisfies every set field of f.
// Free-text Query matches against subject, sender and body text.
func (f Filter) Matches(m EmailMessage) bool {
	if f.IsRead != nil && m.IsRead != *f.IsRead {
		return false
	}
	if f.IsStarred != nil && m.IsStarred != *f.IsStarred {
		return false
	}
	if f.IsImportant != nil && m.IsImportant != *f.IsImportant {
		return false
	}
	if f.HasAttachments != nil && m.HasAttachments != *f.HasAttachments {
		return false
	}
	if f.Sender != "" && !containsFold(m.From.Email, f.Sender) && !containsFold(m.From.Name, f.Sender) {
		return false
	}
	if f.Subject != "" && !containsFold(m.Subject, f.Subject) {
		return false
	}
	if f.Query != "" {
		if !containsFold(m.Subject, f.Query) &&
			!containsFold(m.From.Email, f.Query) &&
			!containsFold(m.Body.Text, f.Query) {
			return false
		}
	}
	if !f.After.IsZero() && m.Date.Before(f.After) {
		return false
	}
	if !f.Before.IsZero() && !m.Date.Before(f.Before) {
		return false
	}
	return true
}
