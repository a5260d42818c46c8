package providers

import (
	"sync"

	"github.com/inboxpilot-dev/mail-sync-infra/internal/mail"
)

// ConnectionState is a provider's live connection status
type ConnectionState string

const (
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
)

// Provider is one provider kind's config and status record
type Provider struct {
	ID              string          `json:"id"`
	DisplayName     string          `json:"displayName"`
	Icon            string          `json:"icon"`
	ConnectionState ConnectionState `json:"connectionState"`
	AccountInfo     *mail.UserInfo  `json:"accountInfo,omitempty"`
}

type record struct {
	displayName string
	icon        string
	connected   func() bool
	accountInfo *mail.UserInfo
}

// Directory tracks one record per supported provider kind. The connection
// state is computed from the credential session on every read, so an
// expired token immediately reads as disconnected.
type Directory struct {
	mu      sync.RWMutex
	order   []mail.Kind
	records map[mail.Kind]*record
}

// NewDirectory creates an empty directory
func NewDirectory() *Directory {
	return &Directory{records: make(map[mail.Kind]*record)}
}

// Register adds a provider kind. connected reports whether its credential
// session currently holds a non-expired token.
func (d *Directory) Register(kind mail.Kind, displayName, icon string, connected func() bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.records[kind]; !ok {
		d.order = append(d.order, kind)
	}
	d.records[kind] = &record{
		displayName: displayName,
		icon:        icon,
		connected:   connected,
	}
}

// SetAccountInfo stores the connected account identity for a provider
func (d *Directory) SetAccountInfo(kind mail.Kind, info mail.UserInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if rec, ok := d.records[kind]; ok {
		cp := info
		rec.accountInfo = &cp
	}
}

// ClearAccountInfo drops the account identity on disconnect
func (d *Directory) ClearAccountInfo(kind mail.Kind) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if rec, ok := d.records[kind]; ok {
		rec.accountInfo = nil
	}
}

// Get returns one provider's record
func (d *Directory) Get(kind mail.Kind) (Provider, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rec, ok := d.records[kind]
	if !ok {
		return Provider{}, false
	}
	return d.snapshot(kind, rec), true
}

// List returns all provider records in registration order
func (d *Directory) List() []Provider {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Provider, 0, len(d.order))
	for _, kind := range d.order {
		out = append(out, d.snapshot(kind, d.records[kind]))
	}
	return out
}

func (d *Directory) snapshot(kind mail.Kind, rec *record) Provider {
	p := Provider{
		ID:              string(kind),
		DisplayName:     rec.displayName,
		Icon:            rec.icon,
		ConnectionState: StateDisconnected,
	}
	if rec.connected != nil && rec.connected() {
		p.ConnectionState = StateConnected
	}
	if rec.accountInfo != nil {
		cp := *rec.accountInfo
		p.AccountInfo = &cp
	}
	return p
}
