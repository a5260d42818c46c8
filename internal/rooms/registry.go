package rooms

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/inboxpilot-dev/mail-sync-infra/internal/mail"
	"github.com/inboxpilot-dev/mail-sync-infra/internal/store"
)

// Settings are the per-room sync switches
type Settings struct {
	AutoSync            bool `json:"autoSync"`
	SyncIntervalMinutes int  `json:"syncIntervalMinutes"`
	AIParsing           bool `json:"aiParsing"`
	MeetingDetection    bool `json:"meetingDetection"`
	CalendarIntegration bool `json:"calendarIntegration"`
	CRMSync             bool `json:"crmSync"`
}

// SettingsPatch is a partial settings update; nil fields keep their value
type SettingsPatch struct {
	AutoSync            *bool `json:"autoSync,omitempty"`
	SyncIntervalMinutes *int  `json:"syncIntervalMinutes,omitempty"`
	AIParsing           *bool `json:"aiParsing,omitempty"`
	MeetingDetection    *bool `json:"meetingDetection,omitempty"`
	CalendarIntegration *bool `json:"calendarIntegration,omitempty"`
	CRMSync             *bool `json:"crmSync,omitempty"`
}

// Room is one connected mailbox identity with its sync settings and
// metadata. Identity is (providerKind, accountEmail).
type Room struct {
	ID           string     `json:"id"`
	DisplayName  string     `json:"displayName"`
	ProviderID   string     `json:"providerId"`
	ProviderKind mail.Kind  `json:"providerKind"`
	AccountEmail string     `json:"accountEmail"`
	IsActive     bool       `json:"isActive"`
	UnreadCount  int64      `json:"unreadCount"`
	LastSyncTime *time.Time `json:"lastSyncTime,omitempty"`
	Settings     Settings   `json:"settings"`
}

// Registry is the single source of truth for connected mailboxes
type Registry struct {
	store *store.Store
}

// NewRegistry creates a registry over the given store
func NewRegistry(st *store.Store) *Registry {
	return &Registry{store: st}
}

// UpsertRoom creates the room for (kind, userInfo.Email) or reactivates and
// refreshes the existing one. New rooms get the default settings.
func (r *Registry) UpsertRoom(ctx context.Context, kind mail.Kind, info mail.UserInfo) (*Room, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown provider kind %q", kind)
	}
	if info.Email == "" {
		return nil, fmt.Errorf("user info missing account email")
	}

	sr, err := r.store.UpsertRoom(ctx, uuid.NewString(), displayName(kind, info), string(kind), info.Email)
	if err != nil {
		return nil, err
	}
	room := fromStore(*sr)
	return &room, nil
}

// GetRoom loads one room by id
func (r *Registry) GetRoom(ctx context.Context, id string) (*Room, error) {
	sr, err := r.store.GetRoom(ctx, id)
	if err != nil {
		return nil, err
	}
	room := fromStore(*sr)
	return &room, nil
}

// ListActiveRooms returns all active rooms
func (r *Registry) ListActiveRooms(ctx context.Context) ([]Room, error) {
	srs, err := r.store.ListActiveRooms(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Room, 0, len(srs))
	for _, sr := range srs {
		out = append(out, fromStore(sr))
	}
	return out, nil
}

// DeactivateRoomsForProvider marks a provider's rooms inactive on
// disconnect. Rows survive so status reads keep working.
func (r *Registry) DeactivateRoomsForProvider(ctx context.Context, kind mail.Kind) (int64, error) {
	return r.store.DeactivateRoomsForProvider(ctx, string(kind))
}

// UpdateSettings applies a partial settings patch and returns the room
func (r *Registry) UpdateSettings(ctx context.Context, id string, patch SettingsPatch) (*Room, error) {
	current, err := r.GetRoom(ctx, id)
	if err != nil {
		return nil, err
	}

	s := current.Settings
	if patch.AutoSync != nil {
		s.AutoSync = *patch.AutoSync
	}
	if patch.SyncIntervalMinutes != nil {
		if *patch.SyncIntervalMinutes < 1 {
			return nil, fmt.Errorf("syncIntervalMinutes must be at least 1, got %d", *patch.SyncIntervalMinutes)
		}
		s.SyncIntervalMinutes = *patch.SyncIntervalMinutes
	}
	if patch.AIParsing != nil {
		s.AIParsing = *patch.AIParsing
	}
	if patch.MeetingDetection != nil {
		s.MeetingDetection = *patch.MeetingDetection
	}
	if patch.CalendarIntegration != nil {
		s.CalendarIntegration = *patch.CalendarIntegration
	}
	if patch.CRMSync != nil {
		s.CRMSync = *patch.CRMSync
	}

	err = r.store.UpdateRoomSettings(ctx, id, s.AutoSync, s.SyncIntervalMinutes,
		s.AIParsing, s.MeetingDetection, s.CalendarIntegration, s.CRMSync)
	if err != nil {
		return nil, err
	}

	return r.GetRoom(ctx, id)
}

// RecordSyncResult stores a finished pass's room-level outcome
func (r *Registry) RecordSyncResult(ctx context.Context, id string, at time.Time, unreadCount int64) error {
	return r.store.RecordSyncResult(ctx, id, at, unreadCount)
}

func displayName(kind mail.Kind, info mail.UserInfo) string {
	name := info.Name
	if name == "" {
		name = info.Email
	}
	return fmt.Sprintf("%s - %s", kindLabel(kind), name)
}

func kindLabel(kind mail.Kind) string {
	switch kind {
	case mail.KindGmail:
		return "Gmail"
	case mail.KindOutlook:
		return "Outlook"
	}
	return string(kind)
}

func fromStore(sr store.Room) Room {
	room := Room{
		ID:           sr.ID,
		DisplayName:  sr.DisplayName,
		ProviderID:   sr.ProviderKind,
		ProviderKind: mail.Kind(sr.ProviderKind),
		AccountEmail: sr.AccountEmail,
		IsActive:     sr.IsActive,
		UnreadCount:  sr.UnreadCount,
		Settings: Settings{
			AutoSync:            sr.AutoSync,
			SyncIntervalMinutes: sr.SyncIntervalMinutes,
			AIParsing:           sr.AIParsing,
			MeetingDetection:    sr.MeetingDetection,
			CalendarIntegration: sr.CalendarIntegration,
			CRMSync:             sr.CRMSync,
		},
	}
	if sr.LastSyncTime > 0 {
		t := time.Unix(sr.LastSyncTime, 0)
		room.LastSyncTime = &t
	}
	return room
}
