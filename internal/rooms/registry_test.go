package rooms

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/inboxpilot-dev/mail-sync-infra/internal/mail"
	"github.com/inboxpilot-dev/mail-sync-infra/internal/store"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewRegistry(st)
}

func TestUpsertRoomCreatesWithDefaults(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	room, err := reg.UpsertRoom(ctx, mail.KindGmail, mail.UserInfo{Email: "ada@example.com", Name: "Ada Lovelace"})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if room.DisplayName != "Gmail - Ada Lovelace" {
		t.Errorf("display name = %q", room.DisplayName)
	}
	if room.ProviderKind != mail.KindGmail || room.ProviderID != "gmail" {
		t.Errorf("provider fields = %+v", room)
	}
	want := Settings{
		AutoSync:            true,
		SyncIntervalMinutes: 5,
		AIParsing:           true,
		MeetingDetection:    true,
		CalendarIntegration: true,
		CRMSync:             true,
	}
	if room.Settings != want {
		t.Errorf("settings = %+v, want %+v", room.Settings, want)
	}
	if room.LastSyncTime != nil {
		t.Errorf("new room must not have a last sync time")
	}
}

func TestUpsertRoomRejectsBadInput(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	if _, err := reg.UpsertRoom(ctx, mail.Kind("imap"), mail.UserInfo{Email: "a@b.c"}); err == nil {
		t.Fatalf("expected error for unknown provider kind")
	}
	if _, err := reg.UpsertRoom(ctx, mail.KindGmail, mail.UserInfo{Name: "No Email"}); err == nil {
		t.Fatalf("expected error for missing email")
	}
}

func TestReconnectReusesRoomIdentity(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	first, err := reg.UpsertRoom(ctx, mail.KindGmail, mail.UserInfo{Email: "ada@example.com"})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if _, err := reg.DeactivateRoomsForProvider(ctx, mail.KindGmail); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	active, err := reg.ListActiveRooms(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected no active rooms, got %d", len(active))
	}

	second, err := reg.UpsertRoom(ctx, mail.KindGmail, mail.UserInfo{Email: "ada@example.com", Name: "Ada"})
	if err != nil {
		t.Fatalf("reconnect upsert: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("reconnect created a duplicate room: %q vs %q", second.ID, first.ID)
	}
	if !second.IsActive {
		t.Errorf("reconnected room should be active")
	}
}

func TestUpdateSettingsMergesPartialPatch(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	room, err := reg.UpsertRoom(ctx, mail.KindGmail, mail.UserInfo{Email: "ada@example.com"})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	off := false
	interval := 15
	updated, err := reg.UpdateSettings(ctx, room.ID, SettingsPatch{
		AutoSync:            &off,
		SyncIntervalMinutes: &interval,
	})
	if err != nil {
		t.Fatalf("update settings: %v", err)
	}

	if updated.Settings.AutoSync {
		t.Errorf("autoSync should be off")
	}
	if updated.Settings.SyncIntervalMinutes != 15 {
		t.Errorf("interval = %d, want 15", updated.Settings.SyncIntervalMinutes)
	}
	// Unpatched fields keep their values
	if !updated.Settings.AIParsing || !updated.Settings.CRMSync {
		t.Errorf("unpatched settings must survive, got %+v", updated.Settings)
	}
}

func TestUpdateSettingsValidatesInterval(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	room, err := reg.UpsertRoom(ctx, mail.KindGmail, mail.UserInfo{Email: "ada@example.com"})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	zero := 0
	if _, err := reg.UpdateSettings(ctx, room.ID, SettingsPatch{SyncIntervalMinutes: &zero}); err == nil {
		t.Fatalf("expected error for zero interval")
	}
}

func TestUpdateSettingsUnknownRoom(t *testing.T) {
	reg := newTestRegistry(t)

	on := true
	if _, err := reg.UpdateSettings(context.Background(), "missing", SettingsPatch{AutoSync: &on}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected store.ErrNotFound, got %v", err)
	}
}

func TestRecordSyncResultRoundTrips(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	room, err := reg.UpsertRoom(ctx, mail.KindOutlook, mail.UserInfo{Email: "ada@example.com"})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	at := time.Now().Truncate(time.Second)
	if err := reg.RecordSyncResult(ctx, room.ID, at, 7); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, err := reg.GetRoom(ctx, room.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.UnreadCount != 7 {
		t.Errorf("unread = %d, want 7", got.UnreadCount)
	}
	if got.LastSyncTime == nil || !got.LastSyncTime.Equal(at) {
		t.Errorf("lastSyncTime = %v, want %v", got.LastSyncTime, at)
	}
}
