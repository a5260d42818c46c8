package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertRoomAppliesDefaultSettings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	room, err := s.UpsertRoom(ctx, "room-1", "Gmail - ada@example.com", "gmail", "ada@example.com")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if room.ID != "room-1" {
		t.Errorf("unexpected id %q", room.ID)
	}
	if !room.IsActive {
		t.Errorf("new room should be active")
	}
	if !room.AutoSync || room.SyncIntervalMinutes != 5 {
		t.Errorf("expected autoSync on with 5 minute interval, got %+v", room)
	}
	if !room.AIParsing || !room.MeetingDetection || !room.CalendarIntegration || !room.CRMSync {
		t.Errorf("all feature toggles should default on, got %+v", room)
	}
	if room.LastSyncTime != 0 {
		t.Errorf("new room should have no last sync time")
	}
}

func TestUpsertRoomKeepsIdentityAndSettings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.UpsertRoom(ctx, "room-1", "Gmail - ada@example.com", "gmail", "ada@example.com")
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	// Customize settings, then reconnect the same identity
	if err := s.UpdateRoomSettings(ctx, first.ID, false, 30, true, true, false, false); err != nil {
		t.Fatalf("update settings: %v", err)
	}

	second, err := s.UpsertRoom(ctx, "room-2", "Gmail - Ada Lovelace", "gmail", "ada@example.com")
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	if second.ID != first.ID {
		t.Fatalf("reconnect must reuse the room identity, got %q and %q", first.ID, second.ID)
	}
	if second.DisplayName != "Gmail - Ada Lovelace" {
		t.Errorf("display name should refresh, got %q", second.DisplayName)
	}
	if second.AutoSync || second.SyncIntervalMinutes != 30 {
		t.Errorf("settings must survive reconnect, got %+v", second)
	}

	rooms, err := s.ListActiveRooms(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rooms) != 1 {
		t.Fatalf("expected a single room, got %d", len(rooms))
	}
}

func TestDeactivateAndReactivateRooms(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.UpsertRoom(ctx, "room-1", "Gmail - ada", "gmail", "ada@example.com"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := s.UpsertRoom(ctx, "room-2", "Outlook - ada", "outlook", "ada@example.com"); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	n, err := s.DeactivateRoomsForProvider(ctx, "gmail")
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 room deactivated, got %d", n)
	}

	rooms, err := s.ListActiveRooms(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rooms) != 1 || rooms[0].ProviderKind != "outlook" {
		t.Fatalf("expected only the outlook room active, got %+v", rooms)
	}

	// The deactivated row still exists and reads back
	room, err := s.GetRoom(ctx, "room-1")
	if err != nil {
		t.Fatalf("get deactivated room: %v", err)
	}
	if room.IsActive {
		t.Errorf("room should be inactive")
	}

	// Reconnecting reactivates the same row
	re, err := s.UpsertRoom(ctx, "room-3", "Gmail - ada", "gmail", "ada@example.com")
	if err != nil {
		t.Fatalf("reactivate upsert: %v", err)
	}
	if re.ID != "room-1" || !re.IsActive {
		t.Errorf("expected room-1 reactivated, got %+v", re)
	}
}

func TestGetRoomNotFound(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.GetRoom(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.UpdateRoomSettings(context.Background(), "missing", true, 5, true, true, true, true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for settings update, got %v", err)
	}
}

func TestRecordSyncResult(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	room, err := s.UpsertRoom(ctx, "room-1", "Gmail - ada", "gmail", "ada@example.com")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	at := time.Now()
	if err := s.RecordSyncResult(ctx, room.ID, at, 4); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, err := s.GetRoom(ctx, room.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.UnreadCount != 4 {
		t.Errorf("unread = %d, want 4", got.UnreadCount)
	}
	if got.LastSyncTime != at.Unix() {
		t.Errorf("lastSyncTime = %d, want %d", got.LastSyncTime, at.Unix())
	}
}

func TestSyncRunHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := range 3 {
		_, err := s.InsertSyncRun(ctx, SyncRun{
			RoomID:         "room-1",
			StartedAt:      int64(1000 + i),
			FinishedAt:     int64(1010 + i),
			TotalMessages:  3,
			SyncedMessages: 3,
		})
		if err != nil {
			t.Fatalf("insert run: %v", err)
		}
	}

	runs, err := s.ListSyncRuns(ctx, "room-1", 2)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].StartedAt != 1002 || runs[1].StartedAt != 1001 {
		t.Errorf("runs should be newest first, got %d then %d", runs[0].StartedAt, runs[1].StartedAt)
	}
}

func TestProcessedMessageLedger(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	done, err := s.IsMessageProcessed(ctx, "room-1", "msg-1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if done {
		t.Fatalf("message should not be processed yet")
	}

	mark := func() {
		tx, err := s.BeginTx(ctx)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		err = s.MarkMessageProcessedTx(ctx, tx, ProcessedMessage{
			RoomID:      "room-1",
			MessageID:   "msg-1",
			Intent:      "schedule_meeting",
			Confidence:  0.85,
			ProcessedAt: time.Now().Unix(),
		})
		if err != nil {
			t.Fatalf("mark: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}

	mark()
	// Duplicate marking is ignored, not an error
	mark()

	done, err = s.IsMessageProcessed(ctx, "room-1", "msg-1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !done {
		t.Fatalf("message should be processed")
	}

	// A different room is independent
	done, err = s.IsMessageProcessed(ctx, "room-2", "msg-1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if done {
		t.Fatalf("other room must not be affected")
	}
}

func TestOutboxLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	enqueue := func(msgID string) {
		tx, err := s.BeginTx(ctx)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		if err := s.AppendOutboxTx(ctx, tx, "room.room-1.email.received", "email.received", []byte(`{}`), msgID); err != nil {
			t.Fatalf("append: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}

	enqueue("email.received|gmail|m1")
	enqueue("email.received|gmail|m2")

	msgs, err := s.DequeueOutbox(ctx, 10)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 pending events, got %d", len(msgs))
	}
	if msgs[0].MsgID != "email.received|gmail|m1" {
		t.Errorf("events must dequeue in insertion order, got %q first", msgs[0].MsgID)
	}

	if err := s.MarkPublished(ctx, msgs[0].ID); err != nil {
		t.Fatalf("mark published: %v", err)
	}
	if err := s.MarkOutboxRetry(ctx, msgs[1].ID, 10*time.Second); err != nil {
		t.Fatalf("mark retry: %v", err)
	}

	msgs, err = s.DequeueOutbox(ctx, 10)
	if err != nil {
		t.Fatalf("second dequeue: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("published and backed-off events must not dequeue, got %d", len(msgs))
	}
}
