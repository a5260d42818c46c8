package fixture

import (
	"context"
	"testing"

	"github.com/inboxpilot-dev/mail-sync-infra/internal/mail"
)

func TestListMessagesIsDeterministic(t *testing.T) {
	a := New(mail.KindGmail)
	ctx := context.Background()

	all, err := a.ListMessages(ctx, mail.Filter{}, 50)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 fixture messages, got %d", len(all))
	}

	unread, err := a.ListMessages(ctx, mail.Filter{IsRead: mail.Bool(false)}, 50)
	if err != nil {
		t.Fatalf("ListMessages unread: %v", err)
	}
	if len(unread) != 1 {
		t.Fatalf("expected 1 unread fixture message, got %d", len(unread))
	}
	if unread[0].ID != "fixture-001" {
		t.Errorf("unexpected unread message %s", unread[0].ID)
	}

	again, err := a.ListMessages(ctx, mail.Filter{}, 50)
	if err != nil {
		t.Fatalf("ListMessages again: %v", err)
	}
	for i := range all {
		if all[i].ID != again[i].ID || all[i].Subject != again[i].Subject {
			t.Errorf("fixture set changed between calls at index %d", i)
		}
	}
}

func TestListMessagesHonorsMaxResults(t *testing.T) {
	a := New(mail.KindGmail)

	got, err := a.ListMessages(context.Background(), mail.Filter{}, 2)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 messages with maxResults=2, got %d", len(got))
	}
}

func TestMarkReadMutatesState(t *testing.T) {
	a := New(mail.KindGmail)
	ctx := context.Background()

	if err := a.MarkRead(ctx, "fixture-001"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	// Second call is a no-op, not an error.
	if err := a.MarkRead(ctx, "fixture-001"); err != nil {
		t.Fatalf("MarkRead repeat: %v", err)
	}

	n, err := a.GetUnreadCount(ctx)
	if err != nil {
		t.Fatalf("GetUnreadCount: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 unread after MarkRead, got %d", n)
	}

	if err := a.MarkRead(ctx, "no-such-id"); err == nil {
		t.Error("expected error for unknown message id")
	}
}

func TestSetStarredRoundTrip(t *testing.T) {
	a := New(mail.KindOutlook)
	ctx := context.Background()

	if err := a.SetStarred(ctx, "fixture-003", true); err != nil {
		t.Fatalf("SetStarred: %v", err)
	}
	starred, err := a.ListMessages(ctx, mail.Filter{IsStarred: mail.Bool(true)}, 50)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(starred) != 2 {
		t.Fatalf("expected 2 starred messages, got %d", len(starred))
	}

	if err := a.SetStarred(ctx, "fixture-003", false); err != nil {
		t.Fatalf("SetStarred unstar: %v", err)
	}
	starred, err = a.ListMessages(ctx, mail.Filter{IsStarred: mail.Bool(true)}, 50)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(starred) != 1 || starred[0].ID != "fixture-002" {
		t.Fatalf("expected only fixture-002 starred, got %d messages", len(starred))
	}
}

func TestGetUserInfoFollowsKind(t *testing.T) {
	info, err := New(mail.KindOutlook).GetUserInfo(context.Background())
	if err != nil {
		t.Fatalf("GetUserInfo: %v", err)
	}
	if info.Email != "demo@outlook.example" {
		t.Errorf("unexpected demo identity %q", info.Email)
	}
}
