package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sony/gobreaker"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"intent":"follow_up"}`, `{"intent":"follow_up"}`},
		{"fenced", "```json\n{\"intent\":\"follow_up\"}\n```", `{"intent":"follow_up"}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around", `Sure! Here you go: {"a":1} Hope that helps.`, `{"a":1}`},
		{"no object", "I could not analyze that email.", ""},
		{"unbalanced", "} {", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractJSON(tt.in); got != tt.want {
				t.Errorf("extractJSON(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParsedTime(t *testing.T) {
	now := time.Date(2025, 1, 20, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		datetime string
		want     time.Time
		ok       bool
	}{
		{"2025-01-21T14:00:00Z", time.Date(2025, 1, 21, 14, 0, 0, 0, time.UTC), true},
		{"2025-01-21T14:00:00", time.Date(2025, 1, 21, 14, 0, 0, 0, time.UTC), true},
		{"2025-01-21 14:00", time.Date(2025, 1, 21, 14, 0, 0, 0, time.UTC), true},
		{"2025-01-21", time.Date(2025, 1, 21, 0, 0, 0, 0, time.UTC), true},
		{"tomorrow afternoon", now.AddDate(0, 0, 1), true},
		{"sometime next week", now.AddDate(0, 0, 7), true},
		{"", time.Time{}, false},
		{"whenever works", time.Time{}, false},
	}

	for _, tt := range tests {
		d := &ParsedData{Datetime: tt.datetime}
		got, ok := d.ParsedTime(now)
		if ok != tt.ok {
			t.Errorf("ParsedTime(%q) ok = %v, want %v", tt.datetime, ok, tt.ok)
			continue
		}
		if ok && !got.Equal(tt.want) {
			t.Errorf("ParsedTime(%q) = %v, want %v", tt.datetime, got, tt.want)
		}
	}
}

func modelResponse(text string) string {
	resp := map[string]interface{}{
		"candidates": []map[string]interface{}{
			{"content": map[string]interface{}{
				"parts": []map[string]string{{"text": text}},
			}},
		},
	}
	b, _ := json.Marshal(resp)
	return string(b)
}

func TestClientParseEmail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "test-key" {
			http.Error(w, "missing key", http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, modelResponse("```json\n{\"intent\":\"schedule_meeting\",\"contact_name\":\"Sarah Chen\",\"email\":\"sarah.chen@acmecorp.example\",\"datetime\":\"2025-01-21T14:00:00\",\"participants\":[\"Alex\"],\"confidence\":0.85,\"reasoning\":\"explicit time proposed\"}\n```"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", "test-model")

	res, err := c.ParseEmail(context.Background(), "Could we schedule a meeting Tuesday at 2pm?")
	if err != nil {
		t.Fatalf("ParseEmail: %v", err)
	}
	if !res.Success || res.Data == nil {
		t.Fatal("expected successful parse with data")
	}
	if res.Data.Intent != IntentScheduleMeeting {
		t.Errorf("unexpected intent %q", res.Data.Intent)
	}
	if res.Data.Confidence != 0.85 {
		t.Errorf("unexpected confidence %v", res.Data.Confidence)
	}
	if res.Data.ContactName != "Sarah Chen" {
		t.Errorf("unexpected contact %q", res.Data.ContactName)
	}
	if len(res.Data.Participants) != 1 || res.Data.Participants[0] != "Alex" {
		t.Errorf("unexpected participants %v", res.Data.Participants)
	}
}

func TestClientClampsConfidence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, modelResponse(`{"intent":"schedule_meeting","confidence":1.4}`))
	}))
	defer srv.Close()

	res, err := NewClient(srv.URL, "k", "m").ParseEmail(context.Background(), "body")
	if err != nil {
		t.Fatalf("ParseEmail: %v", err)
	}
	if res.Data.Confidence != 1 {
		t.Errorf("confidence should clamp to 1, got %v", res.Data.Confidence)
	}
}

func TestClientBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", "m")
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		if _, err := c.ParseEmail(ctx, "body"); err == nil {
			t.Fatalf("call %d: expected error from failing endpoint", i)
		}
	}

	_, err := c.ParseEmail(ctx, "body")
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("expected open breaker, got %v", err)
	}
}

func TestHeuristicParser(t *testing.T) {
	h := NewHeuristic()
	ctx := context.Background()

	res, err := h.ParseEmail(ctx, "Could we schedule a meeting next Tuesday at 2pm to review the roadmap?")
	if err != nil {
		t.Fatalf("ParseEmail: %v", err)
	}
	if res.Data.Intent != IntentScheduleMeeting {
		t.Errorf("unexpected intent %q", res.Data.Intent)
	}
	if res.Data.Confidence <= 0.70 {
		t.Errorf("meeting text with time hint should clear the scheduling threshold, got %v", res.Data.Confidence)
	}

	res, err = h.ParseEmail(ctx, "Just following up on the invoice from last month.")
	if err != nil {
		t.Fatalf("ParseEmail: %v", err)
	}
	if res.Data.Intent != IntentFollowUp {
		t.Errorf("unexpected intent %q", res.Data.Intent)
	}

	res, err = h.ParseEmail(ctx, "Here is what shipped this week.")
	if err != nil {
		t.Fatalf("ParseEmail: %v", err)
	}
	if res.Data.Intent == IntentScheduleMeeting {
		t.Error("newsletter must not classify as schedule_meeting")
	}
}

func TestNewSelectsStrategyByAPIKey(t *testing.T) {
	if _, ok := New("http://x", "", "m").(*Heuristic); !ok {
		t.Error("missing API key should select the heuristic parser")
	}
	if _, ok := New("http://x", "key", "m").(*Client); !ok {
		t.Error("API key should select the model client")
	}
}
