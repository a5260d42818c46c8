package calendar

import (
	"context"
	"testing"
	"time"
)

func day(hour, min int) time.Time {
	return time.Date(2025, 1, 21, hour, min, 0, 0, time.UTC)
}

func TestFreeSlotsFullDay(t *testing.T) {
	slots := freeSlots(day(9, 0), day(17, 0), nil)

	if len(slots) != 8 {
		t.Fatalf("expected 8 hour slots in a 9-17 day, got %d", len(slots))
	}
	if !slots[0].Start.Equal(day(9, 0)) || !slots[0].End.Equal(day(10, 0)) {
		t.Errorf("unexpected first slot %+v", slots[0])
	}
	if !slots[7].Start.Equal(day(16, 0)) || !slots[7].End.Equal(day(17, 0)) {
		t.Errorf("unexpected last slot %+v", slots[7])
	}
}

func TestFreeSlotsSkipsBusyOverlaps(t *testing.T) {
	busy := []Slot{
		{Start: day(10, 30), End: day(11, 30)},
		{Start: day(14, 0), End: day(15, 0)},
	}

	slots := freeSlots(day(9, 0), day(17, 0), busy)

	for _, s := range slots {
		for _, b := range busy {
			if s.Start.Before(b.End) && b.Start.Before(s.End) {
				t.Errorf("slot %v-%v overlaps busy %v-%v", s.Start, s.End, b.Start, b.End)
			}
		}
	}

	// 10:00, 11:00, and 14:00 are blocked.
	if len(slots) != 5 {
		t.Errorf("expected 5 free slots, got %d", len(slots))
	}
}

func TestSuggestPrefersRequestedTime(t *testing.T) {
	slots := freeSlots(day(9, 0), day(17, 0), nil)
	preferred := day(14, 0)

	times := suggest(slots, &preferred)
	if len(times) == 0 {
		t.Fatal("expected suggestions")
	}
	if !times[0].Equal(preferred) {
		t.Errorf("preferred free time should rank first, got %v", times[0])
	}
	if len(times) > maxSuggestions {
		t.Errorf("suggestions should cap at %d, got %d", maxSuggestions, len(times))
	}
}

func TestSuggestIgnoresBusyPreferredTime(t *testing.T) {
	busy := []Slot{{Start: day(14, 0), End: day(15, 0)}}
	slots := freeSlots(day(9, 0), day(17, 0), busy)
	preferred := day(14, 0)

	times := suggest(slots, &preferred)
	for _, tm := range times {
		if tm.Equal(preferred) {
			t.Errorf("busy preferred time must not be suggested")
		}
	}
}

func TestFixtureScheduleEvent(t *testing.T) {
	f := NewFixture()
	ctx := context.Background()

	avail, err := f.CheckAvailability(ctx, day(12, 0), []string{"sarah.chen@acmecorp.example"}, nil)
	if err != nil {
		t.Fatalf("CheckAvailability: %v", err)
	}
	if len(avail.Slots) == 0 || len(avail.SuggestedTimes) == 0 {
		t.Fatal("fixture day should have free slots")
	}

	start := avail.SuggestedTimes[0]
	event, err := f.ScheduleEvent(ctx, EventRequest{
		Title:     "Roadmap review",
		Start:     start,
		End:       start.Add(EventDuration),
		Attendees: []string{"sarah.chen@acmecorp.example"},
	})
	if err != nil {
		t.Fatalf("ScheduleEvent: %v", err)
	}
	if event.ID == "" {
		t.Error("expected generated event id")
	}
	if event.Status != "confirmed" {
		t.Errorf("unexpected status %q", event.Status)
	}
	if event.End.Sub(event.Start) != EventDuration {
		t.Errorf("expected %v event, got %v", EventDuration, event.End.Sub(event.Start))
	}

	if got := f.Events(); len(got) != 1 || got[0].ID != event.ID {
		t.Errorf("expected event recorded, got %+v", got)
	}
}
