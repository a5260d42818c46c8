package calendar

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FixtureService implements Service without network access. Every working
// hour is free and scheduling always succeeds, so the auto-scheduling
// path stays exercisable when no calendar credentials are provisioned.
type FixtureService struct {
	mu     sync.Mutex
	events []Event
}

func NewFixture() *FixtureService {
	return &FixtureService{}
}

// CheckAvailability reports the whole working day as free
func (f *FixtureService) CheckAvailability(ctx context.Context, date time.Time, participants []string, preferred *time.Time) (Availability, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), workDayStartHour, 0, 0, 0, date.Location())
	dayEnd := time.Date(date.Year(), date.Month(), date.Day(), workDayEndHour, 0, 0, 0, date.Location())

	slots := freeSlots(dayStart, dayEnd, nil)
	return Availability{
		Date:           date,
		Slots:          slots,
		SuggestedTimes: suggest(slots, preferred),
	}, nil
}

// ScheduleEvent records the event in memory
func (f *FixtureService) ScheduleEvent(ctx context.Context, req EventRequest) (Event, error) {
	event := Event{
		ID:        uuid.NewString(),
		Title:     req.Title,
		Start:     req.Start,
		End:       req.End,
		Attendees: req.Attendees,
		Status:    "confirmed",
	}

	f.mu.Lock()
	f.events = append(f.events, event)
	f.mu.Unlock()

	return event, nil
}

// Events returns the events scheduled so far
func (f *FixtureService) Events() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Event(nil), f.events...)
}
