package calendar

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

const (
	workDayStartHour = 9
	workDayEndHour   = 17

	// EventDuration is the fixed length of auto-scheduled meetings.
	EventDuration = 60 * time.Minute

	maxSuggestions = 3
)

// Slot is a free interval on the target day
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Availability reports free slots for a day plus ranked start times
type Availability struct {
	Date           time.Time   `json:"date"`
	Slots          []Slot      `json:"slots"`
	SuggestedTimes []time.Time `json:"suggestedTimes"`
}

// EventRequest describes the event to create
type EventRequest struct {
	Title       string
	Start       time.Time
	End         time.Time
	Attendees   []string
	Description string
	Location    string
}

// Event is the created calendar entry
type Event struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Attendees []string  `json:"attendees"`
	Status    string    `json:"status"`
}

// Service is the calendar collaborator contract
type Service interface {
	CheckAvailability(ctx context.Context, date time.Time, participants []string, preferred *time.Time) (Availability, error)
	ScheduleEvent(ctx context.Context, req EventRequest) (Event, error)
}

// GoogleService implements Service against Google Calendar
type GoogleService struct {
	svc *calendar.Service
}

// NewGoogle creates a calendar service backed by the given token source
func NewGoogle(ctx context.Context, ts oauth2.TokenSource) (*GoogleService, error) {
	svc, err := calendar.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return &GoogleService{svc: svc}, nil
}

// CheckAvailability queries free/busy for the primary calendar and scans
// working hours for open hour-long slots
func (s *GoogleService) CheckAvailability(ctx context.Context, date time.Time, participants []string, preferred *time.Time) (Availability, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), workDayStartHour, 0, 0, 0, date.Location())
	dayEnd := time.Date(date.Year(), date.Month(), date.Day(), workDayEndHour, 0, 0, 0, date.Location())

	req := &calendar.FreeBusyRequest{
		TimeMin: dayStart.Format(time.RFC3339),
		TimeMax: dayEnd.Format(time.RFC3339),
		Items:   []*calendar.FreeBusyRequestItem{{Id: "primary"}},
	}

	resp, err := s.svc.Freebusy.Query(req).Context(ctx).Do()
	if err != nil {
		return Availability{}, fmt.Errorf("failed to query free/busy: %w", err)
	}

	var busy []Slot
	if cal, ok := resp.Calendars["primary"]; ok {
		for _, p := range cal.Busy {
			start, startErr := time.Parse(time.RFC3339, p.Start)
			end, endErr := time.Parse(time.RFC3339, p.End)
			if startErr == nil && endErr == nil {
				busy = append(busy, Slot{Start: start, End: end})
			}
		}
	}

	slots := freeSlots(dayStart, dayEnd, busy)
	return Availability{
		Date:           date,
		Slots:          slots,
		SuggestedTimes: suggest(slots, preferred),
	}, nil
}

// ScheduleEvent inserts the event into the primary calendar
func (s *GoogleService) ScheduleEvent(ctx context.Context, req EventRequest) (Event, error) {
	event := &calendar.Event{
		Summary:     req.Title,
		Description: req.Description,
		Location:    req.Location,
		Start:       &calendar.EventDateTime{DateTime: req.Start.Format(time.RFC3339)},
		End:         &calendar.EventDateTime{DateTime: req.End.Format(time.RFC3339)},
	}
	// Participants without an address cannot be invited.
	for _, a := range req.Attendees {
		if strings.Contains(a, "@") {
			event.Attendees = append(event.Attendees, &calendar.EventAttendee{Email: a})
		}
	}

	created, err := s.svc.Events.Insert("primary", event).Context(ctx).Do()
	if err != nil {
		return Event{}, fmt.Errorf("failed to insert event: %w", err)
	}

	return Event{
		ID:        created.Id,
		Title:     created.Summary,
		Start:     req.Start,
		End:       req.End,
		Attendees: req.Attendees,
		Status:    created.Status,
	}, nil
}

// freeSlots walks the day in hour steps, keeping slots that do not
// overlap any busy period
func freeSlots(dayStart, dayEnd time.Time, busy []Slot) []Slot {
	var slots []Slot
	for start := dayStart; start.Add(EventDuration).Before(dayEnd) || start.Add(EventDuration).Equal(dayEnd); start = start.Add(time.Hour) {
		end := start.Add(EventDuration)
		if !overlapsAny(start, end, busy) {
			slots = append(slots, Slot{Start: start, End: end})
		}
	}
	return slots
}

func overlapsAny(start, end time.Time, busy []Slot) bool {
	for _, b := range busy {
		if start.Before(b.End) && b.Start.Before(end) {
			return true
		}
	}
	return false
}

// suggest ranks slot starts, putting a free preferred time first
func suggest(slots []Slot, preferred *time.Time) []time.Time {
	var times []time.Time

	if preferred != nil {
		for _, s := range slots {
			if s.Start.Equal(*preferred) {
				times = append(times, s.Start)
				break
			}
		}
	}

	for _, s := range slots {
		if len(times) >= maxSuggestions {
			break
		}
		if len(times) > 0 && s.Start.Equal(times[0]) {
			continue
		}
		times = append(times, s.Start)
	}

	return times
}
