package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/inboxpilot-dev/mail-sync-infra/internal/ai"
	"github.com/inboxpilot-dev/mail-sync-infra/internal/calendar"
	"github.com/inboxpilot-dev/mail-sync-infra/internal/crm"
	"github.com/inboxpilot-dev/mail-sync-infra/internal/mail"
	"github.com/inboxpilot-dev/mail-sync-infra/internal/natsjs"
	"github.com/inboxpilot-dev/mail-sync-infra/internal/rooms"
	"github.com/inboxpilot-dev/mail-sync-infra/internal/store"
)

const (
	// confidenceThreshold gates auto-scheduling. Strictly above; 0.70
	// exactly does not qualify.
	confidenceThreshold = 0.70

	fetchTimeout    = 30 * time.Second
	parseTimeout    = 15 * time.Second
	calendarTimeout = 15 * time.Second
	crmTimeout      = 10 * time.Second

	maxFetch = 50
)

// ProviderResolver returns the adapter for a provider kind, or an error
// when that provider has no usable session.
type ProviderResolver func(ctx context.Context, kind mail.Kind) (MailProvider, error)

// Engine runs one complete synchronization pass per room: fetch unread
// messages, parse each for meeting intent, conditionally schedule events
// and sync contacts, then record the outcome.
type Engine struct {
	Rooms    *rooms.Registry
	Store    *store.Store
	Tracker  *StatusTracker
	Resolver ProviderResolver
	Parser   ai.Parser
	Calendar calendar.Service
	CRM      crm.Service

	// Now overrides the clock in tests.
	Now func() time.Time
}

func (e *Engine) clock() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// SyncRoom runs a pass for the room. The outcome is observed through the
// status tracker; the returned error only reports why a pass could not
// start (unknown room, pass already in flight).
func (e *Engine) SyncRoom(ctx context.Context, roomID string) error {
	room, err := e.Rooms.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}

	if err := e.Tracker.Begin(roomID); err != nil {
		return err
	}

	log.Printf("sync: starting pass for room %s (%s)", room.ID, room.AccountEmail)
	startedAt := e.clock()
	e.runPass(ctx, room, startedAt)
	return nil
}

// StartSync claims a pass like SyncRoom but runs it in the background,
// detached from the caller's context lifetime.
func (e *Engine) StartSync(ctx context.Context, roomID string) error {
	room, err := e.Rooms.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}

	if err := e.Tracker.Begin(roomID); err != nil {
		return err
	}

	log.Printf("sync: starting pass for room %s (%s)", room.ID, room.AccountEmail)
	startedAt := e.clock()
	go e.runPass(context.WithoutCancel(ctx), room, startedAt)
	return nil
}

func (e *Engine) runPass(ctx context.Context, room *rooms.Room, startedAt time.Time) {
	roomID := room.ID

	provider, err := e.Resolver(ctx, room.ProviderKind)
	if err != nil {
		e.Tracker.AppendError(roomID, fmt.Sprintf("failed to resolve provider: %v", err))
		e.finish(ctx, room, startedAt, nil)
		return
	}

	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	fetched, err := provider.ListMessages(fetchCtx, mail.Filter{IsRead: mail.Bool(false)}, maxFetch)
	cancel()
	if err != nil {
		// Not retried within the pass; the next tick gets a fresh try.
		e.Tracker.AppendError(roomID, fmt.Sprintf("failed to fetch messages: %v", err))
		e.finish(ctx, room, startedAt, nil)
		return
	}

	e.Tracker.SetTotal(roomID, len(fetched))

	if room.Settings.AIParsing && room.Settings.MeetingDetection {
		// Strictly sequential, in fetch order. Bounds concurrent load on
		// the parser and keeps the counters monotonic for readers.
		for i := range fetched {
			e.processMessage(ctx, room, &fetched[i])
			e.Tracker.IncrementSynced(roomID)
		}
	}

	e.finish(ctx, room, startedAt, fetched)
}

// processMessage runs the AI/calendar/CRM steps for one message. Every
// failure is contained here; a bad message never aborts the pass.
func (e *Engine) processMessage(ctx context.Context, room *rooms.Room, msg *mail.EmailMessage) {
	roomID := room.ID

	already, err := e.Store.IsMessageProcessed(ctx, roomID, msg.ID)
	if err != nil {
		log.Printf("sync: ledger check failed for message %s: %v", msg.ID, err)
	}
	if already {
		// Handled in an earlier pass. Still counts as an attempt.
		return
	}

	pm := store.ProcessedMessage{RoomID: roomID, MessageID: msg.ID}

	parseCtx, cancel := context.WithTimeout(ctx, parseTimeout)
	res, err := e.Parser.ParseEmail(parseCtx, msg.Body.Text)
	cancel()
	if err != nil || !res.Success || res.Data == nil {
		// No actionable intent; a parse failure is not a pass error.
		if err != nil {
			log.Printf("sync: parse failed for message %s: %v", msg.ID, err)
		}
		e.record(ctx, room, msg, pm)
		return
	}

	data := res.Data
	pm.AIProcessed = true
	pm.Intent = data.Intent
	pm.Confidence = data.Confidence

	if data.Intent == ai.IntentScheduleMeeting && data.Confidence > confidenceThreshold && room.Settings.CalendarIntegration {
		if event, ok := e.scheduleMeeting(ctx, room, msg, data); ok {
			pm.MeetingScheduled = true
			pm.CalendarEventID = event.ID
		}
	}

	if room.Settings.CRMSync && e.CRM != nil && e.CRM.HasConnectedProvider(ctx) {
		pm.CRMSynced = e.syncContact(ctx, room, msg, data)
	}

	e.record(ctx, room, msg, pm)
}

// scheduleMeeting checks availability around the parsed time and books a
// fixed-length event at the first suggested slot
func (e *Engine) scheduleMeeting(ctx context.Context, room *rooms.Room, msg *mail.EmailMessage, data *ai.ParsedData) (calendar.Event, bool) {
	when, ok := data.ParsedTime(e.clock())
	if !ok {
		// No interpretable time; aim for tomorrow and let availability
		// pick the slot.
		when = e.clock().AddDate(0, 0, 1)
	}

	calCtx, cancel := context.WithTimeout(ctx, calendarTimeout)
	defer cancel()

	avail, err := e.Calendar.CheckAvailability(calCtx, when, data.Participants, &when)
	if err != nil {
		e.Tracker.AppendError(room.ID, fmt.Sprintf("availability check failed for message %s: %v", msg.ID, err))
		return calendar.Event{}, false
	}
	if len(avail.SuggestedTimes) == 0 {
		log.Printf("sync: no free slot on %s for message %s", when.Format("2006-01-02"), msg.ID)
		return calendar.Event{}, false
	}

	start := avail.SuggestedTimes[0]
	event, err := e.Calendar.ScheduleEvent(calCtx, calendar.EventRequest{
		Title:       meetingTitle(msg, data),
		Start:       start,
		End:         start.Add(calendar.EventDuration),
		Attendees:   attendees(msg, data),
		Description: fmt.Sprintf("Auto-scheduled from email %q", msg.Subject),
	})
	if err != nil {
		e.Tracker.AppendError(room.ID, fmt.Sprintf("failed to schedule event for message %s: %v", msg.ID, err))
		return calendar.Event{}, false
	}

	log.Printf("sync: scheduled %q at %s for room %s", event.Title, start.Format(time.RFC3339), room.ID)
	return event, true
}

// syncContact upserts the message's correspondent in the CRM
func (e *Engine) syncContact(ctx context.Context, room *rooms.Room, msg *mail.EmailMessage, data *ai.ParsedData) bool {
	contact := crm.Contact{
		Name:    data.ContactName,
		Email:   data.Email,
		Company: data.Company,
		Source:  "email_sync",
	}
	if contact.Name == "" {
		contact.Name = msg.From.Name
	}
	if contact.Email == "" {
		contact.Email = msg.From.Email
	}

	crmCtx, cancel := context.WithTimeout(ctx, crmTimeout)
	defer cancel()

	res, err := e.CRM.SyncContact(crmCtx, crm.SyncRequest{Contact: contact, EmailContent: msg.Body.Text})
	if err != nil {
		e.Tracker.AppendError(room.ID, fmt.Sprintf("CRM sync failed for message %s: %v", msg.ID, err))
		return false
	}

	log.Printf("sync: CRM %s contact %s", res.Action, contact.Email)
	return res.Success
}

// record writes the ledger row and queues stream events in one
// transaction, so an event is never published for a message the ledger
// does not know about
func (e *Engine) record(ctx context.Context, room *rooms.Room, msg *mail.EmailMessage, pm store.ProcessedMessage) {
	pm.ProcessedAt = e.clock().Unix()
	kind := string(room.ProviderKind)

	tx, err := e.Store.BeginTx(ctx)
	if err != nil {
		log.Printf("sync: begin tx failed for message %s: %v", msg.ID, err)
		return
	}
	defer tx.Rollback()

	if err := e.Store.MarkMessageProcessedTx(ctx, tx, pm); err != nil {
		log.Printf("sync: ledger write failed for message %s: %v", msg.ID, err)
		return
	}

	received, _ := json.Marshal(map[string]interface{}{
		"event_id":   uuid.NewString(),
		"ts":         pm.ProcessedAt,
		"room_id":    room.ID,
		"provider":   kind,
		"message_id": msg.ID,
		"thread_id":  msg.ThreadID,
		"subject":    msg.Subject,
		"sender":     msg.From.Email,
		"snippet":    msg.Snippet,
		"msg_date":   msg.Date.Unix(),
		"intent":     pm.Intent,
		"confidence": pm.Confidence,
	})
	err = e.Store.AppendOutboxTx(ctx, tx,
		natsjs.Subject(room.ID, natsjs.EventEmailReceived),
		natsjs.EventEmailReceived,
		received,
		natsjs.MsgID(natsjs.EventEmailReceived, kind, msg.ID),
	)
	if err != nil {
		log.Printf("sync: outbox write failed for message %s: %v", msg.ID, err)
		return
	}

	if pm.MeetingScheduled {
		scheduled, _ := json.Marshal(map[string]interface{}{
			"event_id":          uuid.NewString(),
			"ts":                pm.ProcessedAt,
			"room_id":           room.ID,
			"provider":          kind,
			"message_id":        msg.ID,
			"calendar_event_id": pm.CalendarEventID,
			"confidence":        pm.Confidence,
		})
		err = e.Store.AppendOutboxTx(ctx, tx,
			natsjs.Subject(room.ID, natsjs.EventMeetingScheduled),
			natsjs.EventMeetingScheduled,
			scheduled,
			natsjs.MsgID(natsjs.EventMeetingScheduled, kind, msg.ID),
		)
		if err != nil {
			log.Printf("sync: outbox write failed for message %s: %v", msg.ID, err)
			return
		}
	}

	if err := tx.Commit(); err != nil {
		log.Printf("sync: commit failed for message %s: %v", msg.ID, err)
	}
}

// finish closes the pass: room bookkeeping first, then the status flip,
// so a reader never sees isSyncing false before lastSyncTime is set
func (e *Engine) finish(ctx context.Context, room *rooms.Room, startedAt time.Time, fetched []mail.EmailMessage) {
	now := e.clock()

	var unread int64
	for _, m := range fetched {
		if !m.IsRead {
			unread++
		}
	}

	if err := e.Rooms.RecordSyncResult(ctx, room.ID, now, unread); err != nil {
		log.Printf("sync: failed to record result for room %s: %v", room.ID, err)
	}

	status := e.Tracker.Finish(room.ID, now)

	run := store.SyncRun{
		RoomID:         room.ID,
		StartedAt:      startedAt.Unix(),
		FinishedAt:     now.Unix(),
		TotalMessages:  status.TotalMessages,
		SyncedMessages: status.SyncedMessages,
		Errors:         strings.Join(status.Errors, "; "),
	}
	if _, err := e.Store.InsertSyncRun(ctx, run); err != nil {
		log.Printf("sync: failed to record run for room %s: %v", room.ID, err)
	}

	log.Printf("sync: finished room %s: %d/%d messages, %d errors",
		room.ID, status.SyncedMessages, status.TotalMessages, len(status.Errors))
}

func meetingTitle(msg *mail.EmailMessage, data *ai.ParsedData) string {
	name := data.ContactName
	if name == "" {
		name = msg.From.Name
	}
	if name == "" {
		return "Meeting: " + msg.Subject
	}
	return "Meeting with " + name
}

// attendees collects addressable participants, deduplicated, sender first
func attendees(msg *mail.EmailMessage, data *ai.ParsedData) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(addr string) {
		if addr != "" && strings.Contains(addr, "@") && !seen[addr] {
			seen[addr] = true
			out = append(out, addr)
		}
	}

	add(msg.From.Email)
	add(data.Email)
	for _, p := range data.Participants {
		add(p)
	}
	return out
}
