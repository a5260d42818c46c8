package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned when a queried row does not exist
var ErrNotFound = errors.New("not found")

// Store is the service's sqlite persistence layer
type Store struct {
	DB *sql.DB
}

// Room is a persisted mailbox room row
type Room struct {
	ID                  string
	DisplayName         string
	ProviderKind        string
	AccountEmail        string
	IsActive            bool
	UnreadCount         int64
	LastSyncTime        int64 // unix seconds, 0 = never synced
	AutoSync            bool
	SyncIntervalMinutes int
	AIParsing           bool
	MeetingDetection    bool
	CalendarIntegration bool
	CRMSync             bool
	CreatedAt           int64
	UpdatedAt           int64
}

// SyncRun is one finished synchronization pass
type SyncRun struct {
	ID             int64
	RoomID         string
	StartedAt      int64
	FinishedAt     int64
	TotalMessages  int
	SyncedMessages int
	Errors         string
}

// ProcessedMessage is a ledger row recording one message's pass outcome
type ProcessedMessage struct {
	RoomID           string
	MessageID        string
	AIProcessed      bool
	Intent           string
	Confidence       float64
	MeetingScheduled bool
	CalendarEventID  string
	CRMSynced        bool
	ProcessedAt      int64
}

// OutboxMessage is a pending event publication
type OutboxMessage struct {
	ID      int64
	Subject string
	Payload []byte
	MsgID   string
}

// Open opens or creates the database at dbPath and applies the schema.
// ":memory:" opens an in-process database for tests.
func Open(dbPath string) (*Store, error) {
	memory := dbPath == ":memory:"
	if !memory {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if memory {
		// Every pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	}
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{DB: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.DB.Close()
}

// BeginTx starts a transaction
func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.DB.BeginTx(ctx, nil)
}

const roomColumns = `id, display_name, provider_kind, account_email, is_active, unread_count,
	COALESCE(last_sync_time, 0), auto_sync, sync_interval_minutes, ai_parsing,
	meeting_detection, calendar_integration, crm_sync, created_at, updated_at`

func scanRoom(row interface{ Scan(...any) error }) (*Room, error) {
	var r Room
	err := row.Scan(&r.ID, &r.DisplayName, &r.ProviderKind, &r.AccountEmail, &r.IsActive,
		&r.UnreadCount, &r.LastSyncTime, &r.AutoSync, &r.SyncIntervalMinutes, &r.AIParsing,
		&r.MeetingDetection, &r.CalendarIntegration, &r.CRMSync, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// UpsertRoom inserts a room or, when the (provider_kind, account_email)
// identity already exists, refreshes its display name and reactivates it.
// Settings on an existing row are preserved.
func (s *Store) UpsertRoom(ctx context.Context, id, displayName, providerKind, accountEmail string) (*Room, error) {
	now := time.Now().Unix()
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO rooms (id, display_name, provider_kind, account_email, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(provider_kind, account_email) DO UPDATE SET
			display_name = excluded.display_name,
			is_active = 1,
			updated_at = excluded.updated_at
	`, id, displayName, providerKind, accountEmail, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert room: %w", err)
	}

	row := s.DB.QueryRowContext(ctx, `
		SELECT `+roomColumns+` FROM rooms WHERE provider_kind = ? AND account_email = ?
	`, providerKind, accountEmail)
	room, err := scanRoom(row)
	if err != nil {
		return nil, fmt.Errorf("failed to read upserted room: %w", err)
	}
	return room, nil
}

// GetRoom loads one room by id
func (s *Store) GetRoom(ctx context.Context, id string) (*Room, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = ?`, id)
	room, err := scanRoom(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	return room, nil
}

// ListActiveRooms returns all active rooms ordered by creation
func (s *Store) ListActiveRooms(ctx context.Context) ([]Room, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+roomColumns+` FROM rooms WHERE is_active = 1 ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	defer rows.Close()

	var out []Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan room: %w", err)
		}
		out = append(out, *room)
	}
	return out, rows.Err()
}

// DeactivateRoomsForProvider marks every room of a provider inactive.
// Rows are kept so in-flight status reads stay answerable.
func (s *Store) DeactivateRoomsForProvider(ctx context.Context, providerKind string) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE rooms SET is_active = 0, updated_at = ? WHERE provider_kind = ? AND is_active = 1
	`, time.Now().Unix(), providerKind)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate rooms: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// UpdateRoomSettings replaces the full settings block of a room
func (s *Store) UpdateRoomSettings(ctx context.Context, id string, autoSync bool, intervalMinutes int, aiParsing, meetingDetection, calendarIntegration, crmSync bool) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE rooms SET
			auto_sync = ?, sync_interval_minutes = ?, ai_parsing = ?,
			meeting_detection = ?, calendar_integration = ?, crm_sync = ?,
			updated_at = ?
		WHERE id = ?
	`, autoSync, intervalMinutes, aiParsing, meetingDetection, calendarIntegration, crmSync, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update room settings: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordSyncResult stores the outcome of a finished pass on the room row
func (s *Store) RecordSyncResult(ctx context.Context, id string, lastSyncTime time.Time, unreadCount int64) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE rooms SET last_sync_time = ?, unread_count = ?, updated_at = ? WHERE id = ?
	`, lastSyncTime.Unix(), unreadCount, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to record sync result: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertSyncRun appends a finished pass to the history
func (s *Store) InsertSyncRun(ctx context.Context, run SyncRun) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `
		INSERT INTO sync_runs (room_id, started_at, finished_at, total_messages, synced_messages, errors)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run.RoomID, run.StartedAt, run.FinishedAt, run.TotalMessages, run.SyncedMessages, run.Errors)
	if err != nil {
		return 0, fmt.Errorf("failed to insert sync run: %w", err)
	}
	return res.LastInsertId()
}

// ListSyncRuns returns the most recent passes for a room, newest first
func (s *Store) ListSyncRuns(ctx context.Context, roomID string, limit int) ([]SyncRun, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, room_id, started_at, finished_at, total_messages, synced_messages, errors
		FROM sync_runs WHERE room_id = ? ORDER BY started_at DESC, id DESC LIMIT ?
	`, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}
	defer rows.Close()

	var out []SyncRun
	for rows.Next() {
		var r SyncRun
		if err := rows.Scan(&r.ID, &r.RoomID, &r.StartedAt, &r.FinishedAt, &r.TotalMessages, &r.SyncedMessages, &r.Errors); err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// IsMessageProcessed reports whether a message already went through a pass
func (s *Store) IsMessageProcessed(ctx context.Context, roomID, messageID string) (bool, error) {
	var one int
	err := s.DB.QueryRowContext(ctx, `
		SELECT 1 FROM processed_messages WHERE room_id = ? AND message_id = ?
	`, roomID, messageID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check processed message: %w", err)
	}
	return true, nil
}

// MarkMessageProcessedTx records a message's outcome in the ledger.
// Duplicate (room, message) pairs are ignored.
func (s *Store) MarkMessageProcessedTx(ctx context.Context, tx *sql.Tx, pm ProcessedMessage) error {
	_, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO processed_messages
		(room_id, message_id, ai_processed, intent, confidence, meeting_scheduled, calendar_event_id, crm_synced, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, pm.RoomID, pm.MessageID, pm.AIProcessed, pm.Intent, pm.Confidence, pm.MeetingScheduled, pm.CalendarEventID, pm.CRMSynced, pm.ProcessedAt)
	if err != nil {
		return fmt.Errorf("failed to insert processed message: %w", err)
	}
	return nil
}

// AppendOutboxTx queues an event for publication in the same transaction
func (s *Store) AppendOutboxTx(ctx context.Context, tx *sql.Tx, subject, eventType string, payload []byte, msgID string) error {
	now := time.Now().Unix()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO outbox (ts, subject, event_type, payload, msg_id, next_attempt_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, now, subject, eventType, payload, msgID, now)
	if err != nil {
		return fmt.Errorf("failed to insert outbox entry: %w", err)
	}
	return nil
}

// DequeueOutbox fetches due unpublished events in insertion order
func (s *Store) DequeueOutbox(ctx context.Context, limit int) ([]OutboxMessage, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, subject, payload, msg_id
		FROM outbox
		WHERE published_at IS NULL
		  AND next_attempt_at <= ?
		ORDER BY id
		LIMIT ?
	`, time.Now().Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	defer rows.Close()

	var messages []OutboxMessage
	for rows.Next() {
		var msg OutboxMessage
		if err := rows.Scan(&msg.ID, &msg.Subject, &msg.Payload, &msg.MsgID); err != nil {
			return nil, fmt.Errorf("failed to scan outbox row: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// MarkPublished marks an outbox event as delivered
func (s *Store) MarkPublished(ctx context.Context, id int64) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE outbox SET published_at = ? WHERE id = ?`, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to mark published: %w", err)
	}
	return nil
}

// MarkOutboxRetry schedules an event for another delivery attempt
func (s *Store) MarkOutboxRetry(ctx context.Context, id int64, backoff time.Duration) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE outbox
		SET retries = retries + 1,
		    next_attempt_at = ?
		WHERE id = ?
	`, time.Now().Add(backoff).Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to mark retry: %w", err)
	}
	return nil
}
