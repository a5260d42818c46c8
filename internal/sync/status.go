package sync

import (
	"errors"
	"sync"
	"time"
)

// ErrSyncInProgress rejects a second pass while one is running for a room
var ErrSyncInProgress = errors.New("sync already in progress for room")

// Status is the transient record of a room's in-progress or most recent
// sync pass. It is overwritten at the start of the next pass.
type Status struct {
	RoomID         string     `json:"roomId"`
	IsSyncing      bool       `json:"isSyncing"`
	LastSyncTime   *time.Time `json:"lastSyncTime,omitempty"`
	TotalMessages  int        `json:"totalMessages"`
	SyncedMessages int        `json:"syncedMessages"`
	Errors         []string   `json:"errors"`
}

// StatusTracker holds per-room pass status. All mutation goes through one
// mutex, so readers always observe counters consistently: syncedMessages
// never exceeds totalMessages, and isSyncing never reads false before
// lastSyncTime is set.
type StatusTracker struct {
	mu       sync.RWMutex
	statuses map[string]*Status
}

// NewStatusTracker creates an empty tracker
func NewStatusTracker() *StatusTracker {
	return &StatusTracker{statuses: make(map[string]*Status)}
}

// Begin atomically claims a fresh pass for the room. It fails with
// ErrSyncInProgress while a pass is running.
func (t *StatusTracker) Begin(roomID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var lastSync *time.Time
	if st, ok := t.statuses[roomID]; ok {
		if st.IsSyncing {
			return ErrSyncInProgress
		}
		// Readers keep seeing the previous pass's time while this one runs.
		lastSync = st.LastSyncTime
	}
	t.statuses[roomID] = &Status{
		RoomID:       roomID,
		IsSyncing:    true,
		LastSyncTime: lastSync,
		Errors:       []string{},
	}
	return nil
}

// SetTotal records the fetched message count for the running pass
func (t *StatusTracker) SetTotal(roomID string, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.statuses[roomID]; ok {
		st.TotalMessages = n
	}
}

// IncrementSynced counts one processed message attempt
func (t *StatusTracker) IncrementSynced(roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.statuses[roomID]; ok {
		st.SyncedMessages++
	}
}

// AppendError records a per-message or pass-level failure
func (t *StatusTracker) AppendError(roomID, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.statuses[roomID]; ok {
		st.Errors = append(st.Errors, msg)
	}
}

// Finish ends the pass. LastSyncTime and IsSyncing flip in one critical
// section so no reader sees the pass end before its timestamp lands.
func (t *StatusTracker) Finish(roomID string, at time.Time) Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.statuses[roomID]
	if !ok {
		return Status{RoomID: roomID}
	}
	st.LastSyncTime = &at
	st.IsSyncing = false

	cp := *st
	cp.Errors = append([]string(nil), st.Errors...)
	return cp
}

// Get returns a copy of the room's status
func (t *StatusTracker) Get(roomID string) (Status, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st, ok := t.statuses[roomID]
	if !ok {
		return Status{}, false
	}
	cp := *st
	cp.Errors = append([]string(nil), st.Errors...)
	if st.LastSyncTime != nil {
		ts := *st.LastSyncTime
		cp.LastSyncTime = &ts
	}
	return cp, true
}

// IsSyncing reports whether a pass is currently running for the room
func (t *StatusTracker) IsSyncing(roomID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.statuses[roomID]
	return ok && st.IsSyncing
}
