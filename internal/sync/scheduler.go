package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/inboxpilot-dev/mail-sync-infra/internal/rooms"
)

// defaultTick is the global scheduler cadence. Per-room intervals decide
// eligibility within a tick, so a room can never sync more often than
// the tick itself.
const defaultTick = 5 * time.Minute

// Scheduler periodically triggers sync passes for every active room with
// auto-sync enabled, honoring each room's own interval.
type Scheduler struct {
	engine *Engine
	rooms  *rooms.Registry
	tick   time.Duration
	now    func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewScheduler creates a scheduler. A zero tick uses the default.
func NewScheduler(engine *Engine, registry *rooms.Registry, tick time.Duration) *Scheduler {
	if tick <= 0 {
		tick = defaultTick
	}
	return &Scheduler{
		engine: engine,
		rooms:  registry,
		tick:   tick,
		now:    time.Now,
	}
}

// Start launches the tick loop
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()

		log.Printf("scheduler: started with %s tick", s.tick)
		for {
			select {
			case <-runCtx.Done():
				log.Printf("scheduler: stopped")
				return
			case <-ticker.C:
				s.runTick(runCtx)
			}
		}
	}()

	return nil
}

// Stop cancels the loop and waits for in-flight passes to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.started = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// runTick triggers a pass for every due room. Failures stay with their
// room; the iteration always covers the full list.
func (s *Scheduler) runTick(ctx context.Context) {
	active, err := s.rooms.ListActiveRooms(ctx)
	if err != nil {
		log.Printf("scheduler: failed to list rooms: %v", err)
		return
	}

	now := s.now()
	for _, room := range active {
		if !s.due(room, now) {
			continue
		}

		room := room
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.engine.SyncRoom(ctx, room.ID); err != nil {
				if errors.Is(err, ErrSyncInProgress) {
					log.Printf("scheduler: room %s still syncing, skipped", room.ID)
					return
				}
				log.Printf("scheduler: sync failed for room %s: %v", room.ID, err)
			}
		}()
	}
}

// due reports whether the room should sync on this tick. In-flight rooms
// are skipped, not queued.
func (s *Scheduler) due(room rooms.Room, now time.Time) bool {
	if !room.Settings.AutoSync {
		return false
	}
	if s.engine.Tracker.IsSyncing(room.ID) {
		return false
	}
	if room.LastSyncTime == nil {
		return true
	}

	minutesSince := now.Sub(*room.LastSyncTime).Minutes()
	return minutesSince >= float64(room.Settings.SyncIntervalMinutes)
}
