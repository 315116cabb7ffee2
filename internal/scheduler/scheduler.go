// Package scheduler wakes up when temporary bans expire and reverses them.
// Pending reversals live in a min-heap keyed by due time, with a durable row
// per (guild, user) so restarts pick up where the process left off.
package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/modgate/internal/store"
)

// UnbanFunc performs the actual reversal on the platform.
type UnbanFunc func(ctx context.Context, guildID, userID, reason string) error

type entry struct {
	guildID   string
	userID    string
	due       int64
	reason    string
	cancelled bool
}

func key(guildID, userID string) string { return guildID + "\x00" + userID }

type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].due < h[j].due }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)         { *h = append(*h, x.(*entry)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Scheduler owns the reversal queue. Rescheduling a user replaces their live
// entry; the superseded heap node stays in place and is discarded when it
// surfaces. One goroutine runs the loop; Schedule and Cancel are safe from
// any goroutine.
type Scheduler struct {
	mu    sync.Mutex
	heap  entryHeap
	live  map[string]*entry
	store store.ReversalStore
	unban UnbanFunc
	wake  chan struct{}

	now func() time.Time
}

func New(st store.ReversalStore, unban UnbanFunc) *Scheduler {
	return &Scheduler{
		live:  make(map[string]*entry),
		store: st,
		unban: unban,
		wake:  make(chan struct{}, 1),
		now:   time.Now,
	}
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Recover loads every persisted reversal into the queue. Call once before
// Run; overdue rows fire on the first loop iteration.
func (s *Scheduler) Recover(ctx context.Context) error {
	rows, err := s.store.All(ctx)
	if err != nil {
		return fmt.Errorf("load reversals: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		e := &entry{guildID: r.GuildID, userID: r.UserID, due: r.DueAt, reason: r.Reason}
		s.live[key(r.GuildID, r.UserID)] = e
		heap.Push(&s.heap, e)
	}
	if len(rows) > 0 {
		slog.Info("recovered pending reversals", "count", len(rows))
		s.signal()
	}
	return nil
}

// ScheduleUnban books a reversal at due, replacing any earlier booking for
// the same member. A due time at or before now runs the reversal immediately
// on the caller's goroutine instead of booking it. A failed durable write
// keeps the in-memory booking so the reversal still fires this process
// lifetime.
func (s *Scheduler) ScheduleUnban(ctx context.Context, guildID, userID string, due time.Time, reason string) error {
	k := key(guildID, userID)
	if !due.After(s.now()) {
		s.mu.Lock()
		if old, ok := s.live[k]; ok {
			old.cancelled = true
			delete(s.live, k)
		}
		s.mu.Unlock()
		s.execute(ctx, &entry{guildID: guildID, userID: userID, due: due.Unix(), reason: reason})
		return nil
	}

	rec := store.Reversal{GuildID: guildID, UserID: userID, DueAt: due.Unix(), Reason: reason}
	if err := s.store.Upsert(ctx, rec); err != nil {
		slog.Warn("reversal not durable, surviving restarts is off for this ban",
			"guild_id", guildID, "user_id", userID, "error", err)
	}

	s.mu.Lock()
	if old, ok := s.live[k]; ok {
		old.cancelled = true
	}
	e := &entry{guildID: guildID, userID: userID, due: rec.DueAt, reason: reason}
	s.live[k] = e
	heap.Push(&s.heap, e)
	s.mu.Unlock()

	s.signal()
	return nil
}

// CancelUnban drops a pending reversal, typically after a manual unban.
func (s *Scheduler) CancelUnban(ctx context.Context, guildID, userID string) error {
	if err := s.store.Delete(ctx, guildID, userID); err != nil {
		return fmt.Errorf("delete reversal: %w", err)
	}
	s.mu.Lock()
	k := key(guildID, userID)
	if e, ok := s.live[k]; ok {
		e.cancelled = true
		delete(s.live, k)
	}
	s.mu.Unlock()
	s.signal()
	return nil
}

// Pending reports the number of live bookings.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// next pops due entries, skipping cancelled and superseded nodes, and
// returns how long to sleep before the earliest remaining booking.
func (s *Scheduler) next() (fire []*entry, sleep time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nowUnix := s.now().Unix()
	for s.heap.Len() > 0 {
		e := s.heap[0]
		k := key(e.guildID, e.userID)
		if e.cancelled || s.live[k] != e {
			heap.Pop(&s.heap)
			continue
		}
		if e.due > nowUnix {
			return fire, time.Duration(e.due-nowUnix) * time.Second
		}
		heap.Pop(&s.heap)
		delete(s.live, k)
		fire = append(fire, e)
	}
	return fire, time.Hour
}

// Run drives the queue until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		fire, sleep := s.next()
		for _, e := range fire {
			s.execute(ctx, e)
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(sleep)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
		case <-timer.C:
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, e *entry) {
	log := slog.With("guild_id", e.guildID, "user_id", e.userID)
	if err := s.unban(ctx, e.guildID, e.userID, e.reason); err != nil {
		log.Error("scheduled unban failed", "error", err)
	} else {
		log.Info("temporary ban reversed")
	}
	if err := s.store.Delete(ctx, e.guildID, e.userID); err != nil {
		log.Warn("reversal row cleanup failed", "error", err)
	}
}
