// Package timer runs deferred callbacks on the host's event thread. The host
// drives it by calling Tick; callbacks never run on their own goroutine.
package timer

import (
	"sort"
	"sync"
	"time"

	"github.com/ctfmode/extension/internal/engine"
)

// Timer is a pending callback created by Scheduler.Schedule.
type Timer struct {
	s   *Scheduler
	id  uint64
	due time.Time
	fn  func()

	// guarded by s.mu
	active bool
}

// Cancel stops the timer. It reports whether the timer was still pending.
func (t *Timer) Cancel() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if !t.active {
		return false
	}
	t.active = false
	delete(t.s.pending, t.id)
	return true
}

// Active reports whether the timer has neither fired nor been cancelled.
func (t *Timer) Active() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.active
}

// Due returns the instant the timer fires.
func (t *Timer) Due() time.Time {
	return t.due
}

// Scheduler keeps timers until they become due.
type Scheduler struct {
	mu      sync.Mutex
	now     func() time.Time
	nextID  uint64
	pending map[uint64]*Timer
}

// NewScheduler creates a scheduler reading time from now.
func NewScheduler(now func() time.Time) *Scheduler {
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		now:     now,
		pending: make(map[uint64]*Timer),
	}
}

// Schedule runs fn once delay has elapsed.
func (s *Scheduler) Schedule(delay time.Duration, fn func()) engine.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	t := &Timer{
		s:      s,
		id:     s.nextID,
		due:    s.now().Add(delay),
		fn:     fn,
		active: true,
	}
	s.pending[t.id] = t
	return t
}

// Tick fires every due timer in due order and returns how many fired.
// Callbacks may schedule or cancel other timers.
func (s *Scheduler) Tick() int {
	s.mu.Lock()
	now := s.now()
	var due []*Timer
	for _, t := range s.pending {
		if !t.due.After(now) {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].due.Equal(due[j].due) {
			return due[i].id < due[j].id
		}
		return due[i].due.Before(due[j].due)
	})
	s.mu.Unlock()

	fired := 0
	for _, t := range due {
		s.mu.Lock()
		if !t.active {
			// cancelled by an earlier callback
			s.mu.Unlock()
			continue
		}
		t.active = false
		delete(s.pending, t.id)
		s.mu.Unlock()

		t.fn()
		fired++
	}
	return fired
}

// OnLevelEnd cancels every pending timer.
func (s *Scheduler) OnLevelEnd() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.pending)
	for id, t := range s.pending {
		t.active = false
		delete(s.pending, id)
	}
	return n
}

// Pending returns the number of timers that have not fired yet.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
