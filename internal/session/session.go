// Package session tracks the game mode state of each connected player.
package session

import (
	"sort"
	"sync"
	"time"

	"github.com/ctfmode/extension/internal/engine"
	"github.com/ctfmode/extension/pkg/core"
)

// Session is one connected player plus the mode's per-player state.
type Session struct {
	player         engine.Player
	joinedAt       time.Time
	lastSelfDropAt time.Time
}

// New wraps player in a fresh session.
func New(player engine.Player, now time.Time) *Session {
	return &Session{player: player, joinedAt: now}
}

func (s *Session) Index() int              { return s.player.Index() }
func (s *Session) UserID() int             { return s.player.UserID() }
func (s *Session) Name() string            { return s.player.Name() }
func (s *Session) Origin() core.Position3D { return s.player.Origin() }
func (s *Session) JoinedAt() time.Time     { return s.joinedAt }

// Team resolves the player's current team. Spectators and unassigned players
// do not resolve.
func (s *Session) Team() (core.Team, bool) {
	return core.TeamFromEngine(s.player.TeamNumber())
}

// MarkSelfDrop stamps a voluntary flag drop.
func (s *Session) MarkSelfDrop(now time.Time) {
	s.lastSelfDropAt = now
}

// LastSelfDropAt returns the time of the last voluntary drop, zero if none.
func (s *Session) LastSelfDropAt() time.Time {
	return s.lastSelfDropAt
}

// InCooldown reports whether now is within window of the last voluntary drop.
func (s *Session) InCooldown(now time.Time, window time.Duration) bool {
	if s.lastSelfDropAt.IsZero() {
		return false
	}
	return now.Sub(s.lastSelfDropAt) < window
}

// RemovalHook runs before a session is discarded. It is how the owner of
// carried flags gets to drop them while the session is still valid.
type RemovalHook func(*Session)

// Tracker maps connection index to session.
type Tracker struct {
	mu       sync.RWMutex
	sessions map[int]*Session
	onRemove RemovalHook
	now      func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithRemovalHook installs the hook run before a session is discarded.
func WithRemovalHook(hook RemovalHook) Option {
	return func(t *Tracker) {
		t.onRemove = hook
	}
}

// WithClock sets the time source used to stamp joins.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// NewTracker creates an empty tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		sessions: make(map[int]*Session),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetRemovalHook replaces the removal hook.
func (t *Tracker) SetRemovalHook(hook RemovalHook) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onRemove = hook
}

// Join creates the session for player. A stale session on the same index is
// removed first.
func (t *Tracker) Join(player engine.Player) *Session {
	t.Leave(player.Index())

	s := New(player, t.now())
	t.mu.Lock()
	t.sessions[player.Index()] = s
	t.mu.Unlock()
	return s
}

// Leave runs the removal hook and discards the session at index.
func (t *Tracker) Leave(index int) (*Session, bool) {
	t.mu.RLock()
	s, ok := t.sessions[index]
	hook := t.onRemove
	t.mu.RUnlock()
	if !ok {
		return nil, false
	}

	// the hook may read other sessions, so it runs unlocked
	if hook != nil {
		hook(s)
	}

	t.mu.Lock()
	delete(t.sessions, index)
	t.mu.Unlock()
	return s, true
}

// Get returns the session at index.
func (t *Tracker) Get(index int) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[index]
	return s, ok
}

// ByUserID finds the session of the player with the given user id.
func (t *Tracker) ByUserID(userID int) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, s := range t.sessions {
		if s.UserID() == userID {
			return s, true
		}
	}
	return nil, false
}

// All returns every session ordered by index.
func (t *Tracker) All() []*Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index() < out[j].Index() })
	return out
}

// Len returns the number of tracked sessions.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// Reset discards every session without running the removal hook. It is used
// when the whole level goes away.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions = make(map[int]*Session)
}

// Split partitions the connected players into members of team and everybody
// else, by index.
func (t *Tracker) Split(team core.Team) (members, others []int) {
	for _, s := range t.All() {
		if st, ok := s.Team(); ok && st == team {
			members = append(members, s.Index())
		} else {
			others = append(others, s.Index())
		}
	}
	return members, others
}
