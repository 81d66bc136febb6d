package monitor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ctfmode/extension/internal/engine"
	"github.com/ctfmode/extension/internal/level"
	"github.com/ctfmode/extension/internal/match"
	"github.com/ctfmode/extension/internal/session"
	"github.com/ctfmode/extension/internal/timer"
	"github.com/ctfmode/extension/internal/touch"
	"github.com/ctfmode/extension/pkg/core"
)

// PendingCounter reports how many recorded events are still waiting to be
// written. The gorm storage backend implements it.
type PendingCounter interface {
	Pending() int
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Level     *level.Context
	Messenger engine.Messenger
	Scheduler *timer.Scheduler
	Sessions  *session.Tracker
	Touches   *touch.Correlator
	Storage   PendingCounter
	Interval  time.Duration
	Now       func() time.Time
	Logger    *slog.Logger
}

// FlagStatus is one flag's entry in the status report.
type FlagStatus struct {
	Team      string          `json:"team"`
	State     string          `json:"state"`
	Carrier   string          `json:"carrier,omitempty"`
	ReturnsIn float64         `json:"returnsIn,omitempty"`
	Position  core.Position3D `json:"position"`
}

// Status is the answer to the status command.
type Status struct {
	Time           time.Time      `json:"time"`
	Map            string         `json:"map"`
	Round          uint           `json:"round"`
	RoundOver      bool           `json:"roundOver"`
	Scores         map[string]int `json:"scores"`
	Flags          []FlagStatus   `json:"flags"`
	Sessions       int            `json:"sessions"`
	PendingTimers  int            `json:"pendingTimers"`
	PendingTouches map[string]int `json:"pendingTouches"`
	StoragePending int            `json:"storagePending"`
	HudRunning     bool           `json:"hudRunning"`
}

// Service renders the periodic flag status line and reports program status.
type Service struct {
	deps     Dependencies
	mu       sync.Mutex
	lastShow time.Time
	shown    bool
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Interval <= 0 {
		deps.Interval = time.Second
	}
	return &Service{deps: deps}
}

// IsRunning reports whether the status line has been shown since the
// current map loaded.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shown
}

// Reset restarts the display interval, e.g. on level change.
func (s *Service) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastShow = time.Time{}
	s.shown = false
}

// Tick shows the status line to everybody once per interval. It reports
// whether a line was sent.
func (s *Service) Tick() bool {
	m := s.deps.Level.Match()
	if m == nil || s.deps.Messenger == nil {
		return false
	}

	now := s.deps.Now()
	s.mu.Lock()
	if !s.lastShow.IsZero() && now.Sub(s.lastShow) < s.deps.Interval {
		s.mu.Unlock()
		return false
	}
	s.lastShow = now
	s.mu.Unlock()

	line := m.StatusLine(now)
	if line == "" {
		return false
	}
	if err := s.deps.Messenger.Hud(nil, line, match.StatusStyle); err != nil {
		s.deps.Logger.Warn("failed to show flag status", "error", err)
		return false
	}

	s.mu.Lock()
	s.shown = true
	s.mu.Unlock()
	return true
}

// GetStatus returns a snapshot of the current map, scores, flags and queues.
func (s *Service) GetStatus() Status {
	now := s.deps.Now()
	st := Status{
		Time:           now,
		Map:            s.deps.Level.MapName(),
		Scores:         map[string]int{},
		Flags:          []FlagStatus{},
		PendingTouches: map[string]int{},
		HudRunning:     s.IsRunning(),
	}

	if m := s.deps.Level.Match(); m != nil {
		st.Round = m.Round()
		st.RoundOver = m.RoundOver()
		for team, n := range m.Scores() {
			st.Scores[team.String()] = n
		}
		for _, f := range m.Flags() {
			fs := FlagStatus{
				Team:     f.Team().String(),
				State:    f.State().String(),
				Position: f.Position(),
			}
			if c := f.Carrier(); c != nil {
				fs.Carrier = c.Name()
			}
			if f.ReturnPending() {
				fs.ReturnsIn = f.ReturnsIn(now).Seconds()
			}
			st.Flags = append(st.Flags, fs)
		}
	}

	if s.deps.Sessions != nil {
		st.Sessions = s.deps.Sessions.Len()
	}
	if s.deps.Scheduler != nil {
		st.PendingTimers = s.deps.Scheduler.Pending()
	}
	if s.deps.Touches != nil {
		for _, kind := range []touch.Kind{touch.KindFlag, touch.KindZone} {
			st.PendingTouches[kind.String()] = s.deps.Touches.Pending(kind)
		}
	}
	if s.deps.Storage != nil {
		st.StoragePending = s.deps.Storage.Pending()
	}
	return st
}
