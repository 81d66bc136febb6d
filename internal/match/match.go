// Package match owns the state of one map's match: the flags, the team
// scores and the round lifecycle.
package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ctfmode/extension/internal/engine"
	"github.com/ctfmode/extension/internal/flag"
	"github.com/ctfmode/extension/internal/lang"
	"github.com/ctfmode/extension/internal/mapdata"
	"github.com/ctfmode/extension/internal/session"
	"github.com/ctfmode/extension/pkg/core"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrNotTracked is returned for a player index without a session.
var ErrNotTracked = errors.New("player not tracked")

// SoundPair holds the cue played to the flag's own team and the one played to
// everybody else.
type SoundPair struct {
	Team  string
	Enemy string
}

// Config holds the gameplay settings of a match.
type Config struct {
	CapsToWin            int
	AllowDropFlagCommand bool
	ReturnTimeout        time.Duration
	FlagModel            string
	FlagHeight           float64
	FlagsGlow            bool
	GlowDistance         int
	Sounds               map[core.FlagAction]SoundPair
}

// Recorder receives the match's events. storage.Backend implements it.
type Recorder interface {
	RecordFlagEvent(e *core.FlagEvent) error
	RecordRoundEvent(e *core.RoundEvent) error
}

// Deps are the collaborators of a match.
type Deps struct {
	Services engine.Services
	Sessions *session.Tracker
	Catalog  *lang.Catalog
	Recorder Recorder
	Logger   *slog.Logger
}

// Match is the explicitly owned state of one map. It is built by Load when a
// level starts and torn down by Unload when it ends.
type Match struct {
	mapName   string
	cfg       Config
	deps      Deps
	log       *slog.Logger
	metrics   *metrics
	flags     map[core.Team]*flag.Flag
	scores    map[core.Team]int
	round     atomic.Uint32 // read by log handlers on other goroutines
	roundOver bool
	unloaded  bool
}

// Load builds the match for record. A nil record yields a match without
// flags: every flag operation is inert on such a map.
func Load(mapName string, record *mapdata.Record, cfg Config, deps Deps) (*Match, error) {
	if deps.Services.Now == nil {
		deps.Services.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	met, err := newMetrics()
	if err != nil {
		return nil, err
	}

	m := &Match{
		mapName: mapName,
		cfg:     cfg,
		deps:    deps,
		log:     deps.Logger.With("map", mapName),
		metrics: met,
		flags:   make(map[core.Team]*flag.Flag),
		scores:  make(map[core.Team]int),
	}
	for _, team := range core.Teams {
		m.scores[team] = 0
	}

	if record != nil {
		fdeps := flag.Deps{
			World:     deps.Services.World,
			Triggers:  deps.Services.Triggers,
			Tracer:    deps.Services.Tracer,
			Scheduler: deps.Services.Scheduler,
			Now:       deps.Services.Now,
			Listener:  m,
			Scorer:    m,
			Logger:    m.log,
		}
		for _, team := range core.Teams {
			p, ok := record.Flags[team]
			if !ok {
				continue
			}
			m.flags[team] = flag.New(p, flag.Settings{
				Model:         cfg.FlagModel,
				Color:         teamColors[team],
				Glow:          cfg.FlagsGlow,
				GlowDistance:  cfg.GlowDistance,
				Height:        cfg.FlagHeight,
				ReturnTimeout: cfg.ReturnTimeout,
			}, fdeps)
		}
	}

	if deps.Sessions != nil {
		deps.Sessions.SetRemovalHook(m.dropOnRemoval)
	}
	m.log.Info("match loaded", "flags", len(m.flags), "capsToWin", cfg.CapsToWin)
	return m, nil
}

// Unload tears the match down. The engine removes the level's entities
// itself; pending timers are cancelled and the flags forgotten.
func (m *Match) Unload() {
	if m.unloaded {
		return
	}
	for _, f := range m.flags {
		f.Teardown()
	}
	m.flags = make(map[core.Team]*flag.Flag)
	for team := range m.scores {
		m.scores[team] = 0
	}
	if m.deps.Sessions != nil {
		m.deps.Sessions.SetRemovalHook(nil)
	}
	m.unloaded = true
	m.log.Info("match unloaded")
}

func (m *Match) MapName() string { return m.mapName }
func (m *Match) Round() uint     { return uint(m.round.Load()) }
func (m *Match) RoundOver() bool { return m.roundOver }
func (m *Match) Config() Config  { return m.cfg }

// Active reports whether the map has flags.
func (m *Match) Active() bool {
	return len(m.flags) > 0
}

// Score returns team's capture count.
func (m *Match) Score(team core.Team) int {
	return m.scores[team]
}

// Scores returns a copy of every team's capture count.
func (m *Match) Scores() map[core.Team]int {
	out := make(map[core.Team]int, len(m.scores))
	for team, n := range m.scores {
		out[team] = n
	}
	return out
}

// Flag returns team's flag.
func (m *Match) Flag(team core.Team) (*flag.Flag, bool) {
	f, ok := m.flags[team]
	return f, ok
}

// Flags returns the flags in team order.
func (m *Match) Flags() []*flag.Flag {
	out := make([]*flag.Flag, 0, len(m.flags))
	for _, team := range core.Teams {
		if f, ok := m.flags[team]; ok {
			out = append(out, f)
		}
	}
	return out
}

// FlagByEntity finds the flag whose world entity is h.
func (m *Match) FlagByEntity(h engine.Handle) (*flag.Flag, bool) {
	if !h.Valid() {
		return nil, false
	}
	for _, f := range m.flags {
		if f.EntityIndex() == h {
			return f, true
		}
	}
	return nil, false
}

// FlagByZone finds the flag whose capture-zone trigger is h.
func (m *Match) FlagByZone(h engine.Handle) (*flag.Flag, bool) {
	if !h.Valid() {
		return nil, false
	}
	for _, f := range m.flags {
		if f.CaptureZoneIndex() == h {
			return f, true
		}
	}
	return nil, false
}

// CarriedBy returns the flag carried by the player at index.
func (m *Match) CarriedBy(index int) (*flag.Flag, bool) {
	for _, f := range m.Flags() {
		if c := f.Carrier(); c != nil && c.Index() == index {
			return f, true
		}
	}
	return nil, false
}

// RoundStart zeroes the scores and puts every flag at base with a fresh
// entity and capture zone.
func (m *Match) RoundStart() error {
	m.round.Add(1)
	m.roundOver = false
	for team := range m.scores {
		m.scores[team] = 0
	}

	var errs []error
	for _, f := range m.Flags() {
		if err := f.Init(); err != nil {
			errs = append(errs, err)
		}
		if err := f.InitCaptureZone(); err != nil {
			errs = append(errs, err)
		}
	}

	m.recordRound(core.RoundStarted, core.TeamNone)
	m.log.Info("round started", "round", m.Round())
	return errors.Join(errs...)
}

// RoundEnd marks the round over. Flags keep their state until the next round
// start; pending automatic returns are cancelled.
func (m *Match) RoundEnd() {
	m.roundOver = true
	for _, f := range m.Flags() {
		f.SuspendReturn()
	}
	m.recordRound(core.RoundEnded, core.TeamNone)
	m.log.Info("round ended", "round", m.Round())
}

// RecordCapture credits team with a capture and declares victory when the
// threshold is reached.
func (m *Match) RecordCapture(team core.Team) bool {
	m.scores[team]++
	m.log.Info("capture", "team", team.String(), "score", m.scores[team])
	if m.cfg.CapsToWin > 0 && m.scores[team] >= m.cfg.CapsToWin {
		if err := m.Victory(team); err != nil {
			m.log.Error("failed to end round", "team", team.String(), "error", err)
		}
		return true
	}
	return false
}

// Victory announces team's win, zeroes every score and asks the engine to
// terminate the round.
func (m *Match) Victory(team core.Team) error {
	m.chat(nil, m.catalog().Tagged(m.catalog().Text(lang.VictoryKey(team.String()), nil)))
	m.recordRound(core.RoundWon, team)
	m.metrics.victories.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("team", team.String())))

	for t := range m.scores {
		m.scores[t] = 0
	}

	if err := m.deps.Services.Rounds.TerminateRound(core.WinConditionFor(team)); err != nil {
		return fmt.Errorf("terminate round for %s: %w", team, err)
	}
	return nil
}

// PlayerJoined starts tracking player.
func (m *Match) PlayerJoined(p engine.Player) *session.Session {
	return m.deps.Sessions.Join(p)
}

// PlayerDeath drops whatever flag the player with userID carried.
func (m *Match) PlayerDeath(userID int) error {
	s, ok := m.deps.Sessions.ByUserID(userID)
	if !ok {
		return nil
	}
	return m.dropCarried(s)
}

// PlayerRemoved drops the player's flag, then discards the session.
func (m *Match) PlayerRemoved(index int) error {
	if _, ok := m.deps.Sessions.Leave(index); !ok {
		return fmt.Errorf("%w: index %d", ErrNotTracked, index)
	}
	return nil
}

// DropFlagCommand handles a player asking to drop the flag they carry. It
// reports whether a flag was dropped.
func (m *Match) DropFlagCommand(index int) (bool, error) {
	cat := m.catalog()
	if !m.cfg.AllowDropFlagCommand {
		m.chat([]int{index}, cat.Chat(lang.KeyDisabled, nil))
		return false, nil
	}

	s, ok := m.deps.Sessions.Get(index)
	if !ok {
		return false, fmt.Errorf("%w: index %d", ErrNotTracked, index)
	}
	f, ok := m.CarriedBy(index)
	if !ok {
		m.chat([]int{index}, cat.Chat(lang.KeyNoFlagOnYou, nil))
		return false, nil
	}

	s.MarkSelfDrop(m.deps.Services.Now())
	if err := f.Drop(); err != nil {
		return false, err
	}
	return true, nil
}

// CheckInvariants checks every flag.
func (m *Match) CheckInvariants() error {
	var errs []error
	for _, f := range m.Flags() {
		errs = append(errs, f.CheckInvariants())
	}
	return errors.Join(errs...)
}

func (m *Match) dropCarried(s *session.Session) error {
	f, ok := m.CarriedBy(s.Index())
	if !ok {
		return nil
	}
	return f.Drop()
}

func (m *Match) dropOnRemoval(s *session.Session) {
	if err := m.dropCarried(s); err != nil {
		m.log.Error("failed to drop flag of leaving player", "index", s.Index(), "error", err)
	}
}

func (m *Match) catalog() *lang.Catalog {
	return m.deps.Catalog
}
