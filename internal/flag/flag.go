// Package flag implements the state machine of one team's flag.
package flag

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ctfmode/extension/internal/engine"
	"github.com/ctfmode/extension/internal/geo"
	"github.com/ctfmode/extension/internal/mapdata"
	"github.com/ctfmode/extension/pkg/core"
)

// Carrier is a player able to hold a flag.
type Carrier interface {
	Index() int
	Name() string
	Team() (core.Team, bool)
	Origin() core.Position3D
}

// Listener is told about every completed transition. It renders the chat,
// HUD and sound cues and records the event.
type Listener interface {
	FlagStolen(f *Flag, by Carrier)
	FlagDropped(f *Flag, by Carrier, at core.Position3D)
	// FlagReturned gets a nil player for a timed return.
	FlagReturned(f *Flag, by Carrier)
	FlagCaptured(f *Flag, by Carrier)
}

// Scorer credits a capture. It reports whether the capture won the round, in
// which case the flag stays off the map until the next round start.
type Scorer interface {
	RecordCapture(team core.Team) bool
}

// Settings are the per-flag tunables.
type Settings struct {
	Model         string
	Color         engine.Color
	Glow          bool
	GlowDistance  int
	Height        float64
	ReturnTimeout time.Duration
}

// Deps are the collaborators a flag drives.
type Deps struct {
	World     engine.World
	Triggers  engine.Triggers
	Tracer    engine.Tracer
	Scheduler engine.Scheduler
	Now       func() time.Time
	Listener  Listener
	Scorer    Scorer
	Logger    *slog.Logger
}

// Flag is one team's flag.
//
// carrier is set iff the state is STOLEN, the world entity exists iff the
// state is not STOLEN, and the return timer is pending iff the state is
// DROPPED. Two exceptions are tracked explicitly: a flag captured for the
// winning point stays parked at base without an entity, and a round end
// suspends the return timer of a dropped flag. Both clear on Init.
type Flag struct {
	team      core.Team
	home      core.Position3D
	zone      geo.Box
	settings  Settings
	deps      Deps
	log       *slog.Logger
	state     core.FlagState
	carrier   Carrier
	droppedAt time.Time
	entity    engine.Handle
	zoneTrig  engine.Handle
	lastSpawn core.Position3D
	timer     engine.Timer
	parked    bool
	suspended bool
}

// New creates the flag described by placement. It has no world presence
// until Init.
func New(placement mapdata.Placement, settings Settings, deps Deps) *Flag {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Flag{
		team:     placement.Team,
		home:     placement.Origin,
		zone:     placement.CaptureZone(),
		settings: settings,
		deps:     deps,
		log:      logger.With("flag", placement.Team.String()),
		state:    core.AtBase,
		entity:   engine.NoHandle,
		zoneTrig: engine.NoHandle,
	}
}

func (f *Flag) Team() core.Team                 { return f.team }
func (f *Flag) State() core.FlagState           { return f.state }
func (f *Flag) Carrier() Carrier                { return f.carrier }
func (f *Flag) DroppedAt() time.Time            { return f.droppedAt }
func (f *Flag) Home() core.Position3D           { return f.home }
func (f *Flag) CaptureZone() geo.Box            { return f.zone }
func (f *Flag) EntityIndex() engine.Handle      { return f.entity }
func (f *Flag) CaptureZoneIndex() engine.Handle { return f.zoneTrig }
func (f *Flag) Parked() bool                    { return f.parked }

// Position returns where the flag currently is: its entity, its carrier, or
// home when it has neither.
func (f *Flag) Position() core.Position3D {
	switch {
	case f.carrier != nil:
		return f.carrier.Origin()
	case f.entity.Valid():
		return f.lastSpawn
	default:
		return f.home
	}
}

// ReturnPending reports whether an automatic return is scheduled.
func (f *Flag) ReturnPending() bool {
	return f.timer != nil && f.timer.Active()
}

// ReturnsIn returns the time left until a dropped flag returns by itself.
func (f *Flag) ReturnsIn(now time.Time) time.Duration {
	if f.state != core.Dropped {
		return 0
	}
	left := f.settings.ReturnTimeout - now.Sub(f.droppedAt)
	if left < 0 {
		return 0
	}
	return left
}

func (f *Flag) String() string {
	return fmt.Sprintf("<Flag (%s) - %s>", f.team, f.state)
}

// Init puts the flag at base with a fresh world entity.
func (f *Flag) Init() error {
	f.cancelTimer()
	f.suspended = false
	f.parked = false
	f.carrier = nil
	f.droppedAt = time.Time{}
	f.state = core.AtBase

	f.removeEntity()
	return f.spawn(f.home)
}

// InitCaptureZone builds a fresh capture-zone trigger for the flag.
func (f *Flag) InitCaptureZone() error {
	h, err := f.deps.Triggers.CreateBox(f.zone.Origin, f.zone.HalfExtents)
	if err != nil {
		f.zoneTrig = engine.NoHandle
		return fmt.Errorf("failed to create %s capture zone: %w", f.team, err)
	}
	f.zoneTrig = h
	f.log.Debug("capture zone created", "entity", int(h), "origin", f.zone.Origin, "halfExtents", f.zone.HalfExtents)
	return nil
}

// Steal hands the flag to c. Only a flag at base or dropped can be stolen,
// and never by its own team.
func (f *Flag) Steal(c Carrier) error {
	if f.state != core.AtBase && f.state != core.Dropped {
		return f.reject("steal", "")
	}
	if c == nil {
		return f.reject("steal", "no carrier")
	}
	if team, ok := c.Team(); !ok || team == f.team {
		return f.reject("steal", "carrier is not an opponent")
	}

	f.state = core.Stolen
	f.droppedAt = time.Time{}
	f.removeEntity()
	f.carrier = c
	f.cancelTimer()
	f.suspended = false
	f.parked = false

	f.log.Debug("flag stolen", "player", c.Name(), "index", c.Index())
	if f.deps.Listener != nil {
		f.deps.Listener.FlagStolen(f, c)
	}
	return nil
}

// Drop releases the flag where its carrier stands and schedules its return.
func (f *Flag) Drop() error {
	if f.state != core.Stolen {
		return f.reject("drop", "")
	}

	c := f.carrier
	f.state = core.Dropped
	f.droppedAt = f.deps.Now()
	at := c.Origin()
	spawnErr := f.spawn(at)
	if f.entity.Valid() {
		at = f.lastSpawn
	}
	f.carrier = nil

	var t engine.Timer
	t = f.deps.Scheduler.Schedule(f.settings.ReturnTimeout, func() { f.expire(t) })
	f.timer = t

	f.log.Debug("flag dropped", "player", c.Name(), "index", c.Index(), "position", at)
	if f.deps.Listener != nil {
		f.deps.Listener.FlagDropped(f, c, at)
	}
	return spawnErr
}

// Return sends a dropped flag home. by is nil for a timed return.
func (f *Flag) Return(by Carrier) error {
	if f.state != core.Dropped {
		return f.reject("return", "")
	}

	f.state = core.AtBase
	f.droppedAt = time.Time{}
	f.removeEntity()
	spawnErr := f.spawn(f.home)
	f.cancelTimer()
	f.suspended = false

	if by == nil {
		f.log.Debug("flag returned")
	} else {
		f.log.Debug("flag returned", "player", by.Name(), "index", by.Index())
	}
	if f.deps.Listener != nil {
		f.deps.Listener.FlagReturned(f, by)
	}
	return spawnErr
}

// Capture scores the flag for its carrier's team. The flag goes back to base
// unless the capture won the round.
func (f *Flag) Capture() error {
	if f.state != core.Stolen {
		return f.reject("capture", "")
	}

	c := f.carrier
	scoring, ok := c.Team()
	if !ok || scoring == f.team {
		scoring = f.team.Opponent()
	}

	f.state = core.AtBase
	f.log.Debug("flag captured", "player", c.Name(), "index", c.Index(), "team", scoring.String())
	if f.deps.Listener != nil {
		f.deps.Listener.FlagCaptured(f, c)
	}

	var spawnErr error
	won := f.deps.Scorer != nil && f.deps.Scorer.RecordCapture(scoring)
	if won {
		f.parked = true
	} else {
		spawnErr = f.spawn(f.home)
	}
	f.carrier = nil
	return spawnErr
}

// SuspendReturn cancels a pending automatic return without touching the
// state. The round is over; Init clears the flag at the next round start.
func (f *Flag) SuspendReturn() {
	if f.cancelTimer() {
		f.suspended = true
	}
}

// Teardown forgets every engine resource. The engine destroys the entities
// itself when the level goes away.
func (f *Flag) Teardown() {
	f.cancelTimer()
	f.carrier = nil
	f.entity = engine.NoHandle
	f.zoneTrig = engine.NoHandle
}

// CheckInvariants reports every violated invariant.
func (f *Flag) CheckInvariants() error {
	var errs []error
	if (f.carrier != nil) != (f.state == core.Stolen) {
		errs = append(errs, fmt.Errorf("%w: %s flag is %s with carrier=%t", ErrInvariant, f.team, f.state, f.carrier != nil))
	}
	wantEntity := f.state != core.Stolen && !f.parked
	if f.entity.Valid() != wantEntity {
		errs = append(errs, fmt.Errorf("%w: %s flag is %s with entity=%t", ErrInvariant, f.team, f.state, f.entity.Valid()))
	}
	wantTimer := f.state == core.Dropped && !f.suspended
	if f.ReturnPending() != wantTimer {
		errs = append(errs, fmt.Errorf("%w: %s flag is %s with return pending=%t", ErrInvariant, f.team, f.state, f.ReturnPending()))
	}
	return errors.Join(errs...)
}

func (f *Flag) expire(t engine.Timer) {
	if f.timer == t {
		f.timer = nil
	}
	if err := f.Return(nil); err != nil {
		f.log.Error("stale return timer fired", "error", err)
	}
}

func (f *Flag) reject(op, reason string) error {
	return &TransitionError{Team: f.team, Op: op, State: f.state, Reason: reason}
}

// cancelTimer reports whether a pending timer was cancelled.
func (f *Flag) cancelTimer() bool {
	if f.timer == nil {
		return false
	}
	cancelled := f.timer.Cancel()
	f.timer = nil
	return cancelled
}

func (f *Flag) removeEntity() {
	if !f.entity.Valid() {
		return
	}
	if err := f.deps.World.Remove(f.entity); err != nil {
		// round restarts clean up entities on the engine side
		f.log.Debug("flag entity already gone", "entity", int(f.entity), "error", err)
	}
	f.entity = engine.NoHandle
}

// spawn places the entity on the floor below origin, raised by half the flag
// height. When the trace misses, origin is used as is.
func (f *Flag) spawn(origin core.Position3D) error {
	pos := origin
	if hit, ok := f.deps.Tracer.CastDown(origin); ok {
		pos = hit.Add(core.Position3D{Z: f.settings.Height / 2})
	}

	h, err := f.deps.World.Spawn(engine.SpawnSpec{
		Origin:       pos,
		Model:        f.settings.Model,
		Color:        f.settings.Color,
		Glow:         f.settings.Glow,
		GlowDistance: f.settings.GlowDistance,
	})
	if err != nil {
		f.entity = engine.NoHandle
		return fmt.Errorf("failed to spawn %s flag: %w", f.team, err)
	}
	f.entity = h
	f.lastSpawn = pos
	return nil
}
