// Package engine declares the host engine services the game mode consumes.
// Implementations live outside the domain packages: pkg/hostbridge talks to a
// real engine, enginetest provides in-memory fakes.
package engine

import (
	"time"

	"github.com/ctfmode/extension/pkg/core"
)

// Handle is an engine entity index.
type Handle int

// NoHandle marks an absent entity.
const NoHandle Handle = -1

// Valid reports whether h refers to an entity.
func (h Handle) Valid() bool {
	return h >= 0
}

// Color is an RGB color as the engine understands it.
type Color struct {
	R, G, B uint8
}

// SpawnSpec describes a world pickup object to create.
type SpawnSpec struct {
	Origin       core.Position3D
	Model        string
	Color        Color
	Glow         bool
	GlowDistance int
}

// World spawns and removes pickup objects.
type World interface {
	Spawn(spec SpawnSpec) (Handle, error)
	Remove(h Handle) error
}

// Triggers creates trigger volumes. Touches on them are reported back by the
// engine as touch-begin events carrying the volume's entity index.
type Triggers interface {
	CreateBox(origin, halfExtents core.Position3D) (Handle, error)
}

// Tracer casts rays against world geometry.
type Tracer interface {
	// CastDown traces straight down from origin and returns the hit point.
	CastDown(origin core.Position3D) (core.Position3D, bool)
}

// Player is a connected engine player.
type Player interface {
	Index() int
	UserID() int
	Name() string
	TeamNumber() int
	Origin() core.Position3D
}

// Players looks up connected players.
type Players interface {
	Player(index int) (Player, bool)
	ByUserID(userID int) (Player, bool)
	All() []Player
}

// HudStyle controls how an on-screen message is rendered.
type HudStyle struct {
	Color    Color
	X, Y     float64
	Effect   int
	FadeIn   float64
	FadeOut  float64
	HoldTime float64
	FxTime   float64
	Channel  int
}

// Messenger delivers chat and on-screen text. A nil recipient list addresses
// every player.
type Messenger interface {
	Chat(recipients []int, text string) error
	Hud(recipients []int, text string, style HudStyle) error
}

// Audio plays a named sound to a set of players.
type Audio interface {
	Play(sound string, recipients []int) error
}

// Timer is a scheduled callback.
type Timer interface {
	// Cancel stops the callback from firing. It reports whether the timer was
	// still pending.
	Cancel() bool
	Active() bool
}

// Scheduler defers callbacks on the host's event thread.
type Scheduler interface {
	Schedule(delay time.Duration, fn func()) Timer
}

// Rounds ends the running round.
type Rounds interface {
	TerminateRound(reason core.WinCondition) error
}

// Services bundles every collaborator the game mode needs.
type Services struct {
	World     World
	Triggers  Triggers
	Tracer    Tracer
	Players   Players
	Messenger Messenger
	Audio     Audio
	Scheduler Scheduler
	Rounds    Rounds
	Now       func() time.Time
}
