// Package enginetest provides in-memory engine services for tests.
package enginetest

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ctfmode/extension/internal/engine"
	"github.com/ctfmode/extension/internal/timer"
	"github.com/ctfmode/extension/pkg/core"
)

// ErrNoEntity is returned when removing an entity that does not exist.
var ErrNoEntity = errors.New("enginetest: no such entity")

// Player is a scripted engine player.
type Player struct {
	Idx      int
	UID      int
	Nick     string
	TeamNum  int
	Position core.Position3D
}

func (p *Player) Index() int              { return p.Idx }
func (p *Player) UserID() int             { return p.UID }
func (p *Player) Name() string            { return p.Nick }
func (p *Player) TeamNumber() int         { return p.TeamNum }
func (p *Player) Origin() core.Position3D { return p.Position }

// Box is a created trigger volume.
type Box struct {
	Origin      core.Position3D
	HalfExtents core.Position3D
}

// Message is a delivered chat or HUD line.
type Message struct {
	Recipients []int
	Text       string
	Style      engine.HudStyle
}

// Sound is a played sound.
type Sound struct {
	Name       string
	Recipients []int
}

// Engine fakes every engine service and records what was asked of it.
type Engine struct {
	mu   sync.Mutex
	next engine.Handle

	Entities     map[engine.Handle]engine.SpawnSpec
	Removed      []engine.Handle
	Boxes        map[engine.Handle]Box
	Chats        []Message
	Huds         []Message
	Sounds       []Sound
	Terminations []core.WinCondition

	// Floor is the height ray casts hit. A nil Floor makes every cast miss.
	Floor *float64

	players map[int]*Player
}

// New creates an empty fake engine.
func New() *Engine {
	return &Engine{
		next:     100,
		Entities: make(map[engine.Handle]engine.SpawnSpec),
		Boxes:    make(map[engine.Handle]Box),
		players:  make(map[int]*Player),
	}
}

// SetFloor makes ray casts hit at height z.
func (e *Engine) SetFloor(z float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Floor = &z
}

// AddPlayer connects p.
func (e *Engine) AddPlayer(p *Player) *Player {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.players[p.Idx] = p
	return p
}

// RemovePlayer disconnects the player at index.
func (e *Engine) RemovePlayer(index int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.players, index)
}

func (e *Engine) Spawn(spec engine.SpawnSpec) (engine.Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h := e.next
	e.next++
	e.Entities[h] = spec
	return h, nil
}

func (e *Engine) Remove(h engine.Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.Entities[h]; !ok {
		return ErrNoEntity
	}
	delete(e.Entities, h)
	e.Removed = append(e.Removed, h)
	return nil
}

func (e *Engine) CreateBox(origin, halfExtents core.Position3D) (engine.Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h := e.next
	e.next++
	e.Boxes[h] = Box{Origin: origin, HalfExtents: halfExtents}
	return h, nil
}

func (e *Engine) CastDown(origin core.Position3D) (core.Position3D, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Floor == nil {
		return core.Position3D{}, false
	}
	return core.Position3D{X: origin.X, Y: origin.Y, Z: *e.Floor}, true
}

func (e *Engine) Player(index int) (engine.Player, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.players[index]
	if !ok {
		return nil, false
	}
	return p, true
}

func (e *Engine) ByUserID(userID int) (engine.Player, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range e.players {
		if p.UID == userID {
			return p, true
		}
	}
	return nil, false
}

func (e *Engine) All() []engine.Player {
	e.mu.Lock()
	defer e.mu.Unlock()
	indexes := make([]int, 0, len(e.players))
	for idx := range e.players {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	out := make([]engine.Player, 0, len(indexes))
	for _, idx := range indexes {
		out = append(out, e.players[idx])
	}
	return out
}

func (e *Engine) Chat(recipients []int, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Chats = append(e.Chats, Message{Recipients: recipients, Text: text})
	return nil
}

func (e *Engine) Hud(recipients []int, text string, style engine.HudStyle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Huds = append(e.Huds, Message{Recipients: recipients, Text: text, Style: style})
	return nil
}

func (e *Engine) Play(sound string, recipients []int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Sounds = append(e.Sounds, Sound{Name: sound, Recipients: recipients})
	return nil
}

func (e *Engine) TerminateRound(reason core.WinCondition) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Terminations = append(e.Terminations, reason)
	return nil
}

// LastChat returns the most recent chat line, or "" if none was sent.
func (e *Engine) LastChat() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.Chats) == 0 {
		return ""
	}
	return e.Chats[len(e.Chats)-1].Text
}

// SoundsNamed returns every played sound with the given name.
func (e *Engine) SoundsNamed(name string) []Sound {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Sound
	for _, s := range e.Sounds {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 6, 1, 20, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Harness wires a fake engine, a manual clock and a real scheduler together.
type Harness struct {
	Engine    *Engine
	Clock     *Clock
	Scheduler *timer.Scheduler
}

// NewHarness creates a harness with an empty engine.
func NewHarness() *Harness {
	clock := NewClock()
	return &Harness{
		Engine:    New(),
		Clock:     clock,
		Scheduler: timer.NewScheduler(clock.Now),
	}
}

// Services returns the harness as engine services.
func (h *Harness) Services() engine.Services {
	return engine.Services{
		World:     h.Engine,
		Triggers:  h.Engine,
		Tracer:    h.Engine,
		Players:   h.Engine,
		Messenger: h.Engine,
		Audio:     h.Engine,
		Scheduler: h.Scheduler,
		Rounds:    h.Engine,
		Now:       h.Clock.Now,
	}
}

// Advance moves the clock and fires every timer that became due.
func (h *Harness) Advance(d time.Duration) int {
	h.Clock.Advance(d)
	return h.Scheduler.Tick()
}
