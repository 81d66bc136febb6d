package hostbridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ctfmode/extension/internal/engine"
	"github.com/ctfmode/extension/pkg/core"
)

var (
	// ErrHost is returned when the host answers a request with an error.
	ErrHost = errors.New("host error")
	// ErrMalformedResponse is returned for replies that are not ["ok", ...] or ["error", msg].
	ErrMalformedResponse = errors.New("malformed host response")
)

// Host function names requested by the client.
const (
	FnSpawn          = "spawn"
	FnRemove         = "remove"
	FnTriggerBox     = "trigger_box"
	FnTraceDown      = "trace_down"
	FnPlayer         = "player"
	FnPlayerByUserID = "player_by_userid"
	FnPlayers        = "players"
	FnChat           = "chat"
	FnHud            = "hud"
	FnSound          = "sound"
	FnTerminateRound = "terminate_round"
)

// Transport sends one request to the host and returns its raw reply.
type Transport interface {
	Request(fn string, args ...string) (string, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(fn string, args ...string) (string, error)

func (f TransportFunc) Request(fn string, args ...string) (string, error) {
	return f(fn, args...)
}

// Client implements the engine services over a Transport. Timers are not
// part of it: they run on the tick-driven scheduler inside the extension.
type Client struct {
	t Transport
}

// NewClient creates a client sending requests over t.
func NewClient(t Transport) *Client {
	return &Client{t: t}
}

// Services returns the client as engine services, completed with the given
// scheduler and clock.
func (c *Client) Services(scheduler engine.Scheduler, now func() time.Time) engine.Services {
	if now == nil {
		now = time.Now
	}
	return engine.Services{
		World:     c,
		Triggers:  c,
		Tracer:    c,
		Players:   c,
		Messenger: c,
		Audio:     c,
		Scheduler: scheduler,
		Rounds:    c,
		Now:       now,
	}
}

// request sends fn and returns the payload following "ok", which is nil for
// a bare ["ok"].
func (c *Client) request(fn string, args ...string) (json.RawMessage, error) {
	raw, err := c.t.Request(fn, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fn, err)
	}
	var reply []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &reply); err != nil || len(reply) == 0 {
		return nil, fmt.Errorf("%s: %w: %q", fn, ErrMalformedResponse, raw)
	}
	var status string
	if err := json.Unmarshal(reply[0], &status); err != nil {
		return nil, fmt.Errorf("%s: %w: %q", fn, ErrMalformedResponse, raw)
	}

	switch status {
	case "ok":
		if len(reply) < 2 || string(reply[1]) == "null" {
			return nil, nil
		}
		return reply[1], nil
	case "error":
		msg := "unknown error"
		if len(reply) > 1 {
			_ = json.Unmarshal(reply[1], &msg)
		}
		return nil, fmt.Errorf("%s: %w: %s", fn, ErrHost, msg)
	default:
		return nil, fmt.Errorf("%s: %w: status %q", fn, ErrMalformedResponse, status)
	}
}

func (c *Client) requestHandle(fn string, args ...string) (engine.Handle, error) {
	payload, err := c.request(fn, args...)
	if err != nil {
		return engine.NoHandle, err
	}
	var h int
	if payload == nil || json.Unmarshal(payload, &h) != nil {
		return engine.NoHandle, fmt.Errorf("%s: %w: want entity index", fn, ErrMalformedResponse)
	}
	return engine.Handle(h), nil
}

func (c *Client) Spawn(spec engine.SpawnSpec) (engine.Handle, error) {
	return c.requestHandle(FnSpawn,
		formatPosition(spec.Origin),
		spec.Model,
		formatColor(spec.Color),
		strconv.FormatBool(spec.Glow),
		strconv.Itoa(spec.GlowDistance),
	)
}

func (c *Client) Remove(h engine.Handle) error {
	_, err := c.request(FnRemove, strconv.Itoa(int(h)))
	return err
}

func (c *Client) CreateBox(origin, halfExtents core.Position3D) (engine.Handle, error) {
	return c.requestHandle(FnTriggerBox, formatPosition(origin), formatPosition(halfExtents))
}

// CastDown reports a miss both for a null hit and for a failed request.
func (c *Client) CastDown(origin core.Position3D) (core.Position3D, bool) {
	payload, err := c.request(FnTraceDown, formatPosition(origin))
	if err != nil || payload == nil {
		return core.Position3D{}, false
	}
	var xyz []float64
	if err := json.Unmarshal(payload, &xyz); err != nil || len(xyz) != 3 {
		return core.Position3D{}, false
	}
	return core.Position3D{X: xyz[0], Y: xyz[1], Z: xyz[2]}, true
}

// playerInfo is the host's description of a player.
type playerInfo struct {
	Index  int        `json:"index"`
	UserID int        `json:"userid"`
	Name   string     `json:"name"`
	Team   int        `json:"team"`
	Origin [3]float64 `json:"origin"`
}

// remotePlayer is a connected player whose team and position are queried
// from the host on every read, falling back to the last known values.
type remotePlayer struct {
	c    *Client
	info playerInfo
}

func (p *remotePlayer) Index() int   { return p.info.Index }
func (p *remotePlayer) UserID() int  { return p.info.UserID }
func (p *remotePlayer) Name() string { return p.info.Name }

func (p *remotePlayer) TeamNumber() int {
	p.refresh()
	return p.info.Team
}

func (p *remotePlayer) Origin() core.Position3D {
	p.refresh()
	o := p.info.Origin
	return core.Position3D{X: o[0], Y: o[1], Z: o[2]}
}

func (p *remotePlayer) refresh() {
	info, ok, err := p.c.playerInfo(FnPlayer, p.info.Index)
	if err != nil || !ok || info.UserID != p.info.UserID {
		return
	}
	p.info = info
}

func (c *Client) playerInfo(fn string, key int) (playerInfo, bool, error) {
	payload, err := c.request(fn, strconv.Itoa(key))
	if err != nil {
		return playerInfo{}, false, err
	}
	if payload == nil {
		return playerInfo{}, false, nil
	}
	var info playerInfo
	if err := json.Unmarshal(payload, &info); err != nil {
		return playerInfo{}, false, fmt.Errorf("%s: %w: %v", fn, ErrMalformedResponse, err)
	}
	return info, true, nil
}

func (c *Client) Player(index int) (engine.Player, bool) {
	info, ok, err := c.playerInfo(FnPlayer, index)
	if err != nil || !ok {
		return nil, false
	}
	return &remotePlayer{c: c, info: info}, true
}

func (c *Client) ByUserID(userID int) (engine.Player, bool) {
	info, ok, err := c.playerInfo(FnPlayerByUserID, userID)
	if err != nil || !ok {
		return nil, false
	}
	return &remotePlayer{c: c, info: info}, true
}

func (c *Client) All() []engine.Player {
	payload, err := c.request(FnPlayers)
	if err != nil || payload == nil {
		return nil
	}
	var infos []playerInfo
	if err := json.Unmarshal(payload, &infos); err != nil {
		return nil
	}
	out := make([]engine.Player, 0, len(infos))
	for _, info := range infos {
		out = append(out, &remotePlayer{c: c, info: info})
	}
	return out
}

func (c *Client) Chat(recipients []int, text string) error {
	if nobody(recipients) {
		return nil
	}
	_, err := c.request(FnChat, formatRecipients(recipients), text)
	return err
}

func (c *Client) Hud(recipients []int, text string, style engine.HudStyle) error {
	if nobody(recipients) {
		return nil
	}
	data, err := json.Marshal(hudStyle{
		Color:    [3]uint8{style.Color.R, style.Color.G, style.Color.B},
		X:        style.X,
		Y:        style.Y,
		Effect:   style.Effect,
		FadeIn:   style.FadeIn,
		FadeOut:  style.FadeOut,
		HoldTime: style.HoldTime,
		FxTime:   style.FxTime,
		Channel:  style.Channel,
	})
	if err != nil {
		return err
	}
	_, err = c.request(FnHud, formatRecipients(recipients), text, string(data))
	return err
}

func (c *Client) Play(sound string, recipients []int) error {
	if nobody(recipients) {
		return nil
	}
	_, err := c.request(FnSound, sound, formatRecipients(recipients))
	return err
}

func (c *Client) TerminateRound(reason core.WinCondition) error {
	_, err := c.request(FnTerminateRound, strconv.Itoa(int(reason)))
	return err
}

type hudStyle struct {
	Color    [3]uint8 `json:"color"`
	X        float64  `json:"x"`
	Y        float64  `json:"y"`
	Effect   int      `json:"effect"`
	FadeIn   float64  `json:"fadeIn"`
	FadeOut  float64  `json:"fadeOut"`
	HoldTime float64  `json:"holdTime"`
	FxTime   float64  `json:"fxTime"`
	Channel  int      `json:"channel"`
}

func formatPosition(p core.Position3D) string {
	return strings.Join([]string{
		strconv.FormatFloat(p.X, 'f', -1, 64),
		strconv.FormatFloat(p.Y, 'f', -1, 64),
		strconv.FormatFloat(p.Z, 'f', -1, 64),
	}, ",")
}

func formatColor(c engine.Color) string {
	return fmt.Sprintf("%d,%d,%d", c.R, c.G, c.B)
}

// nobody reports an explicit empty recipient list. A nil list means everybody.
func nobody(recipients []int) bool {
	return recipients != nil && len(recipients) == 0
}

// formatRecipients joins player indexes; an empty string addresses everybody.
func formatRecipients(recipients []int) string {
	parts := make([]string, len(recipients))
	for i, r := range recipients {
		parts[i] = strconv.Itoa(r)
	}
	return strings.Join(parts, ",")
}
