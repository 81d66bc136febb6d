package match

import (
	"context"
	"fmt"
	"time"

	"github.com/ctfmode/extension/internal/flag"
	"github.com/ctfmode/extension/internal/lang"
	"github.com/ctfmode/extension/pkg/core"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// FlagStolen implements flag.Listener.
func (m *Match) FlagStolen(f *flag.Flag, by flag.Carrier) {
	m.flagEvent(f, core.ActionStolen, lang.KeyFlagStolen, by, by.Origin())
}

// FlagDropped implements flag.Listener.
func (m *Match) FlagDropped(f *flag.Flag, by flag.Carrier, at core.Position3D) {
	m.flagEvent(f, core.ActionDropped, lang.KeyFlagDropped, by, at)
}

// FlagReturned implements flag.Listener.
func (m *Match) FlagReturned(f *flag.Flag, by flag.Carrier) {
	key := lang.KeyFlagReturned
	if by != nil {
		key = lang.KeyFlagReturnedPlayer
	}
	m.flagEvent(f, core.ActionReturned, key, by, f.Home())
}

// FlagCaptured implements flag.Listener.
func (m *Match) FlagCaptured(f *flag.Flag, by flag.Carrier) {
	m.flagEvent(f, core.ActionCaptured, lang.KeyFlagCaptured, by, by.Origin())
}

func (m *Match) flagEvent(f *flag.Flag, action core.FlagAction, key string, by flag.Carrier, at core.Position3D) {
	m.announce(f, key, by)
	m.playSounds(f, action)

	m.metrics.flagActions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("flag", f.Team().String()),
		attribute.String("action", string(action)),
	))

	if m.deps.Recorder == nil {
		return
	}
	e := &core.FlagEvent{
		Time:        m.deps.Services.Now(),
		MapName:     m.mapName,
		Round:       m.Round(),
		FlagTeam:    f.Team(),
		Action:      action,
		PlayerIndex: -1,
		Position:    at,
	}
	if by != nil {
		e.PlayerIndex = by.Index()
		e.PlayerName = by.Name()
		if team, ok := by.Team(); ok {
			e.PlayerTeam = team
		}
	}
	if err := m.deps.Recorder.RecordFlagEvent(e); err != nil {
		m.log.Warn("failed to record flag event", "action", string(action), "error", err)
	}
}

// announce broadcasts key as a tagged chat line and an uncolored HUD line.
func (m *Match) announce(f *flag.Flag, key string, by flag.Carrier) {
	cat := m.catalog()
	tokens := lang.Tokens{"flag": cat.Text(lang.FlagNameKey(f.Team().String()), nil)}
	if by != nil {
		tokens["player"] = by.Name()
	}
	msg := cat.Text(key, tokens)

	m.chat(nil, cat.Tagged(msg))
	if err := m.deps.Services.Messenger.Hud(nil, cat.StripColors(msg), AnnouncementStyle); err != nil {
		m.log.Warn("failed to send hud message", "error", err)
	}
}

// playSounds plays the team cue to the flag's team and the enemy cue to
// everybody else.
func (m *Match) playSounds(f *flag.Flag, action core.FlagAction) {
	pair, ok := m.cfg.Sounds[action]
	if !ok || m.deps.Sessions == nil {
		return
	}
	members, others := m.deps.Sessions.Split(f.Team())
	m.play(pair.Team, members)
	m.play(pair.Enemy, others)
}

func (m *Match) play(sound string, recipients []int) {
	if sound == "" || len(recipients) == 0 {
		return
	}
	if err := m.deps.Services.Audio.Play(sound, recipients); err != nil {
		m.log.Warn("failed to play sound", "sound", sound, "error", err)
	}
}

func (m *Match) chat(recipients []int, text string) {
	if err := m.deps.Services.Messenger.Chat(recipients, text); err != nil {
		m.log.Warn("failed to send chat message", "error", err)
	}
}

func (m *Match) recordRound(kind core.RoundEventKind, winner core.Team) {
	if m.deps.Recorder == nil {
		return
	}
	e := &core.RoundEvent{
		Time:    m.deps.Services.Now(),
		MapName: m.mapName,
		Round:   m.Round(),
		Kind:    kind,
		Winner:  winner,
		Scores:  m.Scores(),
	}
	if err := m.deps.Recorder.RecordRoundEvent(e); err != nil {
		m.log.Warn("failed to record round event", "kind", string(kind), "error", err)
	}
}

// FlagLocation describes where f is, in the catalog's language.
func (m *Match) FlagLocation(f *flag.Flag, now time.Time) string {
	cat := m.catalog()
	switch f.State() {
	case core.Stolen:
		return cat.Text(lang.KeyLocationPlayer, lang.Tokens{"player": f.Carrier().Name()})
	case core.Dropped:
		secs := f.ReturnsIn(now).Seconds()
		return cat.Text(lang.KeyLocationDropped, lang.Tokens{"time": fmt.Sprintf("%.0f", secs)})
	default:
		return cat.Text(lang.KeyLocationHome, nil)
	}
}

// StatusLine renders the scores and both flags' locations for the HUD. It is
// empty on maps without flags.
func (m *Match) StatusLine(now time.Time) string {
	red, okRed := m.flags[core.TeamRed]
	blue, okBlue := m.flags[core.TeamBlue]
	if !okRed || !okBlue {
		return ""
	}
	cat := m.catalog()
	return cat.StripColors(cat.Text(lang.KeyFlagStats, lang.Tokens{
		"red_points":  fmt.Sprint(m.scores[core.TeamRed]),
		"red_flag":    m.FlagLocation(red, now),
		"blue_points": fmt.Sprint(m.scores[core.TeamBlue]),
		"blue_flag":   m.FlagLocation(blue, now),
	}))
}
