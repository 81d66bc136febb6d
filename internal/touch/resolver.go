package touch

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ctfmode/extension/internal/engine"
	"github.com/ctfmode/extension/internal/flag"
	"github.com/ctfmode/extension/internal/session"
	"github.com/ctfmode/extension/pkg/core"
)

// Board is the match state a touch resolves against.
type Board interface {
	Flag(team core.Team) (*flag.Flag, bool)
	FlagByEntity(h engine.Handle) (*flag.Flag, bool)
	FlagByZone(h engine.Handle) (*flag.Flag, bool)
	RoundOver() bool
}

// Sessions looks up tracked players.
type Sessions interface {
	Get(index int) (*session.Session, bool)
}

// Rules are the gameplay switches that shape resolution.
type Rules struct {
	TeamCanReturnFlag         bool
	CappingRequiresFlagAtBase bool
	IgnoreAfterRoundEnd       bool
	DropCooldown              time.Duration
}

// Resolution describes what a touch did. An empty Action means the touch was
// discarded; Reason says why.
type Resolution struct {
	Kind   Kind
	Action core.FlagAction
	Flag   core.Team
	Player int
	Reason string
}

// Resolver correlates entry and exit calls and dispatches the result.
type Resolver struct {
	corr     *Correlator
	sessions Sessions
	board    Board
	rules    Rules
	now      func() time.Time
	log      *slog.Logger
}

// NewResolver creates a resolver over sessions. Touches are discarded until a
// board is bound.
func NewResolver(sessions Sessions, rules Rules, now func() time.Time, logger *slog.Logger) *Resolver {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		corr:     NewCorrelator(),
		sessions: sessions,
		rules:    rules,
		now:      now,
		log:      logger,
	}
}

// Bind switches the resolver to board. A nil board disables resolution.
func (r *Resolver) Bind(board Board) {
	r.board = board
}

// SetRules replaces the gameplay switches.
func (r *Resolver) SetRules(rules Rules) {
	r.rules = rules
}

// Correlator exposes the pending tables.
func (r *Resolver) Correlator() *Correlator {
	return r.corr
}

// Enter records the raw indexes of a touch on entity by other.
func (r *Resolver) Enter(kind Kind, entity, other int) Token {
	return r.corr.Enter(kind, Pair{Entity: entity, Other: other})
}

// Exit pops the touch stored under token and applies it. A missing token is
// an entry/exit pairing bug and is returned as ErrUnknownToken. Touches that
// do not concern a playing member of a team are discarded without error.
func (r *Resolver) Exit(kind Kind, token Token) (Resolution, error) {
	pair, err := r.corr.Exit(kind, token)
	if err != nil {
		return Resolution{Kind: kind}, err
	}

	res := Resolution{Kind: kind, Player: pair.Other}
	discard := func(reason string) (Resolution, error) {
		res.Reason = reason
		r.log.Debug("touch discarded", "kind", kind.String(), "entity", pair.Entity, "other", pair.Other, "reason", reason)
		return res, nil
	}

	if r.board == nil {
		return discard("no active map")
	}
	if r.rules.IgnoreAfterRoundEnd && r.board.RoundOver() {
		return discard("round over")
	}
	s, ok := r.sessions.Get(pair.Other)
	if !ok {
		return discard("not a player")
	}
	team, ok := s.Team()
	if !ok {
		return discard("no team")
	}

	switch kind {
	case KindFlag:
		return r.flagTouch(res, pair, s, team, discard)
	case KindZone:
		return r.zoneTouch(res, pair, s, team, discard)
	default:
		return res, fmt.Errorf("unsupported touch kind %s", kind)
	}
}

type discardFunc func(reason string) (Resolution, error)

func (r *Resolver) flagTouch(res Resolution, pair Pair, s *session.Session, team core.Team, discard discardFunc) (Resolution, error) {
	if s.InCooldown(r.now(), r.rules.DropCooldown) {
		return discard("self-drop cooldown")
	}
	f, ok := r.board.FlagByEntity(engine.Handle(pair.Entity))
	if !ok {
		return discard("not a flag")
	}
	res.Flag = f.Team()

	if team != f.Team() {
		if err := f.Steal(s); err != nil {
			return res, err
		}
		res.Action = core.ActionStolen
		return res, nil
	}

	if !r.rules.TeamCanReturnFlag {
		return discard("own flag")
	}
	if f.State() != core.Dropped {
		return discard("own flag not dropped")
	}
	if err := f.Return(s); err != nil {
		return res, err
	}
	res.Action = core.ActionReturned
	return res, nil
}

func (r *Resolver) zoneTouch(res Resolution, pair Pair, s *session.Session, team core.Team, discard discardFunc) (Resolution, error) {
	f, ok := r.board.FlagByZone(engine.Handle(pair.Entity))
	if !ok {
		return discard("not a capture zone")
	}
	res.Flag = f.Team()

	c := f.Carrier()
	if c == nil || c.Index() != s.Index() {
		return discard("not carrying this flag")
	}
	if r.rules.CappingRequiresFlagAtBase {
		own, ok := r.board.Flag(team)
		if !ok || own.State() != core.AtBase {
			return discard("own flag away")
		}
	}
	if err := f.Capture(); err != nil {
		return res, err
	}
	res.Action = core.ActionCaptured
	return res, nil
}
