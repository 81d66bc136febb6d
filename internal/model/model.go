package model

import (
	"encoding/json"
	"fmt"
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ctfmode/extension/internal/geo"
	"github.com/ctfmode/extension/pkg/core"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&ServerInfo{},
	&Match{},
	&FlagEvent{},
	&RoundEvent{},
}

// ServerInfo identifies the server group owning the recorded matches
type ServerInfo struct {
	gorm.Model
	GroupName        string `json:"groupName" gorm:"size:127"`
	GroupDescription string `json:"groupDescription" gorm:"size:255"`
	GroupWebsite     string `json:"groupURL" gorm:"size:255"`
}

func (*ServerInfo) TableName() string {
	return "server_infos"
}

// Match is one map session from level init to shutdown
type Match struct {
	gorm.Model
	MapName   string     `json:"mapName" gorm:"size:128;index:idx_match_map_name"`
	StartedAt time.Time  `json:"startedAt" gorm:"index:idx_match_start"`
	EndedAt   *time.Time `json:"endedAt"`
	CapsToWin int        `json:"capsToWin"`
	HasFlags  bool       `json:"hasFlags"`

	FlagEvents  []FlagEvent
	RoundEvents []RoundEvent
}

func (*Match) TableName() string {
	return "matches"
}

// FlagEvent is one flag transition.
//
// Host Command: :TOUCH:FLAG:EXIT:, :TOUCH:ZONE:EXIT:, :PLAYER:DEATH:, :SAY:DROPFLAG:
type FlagEvent struct {
	ID          uint       `json:"id" gorm:"primarykey;autoIncrement;"`
	Time        time.Time  `json:"time" gorm:"index:idx_flagevent_time"`
	MatchID     uint       `json:"matchId" gorm:"index:idx_flagevent_match_id"`
	Match       Match      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:MatchID;"`
	Round       uint       `json:"round"`
	FlagTeam    string     `json:"flagTeam" gorm:"size:8"`
	Action      string     `json:"action" gorm:"size:16;index:idx_flagevent_action"`
	PlayerIndex int        `json:"playerIndex" gorm:"default:-1"`
	PlayerName  string     `json:"playerName" gorm:"size:64"`
	PlayerTeam  string     `json:"playerTeam" gorm:"size:8"`
	Position    geom.Point `json:"position"` // 3D point in engine units
}

func (*FlagEvent) TableName() string {
	return "flag_events"
}

// RoundEvent is a round transition with the scores at that moment
type RoundEvent struct {
	ID      uint           `json:"id" gorm:"primarykey;autoIncrement;"`
	Time    time.Time      `json:"time" gorm:"index:idx_roundevent_time"`
	MatchID uint           `json:"matchId" gorm:"index:idx_roundevent_match_id"`
	Match   Match          `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:MatchID;"`
	Round   uint           `json:"round"`
	Kind    string         `json:"kind" gorm:"size:16"`
	Winner  string         `json:"winner" gorm:"size:8"`
	Scores  datatypes.JSON `json:"scores"`
}

func (*RoundEvent) TableName() string {
	return "round_events"
}

// teamName returns "" for TeamNone so unset columns stay empty.
func teamName(t core.Team) string {
	if t == core.TeamNone {
		return ""
	}
	return t.String()
}

// ParseTeam is the inverse of the team names stored in the tables.
func ParseTeam(s string) core.Team {
	switch s {
	case "RED":
		return core.TeamRed
	case "BLUE":
		return core.TeamBlue
	default:
		return core.TeamNone
	}
}

// NewMatch converts a match description to its table row.
func NewMatch(m core.MatchInfo) Match {
	return Match{
		MapName:   m.MapName,
		StartedAt: m.StartedAt,
		CapsToWin: m.CapsToWin,
		HasFlags:  m.HasFlags,
	}
}

// NewFlagEvent converts a recorded flag transition to its table row.
func NewFlagEvent(matchID uint, e core.FlagEvent) FlagEvent {
	return FlagEvent{
		Time:        e.Time,
		MatchID:     matchID,
		Round:       e.Round,
		FlagTeam:    teamName(e.FlagTeam),
		Action:      string(e.Action),
		PlayerIndex: e.PlayerIndex,
		PlayerName:  e.PlayerName,
		PlayerTeam:  teamName(e.PlayerTeam),
		Position:    geo.PointFromPosition(e.Position),
	}
}

// Core converts the row back to the recorded event.
func (f FlagEvent) Core() core.FlagEvent {
	pos, _ := geo.PositionFromPoint(f.Position)
	return core.FlagEvent{
		ID:          f.ID,
		Time:        f.Time,
		Round:       f.Round,
		FlagTeam:    ParseTeam(f.FlagTeam),
		Action:      core.FlagAction(f.Action),
		PlayerIndex: f.PlayerIndex,
		PlayerName:  f.PlayerName,
		PlayerTeam:  ParseTeam(f.PlayerTeam),
		Position:    pos,
	}
}

// NewRoundEvent converts a recorded round transition to its table row.
func NewRoundEvent(matchID uint, e core.RoundEvent) (RoundEvent, error) {
	scores := make(map[string]int, len(e.Scores))
	for team, n := range e.Scores {
		scores[team.String()] = n
	}
	raw, err := json.Marshal(scores)
	if err != nil {
		return RoundEvent{}, fmt.Errorf("encoding scores: %w", err)
	}
	return RoundEvent{
		Time:    e.Time,
		MatchID: matchID,
		Round:   e.Round,
		Kind:    string(e.Kind),
		Winner:  teamName(e.Winner),
		Scores:  datatypes.JSON(raw),
	}, nil
}

// Core converts the row back to the recorded event.
func (r RoundEvent) Core() (core.RoundEvent, error) {
	var scores map[string]int
	if len(r.Scores) > 0 {
		if err := json.Unmarshal(r.Scores, &scores); err != nil {
			return core.RoundEvent{}, fmt.Errorf("decoding scores of round event %d: %w", r.ID, err)
		}
	}
	out := core.RoundEvent{
		ID:     r.ID,
		Time:   r.Time,
		Round:  r.Round,
		Kind:   core.RoundEventKind(r.Kind),
		Winner: ParseTeam(r.Winner),
		Scores: make(map[core.Team]int, len(scores)),
	}
	for name, n := range scores {
		out.Scores[ParseTeam(name)] = n
	}
	return out, nil
}
