// pkg/core/team.go
package core

import "fmt"

// Team is a playing side. Values match the engine's team numbers.
type Team int

const (
	TeamNone Team = 0
	TeamRed  Team = 2
	TeamBlue Team = 3
)

// Teams lists the teams that own a flag, in display order.
var Teams = []Team{TeamRed, TeamBlue}

// TeamFromEngine resolves an engine team number. Spectators and unassigned
// players do not resolve.
func TeamFromEngine(n int) (Team, bool) {
	switch Team(n) {
	case TeamRed, TeamBlue:
		return Team(n), true
	default:
		return TeamNone, false
	}
}

// Opponent returns the other flag-owning team.
func (t Team) Opponent() Team {
	switch t {
	case TeamRed:
		return TeamBlue
	case TeamBlue:
		return TeamRed
	default:
		return TeamNone
	}
}

// Valid reports whether t owns a flag.
func (t Team) Valid() bool {
	return t == TeamRed || t == TeamBlue
}

func (t Team) String() string {
	switch t {
	case TeamRed:
		return "RED"
	case TeamBlue:
		return "BLUE"
	case TeamNone:
		return "NONE"
	default:
		return fmt.Sprintf("Team(%d)", int(t))
	}
}

// FlagState is the lifecycle state of a flag.
type FlagState int

const (
	AtBase FlagState = iota
	Stolen
	Dropped
)

func (s FlagState) String() string {
	switch s {
	case AtBase:
		return "AT_BASE"
	case Stolen:
		return "STOLEN"
	case Dropped:
		return "DROPPED"
	default:
		return fmt.Sprintf("FlagState(%d)", int(s))
	}
}

// WinCondition is the reason code handed to the engine when a round is
// terminated.
type WinCondition int

const (
	WinBlue WinCondition = 7 // counter-terrorists win
	WinRed  WinCondition = 8 // terrorists win
	WinDraw WinCondition = 9
)

// WinConditionFor returns the termination code for a round won by team.
// Anything that is not a flag-owning team is a draw.
func WinConditionFor(team Team) WinCondition {
	switch team {
	case TeamRed:
		return WinRed
	case TeamBlue:
		return WinBlue
	default:
		return WinDraw
	}
}
