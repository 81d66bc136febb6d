// pkg/core/events.go
package core

import "time"

// FlagAction names a flag state transition.
type FlagAction string

const (
	ActionStolen   FlagAction = "stolen"
	ActionDropped  FlagAction = "dropped"
	ActionReturned FlagAction = "returned"
	ActionCaptured FlagAction = "captured"
)

// FlagEvent records one flag transition.
// PlayerIndex is -1 when no player triggered the transition (timed return).
type FlagEvent struct {
	ID          uint
	Time        time.Time
	MapName     string
	Round       uint
	FlagTeam    Team
	Action      FlagAction
	PlayerIndex int
	PlayerName  string
	PlayerTeam  Team
	Position    Position3D
}

// RoundEventKind names a round transition.
type RoundEventKind string

const (
	RoundStarted RoundEventKind = "start"
	RoundEnded   RoundEventKind = "end"
	RoundWon     RoundEventKind = "victory"
)

// RoundEvent records a round transition and the scores at that moment.
type RoundEvent struct {
	ID      uint
	Time    time.Time
	MapName string
	Round   uint
	Kind    RoundEventKind
	Winner  Team
	Scores  map[Team]int
}

// MatchInfo describes one map's match, from level init to shutdown.
type MatchInfo struct {
	ID        uint
	MapName   string
	StartedAt time.Time
	CapsToWin int
	HasFlags  bool
	// CaptureZones holds the ground outline of each team's capture zone as WKT.
	CaptureZones map[Team]string
}

// UploadMetadata describes an exported match file sent to the stats service.
type UploadMetadata struct {
	MapName  string
	MatchID  uint
	Duration time.Duration
	Tag      string
}
