package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctfmode/extension/pkg/core"
)

func TestTableNames(t *testing.T) {
	tests := []struct {
		name     string
		model    interface{ TableName() string }
		expected string
	}{
		{"ServerInfo", &ServerInfo{}, "server_infos"},
		{"Match", &Match{}, "matches"},
		{"FlagEvent", &FlagEvent{}, "flag_events"},
		{"RoundEvent", &RoundEvent{}, "round_events"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.model.TableName())
		})
	}
}

func TestDatabaseModels_CoverTables(t *testing.T) {
	assert.Len(t, DatabaseModels, 4)
}

func TestFlagEvent_RoundTrip(t *testing.T) {
	at := time.Date(2024, 6, 1, 20, 0, 5, 0, time.UTC)
	in := core.FlagEvent{
		Time:        at,
		Round:       2,
		FlagTeam:    core.TeamRed,
		Action:      core.ActionStolen,
		PlayerIndex: 4,
		PlayerName:  "Bravo",
		PlayerTeam:  core.TeamBlue,
		Position:    core.Position3D{X: 100, Y: -25.5, Z: 12},
	}

	row := NewFlagEvent(7, in)
	assert.Equal(t, uint(7), row.MatchID)
	assert.Equal(t, "RED", row.FlagTeam)
	assert.Equal(t, "BLUE", row.PlayerTeam)
	assert.Equal(t, "stolen", row.Action)

	out := row.Core()
	assert.Equal(t, in, out)
}

func TestFlagEvent_TimedReturnHasNoPlayerTeam(t *testing.T) {
	row := NewFlagEvent(1, core.FlagEvent{
		FlagTeam:    core.TeamBlue,
		Action:      core.ActionReturned,
		PlayerIndex: -1,
	})
	assert.Equal(t, "", row.PlayerTeam)
	assert.Equal(t, core.TeamNone, row.Core().PlayerTeam)
}

func TestRoundEvent_Scores(t *testing.T) {
	row, err := NewRoundEvent(3, core.RoundEvent{
		Round:  1,
		Kind:   core.RoundWon,
		Winner: core.TeamRed,
		Scores: map[core.Team]int{core.TeamRed: 3, core.TeamBlue: 1},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"RED":3,"BLUE":1}`, string(row.Scores))
	assert.Equal(t, "RED", row.Winner)

	out, err := row.Core()
	require.NoError(t, err)
	assert.Equal(t, core.RoundWon, out.Kind)
	assert.Equal(t, 3, out.Scores[core.TeamRed])
	assert.Equal(t, 1, out.Scores[core.TeamBlue])
}

func TestRoundEvent_BadScores(t *testing.T) {
	_, err := RoundEvent{ID: 9, Scores: []byte("{")}.Core()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "round event 9")
}

func TestParseTeam(t *testing.T) {
	assert.Equal(t, core.TeamRed, ParseTeam("RED"))
	assert.Equal(t, core.TeamBlue, ParseTeam("BLUE"))
	assert.Equal(t, core.TeamNone, ParseTeam(""))
	assert.Equal(t, core.TeamNone, ParseTeam("GREEN"))
}
