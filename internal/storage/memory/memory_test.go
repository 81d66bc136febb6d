package memory

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctfmode/extension/internal/config"
	"github.com/ctfmode/extension/pkg/core"
)

var start = time.Date(2024, 6, 1, 20, 0, 0, 0, time.UTC)

func newTestBackend(t *testing.T, compress bool) *Backend {
	t.Helper()
	b := New(config.MemoryConfig{OutputDir: t.TempDir(), CompressOutput: compress}, "1.2.3")
	b.now = func() time.Time { return start.Add(10 * time.Minute) }
	require.NoError(t, b.Init())
	return b
}

func recordMatch(t *testing.T, b *Backend) {
	t.Helper()
	info := &core.MatchInfo{MapName: "ctf map:one", StartedAt: start, CapsToWin: 2, HasFlags: true,
		CaptureZones: map[core.Team]string{core.TeamRed: "LINESTRING(0 0,4 0,4 2,0 2,0 0)"}}
	require.NoError(t, b.StartMatch(info))
	assert.Equal(t, uint(1), info.ID)

	require.NoError(t, b.RecordRoundEvent(&core.RoundEvent{Time: start, Round: 1, Kind: core.RoundStarted,
		Scores: map[core.Team]int{core.TeamRed: 0, core.TeamBlue: 0}}))

	for i := 0; i < 2; i++ {
		require.NoError(t, b.RecordFlagEvent(&core.FlagEvent{
			Time: start.Add(time.Duration(i+1) * time.Minute), Round: 1,
			FlagTeam: core.TeamBlue, Action: core.ActionStolen,
			PlayerIndex: 3, PlayerName: "Alpha", PlayerTeam: core.TeamRed,
		}))
		require.NoError(t, b.RecordFlagEvent(&core.FlagEvent{
			Time: start.Add(time.Duration(i+1)*time.Minute + 30*time.Second), Round: 1,
			FlagTeam: core.TeamBlue, Action: core.ActionCaptured,
			PlayerIndex: 3, PlayerName: "Alpha", PlayerTeam: core.TeamRed,
			Position: core.Position3D{X: 1, Y: 2, Z: 3},
		}))
	}
	require.NoError(t, b.RecordFlagEvent(&core.FlagEvent{
		Time: start.Add(5 * time.Minute), Round: 1,
		FlagTeam: core.TeamRed, Action: core.ActionReturned, PlayerIndex: -1,
	}))
	require.NoError(t, b.RecordRoundEvent(&core.RoundEvent{Time: start.Add(6 * time.Minute), Round: 1,
		Kind: core.RoundWon, Winner: core.TeamRed,
		Scores: map[core.Team]int{core.TeamRed: 2, core.TeamBlue: 0}}))
}

func TestRecord_AssignsIDs(t *testing.T) {
	b := newTestBackend(t, false)
	require.NoError(t, b.StartMatch(&core.MatchInfo{MapName: "ctf_a", StartedAt: start}))

	e1 := &core.FlagEvent{Action: core.ActionStolen}
	e2 := &core.RoundEvent{Kind: core.RoundStarted}
	require.NoError(t, b.RecordFlagEvent(e1))
	require.NoError(t, b.RecordRoundEvent(e2))

	assert.Equal(t, uint(1), e1.ID)
	assert.Equal(t, uint(2), e2.ID)
	assert.Equal(t, 1, b.FlagEventCount())
	assert.Equal(t, 1, b.RoundEventCount())
}

func TestStartMatch_KeepsExistingID(t *testing.T) {
	b := newTestBackend(t, false)
	info := &core.MatchInfo{ID: 42, MapName: "ctf_a"}
	require.NoError(t, b.StartMatch(info))
	assert.Equal(t, uint(42), info.ID)

	m, ok := b.Match()
	require.True(t, ok)
	assert.Equal(t, "ctf_a", m.MapName)
}

func TestRecordRoundEvent_CopiesScores(t *testing.T) {
	b := newTestBackend(t, false)
	require.NoError(t, b.StartMatch(&core.MatchInfo{MapName: "ctf_a", StartedAt: start}))

	scores := map[core.Team]int{core.TeamRed: 1}
	require.NoError(t, b.RecordRoundEvent(&core.RoundEvent{Kind: core.RoundEnded, Scores: scores}))
	scores[core.TeamRed] = 99

	require.NoError(t, b.EndMatch())
	export, err := ReadExport(b.LastExportPath())
	require.NoError(t, err)
	require.Len(t, export.Rounds, 1)
	assert.Equal(t, 1, export.Rounds[0].Scores["RED"])
}

func TestEndMatch_ExportsJSON(t *testing.T) {
	b := newTestBackend(t, false)
	recordMatch(t, b)
	require.NoError(t, b.EndMatch())

	path := b.LastExportPath()
	assert.Equal(t, "ctf_map_one_20240601_200000.json", filepath.Base(path))

	export, err := ReadExport(path)
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", export.ExtensionVersion)
	assert.Equal(t, "ctf map:one", export.MapName)
	assert.True(t, start.Add(10*time.Minute).Equal(export.EndedAt))
	assert.Equal(t, 2, export.CapsToWin)
	assert.Len(t, export.Rounds, 2)
	assert.Equal(t, "RED", export.Rounds[1].Winner)
	assert.Len(t, export.FlagEvents, 5)
	assert.Equal(t, [3]float64{1, 2, 3}, export.FlagEvents[1].Position)
	assert.Equal(t, "", export.FlagEvents[4].PlayerTeam)
	assert.Equal(t, []PlayerCaptures{{PlayerName: "Alpha", Team: "RED", Captures: 2}}, export.Captures)
	assert.Equal(t, map[string]string{"RED": "LINESTRING(0 0,4 0,4 2,0 2,0 0)"}, export.CaptureZones)

	_, ok := b.Match()
	assert.False(t, ok)
	assert.Equal(t, 0, b.FlagEventCount())
}

func TestEndMatch_Gzip(t *testing.T) {
	b := newTestBackend(t, true)
	recordMatch(t, b)
	require.NoError(t, b.EndMatch())

	path := b.LastExportPath()
	assert.Equal(t, ".gz", filepath.Ext(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x1f, 0x8b}, raw[:2])

	export, err := ReadExport(path)
	require.NoError(t, err)
	assert.Len(t, export.FlagEvents, 5)
}

func TestEndMatch_WithoutMatch(t *testing.T) {
	b := newTestBackend(t, false)
	require.NoError(t, b.EndMatch())
	assert.Equal(t, "", b.LastExportPath())
}

func TestClose_ExportsOpenMatch(t *testing.T) {
	b := newTestBackend(t, false)
	recordMatch(t, b)
	require.NoError(t, b.Close())
	assert.NotEmpty(t, b.LastExportPath())
}

func TestReadExport_Missing(t *testing.T) {
	_, err := ReadExport(filepath.Join(t.TempDir(), "none.json"))
	require.Error(t, err)
}
