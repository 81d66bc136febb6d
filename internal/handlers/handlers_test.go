package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ctfmode/extension/internal/config"
	"github.com/ctfmode/extension/internal/dispatcher"
	"github.com/ctfmode/extension/internal/engine/enginetest"
	"github.com/ctfmode/extension/internal/lang"
	"github.com/ctfmode/extension/internal/level"
	"github.com/ctfmode/extension/internal/logging"
	"github.com/ctfmode/extension/internal/monitor"
	"github.com/ctfmode/extension/internal/session"
	"github.com/ctfmode/extension/internal/storage"
	"github.com/ctfmode/extension/internal/touch"
	"github.com/ctfmode/extension/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mapINI = `[red_flag]
origin = -1000, 0, 0
capture_zone_point1 = 950, -50, 0
capture_zone_point2 = 1050, 50, 100

[blue_flag]
origin = 1000, 0, 0
capture_zone_point1 = -950, -50, 0
capture_zone_point2 = -1050, 50, 100
`

// mockBackend implements storage.Backend and storage.Exporter for testing
type mockBackend struct {
	started    *core.MatchInfo
	ended      int
	flags      []*core.FlagEvent
	rounds     []*core.RoundEvent
	exportPath string
}

func (b *mockBackend) LastExportPath() string { return b.exportPath }

type upload struct {
	path string
	meta core.UploadMetadata
}

type fakeUploader struct {
	mu      sync.Mutex
	err     error
	uploads []upload
}

func (u *fakeUploader) Upload(path string, meta core.UploadMetadata) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.uploads = append(u.uploads, upload{path: path, meta: meta})
	return u.err
}

func (b *mockBackend) Init() error  { return nil }
func (b *mockBackend) Close() error { return nil }

func (b *mockBackend) StartMatch(info *core.MatchInfo) error {
	info.ID = 7
	b.started = info
	return nil
}

func (b *mockBackend) EndMatch() error {
	b.ended++
	return nil
}

func (b *mockBackend) RecordFlagEvent(e *core.FlagEvent) error {
	b.flags = append(b.flags, e)
	return nil
}

func (b *mockBackend) RecordRoundEvent(e *core.RoundEvent) error {
	b.rounds = append(b.rounds, e)
	return nil
}

var _ storage.Backend = (*mockBackend)(nil)

type fixture struct {
	h        *enginetest.Harness
	d        *dispatcher.Dispatcher
	lvl      *level.Context
	sessions *session.Tracker
	backend  *mockBackend
	uploader *fakeUploader
	svc      *Service
	flushed  int
}

func gameplay() config.GameplayConfig {
	return config.GameplayConfig{
		DroppedFlagReturnTimeout: 45 * time.Second,
		FlagsGlow:                true,
		CapsToWin:                3,
		AllowDropFlagCommand:     true,
		DropFlagCooldown:         2 * time.Second,
		StatusInterval:           time.Second,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ctf_test.ini"), []byte(mapINI), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ctf_broken.ini"), []byte("[red_flag]\norigin = 1, 2\n"), 0o644))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := enginetest.NewHarness()
	cat, err := lang.New("en", "csgo")
	require.NoError(t, err)

	lvl := level.NewContext()
	sessions := session.NewTracker(session.WithClock(h.Clock.Now))
	resolver := touch.NewResolver(sessions, TouchRules(gameplay()), h.Clock.Now, logger)
	mon := monitor.NewService(monitor.Dependencies{
		Level:     lvl,
		Messenger: h.Engine,
		Scheduler: h.Scheduler,
		Sessions:  sessions,
		Touches:   resolver.Correlator(),
		Now:       h.Clock.Now,
		Logger:    logger,
	})

	fx := &fixture{h: h, lvl: lvl, sessions: sessions, backend: &mockBackend{}, uploader: &fakeUploader{}}
	svc := NewService(Dependencies{
		Services:         h.Services(),
		Scheduler:        h.Scheduler,
		Level:            lvl,
		Sessions:         sessions,
		Resolver:         resolver,
		Monitor:          mon,
		Catalog:          cat,
		Storage:          fx.backend,
		MapDataDir:       dir,
		Gameplay:         gameplay(),
		Flag:             config.FlagConfig{Model: "models/flag.mdl", GlowDistance: 1000, Height: 12},
		ExtensionVersion: "1.2.3",
		BuildDate:        "2024-06-01",
		Uploader:         fx.uploader,
		UploadTag:        "public",
		Flush: func(ctx context.Context) error {
			fx.flushed++
			return nil
		},
		Logger: logger,
	})

	d, err := dispatcher.New(logging.NewDispatcherLogger(logger))
	require.NoError(t, err)
	svc.RegisterHandlers(d)
	fx.d = d
	fx.svc = svc
	return fx
}

func (fx *fixture) call(command string, args ...string) (any, error) {
	return fx.d.Dispatch(dispatcher.Event{Command: command, Args: args, Timestamp: time.Now()})
}

func (fx *fixture) mustCall(t *testing.T, command string, args ...string) any {
	t.Helper()
	result, err := fx.call(command, args...)
	require.NoError(t, err, command)
	return result
}

func (fx *fixture) addPlayer(t *testing.T, idx, team int, name string) {
	t.Helper()
	fx.h.Engine.AddPlayer(&enginetest.Player{Idx: idx, UID: idx + 100, Nick: name, TeamNum: team})
	fx.mustCall(t, ":PLAYER:JOIN:", itoa(idx))
}

// startRound loads ctf_test, joins a blue and a red player and starts a round.
func (fx *fixture) startRound(t *testing.T) {
	t.Helper()
	fx.mustCall(t, ":LEVEL:INIT:", `"ctf_test"`)
	fx.addPlayer(t, 1, 3, "Bravo")
	fx.addPlayer(t, 2, 2, "Alpha")
	fx.mustCall(t, ":ROUND:START:")
}

func (fx *fixture) touch(t *testing.T, kind string, entity, other int) any {
	t.Helper()
	token := fx.mustCall(t, ":TOUCH:"+kind+":ENTER:", itoa(entity), itoa(other))
	return fx.mustCall(t, ":TOUCH:"+kind+":EXIT:", utoa(token.(uint64)))
}

func (fx *fixture) redFlagEntity(t *testing.T) int {
	t.Helper()
	f, ok := fx.lvl.Match().Flag(core.TeamRed)
	require.True(t, ok)
	return int(f.EntityIndex())
}

func TestRegisterHandlers_Commands(t *testing.T) {
	fx := newFixture(t)

	assert.Equal(t, []string{
		":LEVEL:INIT:",
		":LEVEL:SHUTDOWN:",
		":PLAYER:DEATH:",
		":PLAYER:JOIN:",
		":PLAYER:LEAVE:",
		":ROUND:END:",
		":ROUND:START:",
		":SAY:DROPFLAG:",
		":STATUS:",
		":TICK:",
		":TOUCH:FLAG:ENTER:",
		":TOUCH:FLAG:EXIT:",
		":TOUCH:ZONE:ENTER:",
		":TOUCH:ZONE:EXIT:",
		":VERSION:",
	}, fx.d.Commands())
}

func TestVersion(t *testing.T) {
	fx := newFixture(t)
	assert.Equal(t, []string{"1.2.3", "2024-06-01"}, fx.mustCall(t, ":VERSION:"))
}

func TestLevelInit_LoadsMapData(t *testing.T) {
	fx := newFixture(t)

	result := fx.mustCall(t, ":LEVEL:INIT:", `"ctf_test"`)
	assert.Equal(t, true, result)
	assert.Equal(t, "ctf_test", fx.lvl.MapName())
	require.NotNil(t, fx.lvl.Match())
	assert.True(t, fx.lvl.Match().Active())

	require.NotNil(t, fx.backend.started)
	assert.Equal(t, "ctf_test", fx.backend.started.MapName)
	assert.True(t, fx.backend.started.HasFlags)
	assert.Equal(t, 3, fx.backend.started.CapsToWin)
	assert.Equal(t, "LINESTRING(950 -50,1050 -50,1050 50,950 50,950 -50)",
		fx.backend.started.CaptureZones[core.TeamRed])
	assert.Len(t, fx.backend.started.CaptureZones, 2)
}

func TestLevelInit_NoMapData(t *testing.T) {
	fx := newFixture(t)

	result := fx.mustCall(t, ":LEVEL:INIT:", "de_dust2")
	assert.Equal(t, false, result)
	require.NotNil(t, fx.lvl.Match())
	assert.False(t, fx.lvl.Match().Active())

	assert.Equal(t, uint(1), fx.mustCall(t, ":ROUND:START:"))
	assert.Empty(t, fx.h.Engine.Entities)
}

func TestLevelInit_BadMapDataLeavesFlagsInactive(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.call(":LEVEL:INIT:", "ctf_broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ctf_broken")
	require.NotNil(t, fx.lvl.Match())
	assert.False(t, fx.lvl.Match().Active())
}

func TestLevelInit_MissingArgs(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.call(":LEVEL:INIT:")
	assert.ErrorIs(t, err, dispatcher.ErrMissingArgs)

	_, err = fx.call(":LEVEL:INIT:", `""`)
	assert.ErrorIs(t, err, ErrBadArgument)
}

func TestLevelInit_ReplacesLoadedLevel(t *testing.T) {
	fx := newFixture(t)
	fx.mustCall(t, ":LEVEL:INIT:", "ctf_test")
	fx.mustCall(t, ":LEVEL:INIT:", "ctf_test")

	assert.Equal(t, 1, fx.backend.ended)
	assert.Equal(t, "ctf_test", fx.lvl.MapName())
}

func TestCommandsWithoutLevel(t *testing.T) {
	fx := newFixture(t)

	for _, cmd := range []struct {
		name string
		args []string
	}{
		{":ROUND:START:", nil},
		{":ROUND:END:", nil},
		{":PLAYER:DEATH:", []string{"101"}},
		{":SAY:DROPFLAG:", []string{"1"}},
	} {
		_, err := fx.call(cmd.name, cmd.args...)
		assert.ErrorIs(t, err, ErrNoLevel, cmd.name)
	}

	// shutting down twice is harmless
	assert.Equal(t, "ok", fx.mustCall(t, ":LEVEL:SHUTDOWN:"))
}

func TestPlayerJoin(t *testing.T) {
	fx := newFixture(t)
	fx.addPlayer(t, 4, 2, "Alpha")
	_, ok := fx.sessions.Get(4)
	assert.True(t, ok)

	_, err := fx.call(":PLAYER:JOIN:", "9")
	assert.ErrorIs(t, err, ErrUnknownPlayer)

	_, err = fx.call(":PLAYER:JOIN:", "nine")
	assert.ErrorIs(t, err, ErrBadArgument)
}

func TestTouch_StealAndCapture(t *testing.T) {
	fx := newFixture(t)
	fx.startRound(t)
	m := fx.lvl.Match()
	red, _ := m.Flag(core.TeamRed)

	assert.Equal(t, "stolen", fx.touch(t, "FLAG", int(red.EntityIndex()), 1))
	assert.Equal(t, core.Stolen, red.State())

	assert.Equal(t, "captured", fx.touch(t, "ZONE", int(red.CaptureZoneIndex()), 1))
	assert.Equal(t, 1, m.Score(core.TeamBlue))
	assert.Equal(t, core.AtBase, red.State())

	require.Len(t, fx.backend.flags, 2)
	assert.Equal(t, core.ActionStolen, fx.backend.flags[0].Action)
	assert.Equal(t, core.ActionCaptured, fx.backend.flags[1].Action)
}

func TestTouch_DiscardedTouchesReportNone(t *testing.T) {
	fx := newFixture(t)
	fx.startRound(t)

	// own flag at base
	assert.Equal(t, "none", fx.touch(t, "FLAG", fx.redFlagEntity(t), 2))
	// not a player
	assert.Equal(t, "none", fx.touch(t, "FLAG", fx.redFlagEntity(t), 55))
	// not a flag
	assert.Equal(t, "none", fx.touch(t, "FLAG", 9999, 1))
}

func TestTouchExit_Errors(t *testing.T) {
	fx := newFixture(t)
	fx.startRound(t)

	_, err := fx.call(":TOUCH:FLAG:EXIT:", "12345")
	assert.ErrorIs(t, err, touch.ErrUnknownToken)

	_, err = fx.call(":TOUCH:FLAG:EXIT:", "abc")
	assert.ErrorIs(t, err, ErrBadArgument)

	_, err = fx.call(":TOUCH:ZONE:ENTER:", "1")
	assert.ErrorIs(t, err, dispatcher.ErrMissingArgs)

	// tokens do not cross kinds
	token := fx.mustCall(t, ":TOUCH:FLAG:ENTER:", "1", "2")
	_, err = fx.call(":TOUCH:ZONE:EXIT:", utoa(token.(uint64)))
	assert.ErrorIs(t, err, touch.ErrUnknownToken)
}

func TestPlayerDeath_DropsAndTickReturns(t *testing.T) {
	fx := newFixture(t)
	fx.startRound(t)
	red, _ := fx.lvl.Match().Flag(core.TeamRed)
	fx.touch(t, "FLAG", int(red.EntityIndex()), 1)

	fx.mustCall(t, ":PLAYER:DEATH:", "101")
	assert.Equal(t, core.Dropped, red.State())

	fx.h.Clock.Advance(44 * time.Second)
	assert.Equal(t, 0, fx.mustCall(t, ":TICK:"))
	assert.Equal(t, core.Dropped, red.State())

	fx.h.Clock.Advance(time.Second)
	assert.Equal(t, 1, fx.mustCall(t, ":TICK:"))
	assert.Equal(t, core.AtBase, red.State())
}

func TestPlayerDeath_UnknownUserIsIgnored(t *testing.T) {
	fx := newFixture(t)
	fx.startRound(t)
	assert.Equal(t, "ok", fx.mustCall(t, ":PLAYER:DEATH:", "999"))
}

func TestPlayerLeave_DropsCarriedFlag(t *testing.T) {
	fx := newFixture(t)
	fx.startRound(t)
	red, _ := fx.lvl.Match().Flag(core.TeamRed)
	fx.touch(t, "FLAG", int(red.EntityIndex()), 1)

	fx.mustCall(t, ":PLAYER:LEAVE:", "1")
	assert.Equal(t, core.Dropped, red.State())
	_, ok := fx.sessions.Get(1)
	assert.False(t, ok)

	_, err := fx.call(":PLAYER:LEAVE:", "1")
	assert.Error(t, err)
}

func TestDropFlagCommand(t *testing.T) {
	fx := newFixture(t)
	fx.startRound(t)

	assert.Equal(t, false, fx.mustCall(t, ":SAY:DROPFLAG:", "1"))
	assert.Contains(t, fx.h.Engine.LastChat(), "flag")

	red, _ := fx.lvl.Match().Flag(core.TeamRed)
	fx.touch(t, "FLAG", int(red.EntityIndex()), 1)
	assert.Equal(t, true, fx.mustCall(t, ":SAY:DROPFLAG:", "1"))
	assert.Equal(t, core.Dropped, red.State())

	// the dropper cannot pick it straight back up
	assert.Equal(t, "none", fx.touch(t, "FLAG", int(red.EntityIndex()), 1))
	fx.h.Clock.Advance(3 * time.Second)
	assert.Equal(t, "stolen", fx.touch(t, "FLAG", int(red.EntityIndex()), 1))
}

func TestRoundEnd_SuspendsReturn(t *testing.T) {
	fx := newFixture(t)
	fx.startRound(t)
	red, _ := fx.lvl.Match().Flag(core.TeamRed)
	fx.touch(t, "FLAG", int(red.EntityIndex()), 1)
	fx.mustCall(t, ":SAY:DROPFLAG:", "1")

	assert.Equal(t, uint(1), fx.mustCall(t, ":ROUND:END:"))
	fx.h.Clock.Advance(time.Minute)
	fx.mustCall(t, ":TICK:")
	assert.Equal(t, core.Dropped, red.State())

	assert.Equal(t, uint(2), fx.mustCall(t, ":ROUND:START:"))
	assert.Equal(t, core.AtBase, red.State())
}

func TestLevelShutdown(t *testing.T) {
	fx := newFixture(t)
	fx.startRound(t)
	red, _ := fx.lvl.Match().Flag(core.TeamRed)
	fx.touch(t, "FLAG", int(red.EntityIndex()), 1)
	fx.mustCall(t, ":SAY:DROPFLAG:", "1")
	pending := fx.mustCall(t, ":TOUCH:FLAG:ENTER:", "1", "2")

	assert.Equal(t, "ok", fx.mustCall(t, ":LEVEL:SHUTDOWN:"))
	assert.Nil(t, fx.lvl.Match())
	assert.Equal(t, 0, fx.h.Scheduler.Pending())
	assert.Equal(t, 0, fx.sessions.Len())
	assert.Equal(t, 1, fx.backend.ended)
	assert.Equal(t, 1, fx.flushed)

	_, err := fx.call(":TOUCH:FLAG:EXIT:", utoa(pending.(uint64)))
	assert.True(t, errors.Is(err, touch.ErrUnknownToken))

	// touches between levels resolve to nothing
	assert.Equal(t, "none", fx.touch(t, "FLAG", 1, 2))
}

func TestTickShowsStatusLine(t *testing.T) {
	fx := newFixture(t)
	fx.startRound(t)

	fx.mustCall(t, ":TICK:")
	require.NotEmpty(t, fx.h.Engine.Huds)
	assert.Contains(t, fx.h.Engine.Huds[len(fx.h.Engine.Huds)-1].Text, "RED 0")
}

func TestStatus(t *testing.T) {
	fx := newFixture(t)
	fx.startRound(t)

	result := fx.mustCall(t, ":STATUS:")
	st, ok := result.(monitor.Status)
	require.True(t, ok)
	assert.Equal(t, "ctf_test", st.Map)
	assert.Equal(t, uint(1), st.Round)
	assert.Equal(t, 2, st.Sessions)
	assert.Len(t, st.Flags, 2)
}

func TestMatchConfig(t *testing.T) {
	cfg := MatchConfig(gameplay(), config.SoundConfig{
		TeamFlagStolen:  "a.mp3",
		EnemyFlagStolen: "b.mp3",
	}, config.FlagConfig{Model: "m.mdl", GlowDistance: 5, Height: 8})

	assert.Equal(t, 3, cfg.CapsToWin)
	assert.Equal(t, 45*time.Second, cfg.ReturnTimeout)
	assert.Equal(t, "m.mdl", cfg.FlagModel)
	assert.Equal(t, 8.0, cfg.FlagHeight)
	assert.Equal(t, "a.mp3", cfg.Sounds[core.ActionStolen].Team)
	assert.Equal(t, "b.mp3", cfg.Sounds[core.ActionStolen].Enemy)
	assert.Equal(t, "", cfg.Sounds[core.ActionCaptured].Team)
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

func utoa(n uint64) string {
	return strconv.FormatUint(n, 10)
}

func TestLevelShutdown_UploadsExport(t *testing.T) {
	fx := newFixture(t)
	fx.backend.exportPath = "/tmp/ctf_test.json.gz"
	fx.mustCall(t, ":LEVEL:INIT:", "ctf_test")
	fx.h.Clock.Advance(20 * time.Minute)

	assert.Equal(t, "ok", fx.mustCall(t, ":LEVEL:SHUTDOWN:"))
	fx.svc.WaitUploads()

	require.Len(t, fx.uploader.uploads, 1)
	u := fx.uploader.uploads[0]
	assert.Equal(t, "/tmp/ctf_test.json.gz", u.path)
	assert.Equal(t, core.UploadMetadata{MapName: "ctf_test", MatchID: 7, Duration: 20 * time.Minute, Tag: "public"}, u.meta)
}

func TestLevelShutdown_NoExportNoUpload(t *testing.T) {
	fx := newFixture(t)
	fx.mustCall(t, ":LEVEL:INIT:", "ctf_test")
	fx.mustCall(t, ":LEVEL:SHUTDOWN:")
	fx.svc.WaitUploads()

	assert.Empty(t, fx.uploader.uploads)
}

func TestLevelShutdown_UploadFailureIsNotAnError(t *testing.T) {
	fx := newFixture(t)
	fx.backend.exportPath = "/tmp/ctf_test.json"
	fx.uploader.err = errors.New("connection refused")
	fx.mustCall(t, ":LEVEL:INIT:", "ctf_test")

	assert.Equal(t, "ok", fx.mustCall(t, ":LEVEL:SHUTDOWN:"))
	fx.svc.WaitUploads()
	assert.Len(t, fx.uploader.uploads, 1)
}
