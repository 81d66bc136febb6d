package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ctfmode/extension/internal/config"
	"github.com/ctfmode/extension/internal/dispatcher"
	"github.com/ctfmode/extension/internal/engine/enginetest"
	"github.com/ctfmode/extension/internal/handlers"
	"github.com/ctfmode/extension/internal/lang"
	"github.com/ctfmode/extension/internal/level"
	"github.com/ctfmode/extension/internal/logging"
	"github.com/ctfmode/extension/internal/monitor"
	"github.com/ctfmode/extension/internal/session"
	"github.com/ctfmode/extension/internal/storage/memory"
	"github.com/ctfmode/extension/internal/touch"
	"github.com/ctfmode/extension/pkg/core"
	"github.com/ctfmode/extension/pkg/hostbridge"
)

const demoMap = `[red_flag]
origin = -1000, 0, 0
capture_zone_point1 = 950, -50, 0
capture_zone_point2 = 1050, 50, 100

[blue_flag]
origin = 1000, 0, 0
capture_zone_point1 = -950, -50, 0
capture_zone_point2 = -1050, 50, 100
`

// runDemo plays a scripted match against the fake engine, sending every
// command through the same bridge the host uses, and prints each reply and
// the chat lines it produced.
func runDemo(out io.Writer) error {
	dir, err := os.MkdirTemp("", "ctf-demo-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)
	if err := os.WriteFile(filepath.Join(dir, "ctf_demo.ini"), []byte(demoMap), 0o644); err != nil {
		return err
	}

	config.LoadDefaults()
	gameplay, err := config.GetGameplayConfig()
	if err != nil {
		return err
	}
	catalog, err := lang.New("en", "csgo")
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := enginetest.NewHarness()
	h.Engine.SetFloor(0)

	lvl := level.NewContext()
	tracker := session.NewTracker(session.WithClock(h.Clock.Now))
	res := touch.NewResolver(tracker, handlers.TouchRules(gameplay), h.Clock.Now, logger)
	mon := monitor.NewService(monitor.Dependencies{
		Level:     lvl,
		Messenger: h.Engine,
		Scheduler: h.Scheduler,
		Sessions:  tracker,
		Touches:   res.Correlator(),
		Interval:  gameplay.StatusInterval,
		Now:       h.Clock.Now,
		Logger:    logger,
	})
	recorder := memory.New(config.MemoryConfig{OutputDir: dir}, CurrentExtensionVersion)

	svc := handlers.NewService(handlers.Dependencies{
		Services:         h.Services(),
		Scheduler:        h.Scheduler,
		Level:            lvl,
		Sessions:         tracker,
		Resolver:         res,
		Monitor:          mon,
		Catalog:          catalog,
		Storage:          recorder,
		MapDataDir:       dir,
		Gameplay:         gameplay,
		Sounds:           config.GetSoundConfig(),
		Flag:             config.GetFlagConfig(),
		ExtensionVersion: CurrentExtensionVersion,
		BuildDate:        BuildDate,
		Logger:           logger,
	})
	d, err := dispatcher.New(logging.NewDispatcherLogger(logger))
	if err != nil {
		return err
	}
	svc.RegisterHandlers(d)
	b := hostbridge.NewBridge(CurrentExtensionVersion)
	b.SetDispatcher(d)

	chats := 0
	call := func(command string, args ...string) string {
		reply := b.Call(command, args)
		fmt.Fprintf(out, "> %s %v\n  %s\n", command, args, reply)
		for _, c := range h.Engine.Chats[chats:] {
			fmt.Fprintf(out, "  chat: %s\n", catalog.StripColors(c.Text))
		}
		chats = len(h.Engine.Chats)
		return reply
	}
	// touch sends a full enter/exit pair and returns the exit reply.
	touch := func(kind string, entity, player int) string {
		enter := call(":TOUCH:"+kind+":ENTER:", strconv.Itoa(entity), strconv.Itoa(player))
		var token uint64
		if _, err := fmt.Sscanf(enter, `["ok", %d]`, &token); err != nil {
			return enter
		}
		return call(":TOUCH:"+kind+":EXIT:", strconv.FormatUint(token, 10))
	}

	call(":LEVEL:INIT:", "ctf_demo")
	h.Engine.AddPlayer(&enginetest.Player{Idx: 1, UID: 101, Nick: "Bravo", TeamNum: int(core.TeamBlue), Position: core.Position3D{X: -900, Z: 40}})
	h.Engine.AddPlayer(&enginetest.Player{Idx: 2, UID: 102, Nick: "Alpha", TeamNum: int(core.TeamRed), Position: core.Position3D{X: 900, Z: 40}})
	call(":PLAYER:JOIN:", "1")
	call(":PLAYER:JOIN:", "2")
	call(":ROUND:START:")

	red, ok := lvl.Match().Flag(core.TeamRed)
	if !ok {
		return fmt.Errorf("demo map has no red flag")
	}
	flagEntity := int(red.EntityIndex())
	zoneEntity := int(red.CaptureZoneIndex())

	// steal, drop, pick up again and capture
	touch("FLAG", flagEntity, 1)
	h.Clock.Advance(3 * time.Second)
	call(":SAY:DROPFLAG:", "1")
	h.Clock.Advance(3 * time.Second)
	touch("FLAG", int(red.EntityIndex()), 1)
	touch("ZONE", zoneEntity, 1)

	// steal again and die; the flag goes home on its own
	touch("FLAG", int(red.EntityIndex()), 1)
	call(":PLAYER:DEATH:", "101")
	h.Clock.Advance(gameplay.DroppedFlagReturnTimeout)
	call(":TICK:")

	call(":STATUS:")
	call(":ROUND:END:")
	call(":LEVEL:SHUTDOWN:")

	if path := recorder.LastExportPath(); path != "" {
		fmt.Fprintf(out, "match exported to %s\n", filepath.Base(path))
	}
	return nil
}
