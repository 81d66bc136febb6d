package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ctfmode/extension/internal/config"
	"github.com/ctfmode/extension/internal/dispatcher"
	"github.com/ctfmode/extension/internal/engine"
	"github.com/ctfmode/extension/internal/lang"
	"github.com/ctfmode/extension/internal/level"
	"github.com/ctfmode/extension/internal/mapdata"
	"github.com/ctfmode/extension/internal/match"
	"github.com/ctfmode/extension/internal/monitor"
	"github.com/ctfmode/extension/internal/session"
	"github.com/ctfmode/extension/internal/storage"
	"github.com/ctfmode/extension/internal/timer"
	"github.com/ctfmode/extension/internal/touch"
	"github.com/ctfmode/extension/internal/util"
	"github.com/ctfmode/extension/pkg/core"
)

var (
	// ErrNoLevel is returned by commands that need a loaded map.
	ErrNoLevel = errors.New("no level loaded")
	// ErrBadArgument is returned for arguments that do not parse.
	ErrBadArgument = errors.New("bad argument")
	// ErrUnknownPlayer is returned when the engine does not know a player index.
	ErrUnknownPlayer = errors.New("unknown player")
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Services  engine.Services
	Scheduler *timer.Scheduler
	Level     *level.Context
	Sessions  *session.Tracker
	Resolver  *touch.Resolver
	Monitor   *monitor.Service
	Catalog   *lang.Catalog
	Storage   storage.Backend

	MapDataDir string
	Gameplay   config.GameplayConfig
	Sounds     config.SoundConfig
	Flag       config.FlagConfig

	ExtensionVersion string
	BuildDate        string

	// Uploader, when set, receives the export file of every finished match.
	Uploader  Uploader
	UploadTag string

	// Flush is called after a level shuts down, e.g. to flush telemetry.
	Flush  func(ctx context.Context) error
	Logger *slog.Logger
}

// Uploader sends an exported match file to a remote service.
type Uploader interface {
	Upload(filePath string, meta core.UploadMetadata) error
}

// Service provides the command handlers driving the game mode
type Service struct {
	deps Dependencies
	log  *slog.Logger

	// recording is the match opened in storage for the loaded level
	recording *core.MatchInfo
	uploads   sync.WaitGroup
}

// NewService creates a new handler service
func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Services.Now == nil {
		deps.Services.Now = time.Now
	}
	return &Service{deps: deps, log: deps.Logger}
}

// MatchConfig builds the match settings from the loaded configuration.
func MatchConfig(g config.GameplayConfig, snd config.SoundConfig, f config.FlagConfig) match.Config {
	return match.Config{
		CapsToWin:            g.CapsToWin,
		AllowDropFlagCommand: g.AllowDropFlagCommand,
		ReturnTimeout:        g.DroppedFlagReturnTimeout,
		FlagModel:            f.Model,
		FlagHeight:           f.Height,
		FlagsGlow:            g.FlagsGlow,
		GlowDistance:         f.GlowDistance,
		Sounds: map[core.FlagAction]match.SoundPair{
			core.ActionStolen:   {Team: snd.TeamFlagStolen, Enemy: snd.EnemyFlagStolen},
			core.ActionDropped:  {Team: snd.TeamFlagDropped, Enemy: snd.EnemyFlagDropped},
			core.ActionReturned: {Team: snd.TeamFlagReturned, Enemy: snd.EnemyFlagReturned},
			core.ActionCaptured: {Team: snd.TeamFlagCaptured, Enemy: snd.EnemyFlagCaptured},
		},
	}
}

// TouchRules builds the touch resolution switches from the gameplay settings.
func TouchRules(g config.GameplayConfig) touch.Rules {
	return touch.Rules{
		TeamCanReturnFlag:         g.TeamCanReturnFlag,
		CappingRequiresFlagAtBase: g.CappingRequiresFlagAtBase,
		IgnoreAfterRoundEnd:       g.IgnoreTouchesAfterRoundEnd,
		DropCooldown:              g.DropFlagCooldown,
	}
}

// RegisterHandlers registers every game command with the dispatcher
func (s *Service) RegisterHandlers(d *dispatcher.Dispatcher) {
	d.Register(":VERSION:", func(e dispatcher.Event) (any, error) {
		return []string{s.deps.ExtensionVersion, s.deps.BuildDate}, nil
	})

	// level lifecycle
	d.Register(":LEVEL:INIT:", s.handleLevelInit, dispatcher.MinArgs(1), dispatcher.Logged())
	d.Register(":LEVEL:SHUTDOWN:", s.handleLevelShutdown, dispatcher.Logged())
	d.Register(":ROUND:START:", s.handleRoundStart, dispatcher.Logged())
	d.Register(":ROUND:END:", s.handleRoundEnd, dispatcher.Logged())

	// players
	d.Register(":PLAYER:JOIN:", s.handlePlayerJoin, dispatcher.MinArgs(1), dispatcher.Logged())
	d.Register(":PLAYER:LEAVE:", s.handlePlayerLeave, dispatcher.MinArgs(1), dispatcher.Logged())
	d.Register(":PLAYER:DEATH:", s.handlePlayerDeath, dispatcher.MinArgs(1), dispatcher.Logged())
	d.Register(":SAY:DROPFLAG:", s.handleDropFlag, dispatcher.MinArgs(1), dispatcher.Logged())

	// touches
	d.Register(":TOUCH:FLAG:ENTER:", s.touchEnter(touch.KindFlag), dispatcher.MinArgs(2))
	d.Register(":TOUCH:FLAG:EXIT:", s.touchExit(touch.KindFlag), dispatcher.MinArgs(1), dispatcher.Logged())
	d.Register(":TOUCH:ZONE:ENTER:", s.touchEnter(touch.KindZone), dispatcher.MinArgs(2))
	d.Register(":TOUCH:ZONE:EXIT:", s.touchExit(touch.KindZone), dispatcher.MinArgs(1), dispatcher.Logged())

	// host frame and status
	d.Register(":TICK:", s.handleTick)
	d.Register(":STATUS:", s.handleStatus)
}

func (s *Service) handleLevelInit(e dispatcher.Event) (any, error) {
	mapName := util.CleanArg(e.Args[0])
	if mapName == "" {
		return nil, fmt.Errorf("%w: empty map name", ErrBadArgument)
	}

	// a level init without a shutdown in between replaces the old level
	if s.deps.Level.Match() != nil {
		s.log.Warn("level init while a level is loaded, shutting it down", "map", s.deps.Level.MapName())
		if _, err := s.handleLevelShutdown(e); err != nil {
			s.log.Error("failed to shut down previous level", "error", err)
		}
	}

	record, loadErr := mapdata.Load(s.deps.MapDataDir, mapName)
	switch {
	case loadErr == nil:
		s.log.Info("map data loaded", "map", mapName, "source", record.Source)
	case errors.Is(loadErr, mapdata.ErrNoMapData):
		s.log.Info("no map data, flags are inactive on this map", "map", mapName)
		record, loadErr = nil, nil
	default:
		s.log.Error("invalid map data, flags are inactive on this map", "map", mapName, "error", loadErr)
		record = nil
	}

	cfg := MatchConfig(s.deps.Gameplay, s.deps.Sounds, s.deps.Flag)
	m, err := match.Load(mapName, record, cfg, match.Deps{
		Services: s.deps.Services,
		Sessions: s.deps.Sessions,
		Catalog:  s.deps.Catalog,
		Recorder: s.recorder(),
		Logger:   s.log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load match for %s: %w", mapName, err)
	}

	if s.deps.Storage != nil {
		info := &core.MatchInfo{
			MapName:      mapName,
			StartedAt:    s.deps.Services.Now(),
			CapsToWin:    cfg.CapsToWin,
			HasFlags:     m.Active(),
			CaptureZones: record.ZoneOutlines(),
		}
		if err := s.deps.Storage.StartMatch(info); err != nil {
			s.log.Error("failed to start match in storage backend", "error", err)
		} else {
			s.recording = info
			s.log.Info("match recording started", "matchID", info.ID)
		}
	}

	s.deps.Level.Set(mapName, m)
	s.deps.Resolver.Bind(m)
	if s.deps.Monitor != nil {
		s.deps.Monitor.Reset()
	}

	if loadErr != nil {
		return nil, loadErr
	}
	return m.Active(), nil
}

func (s *Service) handleLevelShutdown(e dispatcher.Event) (any, error) {
	m := s.deps.Level.Clear()
	if m == nil {
		return "ok", nil
	}

	s.deps.Resolver.Bind(nil)
	m.Unload()
	cancelled := s.deps.Scheduler.OnLevelEnd()
	dropped := s.deps.Resolver.Correlator().Reset()
	s.deps.Sessions.Reset()
	if s.deps.Monitor != nil {
		s.deps.Monitor.Reset()
	}
	s.log.Info("level shut down", "map", m.MapName(), "cancelledTimers", cancelled, "droppedTouches", dropped)

	var errs []error
	recording := s.recording
	s.recording = nil
	if s.deps.Storage != nil {
		if err := s.deps.Storage.EndMatch(); err != nil {
			errs = append(errs, fmt.Errorf("failed to end match in storage backend: %w", err))
		} else if recording != nil {
			s.upload(recording)
		}
	}
	if s.deps.Flush != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.deps.Flush(ctx); err != nil {
			s.log.Warn("failed to flush telemetry", "error", err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return "ok", nil
}

// upload sends the finished match's export in the background.
func (s *Service) upload(info *core.MatchInfo) {
	if s.deps.Uploader == nil {
		return
	}
	path := storage.LastExport(s.deps.Storage)
	if path == "" {
		s.log.Debug("no match export to upload", "matchID", info.ID)
		return
	}
	meta := core.UploadMetadata{
		MapName:  info.MapName,
		MatchID:  info.ID,
		Duration: s.deps.Services.Now().Sub(info.StartedAt),
		Tag:      s.deps.UploadTag,
	}

	s.uploads.Add(1)
	go func() {
		defer s.uploads.Done()
		if err := s.deps.Uploader.Upload(path, meta); err != nil {
			s.log.Error("failed to upload match export", "path", path, "error", err)
			return
		}
		s.log.Info("match export uploaded", "path", path, "matchID", meta.MatchID)
	}()
}

// WaitUploads blocks until every started upload has finished.
func (s *Service) WaitUploads() {
	s.uploads.Wait()
}

func (s *Service) handleRoundStart(e dispatcher.Event) (any, error) {
	m, err := s.match()
	if err != nil {
		return nil, err
	}
	if err := m.RoundStart(); err != nil {
		return nil, err
	}
	return m.Round(), nil
}

func (s *Service) handleRoundEnd(e dispatcher.Event) (any, error) {
	m, err := s.match()
	if err != nil {
		return nil, err
	}
	m.RoundEnd()
	return m.Round(), nil
}

func (s *Service) handlePlayerJoin(e dispatcher.Event) (any, error) {
	index, err := intArg(e, 0, "index")
	if err != nil {
		return nil, err
	}
	p, ok := s.deps.Services.Players.Player(index)
	if !ok {
		return nil, fmt.Errorf("%w: index %d", ErrUnknownPlayer, index)
	}
	sess := s.deps.Sessions.Join(p)
	s.log.Debug("player joined", "index", sess.Index(), "name", sess.Name())
	return "ok", nil
}

func (s *Service) handlePlayerLeave(e dispatcher.Event) (any, error) {
	index, err := intArg(e, 0, "index")
	if err != nil {
		return nil, err
	}
	if m := s.deps.Level.Match(); m != nil {
		if err := m.PlayerRemoved(index); err != nil {
			return nil, err
		}
		return "ok", nil
	}
	if _, ok := s.deps.Sessions.Leave(index); !ok {
		return nil, fmt.Errorf("%w: index %d", match.ErrNotTracked, index)
	}
	return "ok", nil
}

func (s *Service) handlePlayerDeath(e dispatcher.Event) (any, error) {
	userID, err := intArg(e, 0, "userid")
	if err != nil {
		return nil, err
	}
	m, err := s.match()
	if err != nil {
		return nil, err
	}
	if err := m.PlayerDeath(userID); err != nil {
		return nil, err
	}
	return "ok", nil
}

func (s *Service) handleDropFlag(e dispatcher.Event) (any, error) {
	index, err := intArg(e, 0, "index")
	if err != nil {
		return nil, err
	}
	m, err := s.match()
	if err != nil {
		return nil, err
	}
	return m.DropFlagCommand(index)
}

func (s *Service) touchEnter(kind touch.Kind) dispatcher.HandlerFunc {
	return func(e dispatcher.Event) (any, error) {
		entity, err := intArg(e, 0, "entity")
		if err != nil {
			return nil, err
		}
		other, err := intArg(e, 1, "other")
		if err != nil {
			return nil, err
		}
		return uint64(s.deps.Resolver.Enter(kind, entity, other)), nil
	}
}

func (s *Service) touchExit(kind touch.Kind) dispatcher.HandlerFunc {
	return func(e dispatcher.Event) (any, error) {
		token, err := util.ParseUint(e.Args[0])
		if err != nil {
			return nil, fmt.Errorf("%w: token: %v", ErrBadArgument, err)
		}
		res, err := s.deps.Resolver.Exit(kind, touch.Token(token))
		if err != nil {
			return nil, err
		}
		if res.Action == "" {
			return "none", nil
		}
		return string(res.Action), nil
	}
}

func (s *Service) handleTick(e dispatcher.Event) (any, error) {
	fired := s.deps.Scheduler.Tick()
	if s.deps.Monitor != nil {
		s.deps.Monitor.Tick()
	}
	return fired, nil
}

func (s *Service) handleStatus(e dispatcher.Event) (any, error) {
	if s.deps.Monitor == nil {
		return nil, errors.New("status monitor not configured")
	}
	return s.deps.Monitor.GetStatus(), nil
}

func (s *Service) match() (*match.Match, error) {
	m := s.deps.Level.Match()
	if m == nil {
		return nil, ErrNoLevel
	}
	return m, nil
}

// recorder keeps a nil backend from turning into a non-nil interface.
func (s *Service) recorder() match.Recorder {
	if s.deps.Storage == nil {
		return nil
	}
	return s.deps.Storage
}

func intArg(e dispatcher.Event, i int, name string) (int, error) {
	n, err := util.ParseInt(e.Args[i])
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrBadArgument, name, err)
	}
	return n, nil
}
