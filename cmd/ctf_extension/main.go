package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ctfmode/extension/internal/api"
	"github.com/ctfmode/extension/internal/config"
	"github.com/ctfmode/extension/internal/database"
	"github.com/ctfmode/extension/internal/dispatcher"
	"github.com/ctfmode/extension/internal/handlers"
	"github.com/ctfmode/extension/internal/lang"
	"github.com/ctfmode/extension/internal/level"
	"github.com/ctfmode/extension/internal/logging"
	"github.com/ctfmode/extension/internal/monitor"
	intOtel "github.com/ctfmode/extension/internal/otel"
	"github.com/ctfmode/extension/internal/session"
	"github.com/ctfmode/extension/internal/storage"
	"github.com/ctfmode/extension/internal/timer"
	"github.com/ctfmode/extension/internal/touch"
	"github.com/ctfmode/extension/pkg/hostbridge"

	"github.com/rs/zerolog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// module defs - BuildDate can be set at build time via ldflags
var (
	CurrentExtensionVersion string = "0.0.1"
	BuildDate               string = "unknown"

	Addon         string = "ctf"
	ExtensionName string = "ctf_extension"
)

// file paths
var (
	// AddonFolder holds the config file and map data. It is the folder the
	// library was loaded from, or @ctf in the working directory when that is
	// unknown.
	AddonFolder string

	// ModulePath is the absolute path to this library file.
	ModulePath string

	InitLogFilePath string
	InitLogFile     *os.File
	LogFilePath     string
	LogFile         *os.File
)

// global variables
var (
	// SlogManager handles all slog-based logging
	SlogManager *logging.SlogManager

	// Logger is the slog logger (convenience reference)
	Logger *slog.Logger

	// OTelProvider handles OpenTelemetry
	OTelProvider *intOtel.Provider

	SessionStartTime time.Time = time.Now()

	// bridge answers the host's calls; host carries our requests back
	bridge = hostbridge.NewBridge(CurrentExtensionVersion)
	host   = &cgoTransport{}

	// game state
	levelContext = level.NewContext()
	scheduler    *timer.Scheduler
	sessions     *session.Tracker
	resolver     *touch.Resolver

	// Services
	handlerService  *handlers.Service
	monitorService  *monitor.Service
	eventDispatcher *dispatcher.Dispatcher
	dbManager       *database.Manager

	// Storage backend (optional)
	storageBackend storage.Backend
)

// init is run automatically when the module is loaded
func init() {
	var err error

	ModulePath = getModulePath()
	if ModulePath != "" {
		AddonFolder = filepath.Dir(ModulePath)
	} else {
		wd, _ := os.Getwd()
		AddonFolder = filepath.Join(wd, "@"+Addon)
	}
	if err := os.MkdirAll(AddonFolder, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create addon folder: %v\n", err)
	}

	InitLogFilePath = filepath.Join(AddonFolder, "init.log")
	InitLogFile, err = os.Create(InitLogFilePath)
	if err != nil {
		// Log to stderr since logging isn't set up yet
		fmt.Fprintf(os.Stderr, "Failed to create init log file: %v\n", err)
	}

	// Initialize slog manager with initial config
	SlogManager = logging.NewSlogManager()
	SlogManager.Setup(writerOrNil(InitLogFile), "info", nil)
	Logger = SlogManager.Logger()

	// load config
	if err = config.Load(AddonFolder); err != nil {
		Logger.Warn("Failed to load config, using defaults!", "error", err)
	} else {
		Logger.Info("Loaded config")
	}

	logsDir := config.GetString("logsDir")
	if !filepath.IsAbs(logsDir) {
		logsDir = filepath.Join(AddonFolder, logsDir)
	}
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		Logger.Error("Failed to create logs directory", "error", err, "path", logsDir)
	}

	LogFilePath = logging.LogFilePath(logsDir, ExtensionName, SessionStartTime)
	if _, err := os.Stat(LogFilePath); err == nil {
		os.Rename(LogFilePath, LogFilePath+".old")
	}
	LogFile, err = os.OpenFile(LogFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		Logger.Error("Failed to create/open log file!", "error", err, "path", LogFilePath)
	}
	Logger.Info("Begin logging in logs directory", "path", LogFilePath)

	initOTel()
	initGraylog()

	// Re-setup logging with file output, the level context and optional OTel
	var otelLogProvider *sdklog.LoggerProvider
	if OTelProvider != nil {
		otelLogProvider = OTelProvider.LoggerProvider()
	}
	SlogManager.Context = levelContext.LogAttrs
	SlogManager.Setup(writerOrNil(LogFile), config.GetString("logLevel"), otelLogProvider)
	Logger = SlogManager.Logger()
	Logger.Info("Logging to file", "path", LogFilePath)

	if err := initStorage(); err != nil {
		Logger.Error("Storage initialization failed, match events will not be recorded", "error", err)
	}

	Logger.Info("Setting up host bridge...")
	if err := setupBridge(); err != nil {
		Logger.Error("Failed to set up host bridge!", "error", err)
		panic(err)
	}
	Logger.Info("Set up host bridge", "commands", len(eventDispatcher.Commands()))
}

func initOTel() {
	otelCfg := config.GetOTelConfig()
	if !otelCfg.Enabled {
		return
	}
	var err error
	OTelProvider, err = intOtel.New(intOtel.Config{
		Enabled:        otelCfg.Enabled,
		ServiceName:    otelCfg.ServiceName,
		BatchTimeout:   otelCfg.BatchTimeout,
		LogWriter:      writerOrNil(LogFile),
		Endpoint:       otelCfg.Endpoint,
		Insecure:       otelCfg.Insecure,
		MetricInterval: otelCfg.MetricInterval,
	})
	if err != nil {
		Logger.Error("Failed to initialize OTel provider", "error", err)
		return
	}
	if otelCfg.Endpoint != "" {
		Logger.Info("OTel provider initialized", "file", LogFilePath, "endpoint", otelCfg.Endpoint)
	} else {
		Logger.Info("OTel provider initialized", "file", LogFilePath)
	}
}

func initGraylog() {
	gelfCfg := config.GetGraylogConfig()
	if !gelfCfg.Enabled {
		return
	}
	w, err := logging.NewGelfWriter(gelfCfg.Address, ExtensionName)
	if err != nil {
		Logger.Error("Failed to connect to Graylog", "error", err, "address", gelfCfg.Address)
		return
	}
	SlogManager.Gelf = w
	Logger.Info("Graylog sink enabled", "address", gelfCfg.Address)
}

func setupBridge() error {
	dispatcherLogger := logging.NewDispatcherLogger(Logger)
	d, err := dispatcher.New(dispatcherLogger)
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}
	eventDispatcher = d

	registerLifecycleHandlers(d)
	registerStorageHandlers(d)
	if err := setupGame(d); err != nil {
		return err
	}
	bridge.SetDispatcher(d)
	return nil
}

// setupGame builds the game state around the host client and registers the
// game commands.
func setupGame(d *dispatcher.Dispatcher) error {
	gameplay, err := config.GetGameplayConfig()
	if err != nil {
		Logger.Warn("Invalid gameplay settings replaced by defaults", "error", err)
	}

	catalog, err := lang.New(config.GetString("language"), config.GetString("game"))
	if err != nil {
		return fmt.Errorf("failed to load messages: %w", err)
	}
	Logger.Info("Messages loaded", "language", catalog.Tag().String())

	scheduler = timer.NewScheduler(time.Now)
	client := hostbridge.NewClient(host)
	services := client.Services(scheduler, time.Now)

	sessions = session.NewTracker()
	resolver = touch.NewResolver(sessions, handlers.TouchRules(gameplay), time.Now, Logger)

	monitorService = monitor.NewService(monitor.Dependencies{
		Level:     levelContext,
		Messenger: services.Messenger,
		Scheduler: scheduler,
		Sessions:  sessions,
		Touches:   resolver.Correlator(),
		Storage:   pendingCounter(storageBackend),
		Interval:  gameplay.StatusInterval,
		Logger:    Logger,
	})

	apiCfg := config.GetAPIConfig()
	var uploader handlers.Uploader
	if apiCfg.ServerURL != "" {
		apiClient := api.New(apiCfg.ServerURL, apiCfg.APIKey)
		if err := apiClient.Healthcheck(); err != nil {
			Logger.Warn("Stats service not reachable, uploads may fail", "url", apiCfg.ServerURL, "error", err)
		}
		uploader = apiClient
		Logger.Info("Match exports will be uploaded", "url", apiCfg.ServerURL)
	}

	mapDataDir := config.GetString("mapDataDir")
	if !filepath.IsAbs(mapDataDir) {
		mapDataDir = filepath.Join(AddonFolder, mapDataDir)
	}

	handlerService = handlers.NewService(handlers.Dependencies{
		Services:         services,
		Scheduler:        scheduler,
		Level:            levelContext,
		Sessions:         sessions,
		Resolver:         resolver,
		Monitor:          monitorService,
		Catalog:          catalog,
		Storage:          storageBackend,
		MapDataDir:       mapDataDir,
		Gameplay:         gameplay,
		Sounds:           config.GetSoundConfig(),
		Flag:             config.GetFlagConfig(),
		ExtensionVersion: CurrentExtensionVersion,
		BuildDate:        BuildDate,
		Uploader:         uploader,
		UploadTag:        apiCfg.Tag,
		Flush:            flushTelemetry,
		Logger:           Logger,
	})
	handlerService.RegisterHandlers(d)
	return nil
}

// registerLifecycleHandlers registers system/lifecycle command handlers with the dispatcher
func registerLifecycleHandlers(d *dispatcher.Dispatcher) {
	d.Register(":GETDIR:MODULE:", func(e dispatcher.Event) (any, error) {
		return ModulePath, nil
	})

	d.Register(":GETDIR:ADDON:", func(e dispatcher.Event) (any, error) {
		return AddonFolder, nil
	})

	d.Register(":GETDIR:LOG:", func(e dispatcher.Event) (any, error) {
		return LogFilePath, nil
	})

	d.Register(":COMMANDS:", func(e dispatcher.Event) (any, error) {
		return d.Commands(), nil
	})

	d.Register(":SHUTDOWN:", func(e dispatcher.Event) (any, error) {
		Logger.Info("Received :SHUTDOWN: command, closing storage")
		if handlerService != nil {
			handlerService.WaitUploads()
		}
		var firstErr error
		if storageBackend != nil {
			if err := storageBackend.Close(); err != nil {
				Logger.Error("Failed to close storage backend", "error", err)
				firstErr = err
			}
		}
		if dbManager != nil {
			if err := dbManager.Close(); err != nil {
				Logger.Warn("Failed to close database", "error", err)
			}
		}
		if OTelProvider != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := OTelProvider.Shutdown(ctx); err != nil {
				Logger.Warn("Failed to shut down OTel provider", "error", err)
			}
		}
		if firstErr != nil {
			return nil, firstErr
		}
		return "ok", nil
	}, dispatcher.Logged())
}

// flushTelemetry pushes buffered OTel logs out at the end of every level.
func flushTelemetry(ctx context.Context) error {
	if OTelProvider == nil {
		return nil
	}
	return OTelProvider.Flush(ctx)
}

// componentLogger returns a zerolog logger writing to the extension log file.
func componentLogger(component string) zerolog.Logger {
	var w io.Writer = os.Stderr
	if LogFile != nil {
		w = LogFile
	}
	return zerolog.New(w).With().Timestamp().Str("component", component).Logger()
}

// writerOrNil keeps a nil *os.File from becoming a non-nil io.Writer.
func writerOrNil(f *os.File) io.Writer {
	if f == nil {
		return nil
	}
	return f
}

func main() {
	args := os.Args[1:]
	if len(args) > 0 && args[0] == "demo" {
		if err := runDemo(os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}
	fmt.Printf("%s %s (%s)\n", ExtensionName, CurrentExtensionVersion, BuildDate)
	fmt.Println("Load this library from the game server, or run with 'demo' for a scripted match.")
}
