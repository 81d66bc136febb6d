package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/ctfmode/extension/internal/config"
	"github.com/ctfmode/extension/internal/database"
	"github.com/ctfmode/extension/internal/dispatcher"
	"github.com/ctfmode/extension/internal/influx"
	"github.com/ctfmode/extension/internal/monitor"
	"github.com/ctfmode/extension/internal/storage"
)

// initStorage builds the configured recorder plus the optional InfluxDB sink.
// A recorder that fails to come up leaves the other sinks running.
func initStorage() error {
	Logger.Debug("Initializing storage")

	storageCfg := resolveStoragePaths(config.GetStorageConfig())
	dbManager = database.NewManager(componentLogger("database"))

	var initErr error
	primary, err := storage.NewBackend(storageCfg, dbManager, CurrentExtensionVersion, Logger)
	if err != nil {
		Logger.Error("Failed to create storage backend", "type", storageCfg.Type, "error", err)
		initErr = err
	} else if primary != nil {
		Logger.Info("Storage backend created", "type", storageCfg.Type)
	}

	var metrics storage.Backend
	if influxCfg := config.GetInfluxConfig(); influxCfg.Enabled {
		backupPath := filepath.Join(AddonFolder, fmt.Sprintf("%s_%s.influx.gz", ExtensionName, SessionStartTime.Format("20060102_150405")))
		metrics = influx.NewManager(componentLogger("influx"), influxCfg, backupPath)
	}

	multi := storage.NewMulti(primary, metrics)
	if len(multi.Backends()) == 0 {
		Logger.Info("No storage configured, match events will not be recorded")
		return initErr
	}
	if err := multi.Init(); err != nil {
		Logger.Error("Failed to initialize storage backend", "error", err)
		return err
	}
	storageBackend = multi
	return initErr
}

// resolveStoragePaths anchors relative output paths in the addon folder.
func resolveStoragePaths(cfg config.StorageConfig) config.StorageConfig {
	if cfg.Memory.OutputDir != "" && !filepath.IsAbs(cfg.Memory.OutputDir) {
		cfg.Memory.OutputDir = filepath.Join(AddonFolder, cfg.Memory.OutputDir)
	}
	if cfg.SQLite.Path != "" && !filepath.IsAbs(cfg.SQLite.Path) {
		cfg.SQLite.Path = filepath.Join(AddonFolder, cfg.SQLite.Path)
	}
	return cfg
}

// pendingCounter finds a backend that buffers writes, so the status report
// can show its backlog.
func pendingCounter(b storage.Backend) monitor.PendingCounter {
	multi, ok := b.(*storage.Multi)
	if !ok {
		pc, _ := b.(monitor.PendingCounter)
		return pc
	}
	for _, inner := range multi.Backends() {
		if pc, ok := inner.(monitor.PendingCounter); ok {
			return pc
		}
	}
	return nil
}

// registerStorageHandlers adds the commands that operate on the database
// behind the recorder.
func registerStorageHandlers(d *dispatcher.Dispatcher) {
	d.Register(":DB:DUMP:", func(e dispatcher.Event) (any, error) {
		if dbManager == nil || !dbManager.IsValid {
			return nil, fmt.Errorf("no database open")
		}
		path := filepath.Join(AddonFolder, fmt.Sprintf("%s_%s.db", ExtensionName, time.Now().Format("20060102_150405")))
		if err := dbManager.DumpToDisk(path); err != nil {
			return nil, err
		}
		Logger.Info("Dumped database", "path", path)
		return path, nil
	}, dispatcher.Logged())
}
