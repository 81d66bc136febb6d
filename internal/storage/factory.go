// internal/storage/factory.go
package storage

import (
	"fmt"
	"log/slog"

	"github.com/ctfmode/extension/internal/config"
	"github.com/ctfmode/extension/internal/database"
	gormstorage "github.com/ctfmode/extension/internal/storage/gorm"
	"github.com/ctfmode/extension/internal/storage/memory"
)

// NewBackend creates a storage backend based on configuration. For the
// database types the returned manager owns the connection and must be closed
// after the backend.
func NewBackend(cfg config.StorageConfig, db *database.Manager, version string, log *slog.Logger) (Backend, error) {
	switch cfg.Type {
	case "postgres", "sqlite":
		if err := db.Open(cfg); err != nil {
			return nil, err
		}
		if err := db.Setup(); err != nil {
			return nil, err
		}
		return gormstorage.New(gormstorage.Dependencies{DB: db.DB, Logger: log}), nil
	case "memory":
		return memory.New(cfg.Memory, version), nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
