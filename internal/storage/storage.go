// internal/storage/storage.go
package storage

import (
	"errors"

	"github.com/ctfmode/extension/pkg/core"
)

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Match management. StartMatch assigns info.ID.
	StartMatch(info *core.MatchInfo) error
	EndMatch() error

	// Event recording
	RecordFlagEvent(e *core.FlagEvent) error
	RecordRoundEvent(e *core.RoundEvent) error
}

// Exporter is an optional interface for backends that write one file per match.
type Exporter interface {
	LastExportPath() string
}

// LastExport returns the file most recently written by an exporting backend,
// looking inside a Multi. It is empty when no backend exports.
func LastExport(b Backend) string {
	if m, ok := b.(*Multi); ok {
		for _, inner := range m.backends {
			if path := LastExport(inner); path != "" {
				return path
			}
		}
		return ""
	}
	if e, ok := b.(Exporter); ok {
		return e.LastExportPath()
	}
	return ""
}

// Multi fans every call out to all backends. Errors are joined; a failing
// backend does not stop the others.
type Multi struct {
	backends []Backend
}

// NewMulti creates a Multi over the non-nil backends.
func NewMulti(backends ...Backend) *Multi {
	valid := make([]Backend, 0, len(backends))
	for _, b := range backends {
		if b != nil {
			valid = append(valid, b)
		}
	}
	return &Multi{backends: valid}
}

// Backends returns the wrapped backends.
func (m *Multi) Backends() []Backend {
	return m.backends
}

func (m *Multi) each(fn func(Backend) error) error {
	var errs []error
	for _, b := range m.backends {
		if err := fn(b); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) Init() error {
	return m.each(Backend.Init)
}

func (m *Multi) Close() error {
	return m.each(Backend.Close)
}

// StartMatch starts the match on every backend. Backends only assign info.ID
// while it is zero, so the first backend's ID is kept.
func (m *Multi) StartMatch(info *core.MatchInfo) error {
	return m.each(func(b Backend) error {
		return b.StartMatch(info)
	})
}

func (m *Multi) EndMatch() error {
	return m.each(Backend.EndMatch)
}

func (m *Multi) RecordFlagEvent(e *core.FlagEvent) error {
	return m.each(func(b Backend) error {
		return b.RecordFlagEvent(e)
	})
}

func (m *Multi) RecordRoundEvent(e *core.RoundEvent) error {
	return m.each(func(b Backend) error {
		return b.RecordRoundEvent(e)
	})
}
