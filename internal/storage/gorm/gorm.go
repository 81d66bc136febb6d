// Package gormstorage implements the storage.Backend interface using GORM
// (SQLite or PostgreSQL) with internal queues and a background DB writer goroutine.
package gormstorage

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gorm.io/gorm"

	"github.com/ctfmode/extension/internal/model"
	"github.com/ctfmode/extension/internal/queue"
	"github.com/ctfmode/extension/pkg/core"
)

// ErrNoDatabase is returned by Init when no connection was injected.
var ErrNoDatabase = errors.New("no database connection")

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB     *gorm.DB
	Logger *slog.Logger
	// FlushInterval is how often the writer drains the queues. Zero means 2s.
	FlushInterval time.Duration
	Now           func() time.Time
}

// queues holds the write queues for batch DB insertion.
type queues struct {
	FlagEvents  *queue.Queue[model.FlagEvent]
	RoundEvents *queue.Queue[model.RoundEvent]
}

func newQueues() *queues {
	return &queues{
		FlagEvents:  queue.New[model.FlagEvent](),
		RoundEvents: queue.New[model.RoundEvent](),
	}
}

// Backend implements storage.Backend with queue-based batch writes.
type Backend struct {
	deps     Dependencies
	log      *slog.Logger
	queues   *queues
	matchID  atomic.Uint64
	stopChan chan struct{}
	done     chan struct{}
	flushMu  sync.Mutex
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.FlushInterval <= 0 {
		deps.FlushInterval = 2 * time.Second
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Backend{
		deps:   deps,
		log:    log.With("component", "gormstorage"),
		queues: newQueues(),
	}
}

// Init migrates the schema and starts the DB writer goroutine.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		return ErrNoDatabase
	}
	if err := b.deps.DB.AutoMigrate(model.DatabaseModels...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	b.stopChan = make(chan struct{})
	b.done = make(chan struct{})
	go b.runWriter()
	return nil
}

// Close stops the DB writer goroutine and writes what is still queued.
func (b *Backend) Close() error {
	if b.stopChan != nil {
		close(b.stopChan)
		<-b.done
		b.stopChan = nil
	}
	return b.Flush()
}

// MatchID returns the row ID of the current match, zero if none.
func (b *Backend) MatchID() uint {
	return uint(b.matchID.Load())
}

// StartMatch writes pending events of the previous match and inserts the new match row.
func (b *Backend) StartMatch(info *core.MatchInfo) error {
	if err := b.Flush(); err != nil {
		b.log.Error("flushing previous match", "error", err)
	}

	row := model.NewMatch(*info)
	if err := b.deps.DB.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert new match: %w", err)
	}
	b.matchID.Store(uint64(row.ID))
	if info.ID == 0 {
		info.ID = row.ID
	}
	b.log.Info("match started", "matchId", row.ID, "map", info.MapName)
	return nil
}

// EndMatch writes the queued events and stamps the match end time.
func (b *Backend) EndMatch() error {
	id := b.MatchID()
	if id == 0 {
		return nil
	}
	flushErr := b.Flush()

	ended := b.deps.Now()
	err := b.deps.DB.Model(&model.Match{}).Where("id = ?", id).Update("ended_at", ended).Error
	if err != nil {
		err = fmt.Errorf("failed to end match %d: %w", id, err)
	}
	b.matchID.Store(0)
	return errors.Join(flushErr, err)
}

// RecordFlagEvent converts and queues a flag event for the current match.
func (b *Backend) RecordFlagEvent(e *core.FlagEvent) error {
	id := b.MatchID()
	if id == 0 {
		return fmt.Errorf("recording flag event: no match started")
	}
	b.queues.FlagEvents.Push(model.NewFlagEvent(id, *e))
	return nil
}

// RecordRoundEvent converts and queues a round event for the current match.
func (b *Backend) RecordRoundEvent(e *core.RoundEvent) error {
	id := b.MatchID()
	if id == 0 {
		return fmt.Errorf("recording round event: no match started")
	}
	row, err := model.NewRoundEvent(id, *e)
	if err != nil {
		return err
	}
	b.queues.RoundEvents.Push(row)
	return nil
}

// Pending returns the number of queued, unwritten rows.
func (b *Backend) Pending() int {
	return b.queues.FlagEvents.Len() + b.queues.RoundEvents.Len()
}

// Flush drains all queues into the database.
func (b *Backend) Flush() error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	return errors.Join(
		writeQueue(b.deps.DB, b.queues.FlagEvents, "flag events"),
		writeQueue(b.deps.DB, b.queues.RoundEvents, "round events"),
	)
}

// writeQueue writes all items from a queue to the database in a transaction.
// Failed items are pushed back for the next cycle.
func writeQueue[T any](db *gorm.DB, q *queue.Queue[T], name string) error {
	if q.Empty() {
		return nil
	}

	items := q.GetAndEmpty()
	tx := db.Begin()
	if err := tx.Create(&items).Error; err != nil {
		tx.Rollback()
		q.Push(items...)
		return fmt.Errorf("error creating %s: %w", name, err)
	}
	if err := tx.Commit().Error; err != nil {
		q.Push(items...)
		return fmt.Errorf("error committing %s: %w", name, err)
	}
	return nil
}

func (b *Backend) runWriter() {
	defer close(b.done)

	ticker := time.NewTicker(b.deps.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			if err := b.Flush(); err != nil {
				b.log.Error("DB writer", "error", err)
			}
		}
	}
}
