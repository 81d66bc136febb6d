package memory

import (
	"sync"
	"time"

	"github.com/ctfmode/extension/internal/config"
	"github.com/ctfmode/extension/internal/queue"
	"github.com/ctfmode/extension/pkg/core"
)

// Backend keeps one match in memory and exports it to JSON when it ends
type Backend struct {
	cfg     config.MemoryConfig
	version string
	now     func() time.Time

	match       *core.MatchInfo
	flagEvents  *queue.Queue[core.FlagEvent]
	roundEvents *queue.Queue[core.RoundEvent]

	matchSeq       uint
	idCounter      uint
	lastExportPath string
	mu             sync.Mutex
}

// New creates a new memory backend. version is written into every export.
func New(cfg config.MemoryConfig, version string) *Backend {
	return &Backend{
		cfg:         cfg,
		version:     version,
		now:         time.Now,
		flagEvents:  queue.New[core.FlagEvent](),
		roundEvents: queue.New[core.RoundEvent](),
	}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close exports a match that was never ended.
func (b *Backend) Close() error {
	return b.EndMatch()
}

// StartMatch begins recording a new match, discarding anything unexported.
func (b *Backend) StartMatch(info *core.MatchInfo) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.matchSeq++
	if info.ID == 0 {
		info.ID = b.matchSeq
	}
	m := *info
	b.match = &m

	b.flagEvents.Clear()
	b.roundEvents.Clear()
	b.idCounter = 0
	return nil
}

// EndMatch exports the current match. Without a started match it does nothing.
func (b *Backend) EndMatch() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.match == nil {
		return nil
	}
	err := b.exportJSON()
	b.match = nil
	b.flagEvents.Clear()
	b.roundEvents.Clear()
	return err
}

// RecordFlagEvent stores a copy of e and assigns e.ID.
func (b *Backend) RecordFlagEvent(e *core.FlagEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.idCounter++
	e.ID = b.idCounter
	b.flagEvents.Push(*e)
	return nil
}

// RecordRoundEvent stores a copy of e and assigns e.ID.
func (b *Backend) RecordRoundEvent(e *core.RoundEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.idCounter++
	e.ID = b.idCounter
	scores := make(map[core.Team]int, len(e.Scores))
	for t, n := range e.Scores {
		scores[t] = n
	}
	c := *e
	c.Scores = scores
	b.roundEvents.Push(c)
	return nil
}

// Match returns the current match, if one is started.
func (b *Backend) Match() (core.MatchInfo, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.match == nil {
		return core.MatchInfo{}, false
	}
	return *b.match, true
}

// FlagEventCount and RoundEventCount report what the current match holds.
func (b *Backend) FlagEventCount() int {
	return b.flagEvents.Len()
}

func (b *Backend) RoundEventCount() int {
	return b.roundEvents.Len()
}

// LastExportPath returns the file written by the last EndMatch.
func (b *Backend) LastExportPath() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastExportPath
}
