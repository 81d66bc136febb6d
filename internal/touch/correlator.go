// Package touch turns the engine's paired touch-begin hook calls into flag
// steals, returns and captures.
//
// The engine reports one touch as two calls: an entry call carrying the raw
// entity indexes before its own handling runs, and an exit call afterwards.
// Entry mints a token that the host hands back unchanged on exit.
package touch

import (
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownToken is returned when an exit call names no pending entry.
var ErrUnknownToken = errors.New("unknown touch token")

// Kind separates flag pickup touches from capture-zone touches.
type Kind int

const (
	KindFlag Kind = iota
	KindZone
)

func (k Kind) String() string {
	switch k {
	case KindFlag:
		return "flag"
	case KindZone:
		return "zone"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Token identifies one in-flight touch.
type Token uint64

// Pair holds the raw entity indexes of a touch: the touched entity and the
// entity touching it.
type Pair struct {
	Entity int
	Other  int
}

// Correlator keeps one pending table per kind.
type Correlator struct {
	mu     sync.Mutex
	next   Token
	tables map[Kind]map[Token]Pair
}

// NewCorrelator creates empty tables.
func NewCorrelator() *Correlator {
	return &Correlator{
		tables: map[Kind]map[Token]Pair{
			KindFlag: {},
			KindZone: {},
		},
	}
}

// Enter stores pair and returns its token.
func (c *Correlator) Enter(kind Kind, pair Pair) Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	table, ok := c.tables[kind]
	if !ok {
		table = make(map[Token]Pair)
		c.tables[kind] = table
	}
	table[c.next] = pair
	return c.next
}

// Exit removes and returns the pair stored under token.
func (c *Correlator) Exit(kind Kind, token Token) (Pair, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pair, ok := c.tables[kind][token]
	if !ok {
		return Pair{}, fmt.Errorf("%w: %s touch %d", ErrUnknownToken, kind, token)
	}
	delete(c.tables[kind], token)
	return pair, nil
}

// Pending returns the number of entries of kind awaiting their exit call.
func (c *Correlator) Pending(kind Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tables[kind])
}

// Reset empties every table and returns how many entries were dropped. Any
// entry still pending at that point never saw its exit call.
func (c *Correlator) Reset() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for kind, table := range c.tables {
		n += len(table)
		c.tables[kind] = make(map[Token]Pair)
	}
	return n
}
