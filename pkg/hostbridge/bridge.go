// Package hostbridge connects the extension to the host engine: Bridge
// answers the host's calls into the extension, Client implements the engine
// services by calling back into the host.
package hostbridge

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ctfmode/extension/internal/dispatcher"
)

// TimestampCommand is answered by the bridge itself with the current Unix
// time in nanoseconds.
const TimestampCommand = ":TIMESTAMP:"

// Bridge routes host calls to the dispatcher and formats the replies.
type Bridge struct {
	mu         sync.RWMutex
	version    string
	dispatcher *dispatcher.Dispatcher
	now        func() time.Time
}

// NewBridge creates a bridge answering version requests with version.
func NewBridge(version string) *Bridge {
	return &Bridge{version: version, now: time.Now}
}

// Version returns the string reported when the host first loads the extension.
func (b *Bridge) Version() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.version
}

// SetDispatcher sets the event dispatcher for handling commands
func (b *Bridge) SetDispatcher(d *dispatcher.Dispatcher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dispatcher = d
}

// Dispatcher returns the configured dispatcher, or nil if not set
func (b *Bridge) Dispatcher() *dispatcher.Dispatcher {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dispatcher
}

// CallRaw handles a call made with a single string. Arguments may follow the
// command separated by '|', e.g. ":PLAYER:JOIN:|3".
func (b *Bridge) CallRaw(input string) string {
	if input == TimestampCommand {
		return b.timestamp()
	}
	parts := strings.Split(input, "|")
	return b.Call(parts[0], parts[1:])
}

// Call handles a command with its arguments and returns the reply for the
// host: ["ok"], ["ok", <result>] or ["error", "<message>"].
func (b *Bridge) Call(command string, args []string) string {
	if command == TimestampCommand {
		return b.timestamp()
	}

	d := b.Dispatcher()
	if d == nil || !d.HasHandler(command) {
		return FormatResponse(nil, fmt.Errorf("%w: %s", dispatcher.ErrUnknownCommand, command))
	}

	result, err := d.Dispatch(dispatcher.Event{
		Command:   command,
		Args:      args,
		Timestamp: b.now(),
	})
	return FormatResponse(result, err)
}

func (b *Bridge) timestamp() string {
	return strconv.FormatInt(b.now().UTC().UnixNano(), 10)
}

// FormatResponse formats a handler result for the host. Strings are sent as
// host string literals with embedded quotes doubled, everything else as JSON.
func FormatResponse(result any, err error) string {
	if err != nil {
		return fmt.Sprintf(`["error", %s]`, quote(err.Error()))
	}
	if result == nil {
		return `["ok"]`
	}
	if s, ok := result.(string); ok {
		return fmt.Sprintf(`["ok", %s]`, quote(s))
	}
	data, mErr := json.Marshal(result)
	if mErr != nil {
		return fmt.Sprintf(`["error", %s]`, quote(mErr.Error()))
	}
	return fmt.Sprintf(`["ok", %s]`, data)
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
