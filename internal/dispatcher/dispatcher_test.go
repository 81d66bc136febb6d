package dispatcher

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLogger implements Logger for testing
type testLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *testLogger) Debug(msg string, keysAndValues ...any) {
	l.add("DEBUG", msg, keysAndValues)
}

func (l *testLogger) Info(msg string, keysAndValues ...any) {
	l.add("INFO", msg, keysAndValues)
}

func (l *testLogger) Error(msg string, keysAndValues ...any) {
	l.add("ERROR", msg, keysAndValues)
}

func (l *testLogger) add(level, msg string, kv []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("%s: %s %v", level, msg, kv))
}

func (l *testLogger) count(prefix string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, m := range l.messages {
		if strings.HasPrefix(m, prefix) {
			n++
		}
	}
	return n
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *testLogger) {
	t.Helper()
	logger := &testLogger{}
	d, err := New(logger)
	require.NoError(t, err)
	return d, logger
}

func TestDispatcher_SyncHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var got Event
	d.Register(":TEST:", func(e Event) (any, error) {
		got = e
		return "result", nil
	})

	result, err := d.Dispatch(Event{Command: ":TEST:", Args: []string{"arg1"}})

	require.NoError(t, err)
	assert.Equal(t, "result", result)
	assert.Equal(t, []string{"arg1"}, got.Args)
}

func TestDispatcher_UnknownCommand(t *testing.T) {
	d, _ := newTestDispatcher(t)

	_, err := d.Dispatch(Event{Command: ":UNKNOWN:"})

	require.ErrorIs(t, err, ErrUnknownCommand)
	assert.Contains(t, err.Error(), ":UNKNOWN:")
}

func TestDispatcher_MinArgs(t *testing.T) {
	d, _ := newTestDispatcher(t)

	calls := 0
	d.Register(":TOUCH:FLAG:ENTER:", func(e Event) (any, error) {
		calls++
		return e.Args[1], nil
	}, MinArgs(2))

	_, err := d.Dispatch(Event{Command: ":TOUCH:FLAG:ENTER:", Args: []string{"101"}})
	require.ErrorIs(t, err, ErrMissingArgs)
	assert.Contains(t, err.Error(), "want 2, got 1")
	assert.Equal(t, 0, calls)

	result, err := d.Dispatch(Event{Command: ":TOUCH:FLAG:ENTER:", Args: []string{"101", "3"}})
	require.NoError(t, err)
	assert.Equal(t, "3", result)
	assert.Equal(t, 1, calls)
}

func TestDispatcher_LoggedHandler(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register(":LOGGED:", func(e Event) (any, error) {
		return "ok", nil
	}, Logged())

	_, err := d.Dispatch(Event{Command: ":LOGGED:", Args: []string{"a", "b"}})
	require.NoError(t, err)

	assert.Equal(t, 2, logger.count("DEBUG"))
	assert.Equal(t, 0, logger.count("ERROR"))
}

func TestDispatcher_LoggedHandlerError(t *testing.T) {
	d, logger := newTestDispatcher(t)

	boom := errors.New("test error")
	d.Register(":ERROR:", func(e Event) (any, error) {
		return nil, boom
	}, Logged())

	_, err := d.Dispatch(Event{Command: ":ERROR:"})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, logger.count("ERROR"))
}

func TestDispatcher_LoggedMissingArgsIsLogged(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register(":PLAYER:DEATH:", func(e Event) (any, error) {
		return nil, nil
	}, MinArgs(1), Logged())

	_, err := d.Dispatch(Event{Command: ":PLAYER:DEATH:"})

	require.ErrorIs(t, err, ErrMissingArgs)
	assert.Equal(t, 1, logger.count("ERROR"))
}

func TestDispatcher_HasHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	d.Register(":EXISTS:", func(e Event) (any, error) { return nil, nil })

	assert.True(t, d.HasHandler(":EXISTS:"))
	assert.False(t, d.HasHandler(":NOT_EXISTS:"))
}

func TestDispatcher_Commands(t *testing.T) {
	d, _ := newTestDispatcher(t)

	noop := func(e Event) (any, error) { return nil, nil }
	d.Register(":TICK:", noop)
	d.Register(":ROUND:START:", noop)
	d.Register(":LEVEL:INIT:", noop)

	assert.Equal(t, []string{":LEVEL:INIT:", ":ROUND:START:", ":TICK:"}, d.Commands())
}
