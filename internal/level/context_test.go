package level

import (
	"sync"
	"testing"

	"github.com/ctfmode/extension/internal/engine/enginetest"
	"github.com/ctfmode/extension/internal/lang"
	"github.com/ctfmode/extension/internal/match"
	"github.com/ctfmode/extension/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContext_Defaults(t *testing.T) {
	ctx := NewContext()
	assert.Equal(t, "No map loaded", ctx.MapName())
	assert.Nil(t, ctx.Match())
	attrs := ctx.LogAttrs()
	require.Len(t, attrs, 1)
	assert.Equal(t, "map", attrs[0].Key)
	assert.Equal(t, "No map loaded", attrs[0].Value.String())
}

func loadMatch(t *testing.T) *match.Match {
	t.Helper()
	h := enginetest.NewHarness()
	cat, err := lang.New("en", "css")
	require.NoError(t, err)
	m, err := match.Load("ctf_test", nil, match.Config{}, match.Deps{
		Services: h.Services(),
		Sessions: session.NewTracker(),
		Catalog:  cat,
	})
	require.NoError(t, err)
	return m
}

func TestContext_SetAndClear(t *testing.T) {
	m := loadMatch(t)
	require.NoError(t, m.RoundStart())

	ctx := NewContext()
	ctx.Set("ctf_test", m)
	assert.Equal(t, "ctf_test", ctx.MapName())
	assert.Same(t, m, ctx.Match())

	attrs := ctx.LogAttrs()
	require.Len(t, attrs, 2)
	assert.Equal(t, "ctf_test", attrs[0].Value.String())
	assert.Equal(t, uint64(1), attrs[1].Value.Uint64())

	assert.Same(t, m, ctx.Clear())
	assert.Nil(t, ctx.Match())
	assert.Equal(t, "No map loaded", ctx.MapName())
}

// Storage and upload goroutines log through the context handler while the
// game thread starts rounds.
func TestContext_LogAttrsFromOtherGoroutines(t *testing.T) {
	m := loadMatch(t)
	ctx := NewContext()
	ctx.Set("ctf_test", m)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			attrs := ctx.LogAttrs()
			assert.Len(t, attrs, 2)
		}
	}()
	for i := 0; i < 200; i++ {
		require.NoError(t, m.RoundStart())
	}
	wg.Wait()

	attrs := ctx.LogAttrs()
	assert.Equal(t, uint64(200), attrs[1].Value.Uint64())
}
