package touch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrelator_EnterExit(t *testing.T) {
	c := NewCorrelator()
	tok := c.Enter(KindFlag, Pair{Entity: 101, Other: 4})
	assert.Equal(t, 1, c.Pending(KindFlag))

	pair, err := c.Exit(KindFlag, tok)
	require.NoError(t, err)
	assert.Equal(t, Pair{Entity: 101, Other: 4}, pair)
	assert.Equal(t, 0, c.Pending(KindFlag))
}

func TestCorrelator_InterleavedTouches(t *testing.T) {
	c := NewCorrelator()
	a := c.Enter(KindFlag, Pair{Entity: 1, Other: 10})
	b := c.Enter(KindFlag, Pair{Entity: 2, Other: 20})
	z := c.Enter(KindZone, Pair{Entity: 3, Other: 30})
	assert.NotEqual(t, a, b)

	pb, err := c.Exit(KindFlag, b)
	require.NoError(t, err)
	assert.Equal(t, 20, pb.Other)

	pz, err := c.Exit(KindZone, z)
	require.NoError(t, err)
	assert.Equal(t, 30, pz.Other)

	pa, err := c.Exit(KindFlag, a)
	require.NoError(t, err)
	assert.Equal(t, 10, pa.Other)
}

func TestCorrelator_UnknownToken(t *testing.T) {
	c := NewCorrelator()
	tok := c.Enter(KindFlag, Pair{Entity: 1, Other: 2})

	_, err := c.Exit(KindFlag, tok+1)
	assert.ErrorIs(t, err, ErrUnknownToken)

	// tables are separate per kind
	_, err = c.Exit(KindZone, tok)
	assert.ErrorIs(t, err, ErrUnknownToken)

	_, err = c.Exit(KindFlag, tok)
	require.NoError(t, err)

	// a token is consumed by its exit
	_, err = c.Exit(KindFlag, tok)
	assert.ErrorIs(t, err, ErrUnknownToken)
}

func TestCorrelator_Reset(t *testing.T) {
	c := NewCorrelator()
	c.Enter(KindFlag, Pair{})
	c.Enter(KindZone, Pair{})
	c.Enter(KindZone, Pair{})

	assert.Equal(t, 3, c.Reset())
	assert.Equal(t, 0, c.Pending(KindFlag))
	assert.Equal(t, 0, c.Pending(KindZone))
}
