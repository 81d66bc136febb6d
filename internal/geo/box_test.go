package geo

import (
	"testing"

	"github.com/ctfmode/extension/pkg/core"
	"github.com/stretchr/testify/assert"
)

func TestBoxFromCorners(t *testing.T) {
	a := core.Position3D{X: 100, Y: -50, Z: 0}
	b := core.Position3D{X: -100, Y: 50, Z: 128}

	box := BoxFromCorners(a, b)
	assert.Equal(t, core.Position3D{X: 0, Y: 0, Z: 64}, box.Origin)
	assert.Equal(t, core.Position3D{X: 100, Y: 50, Z: 64}, box.HalfExtents)
	assert.Equal(t, core.Position3D{X: 100, Y: 50, Z: 64}, box.Maxs())
	assert.Equal(t, core.Position3D{X: -100, Y: -50, Z: -64}, box.Mins())

	// corner order does not matter
	assert.Equal(t, box, BoxFromCorners(b, a))
}

func TestBoxFootprint(t *testing.T) {
	box := BoxFromCorners(core.Position3D{X: 0, Y: 0, Z: 0}, core.Position3D{X: 4, Y: 2, Z: 8})
	ls := box.Footprint()

	assert.True(t, ls.IsClosed())
	seq := ls.Coordinates()
	assert.Equal(t, 5, seq.Length())
	assert.Equal(t, 0.0, seq.GetXY(0).X)
	assert.Equal(t, 4.0, seq.GetXY(2).X)
	assert.Equal(t, 2.0, seq.GetXY(2).Y)
}
