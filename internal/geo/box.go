package geo

import (
	"github.com/ctfmode/extension/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
)

// Box is an axis-aligned volume described by its center and half extents.
type Box struct {
	Origin      core.Position3D
	HalfExtents core.Position3D
}

// BoxFromCorners spans the box between two opposite corners. The corners may
// be given in any order.
func BoxFromCorners(a, b core.Position3D) Box {
	origin := a.Midpoint(b)
	return Box{
		Origin:      origin,
		HalfExtents: a.Sub(origin).Abs(),
	}
}

// Mins returns the lower corner relative to the origin.
func (b Box) Mins() core.Position3D {
	return b.HalfExtents.Scale(-1)
}

// Maxs returns the upper corner relative to the origin.
func (b Box) Maxs() core.Position3D {
	return b.HalfExtents
}

// Footprint returns the closed ground outline of the box as a line string.
func (b Box) Footprint() geom.LineString {
	lo := b.Origin.Add(b.Mins())
	hi := b.Origin.Add(b.Maxs())
	flat := []float64{
		lo.X, lo.Y,
		hi.X, lo.Y,
		hi.X, hi.Y,
		lo.X, hi.Y,
		lo.X, lo.Y,
	}
	return geom.NewLineString(geom.NewSequence(flat, geom.DimXY))
}
