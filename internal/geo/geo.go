package geo

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/ctfmode/extension/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
)

// Positions are engine units. They are stored as XYZ points so recorded
// events keep the full 3D location in WKB form.

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// ParsePosition3D parses an "x, y, z" string into a core.Position3D.
// Exactly three comma-separated finite components are required; surrounding
// whitespace is ignored.
func ParsePosition3D(coords string) (core.Position3D, error) {
	parts := strings.Split(coords, ",")
	if len(parts) != 3 {
		return core.Position3D{}, ErrInvalidCoordinates
	}
	values := make([]float64, 3)
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return core.Position3D{}, ErrInvalidCoordinates
		}
		values[i] = v
	}
	return PositionFromSlice(values)
}

// PositionFromSlice builds a position from a list of exactly three finite
// numbers. NaN and infinities are rejected.
func PositionFromSlice(values []float64) (core.Position3D, error) {
	if len(values) != 3 {
		return core.Position3D{}, ErrInvalidCoordinates
	}
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return core.Position3D{}, ErrInvalidCoordinates
		}
	}
	return core.Position3D{X: values[0], Y: values[1], Z: values[2]}, nil
}

// PointFromPosition converts a position into an XYZ point.
func PointFromPosition(p core.Position3D) geom.Point {
	return geom.NewPoint(
		geom.Coordinates{
			XY:   geom.XY{X: p.X, Y: p.Y},
			Z:    p.Z,
			Type: geom.DimXYZ,
		},
	)
}

// PositionFromPoint converts a point back into a position. It reports false
// for an empty point.
func PositionFromPoint(point geom.Point) (core.Position3D, bool) {
	coords, ok := point.Coordinates()
	if !ok {
		return core.Position3D{}, false
	}
	return core.Position3D{X: coords.X, Y: coords.Y, Z: coords.Z}, true
}
