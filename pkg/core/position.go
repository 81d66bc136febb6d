// pkg/core/position.go
package core

import "math"

// Position3D is a point in engine world units.
type Position3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (p Position3D) Add(o Position3D) Position3D {
	return Position3D{X: p.X + o.X, Y: p.Y + o.Y, Z: p.Z + o.Z}
}

func (p Position3D) Sub(o Position3D) Position3D {
	return Position3D{X: p.X - o.X, Y: p.Y - o.Y, Z: p.Z - o.Z}
}

func (p Position3D) Scale(f float64) Position3D {
	return Position3D{X: p.X * f, Y: p.Y * f, Z: p.Z * f}
}

// Midpoint returns the point halfway between p and o.
func (p Position3D) Midpoint(o Position3D) Position3D {
	return p.Add(o).Scale(0.5)
}

// Abs returns p with every component made non-negative.
func (p Position3D) Abs() Position3D {
	return Position3D{X: math.Abs(p.X), Y: math.Abs(p.Y), Z: math.Abs(p.Z)}
}
