package sim

import "math"

// Position is a point in the simulation plane, in meters.
type Position struct {
	X float64
	Y float64
}

// Distance returns the Euclidean distance between two positions in meters.
func Distance(a, b Position) float64 {
	dx := b.X - a.X
	dy := b.Y - a.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// UnitVector returns the unit direction from `from` toward `to`.
// Returns the zero vector when the two positions coincide.
func UnitVector(from, to Position) (float64, float64) {
	d := Distance(from, to)
	if d == 0 {
		return 0, 0
	}
	return (to.X - from.X) / d, (to.Y - from.Y) / d
}

// Midpoint returns the point halfway between a and b.
func Midpoint(a, b Position) Position {
	return Position{X: (a.X + b.X) / 2, Y: (a.Y + b.Y) / 2}
}
