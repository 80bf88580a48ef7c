// Package geometry picks the attachment sides of a connector between two boxes.
package geometry

import "math"

// Side is the edge of a box a connector attaches to.
type Side string

// Attachment sides.
const (
	Top    Side = "top"
	Bottom Side = "bottom"
	Left   Side = "left"
	Right  Side = "right"
)

// Valid reports whether s is one of the four attachment sides.
func (s Side) Valid() bool {
	switch s {
	case Top, Bottom, Left, Right:
		return true
	}
	return false
}

// Box is an axis-aligned rectangle; y grows downward.
type Box struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Center returns the centre point of the box.
func (b Box) Center() (float64, float64) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// Angle returns the direction from the centre of a to the centre of b in
// degrees, normalised to [0, 360). Coincident centres give 0 in both
// directions, so Route is not complementary for them.
func Angle(a, b Box) float64 {
	ax, ay := a.Center()
	bx, by := b.Center()
	dx, dy := bx-ax, by-ay
	if dx == 0 && dy == 0 {
		return 0
	}
	deg := math.Atan2(dy, dx) * 180 / math.Pi
	if deg < 0 {
		deg += 360
	}
	if deg >= 360 {
		deg -= 360
	}
	return deg
}

// SidesForAngle maps a direction to the sides of the source and target box.
// Quadrants are closed at their lower bound and open at the upper one.
func SidesForAngle(deg float64) (Side, Side) {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	switch {
	case deg >= 315 || deg < 45:
		return Right, Left
	case deg < 135:
		return Bottom, Top
	case deg < 225:
		return Left, Right
	default:
		return Top, Bottom
	}
}

// Route returns the side of a and the side of b a connector from a to b
// should attach to. It depends only on the centre-to-centre angle.
func Route(a, b Box) (Side, Side) {
	return SidesForAngle(Angle(a, b))
}

// Opposite returns the side facing s.
func Opposite(s Side) Side {
	switch s {
	case Top:
		return Bottom
	case Bottom:
		return Top
	case Left:
		return Right
	case Right:
		return Left
	}
	return s
}
