// internal/humanoid/vector.go
package humanoid

import "math"

// Vector2D is a point or displacement in viewport pixels.
type Vector2D struct {
	X float64
	Y float64
}

func (v Vector2D) Add(o Vector2D) Vector2D { return Vector2D{X: v.X + o.X, Y: v.Y + o.Y} }
func (v Vector2D) Sub(o Vector2D) Vector2D { return Vector2D{X: v.X - o.X, Y: v.Y - o.Y} }
func (v Vector2D) Mul(s float64) Vector2D  { return Vector2D{X: v.X * s, Y: v.Y * s} }
func (v Vector2D) Mag() float64            { return math.Hypot(v.X, v.Y) }
func (v Vector2D) Dist(o Vector2D) float64 { return v.Sub(o).Mag() }
func (v Vector2D) Perpendicular() Vector2D { return Vector2D{X: -v.Y, Y: v.X} }
func (v Vector2D) Lerp(o Vector2D, t float64) Vector2D {
	return Vector2D{X: v.X + (o.X-v.X)*t, Y: v.Y + (o.Y-v.Y)*t}
}

// Normalize returns the unit vector, or zero for a zero vector.
func (v Vector2D) Normalize() Vector2D {
	m := v.Mag()
	if m < 1e-9 {
		return Vector2D{}
	}
	return v.Mul(1 / m)
}

// box is the axis-aligned bounds of an element in viewport coordinates.
type box struct {
	minX, minY, maxX, maxY float64
}

func boxFromVertices(vs []float64) (box, bool) {
	if len(vs) < 8 {
		return box{}, false
	}
	b := box{minX: vs[0], maxX: vs[0], minY: vs[1], maxY: vs[1]}
	for i := 0; i+1 < len(vs); i += 2 {
		b.minX = math.Min(b.minX, vs[i])
		b.maxX = math.Max(b.maxX, vs[i])
		b.minY = math.Min(b.minY, vs[i+1])
		b.maxY = math.Max(b.maxY, vs[i+1])
	}
	return b, b.maxX > b.minX && b.maxY > b.minY
}

func (b box) center() Vector2D {
	return Vector2D{X: (b.minX + b.maxX) / 2, Y: (b.minY + b.maxY) / 2}
}

func (b box) contains(p Vector2D) bool {
	return p.X >= b.minX && p.X <= b.maxX && p.Y >= b.minY && p.Y <= b.maxY
}

func (b box) width() float64 { return b.maxX - b.minX }
