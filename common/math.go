package common

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Center returns the midpoint of the box.
func (b Box) Center() mgl32.Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

// Size returns the full edge lengths of the box.
func (b Box) Size() mgl32.Vec3 {
	return b.Max.Sub(b.Min)
}

// MaxDimension returns the largest edge length of the box. This is the
// footprint used to choose a spatial hash level.
//
// Returns:
//   - float32: the largest of the three edge lengths
func (b Box) MaxDimension() float32 {
	s := b.Size()
	return max(s[0], s[1], s[2])
}

// IsDegenerate reports whether the box cannot be placed spatially: any
// component is NaN or infinite, Max is below Min on some axis, or the box has
// no extent at all.
//
// Returns:
//   - bool: true if the box is degenerate
func (b Box) IsDegenerate() bool {
	for i := range 3 {
		if !IsFinite(b.Min[i]) || !IsFinite(b.Max[i]) {
			return true
		}
		if b.Max[i] < b.Min[i] {
			return true
		}
	}
	return b.MaxDimension() == 0
}

// Union returns the smallest box containing both boxes.
func (b Box) Union(o Box) Box {
	return Box{
		Min: mgl32.Vec3{min(b.Min[0], o.Min[0]), min(b.Min[1], o.Min[1]), min(b.Min[2], o.Min[2])},
		Max: mgl32.Vec3{max(b.Max[0], o.Max[0]), max(b.Max[1], o.Max[1]), max(b.Max[2], o.Max[2])},
	}
}

// Expand grows the box by margin on every side.
func (b Box) Expand(margin float32) Box {
	m := mgl32.Vec3{margin, margin, margin}
	return Box{Min: b.Min.Sub(m), Max: b.Max.Add(m)}
}

// IntersectsBox reports whether the two boxes overlap (touching counts).
func (b Box) IntersectsBox(o Box) bool {
	for i := range 3 {
		if b.Max[i] < o.Min[i] || o.Max[i] < b.Min[i] {
			return false
		}
	}
	return true
}

// Contains reports whether o lies fully inside b.
func (b Box) Contains(o Box) bool {
	for i := range 3 {
		if o.Min[i] < b.Min[i] || o.Max[i] > b.Max[i] {
			return false
		}
	}
	return true
}

// DistanceSquared returns the squared distance from p to the closest point of the box.
func (b Box) DistanceSquared(p mgl32.Vec3) float32 {
	var d float32
	for i := range 3 {
		if p[i] < b.Min[i] {
			v := b.Min[i] - p[i]
			d += v * v
		} else if p[i] > b.Max[i] {
			v := p[i] - b.Max[i]
			d += v * v
		}
	}
	return d
}

// IntersectsBox reports whether the sphere overlaps the box.
//
// Parameters:
//   - b: the box to test
//
// Returns:
//   - bool: true if the closest point of b is within the radius
func (s Sphere) IntersectsBox(b Box) bool {
	if s.Radius < 0 {
		return false
	}
	return b.DistanceSquared(s.Center) <= s.Radius*s.Radius
}

// Bounds returns the axis-aligned box enclosing the sphere.
func (s Sphere) Bounds() Box {
	return NewBox(s.Center, mgl32.Vec3{s.Radius, s.Radius, s.Radius})
}

// SignedDistance returns the signed distance from p to the plane. Positive is inside.
func (p Plane) SignedDistance(point mgl32.Vec3) float32 {
	return p.Normal.Dot(point) + p.Distance
}

// IntersectsBox reports whether the box is at least partially inside every plane.
// Each plane is tested against the box corner furthest along its normal.
//
// Parameters:
//   - b: the box to test
//
// Returns:
//   - bool: false if the box is fully outside any plane
func (v ConvexVolume) IntersectsBox(b Box) bool {
	for _, p := range v.Planes {
		var corner mgl32.Vec3
		for i := range 3 {
			if p.Normal[i] >= 0 {
				corner[i] = b.Max[i]
			} else {
				corner[i] = b.Min[i]
			}
		}
		if p.SignedDistance(corner) < 0 {
			return false
		}
	}
	return true
}

// IntersectsSphere reports whether the sphere is at least partially inside every plane.
func (v ConvexVolume) IntersectsSphere(s Sphere) bool {
	for _, p := range v.Planes {
		if p.SignedDistance(s.Center) < -s.Radius {
			return false
		}
	}
	return true
}

// IsFinite reports whether f is neither NaN nor infinite.
func IsFinite(f float32) bool {
	return !math.IsNaN(float64(f)) && !math.IsInf(float64(f), 0)
}
