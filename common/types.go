// package common contains the plain geometry types shared by every culling package. They are not interface-wrapped structs,
// just value types with small predicate methods.
package common

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Box is an axis-aligned bounding box in world space.
type Box struct {
	// Min is the corner with the smallest coordinate on every axis.
	Min mgl32.Vec3
	// Max is the corner with the largest coordinate on every axis.
	Max mgl32.Vec3
}

// Sphere is a bounding sphere in world space.
type Sphere struct {
	// Center is the world-space center of the sphere.
	Center mgl32.Vec3
	// Radius is the sphere radius. A negative radius describes an empty sphere.
	Radius float32
}

// Plane represents a plane in 3D space using the equation: ax + by + cz + d = 0
// where (a, b, c) is the normal and d is the distance from origin.
// Points with a non-negative signed distance are on the inside of the plane.
type Plane struct {
	Normal   mgl32.Vec3
	Distance float32
}

// ConvexVolume is a convex polyhedron described by inward-facing planes.
// A volume with no planes contains all of space.
type ConvexVolume struct {
	Planes []Plane
}

// NewBox builds a Box from a center and half extents.
//
// Parameters:
//   - center: world-space center
//   - halfExtent: half size along each axis
//
// Returns:
//   - Box: the resulting box
func NewBox(center, halfExtent mgl32.Vec3) Box {
	return Box{Min: center.Sub(halfExtent), Max: center.Add(halfExtent)}
}

// EmptyBox returns an inverted box that acts as the identity for Union.
//
// Returns:
//   - Box: a box with Min at +MaxFloat32 and Max at -MaxFloat32
func EmptyBox() Box {
	const big = 3.4028234663852886e38
	return Box{
		Min: mgl32.Vec3{big, big, big},
		Max: mgl32.Vec3{-big, -big, -big},
	}
}
