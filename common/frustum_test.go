package common

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/require"
)

func testFrustum() Frustum {
	proj := mgl32.Perspective(mgl32.DegToRad(90), 1, 0.1, 100)
	view := mgl32.LookAtV(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0})
	return ExtractFrustumFromMatrix(proj.Mul4(view))
}

func TestExtractFrustumPlanesAreNormalized(t *testing.T) {
	f := testFrustum()
	for i, p := range f.Planes {
		require.InDelta(t, 1.0, p.Normal.Len(), 1e-5, "plane %d", i)
	}
}

func TestFrustumBoxVisibility(t *testing.T) {
	v := testFrustum().ConvexVolume()
	unit := mgl32.Vec3{0.5, 0.5, 0.5}

	t.Run("in front", func(t *testing.T) {
		require.True(t, v.IntersectsBox(NewBox(mgl32.Vec3{0, 0, -10}, unit)))
	})
	t.Run("behind", func(t *testing.T) {
		require.False(t, v.IntersectsBox(NewBox(mgl32.Vec3{0, 0, 10}, unit)))
	})
	t.Run("beyond far plane", func(t *testing.T) {
		require.False(t, v.IntersectsBox(NewBox(mgl32.Vec3{0, 0, -200}, unit)))
	})
	t.Run("outside left", func(t *testing.T) {
		require.False(t, v.IntersectsBox(NewBox(mgl32.Vec3{-50, 0, -10}, unit)))
	})
	t.Run("straddling near plane", func(t *testing.T) {
		require.True(t, v.IntersectsBox(NewBox(mgl32.Vec3{0, 0, 0}, unit)))
	})
}

func TestFrustumSphereVisibility(t *testing.T) {
	v := testFrustum().ConvexVolume()
	require.True(t, v.IntersectsSphere(Sphere{Center: mgl32.Vec3{0, 0, -10}, Radius: 1}))
	require.False(t, v.IntersectsSphere(Sphere{Center: mgl32.Vec3{0, 0, 10}, Radius: 1}))
	require.True(t, v.IntersectsSphere(Sphere{Center: mgl32.Vec3{0, 0, 10}, Radius: 11}))
}
