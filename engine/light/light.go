package light

import (
	"math"

	"github.com/Carmen-Shannon/oxy-cull/common"
	"github.com/Carmen-Shannon/oxy-cull/engine/query"
	"github.com/go-gl/mathgl/mgl32"
)

// LightType identifies the kind of light source.
type LightType int

const (
	// LightTypeDirectional represents a light with no position, only direction.
	// Its shadow view is an orthographic box around a focus point.
	LightTypeDirectional LightType = iota

	// LightTypePoint represents a light that emits in all directions from a position.
	// Its shadow is a cube map of six views bounded by the light range.
	LightTypePoint

	// LightTypeSpot represents a light that emits in a cone from a position along a direction.
	// Its shadow view is a perspective frustum covering the outer cone.
	LightTypeSpot
)

// String returns the light type name.
func (t LightType) String() string {
	switch t {
	case LightTypeDirectional:
		return "directional"
	case LightTypePoint:
		return "point"
	case LightTypeSpot:
		return "spot"
	default:
		return "unknown"
	}
}

// lightImpl is the implementation of the Light interface.
type lightImpl struct {
	lightType    LightType
	position     mgl32.Vec3
	direction    mgl32.Vec3
	lightRange   float32
	outerCone    float32 // stored as cos(angle in radians)
	castsShadows bool

	shadowHalfExtent float32
	shadowNear       float32
	shadowFar        float32
}

// Light is a shadow-casting light source seen by the culling index as one
// view group: the views its shadow maps render from.
type Light interface {
	// Type returns the kind of light source.
	//
	// Returns:
	//   - LightType: the light type (directional, point, or spot)
	Type() LightType

	// Position returns the world-space position of the light.
	// Meaningless for directional lights.
	//
	// Returns:
	//   - mgl32.Vec3: the position
	Position() mgl32.Vec3

	// Direction returns the normalized direction of the light.
	// For directional lights this is the light direction. For spot lights this
	// is the cone axis. Meaningless for point lights.
	//
	// Returns:
	//   - mgl32.Vec3: the normalized direction
	Direction() mgl32.Vec3

	// Range returns the maximum distance lit by point and spot lights.
	//
	// Returns:
	//   - float32: the range value
	Range() float32

	// OuterCone returns the cosine of the outer cone half-angle for spot lights.
	//
	// Returns:
	//   - float32: cos(outer half-angle)
	OuterCone() float32

	// CastsShadows returns whether this light renders shadow maps.
	//
	// Returns:
	//   - bool: true if shadow casting is enabled
	CastsShadows() bool

	// NumShadowViews returns the number of shadow map views, six for point
	// lights and one otherwise.
	//
	// Returns:
	//   - int: the view count
	NumShadowViews() int

	// ShadowVolume returns the volume enclosing every shadow view.
	//
	// Parameters:
	//   - focus: the point a directional light's shadow box is centered on
	//
	// Returns:
	//   - query.CullingVolume: the volume
	ShadowVolume(focus mgl32.Vec3) query.CullingVolume

	// AddShadowViews adds the light's shadow views to a query as one view group.
	// Lights not casting shadows add nothing.
	//
	// Parameters:
	//   - q: the query
	//   - firstView: the index of the first shadow view
	//   - focus: the point a directional light's shadow box is centered on
	//
	// Returns:
	//   - int: the index following the light's views
	AddShadowViews(q query.Query, firstView int, focus mgl32.Vec3) int

	// SetPosition moves the light.
	//
	// Parameters:
	//   - position: the new world-space position
	SetPosition(position mgl32.Vec3)
}

var _ Light = &lightImpl{}

// NewLight creates a new Light of the given type.
//
// Parameters:
//   - lightType: the kind of light
//   - opts: functional options to configure the light
//
// Returns:
//   - Light: the light
func NewLight(lightType LightType, opts ...LightBuilderOption) Light {
	l := &lightImpl{
		lightType:        lightType,
		direction:        mgl32.Vec3{0, -1, 0},
		lightRange:       10.0,
		outerCone:        0.8192, // cos(35°)
		castsShadows:     true,
		shadowHalfExtent: DefaultShadowHalfExtent,
		shadowNear:       DefaultShadowNear,
		shadowFar:        DefaultShadowFar,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *lightImpl) Type() LightType {
	return l.lightType
}

func (l *lightImpl) Position() mgl32.Vec3 {
	return l.position
}

func (l *lightImpl) Direction() mgl32.Vec3 {
	return l.direction
}

func (l *lightImpl) Range() float32 {
	return l.lightRange
}

func (l *lightImpl) OuterCone() float32 {
	return l.outerCone
}

func (l *lightImpl) CastsShadows() bool {
	return l.castsShadows
}

func (l *lightImpl) SetPosition(position mgl32.Vec3) {
	l.position = position
}

func (l *lightImpl) NumShadowViews() int {
	if l.lightType == LightTypePoint {
		return 6
	}
	return 1
}

func (l *lightImpl) AddShadowViews(q query.Query, firstView int, focus mgl32.Vec3) int {
	if !l.castsShadows {
		return firstView
	}
	n := l.NumShadowViews()
	q.Add(firstView, n, n, l.ShadowVolume(focus))
	return firstView + n
}

func (l *lightImpl) ShadowVolume(focus mgl32.Vec3) query.CullingVolume {
	switch l.lightType {
	case LightTypePoint:
		// the six cube faces cover all directions, so only the range bounds them
		return query.CullingVolume{
			Sphere:    common.Sphere{Center: l.position, Radius: l.lightRange},
			HasSphere: true,
		}
	case LightTypeSpot:
		return l.spotVolume()
	default:
		return l.directionalVolume(focus)
	}
}

func (l *lightImpl) spotVolume() query.CullingVolume {
	halfAngle := float32(math.Acos(float64(mgl32.Clamp(l.outerCone, -1, 1))))
	fov := mgl32.Clamp(2*halfAngle, 0.01, math.Pi-0.01)
	near := min(DefaultShadowNear, l.lightRange/2)

	view := mgl32.LookAtV(l.position, l.position.Add(l.direction), upFor(l.direction))
	proj := mgl32.Perspective(fov, 1, near, l.lightRange)
	frustum := common.ExtractFrustumFromMatrix(proj.Mul4(view))

	return query.CullingVolume{
		Convex:    frustum.ConvexVolume(),
		Sphere:    coneSphere(l.position, l.direction, l.lightRange, halfAngle),
		HasSphere: true,
	}
}

func (l *lightImpl) directionalVolume(focus mgl32.Vec3) query.CullingVolume {
	depth := l.shadowFar - l.shadowNear
	eye := focus.Sub(l.direction.Mul(l.shadowNear + depth/2))
	h := l.shadowHalfExtent

	view := mgl32.LookAtV(eye, focus, upFor(l.direction))
	proj := mgl32.Ortho(-h, h, -h, h, l.shadowNear, l.shadowFar)
	frustum := common.ExtractFrustumFromMatrix(proj.Mul4(view))

	radius := float32(math.Sqrt(float64(2*h*h + depth*depth/4)))
	return query.CullingVolume{
		Convex:    frustum.ConvexVolume(),
		Sphere:    common.Sphere{Center: focus, Radius: radius},
		HasSphere: true,
	}
}

// coneSphere encloses the points within length of apex and halfAngle of dir.
func coneSphere(apex, dir mgl32.Vec3, length, halfAngle float32) common.Sphere {
	if halfAngle > math.Pi/4 {
		sin, cos := math.Sincos(float64(halfAngle))
		return common.Sphere{
			Center: apex.Add(dir.Mul(length * float32(cos))),
			Radius: length * float32(sin),
		}
	}
	radius := length / (2 * float32(math.Cos(float64(halfAngle))))
	return common.Sphere{Center: apex.Add(dir.Mul(radius)), Radius: radius}
}

// upFor picks an up vector not parallel to dir.
func upFor(dir mgl32.Vec3) mgl32.Vec3 {
	if abs(dir.Y()) > 0.99 {
		return mgl32.Vec3{0, 0, 1}
	}
	return mgl32.Vec3{0, 1, 0}
}

func abs(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
