package main

import (
	"math"
	"math/rand/v2"

	"github.com/Carmen-Shannon/oxy-cull/common"
	"github.com/Carmen-Shannon/oxy-cull/engine/builder"
	"github.com/Carmen-Shannon/oxy-cull/engine/camera"
	"github.com/Carmen-Shannon/oxy-cull/engine/light"
	"github.com/Carmen-Shannon/oxy-cull/engine/query"
	"github.com/go-gl/mathgl/mgl32"
)

type benchPrimitive struct {
	id        uint32
	offset    uint32
	instances uint32
	center    mgl32.Vec3
	velocity  mgl32.Vec3
	half      mgl32.Vec3
	spread    float32
	dynamic   bool
}

// benchScene is a synthetic scene: boxes of instances scattered in a cube,
// some of them drifting every frame, a few removed and re-added as churn,
// and an orbiting camera plus point-light probes as views.
type benchScene struct {
	rng        *rand.Rand
	conf       sceneConfig
	primitives []benchPrimitive
	nextID     uint32
	nextOffset uint32
	started    bool
	time       float32

	camera camera.Camera
	sun    light.Light
	lights []light.Light
}

type sceneConfig struct {
	Primitives   int
	Instances    int
	WorldSize    float32
	DynamicRatio float64
	Churn        int
	Probes       int
	ProbeRadius  float32
	Seed         uint64
}

func newBenchScene(conf sceneConfig) *benchScene {
	s := &benchScene{
		rng:  rand.New(rand.NewPCG(conf.Seed, conf.Seed^0x9e3779b97f4a7c15)),
		conf: conf,
		camera: camera.NewCamera(
			camera.WithFar(conf.WorldSize),
			camera.WithAspect(16.0/9.0),
		),
		sun: light.NewLight(light.LightTypeDirectional,
			light.WithDirection(mgl32.Vec3{0.3, -1, 0.2}),
			light.WithShadowBox(conf.WorldSize/8, 0.1, conf.WorldSize),
		),
	}
	for range conf.Probes {
		s.lights = append(s.lights, light.NewLight(light.LightTypePoint, light.WithRange(conf.ProbeRadius)))
	}
	s.primitives = make([]benchPrimitive, 0, conf.Primitives)
	for range conf.Primitives {
		s.primitives = append(s.primitives, s.newPrimitive())
	}
	return s
}

func (s *benchScene) newPrimitive() benchPrimitive {
	half := s.conf.WorldSize / 2
	p := benchPrimitive{
		id:        s.nextID,
		offset:    s.nextOffset,
		instances: uint32(1 + s.rng.IntN(max(s.conf.Instances, 1))),
		center:    mgl32.Vec3{s.coord(half), s.coord(half), s.coord(half)},
		half:      mgl32.Vec3{s.size(), s.size(), s.size()},
		spread:    s.size() * 4,
		dynamic:   s.rng.Float64() < s.conf.DynamicRatio,
	}
	if p.dynamic {
		p.velocity = mgl32.Vec3{s.coord(4), s.coord(1), s.coord(4)}
	}
	s.nextID++
	s.nextOffset += p.instances
	return p
}

func (s *benchScene) coord(half float32) float32 {
	return (s.rng.Float32()*2 - 1) * half
}

// size is log-distributed between 0.25 and 64 world units.
func (s *benchScene) size() float32 {
	return float32(0.25 * math.Pow(256, s.rng.Float64()))
}

func (s *benchScene) change(p benchPrimitive) builder.PrimitiveChange {
	c := builder.PrimitiveChange{
		ID:             p.id,
		InstanceOffset: p.offset,
		NumInstances:   p.instances,
		IsDynamic:      p.dynamic,
	}
	if p.instances == 1 {
		c.Bounds = common.NewBox(p.center, p.half)
		return c
	}

	c.Bounds = common.EmptyBox()
	c.InstanceBounds = make([]common.Box, p.instances)
	for i := range c.InstanceBounds {
		// deterministic per-instance layout on a ring around the center
		angle := float64(i) * 2.399963
		r := p.spread * float32(math.Sqrt(float64(i)/float64(p.instances)))
		offset := mgl32.Vec3{r * float32(math.Cos(angle)), 0, r * float32(math.Sin(angle))}
		c.InstanceBounds[i] = common.NewBox(p.center.Add(offset), p.half.Mul(0.25))
		c.Bounds = c.Bounds.Union(c.InstanceBounds[i])
	}
	return c
}

// Tick advances the scene and returns the frame's change set.
func (s *benchScene) Tick(dt float32) builder.ChangeSet {
	s.time += dt
	var cs builder.ChangeSet
	if !s.started {
		s.started = true
		for _, p := range s.primitives {
			cs.Added = append(cs.Added, s.change(p))
		}
		return cs
	}

	limit := s.conf.WorldSize / 2
	for i := range s.primitives {
		p := &s.primitives[i]
		if !p.dynamic {
			continue
		}
		p.center = p.center.Add(p.velocity.Mul(dt))
		for a := range 3 {
			if p.center[a] > limit || p.center[a] < -limit {
				p.velocity[a] = -p.velocity[a]
				p.center[a] = mgl32.Clamp(p.center[a], -limit, limit)
			}
		}
		cs.Updated = append(cs.Updated, s.change(*p))
	}

	picked := make(map[int]struct{}, s.conf.Churn)
	for range min(s.conf.Churn, len(s.primitives)) {
		i := s.rng.IntN(len(s.primitives))
		if _, ok := picked[i]; ok {
			continue
		}
		picked[i] = struct{}{}
		cs.Removed = append(cs.Removed, s.primitives[i].id)
		s.primitives[i] = s.newPrimitive()
		cs.Added = append(cs.Added, s.change(s.primitives[i]))
	}
	return s.dedupe(cs)
}

// dedupe drops updates of primitives removed in the same frame.
func (s *benchScene) dedupe(cs builder.ChangeSet) builder.ChangeSet {
	if len(cs.Removed) == 0 {
		return cs
	}
	removed := make(map[uint32]struct{}, len(cs.Removed))
	for _, id := range cs.Removed {
		removed[id] = struct{}{}
	}
	updated := cs.Updated[:0]
	for _, c := range cs.Updated {
		if _, ok := removed[c.ID]; !ok {
			updated = append(updated, c)
		}
	}
	cs.Updated = updated
	return cs
}

// Views adds the camera frustum as view group 0, then the sun's shadow box
// and one cube shadow group per point light.
func (s *benchScene) Views(q query.Query) {
	orbit := s.conf.WorldSize * 0.6
	angle := float64(s.time) * 0.2
	s.camera.LookAt(
		mgl32.Vec3{orbit * float32(math.Cos(angle)), orbit * 0.3, orbit * float32(math.Sin(angle))},
		mgl32.Vec3{},
	)
	q.Add(0, 1, 1, s.camera.CullingVolume())
	next := s.sun.AddShadowViews(q, 1, s.camera.Target())

	if len(s.primitives) == 0 {
		return
	}
	for i, l := range s.lights {
		// point lights ride along with scattered primitives
		l.SetPosition(s.primitives[(i*7919)%len(s.primitives)].center)
		next = l.AddShadowViews(q, next, s.camera.Target())
	}
}
