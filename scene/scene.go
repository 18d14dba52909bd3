// Package scene holds the emitter blocks that produce the initial particle
// state. Emitters live in an ECS world so launch parameters can be edited
// between runs without rebuilding the scene.
package scene

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"slices"

	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/diffmpm/components"
	"github.com/pthm-cable/diffmpm/config"
	"github.com/pthm-cable/diffmpm/mpm"
)

var (
	// ErrEmpty is returned when a scene has no emitter with a positive share.
	ErrEmpty = errors.New("scene: no emitters")
	// ErrUnknownBlock is returned when a named emitter does not exist.
	ErrUnknownBlock = errors.New("scene: unknown block")
)

// Emitter is a read-only snapshot of one block.
type Emitter struct {
	Name     string
	Region   components.Region
	Launch   mpm.Vec2
	Fraction float64
}

// Scene is a set of emitter blocks and the seed used to sample them.
type Scene struct {
	world  *ecs.World
	mapper *ecs.Map4[components.Block, components.Region, components.Launch, components.Share]
	filter *ecs.Filter4[components.Block, components.Region, components.Launch, components.Share]

	seed  int64
	count int
}

// New creates an empty scene.
func New(seed int64) *Scene {
	world := ecs.NewWorld()
	return &Scene{
		world:  world,
		mapper: ecs.NewMap4[components.Block, components.Region, components.Launch, components.Share](world),
		filter: ecs.NewFilter4[components.Block, components.Region, components.Launch, components.Share](world),
		seed:   seed,
	}
}

// FromConfig builds a scene from the scene section of the config.
func FromConfig(cfg config.SceneConfig) (*Scene, error) {
	s := New(cfg.Seed)
	for _, b := range cfg.Blocks {
		if err := s.AddBlock(b); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// AddBlock adds an emitter. Regions must lie inside the unit square.
func (s *Scene) AddBlock(b config.BlockConfig) error {
	if b.Size[0] < 0 || b.Size[1] < 0 || b.Fraction < 0 {
		return fmt.Errorf("scene: block %q has negative size or fraction", b.Name)
	}
	for a := 0; a < 2; a++ {
		if b.Min[a] < 0 || b.Min[a]+b.Size[a] > 1 {
			return fmt.Errorf("scene: block %q leaves the unit square", b.Name)
		}
	}
	s.mapper.NewEntity(
		&components.Block{Name: b.Name, Order: s.count},
		&components.Region{MinX: b.Min[0], MinY: b.Min[1], SizeX: b.Size[0], SizeY: b.Size[1]},
		&components.Launch{X: b.Velocity[0], Y: b.Velocity[1]},
		&components.Share{Fraction: b.Fraction},
	)
	s.count++
	return nil
}

// Len returns the number of emitters.
func (s *Scene) Len() int { return s.count }

// Seed returns the sampling seed.
func (s *Scene) Seed() int64 { return s.seed }

// SetSeed changes the sampling seed.
func (s *Scene) SetSeed(seed int64) { s.seed = seed }

// SetLaunch sets the launch velocity of every emitter.
func (s *Scene) SetLaunch(v mpm.Vec2) {
	query := s.filter.Query()
	for query.Next() {
		_, _, launch, _ := query.Get()
		launch.X, launch.Y = v[0], v[1]
	}
}

// SetBlockLaunch sets the launch velocity of the named emitter.
func (s *Scene) SetBlockLaunch(name string, v mpm.Vec2) error {
	found := false
	query := s.filter.Query()
	for query.Next() {
		block, _, launch, _ := query.Get()
		if block.Name == name {
			launch.X, launch.Y = v[0], v[1]
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%w: %q", ErrUnknownBlock, name)
	}
	return nil
}

// Emitters returns the blocks in insertion order.
func (s *Scene) Emitters() []Emitter {
	type ordered struct {
		order int
		e     Emitter
	}
	var list []ordered
	query := s.filter.Query()
	for query.Next() {
		block, region, launch, share := query.Get()
		list = append(list, ordered{block.Order, Emitter{
			Name:     block.Name,
			Region:   *region,
			Launch:   mpm.Vec2{launch.X, launch.Y},
			Fraction: share.Fraction,
		}})
	}
	slices.SortFunc(list, func(a, b ordered) int { return a.order - b.order })

	out := make([]Emitter, len(list))
	for i, o := range list {
		out[i] = o.e
	}
	return out
}

// Counts splits n particles across emitters by share using largest
// remainders, so the counts always sum to n.
func Counts(emitters []Emitter, n int) ([]int, error) {
	var total float64
	for _, e := range emitters {
		total += e.Fraction
	}
	if total <= 0 {
		return nil, ErrEmpty
	}

	counts := make([]int, len(emitters))
	rem := make([]float64, len(emitters))
	assigned := 0
	for i, e := range emitters {
		exact := float64(n) * e.Fraction / total
		counts[i] = int(math.Floor(exact))
		rem[i] = exact - float64(counts[i])
		assigned += counts[i]
	}

	idx := make([]int, len(emitters))
	for i := range idx {
		idx[i] = i
	}
	// Stable so equal remainders go to the earlier emitter
	slices.SortStableFunc(idx, func(a, b int) int {
		switch {
		case rem[a] > rem[b]:
			return -1
		case rem[a] < rem[b]:
			return 1
		}
		return 0
	})
	for k := 0; assigned < n; k++ {
		counts[idx[k%len(idx)]]++
		assigned++
	}
	return counts, nil
}

// Initialize implements mpm.Initializer. Particles are sampled uniformly in
// each emitter's region, block by block, with a generator seeded from the
// scene seed so the same scene always produces the same state.
func (s *Scene) Initialize(h *mpm.History) error {
	emitters := s.Emitters()
	if len(emitters) == 0 {
		return ErrEmpty
	}
	counts, err := Counts(emitters, h.N)
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(s.seed))
	fr := h.Frame(0)
	pi := 0
	for i, e := range emitters {
		r := e.Region
		for k := 0; k < counts[i]; k++ {
			fr.X[pi] = mpm.Vec2{r.MinX + rng.Float64()*r.SizeX, r.MinY + rng.Float64()*r.SizeY}
			fr.V[pi] = e.Launch
			fr.C[pi] = mpm.Mat2{}
			fr.J[pi] = 1
			pi++
		}
	}
	return nil
}
