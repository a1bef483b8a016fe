// Package occupancy keeps the volumetric state of a mapping session: a
// sparse grid of log-odds cells fed by ray traversals. Cells hold evidence,
// not booleans, so conflicting observations fight it out over time instead
// of flickering.
package occupancy

import (
	"sync"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/raido/voxel"
)

// DefaultVoxelSize is the cell edge length used when a map is created
// without an explicit size, in world units.
const DefaultVoxelSize = 0.1

// ErrTypeBadTuning reports tuning values that cannot form a consistent
// occupancy model.
const ErrTypeBadTuning = "invalid_occupancy_tuning"

// State is the discrete reading of a cell's accumulated evidence.
type State uint8

const (
	StateUnknown State = iota
	StateFree
	StateOccupied
)

func (s State) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateOccupied:
		return "occupied"
	default:
		return "unknown"
	}
}

// Tuning holds the log-odds increments and thresholds of the occupancy
// model. The defaults correspond to the usual 0.7 hit / 0.4 miss sensor
// probabilities with clamping, so cells stay revisable forever.
type Tuning struct {
	HitOdds      float32 `yaml:"hit_odds"`
	MissOdds     float32 `yaml:"miss_odds"`
	MinOdds      float32 `yaml:"min_odds"`
	MaxOdds      float32 `yaml:"max_odds"`
	OccupiedOdds float32 `yaml:"occupied_odds"`
	FreeOdds     float32 `yaml:"free_odds"`
}

func DefaultTuning() Tuning {
	return Tuning{
		HitOdds:      0.85,
		MissOdds:     0.4,
		MinOdds:      -2.0,
		MaxOdds:      3.5,
		OccupiedOdds: 0.85,
		FreeOdds:     -0.4,
	}
}

func (t Tuning) Validate() error {
	if t.HitOdds <= 0 {
		return errors.New("hit odds increment must be positive").
			WithType(ErrTypeBadTuning).
			WithTag("hit_odds", t.HitOdds)
	}
	if t.MissOdds <= 0 {
		return errors.New("miss odds decrement must be positive").
			WithType(ErrTypeBadTuning).
			WithTag("miss_odds", t.MissOdds)
	}
	if t.MinOdds >= t.MaxOdds {
		return errors.New("odds clamp range is empty").
			WithType(ErrTypeBadTuning).
			WithTag("min_odds", t.MinOdds).
			WithTag("max_odds", t.MaxOdds)
	}
	if t.FreeOdds >= t.OccupiedOdds {
		return errors.New("free threshold must sit below the occupied threshold").
			WithType(ErrTypeBadTuning).
			WithTag("free_odds", t.FreeOdds).
			WithTag("occupied_odds", t.OccupiedOdds)
	}
	if t.OccupiedOdds > t.MaxOdds || t.FreeOdds < t.MinOdds {
		return errors.New("thresholds fall outside the clamp range").
			WithType(ErrTypeBadTuning)
	}
	return nil
}

// Cell is the accumulated evidence for one voxel.
type Cell struct {
	Odds         float32
	Observations uint32
}

// CellUpdate is a cell snapshot tied to its address, the unit of region
// queries and change broadcasts.
type CellUpdate struct {
	Index voxel.Index `json:"index"`
	Odds  float32     `json:"odds"`
	State State       `json:"state"`
}

// Stats summarizes a map without exposing its cells.
type Stats struct {
	Cells    uint64 `json:"cells"`
	Occupied uint64 `json:"occupied"`
	Free     uint64 `json:"free"`
	Rays     uint64 `json:"rays"`
}

// Map is a sparse voxel occupancy grid. Absent cells are unknown space.
// Safe for concurrent use.
type Map struct {
	size   float64
	tuning Tuning

	mu       sync.RWMutex
	cells    map[voxel.Index]Cell
	rays     uint64
	occupied uint64
	free     uint64
}

func NewMap(size float64, tuning Tuning) *Map {
	if size <= 0 {
		size = DefaultVoxelSize
	}
	if tuning == (Tuning{}) {
		tuning = DefaultTuning()
	}

	return &Map{
		size:   size,
		tuning: tuning,
		cells:  make(map[voxel.Index]Cell),
	}
}

func (m *Map) VoxelSize() float64 {
	return m.size
}

func (m *Map) Tuning() Tuning {
	return m.tuning
}

// Integrate applies one traversed ray: every visited cell takes a miss
// except the last, which takes a hit when the ray ended on a surface
// rather than at its range limit. Consecutive duplicate indices, which
// boundary-stepping traversal can produce around its negative-direction
// correction, collapse to a single observation. Returns the cells whose
// discrete state changed.
func (m *Map) Integrate(visited []voxel.Index, hit bool) []CellUpdate {
	if len(visited) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.rays++
	instrumentIntegratedRay()

	var changed []CellUpdate
	last := len(visited) - 1
	for i, idx := range visited {
		if i > 0 && idx == visited[i-1] {
			continue
		}

		delta := -m.tuning.MissOdds
		if i == last && hit {
			delta = m.tuning.HitOdds
		}
		if update, transitioned := m.observe(idx, delta); transitioned {
			changed = append(changed, update)
		}
	}
	return changed
}

// observe folds one observation into a cell. Callers hold the write lock.
func (m *Map) observe(idx voxel.Index, delta float32) (CellUpdate, bool) {
	c := m.cells[idx]
	created := c.Observations == 0
	before := m.stateOf(c)

	c.Odds = clampOdds(c.Odds+delta, m.tuning.MinOdds, m.tuning.MaxOdds)
	c.Observations++
	m.cells[idx] = c

	after := m.stateOf(c)
	if created {
		instrumentNewCell(after)
	} else if after != before {
		instrumentCellTransition(before, after)
	}
	if after == before {
		return CellUpdate{}, false
	}

	switch before {
	case StateOccupied:
		m.occupied--
	case StateFree:
		m.free--
	}
	switch after {
	case StateOccupied:
		m.occupied++
	case StateFree:
		m.free++
	}

	return CellUpdate{Index: idx, Odds: c.Odds, State: after}, true
}

func (m *Map) stateOf(c Cell) State {
	if c.Observations == 0 {
		return StateUnknown
	}
	if c.Odds >= m.tuning.OccupiedOdds {
		return StateOccupied
	}
	if c.Odds <= m.tuning.FreeOdds {
		return StateFree
	}
	return StateUnknown
}

func (m *Map) Cell(idx voxel.Index) (Cell, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.cells[idx]
	return c, ok
}

func (m *Map) State(idx voxel.Index) State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.stateOf(m.cells[idx])
}

// Region returns the known cells inside the inclusive index box spanned by
// min and max, at most limit of them when limit is positive. Iteration
// order is unspecified, like the sparse storage underneath.
func (m *Map) Region(min, max voxel.Index, limit int) []CellUpdate {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var cells []CellUpdate
	for idx, c := range m.cells {
		if idx.X < min.X || idx.X > max.X ||
			idx.Y < min.Y || idx.Y > max.Y ||
			idx.Z < min.Z || idx.Z > max.Z {
			continue
		}
		cells = append(cells, CellUpdate{Index: idx, Odds: c.Odds, State: m.stateOf(c)})
		if limit > 0 && len(cells) >= limit {
			break
		}
	}
	return cells
}

func (m *Map) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Stats{
		Cells:    uint64(len(m.cells)),
		Occupied: m.occupied,
		Free:     m.free,
		Rays:     m.rays,
	}
}

// Forget removes this map's contribution from the package gauges. Call it
// once when the owning session is discarded; the map itself stays usable
// for tests but is no longer counted.
func (m *Map) Forget() {
	m.mu.RLock()
	defer m.mu.RUnlock()

	unknown := uint64(len(m.cells)) - m.occupied - m.free
	instrumentForgetMap(m.occupied, m.free, unknown)
}

func clampOdds(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
