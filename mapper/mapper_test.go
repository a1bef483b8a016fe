package mapper

import (
	"context"
	"math"
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/raido/featureflag"
	"github.com/aukilabs/raido/models"
	"github.com/aukilabs/raido/occupancy"
	"github.com/aukilabs/raido/voxel"
	"github.com/stretchr/testify/require"
)

func newTestMapper(t *testing.T, mutate func(*Config), flags ...featureflag.Flag) *Mapper {
	t.Helper()

	conf := DefaultConfig()
	if mutate != nil {
		mutate(&conf)
	}

	names := make([]string, len(flags))
	for i, f := range flags {
		names[i] = string(f)
	}

	m, err := New(conf, featureflag.New(names))
	require.NoError(t, err)
	return m
}

// centerPose sits the device at the center of voxel (0,0,0) with identity
// orientation, so device-frame points map to world points directly offset
// by half a voxel.
func centerPose(size float64) models.Pose {
	return models.Pose{PX: size / 2, PY: size / 2, PZ: size / 2, RW: 1}
}

func TestNew(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		m, err := New(DefaultConfig(), nil)
		require.NoError(t, err)
		require.Equal(t, voxel.AlgorithmDDA, m.Algorithm())
	})

	t.Run("invalid config", func(t *testing.T) {
		_, err := New(Config{}, nil)
		require.Error(t, err)
		require.True(t, errors.IsType(err, ErrTypeBadConfig))
	})
}

func TestMapperNewMap(t *testing.T) {
	m := newTestMapper(t, func(c *Config) { c.VoxelSize = 0.5 })

	grid := m.NewMap()
	require.Equal(t, 0.5, grid.VoxelSize())
	require.Equal(t, m.Config().Tuning, grid.Tuning())
}

func TestIntegrateScan(t *testing.T) {
	t.Run("single point carves a ray", func(t *testing.T) {
		m := newTestMapper(t, nil)
		grid := m.NewMap()

		sum, err := m.IntegrateScan(context.Background(), grid, ScanFrame{
			Pose:   centerPose(0.1),
			Score:  0.9,
			Points: []voxel.Point3{{X: 0.9}},
		})
		require.NoError(t, err)
		require.Equal(t, 1, sum.Rays)
		require.Zero(t, sum.Clamped)
		require.Zero(t, sum.Skipped)
		require.Len(t, sum.Changed, 10)

		require.Equal(t, occupancy.StateOccupied, grid.State(voxel.Index{X: 9}))
		require.Equal(t, occupancy.StateFree, grid.State(voxel.Index{}))
		require.Equal(t, occupancy.StateFree, grid.State(voxel.Index{X: 5}))
	})

	t.Run("points are placed through the pose", func(t *testing.T) {
		m := newTestMapper(t, nil)
		grid := m.NewMap()

		// Quarter turn around z: the device +x axis looks along world +y.
		s := math.Sqrt2 / 2
		pose := models.Pose{PX: 10.05, PY: 0.05, PZ: 0.05, RZ: s, RW: s}

		_, err := m.IntegrateScan(context.Background(), grid, ScanFrame{
			Pose:   pose,
			Score:  0.9,
			Points: []voxel.Point3{{X: 1}},
		})
		require.NoError(t, err)

		require.Equal(t, occupancy.StateOccupied, grid.State(voxel.Index{X: 100, Y: 10}))
		require.Equal(t, occupancy.StateFree, grid.State(voxel.Index{X: 100, Y: 5}))
	})

	t.Run("many points fan out", func(t *testing.T) {
		m := newTestMapper(t, func(c *Config) { c.Workers = 3 })
		grid := m.NewMap()

		points := make([]voxel.Point3, 50)
		for i := range points {
			points[i] = voxel.Point3{X: 0.9, Y: float64(i) * 0.01}
		}

		sum, err := m.IntegrateScan(context.Background(), grid, ScanFrame{
			Pose:   centerPose(0.1),
			Score:  0.9,
			Points: points,
		})
		require.NoError(t, err)
		require.Equal(t, 50, sum.Rays)
		require.Equal(t, uint64(50), grid.Stats().Rays)
	})

	t.Run("empty scan integrates nothing", func(t *testing.T) {
		m := newTestMapper(t, nil)
		grid := m.NewMap()

		sum, err := m.IntegrateScan(context.Background(), grid, ScanFrame{
			Pose:  centerPose(0.1),
			Score: 0.9,
		})
		require.NoError(t, err)
		require.Zero(t, sum.Rays)
		require.Empty(t, sum.Changed)
	})
}

func TestIntegrateScanScoreGate(t *testing.T) {
	t.Run("low score is rejected", func(t *testing.T) {
		m := newTestMapper(t, nil)
		grid := m.NewMap()

		_, err := m.IntegrateScan(context.Background(), grid, ScanFrame{
			Pose:   centerPose(0.1),
			Score:  0.3,
			Points: []voxel.Point3{{X: 0.9}},
		})
		require.Error(t, err)
		require.True(t, errors.IsType(err, ErrTypeLowScore))
		require.Zero(t, grid.Stats().Rays)
	})

	t.Run("unscored scan is accepted by default", func(t *testing.T) {
		m := newTestMapper(t, nil)
		grid := m.NewMap()

		sum, err := m.IntegrateScan(context.Background(), grid, ScanFrame{
			Pose:   centerPose(0.1),
			Points: []voxel.Point3{{X: 0.9}},
		})
		require.NoError(t, err)
		require.Equal(t, 1, sum.Rays)
	})

	t.Run("unscored scan is rejected when flagged", func(t *testing.T) {
		m := newTestMapper(t, nil, featureflag.FlagRejectUnscoredScans)
		grid := m.NewMap()

		_, err := m.IntegrateScan(context.Background(), grid, ScanFrame{
			Pose:   centerPose(0.1),
			Points: []voxel.Point3{{X: 0.9}},
		})
		require.Error(t, err)
		require.True(t, errors.IsType(err, ErrTypeLowScore))
	})
}

func TestIntegrateScanMaxRange(t *testing.T) {
	m := newTestMapper(t, func(c *Config) { c.MaxRange = 1 })
	grid := m.NewMap()

	sum, err := m.IntegrateScan(context.Background(), grid, ScanFrame{
		Pose:   centerPose(0.1),
		Score:  0.9,
		Points: []voxel.Point3{{X: 5}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, sum.Rays)
	require.Equal(t, 1, sum.Clamped)

	// The ray was cut at one meter and carved as free space only.
	require.Equal(t, occupancy.StateFree, grid.State(voxel.Index{X: 10}))
	require.Equal(t, occupancy.StateUnknown, grid.State(voxel.Index{X: 50}))
	require.Zero(t, grid.Stats().Occupied)
}

func TestIntegrateScanSkipsOversizedRays(t *testing.T) {
	m := newTestMapper(t, func(c *Config) { c.MaxRayVoxels = 5 })
	grid := m.NewMap()

	sum, err := m.IntegrateScan(context.Background(), grid, ScanFrame{
		Pose:   centerPose(0.1),
		Score:  0.9,
		Points: []voxel.Point3{{X: 2}},
	})
	require.NoError(t, err)
	require.Zero(t, sum.Rays)
	require.Equal(t, 1, sum.Skipped)
	require.Zero(t, grid.Stats().Cells)
}

func TestIntegrateScanSkipsNonFinitePoints(t *testing.T) {
	m := newTestMapper(t, nil)
	grid := m.NewMap()

	sum, err := m.IntegrateScan(context.Background(), grid, ScanFrame{
		Pose:   centerPose(0.1),
		Score:  0.9,
		Points: []voxel.Point3{{X: math.NaN()}, {Y: math.Inf(1)}, {X: 0.9}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, sum.Rays)
	require.Equal(t, 2, sum.Skipped)
}

func TestIntegrateScanCrossCheck(t *testing.T) {
	t.Run("agreeing ray", func(t *testing.T) {
		m := newTestMapper(t, nil, featureflag.FlagTraversalCrossCheck)
		grid := m.NewMap()

		sum, err := m.IntegrateScan(context.Background(), grid, ScanFrame{
			Pose:   centerPose(0.1),
			Score:  0.9,
			Points: []voxel.Point3{{X: 0.5, Y: 0.3, Z: 0.2}},
		})
		require.NoError(t, err)
		require.Equal(t, 1, sum.Rays)
		require.Zero(t, sum.Divergent)
	})

	t.Run("half-cell tie diverges", func(t *testing.T) {
		// Between voxel centers (0,0,0) and (2,1,0) the line crosses a cell
		// boundary exactly halfway: the two integer variants resolve that
		// tie in opposite directions and visit different middle voxels.
		m := newTestMapper(t, func(c *Config) { c.VoxelSize = 1 },
			featureflag.FlagTraversalCrossCheck)
		grid := m.NewMap()

		sum, err := m.IntegrateScan(context.Background(), grid, ScanFrame{
			Pose:   centerPose(1),
			Score:  0.9,
			Points: []voxel.Point3{{X: 2, Y: 1}},
		})
		require.NoError(t, err)
		require.Equal(t, 1, sum.Rays)
		require.Equal(t, 1, sum.Divergent)
	})
}

func TestIntegrateScanCanceled(t *testing.T) {
	m := newTestMapper(t, nil)
	grid := m.NewMap()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.IntegrateScan(ctx, grid, ScanFrame{
		Pose:   centerPose(0.1),
		Score:  0.9,
		Points: []voxel.Point3{{X: 0.9}},
	})
	require.Error(t, err)
	require.Zero(t, grid.Stats().Rays)
}
