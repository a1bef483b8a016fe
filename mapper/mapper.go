// Package mapper turns registered depth scans into occupancy map updates:
// it places scan points in the world through the device pose, traverses a
// ray to each of them, and feeds the visited voxels into the session map.
package mapper

import (
	"context"
	"math"
	"runtime"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/raido/featureflag"
	"github.com/aukilabs/raido/models"
	"github.com/aukilabs/raido/occupancy"
	"github.com/aukilabs/raido/voxel"
	"golang.org/x/sync/errgroup"
)

// ErrTypeLowScore reports a scan rejected for an insufficient registration
// score.
const ErrTypeLowScore = "registration_score_too_low"

// Mapper integrates scans into occupancy maps using a fixed pipeline
// config. It is safe for concurrent use.
type Mapper struct {
	conf  Config
	algo  voxel.Algorithm
	flags featureflag.FeatureFlag
}

func New(conf Config, flags featureflag.FeatureFlag) (*Mapper, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	algo, err := voxel.ParseAlgorithm(conf.Algorithm)
	if err != nil {
		return nil, err
	}

	return &Mapper{
		conf:  conf,
		algo:  algo,
		flags: flags,
	}, nil
}

func (m *Mapper) Config() Config {
	return m.conf
}

func (m *Mapper) Algorithm() voxel.Algorithm {
	return m.algo
}

// NewMap returns an empty occupancy map sized and tuned per the pipeline
// config.
func (m *Mapper) NewMap() *occupancy.Map {
	return occupancy.NewMap(m.conf.VoxelSize, m.conf.Tuning)
}

// ScanFrame is one registered depth scan: where the device was and what it
// saw, with points in the device frame.
type ScanFrame struct {
	Pose   models.Pose
	Score  float64
	Points []voxel.Point3

	// Overrides the configured max range when positive.
	MaxRange float64
}

// Summary reports what integrating a scan did to the map.
type Summary struct {
	// Rays traced into the map.
	Rays int

	// Rays clamped to max range and integrated as free space only.
	Clamped int

	// Points dropped without touching the map.
	Skipped int

	// Rays whose traversal variants disagreed, when cross-checking is on.
	Divergent int

	// The cells whose state changed, in no particular order.
	Changed []occupancy.CellUpdate
}

type partial struct {
	rays      int
	clamped   int
	skipped   int
	divergent int
	changed   []occupancy.CellUpdate
}

// IntegrateScan traces a ray from the scan pose to every scan point and
// integrates the visited voxels into the given map. Points are processed by
// a worker pool; per-point problems are counted, not fatal.
func (m *Mapper) IntegrateScan(ctx context.Context, grid *occupancy.Map, frame ScanFrame) (Summary, error) {
	if err := m.admitScore(frame.Score); err != nil {
		return Summary{}, err
	}

	maxRange := frame.MaxRange
	if maxRange <= 0 {
		maxRange = m.conf.MaxRange
	}

	workers := m.conf.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(frame.Points) {
		workers = len(frame.Points)
	}
	if workers < 1 {
		workers = 1
	}

	origin := frame.Pose.Origin()
	size := grid.VoxelSize()

	partials := make([]partial, workers)
	points := make(chan voxel.Point3)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(points)
		for _, p := range frame.Points {
			select {
			case points <- p:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for w := 0; w < workers; w++ {
		part := &partials[w]
		g.Go(func() error {
			for p := range points {
				if err := gctx.Err(); err != nil {
					return err
				}
				m.integratePoint(grid, part, origin, frame.Pose.Transform(p), size, maxRange)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		instrumentScan(scanOutcomeCanceled)
		return Summary{}, errors.New("scan integration canceled").Wrap(err)
	}

	var sum Summary
	for i := range partials {
		sum.Rays += partials[i].rays
		sum.Clamped += partials[i].clamped
		sum.Skipped += partials[i].skipped
		sum.Divergent += partials[i].divergent
		sum.Changed = append(sum.Changed, partials[i].changed...)
	}

	instrumentScan(scanOutcomeIntegrated)
	return sum, nil
}

func (m *Mapper) admitScore(score float64) error {
	if score == 0 {
		var rejected error
		m.flags.IfSet(featureflag.FlagRejectUnscoredScans, func() {
			instrumentScan(scanOutcomeUnscored)
			rejected = errors.New("scan has no registration score").
				WithType(ErrTypeLowScore)
		})
		return rejected
	}

	if math.IsNaN(score) || score < m.conf.MinScore {
		instrumentScan(scanOutcomeLowScore)
		return errors.New("scan registration score is too low").
			WithType(ErrTypeLowScore).
			WithTag("score", score).
			WithTag("min_score", m.conf.MinScore)
	}
	return nil
}

func (m *Mapper) integratePoint(grid *occupancy.Map, part *partial, origin, point voxel.Point3, size, maxRange float64) {
	ray := voxel.Sub(point, origin)
	d := ray.Length()
	if math.IsNaN(d) || math.IsInf(d, 0) {
		part.skipped++
		instrumentSkippedRay(skipReasonNonFinite)
		return
	}

	hit := true
	if d > maxRange {
		point = voxel.Add(origin, voxel.Mul(ray, maxRange/d))
		hit = false
		part.clamped++
	}

	if m.tooLong(origin, point, size) {
		part.skipped++
		instrumentSkippedRay(skipReasonMaxVoxels)
		return
	}

	start := time.Now()
	visited, err := voxel.Traverse(m.algo, origin, point, size)
	instrumentTraversal(m.algo.String(), time.Since(start))
	if err != nil {
		part.skipped++
		instrumentSkippedRay(skipReasonStepBound)
		logs.WithTag("start", origin).
			WithTag("end", point).
			Warn(errors.New("ray traversal aborted").Wrap(err))
		return
	}
	if len(visited) == 0 {
		part.skipped++
		instrumentSkippedRay(skipReasonNonFinite)
		return
	}

	m.flags.IfSet(featureflag.FlagTraversalCrossCheck, func() {
		if !m.crossCheckRay(origin, point, size) {
			part.divergent++
		}
	})

	part.rays++
	part.changed = append(part.changed, grid.Integrate(visited, hit)...)
}

// tooLong rejects rays whose dominant axis already exceeds the voxel
// budget, before any traversal work is done.
func (m *Mapper) tooLong(start, end voxel.Point3, size float64) bool {
	return voxel.Span(voxel.IndexOf(start, size), voxel.IndexOf(end, size)) > m.conf.MaxRayVoxels
}

// crossCheckRay traverses the ray with both integer variants and reports
// whether they visited the same voxel set.
func (m *Mapper) crossCheckRay(start, end voxel.Point3, size float64) bool {
	dda := voxel.TraverseDDA(start, end, size)
	bres := voxel.TraverseBresenham3D(start, end, size)
	if voxel.SetsEqual(dda, bres) {
		return true
	}

	instrumentDivergence()
	logs.WithTag("start", start).
		WithTag("end", end).
		WithTag("voxel_size", size).
		WithTag("dda_voxels", len(dda)).
		WithTag("bresenham_voxels", len(bres)).
		Warn("traversal variants disagree")
	return false
}
