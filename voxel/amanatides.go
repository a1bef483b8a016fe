package voxel

import (
	"math"

	"github.com/aukilabs/go-tooling/pkg/errors"
)

// ErrTypeTraversalBound reports an Amanatides-Woo traversal that ran out of
// its step budget before arriving at the end voxel.
const ErrTypeTraversalBound = "traversal_step_bound_exceeded"

const (
	// maxTraversalSteps caps a single traversal regardless of ray length.
	// A bound this size converts NaN-poisoned index arithmetic into a
	// prompt error instead of a near-endless spin, and keeps the visited
	// slice from growing past ~24MB on the way there.
	maxTraversalSteps = 1 << 20

	stepBoundSlack = 8
)

// TraverseAmanatidesWoo enumerates the voxels crossed by the segment from
// start to end, stepping one axis at a time in boundary-crossing order.
// Ref: John Amanatides & Andrew Woo, "A Fast Voxel Traversal Algorithm for
// Ray Tracing", Eurographics 1987.
//
// Unlike the other two variants this one performs no input guard: NaN
// endpoints poison the parametric comparisons and the traversal cannot
// converge. Every call is therefore bounded by a step budget derived from
// the start/end voxel distance, and exceeding it returns an
// ErrTypeTraversalBound error. Negative-direction rays may also emit one
// duplicate index around the corrected start; callers that need strict
// sets must deduplicate. TraverseDDA is the better default.
func TraverseAmanatidesWoo(start, end Point3, size float64) ([]Index, error) {
	ray := Sub(end, start)

	startVoxel := IndexOf(start, size)
	endVoxel := IndexOf(end, size)
	current := startVoxel

	if startVoxel == endVoxel {
		return []Index{startVoxel}, nil
	}

	stepX := stepDir(ray.X)
	stepY := stepDir(ray.Y)
	stepZ := stepDir(ray.Z)

	// Axes whose start and end cells already agree are frozen at +Inf so
	// the stepping loop never selects them, which also keeps the divisions
	// below away from zero direction components.
	tMaxX, tMaxY, tMaxZ := math.Inf(1), math.Inf(1), math.Inf(1)
	tDeltaX, tDeltaY, tDeltaZ := math.Inf(1), math.Inf(1), math.Inf(1)
	if startVoxel.X != endVoxel.X {
		tMaxX = (float64(current.X+stepX)*size - start.X) / ray.X
		tDeltaX = size / ray.X * float64(stepX)
	}
	if startVoxel.Y != endVoxel.Y {
		tMaxY = (float64(current.Y+stepY)*size - start.Y) / ray.Y
		tDeltaY = size / ray.Y * float64(stepY)
	}
	if startVoxel.Z != endVoxel.Z {
		tMaxZ = (float64(current.Z+stepZ)*size - start.Z) / ray.Z
		tDeltaZ = size / ray.Z * float64(stepZ)
	}

	// Floor-based boundary computation is off by one cell for axes headed
	// in the negative direction. Pre-decrement those axes and record the
	// corrected cell as a second visited entry.
	var diff Index
	negRay := false
	if current.X != endVoxel.X && ray.X < 0 {
		diff.X--
		negRay = true
	}
	if current.Y != endVoxel.Y && ray.Y < 0 {
		diff.Y--
		negRay = true
	}
	if current.Z != endVoxel.Z && ray.Z < 0 {
		diff.Z--
		negRay = true
	}

	visited := make([]Index, 0, 16)
	visited = append(visited, current)
	if negRay {
		current.X += diff.X
		current.Y += diff.Y
		current.Z += diff.Z
		visited = append(visited, current)
	}

	bound := stepBound(startVoxel, endVoxel)
	for steps := uint64(0); current != endVoxel; steps++ {
		if steps >= bound {
			return nil, errors.Newf("traversal exceeded its %d step bound without reaching the end voxel", bound).
				WithType(ErrTypeTraversalBound)
		}
		if tMaxX < tMaxY {
			if tMaxX < tMaxZ {
				current.X += stepX
				tMaxX += tDeltaX
			} else {
				current.Z += stepZ
				tMaxZ += tDeltaZ
			}
		} else {
			if tMaxY < tMaxZ {
				current.Y += stepY
				tMaxY += tDeltaY
			} else {
				current.Z += stepZ
				tMaxZ += tDeltaZ
			}
		}
		visited = append(visited, current)
	}
	return visited, nil
}

// stepDir keeps the reference convention: a zero component steps +1 (that
// axis is frozen anyway) and a NaN component falls through to -1.
func stepDir(v float64) int {
	if v >= 0 {
		return 1
	}
	return -1
}

// stepBound returns the loop budget for one traversal. The loop advances a
// single axis per iteration, so a well-formed run takes at most the sum of
// the per-axis deltas, which 3x the Chebyshev distance covers with room to
// spare.
func stepBound(a, b Index) uint64 {
	cheb := absDiff(a.X, b.X)
	if d := absDiff(a.Y, b.Y); d > cheb {
		cheb = d
	}
	if d := absDiff(a.Z, b.Z); d > cheb {
		cheb = d
	}
	if cheb > (maxTraversalSteps-stepBoundSlack)/3 {
		return maxTraversalSteps
	}
	return 3*cheb + stepBoundSlack
}

// absDiff is exact for any int pair, including values an out-of-range
// float conversion may have produced.
func absDiff(a, b int) uint64 {
	if a > b {
		return uint64(a) - uint64(b)
	}
	return uint64(b) - uint64(a)
}
