package voxel

// TraverseDDA enumerates the voxels crossed by the segment from start to
// end. Same integer-grid semantics as TraverseBresenham3D with different
// bookkeeping: errors accumulate upward against a doubled threshold
// instead of counting down from a bias, and the terminal voxel is emitted
// after the loop. Non-finite endpoints yield a nil sequence. Measured
// fastest of the three variants and the package default.
func TraverseDDA(start, end Point3, size float64) []Index {
	fx0, fy0, fz0 := flooredCell(start, size)
	if !finite(fx0, fy0, fz0) {
		return nil
	}
	fx1, fy1, fz1 := flooredCell(end, size)
	if !finite(fx1, fy1, fz1) {
		return nil
	}

	current := Index{int(fx0), int(fy0), int(fz0)}
	endVoxel := Index{int(fx1), int(fy1), int(fz1)}

	dx := endVoxel.X - current.X
	dy := endVoxel.Y - current.Y
	dz := endVoxel.Z - current.Z

	sx, sy, sz := 1, 1, 1
	if dx < 0 {
		dx, sx = -dx, -1
	}
	if dy < 0 {
		dy, sy = -dy, -1
	}
	if dz < 0 {
		dz, sz = -dz, -1
	}
	maxDelta := max(dx, dy, dz)

	var ex, ey, ez int
	visited := make([]Index, 0, maxDelta+1)
	for i := 0; i < maxDelta; i++ {
		visited = append(visited, current)

		ex += dx
		ey += dy
		ez += dz
		if ex<<1 >= maxDelta {
			current.X += sx
			ex -= maxDelta
		}
		if ey<<1 >= maxDelta {
			current.Y += sy
			ey -= maxDelta
		}
		if ez<<1 >= maxDelta {
			current.Z += sz
			ez -= maxDelta
		}
	}
	visited = append(visited, current)

	assertArrival("dda", current, endVoxel)
	return visited
}
