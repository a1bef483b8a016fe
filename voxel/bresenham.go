package voxel

import "fmt"

// TraverseBresenham3D enumerates the voxels crossed by the segment from
// start to end with 3D Bresenham error accumulation, one emission per
// dominant-axis cell. Non-finite endpoints yield a nil sequence. The
// result always holds max(|dx|,|dy|,|dz|)+1 distinct voxels, first the
// start voxel and last the end voxel.
// Ref: http://members.chello.at/easyfilter/bresenham.html
func TraverseBresenham3D(start, end Point3, size float64) []Index {
	fx0, fy0, fz0 := flooredCell(start, size)
	if !finite(fx0, fy0, fz0) {
		return nil
	}
	fx1, fy1, fz1 := flooredCell(end, size)
	if !finite(fx1, fy1, fz1) {
		return nil
	}

	x0, y0, z0 := int(fx0), int(fy0), int(fz0)
	x1, y1, z1 := int(fx1), int(fy1), int(fz1)
	endVoxel := Index{x1, y1, z1}

	dx, sx := absSign(x1 - x0)
	dy, sy := absSign(y1 - y0)
	dz, sz := absSign(z1 - z0)
	dm := max(dx, dy, dz)

	// Error offset of half the dominant delta centers the stepping on the
	// segment between the two cell centers.
	ex, ey, ez := dm>>1, dm>>1, dm>>1

	visited := make([]Index, 0, dm+1)
	for i := dm; ; i-- {
		visited = append(visited, Index{x0, y0, z0})
		if i == 0 {
			break
		}
		ex -= dx
		if ex < 0 {
			ex += dm
			x0 += sx
		}
		ey -= dy
		if ey < 0 {
			ey += dm
			y0 += sy
		}
		ez -= dz
		if ez < 0 {
			ez += dm
			z0 += sz
		}
	}

	assertArrival("bresenham3d", Index{x0, y0, z0}, endVoxel)
	return visited
}

func absSign(d int) (abs, sign int) {
	if d > 0 {
		return d, 1
	}
	return -d, -1
}

// assertArrival is the integer-arithmetic oracle shared by the bounded
// variants: landing anywhere but the declared end voxel means the stepping
// logic itself is broken, which no input should be able to cause.
func assertArrival(algo string, got, want Index) {
	if got != want {
		panic(fmt.Sprintf("voxel: %s traversal finished at %v, want %v", algo, got, want))
	}
}
