// Package voxel enumerates the cells of a uniform cubic grid crossed by a
// ray segment. Three interchangeable traversal strategies are provided:
//
//   - TraverseDDA, the default: integer error accumulation sized by the
//     dominant axis, strict termination, arrival asserted.
//   - TraverseBresenham3D: the classic 3D Bresenham form of the same idea,
//     kept for cross-validation of the DDA bookkeeping.
//   - TraverseAmanatidesWoo: parametric boundary stepping with exact
//     continuous-space semantics, kept for callers that need boundary-order
//     fidelity and protected by a step bound.
//
// All three are pure functions from (start, end, voxel size) to a fresh
// ordered index slice. Callers pick one per use case, usually through
// Traverse and an Algorithm value.
package voxel

import "math"

// Point3 is a continuous world-space coordinate.
type Point3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Index addresses one cell of the grid. Two indices are equal when all
// three components match, so values compare with ==.
type Index struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

func Add(a Point3, b Point3) Point3 {
	return Point3{a.X + b.X, a.Y + b.Y, a.Z + b.Z}
}

func Sub(a Point3, b Point3) Point3 {
	return Point3{a.X - b.X, a.Y - b.Y, a.Z - b.Z}
}

func Mul(a Point3, s float64) Point3 {
	return Point3{a.X * s, a.Y * s, a.Z * s}
}

func (p Point3) Length() float64 {
	return math.Sqrt(p.X*p.X + p.Y*p.Y + p.Z*p.Z)
}

// IndexOf returns the cell containing p in a grid of the given edge length.
// Rounding down matters: plain int conversion would round toward zero and
// shift every negative coordinate one cell up.
func IndexOf(p Point3, size float64) Index {
	return Index{
		X: int(math.Floor(p.X / size)),
		Y: int(math.Floor(p.Y / size)),
		Z: int(math.Floor(p.Z / size)),
	}
}

// flooredCell computes the cell coordinates of p without converting to
// integers, so callers can reject non-finite results first.
func flooredCell(p Point3, size float64) (x, y, z float64) {
	return math.Floor(p.X / size), math.Floor(p.Y / size), math.Floor(p.Z / size)
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
