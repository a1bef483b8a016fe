package voxel

import "github.com/aukilabs/go-tooling/pkg/errors"

// ErrTypeUnknownAlgorithm reports an Algorithm value or name this package
// does not implement.
const ErrTypeUnknownAlgorithm = "unknown_traversal_algorithm"

// Algorithm selects one of the traversal variants. The set is closed, so a
// plain tag beats interface dispatch here. The zero value is the
// recommended default.
type Algorithm uint8

const (
	AlgorithmDDA Algorithm = iota
	AlgorithmBresenham3D
	AlgorithmAmanatidesWoo
)

func (a Algorithm) String() string {
	switch a {
	case AlgorithmDDA:
		return "dda"
	case AlgorithmBresenham3D:
		return "bresenham3d"
	case AlgorithmAmanatidesWoo:
		return "amanatides-woo"
	default:
		return "unknown"
	}
}

// ParseAlgorithm maps a configuration or request string to an Algorithm.
// The empty string selects the default.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch s {
	case "", "dda":
		return AlgorithmDDA, nil
	case "bresenham3d":
		return AlgorithmBresenham3D, nil
	case "amanatides-woo":
		return AlgorithmAmanatidesWoo, nil
	default:
		return AlgorithmDDA, errors.New("parsing traversal algorithm name failed").
			WithType(ErrTypeUnknownAlgorithm).
			WithTag("algorithm", s)
	}
}

// Traverse runs the selected variant on the segment from start to end.
// For AlgorithmDDA and AlgorithmBresenham3D the error is always nil; for
// AlgorithmAmanatidesWoo it carries ErrTypeTraversalBound when the step
// budget runs out.
func Traverse(algo Algorithm, start, end Point3, size float64) ([]Index, error) {
	switch algo {
	case AlgorithmDDA:
		return TraverseDDA(start, end, size), nil
	case AlgorithmBresenham3D:
		return TraverseBresenham3D(start, end, size), nil
	case AlgorithmAmanatidesWoo:
		return TraverseAmanatidesWoo(start, end, size)
	default:
		return nil, errors.New("unknown traversal algorithm").
			WithType(ErrTypeUnknownAlgorithm).
			WithTag("algorithm", uint8(algo))
	}
}

// Span returns the number of cells a traversal between the two indices
// visits along its dominant axis. This is the exact visit count for the
// integer variants and a lower bound for AlgorithmAmanatidesWoo.
func Span(a, b Index) int {
	dx, _ := absSign(a.X - b.X)
	dy, _ := absSign(a.Y - b.Y)
	dz, _ := absSign(a.Z - b.Z)
	return max(dx, dy, dz) + 1
}

// SetsEqual reports whether the two traversals visited the same voxels,
// ignoring order.
func SetsEqual(a, b []Index) bool {
	if len(a) != len(b) {
		return false
	}

	seen := make(map[Index]struct{}, len(a))
	for _, idx := range a {
		seen[idx] = struct{}{}
	}
	for _, idx := range b {
		if _, ok := seen[idx]; !ok {
			return false
		}
	}
	return true
}
