// Package optimize holds the numeric side of an epoch: the value vector, the
// rules that combine a node's value with its peers', and the metrics that
// measure convergence.
package optimize

import (
	"fmt"
	"math"
	"math/rand"
)

// Vector is a node's optimization variable.
type Vector []float64

// Zero returns a vector of dim zeros.
func Zero(dim int) Vector {
	return make(Vector, dim)
}

// Random returns a vector of dim components drawn uniformly from [-1, 1).
func Random(dim int, r *rand.Rand) Vector {
	v := make(Vector, dim)
	for i := range v {
		v[i] = 2*r.Float64() - 1
	}
	return v
}

// Broadcast fills a vector of dim components with x.
func Broadcast(x float64, dim int) Vector {
	v := make(Vector, dim)
	for i := range v {
		v[i] = x
	}
	return v
}

// FromInitial turns a user supplied initial value into a vector of dim
// components. A single component is broadcast.
func FromInitial(initial []float64, dim int) (Vector, error) {
	switch {
	case len(initial) == dim:
		return Vector(initial).Clone(), nil
	case len(initial) == 1:
		return Broadcast(initial[0], dim), nil
	default:
		return nil, fmt.Errorf("dimension %d, want %d", len(initial), dim)
	}
}

// Clone ...
func (v Vector) Clone() Vector {
	if v == nil {
		return nil
	}
	res := make(Vector, len(v))
	copy(res, v)
	return res
}

// Finite reports whether every component is a finite number.
func (v Vector) Finite() bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// Distance returns the Euclidean distance between two vectors of the same
// dimension.
func Distance(a, b Vector) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Validate checks that v can take part in an aggregation of dimension dim.
func Validate(v Vector, dim int) error {
	if len(v) != dim {
		return fmt.Errorf("dimension %d, want %d", len(v), dim)
	}
	if !v.Finite() {
		return fmt.Errorf("non-finite component")
	}
	return nil
}
