// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package geometry holds pure functions over permutations and shape arrays used by the lowering and
// splitting passes: permutation algebra and the cache-line utilization math.
package geometry

import (
	"slices"

	"github.com/gomlx/roiplan/pkg/core/shapes"
	"github.com/gomlx/roiplan/pkg/support/exceptions"
)

// Permutation of the axes of a tensor, with the convention output.Dimensions[i] = input.Dimensions[perm[i]].
//
// Permutations are treated as immutable values: every method returns a new one.
type Permutation []int

// Identity returns the identity permutation of rank n.
func Identity(n int) Permutation {
	p := make(Permutation, n)
	for i := range p {
		p[i] = i
	}
	return p
}

// Shift returns the cyclic permutation of rank n that moves the first k axes to the end:
// [k, k+1, ..., n-1, 0, 1, ..., k-1].
func Shift(n, k int) Permutation {
	if n == 0 {
		return Permutation{}
	}
	k = ((k % n) + n) % n
	p := make(Permutation, n)
	for i := range p {
		p[i] = (i + k) % n
	}
	return p
}

// Validate returns false if p is not a bijection over [0, len(p)).
func (p Permutation) Validate() bool {
	seen := make([]bool, len(p))
	for _, axis := range p {
		if axis < 0 || axis >= len(p) || seen[axis] {
			return false
		}
		seen[axis] = true
	}
	return true
}

// AssertValid panics with a contract violation if p is not a valid permutation.
func (p Permutation) AssertValid() {
	if !p.Validate() {
		exceptions.Panicf("invalid permutation %v", []int(p))
	}
}

// IsIdentity returns whether perm[i] == i for all i.
func (p Permutation) IsIdentity() bool {
	for i, axis := range p {
		if axis != i {
			return false
		}
	}
	return true
}

// IsCyclic returns whether p is a rotation: perm[(i+1)%n] == (perm[i]+1)%n for all i.
// The identity is cyclic.
func (p Permutation) IsCyclic() bool {
	n := len(p)
	for i := range p {
		if p[(i+1)%n] != (p[i]+1)%n {
			return false
		}
	}
	return true
}

// Inverse returns q such that p.Compose(q) is the identity.
func (p Permutation) Inverse() Permutation {
	p.AssertValid()
	inv := make(Permutation, len(p))
	for i, axis := range p {
		inv[axis] = i
	}
	return inv
}

// Compose returns the permutation equivalent to transposing by p and then by q: result[i] = p[q[i]].
func (p Permutation) Compose(q Permutation) Permutation {
	if len(p) != len(q) {
		exceptions.Panicf("cannot compose permutations of different ranks: %v and %v", []int(p), []int(q))
	}
	result := make(Permutation, len(p))
	for i, axis := range q {
		result[i] = p[axis]
	}
	return result
}

// Apply returns the dimensions permuted: result[i] = dims[p[i]].
func Apply[T any](p Permutation, dims []T) []T {
	if len(dims) != len(p) {
		exceptions.Panicf("permutation %v applied to %d values", []int(p), len(dims))
	}
	result := make([]T, len(p))
	for i, axis := range p {
		result[i] = dims[axis]
	}
	return result
}

// ApplyShape returns the shape transposed by p, including its minimal dimensions.
func (p Permutation) ApplyShape(shape shapes.Shape) shapes.Shape {
	return shapes.Shape{
		DType:         shape.DType,
		Dimensions:    Apply(p, shape.Dimensions),
		MinDimensions: Apply(p, shape.MinDimensions),
	}
}

// Equal compares two permutations.
func (p Permutation) Equal(q Permutation) bool {
	return slices.Equal(p, q)
}
