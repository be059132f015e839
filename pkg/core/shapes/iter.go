// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"iter"

	"github.com/gomlx/roiplan/pkg/support/exceptions"
)

// Strides returns the strides for each axis of the shape in elements (not bytes), for the dense
// layout where axis 0 is the fastest-changing one.
func (s Shape) Strides() (strides []int) {
	strides = make([]int, s.Rank())
	current := 1
	for axis, dim := range s.Dimensions {
		strides[axis] = current
		current *= dim
	}
	return
}

// Iter iterates sequentially over all indices of the (maximal) shape, axis 0 changing fastest.
//
// It yields the flat index and the slice of indices per axis. The yielded slice is owned by the
// iterator: don't change it inside the loop.
func (s Shape) Iter() iter.Seq2[int, []int] {
	return s.IterOn(make([]int, s.Rank()))
}

// IterOn is like Iter, but updates the given indices slice, which must have length equal to the rank.
func (s Shape) IterOn(indices []int) iter.Seq2[int, []int] {
	if len(indices) != s.Rank() {
		exceptions.Panicf("Shape.IterOn given len(indices) == %d, want it to be equal to the rank %d", len(indices), s.Rank())
	}
	return func(yield func(int, []int) bool) {
		for axis := range indices {
			indices[axis] = 0
		}
		rank := s.Rank()
		flatIdx := 0
	yielder:
		for {
			if !yield(flatIdx, indices) {
				return
			}
			flatIdx++
			for axis := 0; axis < rank; axis++ {
				indices[axis]++
				if indices[axis] < s.Dimensions[axis] {
					continue yielder
				}
				indices[axis] = 0
			}
			// All axes overflowed (or this is a scalar): done.
			return
		}
	}
}

// FlatIndex returns the flat position of the given indices in the dense layout.
func (s Shape) FlatIndex(indices []int) int {
	flat, stride := 0, 1
	for axis, dim := range s.Dimensions {
		flat += indices[axis] * stride
		stride *= dim
	}
	return flat
}
