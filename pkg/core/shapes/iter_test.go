// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"slices"
	"testing"

	"github.com/gomlx/roiplan/pkg/core/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIter(t *testing.T) {
	shape := Make(dtypes.Float32, 2, 1, 3)
	var got [][]int
	var flats []int
	for flat, indices := range shape.Iter() {
		got = append(got, slices.Clone(indices))
		flats = append(flats, flat)
		require.Equal(t, flat, shape.FlatIndex(indices))
	}
	want := [][]int{{0, 0, 0}, {1, 0, 0}, {0, 0, 1}, {1, 0, 1}, {0, 0, 2}, {1, 0, 2}}
	assert.Equal(t, want, got)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, flats)

	// Scalar: exactly one iteration.
	count := 0
	for range Make(dtypes.Int8).Iter() {
		count++
	}
	assert.Equal(t, 1, count)

	// Early break.
	count = 0
	for range shape.Iter() {
		count++
		if count == 2 {
			break
		}
	}
	assert.Equal(t, 2, count)
}

func TestStrides(t *testing.T) {
	assert.Equal(t, []int{1, 2, 6}, Make(dtypes.Float32, 2, 3, 4).Strides())
	assert.Empty(t, Make(dtypes.Float32).Strides())
}
