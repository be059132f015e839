// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xslices

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegerMath(t *testing.T) {
	assert.Equal(t, 3, DivCeil(10, 4))
	assert.Equal(t, 2, DivCeil(8, 4))
	assert.Equal(t, 256, RoundUp(130, 128))
	assert.Equal(t, 128, RoundUp(128, 128))
	assert.Equal(t, 4, GCD(12, 8))
	assert.Equal(t, 7, GCD(0, 7))
	assert.Equal(t, 1, GCD(9, 4))
	assert.True(t, IsPowerOfTwo(64))
	assert.False(t, IsPowerOfTwo(0))
	assert.False(t, IsPowerOfTwo(12))
}

func TestSlices(t *testing.T) {
	assert.Equal(t, 24, Product([]int{2, 3, 4}))
	assert.Equal(t, 1, Product([]int(nil)))
	assert.Equal(t, 9, Sum([]int{2, 3, 4}))
	assert.Equal(t, []int{3, 4, 5}, Iota(3, 3))
	assert.Equal(t, []string{"1", "2"}, Map([]int{1, 2}, strconv.Itoa))

	v, rest := PopFront([]int{1, 2})
	assert.Equal(t, 1, v)
	assert.Equal(t, []int{2}, rest)
	v, rest = PopFront(rest)
	assert.Equal(t, 2, v)
	assert.Empty(t, rest)
}

func TestSliceFlag(t *testing.T) {
	f := &sliceFlag[int]{parserFn: strconv.Atoi}
	require.NoError(t, f.Set("1, 2,3"))
	assert.Equal(t, []int{1, 2, 3}, f.parsed)
	assert.Equal(t, "1,2,3", f.String())
	require.Error(t, f.Set("1,x"))
	require.NoError(t, f.Set(""))
	assert.Empty(t, f.parsed)
}
