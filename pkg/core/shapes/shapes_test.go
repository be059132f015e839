// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"testing"

	"github.com/gomlx/roiplan/pkg/core/dtypes"
	"github.com/gomlx/roiplan/pkg/support/exceptions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	shape0 := Make(dtypes.Float64)
	require.Equal(t, 0, shape0.Rank())
	require.Equal(t, 1, shape0.Size())
	require.Equal(t, 8, shape0.Memory())

	shape1 := Make(dtypes.Float32, 4, 3, 2)
	require.Equal(t, 3, shape1.Rank())
	require.Equal(t, 24, shape1.Size())
	require.Equal(t, 96, shape1.Memory())
	require.Equal(t, 2, shape1.Dim(-1))
	require.False(t, shape1.IsDynamic())
	require.Equal(t, "(Float32)[4 3 2]", shape1.String())
	require.Equal(t, []int{4, 16, 48}, shape1.ByteStrides())

	clone := shape1.Clone()
	clone.Dimensions[0] = 5
	require.Equal(t, 4, shape1.Dimensions[0])
	require.False(t, shape1.Equal(clone))
}

func TestDynamicShape(t *testing.T) {
	s := MakeDynamic(dtypes.BFloat16, []int{8, 1, 16}, []int{8, 1, 4})
	assert.True(t, s.IsDynamic())
	assert.True(t, s.IsDynamicAxis(2))
	assert.False(t, s.IsDynamicAxis(0))
	assert.True(t, s.IsTrivialAxis(1))
	assert.False(t, s.IsTrivialAxis(0))
	assert.Equal(t, 32, s.MinSize())
	assert.Equal(t, 128, s.Size())
	assert.Equal(t, "(BFloat16)[8 1 4..16]", s.String())

	static := s.Static()
	assert.False(t, static.IsDynamic())
	assert.Equal(t, s.Dimensions, static.Dimensions)
	assert.True(t, s.IsDynamic(), "Static() must not modify the original")
}

func TestSubByteStrides(t *testing.T) {
	s := Make(dtypes.Int4, 4, 3)
	assert.Equal(t, []int{0, 2}, s.ByteStrides())
	assert.Equal(t, 6, s.Memory())

	odd := Make(dtypes.Int4, 3, 2)
	cv := exceptions.TryFor[*exceptions.ContractViolation](func() { _ = odd.ByteStrides() })
	require.NotNil(t, cv)
}

func TestInvalidShapes(t *testing.T) {
	for name, fn := range map[string]func(){
		"zero dim":           func() { Make(dtypes.Float32, 3, 0) },
		"min > max":          func() { MakeDynamic(dtypes.Float32, []int{3}, []int{4}) },
		"zero min dim":       func() { MakeDynamic(dtypes.Float32, []int{3}, []int{0}) },
		"rank mismatch":      func() { MakeDynamic(dtypes.Float32, []int{3, 2}, []int{3}) },
		"invalid dtype":      func() { Make(dtypes.InvalidDType, 3) },
		"axis out-of-bounds": func() { Make(dtypes.Float32, 3).Dim(1) },
	} {
		t.Run(name, func(t *testing.T) {
			cv := exceptions.TryFor[*exceptions.ContractViolation](fn)
			require.NotNil(t, cv)
		})
	}
}
