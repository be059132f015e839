// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dtypes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBits(t *testing.T) {
	assert.Equal(t, 4, Int4.Bits())
	assert.Equal(t, 0, Int4.Size())
	assert.True(t, Uint4.IsSubByte())
	assert.Equal(t, 2, Uint4.ElementsPerByte())
	assert.Equal(t, 1, Int8.ElementsPerByte())
	assert.Equal(t, 2, BFloat16.Size())
	assert.Equal(t, 8, Float64.Size())
	assert.False(t, InvalidDType.IsSupported())
	assert.Equal(t, 0, InvalidDType.Bits())
}

func TestSizeForDimensions(t *testing.T) {
	assert.Equal(t, 24*4, Float32.SizeForDimensions(2, 3, 4))
	assert.Equal(t, 4, Float32.SizeForDimensions())
	assert.Equal(t, 2, Int4.SizeForDimensions(3))
	assert.Equal(t, 64, Float32.BytesToElements(256))
	assert.Equal(t, 256, Int4.BytesToElements(128))
}

func TestFromName(t *testing.T) {
	for name, want := range map[string]DType{
		"Float32": Float32, "float32": Float32, "f32": Float32, "BF16": BFloat16, "int4": Int4, "u4": Uint4,
	} {
		got, err := FromName(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
	_, err := FromName("complex64")
	require.Error(t, err)
	assert.Equal(t, "Float16", Float16.String())
	assert.Equal(t, "DType(99)", DType(99).String())
}

func TestEncodeScalar(t *testing.T) {
	b, err := Float32.EncodeScalar(1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0x80, 0x3f}, b)

	b, err = Float16.EncodeScalar(1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x3c}, b)

	b, err = BFloat16.EncodeScalar(1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x80, 0x3f}, b)

	b, err = Int4.EncodeScalar(-1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0f}, b)

	b, err = Int16.EncodeScalar(-2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xfe, 0xff}, b)

	_, err = InvalidDType.EncodeScalar(0)
	require.Error(t, err)
}
