// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dtypes defines the element types of the tensors handled by the planner.
//
// The numeric values follow the PJRT buffer-type enumeration, so they can be exchanged with the
// rest of the GoMLX tooling, but only the types a tensor-movement engine may see are listed.
// What matters to the planner is the bit width of each element: sub-byte types (Int4, Uint4) are
// packed two per byte, which changes line counts and byte offsets.
package dtypes

import (
	"encoding/binary"
	"math"
	"strconv"
	"strings"

	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// DType is the element type of a tensor.
type DType int32

const (
	InvalidDType DType = 0
	Bool         DType = 1
	Int8         DType = 2
	Int16        DType = 3
	Int32        DType = 4
	Int64        DType = 5
	Uint8        DType = 6
	Uint16       DType = 7
	Uint32       DType = 8
	Uint64       DType = 9
	Float16      DType = 10
	Float32      DType = 11
	Float64      DType = 12
	BFloat16     DType = 13
	Float8E5M2   DType = 16
	Float8E4M3FN DType = 17
	Int4         DType = 21
	Uint4        DType = 22
)

var bitsOf = map[DType]int{
	Bool:         8,
	Int4:         4,
	Uint4:        4,
	Int8:         8,
	Uint8:        8,
	Float8E5M2:   8,
	Float8E4M3FN: 8,
	Int16:        16,
	Uint16:       16,
	Float16:      16,
	BFloat16:     16,
	Int32:        32,
	Uint32:       32,
	Float32:      32,
	Int64:        64,
	Uint64:       64,
	Float64:      64,
}

var namesOf = map[DType]string{
	InvalidDType: "InvalidDType",
	Bool:         "Bool",
	Int4:         "Int4",
	Uint4:        "Uint4",
	Int8:         "Int8",
	Uint8:        "Uint8",
	Float8E5M2:   "Float8E5M2",
	Float8E4M3FN: "Float8E4M3FN",
	Int16:        "Int16",
	Uint16:       "Uint16",
	Float16:      "Float16",
	BFloat16:     "BFloat16",
	Int32:        "Int32",
	Uint32:       "Uint32",
	Float32:      "Float32",
	Int64:        "Int64",
	Uint64:       "Uint64",
	Float64:      "Float64",
}

// MapOfNames maps names and common aliases (lower-case) to dtypes.
var MapOfNames = map[string]DType{
	"f16":  Float16,
	"f32":  Float32,
	"f64":  Float64,
	"bf16": BFloat16,
	"s4":   Int4,
	"u4":   Uint4,
	"i8":   Int8,
	"u8":   Uint8,
	"i16":  Int16,
	"u16":  Uint16,
	"i32":  Int32,
	"u32":  Uint32,
	"i64":  Int64,
	"u64":  Uint64,
	"fp8":  Float8E4M3FN,
	"pred": Bool,
}

func init() {
	for dtype, name := range namesOf {
		if dtype != InvalidDType {
			MapOfNames[strings.ToLower(name)] = dtype
		}
	}
}

// FromName returns the DType for the given name or alias, case-insensitive.
func FromName(name string) (DType, error) {
	dtype, found := MapOfNames[strings.ToLower(strings.TrimSpace(name))]
	if !found {
		return InvalidDType, errors.Errorf("unknown dtype %q", name)
	}
	return dtype, nil
}

// String implements fmt.Stringer.
func (dtype DType) String() string {
	if name, found := namesOf[dtype]; found {
		return name
	}
	return "DType(" + strconv.Itoa(int(dtype)) + ")"
}

// IsSupported returns whether the dtype is known.
func (dtype DType) IsSupported() bool {
	_, found := bitsOf[dtype]
	return found
}

// Bits returns the number of bits of one element, or 0 for unknown dtypes.
func (dtype DType) Bits() int {
	return bitsOf[dtype]
}

// Size returns the number of bytes of one element, or 0 if the dtype uses a fraction of a byte.
// Consider Bits or SizeForDimensions for sub-byte types.
func (dtype DType) Size() int {
	return dtype.Bits() / 8
}

// IsSubByte returns whether elements are packed more than one per byte.
func (dtype DType) IsSubByte() bool {
	bits := dtype.Bits()
	return bits > 0 && bits < 8
}

// ElementsPerByte returns how many elements are packed in one byte: 2 for 4-bit types, 1 otherwise.
func (dtype DType) ElementsPerByte() int {
	if dtype.IsSubByte() {
		return 8 / dtype.Bits()
	}
	return 1
}

// IsFloat returns whether the dtype is a floating point type.
func (dtype DType) IsFloat() bool {
	switch dtype {
	case Float16, BFloat16, Float32, Float64, Float8E5M2, Float8E4M3FN:
		return true
	}
	return false
}

// SizeForDimensions returns the size in bytes used for the given dimensions, rounded up to a
// whole byte for sub-byte types. A scalar (no dimensions) has one element.
func (dtype DType) SizeForDimensions(dimensions ...int) int {
	numElements := 1
	for _, dim := range dimensions {
		if dim < 0 {
			panic(errors.Errorf("dim cannot be negative for SizeForDimensions, got %v", dimensions))
		}
		numElements *= dim
	}
	return (numElements*dtype.Bits() + 7) / 8
}

// BytesToElements converts a byte budget into a number of elements of this dtype.
func (dtype DType) BytesToElements(bytes int) int {
	bits := dtype.Bits()
	if bits == 0 {
		return 0
	}
	return bytes * 8 / bits
}

// EncodeScalar returns the little-endian bit pattern of value converted to dtype, as a constant
// would be written into a kernel parameter. Sub-byte values use the low bits of one byte.
func (dtype DType) EncodeScalar(value float64) ([]byte, error) {
	switch dtype {
	case Float64:
		return binary.LittleEndian.AppendUint64(nil, math.Float64bits(value)), nil
	case Float32:
		return binary.LittleEndian.AppendUint32(nil, math.Float32bits(float32(value))), nil
	case Float16:
		return binary.LittleEndian.AppendUint16(nil, float16.Fromfloat32(float32(value)).Bits()), nil
	case BFloat16:
		return binary.LittleEndian.AppendUint16(nil, uint16(bfloat16.FromFloat32(float32(value)))), nil
	case Int64, Uint64:
		return binary.LittleEndian.AppendUint64(nil, uint64(int64(value))), nil
	case Int32, Uint32:
		return binary.LittleEndian.AppendUint32(nil, uint32(int32(value))), nil
	case Int16, Uint16:
		return binary.LittleEndian.AppendUint16(nil, uint16(int16(value))), nil
	case Int8, Uint8:
		return []byte{byte(int8(value))}, nil
	case Bool:
		if value != 0 {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case Int4, Uint4:
		return []byte{byte(int8(value)) & 0x0F}, nil
	}
	return nil, errors.Errorf("EncodeScalar not supported for dtype %s", dtype)
}
