// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapes defines the Shape of the tensors moved by the planner.
//
// Conventions used across the whole module:
//
//   - Axis 0 is the fastest-changing dimension (FCD): it has stride 1 in the dense layout.
//     The last axis is the slowest-changing dimension (SCD).
//   - Dimensions holds the maximal (allocated) size of each axis. For dynamic tensors
//     MinDimensions holds the minimal (guaranteed) size of each axis; for static tensors
//     MinDimensions equals Dimensions.
//   - An axis is "trivial" if both its size and its minimal size are 1.
//
// Example: `shapes.Make(dtypes.Float32, 8, 4)` is a matrix with 4 rows of 8 contiguous floats.
package shapes

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/roiplan/pkg/core/dtypes"
	"github.com/gomlx/roiplan/pkg/support/exceptions"
)

// Shape of a tensor: element type, maximal dimensions and minimal dimensions.
type Shape struct {
	DType         dtypes.DType
	Dimensions    []int
	MinDimensions []int
}

// Make returns a static Shape with the given dimensions.
// It panics with a contract violation if any dimension is <= 0.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	s := Shape{DType: dtype, Dimensions: slices.Clone(dimensions), MinDimensions: slices.Clone(dimensions)}
	s.AssertValid()
	return s
}

// MakeDynamic returns a Shape with maximal dimensions dims and minimal dimensions minDims.
func MakeDynamic(dtype dtypes.DType, dims, minDims []int) Shape {
	s := Shape{DType: dtype, Dimensions: slices.Clone(dims), MinDimensions: slices.Clone(minDims)}
	s.AssertValid()
	return s
}

// AssertValid panics with a contract violation if the shape breaks one of its invariants.
func (s Shape) AssertValid() {
	if !s.DType.IsSupported() {
		exceptions.Panicf("shape %s has unsupported dtype", s)
	}
	if len(s.MinDimensions) != len(s.Dimensions) {
		exceptions.Panicf("shape %s: %d minimal dimensions for rank %d", s, len(s.MinDimensions), len(s.Dimensions))
	}
	for axis, dim := range s.Dimensions {
		if dim <= 0 || s.MinDimensions[axis] <= 0 {
			exceptions.Panicf("shape %s: axis %d has a zero or negative size", s, axis)
		}
		if s.MinDimensions[axis] > dim {
			exceptions.Panicf("shape %s: axis %d minimal size %d > size %d", s, axis, s.MinDimensions[axis], dim)
		}
	}
}

// Rank of the shape, that is, the number of axes.
func (s Shape) Rank() int { return len(s.Dimensions) }

// Dim returns the dimension of the given axis. Negative axes count from the end.
func (s Shape) Dim(axis int) int {
	return s.Dimensions[s.adjustAxis(axis)]
}

// MinDim returns the minimal dimension of the given axis. Negative axes count from the end.
func (s Shape) MinDim(axis int) int {
	return s.MinDimensions[s.adjustAxis(axis)]
}

func (s Shape) adjustAxis(axis int) int {
	adjusted := axis
	if adjusted < 0 {
		adjusted += s.Rank()
	}
	if adjusted < 0 || adjusted >= s.Rank() {
		exceptions.Panicf("axis %d out-of-bounds for rank %d (shape=%s)", axis, s.Rank(), s)
	}
	return adjusted
}

// Size returns the maximal number of elements.
func (s Shape) Size() int {
	size := 1
	for _, dim := range s.Dimensions {
		size *= dim
	}
	return size
}

// MinSize returns the minimal number of elements.
func (s Shape) MinSize() int {
	size := 1
	for _, dim := range s.MinDimensions {
		size *= dim
	}
	return size
}

// IsDynamic returns whether any axis has a minimal size smaller than its size.
func (s Shape) IsDynamic() bool {
	for axis := range s.Dimensions {
		if s.IsDynamicAxis(axis) {
			return true
		}
	}
	return false
}

// IsDynamicAxis returns whether the axis has a minimal size smaller than its size.
func (s Shape) IsDynamicAxis(axis int) bool {
	return s.MinDimensions[axis] != s.Dimensions[axis]
}

// IsTrivialAxis returns whether both the size and the minimal size of the axis are 1.
func (s Shape) IsTrivialAxis(axis int) bool {
	return s.Dimensions[axis] == 1 && s.MinDimensions[axis] == 1
}

// Clone returns a deep copy.
func (s Shape) Clone() Shape {
	return Shape{DType: s.DType, Dimensions: slices.Clone(s.Dimensions), MinDimensions: slices.Clone(s.MinDimensions)}
}

// Equal compares dtype, dimensions and minimal dimensions.
func (s Shape) Equal(s2 Shape) bool {
	return s.DType == s2.DType && slices.Equal(s.Dimensions, s2.Dimensions) &&
		slices.Equal(s.MinDimensions, s2.MinDimensions)
}

// WithDimensions returns a static shape with the same dtype and the given dimensions.
func (s Shape) WithDimensions(dims ...int) Shape {
	return Make(s.DType, dims...)
}

// Static returns the worst-case static version of the shape: minimal dimensions set to the maximal ones.
func (s Shape) Static() Shape {
	return Shape{DType: s.DType, Dimensions: slices.Clone(s.Dimensions), MinDimensions: slices.Clone(s.Dimensions)}
}

// Memory returns the number of bytes of the maximal shape, rounded up to a whole byte.
func (s Shape) Memory() int {
	return s.DType.SizeForDimensions(s.Dimensions...)
}

// ByteStrides returns the dense byte strides of each axis, where axis 0 is the FCD.
//
// For sub-byte dtypes the stride of axis 0 is reported as 0 (elements share a byte), and every other
// stride must be a whole number of bytes, which requires the product of the faster axes to fill whole
// bytes: it is a contract violation otherwise.
func (s Shape) ByteStrides() []int {
	strides := make([]int, s.Rank())
	bits := s.DType.Bits()
	running := 1
	for axis := range s.Dimensions {
		strideBits := running * bits
		if axis > 0 && strideBits%8 != 0 {
			exceptions.Panicf("shape %s: stride of axis %d is not a whole number of bytes", s, axis)
		}
		strides[axis] = strideBits / 8
		running *= s.Dimensions[axis]
	}
	return strides
}

// String implements fmt.Stringer. Dynamic axes are printed as "min..max".
func (s Shape) String() string {
	parts := make([]string, len(s.Dimensions))
	for axis, dim := range s.Dimensions {
		if axis < len(s.MinDimensions) && s.MinDimensions[axis] != dim {
			parts[axis] = fmt.Sprintf("%d..%d", s.MinDimensions[axis], dim)
		} else {
			parts[axis] = fmt.Sprintf("%d", dim)
		}
	}
	return fmt.Sprintf("(%s)[%s]", s.DType, strings.Join(parts, " "))
}
