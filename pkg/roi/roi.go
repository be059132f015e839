// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package roi defines regions of interest (ROIs) of the iteration index space of a node and the
// generic splitters that partition a node's full ROI into pipeline stages (logical ROIs) and then
// into per-engine (physical) ROIs.
//
// ROIs are value types: every splitting function returns new ROIs and never modifies its arguments.
package roi

import (
	"fmt"
	"strings"

	"github.com/gomlx/roiplan/pkg/core/graph"
	"github.com/gomlx/roiplan/pkg/support/exceptions"
)

// MaxDimensions is the maximum rank of an index space.
const MaxDimensions = 8

// Dims holds one value per axis of an index space. Only the first rank values are meaningful.
type Dims [MaxDimensions]int

// TensorROI is the sub-region of one input or output tensor touched by a NodeROI.
type TensorROI struct {
	Rank       int
	BaseOffset Dims
	Size       Dims
	Strides    Dims

	// ByteOffset is the offset in bytes of the first element of the region from the start of the tensor.
	ByteOffset int
}

// NodeROI is a hyper-rectangle of the iteration index space of a node.
type NodeROI struct {
	Rank       int
	BaseOffset Dims
	Size       Dims

	// Inputs and Outputs are filled by ComputeTensorOffsets, after splitting.
	Inputs, Outputs []TensorROI

	EngineIndex   int
	PipelineLevel int
	NumSignals    int

	// Dynamic is set if the ROI spans beyond the minimal (guaranteed) size of the index space.
	Dynamic bool

	// Layout is the descriptor layout of DMA transposes, set by the transpose strategies.
	Layout *HardwareLayout
}

// New returns the ROI covering the full index space of the given dimensions.
func New(dims ...int) NodeROI {
	if len(dims) > MaxDimensions {
		exceptions.Panicf("index space of rank %d exceeds the maximum rank %d", len(dims), MaxDimensions)
	}
	r := NodeROI{Rank: len(dims)}
	for axis, dim := range dims {
		if dim <= 0 {
			exceptions.Panicf("index space %v has a zero-sized axis %d", dims, axis)
		}
		r.Size[axis] = dim
	}
	return r
}

// IndexSpace returns the dimensions of the iteration index space of the node: the source dimensions
// for transposes and the output dimensions for every other kind.
func IndexSpace(node *graph.Node) (dims, minDims []int) {
	t := node.Outputs[0]
	if node.Kind == graph.KindTranspose {
		t = node.Inputs[0]
	}
	return t.Shape.Dimensions, t.Shape.MinDimensions
}

// FullROI returns the ROI covering the whole index space of the node.
func FullROI(node *graph.Node) NodeROI {
	dims, _ := IndexSpace(node)
	return New(dims...)
}

// Sizes returns the sizes of the ROI as a slice.
func (r NodeROI) Sizes() []int { return append([]int(nil), r.Size[:r.Rank]...) }

// Offsets returns the base offsets of the ROI as a slice.
func (r NodeROI) Offsets() []int { return append([]int(nil), r.BaseOffset[:r.Rank]...) }

// NumElements returns the number of points of the index space covered by the ROI.
func (r NodeROI) NumElements() int {
	n := 1
	for _, size := range r.Size[:r.Rank] {
		n *= size
	}
	return n
}

// Clone returns a copy that doesn't share the tensor ROIs or layout.
func (r NodeROI) Clone() NodeROI {
	r.Inputs = append([]TensorROI(nil), r.Inputs...)
	r.Outputs = append([]TensorROI(nil), r.Outputs...)
	if r.Layout != nil {
		layout := *r.Layout
		r.Layout = &layout
	}
	return r
}

// AssertValid panics with a contract violation if the ROI has a zero-sized axis or invalid rank.
func (r NodeROI) AssertValid() {
	if r.Rank < 0 || r.Rank > MaxDimensions {
		exceptions.Panicf("ROI rank %d out of range [0, %d]", r.Rank, MaxDimensions)
	}
	for axis := range r.Rank {
		if r.Size[axis] <= 0 || r.BaseOffset[axis] < 0 {
			exceptions.Panicf("ROI %s has an empty or negative axis %d", r, axis)
		}
	}
}

// withAxis returns a copy with the given axis restricted to [offset, offset+size) relative to r.
func (r NodeROI) withAxis(axis, offset, size int) NodeROI {
	r.BaseOffset[axis] += offset
	r.Size[axis] = size
	return r
}

// String implements fmt.Stringer.
func (r NodeROI) String() string {
	var sb strings.Builder
	sb.WriteString("{")
	for axis := range r.Rank {
		if axis > 0 {
			sb.WriteString(" ")
		}
		_, _ = fmt.Fprintf(&sb, "%d+%d", r.BaseOffset[axis], r.Size[axis])
	}
	sb.WriteString("}")
	if r.Dynamic {
		sb.WriteString("(dyn)")
	}
	return sb.String()
}
