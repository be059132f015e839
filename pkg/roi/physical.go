// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package roi

import (
	"github.com/gomlx/roiplan/pkg/core/dtypes"
	"github.com/gomlx/roiplan/pkg/core/geometry"
	"github.com/gomlx/roiplan/pkg/core/graph"
	"github.com/gomlx/roiplan/pkg/support/exceptions"
	"github.com/gomlx/roiplan/pkg/support/xslices"
)

// AssignEngines flattens the physical ROIs of each logical ROI (one pipeline level each) and annotates
// them with EngineIndex, PipelineLevel and NumSignals.
//
// Within a level the engine index is a running counter modulo engineCount. More ROIs than engines in
// one level is a contract violation, unless allowMultiple is set (multiple descriptors per engine).
// The last engineCount ROIs of each level signal completion (NumSignals = 1).
func AssignEngines(perLogical [][]NodeROI, engineCount int, allowMultiple bool) []NodeROI {
	if engineCount <= 0 {
		exceptions.Panicf("can't assign ROIs to %d engines", engineCount)
	}
	var result []NodeROI
	for level, rois := range perLogical {
		if len(rois) > engineCount && !allowMultiple {
			exceptions.Panicf("pipeline level %d has %d physical ROIs for %d engines", level, len(rois), engineCount)
		}
		for ii, r := range rois {
			r.PipelineLevel = level
			r.EngineIndex = ii % engineCount
			r.NumSignals = 0
			if ii >= len(rois)-engineCount {
				r.NumSignals = 1
			}
			result = append(result, r)
		}
	}
	return result
}

// AssignGroupedEngines is like AssignEngines, for physical ROIs whose EngineIndex was already set by the
// splitter: several ROIs (descriptors) may share an engine, and they all stay on it.
//
// Each level is reordered in rounds, aligned so the last round holds the last ROI of every engine used:
// those are the ROIs that signal completion, and they come last in the level.
func AssignGroupedEngines(perLogical [][]NodeROI, engineCount int) []NodeROI {
	if engineCount <= 0 {
		exceptions.Panicf("can't assign ROIs to %d engines", engineCount)
	}
	var result []NodeROI
	for level, rois := range perLogical {
		groups := make([][]NodeROI, engineCount)
		rounds := 0
		for _, r := range rois {
			if r.EngineIndex < 0 || r.EngineIndex >= engineCount {
				exceptions.Panicf("pipeline level %d: ROI %s assigned to engine %d of %d", level, r, r.EngineIndex, engineCount)
			}
			groups[r.EngineIndex] = append(groups[r.EngineIndex], r)
			rounds = max(rounds, len(groups[r.EngineIndex]))
		}
		for round := range rounds {
			for _, group := range groups {
				idx := round - (rounds - len(group))
				if idx < 0 {
					continue
				}
				r := group[idx]
				r.PipelineLevel = level
				r.NumSignals = 0
				if idx == len(group)-1 {
					r.NumSignals = 1
				}
				result = append(result, r)
			}
		}
	}
	return result
}

// ComputeTensorOffsets fills the Inputs and Outputs tensor ROIs of r for the given node, mapping the
// index-space region to each tensor's coordinates and computing the byte offset of its first element.
// It also sets r.Dynamic if the region goes beyond the minimal size of the index space.
//
// The mapping depends on the node kind: transposes iterate over the source, slices offset their input
// by the slice starts, and broadcast kernels read the single element of their broadcast axes.
func ComputeTensorOffsets(r NodeROI, node *graph.Node) NodeROI {
	r = r.Clone()
	dims, minDims := IndexSpace(node)
	if len(dims) != r.Rank {
		exceptions.Panicf("node %q: ROI %s doesn't match index space %v", node.Name, r, dims)
	}
	r.Dynamic = false
	for axis := range r.Rank {
		if r.BaseOffset[axis]+r.Size[axis] > dims[axis] {
			exceptions.Panicf("node %q: ROI %s out of bounds of index space %v", node.Name, r, dims)
		}
		if r.BaseOffset[axis]+r.Size[axis] > minDims[axis] {
			r.Dynamic = true
		}
	}

	r.Inputs = make([]TensorROI, len(node.Inputs))
	for ii, t := range node.Inputs {
		var base, size []int
		switch node.Kind {
		case graph.KindSlice:
			params := node.Params.(*graph.SliceParams)
			base = make([]int, r.Rank)
			for axis := range base {
				base[axis] = r.BaseOffset[axis] + params.Starts[axis]
			}
			size = r.Sizes()
		case graph.KindBroadcastNonFCD, graph.KindDMABroadcast, graph.KindConstantFill:
			base, size = broadcastRegion(r, t)
		default:
			base, size = r.Offsets(), r.Sizes()
		}
		r.Inputs[ii] = tensorROI(t, base, size)
	}

	r.Outputs = make([]TensorROI, len(node.Outputs))
	for ii, t := range node.Outputs {
		base, size := r.Offsets(), r.Sizes()
		if node.Kind == graph.KindTranspose {
			perm := node.Params.(*graph.TransposeParams).Permutation
			base, size = geometry.Apply(perm, base), geometry.Apply(perm, size)
		}
		r.Outputs[ii] = tensorROI(t, base, size)
	}
	return r
}

// broadcastRegion maps an output region to the input of a broadcast: axes where the input has size 1
// always read element 0.
func broadcastRegion(r NodeROI, input *graph.Tensor) (base, size []int) {
	base, size = make([]int, input.Rank()), make([]int, input.Rank())
	for axis := range input.Rank() {
		if input.Shape.Dimensions[axis] == 1 {
			size[axis] = 1
			continue
		}
		base[axis], size[axis] = r.BaseOffset[axis], r.Size[axis]
	}
	return
}

func tensorROI(t *graph.Tensor, base, size []int) TensorROI {
	if t.Rank() > MaxDimensions {
		exceptions.Panicf("tensor %s of rank %d exceeds the maximum rank %d", t, t.Rank(), MaxDimensions)
	}
	tr := TensorROI{Rank: t.Rank()}
	strides := t.ByteStrides()
	bits := t.DType().Bits()
	offsetBits := 0
	for axis := range t.Rank() {
		tr.BaseOffset[axis] = base[axis]
		tr.Size[axis] = size[axis]
		tr.Strides[axis] = strides[axis]
		if axis == 0 {
			offsetBits += base[axis] * bits
		} else {
			offsetBits += base[axis] * strides[axis] * 8
		}
	}
	if offsetBits%8 != 0 {
		exceptions.Panicf("tensor %s: region starting at %v is not byte aligned", t, base)
	}
	tr.ByteOffset = offsetBits / 8
	return tr
}

// SplitHuge splits the ROIs whose data is larger than maxBytes (for elements of the given dtype)
// along their slowest axes, so each fits in one descriptor. Pipeline level, engine and signal
// annotations are copied to the pieces.
func SplitHuge(rois []NodeROI, dtype dtypes.DType, maxBytes int) []NodeROI {
	if maxBytes <= 0 {
		exceptions.Panicf("can't split ROIs into pieces of %d bytes", maxBytes)
	}
	var result []NodeROI
	for _, r := range rois {
		result = append(result, splitHuge(r, dtype, maxBytes)...)
	}
	return result
}

func splitHuge(r NodeROI, dtype dtypes.DType, maxBytes int) []NodeROI {
	bytes := dtype.SizeForDimensions(r.Sizes()...)
	if bytes <= maxBytes || r.NumElements() == 1 {
		return []NodeROI{r}
	}
	// Slowest axes first.
	axes := make([]int, r.Rank)
	for ii := range axes {
		axes[ii] = r.Rank - 1 - ii
	}
	pieces, _ := SplitAlongAxes(r, axes, xslices.DivCeil(bytes, maxBytes), nil)
	var result []NodeROI
	for _, piece := range pieces {
		result = append(result, splitHuge(piece, dtype, maxBytes)...)
	}
	return result
}
