// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package roi

import (
	"github.com/gomlx/roiplan/pkg/support/exceptions"
	"github.com/gomlx/roiplan/pkg/support/xslices"
	"k8s.io/klog/v2"
)

// EvenChunks splits size into the given number of pieces as evenly as possible: the first
// size%pieces pieces get one extra element.
func EvenChunks(size, pieces int) []int {
	if pieces <= 0 {
		exceptions.Panicf("can't split size %d into %d pieces", size, pieces)
	}
	if size <= 0 {
		exceptions.Panicf("can't split zero-sized dimension into %d pieces", pieces)
	}
	chunks := make([]int, pieces)
	quotient, remainder := size/pieces, size%pieces
	for ii := range chunks {
		chunks[ii] = quotient
		if ii < remainder {
			chunks[ii]++
		}
	}
	return chunks
}

// splitAxis splits every ROI of rois along axis into the given chunk sizes (Cartesian expansion).
func splitAxis(rois []NodeROI, axis int, chunks []int) []NodeROI {
	result := make([]NodeROI, 0, len(rois)*len(chunks))
	for _, r := range rois {
		offset := 0
		for _, size := range chunks {
			result = append(result, r.withAxis(axis, offset, size))
			offset += size
		}
		if offset != r.Size[axis] {
			exceptions.Panicf("chunks %v don't cover axis %d of ROI %s", chunks, axis, r)
		}
	}
	return result
}

// SplitAlongAxes splits r into up to chunkCount ROIs, visiting the axes in the given order.
//
// On each axis the extent is divided in units of granularity[i] elements (the last unit may be
// partial), and the units are split as evenly as possible into min(remaining, units) pieces. The
// remaining chunk count is then divided (rounding up) by the number of pieces produced before moving
// to the next axis. If granularity is nil, units are single elements.
//
// It returns the ROIs and the number of chunks that could not be achieved (0 if the split reached
// chunkCount).
func SplitAlongAxes(r NodeROI, axes []int, chunkCount int, granularity []int) (rois []NodeROI, shortfall int) {
	if chunkCount <= 0 {
		exceptions.Panicf("can't split ROI %s into %d chunks", r, chunkCount)
	}
	if granularity != nil && len(granularity) != len(axes) {
		exceptions.Panicf("SplitAlongAxes given %d granularities for %d axes", len(granularity), len(axes))
	}
	r.AssertValid()
	rois = []NodeROI{r}
	remaining := chunkCount
	for ii, axis := range axes {
		if remaining <= 1 {
			break
		}
		if axis < 0 || axis >= r.Rank {
			exceptions.Panicf("split axis %d out of range for ROI %s", axis, r)
		}
		unit := 1
		if granularity != nil {
			unit = granularity[ii]
			if unit <= 0 {
				exceptions.Panicf("split granularity %d must be positive", unit)
			}
		}
		size := r.Size[axis]
		units := xslices.DivCeil(size, unit)
		pieces := min(remaining, units)
		if pieces <= 1 {
			continue
		}
		chunks := xslices.Map(EvenChunks(units, pieces), func(u int) int { return u * unit })
		// The last chunk takes the partial unit, if any.
		chunks[len(chunks)-1] -= units*unit - size
		rois = splitAxis(rois, axis, chunks)
		remaining = xslices.DivCeil(remaining, pieces)
	}
	if len(rois) < chunkCount {
		shortfall = chunkCount - len(rois)
	}
	return
}

// SplitFullRoiToLogicalRoisAlongExternalAxis splits the full ROI of a node into (up to) chunkCount
// pipeline stages, trying the axes in dimPreference order.
//
// Producing fewer stages than requested is not an error: it is logged as a warning, with name
// identifying the node.
func SplitFullRoiToLogicalRoisAlongExternalAxis(r NodeROI, dimPreference []int, chunkCount int, name string) []NodeROI {
	rois, shortfall := SplitAlongAxes(r, dimPreference, chunkCount, nil)
	if shortfall > 0 {
		klog.Warningf("node %q: index space %v split into %d logical ROIs, %d requested", name, r.Sizes(), len(rois), chunkCount)
	}
	return rois
}
