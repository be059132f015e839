// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package transpose splits DMA transposes into per-engine regions of interest (ROIs) honoring the
// transpose engine limits, and computes the descriptor layout of each of them.
//
// Transposes are first canonicalized (see Canonicalize): axes that stay adjacent are merged and size-1
// axes dropped. A transpose is executed by the DMA transpose engine if its canonical form is a 2-D
// swap [F, S] -> [S, F] or a batched one [F, S, B] -> [S, F, B]. Everything else is split by the
// generic ROI splitter.
package transpose

import (
	"github.com/gomlx/roiplan/pkg/core/dtypes"
	"github.com/gomlx/roiplan/pkg/hal"
	"github.com/gomlx/roiplan/pkg/support/xslices"
)

// MaxDestLines is the maximum number of lines written in one transpose engine invocation.
const MaxDestLines = 128

// EngineModel derives the element-level limits of the transpose engine for one element type.
type EngineModel struct {
	DType  dtypes.DType
	Params hal.TransposeEngineParams
}

// NewEngineModel returns the model of the transpose engine for the given dtype.
func NewEngineModel(dtype dtypes.DType, params hal.TransposeEngineParams) *EngineModel {
	return &EngineModel{DType: dtype, Params: params}
}

// MaxSourceElementsFastDim is the number of elements read along the source fast dimension per invocation.
func (m *EngineModel) MaxSourceElementsFastDim() int {
	return m.Params.MaxBytesSourceFastDim * 8 / m.DType.Bits()
}

// MaxDestElementsFastDim is the number of elements written along the destination fast dimension per
// invocation, capped at MaxDestLines. Sub-byte types use half the byte budget, since two source lines
// are packed in each destination byte.
func (m *EngineModel) MaxDestElementsFastDim() int {
	budget := m.Params.MaxBytesDestFastDim
	if m.DType.IsSubByte() {
		budget /= 2
	}
	return max(1, min(budget*8/m.DType.Bits(), MaxDestLines))
}

// RequiredLineCountAlignment is the granularity of the number of lines (the product of the non-fast
// dimensions) of a transpose. Sub-byte types require pairs of lines.
func (m *EngineModel) RequiredLineCountAlignment() int {
	if m.DType.IsSubByte() {
		return 2 * m.Params.LineCountDivisor
	}
	return m.Params.LineCountDivisor
}

// IsValidLineCount returns whether the product of sizes[1:] is positive and aligned.
func (m *EngineModel) IsValidLineCount(sizes []int) bool {
	if len(sizes) == 0 {
		return false
	}
	lines := xslices.Product(sizes[1:])
	return lines > 0 && lines%m.RequiredLineCountAlignment() == 0
}

// IsFullyUtilized returns whether a region with the given fast size and number of lines only issues
// complete reads and writes.
func (m *EngineModel) IsFullyUtilized(fast, lines int) bool {
	return fast%m.MaxSourceElementsFastDim() == 0 && lines%m.MaxDestElementsFastDim() == 0
}
