// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package transpose

import (
	"slices"

	"github.com/gomlx/roiplan/pkg/core/graph"
	"github.com/gomlx/roiplan/pkg/hal"
	"github.com/gomlx/roiplan/pkg/roi"
	"github.com/gomlx/roiplan/pkg/support/exceptions"
	"github.com/gomlx/roiplan/pkg/support/xslices"
	"k8s.io/klog/v2"
)

// Strategy splits the index space of a canonical DMA transpose: axis 0 is the source fast dimension F,
// axis 1 the lines S (the destination fast dimension) and the optional axis 2 the batch B.
type Strategy interface {
	// Name of the strategy, for logging.
	Name() string

	// SplitLogical splits the full ROI into (up to) pipelineDepth pipeline stages, leaving enough work
	// in each stage for futureEngines engines.
	SplitLogical(full roi.NodeROI, pipelineDepth, futureEngines int) []roi.NodeROI

	// SplitRoiToEngines splits one logical ROI into physical ROIs for engineCount engines. Each
	// returned ROI can be expressed by one descriptor; an engine may get more than one, and the
	// EngineIndex of the returned ROIs tells which engine each one is for.
	SplitRoiToEngines(logical roi.NodeROI, engineCount int) []roi.NodeROI

	// Finalize computes the descriptor layout of a physical ROI.
	Finalize(r roi.NodeROI) roi.NodeROI
}

// NewStrategy returns the strategy for the transpose node: FullUtilizationStrategy if the node is
// marked as fully utilized, LowDescriptorStrategy otherwise.
//
// The node must be canonical (see CanonicalNodes) and DMA eligible, and its number of lines must be
// aligned to the engine requirements: otherwise it panics with a contract violation.
func NewStrategy(node *graph.Node, model *EngineModel, tuning hal.Tuning) Strategy {
	b := newBase(node, model, tuning)
	if node.Params.(*graph.TransposeParams).FullyUtilized {
		return &FullUtilizationStrategy{base: b}
	}
	return &LowDescriptorStrategy{base: b}
}

// IsDMAEligible returns whether the transpose node can be split by a Strategy once canonicalized: its
// canonical form is a 2-D (or batched) swap and its number of lines is aligned for the model.
func IsDMAEligible(node *graph.Node, model *EngineModel) bool {
	c := CanonicalizeNode(node)
	return c.IsDMAEligible() && model.IsValidLineCount(c.Dims)
}

// base holds what is shared by the strategies.
type base struct {
	node   *graph.Node
	model  *EngineModel
	tuning hal.Tuning
	dims   []int

	maxSrc, maxDst, maxH int

	// granularity of the splits of each axis, 0 for axes that can't be split without breaking
	// the line count alignment.
	granularity []int
}

func newBase(node *graph.Node, model *EngineModel, tuning hal.Tuning) base {
	c := CanonicalizeNode(node)
	dims := node.Inputs[0].Shape.Dimensions
	if !c.IsDMAEligible() || !slices.Equal(c.Dims, dims) {
		exceptions.Panicf("transpose %q is not a canonical DMA transpose: %s", node.Name, node)
	}
	if model.DType != node.Inputs[0].DType() {
		exceptions.Panicf("transpose %q of %s given engine model for %s", node.Name, node.Inputs[0].DType(), model.DType)
	}
	b := base{
		node:   node,
		model:  model,
		tuning: tuning,
		dims:   slices.Clone(dims),
		maxSrc: model.MaxSourceElementsFastDim(),
		maxDst: model.MaxDestElementsFastDim(),
		maxH:   max(1, model.Params.MaxH),
	}
	if b.maxSrc <= 0 {
		exceptions.Panicf("transpose %q: engine reads %d %s elements per line", node.Name, b.maxSrc, model.DType)
	}

	// Find the first axis m such that the lines of axes [1..m] are aligned: m is split in multiples of
	// what's missing for alignment, axes before it are not split and axes after it are free.
	align := model.RequiredLineCountAlignment()
	b.granularity = make([]int, len(dims))
	b.granularity[0] = b.maxSrc
	lines := 1
	aligned := false
	for axis := 1; axis < len(dims); axis++ {
		if aligned {
			b.granularity[axis] = 1
			continue
		}
		missing := align / xslices.GCD(lines, align)
		lines *= dims[axis]
		if lines%align == 0 {
			b.granularity[axis] = missing
			aligned = true
		}
	}
	if !aligned {
		exceptions.Panicf("transpose %q: %d lines are not a multiple of the required alignment %d",
			node.Name, lines, align)
	}
	return b
}

// lineGranularity returns the granularity of axis, rounded up to complete destination lines for the
// lines axis (1) if it is large enough.
func (b *base) lineGranularity(axis int) int {
	g := b.granularity[axis]
	if g == 0 || axis != 1 {
		return g
	}
	full := g * b.maxDst / xslices.GCD(g, b.maxDst)
	if full <= b.dims[axis] {
		return full
	}
	return g
}

// units returns the number of split units of axis for the given size, 0 if it can't be split.
func units(size, granularity int) int {
	if granularity == 0 {
		return 0
	}
	return xslices.DivCeil(size, granularity)
}

// splitLogical splits the full ROI in pipeline stages along the batch, slow and fast axes, in this order
// of preference, with axes whose number of units divides the pipeline depth first.
func (b *base) splitLogical(full roi.NodeROI, pipelineDepth, futureEngines int, granularity []int) []roi.NodeROI {
	if pipelineDepth <= 0 || futureEngines <= 0 {
		exceptions.Panicf("transpose %q: can't split into %d stages for %d engines", b.node.Name, pipelineDepth, futureEngines)
	}
	var exact, rest, exactGran, restGran []int
	totalUnits := 1
	for axis := full.Rank - 1; axis >= 0; axis-- {
		n := units(full.Size[axis], granularity[axis])
		if n < max(2, b.tuning.MinSplitUnits) {
			continue
		}
		totalUnits *= n
		if n%pipelineDepth == 0 {
			exact, exactGran = append(exact, axis), append(exactGran, granularity[axis])
		} else {
			rest, restGran = append(rest, axis), append(restGran, granularity[axis])
		}
	}
	chunkCount := min(pipelineDepth, max(1, totalUnits/futureEngines))
	if chunkCount < pipelineDepth {
		klog.V(1).Infof("transpose %q: %d units are enough for %d of %d pipeline stages",
			b.node.Name, totalUnits, chunkCount, pipelineDepth)
	}
	rois, shortfall := roi.SplitAlongAxes(full, slices.Concat(exact, rest), chunkCount, slices.Concat(exactGran, restGran))
	if shortfall > 0 {
		klog.Warningf("transpose %q: index space %v split into %d logical ROIs, %d requested",
			b.node.Name, full.Sizes(), len(rois), chunkCount)
	}
	return rois
}

// descriptorPieces splits the fast axis of r so that each piece can be expressed as k*h*c' elements:
// a block of complete maxH-sized groups of lines, the remaining complete lines and the partial line.
func (b *base) descriptorPieces(r roi.NodeROI) []roi.NodeROI {
	f := r.Size[0]
	fullLines, partial := f/b.maxSrc, f%b.maxSrc
	var chunks []int
	if fullLines > b.maxH {
		chunks = append(chunks, (fullLines/b.maxH)*b.maxH*b.maxSrc)
		fullLines %= b.maxH
	}
	if fullLines > 0 {
		chunks = append(chunks, fullLines*b.maxSrc)
	}
	if partial > 0 {
		chunks = append(chunks, partial)
	}
	pieces := make([]roi.NodeROI, 0, len(chunks))
	offset := 0
	for _, size := range chunks {
		piece := r
		piece.BaseOffset[0] += offset
		piece.Size[0] = size
		pieces = append(pieces, piece)
		offset += size
	}
	return pieces
}

// onEngine sets the engine of the pieces.
func onEngine(pieces []roi.NodeROI, engine int) []roi.NodeROI {
	for ii := range pieces {
		pieces[ii].EngineIndex = engine
	}
	return pieces
}

// invocations estimates the number of engine invocations to transpose r.
func (b *base) invocations(r roi.NodeROI) int {
	n := xslices.DivCeil(r.Size[0], b.maxSrc) * xslices.DivCeil(r.Size[1], b.maxDst)
	if r.Rank > 2 {
		n *= r.Size[2]
	}
	return n
}

// Finalize implements Strategy.
//
// The source is walked as (k, h, c', S, B): k = min(F, maxSrc) elements per line, h = clamp(F/maxSrc,
// 1, maxH) lines per group and c' groups, such that k*h*c' == F. The destination walk is the transposed
// one, (S, k, h, c', B). Strides are those of the canonical tensors, so when several original axes were
// merged into S the strides are the ones of the pre-flattened tensor.
func (b *base) Finalize(r roi.NodeROI) roi.NodeROI {
	if r.Rank != len(b.dims) {
		exceptions.Panicf("transpose %q: ROI %s doesn't match the index space %v", b.node.Name, r, b.dims)
	}
	f := r.Size[0]
	k := min(f, b.maxSrc)
	h := min(max(f/b.maxSrc, 1), b.maxH)
	c := f / (k * h)
	if k*h*c != f {
		exceptions.Panicf("transpose %q: fast size %d of ROI %s can't be expressed as k*h*c' with k=%d, h=%d",
			b.node.Name, f, r, k, h)
	}
	if !b.model.IsValidLineCount(r.Sizes()) {
		exceptions.Panicf("transpose %q: ROI %s has %d lines, not a multiple of %d", b.node.Name, r,
			xslices.Product(r.Sizes()[1:]), b.model.RequiredLineCountAlignment())
	}

	bits := b.model.DType.Bits()
	bytesOf := func(elements int) int { return elements * bits / 8 }
	inStrides, outStrides := b.node.Inputs[0].ByteStrides(), b.node.Outputs[0].ByteStrides()
	batch, inBatchStride, outBatchStride := 1, 0, 0
	if r.Rank > 2 {
		batch, inBatchStride, outBatchStride = r.Size[2], inStrides[2], outStrides[2]
	}
	elementStride := b.model.DType.Size()
	r = r.Clone()
	r.Layout = &roi.HardwareLayout{
		SrcSizes:   [roi.LayoutRank]int{k, h, c, r.Size[1], batch},
		SrcStrides: [roi.LayoutRank]int{elementStride, bytesOf(k), bytesOf(k * h), inStrides[1], inBatchStride},
		DstSizes:   [roi.LayoutRank]int{r.Size[1], k, h, c, batch},
		DstStrides: [roi.LayoutRank]int{elementStride, outStrides[1], k * outStrides[1], k * h * outStrides[1], outBatchStride},
	}
	klog.V(2).Infof("transpose %q: ROI %s -> %s (fully utilized: %v)", b.node.Name, r, r.Layout,
		b.model.IsFullyUtilized(f, xslices.Product(r.Sizes()[1:])))
	return r
}
