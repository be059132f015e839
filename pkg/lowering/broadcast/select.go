// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package broadcast

import (
	"github.com/gomlx/roiplan/pkg/core/geometry"
	"github.com/gomlx/roiplan/pkg/hal"
	"github.com/gomlx/roiplan/pkg/support/exceptions"
	"github.com/gomlx/roiplan/pkg/support/xslices"
	"k8s.io/klog/v2"
)

// Strategy is the closed set of ways a broadcast can be lowered. It is produced only by Select.
type Strategy int

const (
	StrategyInvalid Strategy = iota
	StrategyIdentity
	StrategyConstantFill
	StrategyExpandDim
	StrategySqueeze
	StrategyPhysicalBroadcast
	StrategyFlatten
	StrategyTranspose
	StrategySlice
	StrategySplit
	StrategyPreTranspose
)

var strategyNames = []string{"invalid", "identity", "constant_fill", "expand_dim", "squeeze",
	"physical_broadcast", "flatten", "transpose", "slice", "split", "pre_transpose"}

// String implements fmt.Stringer.
func (s Strategy) String() string {
	if s < 0 || int(s) >= len(strategyNames) {
		return "invalid"
	}
	return strategyNames[s]
}

// IsTerminal returns whether the strategy never produces pending broadcasts.
func (s Strategy) IsTerminal() bool {
	return s == StrategyIdentity || s == StrategyConstantFill || s == StrategyPhysicalBroadcast
}

// selector holds the hardware facts the decision tree depends on.
type selector struct {
	cacheLine int
	engine    hal.EngineKind
	tuning    hal.Tuning
}

func newSelector(cfg hal.Reader) selector {
	return selector{cacheLine: cfg.CacheLineSize(), engine: cfg.BroadcastEngineKind(), tuning: cfg.Heuristics()}
}

// goodElements returns whether a contiguous chunk of the given number of elements uses the cache
// lines well.
func (s selector) goodElements(p Pending, elements int) bool {
	bytes := p.Output.DType().SizeForDimensions(elements)
	return geometry.IsGoodUtilization(bytes, s.cacheLine, s.tuning.UtilizationThreshold)
}

// Select classifies the pending broadcast.
//
// It panics with a contract violation if the output is not a broadcast of the input, or if a
// dynamic output comes without a shape tensor.
func Select(p Pending, cfg hal.Reader) Strategy {
	return newSelector(cfg).selectStrategy(p)
}

func (s selector) selectStrategy(p Pending) Strategy {
	in, out := p.Input.Shape, p.Output.Shape
	checkCompatible(in, out)

	// Engines that compute one element and replicate it.
	if s.engine == hal.EngineTPC && in.Size() == 1 && !out.IsDynamic() {
		return StrategyConstantFill
	}
	if in.Rank() != out.Rank() {
		return StrategyExpandDim
	}
	runs := ExtractParams(in, out)
	if len(runs) == 0 {
		return StrategyIdentity
	}
	for axis := range out.Rank() {
		if out.IsTrivialAxis(axis) {
			return StrategySqueeze
		}
	}
	if in.IsDynamic() || out.IsDynamic() {
		if out.IsDynamic() && p.ShapeTensor == nil {
			exceptions.Panicf("%s: dynamic output requires a shape tensor", p)
		}
		return StrategySlice
	}

	rank := out.Rank()
	if isCanonical(runs, rank) {
		if x := geometry.FlattenedSize(out.Dimensions, 0, runs[0].DimStart); !s.goodElements(p, x) {
			if _, ok := s.splitFactor(p, runs[0]); ok {
				return StrategySplit
			}
		}
		return StrategyPhysicalBroadcast
	}
	if len(runs) == 1 && (runs[0].DimStart == 0 || runs[0].DimEnd == rank-1) {
		return StrategyFlatten
	}
	if s.goodElements(p, effectiveFCD(runs, out.Dimensions)) {
		return StrategyFlatten
	}
	if runs[0].DimStart == 0 {
		if _, ok := s.transposeSplitPoint(p, runs); ok {
			return StrategyTranspose
		}
		if _, ok := s.preTransposeFactor(p, runs); ok {
			return StrategyPreTranspose
		}
		klog.Warningf("%s: no transpose split reaches good utilization, flattening", p)
		return StrategyFlatten
	}
	if len(runs) == 1 {
		if _, ok := s.splitFactor(p, runs[0]); ok {
			return StrategySplit
		}
	}
	klog.Warningf("%s: runs %v can't be split for good utilization, flattening", p, runs)
	return StrategyFlatten
}

// effectiveFCD is the size of the fast dimension of the transpose implied by flattening: the
// non-broadcast axes before the first run.
func effectiveFCD(runs []Params, dims []int) int {
	return geometry.FlattenedSize(dims, 0, runs[0].DimStart)
}

// splitFactor returns the factor k in which to pre-broadcast the run, so the second step copies
// chunks of k elements of the axes before the run. With SplitPowersOfTwoOnly k is the smallest
// power of two dividing the run size; otherwise the smallest value, with the remainder handled by
// a slice and a concatenation.
func (s selector) splitFactor(p Pending, run Params) (k int, ok bool) {
	if run.DimStart != run.DimEnd || run.Size <= 2 {
		// Runs spanning several axes are flattened first.
		return 0, false
	}
	x := geometry.FlattenedSize(p.Output.Shape.Dimensions, 0, run.DimStart)
	if s.tuning.SplitPowersOfTwoOnly {
		for k = 2; k < run.Size && run.Size%k == 0; k *= 2 {
			if s.goodElements(p, x*k) {
				return k, true
			}
		}
		return 0, false
	}
	for k = 2; k < run.Size; k++ {
		if s.goodElements(p, x*k) {
			return k, true
		}
	}
	return 0, false
}

// transposeSplitPoint searches the last axis pt of the leading block A = [0..pt], starting after
// the first run, such that transposing A to the slow side leaves good utilization on both sides.
// The axis after pt must not be broadcast, so the shifted broadcast doesn't start at the FCD.
func (s selector) transposeSplitPoint(p Pending, runs []Params) (pt int, ok bool) {
	in, out := p.Input.Shape, p.Output.Shape
	rank := out.Rank()
	for pt = runs[0].DimEnd; pt < rank-1; pt++ {
		if isBroadcastAxis(in, out, pt+1) {
			continue
		}
		pa := geometry.FlattenedSize(out.Dimensions, 0, pt+1)
		pb := geometry.FlattenedSize(out.Dimensions, pt+1, rank)
		if s.goodElements(p, pa) && s.goodElements(p, pb) {
			return pt, true
		}
	}
	return 0, false
}

// preTransposeFactor searches the smallest power of two D1 that splits the axis D after the first
// run into [D1, D/D1] such that the transpose at that point has good utilization on both sides.
func (s selector) preTransposeFactor(p Pending, runs []Params) (d1 int, ok bool) {
	dims := p.Output.Shape.Dimensions
	axis := runs[0].DimEnd + 1
	if axis >= len(dims) {
		return 0, false
	}
	d := dims[axis]
	leading := geometry.FlattenedSize(dims, 0, axis)
	trailing := geometry.FlattenedSize(dims, axis+1, len(dims))
	for d1 = 2; d1 < d && d%d1 == 0; d1 *= 2 {
		if s.goodElements(p, leading*d1) && s.goodElements(p, (d/d1)*trailing) {
			return d1, true
		}
	}
	return 0, false
}

// broadcastAxes returns the output axes covered by runs.
func broadcastAxes(runs []Params) []int {
	var axes []int
	for _, run := range runs {
		axes = append(axes, xslices.Iota(run.DimStart, run.DimEnd-run.DimStart+1)...)
	}
	return axes
}
