// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package broadcast lowers broadcast nodes into primitives the engines can execute: reshapes,
// transposes, squeezes, slices, concatenations and, as the last resort, the hardware-native
// broadcast kernels.
//
// A broadcast is classified by a fixed decision tree (Select) into one Strategy, whose application
// (Apply) emits primitive nodes plus zero or more simpler Pending broadcasts. Lower iterates this
// to a fixpoint with a FIFO worklist.
package broadcast

import (
	"fmt"
	"slices"

	"github.com/gomlx/roiplan/pkg/core/graph"
	"github.com/gomlx/roiplan/pkg/core/shapes"
	"github.com/gomlx/roiplan/pkg/support/exceptions"
	"github.com/gomlx/roiplan/pkg/support/xslices"
)

// Params describes one maximal run of broadcast axes [DimStart, DimEnd] (inclusive), where the
// input has size 1 and the output doesn't. Size is the product of the output dimensions of the run.
type Params struct {
	DimStart, DimEnd int
	Size             int
}

// String implements fmt.Stringer.
func (p Params) String() string {
	return fmt.Sprintf("[%d..%d]x%d", p.DimStart, p.DimEnd, p.Size)
}

// isBroadcastAxis returns whether the axis of two equal-rank shapes is broadcast.
func isBroadcastAxis(in, out shapes.Shape, axis int) bool {
	return in.IsTrivialAxis(axis) && !out.IsTrivialAxis(axis)
}

// ExtractParams returns the maximal runs of broadcast axes, in axis order.
//
// It panics with a contract violation if the shapes don't have the same rank or if out is not a
// broadcast of in.
func ExtractParams(in, out shapes.Shape) []Params {
	if in.Rank() != out.Rank() {
		exceptions.Panicf("broadcast params require equal ranks, got %s and %s", in, out)
	}
	checkCompatible(in, out)
	var runs []Params
	for axis := range out.Rank() {
		if !isBroadcastAxis(in, out, axis) {
			continue
		}
		if n := len(runs); n > 0 && runs[n-1].DimEnd == axis-1 {
			runs[n-1].DimEnd = axis
			runs[n-1].Size *= out.Dimensions[axis]
			continue
		}
		runs = append(runs, Params{DimStart: axis, DimEnd: axis, Size: out.Dimensions[axis]})
	}
	return runs
}

// checkCompatible panics if out is not a valid broadcast of the leading axes of in.
func checkCompatible(in, out shapes.Shape) {
	if in.DType != out.DType {
		exceptions.Panicf("broadcast from %s to %s changes the dtype", in, out)
	}
	if in.Rank() > out.Rank() {
		exceptions.Panicf("can't broadcast %s to the lower rank %s", in, out)
	}
	for axis := range in.Rank() {
		if in.IsTrivialAxis(axis) {
			continue
		}
		if in.Dimensions[axis] != out.Dimensions[axis] || in.MinDimensions[axis] != out.MinDimensions[axis] {
			exceptions.Panicf("can't broadcast %s to %s: axis %d is neither equal nor broadcast", in, out, axis)
		}
	}
}

// Pending is a broadcast still to be classified and lowered.
type Pending struct {
	// Name of the original broadcast node, used as prefix of every synthesized node.
	Name string

	Input, Output *graph.Tensor

	// ShapeTensor holds the run-time output dimensions, required when the output is dynamic.
	ShapeTensor *graph.Tensor
}

// PendingFromNode converts a KindBroadcast node into a Pending broadcast.
func PendingFromNode(node *graph.Node) Pending {
	if node.Kind != graph.KindBroadcast {
		exceptions.Panicf("node %q is a %s, not a broadcast", node.Name, node.Kind)
	}
	graph.Validate(node)
	return Pending{Name: node.Name, Input: node.Input(0), Output: node.Output(0), ShapeTensor: node.ShapeTensor}
}

// String implements fmt.Stringer.
func (p Pending) String() string {
	return fmt.Sprintf("broadcast %q %s -> %s", p.Name, p.Input.Shape, p.Output.Shape)
}

// Measure is the complexity of a pending broadcast, compared lexicographically. Every lowering
// step must produce pending broadcasts strictly smaller than their parent, which guarantees the
// worklist terminates.
//
// The entries are: number of dynamic axes, rank mismatch, number of trivial output axes, whether
// the FCD is broadcast, number of broadcast runs, normalized rank (2 for the canonical form),
// non-canonical flag and total size of the broadcast runs.
type Measure [8]int

// MeasureOf returns the complexity measure of the pending broadcast.
func MeasureOf(p Pending) Measure {
	var m Measure
	in, out := p.Input.Shape, p.Output.Shape
	for axis := range in.Rank() {
		if in.IsDynamicAxis(axis) {
			m[0]++
		}
	}
	for axis := range out.Rank() {
		if out.IsDynamicAxis(axis) {
			m[0]++
		}
	}
	m[1] = out.Rank() - in.Rank()
	if m[1] != 0 {
		return m
	}
	for axis := range out.Rank() {
		if out.IsTrivialAxis(axis) {
			m[2]++
		}
	}
	runs := ExtractParams(in, out)
	if len(runs) > 0 && runs[0].DimStart == 0 {
		m[3] = 1
	}
	m[4] = len(runs)
	if isCanonical(runs, out.Rank()) {
		m[5] = 2
	} else {
		m[5] = out.Rank()
		m[6] = 1
	}
	m[7] = xslices.Sum(xslices.Map(runs, func(r Params) int { return r.Size }))
	return m
}

// Less returns whether m is lexicographically smaller than other.
func (m Measure) Less(other Measure) bool {
	return slices.Compare(m[:], other[:]) < 0
}

// isCanonical returns whether the broadcast is the one the physical kernels execute: a tensor of
// rank at most 2 broadcast only on its last (slowest) axis.
func isCanonical(runs []Params, rank int) bool {
	return len(runs) == 1 && rank <= 2 && runs[0].DimStart == rank-1
}
