// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package broadcast

import (
	"fmt"
	"slices"

	"github.com/gomlx/roiplan/pkg/core/geometry"
	"github.com/gomlx/roiplan/pkg/core/graph"
	"github.com/gomlx/roiplan/pkg/core/shapes"
	"github.com/gomlx/roiplan/pkg/hal"
	"github.com/gomlx/roiplan/pkg/support/exceptions"
	"github.com/gomlx/roiplan/pkg/support/xslices"
)

// Result of applying a strategy: the primitive nodes emitted (not necessarily in topological
// order) and the broadcasts left to lower.
type Result struct {
	Nodes   []*graph.Node
	Pending []Pending
}

// Lowerer applies strategies, naming the synthesized nodes with a counter shared by all the
// strategies applied through it.
type Lowerer struct {
	sel     selector
	factory graph.NodeFactory
	counter int
}

// NewLowerer creates a Lowerer for the given hardware, creating nodes with factory.
func NewLowerer(cfg hal.Reader, factory graph.NodeFactory) *Lowerer {
	return &Lowerer{sel: newSelector(cfg), factory: factory}
}

// Select classifies the pending broadcast, see the package function Select.
func (l *Lowerer) Select(p Pending) Strategy {
	return l.sel.selectStrategy(p)
}

// Apply is a shortcut to NewLowerer(cfg, factory).Apply(strategy, p).
func Apply(strategy Strategy, p Pending, cfg hal.Reader, factory graph.NodeFactory) Result {
	return NewLowerer(cfg, factory).Apply(strategy, p)
}

// Apply lowers p with the given strategy, which must be the one selected for p: strategies
// assume the preconditions checked by the decision tree.
func (l *Lowerer) Apply(strategy Strategy, p Pending) Result {
	e := &emitter{Lowerer: l, p: p, strategy: strategy}
	switch strategy {
	case StrategyIdentity:
		e.node(graph.KindIdentity, nil, "copy", p.Output, p.Input)
	case StrategyConstantFill:
		e.constantFill()
	case StrategyExpandDim:
		e.expandDim()
	case StrategySqueeze:
		e.squeeze()
	case StrategySlice:
		e.slice()
	case StrategyPhysicalBroadcast:
		e.physical()
	case StrategyFlatten:
		e.flatten()
	case StrategyTranspose:
		pt, ok := l.sel.transposeSplitPoint(p, e.runs())
		if !ok {
			exceptions.Panicf("%s: no split point for the transpose strategy", p)
		}
		e.transposeVia(p.Input, p.Output.Shape.Dimensions, pt)
	case StrategyPreTranspose:
		e.preTranspose()
	case StrategySplit:
		e.split()
	default:
		exceptions.Panicf("%s: invalid strategy %s", p, strategy)
	}
	return e.result
}

// emitter accumulates the result of one strategy application.
type emitter struct {
	*Lowerer
	p        Pending
	strategy Strategy
	result   Result
}

func (e *emitter) runs() []Params {
	return ExtractParams(e.p.Input.Shape, e.p.Output.Shape)
}

func (e *emitter) name(role string) string {
	e.counter++
	return fmt.Sprintf("%s/%s_%s_%d", e.p.Name, e.strategy, role, e.counter)
}

func (e *emitter) tensor(role string, shape shapes.Shape) *graph.Tensor {
	return graph.NewTensor(e.name(role), shape)
}

func (e *emitter) staticTensor(role string, dims []int) *graph.Tensor {
	return e.tensor(role, shapes.Make(e.p.Output.DType(), dims...))
}

func (e *emitter) node(kind graph.Kind, params graph.Params, role string, output *graph.Tensor, inputs ...*graph.Tensor) *graph.Node {
	node := e.factory.CreateNode(inputs, []*graph.Tensor{output}, params, kind, e.name(role))
	e.result.Nodes = append(e.result.Nodes, node)
	return node
}

func (e *emitter) pending(input, output *graph.Tensor) {
	e.result.Pending = append(e.result.Pending, Pending{Name: e.p.Name, Input: input, Output: output})
}

// reshapeInput returns src reshaped to the static dims, or src itself if it already has them.
func (e *emitter) reshapeInput(src *graph.Tensor, dims []int, role string) *graph.Tensor {
	if !src.IsDynamic() && slices.Equal(src.Shape.Dimensions, dims) {
		return src
	}
	t := e.staticTensor(role, dims)
	e.node(graph.KindReshape, nil, role, t, src)
	return t
}

// reshapeOutput returns a tensor with the static dims that is reshaped into dst, or dst itself if
// it already has them.
func (e *emitter) reshapeOutput(dims []int, dst *graph.Tensor, role string) *graph.Tensor {
	if !dst.IsDynamic() && slices.Equal(dst.Shape.Dimensions, dims) {
		return dst
	}
	t := e.staticTensor(role, dims)
	e.node(graph.KindReshape, nil, role, dst, t)
	return t
}

func (e *emitter) constantFill() {
	params := &graph.ConstantFillParams{}
	if c := e.p.Input.Constant; c != nil {
		encoded, err := e.p.Input.DType().EncodeScalar(*c)
		if err != nil {
			exceptions.Panicf("%s: %v", e.p, err)
		}
		params.HasValue, params.Value, params.Encoded = true, *c, encoded
	}
	e.node(graph.KindConstantFill, params, "fill", e.p.Output, e.p.Input)
}

// expandDim appends size-1 axes to the input until it matches the output rank.
func (e *emitter) expandDim() {
	in, out := e.p.Input.Shape, e.p.Output.Shape
	extra := out.Rank() - in.Rank()
	ones := xslices.SliceWithValue(extra, 1)
	expanded := e.tensor("in", shapes.MakeDynamic(in.DType,
		slices.Concat(in.Dimensions, ones), slices.Concat(in.MinDimensions, ones)))
	e.node(graph.KindExpandDims, &graph.ExpandDimsParams{Axes: xslices.Iota(in.Rank(), extra)}, "in", expanded, e.p.Input)
	e.result.Pending = append(e.result.Pending,
		Pending{Name: e.p.Name, Input: expanded, Output: e.p.Output, ShapeTensor: e.p.ShapeTensor})
}

// squeeze removes the axes of size 1 on both sides and broadcasts the reduced tensors.
func (e *emitter) squeeze() {
	in, out := e.p.Input.Shape, e.p.Output.Shape
	var axes []int
	for axis := range out.Rank() {
		if out.IsTrivialAxis(axis) {
			axes = append(axes, axis)
		}
	}
	reduce := func(s shapes.Shape) shapes.Shape {
		var dims, minDims []int
		for axis := range s.Rank() {
			if !slices.Contains(axes, axis) {
				dims = append(dims, s.Dimensions[axis])
				minDims = append(minDims, s.MinDimensions[axis])
			}
		}
		return shapes.MakeDynamic(s.DType, dims, minDims)
	}
	squeezed := e.tensor("in", reduce(in))
	e.node(graph.KindSqueeze, &graph.SqueezeParams{Axes: axes}, "in", squeezed, e.p.Input)
	reduced := e.tensor("out", reduce(out))
	e.node(graph.KindExpandDims, &graph.ExpandDimsParams{Axes: axes}, "out", e.p.Output, reduced)
	e.result.Pending = append(e.result.Pending,
		Pending{Name: e.p.Name, Input: squeezed, Output: reduced, ShapeTensor: e.p.ShapeTensor})
}

// slice broadcasts to the worst-case static shape, and slices down to the dynamic output.
func (e *emitter) slice() {
	in, out := e.p.Input, e.p.Output
	staticIn := e.reshapeInput(in, in.Shape.Dimensions, "in")
	if !out.IsDynamic() {
		e.pending(staticIn, out)
		return
	}
	dims := out.Shape.Dimensions
	staticOut := e.staticTensor("full", dims)
	e.pending(staticIn, staticOut)
	params := &graph.SliceParams{Starts: make([]int, len(dims)), Ends: slices.Clone(dims)}
	e.node(graph.KindSlice, params, "out", out, staticOut).WithShapeTensor(e.p.ShapeTensor)
}

// physical emits the hardware broadcast kernel of the configured engine.
func (e *emitter) physical() {
	kind := graph.KindBroadcastNonFCD
	if e.sel.engine == hal.EngineDMA {
		kind = graph.KindDMABroadcast
	}
	e.node(kind, &graph.BroadcastParams{Axes: broadcastAxes(e.runs())}, "kernel", e.p.Output, e.p.Input)
}

// flatten collapses the non-broadcast axes into one fast axis of size N and the broadcast axes into
// one slow axis, broadcasts [N, 1] to [N, B], and moves the axes back in place with a transpose
// if the order of the axes changed.
func (e *emitter) flatten() {
	out := e.p.Output.Shape
	bcastAxes := broadcastAxes(e.runs())
	var keptAxes []int
	for axis := range out.Rank() {
		if !slices.Contains(bcastAxes, axis) {
			keptAxes = append(keptAxes, axis)
		}
	}
	n := xslices.Product(dimsOf(out.Dimensions, keptAxes))
	b := xslices.Product(dimsOf(out.Dimensions, bcastAxes))
	flatIn, flatOut := []int{n, 1}, []int{n, b}
	if n == 1 {
		flatIn, flatOut = []int{1}, []int{b}
	}
	in2d := e.reshapeInput(e.p.Input, flatIn, "in")

	perm := geometry.Permutation(slices.Concat(keptAxes, bcastAxes))
	var out2d *graph.Tensor
	if perm.IsIdentity() {
		out2d = e.reshapeOutput(flatOut, e.p.Output, "out")
	} else {
		permuted := e.staticTensor("permuted", geometry.Apply(perm, out.Dimensions))
		e.node(graph.KindTranspose, &graph.TransposeParams{Permutation: perm.Inverse()}, "out", e.p.Output, permuted)
		out2d = e.reshapeOutput(flatOut, permuted, "permuted")
	}
	e.pending(in2d, out2d)
}

// dimsOf returns the dimensions of the given subset of axes, in the order given.
func dimsOf(dims, axes []int) []int {
	return xslices.Map(axes, func(axis int) int { return dims[axis] })
}

// transposeVia shifts the leading axes [0..pt] to the slow side, broadcasts in the shifted space
// and transposes the result back as a 2-D [PB, PA] -> [PA, PB] transpose.
func (e *emitter) transposeVia(in *graph.Tensor, outDims []int, pt int) {
	rank := len(outDims)
	shift := geometry.Shift(rank, pt+1)
	inDims := in.Shape.Dimensions
	shiftedIn := e.staticTensor("shifted_in", geometry.Apply(shift, inDims))
	if xslices.Product(inDims[:pt+1]) == 1 {
		e.node(graph.KindReshape, nil, "shifted_in", shiftedIn, in)
	} else {
		e.node(graph.KindTranspose, &graph.TransposeParams{Permutation: shift}, "shifted_in", shiftedIn, in)
	}
	shiftedOut := e.staticTensor("shifted_out", geometry.Apply(shift, outDims))
	e.pending(shiftedIn, shiftedOut)

	pa := geometry.FlattenedSize(outDims, 0, pt+1)
	pb := geometry.FlattenedSize(outDims, pt+1, rank)
	swapped := e.staticTensor("2d", []int{pb, pa})
	e.node(graph.KindReshape, nil, "2d", swapped, shiftedOut)
	final := e.reshapeOutput([]int{pa, pb}, e.p.Output, "unshifted")
	e.node(graph.KindTranspose, &graph.TransposeParams{Permutation: geometry.Permutation{1, 0}}, "2d_transpose", final, swapped)
}

// preTranspose splits the axis after the first run into [D1, D/D1] so the transpose strategy finds
// a split point with good utilization.
func (e *emitter) preTranspose() {
	runs := e.runs()
	d1, ok := e.sel.preTransposeFactor(e.p, runs)
	if !ok {
		exceptions.Panicf("%s: no factor for the pre-transpose strategy", e.p)
	}
	axis := runs[0].DimEnd + 1
	splitDims := func(dims []int) []int {
		return slices.Concat(dims[:axis], []int{d1, dims[axis] / d1}, dims[axis+1:])
	}
	in := e.reshapeInput(e.p.Input, splitDims(e.p.Input.Shape.Dimensions), "split_in")
	e.transposeVia(in, splitDims(e.p.Output.Shape.Dimensions), axis)
}

// split broadcasts [X, 1, Y] first to [X, k, Y] and then, seen as [X*k, 1, Y], to [X*k, q, Y],
// where B = k*q + r. A non-zero remainder r is sliced from the first step and concatenated.
// Axes of size 1 are omitted.
func (e *emitter) split() {
	run := e.runs()[0]
	k, ok := e.sel.splitFactor(e.p, run)
	if !ok {
		exceptions.Panicf("%s: no factor for the split strategy", e.p)
	}
	dims := e.p.Output.Shape.Dimensions
	x := geometry.FlattenedSize(dims, 0, run.DimStart)
	y := geometry.FlattenedSize(dims, run.DimEnd+1, len(dims))
	b := run.Size
	q, r := b/k, b%k
	compact := func(x, mid, y int) []int {
		var c []int
		if x > 1 {
			c = append(c, x)
		}
		c = append(c, mid)
		if y > 1 {
			c = append(c, y)
		}
		return c
	}
	midAxis := 0
	if x > 1 {
		midAxis = 1
	}

	in := e.reshapeInput(e.p.Input, compact(x, 1, y), "in")
	first := e.staticTensor("first", compact(x, k, y))
	e.pending(in, first)

	// main holds the first k*q elements of the run.
	mainDims := compact(x, k*q, y)
	var main *graph.Tensor
	if r == 0 {
		main = e.reshapeOutput(mainDims, e.p.Output, "out")
	} else {
		main = first
		if q > 1 {
			main = e.staticTensor("main", mainDims)
		}
		ends := compact(x, r, y)
		remainder := e.staticTensor("remainder", ends)
		e.node(graph.KindSlice, &graph.SliceParams{Starts: make([]int, len(ends)), Ends: ends}, "remainder", remainder, first)
		joined := e.reshapeOutput(compact(x, b, y), e.p.Output, "out")
		e.node(graph.KindConcat, &graph.ConcatParams{Axis: midAxis}, "concat", joined, main, remainder)
	}
	if q == 1 {
		return
	}
	secondIn := e.staticTensor("second_in", compact(x*k, 1, y))
	e.node(graph.KindReshape, nil, "second_in", secondIn, first)
	secondOut := e.staticTensor("second_out", compact(x*k, q, y))
	e.pending(secondIn, secondOut)
	e.node(graph.KindReshape, nil, "main", main, secondOut)
}
