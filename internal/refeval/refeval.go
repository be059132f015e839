// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package refeval is a slow reference evaluator of primitive nodes, used to verify that lowerings
// preserve the semantics of the nodes they replace.
//
// Values are float64 buffers in the dense layout where axis 0 is the fastest-changing one. Dynamic
// tensors are evaluated at their maximal shape.
package refeval

import (
	"fmt"
	"slices"

	"github.com/gomlx/roiplan/pkg/core/dtypes"
	"github.com/gomlx/roiplan/pkg/core/graph"
	"github.com/gomlx/roiplan/pkg/core/shapes"
	"github.com/pkg/errors"
)

// Buffer holds the value of a tensor.
type Buffer struct {
	Dims []int
	Data []float64
}

func (b *Buffer) shape() shapes.Shape {
	return shapes.Make(dtypes.Float64, b.Dims...)
}

// NewBuffer returns a zero-initialized buffer.
func NewBuffer(dims ...int) *Buffer {
	return &Buffer{Dims: slices.Clone(dims), Data: make([]float64, shapes.Make(dtypes.Float64, dims...).Size())}
}

// Iota returns a buffer whose elements are their flat index plus 1, so no two elements are equal.
func Iota(dims ...int) *Buffer {
	b := NewBuffer(dims...)
	for ii := range b.Data {
		b.Data[ii] = float64(ii + 1)
	}
	return b
}

// At returns the element at the given indices.
func (b *Buffer) At(indices ...int) float64 {
	return b.Data[b.shape().FlatIndex(indices)]
}

// String implements fmt.Stringer.
func (b *Buffer) String() string {
	return fmt.Sprintf("%v%v", b.Dims, b.Data)
}

// Env maps tensors to their values.
type Env map[*graph.Tensor]*Buffer

// Broadcast is the reference broadcast: out[idx] = in[idx'] where idx'[axis] is 0 on the axes
// where the input has size 1. An input of lower rank is padded with size-1 axes at the end.
func Broadcast(in *Buffer, outDims ...int) (*Buffer, error) {
	if len(in.Dims) > len(outDims) {
		return nil, errors.Errorf("can't broadcast %v to lower rank %v", in.Dims, outDims)
	}
	for axis, dim := range in.Dims {
		if dim != 1 && dim != outDims[axis] {
			return nil, errors.Errorf("can't broadcast %v to %v", in.Dims, outDims)
		}
	}
	inShape := shapes.Make(dtypes.Float64, append(slices.Clone(in.Dims), slices.Repeat([]int{1}, len(outDims)-len(in.Dims))...)...)
	out := NewBuffer(outDims...)
	inIndices := make([]int, len(outDims))
	for flat, indices := range out.shape().Iter() {
		for axis, idx := range indices {
			if inShape.Dimensions[axis] == 1 {
				inIndices[axis] = 0
			} else {
				inIndices[axis] = idx
			}
		}
		out.Data[flat] = in.Data[inShape.FlatIndex(inIndices)]
	}
	return out, nil
}

// Eval evaluates the nodes in order. The inputs of each node must be in env, either given by the
// caller or computed by a previous node. Outputs are stored in env.
func Eval(nodes []*graph.Node, env Env) error {
	for _, node := range nodes {
		if err := EvalNode(node, env); err != nil {
			return err
		}
	}
	return nil
}

// EvalNode evaluates one node, storing its output in env.
func EvalNode(node *graph.Node, env Env) error {
	inputs := make([]*Buffer, len(node.Inputs))
	for ii, t := range node.Inputs {
		inputs[ii] = env[t]
		if inputs[ii] == nil {
			return errors.Errorf("node %s: input #%d %s has no value", node.Name, ii, t)
		}
	}
	out, err := evalKind(node, inputs)
	if err != nil {
		return errors.WithMessagef(err, "evaluating node %s", node)
	}
	env[node.Output(0)] = out
	return nil
}

func evalKind(node *graph.Node, inputs []*Buffer) (*Buffer, error) {
	outDims := node.Output(0).Shape.Dimensions
	switch node.Kind {
	case graph.KindReshape, graph.KindSqueeze, graph.KindExpandDims, graph.KindIdentity, graph.KindMemcpy:
		if len(inputs[0].Data) != shapes.Make(dtypes.Float64, outDims...).Size() {
			return nil, errors.Errorf("can't reinterpret %v as %v", inputs[0].Dims, outDims)
		}
		return &Buffer{Dims: slices.Clone(outDims), Data: slices.Clone(inputs[0].Data)}, nil

	case graph.KindTranspose:
		perm := node.Params.(*graph.TransposeParams).Permutation
		in := inputs[0]
		inShape := in.shape()
		out := NewBuffer(outDims...)
		inIndices := make([]int, len(outDims))
		for flat, indices := range out.shape().Iter() {
			for axis, idx := range indices {
				inIndices[perm[axis]] = idx
			}
			out.Data[flat] = in.Data[inShape.FlatIndex(inIndices)]
		}
		return out, nil

	case graph.KindSlice:
		params := node.Params.(*graph.SliceParams)
		in := inputs[0]
		inShape := in.shape()
		out := NewBuffer(outDims...)
		inIndices := make([]int, len(outDims))
		for flat, indices := range out.shape().Iter() {
			for axis, idx := range indices {
				inIndices[axis] = idx + params.Starts[axis]
			}
			out.Data[flat] = in.Data[inShape.FlatIndex(inIndices)]
		}
		return out, nil

	case graph.KindConcat:
		axis := node.Params.(*graph.ConcatParams).Axis
		out := NewBuffer(outDims...)
		outShape := out.shape()
		offset := 0
		outIndices := make([]int, len(outDims))
		for _, in := range inputs {
			for flat, indices := range in.shape().Iter() {
				copy(outIndices, indices)
				outIndices[axis] += offset
				out.Data[outShape.FlatIndex(outIndices)] = in.Data[flat]
			}
			offset += in.Dims[axis]
		}
		return out, nil

	case graph.KindBroadcast, graph.KindBroadcastNonFCD, graph.KindDMABroadcast:
		return Broadcast(inputs[0], outDims...)

	case graph.KindConstantFill:
		params := node.Params.(*graph.ConstantFillParams)
		value := params.Value
		if !params.HasValue {
			if len(inputs) == 0 {
				return nil, errors.New("constant-fill without value requires an input")
			}
			value = inputs[0].Data[0]
		}
		out := NewBuffer(outDims...)
		for ii := range out.Data {
			out.Data[ii] = value
		}
		return out, nil
	}
	return nil, errors.Errorf("kind %s not supported", node.Kind)
}
