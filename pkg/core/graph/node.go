// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/roiplan/pkg/support/exceptions"
	"github.com/google/uuid"
)

// Node is one primitive operation of the graph.
type Node struct {
	ID      uuid.UUID
	Name    string
	Kind    Kind
	Inputs  []*Tensor
	Outputs []*Tensor
	Params  Params

	// ShapeTensor holds the actual output dimensions of dynamic broadcasts and slices. Optional.
	ShapeTensor *Tensor
}

// Input returns the i-th input. Convenience for single-input nodes.
func (n *Node) Input(i int) *Tensor { return n.Inputs[i] }

// Output returns the i-th output.
func (n *Node) Output(i int) *Tensor { return n.Outputs[i] }

// String implements fmt.Stringer.
func (n *Node) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "%s(%s:", n.Kind, n.Name)
	for _, t := range n.Inputs {
		_, _ = fmt.Fprintf(&sb, " %s", t)
	}
	sb.WriteString(" ->")
	for _, t := range n.Outputs {
		_, _ = fmt.Fprintf(&sb, " %s", t)
	}
	if n.Params != nil {
		_, _ = fmt.Fprintf(&sb, "; %s", n.Params)
	}
	sb.WriteString(")")
	return sb.String()
}

// NodeFactory creates primitive nodes.
type NodeFactory interface {
	CreateNode(inputs, outputs []*Tensor, params Params, kind Kind, name string) *Node
}

// Factory is the NodeFactory used by the planner: it validates the node against the contract of
// its kind, panicking with a contract violation on failure.
type Factory struct{}

// NewFactory returns a validating Factory.
func NewFactory() *Factory { return &Factory{} }

// CreateNode implements NodeFactory.
func (f *Factory) CreateNode(inputs, outputs []*Tensor, params Params, kind Kind, name string) *Node {
	node := &Node{
		ID:      uuid.New(),
		Name:    name,
		Kind:    kind,
		Inputs:  slices.Clone(inputs),
		Outputs: slices.Clone(outputs),
		Params:  params,
	}
	Validate(node)
	return node
}

// WithShapeTensor sets the shape tensor of a dynamic node and returns it.
// It panics with a contract violation if the shape tensor is nil and the node output is dynamic.
func (n *Node) WithShapeTensor(shapeTensor *Tensor) *Node {
	if shapeTensor == nil && len(n.Outputs) > 0 && n.Outputs[0].IsDynamic() {
		exceptions.Panicf("dynamic %s %q requires a shape tensor", n.Kind, n.Name)
	}
	n.ShapeTensor = shapeTensor
	return n
}

func checkArity(node *Node, numInputs, numOutputs int) {
	if numInputs >= 0 && len(node.Inputs) != numInputs {
		exceptions.Panicf("%s node %q takes %d inputs, got %d", node.Kind, node.Name, numInputs, len(node.Inputs))
	}
	if len(node.Outputs) != numOutputs {
		exceptions.Panicf("%s node %q takes %d outputs, got %d", node.Kind, node.Name, numOutputs, len(node.Outputs))
	}
	for _, t := range slices.Concat(node.Inputs, node.Outputs) {
		if t == nil {
			exceptions.Panicf("%s node %q has a nil tensor", node.Kind, node.Name)
		}
		t.Shape.AssertValid()
		if t.Shape.DType != node.Outputs[0].Shape.DType {
			exceptions.Panicf("%s node %q mixes dtypes %s and %s", node.Kind, node.Name, t.Shape.DType, node.Outputs[0].Shape.DType)
		}
	}
}

func paramsAs[P Params](node *Node) P {
	p, ok := node.Params.(P)
	if !ok {
		var zero P
		exceptions.Panicf("%s node %q requires params of type %T, got %T", node.Kind, node.Name, zero, node.Params)
	}
	return p
}

// Validate panics with a contract violation if the node breaks the contract of its kind.
func Validate(node *Node) {
	switch node.Kind {
	case KindReshape:
		checkArity(node, 1, 1)
		in, out := node.Inputs[0].Shape, node.Outputs[0].Shape
		if in.Size() != out.Size() {
			exceptions.Panicf("reshape %q from %s to %s changes the number of elements", node.Name, in, out)
		}

	case KindIdentity, KindMemcpy:
		checkArity(node, 1, 1)
		in, out := node.Inputs[0].Shape, node.Outputs[0].Shape
		if !slices.Equal(in.Dimensions, out.Dimensions) {
			exceptions.Panicf("%s %q from %s to %s changes dimensions", node.Kind, node.Name, in, out)
		}

	case KindTranspose:
		checkArity(node, 1, 1)
		params := paramsAs[*TransposeParams](node)
		in, out := node.Inputs[0].Shape, node.Outputs[0].Shape
		if len(params.Permutation) != in.Rank() || !params.Permutation.Validate() {
			exceptions.Panicf("transpose %q has invalid permutation %v for input %s", node.Name, []int(params.Permutation), in)
		}
		if want := params.Permutation.ApplyShape(in); !slices.Equal(want.Dimensions, out.Dimensions) {
			exceptions.Panicf("transpose %q of %s by %v should output %s, got %s",
				node.Name, in, []int(params.Permutation), want, out)
		}

	case KindSqueeze:
		checkArity(node, 1, 1)
		params := paramsAs[*SqueezeParams](node)
		in, out := node.Inputs[0].Shape, node.Outputs[0].Shape
		for _, axis := range params.Axes {
			if axis < 0 || axis >= in.Rank() || in.Dimensions[axis] != 1 {
				exceptions.Panicf("squeeze %q can't remove axis %d of %s", node.Name, axis, in)
			}
		}
		if want := removeAxes(in.Dimensions, params.Axes); !slices.Equal(want, out.Dimensions) {
			exceptions.Panicf("squeeze %q of %s by axes %v should output dimensions %v, got %s",
				node.Name, in, params.Axes, want, out)
		}

	case KindExpandDims:
		checkArity(node, 1, 1)
		params := paramsAs[*ExpandDimsParams](node)
		in, out := node.Inputs[0].Shape, node.Outputs[0].Shape
		for _, axis := range params.Axes {
			if axis < 0 || axis >= out.Rank() || out.Dimensions[axis] != 1 {
				exceptions.Panicf("expand-dims %q can't insert axis %d of %s", node.Name, axis, out)
			}
		}
		if want := removeAxes(out.Dimensions, params.Axes); !slices.Equal(want, in.Dimensions) {
			exceptions.Panicf("expand-dims %q from %s to %s doesn't match axes %v", node.Name, in, out, params.Axes)
		}

	case KindSlice:
		checkArity(node, 1, 1)
		params := paramsAs[*SliceParams](node)
		in, out := node.Inputs[0].Shape, node.Outputs[0].Shape
		if len(params.Starts) != in.Rank() || len(params.Ends) != in.Rank() || out.Rank() != in.Rank() {
			exceptions.Panicf("slice %q: starts %v and ends %v don't match input %s", node.Name, params.Starts, params.Ends, in)
		}
		for axis := range in.Rank() {
			start, end := params.Starts[axis], params.Ends[axis]
			if start < 0 || end > in.Dimensions[axis] || end-start != out.Dimensions[axis] {
				exceptions.Panicf("slice %q: axis %d [%d:%d] invalid for input %s and output %s", node.Name, axis, start, end, in, out)
			}
		}

	case KindConcat:
		checkArity(node, -1, 1)
		if len(node.Inputs) == 0 {
			exceptions.Panicf("concat %q requires at least one input", node.Name)
		}
		axis := paramsAs[*ConcatParams](node).Axis
		out := node.Outputs[0].Shape
		if axis < 0 || axis >= out.Rank() {
			exceptions.Panicf("concat %q axis %d invalid for %s", node.Name, axis, out)
		}
		total := 0
		for _, t := range node.Inputs {
			for ii, dim := range t.Shape.Dimensions {
				if ii != axis && (t.Rank() != out.Rank() || dim != out.Dimensions[ii]) {
					exceptions.Panicf("concat %q input %s doesn't match output %s", node.Name, t, out)
				}
			}
			total += t.Shape.Dimensions[axis]
		}
		if total != out.Dimensions[axis] {
			exceptions.Panicf("concat %q inputs sum to %d on axis %d, output has %d", node.Name, total, axis, out.Dimensions[axis])
		}

	case KindBroadcast, KindBroadcastNonFCD, KindDMABroadcast:
		checkArity(node, 1, 1)
		in, out := node.Inputs[0].Shape, node.Outputs[0].Shape
		if in.Rank() > out.Rank() || (node.Kind != KindBroadcast && in.Rank() != out.Rank()) {
			exceptions.Panicf("%s %q can't broadcast %s to %s", node.Kind, node.Name, in, out)
		}
		for axis, dim := range in.Dimensions {
			if dim != 1 && dim != out.Dimensions[axis] {
				exceptions.Panicf("%s %q can't broadcast %s to %s: axis %d", node.Kind, node.Name, in, out, axis)
			}
		}
		if node.Kind != KindBroadcast {
			_ = paramsAs[*BroadcastParams](node)
		}

	case KindConstantFill:
		checkArity(node, -1, 1)
		_ = paramsAs[*ConstantFillParams](node)
		if len(node.Inputs) > 1 || (len(node.Inputs) == 1 && node.Inputs[0].Shape.Size() != 1) {
			exceptions.Panicf("constant-fill %q takes at most one single-element input", node.Name)
		}
		if node.Outputs[0].IsDynamic() {
			exceptions.Panicf("constant-fill %q requires a static output, got %s", node.Name, node.Outputs[0].Shape)
		}

	default:
		exceptions.Panicf("node %q has invalid kind %s", node.Name, node.Kind)
	}
}

func removeAxes(dims, axes []int) []int {
	result := make([]int, 0, len(dims))
	for axis, dim := range dims {
		if !slices.Contains(axes, axis) {
			result = append(result, dim)
		}
	}
	return result
}
