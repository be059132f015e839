// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package transpose

import (
	"slices"

	"github.com/gomlx/roiplan/pkg/core/geometry"
	"github.com/gomlx/roiplan/pkg/core/graph"
	"github.com/gomlx/roiplan/pkg/core/shapes"
	"github.com/gomlx/roiplan/pkg/support/exceptions"
)

// Canonical is the simplest equivalent form of a transpose.
type Canonical struct {
	// Dims of the canonical input.
	Dims []int

	// Permutation of the canonical input.
	Permutation geometry.Permutation

	// Groups lists, for each canonical axis, the original input axes merged into it.
	Groups [][]int
}

// Canonicalize drops the size-1 axes of a transpose of dims by perm, and merges the input axes that
// remain adjacent and in the same order in the output.
func Canonicalize(dims []int, perm geometry.Permutation) Canonical {
	if len(dims) != len(perm) || !perm.Validate() {
		exceptions.Panicf("invalid transpose permutation %v for dimensions %v", []int(perm), dims)
	}

	// Output position of each non-trivial input axis, in output order.
	var kept []int
	for _, axis := range perm {
		if dims[axis] > 1 {
			kept = append(kept, axis)
		}
	}
	outPos := make(map[int]int, len(kept))
	for pos, axis := range kept {
		outPos[axis] = pos
	}

	var c Canonical
	groupOf := make(map[int]int, len(kept))
	prev := -1
	for axis := range dims {
		if dims[axis] == 1 {
			continue
		}
		if prev < 0 || outPos[axis] != outPos[prev]+1 {
			c.Groups = append(c.Groups, nil)
			c.Dims = append(c.Dims, 1)
		}
		g := len(c.Groups) - 1
		c.Groups[g] = append(c.Groups[g], axis)
		c.Dims[g] *= dims[axis]
		groupOf[axis] = g
		prev = axis
	}

	c.Permutation = geometry.Permutation{}
	for _, axis := range kept {
		g := groupOf[axis]
		if c.Groups[g][0] == axis {
			c.Permutation = append(c.Permutation, g)
		}
	}
	if c.Dims == nil {
		c.Dims = []int{}
	}
	return c
}

// IsDMAEligible returns whether the canonical transpose is a 2-D or batched 2-D swap.
func (c Canonical) IsDMAEligible() bool {
	return slices.Equal(c.Permutation, geometry.Permutation{1, 0}) ||
		slices.Equal(c.Permutation, geometry.Permutation{1, 0, 2})
}

// CanonicalizeNode returns the canonical form of a transpose node.
func CanonicalizeNode(node *graph.Node) Canonical {
	params, ok := node.Params.(*graph.TransposeParams)
	if node.Kind != graph.KindTranspose || !ok {
		exceptions.Panicf("node %q is not a transpose: %s", node.Name, node)
	}
	return Canonicalize(node.Inputs[0].Shape.Dimensions, params.Permutation)
}

// CanonicalNodes rewrites a transpose node as a reshape to its canonical input, the canonical transpose
// and a reshape back to the original output. If the node is already canonical it is returned as is.
func CanonicalNodes(node *graph.Node, factory graph.NodeFactory) []*graph.Node {
	c := CanonicalizeNode(node)
	params := node.Params.(*graph.TransposeParams)
	in, out := node.Inputs[0], node.Outputs[0]
	if slices.Equal(c.Dims, in.Shape.Dimensions) && slices.Equal(c.Permutation, params.Permutation) {
		return []*graph.Node{node}
	}
	dtype := in.DType()
	canonIn := in.CloneWithShape(shapes.Make(dtype, c.Dims...), "/canonical")
	canonOut := out.CloneWithShape(shapes.Make(dtype, geometry.Apply(c.Permutation, c.Dims)...), "/canonical")
	return []*graph.Node{
		factory.CreateNode([]*graph.Tensor{in}, []*graph.Tensor{canonIn}, nil, graph.KindReshape, node.Name+"/canonical_in"),
		factory.CreateNode([]*graph.Tensor{canonIn}, []*graph.Tensor{canonOut},
			&graph.TransposeParams{Permutation: c.Permutation, FullyUtilized: params.FullyUtilized},
			graph.KindTranspose, node.Name+"/canonical"),
		factory.CreateNode([]*graph.Tensor{canonOut}, []*graph.Tensor{out}, nil, graph.KindReshape, node.Name+"/canonical_out"),
	}
}
