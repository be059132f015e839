// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"strings"
	"testing"

	"github.com/gomlx/roiplan/pkg/core/dtypes"
	"github.com/gomlx/roiplan/pkg/core/graph"
	"github.com/gomlx/roiplan/pkg/hal"
	"github.com/gomlx/roiplan/pkg/planner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadGraph(t *testing.T) {
	g, err := loadGraph("testdata/example.yaml")
	require.NoError(t, err)
	assert.Equal(t, "example", g.Name)
	require.Len(t, g.Nodes(), 4)

	transpose := g.Nodes()[1]
	assert.Equal(t, graph.KindTranspose, transpose.Kind)
	assert.Equal(t, []int{1, 0, 2, 3}, []int(transpose.Params.(*graph.TransposeParams).Permutation))
	assert.Same(t, g.Nodes()[0].Output(0), transpose.Input(0))

	fill := g.Nodes()[3]
	assert.Equal(t, dtypes.BFloat16, fill.Input(0).DType())
	require.NotNil(t, fill.Input(0).Constant)
	assert.Equal(t, 1.5, *fill.Input(0).Constant)

	result, err := planner.New(hal.Default()).WithVerify(true).Plan(context.Background(), g)
	require.NoError(t, err)
	assert.Equal(t, 2, result.NumBroadcasts)
	assert.NotEmpty(t, result.Ordered())
}

func TestDecodeGraph(t *testing.T) {
	// Dynamic broadcast: the shape tensor is created on demand.
	g, err := decodeGraph(strings.NewReader(`
tensors:
  x: {dtype: f32, dims: [1, 8]}
  y: {dtype: f32, dims: [16, 8], min: [4, 8]}
nodes:
  - {name: b, kind: Broadcast, inputs: [x], outputs: [y], shape_tensor: y_shape}
`))
	require.NoError(t, err)
	assert.Equal(t, "graph", g.Name)
	node := g.Nodes()[0]
	require.NotNil(t, node.ShapeTensor)
	assert.Equal(t, []int{2}, node.ShapeTensor.Shape.Dimensions)
	assert.True(t, node.Output(0).IsDynamic())

	for name, desc := range map[string]string{
		"unknown field": `
nodes:
  - {name: b, kind: broadcast, input: [x]}`,
		"unknown kind": `
tensors:
  x: {dtype: f32, dims: [8]}
nodes:
  - {name: b, kind: gather, inputs: [x], outputs: [x]}`,
		"undeclared tensor": `
tensors:
  x: {dtype: f32, dims: [8]}
nodes:
  - {name: b, kind: memcpy, inputs: [x], outputs: [y]}`,
		"unknown dtype": `
tensors:
  x: {dtype: complex64, dims: [8]}`,
		"invalid shape": `
tensors:
  x: {dtype: f32, dims: [8, 0]}`,
		"invalid node": `
tensors:
  x: {dtype: f32, dims: [3, 2]}
  y: {dtype: f32, dims: [4, 2]}
nodes:
  - {name: b, kind: broadcast, inputs: [x], outputs: [y]}`,
		"dynamic without shape tensor": `
tensors:
  x: {dtype: f32, dims: [1, 8]}
  y: {dtype: f32, dims: [16, 8], min: [4, 8]}
nodes:
  - {name: b, kind: broadcast, inputs: [x], outputs: [y]}`,
		"cycle": `
tensors:
  x: {dtype: f32, dims: [8]}
  y: {dtype: f32, dims: [8]}
nodes:
  - {name: a, kind: memcpy, inputs: [x], outputs: [y]}
  - {name: b, kind: memcpy, inputs: [y], outputs: [x]}`,
	} {
		_, err := decodeGraph(strings.NewReader(desc))
		assert.Error(t, err, "case %q", name)
	}
}
