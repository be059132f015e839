// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"io"
	"os"

	gomlxexceptions "github.com/gomlx/exceptions"
	"github.com/gomlx/roiplan/pkg/core/dtypes"
	"github.com/gomlx/roiplan/pkg/core/graph"
	"github.com/gomlx/roiplan/pkg/core/shapes"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// graphFile is the YAML description of a graph:
//
//	name: my_graph
//	tensors:
//	  x: {dtype: float32, dims: [1, 8]}
//	  y: {dtype: float32, dims: [16, 8], min: [4, 8]}
//	nodes:
//	  - {name: b, kind: broadcast, inputs: [x], outputs: [y], shape_tensor: y_shape}
//
// Tensors not declared in "tensors" are an error, except shape tensors, created as int32 vectors.
type graphFile struct {
	Name    string                 `yaml:"name"`
	Tensors map[string]tensorEntry `yaml:"tensors"`
	Nodes   []nodeEntry            `yaml:"nodes"`
}

type tensorEntry struct {
	DType    string   `yaml:"dtype"`
	Dims     []int    `yaml:"dims"`
	Min      []int    `yaml:"min,omitempty"`
	Sparse   bool     `yaml:"sparse,omitempty"`
	Constant *float64 `yaml:"constant,omitempty"`
}

type nodeEntry struct {
	Name        string   `yaml:"name"`
	Kind        string   `yaml:"kind"`
	Inputs      []string `yaml:"inputs"`
	Outputs     []string `yaml:"outputs"`
	ShapeTensor string   `yaml:"shape_tensor,omitempty"`

	// Parameters, depending on the kind.
	Perm          []int    `yaml:"perm,omitempty"`
	FullyUtilized bool     `yaml:"fully_utilized,omitempty"`
	Starts        []int    `yaml:"starts,omitempty"`
	Ends          []int    `yaml:"ends,omitempty"`
	Axis          int      `yaml:"axis,omitempty"`
	Axes          []int    `yaml:"axes,omitempty"`
	Value         *float64 `yaml:"value,omitempty"`
}

// loadGraph reads a graph description file.
func loadGraph(path string) (*graph.Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open graph file %q", path)
	}
	defer func() { _ = f.Close() }()
	g, err := decodeGraph(f)
	if err != nil {
		return nil, errors.WithMessagef(err, "in file %q", path)
	}
	return g, nil
}

// decodeGraph parses a graph description and creates its nodes with a validating factory.
func decodeGraph(r io.Reader) (*graph.Graph, error) {
	var desc graphFile
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&desc); err != nil {
		return nil, errors.Wrap(err, "failed to decode graph description")
	}
	if desc.Name == "" {
		desc.Name = "graph"
	}

	tensors := make(map[string]*graph.Tensor, len(desc.Tensors))
	for name, entry := range desc.Tensors {
		t, err := entry.toTensor(name)
		if err != nil {
			return nil, err
		}
		tensors[name] = t
	}
	lookup := func(names []string) ([]*graph.Tensor, error) {
		result := make([]*graph.Tensor, 0, len(names))
		for _, name := range names {
			t, found := tensors[name]
			if !found {
				return nil, errors.Errorf("tensor %q not declared", name)
			}
			result = append(result, t)
		}
		return result, nil
	}

	g := graph.New(desc.Name)
	factory := graph.NewFactory()
	for _, entry := range desc.Nodes {
		kind, err := graph.KindFromName(entry.Kind)
		if err != nil {
			return nil, errors.WithMessagef(err, "node %q", entry.Name)
		}
		inputs, err := lookup(entry.Inputs)
		if err != nil {
			return nil, errors.WithMessagef(err, "inputs of node %q", entry.Name)
		}
		outputs, err := lookup(entry.Outputs)
		if err != nil {
			return nil, errors.WithMessagef(err, "outputs of node %q", entry.Name)
		}
		var shapeTensor *graph.Tensor
		if entry.ShapeTensor != "" {
			shapeTensor = tensors[entry.ShapeTensor]
			if shapeTensor == nil && len(outputs) > 0 {
				shapeTensor = graph.NewTensor(entry.ShapeTensor, shapes.Make(dtypes.Int32, outputs[0].Rank()))
				tensors[entry.ShapeTensor] = shapeTensor
			}
		}
		err = gomlxexceptions.TryCatch[error](func() {
			node := factory.CreateNode(inputs, outputs, entry.params(kind), kind, entry.Name)
			if shapeTensor != nil || kind == graph.KindBroadcast || kind == graph.KindSlice {
				node.WithShapeTensor(shapeTensor)
			}
			g.Add(node)
		})
		if err != nil {
			return nil, errors.WithMessagef(err, "invalid node %q", entry.Name)
		}
	}
	if _, err := g.TopologicalOrder(); err != nil {
		return nil, err
	}
	return g, nil
}

func (e tensorEntry) toTensor(name string) (t *graph.Tensor, err error) {
	dtype, err := dtypes.FromName(e.DType)
	if err != nil {
		return nil, errors.WithMessagef(err, "tensor %q", name)
	}
	err = gomlxexceptions.TryCatch[error](func() {
		shape := shapes.Make(dtype, e.Dims...)
		if len(e.Min) > 0 {
			shape = shapes.MakeDynamic(dtype, e.Dims, e.Min)
		}
		t = graph.NewTensor(name, shape)
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "tensor %q", name)
	}
	t.Sparse = e.Sparse
	t.Constant = e.Constant
	return t, nil
}

// params returns the node parameters of the kind, or nil for kinds without parameters.
func (e nodeEntry) params(kind graph.Kind) graph.Params {
	switch kind {
	case graph.KindTranspose:
		return &graph.TransposeParams{Permutation: e.Perm, FullyUtilized: e.FullyUtilized}
	case graph.KindSlice:
		return &graph.SliceParams{Starts: e.Starts, Ends: e.Ends}
	case graph.KindConcat:
		return &graph.ConcatParams{Axis: e.Axis}
	case graph.KindSqueeze:
		return &graph.SqueezeParams{Axes: e.Axes}
	case graph.KindExpandDims:
		return &graph.ExpandDimsParams{Axes: e.Axes}
	case graph.KindBroadcastNonFCD, graph.KindDMABroadcast:
		return &graph.BroadcastParams{Axes: e.Axes}
	case graph.KindConstantFill:
		p := &graph.ConstantFillParams{}
		if e.Value != nil {
			p.HasValue, p.Value = true, *e.Value
		}
		return p
	}
	return nil
}
