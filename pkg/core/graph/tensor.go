// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graph holds the minimal tensor/node model the planner operates on: tensors with (possibly
// dynamic) shapes, primitive nodes created through a validating Factory and an ordered Graph of them.
package graph

import (
	"fmt"

	"github.com/gomlx/roiplan/pkg/core/dtypes"
	"github.com/gomlx/roiplan/pkg/core/shapes"
)

// Tensor is an edge of the graph: a named buffer with a shape.
type Tensor struct {
	Name  string
	Shape shapes.Shape

	// Sparse tensors are not laid out densely and can't be split by the planner.
	Sparse bool

	// Constant, if not nil, holds the known value of a single-element tensor.
	Constant *float64
}

// NewTensor creates a dense tensor. It panics with a contract violation if the shape is invalid.
func NewTensor(name string, shape shapes.Shape) *Tensor {
	shape.AssertValid()
	return &Tensor{Name: name, Shape: shape}
}

// Rank of the tensor.
func (t *Tensor) Rank() int { return t.Shape.Rank() }

// DType of the tensor elements.
func (t *Tensor) DType() dtypes.DType { return t.Shape.DType }

// ByteStrides of the dense layout, axis 0 first.
func (t *Tensor) ByteStrides() []int { return t.Shape.ByteStrides() }

// IsDynamic returns whether any axis of the tensor has a minimal size smaller than its size.
func (t *Tensor) IsDynamic() bool { return t.Shape.IsDynamic() }

// CloneWithShape returns a new tensor with the given shape, keeping the element type and flags.
// If suffix is not empty, it's appended to the name.
func (t *Tensor) CloneWithShape(shape shapes.Shape, suffix string) *Tensor {
	shape = shape.Clone()
	shape.DType = t.Shape.DType
	shape.AssertValid()
	clone := &Tensor{Name: t.Name, Shape: shape, Sparse: t.Sparse, Constant: t.Constant}
	if suffix != "" {
		clone.Name = t.Name + suffix
	}
	return clone
}

// String implements fmt.Stringer.
func (t *Tensor) String() string {
	if t == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s%s", t.Name, t.Shape)
}
