// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"

	"github.com/gomlx/roiplan/pkg/core/geometry"
)

// Params are the static parameters of a node. Kinds without parameters use nil.
type Params interface {
	fmt.Stringer
	isParams()
}

// TransposeParams for KindTranspose.
type TransposeParams struct {
	Permutation geometry.Permutation

	// FullyUtilized transposes are split so every engine invocation writes complete hardware lines.
	FullyUtilized bool
}

// SliceParams for KindSlice: the output is input[Starts[i]:Ends[i]] on each axis.
// For dynamic slices the actual ends are read at run time from the node's shape tensor, and Ends
// holds the maximal ones.
type SliceParams struct {
	Starts, Ends []int
}

// ConcatParams for KindConcat.
type ConcatParams struct {
	Axis int
}

// SqueezeParams for KindSqueeze: Axes are the input axes (of size 1) removed.
type SqueezeParams struct {
	Axes []int
}

// ExpandDimsParams for KindExpandDims: Axes are the output axes (of size 1) inserted.
type ExpandDimsParams struct {
	Axes []int
}

// ConstantFillParams for KindConstantFill. If HasValue is false the value is read from the
// single-element input at run time.
type ConstantFillParams struct {
	HasValue bool
	Value    float64
	Encoded  []byte
}

// BroadcastParams for the physical broadcast kernels (KindBroadcastNonFCD, KindDMABroadcast):
// Axes are the output axes that are broadcast.
type BroadcastParams struct {
	Axes []int
}

func (*TransposeParams) isParams()    {}
func (*SliceParams) isParams()        {}
func (*ConcatParams) isParams()       {}
func (*SqueezeParams) isParams()      {}
func (*ExpandDimsParams) isParams()   {}
func (*ConstantFillParams) isParams() {}
func (*BroadcastParams) isParams()    {}

func (p *TransposeParams) String() string {
	if p.FullyUtilized {
		return fmt.Sprintf("perm=%v, fully-utilized", []int(p.Permutation))
	}
	return fmt.Sprintf("perm=%v", []int(p.Permutation))
}

func (p *SliceParams) String() string { return fmt.Sprintf("starts=%v, ends=%v", p.Starts, p.Ends) }

func (p *ConcatParams) String() string { return fmt.Sprintf("axis=%d", p.Axis) }

func (p *SqueezeParams) String() string { return fmt.Sprintf("axes=%v", p.Axes) }

func (p *ExpandDimsParams) String() string { return fmt.Sprintf("axes=%v", p.Axes) }

func (p *ConstantFillParams) String() string {
	if !p.HasValue {
		return "value=<input>"
	}
	return fmt.Sprintf("value=%g, encoded=%x", p.Value, p.Encoded)
}

func (p *BroadcastParams) String() string { return fmt.Sprintf("axes=%v", p.Axes) }
