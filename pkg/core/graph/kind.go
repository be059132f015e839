// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Kind of primitive node.
type Kind int

const (
	KindInvalid Kind = iota
	KindReshape
	KindTranspose
	KindSqueeze
	KindExpandDims
	KindSlice
	KindConcat
	KindIdentity
	KindBroadcast
	KindConstantFill
	KindBroadcastNonFCD
	KindDMABroadcast
	KindMemcpy
	numKinds
)

var kindNames = [numKinds]string{
	KindInvalid:         "Invalid",
	KindReshape:         "Reshape",
	KindTranspose:       "Transpose",
	KindSqueeze:         "Squeeze",
	KindExpandDims:      "ExpandDims",
	KindSlice:           "Slice",
	KindConcat:          "Concat",
	KindIdentity:        "Identity",
	KindBroadcast:       "Broadcast",
	KindConstantFill:    "ConstantFill",
	KindBroadcastNonFCD: "BroadcastNonFCD",
	KindDMABroadcast:    "DMABroadcast",
	KindMemcpy:          "Memcpy",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if k < 0 || k >= numKinds {
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
	return kindNames[k]
}

// KindFromName is the case-insensitive inverse of Kind.String.
func KindFromName(name string) (Kind, error) {
	for k := KindReshape; k < numKinds; k++ {
		if strings.EqualFold(kindNames[k], name) {
			return k, nil
		}
	}
	return KindInvalid, errors.Errorf("unknown node kind %q", name)
}

// IsLogical returns whether the node only changes the view of its buffers (outputs alias inputs),
// in which case it doesn't move any data and needs no ROIs.
func (k Kind) IsLogical() bool {
	switch k {
	case KindReshape, KindSqueeze, KindExpandDims, KindConcat:
		return true
	}
	return false
}

// IsDMA returns whether the node is executed by the DMA engines. The other non-logical kinds run on
// the TPC (vector) engines.
func (k Kind) IsDMA() bool {
	switch k {
	case KindTranspose, KindSlice, KindIdentity, KindMemcpy, KindDMABroadcast:
		return true
	}
	return false
}
