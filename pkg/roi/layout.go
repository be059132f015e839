// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package roi

import "fmt"

// LayoutRank is the rank of the descriptor layout of the DMA transpose engine.
const LayoutRank = 5

// HardwareLayout is the source and destination layout of one DMA transpose descriptor.
//
// Source axes are (k, h, c', lines, batch): the fast source dimension is read as c' groups of h
// sub-tiles of k elements. Destination axes are the corresponding transposed walk. Strides are in bytes.
type HardwareLayout struct {
	SrcSizes, SrcStrides [LayoutRank]int
	DstSizes, DstStrides [LayoutRank]int
}

// String implements fmt.Stringer.
func (l HardwareLayout) String() string {
	return fmt.Sprintf("src=%v/%v dst=%v/%v", l.SrcSizes, l.SrcStrides, l.DstSizes, l.DstStrides)
}
