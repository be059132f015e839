// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package geometry

import (
	"github.com/gomlx/roiplan/pkg/support/exceptions"
	"github.com/gomlx/roiplan/pkg/support/xslices"
)

// UtilizationCeiling rounds bytes up to the next multiple of lineBytes.
func UtilizationCeiling(bytes, lineBytes int) int {
	if lineBytes <= 0 {
		exceptions.Panicf("cache line size must be positive, got %d", lineBytes)
	}
	return xslices.RoundUp(bytes, lineBytes)
}

// Utilization is the fraction of the line-sized transfers that carries payload, in (0, 1].
// Zero bytes have zero utilization.
func Utilization(bytes, lineBytes int) float64 {
	if bytes <= 0 {
		return 0
	}
	return float64(bytes) / float64(UtilizationCeiling(bytes, lineBytes))
}

// IsGoodUtilization returns whether Utilization(bytes, lineBytes) is strictly above threshold.
func IsGoodUtilization(bytes, lineBytes int, threshold float64) bool {
	return Utilization(bytes, lineBytes) > threshold
}

// IsPowerOfTwo returns whether v is a positive power of two.
func IsPowerOfTwo(v int) bool {
	return xslices.IsPowerOfTwo(v)
}

// FlattenedSize returns the product of dims[from:to].
func FlattenedSize(dims []int, from, to int) int {
	return xslices.Product(dims[from:to])
}
