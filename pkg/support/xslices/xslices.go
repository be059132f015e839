// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package xslices provide the slice and small integer helpers used across the planner:
// dimension products, ceiling divisions, GCDs and a generic list flag for command lines.
package xslices

import (
	"flag"
	"fmt"
	"strings"

	"golang.org/x/exp/constraints"
)

// SliceWithValue creates a slice of the given size filled with value.
func SliceWithValue[T any](size int, value T) []T {
	s := make([]T, size)
	for ii := range s {
		s[ii] = value
	}
	return s
}

// Iota returns a slice of incremental values, starting with start and of length len.
// Eg: Iota(3, 2) -> []int{3, 4}
func Iota[T constraints.Integer | constraints.Float](start T, len int) (slice []T) {
	slice = make([]T, len)
	for ii := range slice {
		slice[ii] = start + T(ii)
	}
	return
}

// Map executes fn sequentially for every element of in, and returns the mapped slice.
func Map[In, Out any](in []In, fn func(e In) Out) (out []Out) {
	out = make([]Out, len(in))
	for ii, e := range in {
		out[ii] = fn(e)
	}
	return
}

// Sum returns the sum of the values.
func Sum[T constraints.Integer | constraints.Float](slice []T) (sum T) {
	for _, v := range slice {
		sum += v
	}
	return
}

// Product returns the product of the values. The product of an empty slice is 1, which is the
// number of elements of a scalar.
func Product[T constraints.Integer | constraints.Float](slice []T) T {
	p := T(1)
	for _, v := range slice {
		p *= v
	}
	return p
}

// PopFront removes the first element of the slice and returns it with the remaining slice.
// If the slice is empty it returns the zero value for T and the slice unchanged.
func PopFront[T any](slice []T) (T, []T) {
	var value T
	if len(slice) > 0 {
		value = slice[0]
		slice = slice[1:]
	}
	return value, slice
}

// DivCeil returns ceil(a/b) for positive integers.
func DivCeil[T constraints.Integer](a, b T) T {
	return (a + b - 1) / b
}

// RoundUp returns a rounded up to the next multiple of b.
func RoundUp[T constraints.Integer](a, b T) T {
	return DivCeil(a, b) * b
}

// GCD returns the greatest common divisor of a and b. GCD(0, b) == b.
func GCD[T constraints.Integer](a, b T) T {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// IsPowerOfTwo returns whether v is a positive power of two.
func IsPowerOfTwo[T constraints.Integer](v T) bool {
	return v > 0 && v&(v-1) == 0
}

// Flag creates a flag for []T with the given name, description and default value.
// It takes as input a parser for an individual T value.
func Flag[T any](name string, defaultValue []T, usage string,
	parserFn func(valueStr string) (T, error)) *[]T {
	f := &sliceFlag[T]{
		parsed:   defaultValue,
		parserFn: parserFn,
	}
	flag.Var(f, name, usage)
	return &f.parsed
}

// sliceFlag implements flag.Value for a comma-separated list.
type sliceFlag[T any] struct {
	parsed   []T
	parserFn func(valueStr string) (T, error)
}

func (f *sliceFlag[T]) String() string {
	parts := make([]string, len(f.parsed))
	for ii, elem := range f.parsed {
		parts[ii] = fmt.Sprintf("%v", elem)
	}
	return strings.Join(parts, ",")
}

func (f *sliceFlag[T]) Set(listStr string) error {
	f.parsed = f.parsed[:0:0]
	if listStr == "" {
		return nil
	}
	for _, part := range strings.Split(listStr, ",") {
		v, err := f.parserFn(strings.TrimSpace(part))
		if err != nil {
			return err
		}
		f.parsed = append(f.parsed, v)
	}
	return nil
}
