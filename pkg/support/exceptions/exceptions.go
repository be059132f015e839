// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package exceptions holds the typed panic used for contract violations in the planner.
//
// A contract violation is a bug upstream of the planner: a malformed shape, a rank mismatch, a
// hardware constant that cannot divide a dimension, splitting by zero. They are never retried and
// never depend on user data, so they are raised with Panicf and only recovered at the API border
// (see planner.Plan), where they become ordinary errors.
//
// Optimization shortfalls are not exceptions: they are logged with klog.Warningf and the
// computation proceeds.
package exceptions

import (
	"fmt"

	"github.com/pkg/errors"
)

// ContractViolation is the panic value raised by Panicf.
type ContractViolation struct {
	err error
}

// Error implements error.
func (e *ContractViolation) Error() string {
	return "contract violation: " + e.err.Error()
}

// Unwrap returns the underlying error, which carries the stack trace of where it was raised.
func (e *ContractViolation) Unwrap() error { return e.err }

// Format implements fmt.Formatter, so "%+v" prints the stack trace of the cause.
func (e *ContractViolation) Format(s fmt.State, verb rune) {
	if verb == 'v' && s.Flag('+') {
		_, _ = fmt.Fprintf(s, "contract violation: %+v", e.err)
		return
	}
	_, _ = fmt.Fprint(s, e.Error())
}

// Panicf panics with a *ContractViolation with the formatted message.
func Panicf(format string, args ...any) {
	panic(&ContractViolation{err: errors.Errorf(format, args...)})
}

// Check panics with a *ContractViolation if cond is false.
func Check(cond bool, format string, args ...any) {
	if !cond {
		panic(&ContractViolation{err: errors.Errorf(format, args...)})
	}
}

// Catch calls handler if an exception of type E occurred. Other panics are re-raised.
//
// It must be called in a deferred statement:
//
//	defer exceptions.Catch(func(e *exceptions.ContractViolation) { report(e) })
func Catch[E any](handler func(exception E)) {
	exception := recover()
	if exception == nil {
		return
	}
	exceptionE, ok := exception.(E)
	if !ok {
		panic(exception)
	}
	handler(exceptionE)
}

// Try calls fn and returns any panic value, or nil.
func Try(fn func()) (exception any) {
	defer func() {
		exception = recover()
	}()
	fn()
	return
}

// TryFor calls fn and recovers panics of type E, returning the zero value of E if fn returned normally.
// Panics of other types are not caught.
func TryFor[E any](fn func()) (exception E) {
	defer Catch(func(e E) { exception = e })
	fn()
	return
}

// AsError converts a recovered value into an error: contract violations and errors are returned
// as is, anything else is wrapped.
func AsError(exception any) error {
	switch e := exception.(type) {
	case nil:
		return nil
	case error:
		return e
	default:
		return errors.Errorf("panic: %v", e)
	}
}
