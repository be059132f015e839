// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool runs independent work items with bounded parallelism.
package workerspool

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Pool of workers. It holds no goroutines between calls to Run: it only bounds how many work
// items of one call run at the same time.
type Pool struct {
	// maxParallelism is the limit of work items running at the same time.
	// If 0 work items run inline, sequentially. If negative parallelism is unlimited.
	maxParallelism int
}

// New returns a new Pool of workers with the default parallelism (runtime.NumCPU()).
func New() *Pool {
	return &Pool{maxParallelism: runtime.NumCPU()}
}

// IsEnabled returns whether parallelism is enabled (maxParallelism is != 0)
func (w *Pool) IsEnabled() bool {
	return w.maxParallelism != 0
}

// IsUnlimited returns whether parallelism is unlimited (maxParallelism < 0)
func (w *Pool) IsUnlimited() bool {
	return w.maxParallelism < 0
}

// MaxParallelism is the limit of work items running at the same time.
// If set to 0 parallelism is disabled.
// If set to -1 parallelism is unlimited.
func (w *Pool) MaxParallelism() int {
	return w.maxParallelism
}

// SetMaxParallelism sets the maxParallelism.
//
// It should not be changed while Run is executing.
func (w *Pool) SetMaxParallelism(maxParallelism int) {
	w.maxParallelism = maxParallelism
}

// Run calls task(ctx, i) for i in [0, numItems) and waits for all of them.
//
// The first error returned by a task cancels the context given to the others and is returned.
// Tasks that haven't started when the context is cancelled (by a failure or by the caller) are
// not started. With parallelism disabled the tasks run inline, in order.
func (w *Pool) Run(ctx context.Context, numItems int, task func(ctx context.Context, item int) error) error {
	if !w.IsEnabled() {
		for item := range numItems {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := task(ctx, item); err != nil {
				return err
			}
		}
		return nil
	}

	g, gCtx := errgroup.WithContext(ctx)
	if !w.IsUnlimited() {
		g.SetLimit(w.maxParallelism)
	}
	for item := range numItems {
		if gCtx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			return task(gCtx, item)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	// Cancellation by the caller, if it happened before all items were scheduled.
	return ctx.Err()
}
