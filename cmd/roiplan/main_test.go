// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgressBarOutOfOrder(t *testing.T) {
	const numNodes = 50
	bar, progress := newProgressBar(io.Discard, 100)
	var wg sync.WaitGroup
	// Counts reported from the last one to the first.
	for done := numNodes; done > 0; done-- {
		wg.Add(1)
		go func() {
			defer wg.Done()
			progress(done, numNodes)
		}()
	}
	wg.Wait()
	state := bar.State()
	assert.Equal(t, int64(numNodes), state.Max)
	assert.Equal(t, int64(numNodes), state.CurrentNum)

	// A late report of an earlier count doesn't move the bar back.
	bar, progress = newProgressBar(io.Discard, 3)
	progress(2, 3)
	progress(1, 3)
	assert.Equal(t, int64(2), bar.State().CurrentNum)
}
