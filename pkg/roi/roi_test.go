// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package roi

import (
	"fmt"
	"math/rand"
	"slices"
	"testing"

	"github.com/gomlx/roiplan/pkg/core/dtypes"
	"github.com/gomlx/roiplan/pkg/core/geometry"
	"github.com/gomlx/roiplan/pkg/core/graph"
	"github.com/gomlx/roiplan/pkg/core/shapes"
	"github.com/gomlx/roiplan/pkg/support/exceptions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requireTiles checks that rois exactly tile the full ROI: no gaps, no overlaps, no empty axis.
func requireTiles(t *testing.T, full NodeROI, rois []NodeROI) {
	t.Helper()
	dims := full.Sizes()
	shape := shapes.Make(dtypes.Int8, dims...)
	counts := make([]int, shape.Size())
	indices := make([]int, full.Rank)
	for _, r := range rois {
		require.Equal(t, full.Rank, r.Rank)
		for axis := range r.Rank {
			require.Greater(t, r.Size[axis], 0, "ROI %s has an empty axis", r)
		}
		sub := shapes.Make(dtypes.Int8, r.Sizes()...)
		for _, local := range sub.Iter() {
			for axis := range indices {
				indices[axis] = local[axis] + r.BaseOffset[axis] - full.BaseOffset[axis]
				require.Less(t, indices[axis], dims[axis], "ROI %s out of bounds of %s", r, full)
			}
			counts[shape.FlatIndex(indices)]++
		}
	}
	for flat, count := range counts {
		require.Equal(t, 1, count, "index space point #%d covered %d times", flat, count)
	}
}

func TestEvenChunks(t *testing.T) {
	assert.Equal(t, []int{4, 3, 3}, EvenChunks(10, 3))
	assert.Equal(t, []int{1, 1}, EvenChunks(2, 2))
	assert.Equal(t, []int{7}, EvenChunks(7, 1))
	require.NotNil(t, exceptions.TryFor[*exceptions.ContractViolation](func() { EvenChunks(10, 0) }))
	require.NotNil(t, exceptions.TryFor[*exceptions.ContractViolation](func() { EvenChunks(0, 2) }))
}

func TestSplitFullRoiToLogicalRois(t *testing.T) {
	full := New(10)
	rois := SplitFullRoiToLogicalRoisAlongExternalAxis(full, []int{0}, 3, "scenario")
	require.Len(t, rois, 3)
	assert.Equal(t, []int{4, 3, 3}, []int{rois[0].Size[0], rois[1].Size[0], rois[2].Size[0]})
	assert.Equal(t, []int{0, 4, 7}, []int{rois[0].BaseOffset[0], rois[1].BaseOffset[0], rois[2].BaseOffset[0]})
	requireTiles(t, full, rois)

	// Spills to the next axis: 2 pieces on axis 1, then ceil(6/2)=3 on axis 0.
	full = New(9, 2)
	rois = SplitFullRoiToLogicalRoisAlongExternalAxis(full, []int{1, 0}, 6, "two-axes")
	assert.Len(t, rois, 6)
	requireTiles(t, full, rois)

	// Not enough elements: graceful degradation.
	full = New(2, 1)
	rois = SplitFullRoiToLogicalRoisAlongExternalAxis(full, []int{0, 1}, 8, "small")
	assert.Len(t, rois, 2)
	requireTiles(t, full, rois)

	// Contract violations.
	require.NotNil(t, exceptions.TryFor[*exceptions.ContractViolation](func() {
		SplitFullRoiToLogicalRoisAlongExternalAxis(New(10), []int{0}, 0, "zero")
	}))
	require.NotNil(t, exceptions.TryFor[*exceptions.ContractViolation](func() { New(3, 0) }))
	require.NotNil(t, exceptions.TryFor[*exceptions.ContractViolation](func() { New(1, 1, 1, 1, 1, 1, 1, 1, 1) }))
}

func TestSplitCoverageRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for range 200 {
		rank := 1 + rng.Intn(4)
		dims := make([]int, rank)
		for ii := range dims {
			dims[ii] = 1 + rng.Intn(9)
		}
		full := New(dims...)
		prefs := rng.Perm(rank)
		chunkCount := 1 + rng.Intn(12)
		name := fmt.Sprintf("dims=%v,prefs=%v,chunks=%d", dims, prefs, chunkCount)
		t.Run(name, func(t *testing.T) {
			logical := SplitFullRoiToLogicalRoisAlongExternalAxis(full, prefs, chunkCount, name)
			requireTiles(t, full, logical)
			splitter := NewSplitter(name)
			for _, l := range logical {
				physical := splitter.SplitAllSamples(l, prefs, chunkCount)
				assert.LessOrEqual(t, len(physical), chunkCount)
				requireTiles(t, l, physical)
			}
		})
	}
}

func TestSplitAlongAxesGranularity(t *testing.T) {
	full := New(300, 7)
	rois, shortfall := SplitAlongAxes(full, []int{0}, 4, []int{256})
	require.Len(t, rois, 2)
	assert.Equal(t, 2, shortfall)
	assert.Equal(t, 256, rois[0].Size[0])
	assert.Equal(t, 44, rois[1].Size[0])
	requireTiles(t, full, rois)

	rois, shortfall = SplitAlongAxes(New(16, 8), []int{1, 0}, 4, []int{4, 4})
	require.Len(t, rois, 4)
	assert.Zero(t, shortfall)
	for _, r := range rois {
		assert.Zero(t, r.BaseOffset[1]%4)
	}
}

func TestSplitAllSamplesTiers(t *testing.T) {
	// Perfect: axis 1 divides 4.
	s := NewSplitter("perfect")
	rois := s.SplitAllSamples(New(5, 8), []int{0, 1}, 4)
	require.Len(t, rois, 4)
	for _, r := range rois {
		assert.Equal(t, []int{5, 2}, r.Sizes())
	}

	// Zero-remainder: 6 engines = gcd(4,6)=2 on axis 0, then 3 on axis 1.
	s = NewSplitter("zero-remainder")
	full := New(4, 9)
	rois = s.SplitAllSamples(full, []int{0, 1}, 6)
	require.Len(t, rois, 6)
	for _, r := range rois {
		assert.Equal(t, []int{2, 3}, r.Sizes())
	}
	assert.Equal(t, RoundRobin{}, s.State)

	// Round-robin, with less units than engines on the first axis.
	s = NewSplitter("round-robin")
	full = New(3, 5)
	rois = s.SplitAllSamples(full, []int{0, 1}, 4)
	require.Len(t, rois, 4)
	requireTiles(t, full, rois)

	// Too small to use all engines.
	s = NewSplitter("small")
	full = New(3)
	rois = s.SplitAllSamples(full, []int{0}, 4)
	require.Len(t, rois, 3)
	requireTiles(t, full, rois)

	require.NotNil(t, exceptions.TryFor[*exceptions.ContractViolation](func() { s.SplitAllSamples(full, []int{0}, 0) }))
	require.NotNil(t, exceptions.TryFor[*exceptions.ContractViolation](func() { s.SplitAllSamples(full, []int{1}, 2) }))
}

func TestRoundRobinFairness(t *testing.T) {
	for _, tc := range []struct{ size, engines, numSplits int }{
		{10, 4, 7},
		{7, 3, 5},
		{13, 8, 11},
		{9, 6, 3},
	} {
		t.Run(fmt.Sprintf("size=%d,engines=%d", tc.size, tc.engines), func(t *testing.T) {
			s := NewSplitter("fairness")
			totals := make([]int, tc.engines)
			for split := range tc.numSplits {
				rois := s.SplitAllSamples(New(tc.size), []int{0}, tc.engines)
				require.Len(t, rois, tc.engines)
				for engine, r := range rois {
					totals[engine] += r.Size[0]
				}
				assert.LessOrEqual(t, slices.Max(totals)-slices.Min(totals), 1,
					"after %d splits engine totals are %v", split+1, totals)
			}
		})
	}
}

func TestAssignEngines(t *testing.T) {
	level0 := []NodeROI{New(2), New(2), New(2)}
	level1 := []NodeROI{New(3), New(3), New(3), New(3), New(3)}
	got := AssignEngines([][]NodeROI{level0, level1}, 3, true)
	require.Len(t, got, 8)
	engines := make([]int, len(got))
	levels := make([]int, len(got))
	signals := make([]int, len(got))
	for ii, r := range got {
		engines[ii], levels[ii], signals[ii] = r.EngineIndex, r.PipelineLevel, r.NumSignals
	}
	assert.Equal(t, []int{0, 1, 2, 0, 1, 2, 0, 1}, engines)
	assert.Equal(t, []int{0, 0, 0, 1, 1, 1, 1, 1}, levels)
	assert.Equal(t, []int{1, 1, 1, 0, 0, 1, 1, 1}, signals)

	require.NotNil(t, exceptions.TryFor[*exceptions.ContractViolation](func() {
		AssignEngines([][]NodeROI{level1}, 3, false)
	}))
}

func TestAssignGroupedEngines(t *testing.T) {
	onEngine := func(engine, size int) NodeROI {
		r := New(1)
		r.Size[0] = size
		r.EngineIndex = engine
		return r
	}
	// Engine 0 has 3 descriptors, engine 1 has 1 and engine 2 has 2.
	level0 := []NodeROI{onEngine(0, 1), onEngine(0, 2), onEngine(0, 3), onEngine(1, 4), onEngine(2, 5), onEngine(2, 6)}
	level1 := []NodeROI{onEngine(1, 7), onEngine(0, 8)}
	got := AssignGroupedEngines([][]NodeROI{level0, level1}, 3)
	require.Len(t, got, 8)
	engines := make([]int, len(got))
	sizes := make([]int, len(got))
	levels := make([]int, len(got))
	signals := make([]int, len(got))
	for ii, r := range got {
		engines[ii], sizes[ii], levels[ii], signals[ii] = r.EngineIndex, r.Size[0], r.PipelineLevel, r.NumSignals
	}
	assert.Equal(t, []int{0, 0, 2, 0, 1, 2, 0, 1}, engines)
	assert.Equal(t, []int{1, 2, 5, 3, 4, 6, 8, 7}, sizes)
	assert.Equal(t, []int{0, 0, 0, 0, 0, 0, 1, 1}, levels)
	assert.Equal(t, []int{0, 0, 0, 1, 1, 1, 1, 1}, signals)

	require.NotNil(t, exceptions.TryFor[*exceptions.ContractViolation](func() {
		AssignGroupedEngines([][]NodeROI{{onEngine(3, 1)}}, 3)
	}))
}

func TestComputeTensorOffsets(t *testing.T) {
	f := graph.NewFactory()
	t.Run("transpose", func(t *testing.T) {
		in := graph.NewTensor("in", shapes.Make(dtypes.Float32, 8, 4))
		out := graph.NewTensor("out", shapes.Make(dtypes.Float32, 4, 8))
		node := f.CreateNode([]*graph.Tensor{in}, []*graph.Tensor{out},
			&graph.TransposeParams{Permutation: geometry.Permutation{1, 0}}, graph.KindTranspose, "t")
		r := New(8, 4).withAxis(0, 4, 4).withAxis(1, 2, 2)
		got := ComputeTensorOffsets(r, node)
		require.Len(t, got.Inputs, 1)
		assert.Equal(t, 4*4+2*32, got.Inputs[0].ByteOffset)
		assert.Equal(t, [MaxDimensions]int{2, 4}, [MaxDimensions]int(got.Outputs[0].BaseOffset))
		assert.Equal(t, [MaxDimensions]int{2, 4}, [MaxDimensions]int(got.Outputs[0].Size))
		assert.Equal(t, 2*4+4*16, got.Outputs[0].ByteOffset)
		assert.False(t, got.Dynamic)
		assert.Nil(t, r.Inputs, "ComputeTensorOffsets must not modify its argument")
	})

	t.Run("slice-int4", func(t *testing.T) {
		in := graph.NewTensor("in", shapes.Make(dtypes.Int4, 8, 4))
		out := graph.NewTensor("out", shapes.Make(dtypes.Int4, 4, 2))
		node := f.CreateNode([]*graph.Tensor{in}, []*graph.Tensor{out},
			&graph.SliceParams{Starts: []int{2, 1}, Ends: []int{6, 3}}, graph.KindSlice, "s")
		got := ComputeTensorOffsets(New(4, 2).withAxis(1, 1, 1), node)
		// Input element (2, 2): 2 nibbles + 2 rows of 4 bytes.
		assert.Equal(t, 1+2*4, got.Inputs[0].ByteOffset)
		assert.Equal(t, 2, got.Outputs[0].ByteOffset)

		require.NotNil(t, exceptions.TryFor[*exceptions.ContractViolation](func() {
			ComputeTensorOffsets(New(4, 2).withAxis(0, 1, 3), node)
		}), "odd nibble offsets are not byte aligned")
	})

	t.Run("dynamic", func(t *testing.T) {
		in := graph.NewTensor("in", shapes.Make(dtypes.Float32, 8, 1))
		out := graph.NewTensor("out", shapes.MakeDynamic(dtypes.Float32, []int{8, 6}, []int{8, 2}))
		node := f.CreateNode([]*graph.Tensor{in}, []*graph.Tensor{out},
			&graph.BroadcastParams{Axes: []int{1}}, graph.KindBroadcastNonFCD, "b")
		got := ComputeTensorOffsets(New(8, 6).withAxis(1, 0, 2), node)
		assert.False(t, got.Dynamic)
		assert.Equal(t, [MaxDimensions]int{8, 1}, [MaxDimensions]int(got.Inputs[0].Size))
		got = ComputeTensorOffsets(New(8, 6).withAxis(1, 2, 4), node)
		assert.True(t, got.Dynamic)
		assert.Zero(t, got.Inputs[0].ByteOffset)
		assert.Equal(t, 2*32, got.Outputs[0].ByteOffset)
	})
}

func TestSplitHuge(t *testing.T) {
	rois := []NodeROI{New(16, 10), New(4, 2)}
	rois[0].EngineIndex = 3
	got := SplitHuge(rois, dtypes.Float32, 100)
	var bigPieces []NodeROI
	for _, r := range got {
		assert.LessOrEqual(t, dtypes.Float32.SizeForDimensions(r.Sizes()...), 100)
		if r.EngineIndex == 3 {
			bigPieces = append(bigPieces, r)
		}
	}
	requireTiles(t, rois[0], bigPieces)
	assert.Equal(t, rois[1], got[len(got)-1])
}
