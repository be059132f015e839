// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package transpose

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/gomlx/roiplan/pkg/core/dtypes"
	"github.com/gomlx/roiplan/pkg/core/geometry"
	"github.com/gomlx/roiplan/pkg/core/graph"
	"github.com/gomlx/roiplan/pkg/core/shapes"
	"github.com/gomlx/roiplan/pkg/hal"
	"github.com/gomlx/roiplan/pkg/roi"
	"github.com/gomlx/roiplan/pkg/support/exceptions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transposeNode(dtype dtypes.DType, dims []int, perm geometry.Permutation, fullyUtilized bool) *graph.Node {
	in := graph.NewTensor("in", shapes.Make(dtype, dims...))
	out := graph.NewTensor("out", perm.ApplyShape(in.Shape))
	return graph.NewFactory().CreateNode([]*graph.Tensor{in}, []*graph.Tensor{out},
		&graph.TransposeParams{Permutation: perm, FullyUtilized: fullyUtilized}, graph.KindTranspose, "transpose")
}

// requireTiles checks that rois exactly tile full: they lie inside it, don't overlap each other and
// add up to its number of elements.
func requireTiles(t *testing.T, full roi.NodeROI, rois []roi.NodeROI) {
	t.Helper()
	total := 0
	for ii, r := range rois {
		r.AssertValid()
		require.Equal(t, full.Rank, r.Rank)
		for axis := range full.Rank {
			require.GreaterOrEqual(t, r.BaseOffset[axis], full.BaseOffset[axis], "ROI %s outside %s", r, full)
			require.LessOrEqual(t, r.BaseOffset[axis]+r.Size[axis], full.BaseOffset[axis]+full.Size[axis],
				"ROI %s outside %s", r, full)
		}
		for _, other := range rois[:ii] {
			require.False(t, overlaps(r, other), "ROIs %s and %s overlap", r, other)
		}
		total += r.NumElements()
	}
	require.Equal(t, full.NumElements(), total, "ROIs don't cover %s", full)
}

func overlaps(a, b roi.NodeROI) bool {
	for axis := range a.Rank {
		if a.BaseOffset[axis]+a.Size[axis] <= b.BaseOffset[axis] || b.BaseOffset[axis]+b.Size[axis] <= a.BaseOffset[axis] {
			return false
		}
	}
	return true
}

func TestEngineModel(t *testing.T) {
	params := hal.TransposeEngineParams{MaxBytesSourceFastDim: 256, MaxBytesDestFastDim: 1024, LineCountDivisor: 4, MaxH: 16}
	m := NewEngineModel(dtypes.Float32, params)
	assert.Equal(t, 64, m.MaxSourceElementsFastDim())
	assert.Equal(t, MaxDestLines, m.MaxDestElementsFastDim())
	assert.Equal(t, 4, m.RequiredLineCountAlignment())
	assert.True(t, m.IsValidLineCount([]int{7, 4, 3}))
	assert.False(t, m.IsValidLineCount([]int{7, 3}))
	assert.False(t, m.IsValidLineCount([]int{7}))
	assert.True(t, m.IsFullyUtilized(128, 256))
	assert.False(t, m.IsFullyUtilized(100, 256))

	params.MaxBytesDestFastDim = 64
	m4 := NewEngineModel(dtypes.Int4, params)
	assert.Equal(t, 512, m4.MaxSourceElementsFastDim())
	// Half of 64 bytes, two elements per byte.
	assert.Equal(t, 64, m4.MaxDestElementsFastDim())
	assert.Equal(t, 8, m4.RequiredLineCountAlignment())
}

func TestCanonicalize(t *testing.T) {
	for _, tc := range []struct {
		dims     []int
		perm     geometry.Permutation
		want     []int
		wantPerm geometry.Permutation
		eligible bool
	}{
		{[]int{2, 3, 4}, geometry.Permutation{1, 2, 0}, []int{2, 12}, geometry.Permutation{1, 0}, true},
		{[]int{2, 3, 4}, geometry.Permutation{1, 0, 2}, []int{2, 3, 4}, geometry.Permutation{1, 0, 2}, true},
		{[]int{1, 8, 4}, geometry.Permutation{2, 1, 0}, []int{8, 4}, geometry.Permutation{1, 0}, true},
		{[]int{2, 3, 4, 5}, geometry.Permutation{2, 3, 0, 1}, []int{6, 20}, geometry.Permutation{1, 0}, true},
		{[]int{2, 3, 4}, geometry.Permutation{0, 1, 2}, []int{24}, geometry.Permutation{0}, false},
		{[]int{2, 3, 4}, geometry.Permutation{2, 1, 0}, []int{2, 3, 4}, geometry.Permutation{2, 1, 0}, false},
		{[]int{2, 3, 4, 5}, geometry.Permutation{1, 0, 3, 2}, []int{2, 3, 4, 5}, geometry.Permutation{1, 0, 3, 2}, false},
		{[]int{1, 1}, geometry.Permutation{1, 0}, []int{}, geometry.Permutation{}, false},
	} {
		t.Run(fmt.Sprintf("%v_%v", tc.dims, []int(tc.perm)), func(t *testing.T) {
			c := Canonicalize(tc.dims, tc.perm)
			assert.Equal(t, tc.want, c.Dims)
			assert.Equal(t, tc.wantPerm, c.Permutation)
			assert.Equal(t, tc.eligible, c.IsDMAEligible())
			groupsSize := 0
			for _, group := range c.Groups {
				groupsSize += len(group)
			}
			assert.LessOrEqual(t, groupsSize, len(tc.dims))
		})
	}
}

func TestCanonicalNodes(t *testing.T) {
	node := transposeNode(dtypes.Float32, []int{2, 3, 4}, geometry.Permutation{1, 2, 0}, true)
	nodes := CanonicalNodes(node, graph.NewFactory())
	require.Len(t, nodes, 3)
	assert.Equal(t, graph.KindReshape, nodes[0].Kind)
	assert.Equal(t, []int{2, 12}, nodes[1].Inputs[0].Shape.Dimensions)
	assert.Equal(t, []int{12, 2}, nodes[1].Outputs[0].Shape.Dimensions)
	assert.True(t, nodes[1].Params.(*graph.TransposeParams).FullyUtilized)
	assert.Same(t, node.Inputs[0], nodes[0].Inputs[0])
	assert.Same(t, node.Outputs[0], nodes[2].Outputs[0])

	canonical := nodes[1]
	assert.Equal(t, []*graph.Node{canonical}, CanonicalNodes(canonical, graph.NewFactory()))
}

func lowDescriptorScenario(t *testing.T, engines int) []roi.NodeROI {
	// 256 bytes of Int8: 256 elements in the source fast dimension.
	params := hal.TransposeEngineParams{MaxBytesSourceFastDim: 256, MaxBytesDestFastDim: 128, LineCountDivisor: 1, MaxH: 16}
	node := transposeNode(dtypes.Int8, []int{300, 7}, geometry.Permutation{1, 0}, false)
	model := NewEngineModel(dtypes.Int8, params)
	require.Equal(t, 256, model.MaxSourceElementsFastDim())
	s := NewStrategy(node, model, hal.Default().Tuning)
	require.IsType(t, &LowDescriptorStrategy{}, s)

	full := roi.FullROI(node)
	logical := s.SplitLogical(full, 1, engines)
	require.Len(t, logical, 1)
	physical := s.SplitRoiToEngines(logical[0], engines)
	requireTiles(t, full, physical)
	return physical
}

func TestLowDescriptorScenario(t *testing.T) {
	for _, engines := range []int{1, 2, 4} {
		t.Run(fmt.Sprintf("engines=%d", engines), func(t *testing.T) {
			physical := lowDescriptorScenario(t, engines)
			// Group by slow offset: the fast extents of each group sum to 300.
			sums := map[int]int{}
			var last roi.NodeROI
			for _, r := range physical {
				assert.LessOrEqual(t, r.Size[0], 256)
				sums[r.BaseOffset[1]] += r.Size[0]
				if r.BaseOffset[0] >= last.BaseOffset[0] {
					last = r
				}
			}
			for offset, sum := range sums {
				assert.Equal(t, 300, sum, "slow offset %d", offset)
			}
			assert.Equal(t, 44, last.Size[0], "last ROI absorbs the remainder")
		})
	}

	physical := lowDescriptorScenario(t, 4)
	require.Len(t, physical, 2)
	assert.Equal(t, []int{256, 7}, physical[0].Sizes())
	assert.Equal(t, []int{44, 7}, physical[1].Sizes())
}

func TestLowDescriptorCost(t *testing.T) {
	cfg := hal.Default()
	model := NewEngineModel(dtypes.Float32, cfg.Transpose)
	// 64 floats per source and destination line: 128 lines don't fit one invocation, 64 do.
	node := transposeNode(dtypes.Float32, []int{100, 128}, geometry.Permutation{1, 0}, false)
	s := NewStrategy(node, model, cfg.Tuning)
	require.IsType(t, &LowDescriptorStrategy{}, s)
	full := roi.FullROI(node)
	physical := s.SplitRoiToEngines(full, 2)
	requireTiles(t, full, physical)

	// Splitting the lines in two brings each part under the destination capacity, which is estimated
	// cheaper than splitting the fast axis, even with more descriptors.
	require.Len(t, physical, 4)
	for ii, p := range physical {
		assert.Equal(t, ii/2, p.EngineIndex, "ROI %s", p)
		assert.Equal(t, 64*(ii/2), p.BaseOffset[1], "ROI %s", p)
		assert.Equal(t, 64, p.Size[1], "ROI %s", p)
	}
	assert.Equal(t, []int{64, 36, 64, 36}, []int{physical[0].Size[0], physical[1].Size[0], physical[2].Size[0], physical[3].Size[0]})
}

func TestFinalizeProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	cfg := hal.Default()
	for _, dtype := range []dtypes.DType{dtypes.Float32, dtypes.BFloat16, dtypes.Int8} {
		model := NewEngineModel(dtype, cfg.Transpose)
		align := model.RequiredLineCountAlignment()
		for range 15 {
			// Axes of size 1 would make the transpose non-canonical.
			fast := 2 + rng.Intn(3*model.MaxSourceElementsFastDim())
			lines := max(2, align*(1+rng.Intn(40)))
			dims := []int{fast, lines}
			perm := geometry.Permutation{1, 0}
			if rng.Intn(2) == 0 {
				dims = append(dims, 2+rng.Intn(3))
				perm = append(perm, 2)
			}
			for _, fullyUtilized := range []bool{false, true} {
				name := fmt.Sprintf("%s_%v_full=%v", dtype, dims, fullyUtilized)
				t.Run(name, func(t *testing.T) {
					node := transposeNode(dtype, dims, perm, fullyUtilized)
					s := NewStrategy(node, model, cfg.Tuning)
					full := roi.FullROI(node)
					logical := s.SplitLogical(full, cfg.PipelineDepth, cfg.DMAEngines)
					requireTiles(t, full, logical)
					var all []roi.NodeROI
					for _, l := range logical {
						physical := s.SplitRoiToEngines(l, cfg.DMAEngines)
						requireTiles(t, l, physical)
						for _, p := range physical {
							p = s.Finalize(p)
							require.NotNil(t, p.Layout)
							k, h, c := p.Layout.SrcSizes[0], p.Layout.SrcSizes[1], p.Layout.SrcSizes[2]
							require.Equal(t, p.Size[0], k*h*c, "ROI %s", p)
							require.LessOrEqual(t, k, model.MaxSourceElementsFastDim())
							require.LessOrEqual(t, h, cfg.Transpose.MaxH)
							require.True(t, model.IsValidLineCount(p.Sizes()))
							all = append(all, p)
						}
					}
					requireTiles(t, full, all)
				})
			}
		}
	}
}

func TestFullUtilizationBalance(t *testing.T) {
	cfg := hal.Default()
	model := NewEngineModel(dtypes.Float32, cfg.Transpose)
	// 64 floats per source line, 64 per destination line.
	node := transposeNode(dtypes.Float32, []int{64, 256, 3}, geometry.Permutation{1, 0, 2}, true)
	s := NewStrategy(node, model, cfg.Tuning)
	require.Equal(t, "full-utilization", s.Name())
	full := roi.FullROI(node)
	physical := s.SplitRoiToEngines(full, 4)
	require.Len(t, physical, 4)
	for ii, p := range physical {
		assert.Equal(t, ii, p.EngineIndex, "ROI %s", p)
		assert.Equal(t, 64*3*64, p.NumElements(), "ROI %s", p)
		assert.Zero(t, p.Size[1]%64, "ROI %s must write complete lines", p)
	}
	requireTiles(t, full, physical)
}

func TestStrategyContractViolations(t *testing.T) {
	cfg := hal.Default()
	model := NewEngineModel(dtypes.Float32, cfg.Transpose)
	for name, node := range map[string]*graph.Node{
		"not canonical": transposeNode(dtypes.Float32, []int{2, 3, 4}, geometry.Permutation{1, 2, 0}, false),
		"not eligible":  transposeNode(dtypes.Float32, []int{2, 3, 4}, geometry.Permutation{2, 1, 0}, false),
		"lines":         transposeNode(dtypes.Float32, []int{64, 7}, geometry.Permutation{1, 0}, false),
		"dtype":         transposeNode(dtypes.Int8, []int{64, 8}, geometry.Permutation{1, 0}, false),
	} {
		t.Run(name, func(t *testing.T) {
			require.NotNil(t, exceptions.TryFor[*exceptions.ContractViolation](func() { NewStrategy(node, model, cfg.Tuning) }))
		})
	}
	assert.False(t, IsDMAEligible(transposeNode(dtypes.Float32, []int{64, 7}, geometry.Permutation{1, 0}, false), model))
	assert.True(t, IsDMAEligible(transposeNode(dtypes.Float32, []int{2, 3, 4}, geometry.Permutation{1, 2, 0}, false), model))

	// Finalize rejects ROIs that can't be expressed.
	node := transposeNode(dtypes.Float32, []int{200, 8}, geometry.Permutation{1, 0}, false)
	s := NewStrategy(node, model, cfg.Tuning)
	require.NotNil(t, exceptions.TryFor[*exceptions.ContractViolation](func() { s.Finalize(roi.FullROI(node)) }),
		"200 is not a multiple of 64")
	r := roi.New(200, 8)
	r.Size[0], r.Size[1] = 64, 6
	require.NotNil(t, exceptions.TryFor[*exceptions.ContractViolation](func() { s.Finalize(r) }), "6 lines")
}
