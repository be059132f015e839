// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package transpose

import (
	"math"

	"github.com/gomlx/roiplan/pkg/roi"
	"k8s.io/klog/v2"
)

// FullUtilizationStrategy splits so every engine invocation writes complete destination lines, and
// balances the work of the engines as evenly as possible.
type FullUtilizationStrategy struct {
	base
}

var _ Strategy = (*FullUtilizationStrategy)(nil)

// Name implements Strategy.
func (s *FullUtilizationStrategy) Name() string { return "full-utilization" }

func (s *FullUtilizationStrategy) protectedGranularity() []int {
	granularity := make([]int, len(s.dims))
	for axis := range granularity {
		granularity[axis] = s.lineGranularity(axis)
	}
	return granularity
}

// SplitLogical implements Strategy. Stages are split in units of complete destination lines.
func (s *FullUtilizationStrategy) SplitLogical(full roi.NodeROI, pipelineDepth, futureEngines int) []roi.NodeROI {
	return s.splitLogical(full, pipelineDepth, futureEngines, s.protectedGranularity())
}

// SplitRoiToEngines implements Strategy.
//
// The fast axis is split in min(sourceLines, engineCount) parts of complete source lines and the
// engines are distributed among them. Each part is then split among its engines along the
// splittable slow axes, choosing the factorization with the lowest work on the busiest engine, and
// then the lowest total deviation from an even split. Each piece goes to its own engine.
func (s *FullUtilizationStrategy) SplitRoiToEngines(logical roi.NodeROI, engineCount int) []roi.NodeROI {
	logical.AssertValid()
	numParts := min(units(logical.Size[0], s.maxSrc), engineCount)
	fastParts, _ := roi.SplitAlongAxes(logical, []int{0}, numParts, []int{s.maxSrc})
	enginesPerPart := roi.EvenChunks(engineCount, len(fastParts))
	granularity := s.protectedGranularity()

	var result []roi.NodeROI
	numEngineROIs := 0
	for ii, part := range fastParts {
		pieces := s.balance(part, enginesPerPart[ii], granularity)
		for _, piece := range pieces {
			result = append(result, onEngine(s.descriptorPieces(piece), numEngineROIs)...)
			numEngineROIs++
		}
	}
	if numEngineROIs < engineCount {
		klog.Warningf("transpose %q: ROI %s can only be split across %d of %d engines",
			s.node.Name, logical, numEngineROIs, engineCount)
	}
	return result
}

type balanceCost struct {
	worst     int
	deviation float64
}

func (c balanceCost) less(other balanceCost) bool {
	if c.worst != other.worst {
		return c.worst < other.worst
	}
	return c.deviation < other.deviation
}

// balance splits r among engineCount engines along the splittable slow axes, trying every combination
// of per-axis factors whose product is at most engineCount.
func (s *FullUtilizationStrategy) balance(r roi.NodeROI, engineCount int, granularity []int) []roi.NodeROI {
	var axes, maxFactors []int
	for axis := 1; axis < r.Rank; axis++ {
		if n := units(r.Size[axis], granularity[axis]); n >= 2 {
			axes = append(axes, axis)
			maxFactors = append(maxFactors, n)
		}
	}
	if len(axes) == 0 || engineCount <= 1 {
		return []roi.NodeROI{r}
	}

	var best []roi.NodeROI
	var bestCost balanceCost
	ideal := float64(r.NumElements()) / float64(engineCount)
	factors := make([]int, len(axes))
	var enumerate func(idx, product int)
	enumerate = func(idx, product int) {
		if idx == len(axes) {
			pieces := []roi.NodeROI{r}
			for ii, axis := range axes {
				var next []roi.NodeROI
				for _, piece := range pieces {
					split, _ := roi.SplitAlongAxes(piece, []int{axis}, factors[ii], []int{granularity[axis]})
					next = append(next, split...)
				}
				pieces = next
			}
			cost := balanceCost{deviation: float64(engineCount-len(pieces)) * ideal}
			for _, piece := range pieces {
				n := piece.NumElements()
				cost.worst = max(cost.worst, n)
				cost.deviation += math.Abs(float64(n) - ideal)
			}
			if best == nil || cost.less(bestCost) {
				best, bestCost = pieces, cost
			}
			return
		}
		for factor := 1; factor <= maxFactors[idx] && product*factor <= engineCount; factor++ {
			factors[idx] = factor
			enumerate(idx+1, product*factor)
		}
	}
	enumerate(0, 1)
	return best
}
