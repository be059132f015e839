// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package transpose

import (
	"github.com/gomlx/roiplan/pkg/roi"
	"k8s.io/klog/v2"
)

// LowDescriptorStrategy minimizes the number of descriptors: it looks for the factorization
// engines >= fastFactor * slowFactor with the lowest estimated number of engine invocations, then the
// fewest invocations on the busiest engine and then the fewest descriptors.
type LowDescriptorStrategy struct {
	base
}

var _ Strategy = (*LowDescriptorStrategy)(nil)

// Name implements Strategy.
func (s *LowDescriptorStrategy) Name() string { return "low-descriptor" }

// SplitLogical implements Strategy. Stages start and end on source line boundaries.
func (s *LowDescriptorStrategy) SplitLogical(full roi.NodeROI, pipelineDepth, futureEngines int) []roi.NodeROI {
	return s.splitLogical(full, pipelineDepth, futureEngines, s.granularity)
}

type lowDescriptorCost struct {
	// The invocations of all engines are estimated as estimate/slowFactor, where slowFactor is the
	// number of parts each fast part was split into.
	estimate, slowFactor int

	maxInvocations, numDescriptors int
}

func (c lowDescriptorCost) less(other lowDescriptorCost) bool {
	if lhs, rhs := c.estimate*other.slowFactor, other.estimate*c.slowFactor; lhs != rhs {
		return lhs < rhs
	}
	if c.maxInvocations != other.maxInvocations {
		return c.maxInvocations < other.maxInvocations
	}
	return c.numDescriptors < other.numDescriptors
}

// estimate returns the invocations estimated for one engine's part, multiplied by slowFactor.
//
// If the part's lines fit in one invocation, it is proportional to the chunks of the fast axis divided
// by slowFactor; otherwise it is maxDst * (fastChunks/slowFactor) * lines.
func (s *LowDescriptorStrategy) estimate(part roi.NodeROI) int {
	fastChunks := units(part.Size[0], s.maxSrc)
	batch := 1
	if part.Rank > 2 {
		batch = part.Size[2]
	}
	if lines := part.Size[1]; lines > s.maxDst {
		return s.maxDst * fastChunks * lines * batch
	}
	return fastChunks * batch
}

// SplitRoiToEngines implements Strategy.
//
// For each factorization fastFactor*slowFactor <= engineCount, the fast axis is split in fastFactor
// parts of complete source lines (the last one absorbs the remainder), and each part's slow axes in
// slowFactor parts of complete destination lines where possible. Each part goes to its own engine.
func (s *LowDescriptorStrategy) SplitRoiToEngines(logical roi.NodeROI, engineCount int) []roi.NodeROI {
	logical.AssertValid()
	slowAxes, slowGran := s.slowAxes(logical)
	fastUnits := units(logical.Size[0], s.maxSrc)

	var best []roi.NodeROI
	var bestCost lowDescriptorCost
	var bestFactors [2]int
	for fastFactor := 1; fastFactor <= min(engineCount, fastUnits); fastFactor++ {
		for slowFactor := 1; fastFactor*slowFactor <= engineCount; slowFactor++ {
			fastParts, _ := roi.SplitAlongAxes(logical, []int{0}, fastFactor, []int{s.maxSrc})
			var candidate []roi.NodeROI
			cost := lowDescriptorCost{}
			engine := 0
			for _, fastPart := range fastParts {
				parts := []roi.NodeROI{fastPart}
				if len(slowAxes) > 0 {
					parts, _ = roi.SplitAlongAxes(fastPart, slowAxes, slowFactor, slowGran)
				}
				// Slow axes with fewer units than slowFactor give fewer parts.
				cost.slowFactor = len(parts)
				for _, part := range parts {
					cost.estimate += s.estimate(part)
					cost.maxInvocations = max(cost.maxInvocations, s.invocations(part))
					candidate = append(candidate, onEngine(s.descriptorPieces(part), engine)...)
					engine++
				}
			}
			cost.numDescriptors = len(candidate)
			if best == nil || cost.less(bestCost) {
				best, bestCost, bestFactors = candidate, cost, [2]int{fastFactor, slowFactor}
			}
		}
	}
	klog.V(2).Infof("transpose %q: ROI %s split with factors %v: %d descriptors, %d invocations on the busiest engine",
		s.node.Name, logical, bestFactors, bestCost.numDescriptors, bestCost.maxInvocations)
	return best
}

// slowAxes returns the splittable non-fast axes of r, lines first, and their granularity.
func (s *LowDescriptorStrategy) slowAxes(r roi.NodeROI) (axes, granularity []int) {
	for axis := 1; axis < r.Rank; axis++ {
		g := s.lineGranularity(axis)
		if units(r.Size[axis], g) >= 2 {
			axes = append(axes, axis)
			granularity = append(granularity, g)
		}
	}
	return
}
