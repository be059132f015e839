// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package roi

import (
	"github.com/gomlx/roiplan/pkg/support/exceptions"
	"github.com/gomlx/roiplan/pkg/support/xslices"
	"k8s.io/klog/v2"
)

// RoundRobin holds the rotation state of uneven splits. It carries over across the logical ROIs of
// one node, so the long chunks of uneven splits don't always land on the same engines.
type RoundRobin struct {
	// NextSubSplitStartIndex is the chunk position where the next run of long chunks starts, when a
	// dimension is split into as many chunks as engines.
	NextSubSplitStartIndex int

	// NextMajorSplitStartIndex is the unit-chunk position where the next extra engine slots are given,
	// when a dimension is smaller than the number of engines.
	NextMajorSplitStartIndex int
}

// Splitter splits logical ROIs into physical (per-engine) ROIs.
//
// It is stateful (see RoundRobin) and not safe for concurrent use: create one per node.
type Splitter struct {
	Name  string
	State RoundRobin
}

// NewSplitter creates a Splitter for the node with the given name, used in log messages.
func NewSplitter(name string) *Splitter {
	return &Splitter{Name: name}
}

type axisSplit struct {
	axis, pieces int
}

// SplitAllSamples splits r into engineCount ROIs along the axes of dimPreference, in order of
// preference. It tries, in order:
//
//  1. Perfect split: one axis whose size is divisible by the engine count.
//  2. Zero-remainder split: a sequence of axes whose sizes' common divisors with the engine slots
//     left multiply to the engine count.
//  3. Round-robin split: uneven chunks, rotating which engines get the larger ones across calls.
//
// It may return fewer ROIs than engines if the index space is too small, which is logged.
func (s *Splitter) SplitAllSamples(r NodeROI, dimPreference []int, engineCount int) []NodeROI {
	if engineCount <= 0 {
		exceptions.Panicf("node %q: can't split ROI %s across %d engines", s.Name, r, engineCount)
	}
	r.AssertValid()
	for _, axis := range dimPreference {
		if axis < 0 || axis >= r.Rank {
			exceptions.Panicf("node %q: preferred axis %d out of range for ROI %s", s.Name, axis, r)
		}
	}
	if engineCount == 1 {
		return []NodeROI{r}
	}

	// 1. Perfect split.
	for _, axis := range dimPreference {
		if r.Size[axis]%engineCount == 0 {
			klog.V(2).Infof("node %q: perfect split of ROI %s on axis %d", s.Name, r, axis)
			return splitAxis([]NodeROI{r}, axis, EvenChunks(r.Size[axis], engineCount))
		}
	}

	// 2. Zero-remainder split.
	var plan []axisSplit
	slotsLeft := engineCount
	for _, axis := range dimPreference {
		if slotsLeft == 1 {
			break
		}
		if g := xslices.GCD(r.Size[axis], slotsLeft); g > 1 {
			plan = append(plan, axisSplit{axis, g})
			slotsLeft /= g
		}
	}
	if slotsLeft == 1 {
		klog.V(2).Infof("node %q: zero-remainder split of ROI %s: %v", s.Name, r, plan)
		rois := []NodeROI{r}
		for _, split := range plan {
			rois = splitAxis(rois, split.axis, EvenChunks(r.Size[split.axis], split.pieces))
		}
		return rois
	}

	// 3. Round-robin split.
	rois := s.splitRoundRobin(r, dimPreference, engineCount)
	if len(rois) < engineCount {
		klog.Warningf("node %q: ROI %s split across %d of %d engines", s.Name, r, len(rois), engineCount)
	}
	return rois
}

type pendingSplit struct {
	roi   NodeROI
	slots int
}

// splitRoundRobin splits the ROI axis by axis. An ROI with n engine slots whose size S on the current
// axis is at least n is split into n chunks, final. Otherwise it's split into S unit chunks sharing
// the n slots, and the chunks with more than one slot are pushed to the next axis.
func (s *Splitter) splitRoundRobin(r NodeROI, dimPreference []int, engineCount int) []NodeROI {
	var done []NodeROI
	queue := []pendingSplit{{r, engineCount}}
	for _, axis := range dimPreference {
		var next []pendingSplit
		for _, item := range queue {
			size := item.roi.Size[axis]
			switch {
			case item.slots <= 1:
				done = append(done, item.roi)
			case size == 1:
				next = append(next, item)
			case size >= item.slots:
				done = append(done, splitAxis([]NodeROI{item.roi}, axis, s.rotatedChunks(size, item.slots))...)
			default:
				units := splitAxis([]NodeROI{item.roi}, axis, EvenChunks(size, size))
				for ii, slots := range s.rotatedSlots(item.slots, size) {
					if slots == 1 {
						done = append(done, units[ii])
					} else {
						next = append(next, pendingSplit{units[ii], slots})
					}
				}
			}
		}
		queue = next
	}
	for _, item := range queue {
		done = append(done, item.roi)
	}
	return done
}

// rotatedChunks splits size into pieces chunks, where the long chunks start at NextSubSplitStartIndex
// (cyclically), and advances the state.
func (s *Splitter) rotatedChunks(size, pieces int) []int {
	quotient, remainder := size/pieces, size%pieces
	start := s.State.NextSubSplitStartIndex % pieces
	chunks := make([]int, pieces)
	for ii := range chunks {
		chunks[ii] = quotient
		if (ii-start+pieces)%pieces < remainder {
			chunks[ii]++
		}
	}
	s.State.NextSubSplitStartIndex = (start + remainder) % pieces
	return chunks
}

// rotatedSlots distributes slots across numUnits unit chunks (slots > numUnits), where the units with
// an extra slot start at NextMajorSplitStartIndex (cyclically), and advances the state.
func (s *Splitter) rotatedSlots(slots, numUnits int) []int {
	quotient, remainder := slots/numUnits, slots%numUnits
	start := s.State.NextMajorSplitStartIndex % numUnits
	result := make([]int, numUnits)
	for ii := range result {
		result[ii] = quotient
		if (ii-start+numUnits)%numUnits < remainder {
			result[ii]++
		}
	}
	s.State.NextMajorSplitStartIndex = (start + remainder) % numUnits
	return result
}
