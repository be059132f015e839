// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package broadcast

import (
	gomlxexceptions "github.com/gomlx/exceptions"
	"github.com/gomlx/roiplan/pkg/core/graph"
	"github.com/gomlx/roiplan/pkg/hal"
	"github.com/gomlx/roiplan/pkg/support/exceptions"
	"github.com/gomlx/roiplan/pkg/support/xslices"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Lower lowers the broadcast node into primitive nodes, in topological order.
//
// Pending broadcasts are processed from a FIFO worklist until none is left. Each one is fully
// resolved (classified and applied) before its children are considered, and each child must be
// strictly simpler than its parent, according to Measure.
//
// It panics with a contract violation on malformed broadcasts.
func Lower(node *graph.Node, cfg hal.Reader, factory graph.NodeFactory) []*graph.Node {
	l := NewLowerer(cfg, factory)
	var nodes []*graph.Node
	queue := []Pending{PendingFromNode(node)}
	for len(queue) > 0 {
		var p Pending
		p, queue = xslices.PopFront(queue)
		strategy := l.Select(p)
		result := l.Apply(strategy, p)
		klog.V(2).Infof("%s: %s -> %d nodes, %d pending", p, strategy, len(result.Nodes), len(result.Pending))
		parentMeasure := MeasureOf(p)
		for _, child := range result.Pending {
			if childMeasure := MeasureOf(child); !childMeasure.Less(parentMeasure) {
				exceptions.Panicf("%s: strategy %s produced %s, which is not simpler (%v >= %v)",
					p, strategy, child, childMeasure, parentMeasure)
			}
		}
		nodes = append(nodes, result.Nodes...)
		queue = append(queue, result.Pending...)
	}

	sub := graph.New(node.Name)
	sub.Add(nodes...)
	sorted, err := sub.TopologicalOrder()
	if err != nil {
		exceptions.Panicf("lowering of broadcast %q: %v", node.Name, err)
	}
	klog.V(1).Infof("broadcast %q lowered to %d nodes", node.Name, len(sorted))
	return sorted
}

// LowerE is like Lower, but returns contract violations as errors.
func LowerE(node *graph.Node, cfg hal.Reader, factory graph.NodeFactory) (nodes []*graph.Node, err error) {
	err = gomlxexceptions.TryCatch[error](func() {
		nodes = Lower(node, cfg, factory)
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "lowering broadcast %q", node.Name)
	}
	return nodes, nil
}

// LowerGraph replaces every broadcast node of g by its lowering, and returns the number of
// broadcast nodes lowered.
func LowerGraph(g *graph.Graph, cfg hal.Reader, factory graph.NodeFactory) int {
	var broadcasts []*graph.Node
	for _, node := range g.Nodes() {
		if node.Kind == graph.KindBroadcast {
			broadcasts = append(broadcasts, node)
		}
	}
	for _, node := range broadcasts {
		g.Replace(node, Lower(node, cfg, factory)...)
	}
	return len(broadcasts)
}
