// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package planner turns a graph of primitive nodes into per-engine work: it lowers broadcasts,
// canonicalizes DMA transposes and, for every node that executes on an engine, splits its index
// space into logical (pipeline) ROIs and physical (per-engine) ROIs with byte offsets ready for
// descriptor encoding.
package planner

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"

	gomlxexceptions "github.com/gomlx/exceptions"
	"github.com/gomlx/roiplan/internal/refeval"
	"github.com/gomlx/roiplan/internal/workerspool"
	"github.com/gomlx/roiplan/pkg/core/graph"
	"github.com/gomlx/roiplan/pkg/hal"
	"github.com/gomlx/roiplan/pkg/lowering/broadcast"
	"github.com/gomlx/roiplan/pkg/lowering/transpose"
	"github.com/gomlx/roiplan/pkg/roi"
	"github.com/gomlx/roiplan/pkg/support/xslices"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Planner computes the ROIs of graphs for one hardware configuration.
//
// A Planner can be used for several graphs, but not concurrently.
type Planner struct {
	cfg     hal.Reader
	factory graph.NodeFactory
	pool    *workerspool.Pool

	verify   bool
	progress func(done, total int)
}

// New creates a Planner for the hardware described by cfg, using runtime.NumCPU() workers.
func New(cfg hal.Reader) *Planner {
	return &Planner{cfg: cfg, factory: graph.NewFactory(), pool: workerspool.New()}
}

// WithParallelism sets the number of nodes planned in parallel. 0 plans sequentially and -1 has no limit.
func (p *Planner) WithParallelism(parallelism int) *Planner {
	p.pool.SetMaxParallelism(parallelism)
	return p
}

// WithFactory sets the factory used to create the lowered nodes.
func (p *Planner) WithFactory(factory graph.NodeFactory) *Planner {
	p.factory = factory
	return p
}

// WithVerify enables checking, with a reference evaluator, that each broadcast lowering computes the
// broadcast it replaces. It's slow: evaluation is proportional to the size of the tensors.
func (p *Planner) WithVerify(verify bool) *Planner {
	p.verify = verify
	return p
}

// WithProgress sets a callback called after each node is planned, from the worker goroutines.
func (p *Planner) WithProgress(progress func(done, total int)) *Planner {
	p.progress = progress
	return p
}

// NodePlan holds the ROIs of one node.
type NodePlan struct {
	Node *graph.Node

	// Engine executing the node.
	Engine hal.EngineKind

	// Splitter used: the name of the DMA transpose strategy, or "generic".
	Splitter string

	// Logical ROIs are the pipeline stages, Physical the per-engine ROIs of all stages, annotated
	// with engine, pipeline level, signals and tensor offsets.
	Logical, Physical []roi.NodeROI
}

// Bytes returns the number of bytes written by the node.
func (np *NodePlan) Bytes() int {
	return xslices.Sum(xslices.Map(np.Node.Outputs, func(t *graph.Tensor) int { return t.Shape.Memory() }))
}

// NumLevels returns the number of pipeline levels used.
func (np *NodePlan) NumLevels() int {
	levels := 0
	for _, r := range np.Physical {
		levels = max(levels, r.PipelineLevel+1)
	}
	return levels
}

// Result of planning a graph.
type Result struct {
	// Graph after lowering: the same graph given to Plan, modified in place.
	Graph *graph.Graph

	// Plans of the nodes executed by engines. Logical nodes (reshapes, squeezes, expand-dims and
	// concatenations) have no plan.
	Plans map[uuid.UUID]*NodePlan

	// NumBroadcasts lowered.
	NumBroadcasts int
}

// Ordered returns the plans in graph order.
func (r *Result) Ordered() []*NodePlan {
	plans := make([]*NodePlan, 0, len(r.Plans))
	for _, node := range r.Graph.Nodes() {
		if plan, found := r.Plans[node.ID]; found {
			plans = append(plans, plan)
		}
	}
	return plans
}

// Plan lowers the graph in place and computes the ROIs of each node executed by an engine.
//
// The lowering is sequential, the ROIs of the nodes are computed in parallel. The first failure
// stops the planning and is returned; cancelling ctx also stops it.
func (p *Planner) Plan(ctx context.Context, g *graph.Graph) (*Result, error) {
	result := &Result{Graph: g, Plans: make(map[uuid.UUID]*NodePlan)}
	if err := p.lower(g, result); err != nil {
		return nil, err
	}

	var nodes []*graph.Node
	for _, node := range g.Nodes() {
		if !node.Kind.IsLogical() {
			nodes = append(nodes, node)
		}
	}
	plans := make([]*NodePlan, len(nodes))
	var done atomic.Int32
	err := p.pool.Run(ctx, len(nodes), func(_ context.Context, ii int) error {
		plan, err := p.planNode(nodes[ii])
		if err != nil {
			klog.Errorf("planning node %q failed: %v", nodes[ii].Name, err)
			return err
		}
		plans[ii] = plan
		if p.progress != nil {
			p.progress(int(done.Add(1)), len(nodes))
		}
		return nil
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "planning graph %q", g.Name)
	}
	for _, plan := range plans {
		result.Plans[plan.Node.ID] = plan
	}
	klog.V(1).Infof("graph %q: %d nodes planned, %d broadcasts lowered", g.Name, len(plans), result.NumBroadcasts)
	return result, nil
}

// lower replaces broadcasts by their lowering and then DMA-eligible transposes, including the ones
// emitted by the broadcast lowering, by their canonical form.
func (p *Planner) lower(g *graph.Graph, result *Result) error {
	err := gomlxexceptions.TryCatch[error](func() {
		for _, node := range slices.Clone(g.Nodes()) {
			if node.Kind != graph.KindBroadcast {
				continue
			}
			lowered := broadcast.Lower(node, p.cfg, p.factory)
			if p.verify {
				if err := verifyBroadcast(node, lowered); err != nil {
					panic(err)
				}
			}
			g.Replace(node, lowered...)
			result.NumBroadcasts++
		}
		for _, node := range slices.Clone(g.Nodes()) {
			if node.Kind == graph.KindTranspose && p.isDMATranspose(node) {
				g.Replace(node, transpose.CanonicalNodes(node, p.factory)...)
			}
		}
	})
	if err != nil {
		return errors.WithMessagef(err, "lowering graph %q", g.Name)
	}
	if _, err = g.TopologicalOrder(); err != nil {
		return err
	}
	return nil
}

func (p *Planner) isDMATranspose(node *graph.Node) bool {
	model := transpose.NewEngineModel(node.Input(0).DType(), p.cfg.TransposeEngine())
	return !hasSparse(node) && transpose.IsDMAEligible(node, model)
}

// verifyBroadcast evaluates the lowered nodes and compares them to the broadcast.
func verifyBroadcast(node *graph.Node, lowered []*graph.Node) error {
	in, out := node.Input(0), node.Output(0)
	inValue := refeval.Iota(in.Shape.Dimensions...)
	if in.Constant != nil {
		inValue.Data[0] = *in.Constant
	}
	env := refeval.Env{in: inValue}
	if err := refeval.Eval(lowered, env); err != nil {
		return errors.WithMessagef(err, "verifying lowering of broadcast %q", node.Name)
	}
	want, err := refeval.Broadcast(inValue, out.Shape.Dimensions...)
	if err != nil {
		return err
	}
	got := env[out]
	if got == nil || !slices.Equal(want.Data, got.Data) {
		return errors.Errorf("lowering of broadcast %q from %s to %s doesn't compute the broadcast", node.Name, in.Shape, out.Shape)
	}
	klog.V(1).Infof("broadcast %q lowering verified", node.Name)
	return nil
}

func hasSparse(node *graph.Node) bool {
	return slices.ContainsFunc(slices.Concat(node.Inputs, node.Outputs), func(t *graph.Tensor) bool { return t.Sparse })
}

// engineFor returns the engine executing a (non-logical) node.
func (p *Planner) engineFor(node *graph.Node) hal.EngineKind {
	switch node.Kind {
	case graph.KindTranspose:
		if p.isDMATranspose(node) {
			return hal.EngineDMA
		}
		return hal.EngineTPC
	case graph.KindBroadcastNonFCD, graph.KindConstantFill:
		return hal.EngineTPC
	}
	if node.Kind.IsDMA() {
		return hal.EngineDMA
	}
	return hal.EngineTPC
}

// planNode computes the ROIs of one node. Contract violations are returned as errors.
func (p *Planner) planNode(node *graph.Node) (plan *NodePlan, err error) {
	err = gomlxexceptions.TryCatch[error](func() {
		plan = p.planNodeOrPanic(node)
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "node %s", node)
	}
	return plan, nil
}

func (p *Planner) planNodeOrPanic(node *graph.Node) *NodePlan {
	graph.Validate(node)
	engine := p.engineFor(node)
	plan := &NodePlan{Node: node, Engine: engine}
	engines := p.cfg.NumEngines(engine)
	full := roi.FullROI(node)

	var perLogical [][]roi.NodeROI
	assign := func(perLogical [][]roi.NodeROI, engines int) []roi.NodeROI {
		return roi.AssignEngines(perLogical, engines, engine == hal.EngineDMA)
	}
	switch {
	case hasSparse(node):
		// Sparse layouts can't be split.
		plan.Splitter = "single"
		plan.Logical = []roi.NodeROI{full}
		perLogical = [][]roi.NodeROI{{full}}

	case node.Kind == graph.KindTranspose && engine == hal.EngineDMA:
		model := transpose.NewEngineModel(node.Input(0).DType(), p.cfg.TransposeEngine())
		strategy := transpose.NewStrategy(node, model, p.cfg.Heuristics())
		plan.Splitter = strategy.Name()
		assign = roi.AssignGroupedEngines
		plan.Logical = strategy.SplitLogical(full, p.cfg.LogicalEngineCount(), engines)
		for _, logical := range plan.Logical {
			physical := strategy.SplitRoiToEngines(logical, engines)
			for ii := range physical {
				physical[ii] = strategy.Finalize(physical[ii])
			}
			perLogical = append(perLogical, physical)
		}

	default:
		plan.Splitter = "generic"
		dimPreference := p.dimPreference(node, full)
		plan.Logical = roi.SplitFullRoiToLogicalRoisAlongExternalAxis(full, dimPreference, p.cfg.LogicalEngineCount(), node.Name)
		splitter := roi.NewSplitter(node.Name)
		for _, logical := range plan.Logical {
			physical := splitter.SplitAllSamples(logical, dimPreference, engines)
			if engine == hal.EngineDMA {
				physical = roi.SplitHuge(physical, node.Output(0).DType(), p.cfg.DescriptorLimit())
			}
			perLogical = append(perLogical, physical)
		}
	}

	plan.Physical = assign(perLogical, engines)
	for ii := range plan.Physical {
		plan.Physical[ii] = roi.ComputeTensorOffsets(plan.Physical[ii], node)
	}
	klog.V(2).Infof("node %q: %s on %s, %d logical and %d physical ROIs",
		node.Name, plan.Splitter, engine, len(plan.Logical), len(plan.Physical))
	return plan
}

// dimPreference returns the axes to split, slowest first. For sub-byte element types axis 0 is
// left whole, so every region starts on a byte boundary.
func (p *Planner) dimPreference(node *graph.Node, full roi.NodeROI) []int {
	preference := make([]int, 0, full.Rank)
	lowest := 0
	if node.Output(0).DType().IsSubByte() && full.Rank > 1 {
		lowest = 1
	}
	for axis := full.Rank - 1; axis >= lowest; axis-- {
		preference = append(preference, axis)
	}
	return preference
}

// String implements fmt.Stringer.
func (np *NodePlan) String() string {
	return fmt.Sprintf("%s: %s/%s, %d logical, %d physical ROIs", np.Node.Name, np.Engine, np.Splitter,
		len(np.Logical), len(np.Physical))
}
