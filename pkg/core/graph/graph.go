// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Graph is an ordered list of primitive nodes connected by tensors.
//
// It is not safe for concurrent modification.
type Graph struct {
	Name  string
	nodes []*Node
}

// New creates an empty graph.
func New(name string) *Graph {
	return &Graph{Name: name}
}

// Add appends the nodes to the graph.
func (g *Graph) Add(nodes ...*Node) {
	g.nodes = append(g.nodes, nodes...)
}

// Nodes returns the nodes in insertion order. The slice is owned by the graph.
func (g *Graph) Nodes() []*Node { return g.nodes }

// NodeByID returns the node with the given ID, or nil.
func (g *Graph) NodeByID(id uuid.UUID) *Node {
	for _, node := range g.nodes {
		if node.ID == id {
			return node
		}
	}
	return nil
}

// Replace substitutes old by the replacement nodes, in place. It returns false if old is not in the graph.
func (g *Graph) Replace(old *Node, replacements ...*Node) bool {
	idx := slices.Index(g.nodes, old)
	if idx < 0 {
		return false
	}
	g.nodes = slices.Concat(g.nodes[:idx:idx], replacements, g.nodes[idx+1:])
	return true
}

// Producers maps each tensor to the node that outputs it.
func (g *Graph) Producers() map[*Tensor]*Node {
	producers := make(map[*Tensor]*Node, len(g.nodes))
	for _, node := range g.nodes {
		for _, t := range node.Outputs {
			producers[t] = node
		}
	}
	return producers
}

// TopologicalOrder returns the nodes ordered such that every node comes after the producers of its
// inputs. Ties keep the insertion order. It returns an error if the graph has a cycle.
func (g *Graph) TopologicalOrder() ([]*Node, error) {
	producers := g.Producers()
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[*Node]int, len(g.nodes))
	order := make([]*Node, 0, len(g.nodes))
	var visit func(node *Node) error
	visit = func(node *Node) error {
		switch state[node] {
		case done:
			return nil
		case visiting:
			return errors.Errorf("graph %q has a cycle through node %q", g.Name, node.Name)
		}
		state[node] = visiting
		for _, t := range node.Inputs {
			if producer, found := producers[t]; found {
				if err := visit(producer); err != nil {
					return err
				}
			}
		}
		state[node] = done
		order = append(order, node)
		return nil
	}
	for _, node := range g.nodes {
		if err := visit(node); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// String implements fmt.Stringer, listing one node per line.
func (g *Graph) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "Graph %q: %d nodes\n", g.Name, len(g.nodes))
	for ii, node := range g.nodes {
		_, _ = fmt.Fprintf(&sb, "\t#%d %s\n", ii, node)
	}
	return sb.String()
}
