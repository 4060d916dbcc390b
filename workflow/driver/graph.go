// Package driver runs stages over a workflow.State according to a graph of
// static and conditional edges.
package driver

import (
	"errors"
	"fmt"
	"sort"

	"github.com/c360studio/appforge/workflow"
)

// End is the terminal pseudo-node.
const End = "__end__"

// Router picks the next node from the state a node produced.
type Router func(workflow.State) string

// Graph is a set of named stages joined by edges. Each node has exactly one
// outgoing edge: static or conditional.
type Graph struct {
	nodes   map[string]workflow.Stage
	edges   map[string]string
	routers map[string]Router
	entry   string
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:   make(map[string]workflow.Stage),
		edges:   make(map[string]string),
		routers: make(map[string]Router),
	}
}

// AddNode registers stage under its name.
func (g *Graph) AddNode(stage workflow.Stage) error {
	if stage == nil {
		return errors.New("stage is nil")
	}
	name := stage.Name()
	if name == "" || name == End {
		return fmt.Errorf("invalid node name %q", name)
	}
	if _, ok := g.nodes[name]; ok {
		return fmt.Errorf("node %q already registered", name)
	}
	g.nodes[name] = stage
	return nil
}

// AddEdge connects from to to unconditionally.
func (g *Graph) AddEdge(from, to string) {
	g.edges[from] = to
}

// AddConditionalEdge routes from through r.
func (g *Graph) AddConditionalEdge(from string, r Router) {
	g.routers[from] = r
}

// SetEntry sets the first node of a fresh run.
func (g *Graph) SetEntry(name string) {
	g.entry = name
}

// Entry returns the entry node.
func (g *Graph) Entry() string {
	return g.entry
}

// Node returns the stage registered as name.
func (g *Graph) Node(name string) (workflow.Stage, bool) {
	s, ok := g.nodes[name]
	return s, ok
}

// Validate checks that the entry exists, every node has one outgoing edge and
// every static edge points at a known node or End.
func (g *Graph) Validate() error {
	var errs []error
	if g.entry == "" {
		errs = append(errs, errors.New("entry point is not set"))
	} else if _, ok := g.nodes[g.entry]; !ok {
		errs = append(errs, fmt.Errorf("entry point %q is not a node", g.entry))
	}

	names := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		to, static := g.edges[name]
		_, conditional := g.routers[name]
		switch {
		case static && conditional:
			errs = append(errs, fmt.Errorf("node %q has both a static and a conditional edge", name))
		case !static && !conditional:
			errs = append(errs, fmt.Errorf("node %q has no outgoing edge", name))
		case static:
			if _, ok := g.nodes[to]; !ok && to != End {
				errs = append(errs, fmt.Errorf("edge %s -> %s: unknown node", name, to))
			}
		}
	}
	for from := range g.edges {
		if _, ok := g.nodes[from]; !ok {
			errs = append(errs, fmt.Errorf("edge from unknown node %q", from))
		}
	}
	for from := range g.routers {
		if _, ok := g.nodes[from]; !ok {
			errs = append(errs, fmt.Errorf("conditional edge from unknown node %q", from))
		}
	}
	return errors.Join(errs...)
}

// Next returns the node after from given the state from produced.
func (g *Graph) Next(from string, s workflow.State) (string, error) {
	if r, ok := g.routers[from]; ok {
		to := r(s)
		if _, known := g.nodes[to]; !known && to != End {
			return "", fmt.Errorf("router for %q returned unknown node %q", from, to)
		}
		return to, nil
	}
	if to, ok := g.edges[from]; ok {
		return to, nil
	}
	return "", fmt.Errorf("node %q has no outgoing edge", from)
}

// RouteAfterCoder loops the coder until the run is DONE.
func RouteAfterCoder(s workflow.State) string {
	if s.Done() {
		return End
	}
	return workflow.StageCoder
}

// DefaultGraph wires plan -> architect -> coder, with the coder looping on
// itself until DONE.
func DefaultGraph(planner, architect, coder workflow.Stage) (*Graph, error) {
	g := NewGraph()
	for _, s := range []workflow.Stage{planner, architect, coder} {
		if err := g.AddNode(s); err != nil {
			return nil, err
		}
	}
	g.SetEntry(planner.Name())
	g.AddEdge(planner.Name(), architect.Name())
	g.AddEdge(architect.Name(), coder.Name())
	g.AddConditionalEdge(coder.Name(), RouteAfterCoder)

	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// StartNode picks where a persisted run continues: the first stage whose
// output is missing, or End when the run is DONE.
func StartNode(s workflow.State) string {
	switch {
	case s.Done():
		return End
	case s.Plan == nil:
		return workflow.StagePlan
	case s.TaskPlan == nil:
		return workflow.StageArchitect
	default:
		return workflow.StageCoder
	}
}
