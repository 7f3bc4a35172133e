package pipeline

import (
	"errors"
	"fmt"
)

// Errors returned during graph construction. They are structural: a run
// built on an invalid graph fails at validation time, before any step
// executes.
var (
	ErrCycleDetected = errors.New("cycle detected")
	ErrStepNotFound  = errors.New("step not found")
	ErrDuplicateStep = errors.New("duplicate step name")
	ErrEmptyGraph    = errors.New("graph has no steps")
)

// DependencyGraph is a validated DAG of step specs. Construction checks
// acyclicity eagerly; a graph that builds successfully always yields a
// usable batch sequence.
type DependencyGraph struct {
	specByID map[int]StepSpec
	idByName map[string]int
	specs    []StepSpec
	From     map[int][]int
	To       map[int][]int
	batches  [][]string
}

// NewDependencyGraph builds and validates a graph from the given specs.
func NewDependencyGraph(specs ...StepSpec) (*DependencyGraph, error) {
	if len(specs) == 0 {
		return nil, ErrEmptyGraph
	}

	graph := &DependencyGraph{
		specByID: make(map[int]StepSpec),
		idByName: make(map[string]int),
		From:     make(map[int][]int),
		To:       make(map[int][]int),
	}

	for i, spec := range specs {
		if _, ok := graph.idByName[spec.Name]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateStep, spec.Name)
		}
		graph.specByID[i] = spec
		graph.idByName[spec.Name] = i
		graph.specs = append(graph.specs, spec)
	}

	if err := graph.buildEdges(); err != nil {
		return nil, err
	}

	graph.batches = graph.computeBatches()
	return graph, nil
}

// buildEdges populates dependency edges and validates acyclicity.
func (g *DependencyGraph) buildEdges() error {
	for id, spec := range g.specs {
		for _, dep := range spec.Depends {
			depID, ok := g.idByName[dep]
			if !ok {
				return fmt.Errorf("%w: %q depends on %q", ErrStepNotFound, spec.Name, dep)
			}
			g.addEdge(depID, id)
		}
	}
	if g.hasCycle() {
		return ErrCycleDetected
	}
	return nil
}

func (g *DependencyGraph) addEdge(from, to int) {
	g.From[from] = append(g.From[from], to)
	g.To[to] = append(g.To[to], from)
}

func (g *DependencyGraph) hasCycle() bool {
	inDegrees := make(map[int]int)
	for id, depends := range g.To {
		inDegrees[id] = len(depends)
	}

	var q []int
	for id := range g.specs {
		if inDegrees[id] != 0 {
			continue
		}
		q = append(q, id)
	}

	visited := 0
	for len(q) > 0 {
		f := q[0]
		q = q[1:]
		visited++

		for _, to := range g.From[f] {
			inDegrees[to]--
			if inDegrees[to] == 0 {
				q = append(q, to)
			}
		}
	}

	return visited != len(g.specs)
}

// computeBatches layers the steps so that every dependency of a batch-N
// step lives in an earlier batch. Steps within one batch are mutually
// independent. Input order is preserved within a batch so schedules are
// deterministic.
func (g *DependencyGraph) computeBatches() [][]string {
	inDegrees := make(map[int]int)
	for id, depends := range g.To {
		inDegrees[id] = len(depends)
	}

	var frontier []int
	for id := range g.specs {
		if inDegrees[id] == 0 {
			frontier = append(frontier, id)
		}
	}

	var batches [][]string
	for len(frontier) > 0 {
		batch := make([]string, 0, len(frontier))
		var next []int
		for _, id := range frontier {
			batch = append(batch, g.specByID[id].Name)
			for _, to := range g.From[id] {
				inDegrees[to]--
				if inDegrees[to] == 0 {
					next = append(next, to)
				}
			}
		}
		batches = append(batches, batch)
		frontier = next
	}
	return batches
}

// Batches returns the topological layers of step names.
func (g *DependencyGraph) Batches() [][]string {
	return g.batches
}

// Steps returns the specs in input order.
func (g *DependencyGraph) Steps() []StepSpec {
	return g.specs
}

// StepNames returns the step names in input order.
func (g *DependencyGraph) StepNames() []string {
	names := make([]string, len(g.specs))
	for i, spec := range g.specs {
		names[i] = spec.Name
	}
	return names
}

// Spec returns the spec for the named step.
func (g *DependencyGraph) Spec(name string) (StepSpec, error) {
	id, ok := g.idByName[name]
	if !ok {
		return StepSpec{}, fmt.Errorf("%w: %s", ErrStepNotFound, name)
	}
	return g.specByID[id], nil
}

// Dependencies returns the declared upstream step names for the named step.
func (g *DependencyGraph) Dependencies(name string) []string {
	id, ok := g.idByName[name]
	if !ok {
		return nil
	}
	deps := make([]string, 0, len(g.To[id]))
	for _, from := range g.To[id] {
		deps = append(deps, g.specByID[from].Name)
	}
	return deps
}

// Len returns the number of steps.
func (g *DependencyGraph) Len() int {
	return len(g.specs)
}
