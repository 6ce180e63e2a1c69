// Package graph runs small state machines over a shared state value with
// conditional routing, nested subgraphs and resumable interrupts.
//
// Nodes mutate *S in place. Before each node runs the state is snapshotted
// as JSON; when a node interrupts, the snapshot taken before the innermost
// interrupting node is checkpointed together with the path of node names
// leading to it. Resuming re-runs that node with the answer available
// through Interrupt.
package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// End is the terminal pseudo-node.
const End = "__end__"

const defaultMaxSteps = 50

var (
	ErrStepLimit          = errors.New("graph step limit exceeded")
	ErrNoPendingInterrupt = errors.New("no pending interrupt")
)

var tracer = otel.Tracer("github.com/gaddyh/tami2-ai-sub000/internal/graph")

// NodeFunc is one step. It mutates s and returns an error to abort the run,
// or the error from Interrupt/Suspend to pause it.
type NodeFunc[S any] func(ctx context.Context, s *S) error

// RouteFunc picks the next node from the state.
type RouteFunc[S any] func(s *S) string

type route[S any] struct {
	fn      RouteFunc[S]
	targets map[string]bool
}

// Graph is a named set of nodes and transitions. Build it once, then
// Compile it; a Graph is not safe for concurrent mutation.
type Graph[S any] struct {
	name     string
	entry    string
	nodes    map[string]NodeFunc[S]
	order    []string
	edges    map[string]string
	routes   map[string]route[S]
	maxSteps int
}

func New[S any](name string) *Graph[S] {
	return &Graph[S]{
		name:     name,
		nodes:    make(map[string]NodeFunc[S]),
		edges:    make(map[string]string),
		routes:   make(map[string]route[S]),
		maxSteps: defaultMaxSteps,
	}
}

func (g *Graph[S]) Name() string { return g.name }

// AddNode registers fn under name. The first node added is the entry
// unless SetEntry says otherwise.
func (g *Graph[S]) AddNode(name string, fn NodeFunc[S]) *Graph[S] {
	if _, dup := g.nodes[name]; !dup {
		g.order = append(g.order, name)
	}
	g.nodes[name] = fn
	if g.entry == "" {
		g.entry = name
	}
	return g
}

// AddSubgraph embeds sub as a single node. Interrupts raised inside sub
// resume inside sub.
func (g *Graph[S]) AddSubgraph(name string, sub *Graph[S]) *Graph[S] {
	return g.AddNode(name, func(ctx context.Context, s *S) error {
		return sub.run(ctx, s)
	})
}

func (g *Graph[S]) SetEntry(name string) *Graph[S] {
	g.entry = name
	return g
}

// SetMaxSteps bounds the number of node executions per run.
func (g *Graph[S]) SetMaxSteps(n int) *Graph[S] {
	if n > 0 {
		g.maxSteps = n
	}
	return g
}

// AddEdge adds an unconditional transition.
func (g *Graph[S]) AddEdge(from, to string) *Graph[S] {
	g.edges[from] = to
	return g
}

// AddRoute adds a conditional transition. targets lists every node fn may
// return; Validate and the runtime reject anything else.
func (g *Graph[S]) AddRoute(from string, fn RouteFunc[S], targets ...string) *Graph[S] {
	set := make(map[string]bool, len(targets))
	for _, t := range targets {
		set[t] = true
	}
	g.routes[from] = route[S]{fn: fn, targets: set}
	return g
}

// Validate checks that every transition points at a known node.
func (g *Graph[S]) Validate() error {
	if g.entry == "" {
		return fmt.Errorf("graph %s: no entry node", g.name)
	}
	if _, ok := g.nodes[g.entry]; !ok {
		return fmt.Errorf("graph %s: unknown entry %q", g.name, g.entry)
	}
	known := func(n string) bool {
		_, ok := g.nodes[n]
		return ok || n == End
	}
	for _, name := range g.order {
		_, hasEdge := g.edges[name]
		r, hasRoute := g.routes[name]
		if hasEdge && hasRoute {
			return fmt.Errorf("graph %s: node %q has both an edge and a route", g.name, name)
		}
		if !hasEdge && !hasRoute {
			return fmt.Errorf("graph %s: node %q has no outgoing transition", g.name, name)
		}
		if hasEdge && !known(g.edges[name]) {
			return fmt.Errorf("graph %s: edge %s -> unknown %q", g.name, name, g.edges[name])
		}
		for t := range r.targets {
			if !known(t) {
				return fmt.Errorf("graph %s: route %s -> unknown %q", g.name, name, t)
			}
		}
	}
	return nil
}

func (g *Graph[S]) next(node string, s *S) (string, error) {
	if to, ok := g.edges[node]; ok {
		return to, nil
	}
	r, ok := g.routes[node]
	if !ok {
		return "", fmt.Errorf("graph %s: node %q has no outgoing transition", g.name, node)
	}
	to := r.fn(s)
	if len(r.targets) > 0 && !r.targets[to] {
		return "", fmt.Errorf("graph %s: route from %q returned undeclared %q", g.name, node, to)
	}
	return to, nil
}

// run executes from the entry, or from the node named by a resume cursor
// in ctx.
func (g *Graph[S]) run(ctx context.Context, s *S) error {
	node := g.entry
	cur := cursorFrom(ctx)
	base := withoutCursor(ctx)
	if cur != nil && len(cur.path) > 0 {
		node = cur.path[0]
		if _, ok := g.nodes[node]; !ok {
			return fmt.Errorf("graph %s: resume at unknown node %q", g.name, node)
		}
	}

	for steps := 0; node != End; steps++ {
		if steps >= g.maxSteps {
			return fmt.Errorf("graph %s: %w after %d steps", g.name, ErrStepLimit, steps)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		nodeCtx := base
		if steps == 0 && cur != nil && len(cur.path) > 0 {
			nodeCtx = withCursor(base, &resumeCursor{path: cur.path[1:], answer: cur.answer})
		}

		snapshot, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("graph %s: snapshot before %s: %w", g.name, node, err)
		}

		spanCtx, span := tracer.Start(nodeCtx, g.name+"."+node)
		span.SetAttributes(attribute.String("graph.node", node))
		err = g.nodes[node](spanCtx, s)
		span.End()

		if err != nil {
			var intr *Interrupted
			if errors.As(err, &intr) {
				if intr.state == nil {
					intr.state = snapshot
				}
				intr.Path = append([]string{node}, intr.Path...)
				return intr
			}
			return fmt.Errorf("%s.%s: %w", g.name, node, err)
		}

		if node, err = g.next(node, s); err != nil {
			return err
		}
	}
	return nil
}
