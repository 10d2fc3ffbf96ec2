package bom

import (
	"errors"
	"sort"
)

// ErrGraphCycle is returned by TopoOrder when the graph is not acyclic.
var ErrGraphCycle = errors.New("bom: recipe graph contains a cycle")

// Graph is the kit to component adjacency used for cycle checks and cost cascades.
type Graph struct {
	children map[int64][]Edge
	parents  map[int64][]int64
}

// NewGraph builds a graph from edges.
func NewGraph(edges []Edge) *Graph {
	g := &Graph{children: map[int64][]Edge{}, parents: map[int64][]int64{}}
	for _, e := range edges {
		g.add(e)
	}
	return g
}

func (g *Graph) add(e Edge) {
	g.children[e.KitID] = append(g.children[e.KitID], e)
	g.parents[e.ComponentID] = append(g.parents[e.ComponentID], e.KitID)
}

// Children returns the direct component edges of kitID.
func (g *Graph) Children(kitID int64) []Edge {
	return g.children[kitID]
}

// Replace swaps the outgoing edges of kitID.
func (g *Graph) Replace(kitID int64, edges []Edge) {
	for _, old := range g.children[kitID] {
		ps := g.parents[old.ComponentID]
		kept := ps[:0]
		for _, p := range ps {
			if p != kitID {
				kept = append(kept, p)
			}
		}
		if len(kept) == 0 {
			delete(g.parents, old.ComponentID)
		} else {
			g.parents[old.ComponentID] = kept
		}
	}
	delete(g.children, kitID)
	for _, e := range edges {
		e.KitID = kitID
		g.add(e)
	}
}

// FindCycle returns a path start -> ... -> start when start can reach itself, or nil.
func (g *Graph) FindCycle(start int64) []int64 {
	visited := map[int64]bool{}
	var path []int64
	var walk func(id int64) bool
	walk = func(id int64) bool {
		path = append(path, id)
		for _, e := range g.children[id] {
			if e.ComponentID == start {
				path = append(path, start)
				return true
			}
			if visited[e.ComponentID] {
				continue
			}
			visited[e.ComponentID] = true
			if walk(e.ComponentID) {
				return true
			}
		}
		path = path[:len(path)-1]
		return false
	}
	if walk(start) {
		return path
	}
	return nil
}

// Ancestors returns every kit that directly or transitively contains id.
func (g *Graph) Ancestors(id int64) []int64 {
	return collect(id, func(n int64) []int64 { return g.parents[n] })
}

// Descendants returns every item id reachable below id.
func (g *Graph) Descendants(id int64) []int64 {
	return collect(id, func(n int64) []int64 {
		out := make([]int64, 0, len(g.children[n]))
		for _, e := range g.children[n] {
			out = append(out, e.ComponentID)
		}
		return out
	})
}

// Kits returns every id with at least one component edge.
func (g *Graph) Kits() []int64 {
	out := make([]int64, 0, len(g.children))
	for id := range g.children {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// TopoOrder orders ids so every component precedes the kits that contain it.
// Only ids in the input set are returned.
func (g *Graph) TopoOrder(ids []int64) ([]int64, error) {
	in := make(map[int64]bool, len(ids))
	for _, id := range ids {
		in[id] = true
	}
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	const (
		unvisited = iota
		active
		done
	)
	state := map[int64]int{}
	order := make([]int64, 0, len(ids))
	var visit func(id int64) error
	visit = func(id int64) error {
		switch state[id] {
		case active:
			return ErrGraphCycle
		case done:
			return nil
		}
		state[id] = active
		for _, e := range g.children[id] {
			if err := visit(e.ComponentID); err != nil {
				return err
			}
		}
		state[id] = done
		if in[id] {
			order = append(order, id)
		}
		return nil
	}
	for _, id := range sorted {
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func collect(id int64, next func(int64) []int64) []int64 {
	seen := map[int64]bool{id: true}
	queue := []int64{id}
	var out []int64
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, m := range next(n) {
			if seen[m] {
				continue
			}
			seen[m] = true
			out = append(out, m)
			queue = append(queue, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
