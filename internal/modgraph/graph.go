// Package modgraph tracks import relationships between modules. Modules are
// identified by name, not by object reference, so invalidation and cycle
// detection stay plain graph algorithms.
package modgraph

import (
	"sort"
	"sync"
)

// Cycle is one detected import cycle. From -> To is the edge that closed the
// cycle during traversal; diagnostics attach there, and dependency walks
// behave as if that edge were absent.
type Cycle struct {
	Path []string
	From string
	To   string
}

type Graph struct {
	mu sync.RWMutex

	// from -> ordered list of imported modules
	imports map[string][]string
	// to -> set of importers
	importedBy map[string]map[string]bool
}

func NewGraph() *Graph {
	return &Graph{
		imports:    make(map[string][]string),
		importedBy: make(map[string]map[string]bool),
	}
}

// SetImports replaces a module's outgoing edges. Targets need not be known
// modules yet; edges to not-yet-analyzed names keep AffectedBy correct when
// the target appears later.
func (g *Graph) SetImports(module string, imports []string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, old := range g.imports[module] {
		if set := g.importedBy[old]; set != nil {
			delete(set, module)
			if len(set) == 0 {
				delete(g.importedBy, old)
			}
		}
	}

	g.imports[module] = append([]string(nil), imports...)
	for _, to := range imports {
		if g.importedBy[to] == nil {
			g.importedBy[to] = make(map[string]bool)
		}
		g.importedBy[to][module] = true
	}
}

func (g *Graph) Remove(module string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, to := range g.imports[module] {
		if set := g.importedBy[to]; set != nil {
			delete(set, module)
			if len(set) == 0 {
				delete(g.importedBy, to)
			}
		}
	}
	delete(g.imports, module)
}

func (g *Graph) Imports(module string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.imports[module]...)
}

func (g *Graph) ImportedBy(module string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.importedBy[module]))
	for from := range g.importedBy[module] {
		out = append(out, from)
	}
	sort.Strings(out)
	return out
}

// AffectedBy returns the transitive closure of importers, including the
// module itself. This is the invalidation set when the module's content
// changes.
func (g *Graph) AffectedBy(module string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := map[string]bool{module: true}
	queue := []string{module}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for importer := range g.importedBy[current] {
			if !seen[importer] {
				seen[importer] = true
				queue = append(queue, importer)
			}
		}
	}

	out := make([]string, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// TopoOrder sorts the given modules so that imports come before importers.
// Cycle-closing edges are skipped, so the order is total even on a cyclic
// graph. Modules outside the input set are ignored.
func (g *Graph) TopoOrder(modules []string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	inSet := make(map[string]bool, len(modules))
	for _, m := range modules {
		inSet[m] = true
	}

	closing := g.closingEdgesLocked()

	var order []string
	state := make(map[string]int, len(modules)) // 0 unvisited, 1 visiting, 2 done
	var visit func(string)
	visit = func(m string) {
		if state[m] != 0 {
			return
		}
		state[m] = 1
		for _, dep := range g.imports[m] {
			if !inSet[dep] || closing[edge{m, dep}] {
				continue
			}
			if state[dep] == 1 {
				continue // residual cycle, skip
			}
			visit(dep)
		}
		state[m] = 2
		order = append(order, m)
	}

	sorted := append([]string(nil), modules...)
	sort.Strings(sorted)
	for _, m := range sorted {
		if inSet[m] {
			visit(m)
		}
	}
	return order
}

type edge struct{ from, to string }

// DetectCycles walks the graph depth-first with an on-stack marker and
// reports each cycle once, attributed to the edge that closed it. Roots are
// visited in sorted order so the attribution is deterministic.
func (g *Graph) DetectCycles() []Cycle {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.detectCyclesLocked()
}

func (g *Graph) detectCyclesLocked() []Cycle {
	var cycles []Cycle
	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	roots := make([]string, 0, len(g.imports))
	for m := range g.imports {
		roots = append(roots, m)
	}
	sort.Strings(roots)

	var walk func(current string, path []string)
	walk = func(current string, path []string) {
		visited[current] = true
		onStack[current] = true
		path = append(path, current)

		for _, next := range g.imports[current] {
			if onStack[next] {
				start := -1
				for i, m := range path {
					if m == next {
						start = i
						break
					}
				}
				if start >= 0 {
					cycle := make([]string, len(path)-start)
					copy(cycle, path[start:])
					cycles = append(cycles, Cycle{Path: cycle, From: current, To: next})
				}
				continue
			}
			if !visited[next] {
				walk(next, path)
			}
		}

		onStack[current] = false
	}

	for _, root := range roots {
		if !visited[root] {
			walk(root, nil)
		}
	}
	return cycles
}

func (g *Graph) closingEdgesLocked() map[edge]bool {
	closing := make(map[edge]bool)
	for _, c := range g.detectCyclesLocked() {
		closing[edge{c.From, c.To}] = true
	}
	return closing
}

// ClosesCycle reports whether importing `to` from `from` would be the edge
// that closes a cycle in the current graph.
func (g *Graph) ClosesCycle(from, to string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, c := range g.detectCyclesLocked() {
		if c.From == from && c.To == to {
			return true
		}
	}
	return false
}

func (g *Graph) ModuleCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.imports)
}
