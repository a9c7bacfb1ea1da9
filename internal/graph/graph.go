// Package graph builds the module dependency graph rooted at an entry file.
//
// A Graph is immutable once returned by the Builder; every rebuild produces a
// new Graph which replaces the previous one.
package graph

import (
	"path/filepath"
	"sort"
)

// Module is a single source file in the graph, identified by its canonical path.
type Module struct {
	ID          string
	Source      []byte
	Imports     []string
	Fingerprint string
	// Body is the transformed module ready to be wrapped by the bundle runtime
	Body []byte
	// Deps maps each import specifier to the canonical id it resolved to
	Deps map[string]string
}

// Dir is the directory specifiers in this module are resolved from.
func (m *Module) Dir() string {
	return filepath.Dir(m.ID)
}

// Edge is a directed import from one module to another.
type Edge struct {
	From      string
	To        string
	Specifier string
}

// Graph is the set of modules reachable from Entry.
type Graph struct {
	Entry   string
	modules map[string]*Module
	// order records first discovery in the depth first traversal
	order []string
	edges []Edge
}

// New creates an empty graph. Graphs are populated by the Builder and are not
// modified after being returned from it.
func New(entry string) *Graph {
	return &Graph{
		Entry:   entry,
		modules: make(map[string]*Module),
	}
}

// Module returns the module with the given id.
func (g *Graph) Module(id string) (*Module, bool) {
	m, ok := g.modules[id]
	return m, ok
}

// Has reports whether the module id is part of the graph
func (g *Graph) Has(id string) bool {
	_, ok := g.modules[id]
	return ok
}

// Len returns the number of modules
func (g *Graph) Len() int {
	return len(g.modules)
}

// Modules returns modules in discovery order.
func (g *Graph) Modules() []*Module {
	modules := make([]*Module, 0, len(g.order))
	for _, id := range g.order {
		modules = append(modules, g.modules[id])
	}
	return modules
}

// Edges returns all edges in discovery order.
func (g *Graph) Edges() []Edge {
	edges := make([]Edge, len(g.edges))
	copy(edges, g.edges)
	return edges
}

// Paths returns the sorted file paths of every module, used as the watch set.
func (g *Graph) Paths() []string {
	paths := make([]string, 0, len(g.modules))
	for id := range g.modules {
		paths = append(paths, id)
	}
	sort.Strings(paths)
	return paths
}

// AddModule registers m in the module table.
func (g *Graph) AddModule(m *Module) {
	g.modules[m.ID] = m
	g.order = append(g.order, m.ID)
}

// AddEdge records an import edge.
func (g *Graph) AddEdge(e Edge) {
	g.edges = append(g.edges, e)
}
