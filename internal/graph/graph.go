package graph

import (
	"sort"
	"sync"
)

// Graph is the in-memory result of one analysis run: the input facts and
// artifacts plus the edges and joins derived from them.
//
// Facts, artifacts and joins are keyed by ID. Edges are keyed likewise and
// indexed by kind and by adjacency, so that lookups are O(result) rather
// than O(graph). Unresolved edges have no incoming entry.
type Graph struct {
	mu        sync.RWMutex
	facts     map[string]*SourceFact
	artifacts map[string]*Artifact
	edges     map[string]*Edge
	joins     map[string]*Join

	// Secondary indexes, kept in sync by AddFact/AddEdge.
	byKind     map[FactKind]map[string]*SourceFact
	byEdgeKind map[EdgeKind]map[string]*Edge
	outgoing   map[string]map[string]*Edge
	incoming   map[string]map[string]*Edge
	unresolved map[string]*Edge
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		facts:      make(map[string]*SourceFact),
		artifacts:  make(map[string]*Artifact),
		edges:      make(map[string]*Edge),
		joins:      make(map[string]*Join),
		byKind:     make(map[FactKind]map[string]*SourceFact),
		byEdgeKind: make(map[EdgeKind]map[string]*Edge),
		outgoing:   make(map[string]map[string]*Edge),
		incoming:   make(map[string]map[string]*Edge),
		unresolved: make(map[string]*Edge),
	}
}

// AddArtifact adds or replaces an artifact.
func (g *Graph) AddArtifact(a *Artifact) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.artifacts[a.ID] = a
}

// GetArtifact returns the artifact with the given ID, or nil.
func (g *Graph) GetArtifact(id string) *Artifact {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.artifacts[id]
}

// Artifacts returns all artifacts sorted by path.
func (g *Graph) Artifacts() []*Artifact {
	g.mu.RLock()
	defer g.mu.RUnlock()

	result := make([]*Artifact, 0, len(g.artifacts))
	for _, a := range g.artifacts {
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Path < result[j].Path })
	return result
}

// AddFact adds a fact, replacing any existing fact with the same ID.
func (g *Graph) AddFact(f *SourceFact) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if old, ok := g.facts[f.ID]; ok && old.Kind != f.Kind {
		delete(g.byKind[old.Kind], f.ID)
	}
	g.facts[f.ID] = f

	if g.byKind[f.Kind] == nil {
		g.byKind[f.Kind] = make(map[string]*SourceFact)
	}
	g.byKind[f.Kind][f.ID] = f
}

// GetFact returns the fact with the given ID, or nil if it does not exist.
func (g *Graph) GetFact(id string) *SourceFact {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.facts[id]
}

// FactsByKind returns all facts of the given kind sorted by ID.
func (g *Graph) FactsByKind(kind FactKind) []*SourceFact {
	g.mu.RLock()
	defer g.mu.RUnlock()

	facts := g.byKind[kind]
	result := make([]*SourceFact, 0, len(facts))
	for _, f := range facts {
		result = append(result, f)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Facts returns all facts sorted by ID.
func (g *Graph) Facts() []*SourceFact {
	g.mu.RLock()
	defer g.mu.RUnlock()

	result := make([]*SourceFact, 0, len(g.facts))
	for _, f := range g.facts {
		result = append(result, f)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// AddEdge adds an edge, replacing any existing edge with the same ID.
func (g *Graph) AddEdge(e *Edge) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if old, ok := g.edges[e.ID]; ok {
		g.unindexEdge(old)
	}
	g.edges[e.ID] = e

	if g.byEdgeKind[e.Kind] == nil {
		g.byEdgeKind[e.Kind] = make(map[string]*Edge)
	}
	g.byEdgeKind[e.Kind][e.ID] = e

	if g.outgoing[e.SrcID] == nil {
		g.outgoing[e.SrcID] = make(map[string]*Edge)
	}
	g.outgoing[e.SrcID][e.ID] = e

	if !e.IsResolved() {
		g.unresolved[e.ID] = e
		return
	}
	if g.incoming[e.DstID] == nil {
		g.incoming[e.DstID] = make(map[string]*Edge)
	}
	g.incoming[e.DstID][e.ID] = e
}

// GetEdge returns the edge with the given ID, or nil.
func (g *Graph) GetEdge(id string) *Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edges[id]
}

// Edges returns all edges sorted by ID.
func (g *Graph) Edges() []*Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedEdges(g.edges)
}

// EdgesByKind returns all edges of the given kind sorted by ID.
func (g *Graph) EdgesByKind(kind EdgeKind) []*Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedEdges(g.byEdgeKind[kind])
}

// Unresolved returns all edges without a destination sorted by ID.
func (g *Graph) Unresolved() []*Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedEdges(g.unresolved)
}

// GetOutgoing returns edges originating from the given ID.
// If kind is provided, only edges of that kind are returned.
func (g *Graph) GetOutgoing(id string, kind ...EdgeKind) []*Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return filterKind(g.outgoing[id], kind)
}

// GetIncoming returns resolved edges targeting the given ID.
// If kind is provided, only edges of that kind are returned.
func (g *Graph) GetIncoming(id string, kind ...EdgeKind) []*Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return filterKind(g.incoming[id], kind)
}

// AddJoin adds or replaces a join.
func (g *Graph) AddJoin(j *Join) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.joins[j.ID] = j
}

// Joins returns all joins sorted by ID.
func (g *Graph) Joins() []*Join {
	g.mu.RLock()
	defer g.mu.RUnlock()

	result := make([]*Join, 0, len(g.joins))
	for _, j := range g.joins {
		result = append(result, j)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Stats returns a summary of graph size.
func (g *Graph) Stats() map[string]int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	stats := map[string]int{
		"artifacts":  len(g.artifacts),
		"facts":      len(g.facts),
		"edges":      len(g.edges),
		"joins":      len(g.joins),
		"unresolved": len(g.unresolved),
	}
	for kind, edges := range g.byEdgeKind {
		stats["edges:"+string(kind)] = len(edges)
	}
	return stats
}

// unindexEdge removes an edge from the secondary indexes.
// Must be called with the write lock held.
func (g *Graph) unindexEdge(e *Edge) {
	delete(g.byEdgeKind[e.Kind], e.ID)
	delete(g.outgoing[e.SrcID], e.ID)
	delete(g.unresolved, e.ID)
	if e.IsResolved() {
		delete(g.incoming[e.DstID], e.ID)
	}
}

func filterKind(edges map[string]*Edge, kind []EdgeKind) []*Edge {
	if len(edges) == 0 {
		return nil
	}
	if len(kind) == 0 || kind[0] == "" {
		return sortedEdges(edges)
	}
	result := make([]*Edge, 0)
	for _, e := range edges {
		if e.Kind == kind[0] {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func sortedEdges(edges map[string]*Edge) []*Edge {
	result := make([]*Edge, 0, len(edges))
	for _, e := range edges {
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}
