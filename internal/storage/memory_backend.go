package storage

import (
	"context"
	"sync"

	"github.com/Benny93/axon-sql/internal/graph"
)

// MemoryBackend is an in-memory implementation of StorageBackend for testing
// and for one-shot runs that do not persist.
type MemoryBackend struct {
	mu      sync.RWMutex
	g       *graph.Graph
	tokens  map[string]map[string]int // token -> factID -> frequency
	runInfo *RunInfo
	open    bool
}

// NewMemoryBackend creates a new in-memory storage backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		g:      graph.New(),
		tokens: make(map[string]map[string]int),
	}
}

// Initialize implements StorageBackend. The path is ignored.
func (m *MemoryBackend) Initialize(path string, readOnly bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = true
	return nil
}

// Close implements StorageBackend.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = false
	return nil
}

// BulkLoad implements StorageBackend. The graph is held by reference.
func (m *MemoryBackend) BulkLoad(ctx context.Context, g *graph.Graph) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open {
		return ErrNotInitialized
	}

	tokens := make(map[string]map[string]int)
	for _, f := range g.Facts() {
		if err := ctx.Err(); err != nil {
			return err
		}
		for token, freq := range factTokens(f) {
			if tokens[token] == nil {
				tokens[token] = make(map[string]int)
			}
			tokens[token][f.ID] = freq
		}
	}
	m.g = g
	m.tokens = tokens
	return nil
}

// graph returns the loaded graph or ErrNotInitialized.
func (m *MemoryBackend) graph() (*graph.Graph, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.open {
		return nil, ErrNotInitialized
	}
	return m.g, nil
}

// SetRunInfo implements StorageBackend.
func (m *MemoryBackend) SetRunInfo(ctx context.Context, info RunInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return ErrNotInitialized
	}
	m.runInfo = &info
	return nil
}

// GetRunInfo implements StorageBackend.
func (m *MemoryBackend) GetRunInfo(ctx context.Context) (*RunInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.open {
		return nil, ErrNotInitialized
	}
	return m.runInfo, nil
}

// GetFact implements StorageBackend.
func (m *MemoryBackend) GetFact(ctx context.Context, id string) (*graph.SourceFact, error) {
	g, err := m.graph()
	if err != nil {
		return nil, err
	}
	return g.GetFact(id), nil
}

// GetFactsByKind implements StorageBackend.
func (m *MemoryBackend) GetFactsByKind(ctx context.Context, kind graph.FactKind) ([]*graph.SourceFact, error) {
	g, err := m.graph()
	if err != nil {
		return nil, err
	}
	return g.FactsByKind(kind), nil
}

// GetArtifacts implements StorageBackend.
func (m *MemoryBackend) GetArtifacts(ctx context.Context) ([]*graph.Artifact, error) {
	g, err := m.graph()
	if err != nil {
		return nil, err
	}
	return g.Artifacts(), nil
}

// GetEdges implements StorageBackend.
func (m *MemoryBackend) GetEdges(ctx context.Context, f EdgeFilter) ([]*graph.Edge, error) {
	g, err := m.graph()
	if err != nil {
		return nil, err
	}

	var edges []*graph.Edge
	switch {
	case f.UnresolvedOnly:
		edges = g.Unresolved()
	case f.SrcID != "":
		edges = g.GetOutgoing(f.SrcID, f.Kind)
	case f.DstID != "":
		edges = g.GetIncoming(f.DstID, f.Kind)
	case f.Kind != "":
		edges = g.EdgesByKind(f.Kind)
	default:
		edges = g.Edges()
	}
	return applyFilter(edges, f), nil
}

// GetOutgoing implements StorageBackend.
func (m *MemoryBackend) GetOutgoing(ctx context.Context, id string, kind graph.EdgeKind) ([]*graph.Edge, error) {
	g, err := m.graph()
	if err != nil {
		return nil, err
	}
	return g.GetOutgoing(id, kind), nil
}

// GetIncoming implements StorageBackend.
func (m *MemoryBackend) GetIncoming(ctx context.Context, id string, kind graph.EdgeKind) ([]*graph.Edge, error) {
	g, err := m.graph()
	if err != nil {
		return nil, err
	}
	return g.GetIncoming(id, kind), nil
}

// GetJoins implements StorageBackend.
func (m *MemoryBackend) GetJoins(ctx context.Context, table string) ([]*graph.Join, error) {
	g, err := m.graph()
	if err != nil {
		return nil, err
	}

	var joins []*graph.Join
	for _, j := range g.Joins() {
		if joinTouches(j, table) {
			joins = append(joins, j)
		}
	}
	return joins, nil
}

// SearchFacts implements StorageBackend.
func (m *MemoryBackend) SearchFacts(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.open {
		return nil, ErrNotInitialized
	}

	scores := make(map[string]float64)
	for _, token := range tokenize(query) {
		for id, freq := range m.tokens[token] {
			scores[id] += float64(freq)
		}
	}

	meta := func(id string) (SearchResult, bool) {
		f := m.g.GetFact(id)
		if f == nil {
			return SearchResult{}, false
		}
		return factMeta(f), true
	}
	return rankResults(scores, meta, limit), nil
}

// Stats implements StorageBackend.
func (m *MemoryBackend) Stats(ctx context.Context) (map[string]int, error) {
	g, err := m.graph()
	if err != nil {
		return nil, err
	}
	return g.Stats(), nil
}
