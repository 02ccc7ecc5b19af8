package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/Benny93/axon-sql/internal/graph"
)

// Key prefixes for different record types
const (
	prefixFact       = "f:"     // fact data
	prefixArtifact   = "a:"     // artifact data
	prefixEdge       = "e:"     // edge data
	prefixJoin       = "j:"     // join data
	prefixIncoming   = "i:in:"  // i:in:dst:kind:edgeID -> edgeID
	prefixOutgoing   = "i:out:" // i:out:src:kind:edgeID -> edgeID
	prefixUnresolved = "i:u:"   // i:u:edgeID -> edgeID
	keyRunInfo       = "m:run"
	keyStats         = "m:stats"
)

// BadgerBackend is a BadgerDB-backed storage implementation.
type BadgerBackend struct {
	mu    sync.RWMutex
	db    *badger.DB
	index *FactIndex
}

// NewBadgerBackend creates a new BadgerDB backend.
func NewBadgerBackend() *BadgerBackend {
	return &BadgerBackend{}
}

// Initialize opens or creates the BadgerDB database at the given path.
func (b *BadgerBackend) Initialize(path string, readOnly bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	opts := badger.DefaultOptions(path).
		WithNumCompactors(2).
		WithNumMemtables(5).
		WithLoggingLevel(badger.ERROR)

	if readOnly {
		opts = opts.WithReadOnly(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("opening badger DB: %w", err)
	}
	b.db = db
	b.index = NewFactIndex(db)
	return nil
}

// Close releases all resources held by the backend.
func (b *BadgerBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	b.index = nil
	return err
}

// BulkLoad replaces the entire store with the contents of the graph.
func (b *BadgerBackend) BulkLoad(ctx context.Context, g *graph.Graph) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		return ErrNotInitialized
	}
	if err := b.db.DropAll(); err != nil {
		return fmt.Errorf("clearing store: %w", err)
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()

	for _, a := range g.Artifacts() {
		if err := setJSON(wb, prefixArtifact+a.ID, a); err != nil {
			return fmt.Errorf("artifact %s: %w", a.ID, err)
		}
	}

	for _, f := range g.Facts() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := setJSON(wb, prefixFact+f.ID, f); err != nil {
			return fmt.Errorf("fact %s: %w", f.ID, err)
		}
		if err := b.index.writeBatch(wb, f); err != nil {
			return fmt.Errorf("indexing fact %s: %w", f.ID, err)
		}
	}

	for _, e := range g.Edges() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := setJSON(wb, prefixEdge+e.ID, e); err != nil {
			return fmt.Errorf("edge %s: %w", e.ID, err)
		}
		if err := indexEdge(wb, e); err != nil {
			return err
		}
	}

	for _, j := range g.Joins() {
		if err := setJSON(wb, prefixJoin+j.ID, j); err != nil {
			return fmt.Errorf("join %s: %w", j.ID, err)
		}
	}

	if err := setJSON(wb, keyStats, g.Stats()); err != nil {
		return fmt.Errorf("stats: %w", err)
	}

	return wb.Flush()
}

func setJSON(wb *badger.WriteBatch, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling: %w", err)
	}
	return wb.Set([]byte(key), data)
}

// indexEdge writes the adjacency entries of an edge.
func indexEdge(wb *badger.WriteBatch, e *graph.Edge) error {
	outKey := fmt.Sprintf("%s%s:%s:%s", prefixOutgoing, e.SrcID, e.Kind, e.ID)
	if err := wb.Set([]byte(outKey), []byte(e.ID)); err != nil {
		return fmt.Errorf("setting outgoing index: %w", err)
	}

	if !e.IsResolved() {
		if err := wb.Set([]byte(prefixUnresolved+e.ID), []byte(e.ID)); err != nil {
			return fmt.Errorf("setting unresolved index: %w", err)
		}
		return nil
	}

	inKey := fmt.Sprintf("%s%s:%s:%s", prefixIncoming, e.DstID, e.Kind, e.ID)
	if err := wb.Set([]byte(inKey), []byte(e.ID)); err != nil {
		return fmt.Errorf("setting incoming index: %w", err)
	}
	return nil
}

// SetRunInfo records run metadata.
func (b *BadgerBackend) SetRunInfo(ctx context.Context, info RunInfo) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		return ErrNotInitialized
	}
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshaling run info: %w", err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyRunInfo), data)
	})
}

// GetRunInfo returns the stored run metadata, or nil when absent.
func (b *BadgerBackend) GetRunInfo(ctx context.Context) (*RunInfo, error) {
	var info RunInfo
	found, err := b.getJSON(keyRunInfo, &info)
	if err != nil || !found {
		return nil, err
	}
	return &info, nil
}

// getJSON reads one record. It reports false when the key is absent.
func (b *BadgerBackend) getJSON(key string, v any) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.db == nil {
		return false, ErrNotInitialized
	}

	found := false
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", key, err)
	}
	return found, nil
}

// scanPrefix decodes every record under prefix with fn.
func (b *BadgerBackend) scanPrefix(prefix string, fn func(val []byte) error) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.db == nil {
		return ErrNotInitialized
	}
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}

// edgesByIndex resolves the edge IDs stored under an index prefix.
func (b *BadgerBackend) edgesByIndex(prefix string) ([]*graph.Edge, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.db == nil {
		return nil, ErrNotInitialized
	}

	var edges []*graph.Edge
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var edgeID string
			if err := it.Item().Value(func(val []byte) error {
				edgeID = string(val)
				return nil
			}); err != nil {
				return fmt.Errorf("reading edge ID: %w", err)
			}

			item, err := txn.Get([]byte(prefixEdge + edgeID))
			if err != nil {
				continue // dangling index entry
			}
			var e graph.Edge
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return fmt.Errorf("unmarshaling edge: %w", err)
			}
			edges = append(edges, &e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortEdges(edges)
	return edges, nil
}

// GetFact returns a fact by ID, or nil if not found.
func (b *BadgerBackend) GetFact(ctx context.Context, id string) (*graph.SourceFact, error) {
	var f graph.SourceFact
	found, err := b.getJSON(prefixFact+id, &f)
	if err != nil || !found {
		return nil, err
	}
	return &f, nil
}

// GetFactsByKind returns all facts of a kind sorted by ID.
func (b *BadgerBackend) GetFactsByKind(ctx context.Context, kind graph.FactKind) ([]*graph.SourceFact, error) {
	var facts []*graph.SourceFact
	err := b.scanPrefix(prefixFact, func(val []byte) error {
		var f graph.SourceFact
		if err := json.Unmarshal(val, &f); err != nil {
			return fmt.Errorf("unmarshaling fact: %w", err)
		}
		if f.Kind == kind {
			facts = append(facts, &f)
		}
		return nil
	})
	return facts, err
}

// GetArtifacts returns all artifacts sorted by path.
func (b *BadgerBackend) GetArtifacts(ctx context.Context) ([]*graph.Artifact, error) {
	var artifacts []*graph.Artifact
	err := b.scanPrefix(prefixArtifact, func(val []byte) error {
		var a graph.Artifact
		if err := json.Unmarshal(val, &a); err != nil {
			return fmt.Errorf("unmarshaling artifact: %w", err)
		}
		artifacts = append(artifacts, &a)
		return nil
	})
	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].Path < artifacts[j].Path })
	return artifacts, err
}

// GetEdges returns edges matching the filter sorted by ID.
func (b *BadgerBackend) GetEdges(ctx context.Context, f EdgeFilter) ([]*graph.Edge, error) {
	var (
		edges []*graph.Edge
		err   error
	)
	switch {
	case f.UnresolvedOnly:
		edges, err = b.edgesByIndex(prefixUnresolved)
	case f.SrcID != "":
		edges, err = b.edgesByIndex(adjacencyPrefix(prefixOutgoing, f.SrcID, f.Kind))
	case f.DstID != "":
		edges, err = b.edgesByIndex(adjacencyPrefix(prefixIncoming, f.DstID, f.Kind))
	default:
		err = b.scanPrefix(prefixEdge, func(val []byte) error {
			var e graph.Edge
			if err := json.Unmarshal(val, &e); err != nil {
				return fmt.Errorf("unmarshaling edge: %w", err)
			}
			edges = append(edges, &e)
			return nil
		})
	}
	if err != nil {
		return nil, err
	}
	// IDs may contain ':' so prefix scans can over-match; Match trims them.
	return applyFilter(edges, f), nil
}

// GetOutgoing returns edges leaving id, optionally of one kind.
func (b *BadgerBackend) GetOutgoing(ctx context.Context, id string, kind graph.EdgeKind) ([]*graph.Edge, error) {
	return b.GetEdges(ctx, EdgeFilter{SrcID: id, Kind: kind})
}

// GetIncoming returns resolved edges arriving at id, optionally of one kind.
func (b *BadgerBackend) GetIncoming(ctx context.Context, id string, kind graph.EdgeKind) ([]*graph.Edge, error) {
	return b.GetEdges(ctx, EdgeFilter{DstID: id, Kind: kind})
}

// GetJoins returns joins touching table, or all joins when table is empty.
func (b *BadgerBackend) GetJoins(ctx context.Context, table string) ([]*graph.Join, error) {
	var joins []*graph.Join
	err := b.scanPrefix(prefixJoin, func(val []byte) error {
		var j graph.Join
		if err := json.Unmarshal(val, &j); err != nil {
			return fmt.Errorf("unmarshaling join: %w", err)
		}
		if joinTouches(&j, table) {
			joins = append(joins, &j)
		}
		return nil
	})
	return joins, err
}

// SearchFacts finds facts by name tokens.
func (b *BadgerBackend) SearchFacts(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.index == nil {
		return nil, ErrNotInitialized
	}
	return b.index.Search(query, limit)
}

// Stats returns the record counts written by the last BulkLoad.
func (b *BadgerBackend) Stats(ctx context.Context) (map[string]int, error) {
	stats := make(map[string]int)
	if _, err := b.getJSON(keyStats, &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

func adjacencyPrefix(prefix, id string, kind graph.EdgeKind) string {
	if kind == "" {
		return prefix + id + ":"
	}
	return fmt.Sprintf("%s%s:%s:", prefix, id, kind)
}

func applyFilter(edges []*graph.Edge, f EdgeFilter) []*graph.Edge {
	result := make([]*graph.Edge, 0, len(edges))
	for _, e := range edges {
		if !f.Match(e) {
			continue
		}
		result = append(result, e)
		if f.Limit > 0 && len(result) >= f.Limit {
			break
		}
	}
	return result
}

func joinTouches(j *graph.Join, table string) bool {
	if table == "" {
		return true
	}
	return strings.EqualFold(j.LeftTable, table) || strings.EqualFold(j.RightTable, table)
}

func sortEdges(edges []*graph.Edge) {
	sort.Slice(edges, func(i, k int) bool { return edges[i].ID < edges[k].ID })
}
