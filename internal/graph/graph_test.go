package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	g := New()

	require.NotNil(t, g)
	assert.Empty(t, g.Facts())
	assert.Empty(t, g.Edges())
	assert.Equal(t, 0, g.Stats()["facts"])
}

func TestGraph_AddFact(t *testing.T) {
	t.Parallel()

	t.Run("AddSingle", func(t *testing.T) {
		t.Parallel()
		g := New()
		fact := &SourceFact{ID: "c1", Kind: FactCallable, QualifiedName: "a.B.save"}

		g.AddFact(fact)

		assert.Equal(t, fact, g.GetFact("c1"))
		assert.Len(t, g.FactsByKind(FactCallable), 1)
	})

	t.Run("ReplaceWithDifferentKind", func(t *testing.T) {
		t.Parallel()
		g := New()

		g.AddFact(&SourceFact{ID: "x", Kind: FactCallable})
		g.AddFact(&SourceFact{ID: "x", Kind: FactType})

		assert.Empty(t, g.FactsByKind(FactCallable))
		assert.Len(t, g.FactsByKind(FactType), 1)
		assert.Len(t, g.Facts(), 1)
	})

	t.Run("GetMissing", func(t *testing.T) {
		t.Parallel()
		assert.Nil(t, New().GetFact("nope"))
	})
}

func TestGraph_AddEdge(t *testing.T) {
	t.Parallel()

	t.Run("ResolvedIndexedBothWays", func(t *testing.T) {
		t.Parallel()
		g := New()
		g.AddEdge(&Edge{ID: "e1", SrcID: "a", DstID: "b", Kind: EdgeCalls, Confidence: 0.9})

		assert.Len(t, g.GetOutgoing("a"), 1)
		assert.Len(t, g.GetIncoming("b"), 1)
		assert.Empty(t, g.Unresolved())
	})

	t.Run("UnresolvedHasNoIncoming", func(t *testing.T) {
		t.Parallel()
		g := New()
		g.AddEdge(&Edge{ID: "e1", SrcID: "a", Kind: EdgeCalls, Confidence: 0.3})

		assert.Len(t, g.GetOutgoing("a"), 1)
		assert.Len(t, g.Unresolved(), 1)
		assert.Equal(t, 1, g.Stats()["unresolved"])
	})

	t.Run("ReplaceMovesIndexes", func(t *testing.T) {
		t.Parallel()
		g := New()
		g.AddEdge(&Edge{ID: "e1", SrcID: "a", Kind: EdgeCalls, Confidence: 0.3})
		g.AddEdge(&Edge{ID: "e1", SrcID: "a", DstID: "b", Kind: EdgeIncludes, Confidence: 0.9})

		assert.Empty(t, g.Unresolved())
		assert.Empty(t, g.EdgesByKind(EdgeCalls))
		assert.Len(t, g.EdgesByKind(EdgeIncludes), 1)
		assert.Len(t, g.GetIncoming("b"), 1)
	})

	t.Run("FilterByKind", func(t *testing.T) {
		t.Parallel()
		g := New()
		g.AddEdge(&Edge{ID: "e1", SrcID: "q", DstID: "t1", Kind: EdgeUsesTable, Confidence: 0.8})
		g.AddEdge(&Edge{ID: "e2", SrcID: "q", DstID: "c1", Kind: EdgeUsesColumn, Confidence: 0.8})
		g.AddEdge(&Edge{ID: "e3", SrcID: "q", DstID: "t2", Kind: EdgeUsesTable, Confidence: 0.8})

		tables := g.GetOutgoing("q", EdgeUsesTable)
		require.Len(t, tables, 2)
		assert.Equal(t, "e1", tables[0].ID)
		assert.Equal(t, "e3", tables[1].ID)
		assert.Len(t, g.GetOutgoing("q"), 3)
		assert.Nil(t, g.GetOutgoing("missing"))
	})
}

func TestGraph_JoinsAndArtifacts(t *testing.T) {
	t.Parallel()

	g := New()
	g.AddArtifact(&Artifact{ID: "a2", Path: "z.xml"})
	g.AddArtifact(&Artifact{ID: "a1", Path: "a.xml"})
	g.AddJoin(&Join{ID: "j2"})
	g.AddJoin(&Join{ID: "j1"})

	arts := g.Artifacts()
	require.Len(t, arts, 2)
	assert.Equal(t, "a.xml", arts[0].Path)
	assert.Equal(t, "a1", g.GetArtifact("a1").ID)

	joins := g.Joins()
	require.Len(t, joins, 2)
	assert.Equal(t, "j1", joins[0].ID)

	stats := g.Stats()
	assert.Equal(t, 2, stats["artifacts"])
	assert.Equal(t, 2, stats["joins"])
}
