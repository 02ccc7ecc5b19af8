package symbols

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/axon-sql/internal/graph"
)

func buildIndex(t *testing.T) *Index {
	t.Helper()
	b := NewBuilder()
	for _, a := range []graph.Artifact{
		{ID: "a1", Path: "src/com/acme/OrderDao.java"},
		{ID: "a2", Path: `web\WEB-INF\views\header.jsp`},
		{ID: "a3", Path: "web/admin/header.jsp"},
		{ID: "m1", Path: "mapper/OrderMapper.xml", Namespace: "com.acme.OrderMapper"},
	} {
		require.NoError(t, b.AddArtifact(a))
	}
	for _, f := range []graph.SourceFact{
		{ID: "t1", Kind: graph.FactType, ArtifactID: "a1", QualifiedName: "com.acme.OrderDao"},
		{ID: "c1", Kind: graph.FactCallable, ArtifactID: "a1", QualifiedName: "com.acme.OrderDao.save", Scope: "com.acme.OrderDao", ParamCount: 1},
		{ID: "c2", Kind: graph.FactCallable, ArtifactID: "a1", QualifiedName: "com.acme.OrderDao.save", Scope: "com.acme.OrderDao", ParamCount: 2},
		{ID: "c3", Kind: graph.FactCallable, ArtifactID: "a1", QualifiedName: "com.acme.util.Log.info", Scope: "com.acme.util.Log"},
		{ID: "q1", Kind: graph.FactQueryUnit, ArtifactID: "m1", QualifiedName: "com.acme.OrderMapper.cols", Namespace: "com.acme.OrderMapper", StatementID: "cols"},
		{ID: "c1", Kind: graph.FactType, ArtifactID: "dup"},
	} {
		require.NoError(t, b.AddFact(f))
	}
	return b.Freeze()
}

func TestIndex_Lookups(t *testing.T) {
	t.Parallel()

	ix := buildIndex(t)

	t.Run("DuplicateIDIgnored", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, 5, ix.Len())
		f, ok := ix.Fact("c1")
		require.True(t, ok)
		assert.Equal(t, graph.FactCallable, f.Kind)
	})

	t.Run("Scope", func(t *testing.T) {
		t.Parallel()
		got := ix.CallablesInScope("com.acme.OrderDao", "save")
		require.Len(t, got, 2)
		assert.Equal(t, "c1", got[0].ID)
		assert.Equal(t, "c2", got[1].ID)
	})

	t.Run("Package", func(t *testing.T) {
		t.Parallel()
		assert.Len(t, ix.CallablesInPackage("com.acme", "save"), 2)
		assert.Len(t, ix.CallablesInPackage("com.acme.util", "info"), 1)
		assert.Empty(t, ix.CallablesInPackage("com.acme", "info"))
	})

	t.Run("Global", func(t *testing.T) {
		t.Parallel()
		assert.Len(t, ix.CallablesNamed("info"), 1)
		assert.Nil(t, ix.CallablesNamed("missing"))
	})

	t.Run("QueryUnits", func(t *testing.T) {
		t.Parallel()
		assert.Len(t, ix.QueryUnit("com.acme.OrderMapper", "cols"), 1)
		assert.Len(t, ix.QueryUnitInArtifact("m1", "cols"), 1)
		assert.Empty(t, ix.QueryUnit("other", "cols"))
	})

	t.Run("ByArtifact", func(t *testing.T) {
		t.Parallel()
		assert.Len(t, ix.ByArtifact("a1"), 4)
		assert.Len(t, ix.ByQualifiedName("com.acme.OrderDao.save"), 2)
	})
}

func TestIndex_ArtifactsMatching(t *testing.T) {
	t.Parallel()

	ix := buildIndex(t)

	tests := []struct {
		name   string
		target string
		want   []string
	}{
		{"Exact", "mapper/OrderMapper.xml", []string{"m1"}},
		{"Suffix", "OrderDao.java", []string{"a1"}},
		{"BackslashNormalized", `views\header.jsp`, []string{"a2"}},
		{"Ambiguous", "header.jsp", []string{"a2", "a3"}},
		{"ParentSegments", "../views/header.jsp", []string{"a2"}},
		{"PartialNameIsNotSuffix", "Mapper.xml", nil},
		{"Empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var ids []string
			for _, a := range ix.ArtifactsMatching(tt.target) {
				ids = append(ids, a.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestBuilder_Frozen(t *testing.T) {
	t.Parallel()

	b := NewBuilder()
	b.Freeze()

	assert.ErrorIs(t, b.AddFact(graph.SourceFact{ID: "x"}), ErrFrozen)
	assert.ErrorIs(t, b.AddArtifact(graph.Artifact{ID: "x"}), ErrFrozen)
}
