package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/axon-sql/internal/graph"
	"github.com/Benny93/axon-sql/internal/storage"
	"github.com/Benny93/axon-sql/internal/template"
)

const (
	saveID = "callable:com.acme.OrderDao.save"
	findID = "query:com.acme.OrderMapper:findOrders"
)

const inlineMapper = `<mapper namespace="com.acme.OrderMapper">
  <sql id="cols">ID, STATUS</sql>
  <select id="byStatus">SELECT <include refid="cols"/> FROM ORDERS <where><if test="s != null">STATUS = #{s}</if></where></select>
  <select id="count">SELECT COUNT(*) FROM ${table}</select>
</mapper>`

func newTestStore(t *testing.T) *storage.MemoryBackend {
	t.Helper()
	ctx := context.Background()

	g := graph.New()
	g.AddArtifact(&graph.Artifact{ID: "artifact:OrderDao.java", Path: "src/OrderDao.java"})
	g.AddFact(&graph.SourceFact{
		ID: saveID, Kind: graph.FactCallable, ArtifactID: "artifact:OrderDao.java",
		QualifiedName: "com.acme.OrderDao.save", Name: "save",
	})
	g.AddFact(&graph.SourceFact{
		ID: findID, Kind: graph.FactQueryUnit, QualifiedName: "com.acme.OrderMapper.findOrders",
		StatementID: "findOrders", StatementKind: "select", Confidence: 0.82,
		SQL: "SELECT o.ID FROM ORDERS o JOIN CUSTOMERS c ON o.CUSTOMER_ID = c.ID",
	})
	g.AddEdge(&graph.Edge{ID: "e1", SrcID: saveID, DstID: findID, Kind: graph.EdgeCalls, Confidence: 0.9})
	g.AddEdge(&graph.Edge{ID: "e2", SrcID: saveID, Kind: graph.EdgeCalls, Confidence: 0.3, Target: "flush", Reason: graph.ReasonNoCandidate})
	g.AddEdge(&graph.Edge{ID: "e3", SrcID: findID, DstID: "table:ORDERS", Kind: graph.EdgeUsesTable, Confidence: 0.8})
	g.AddEdge(&graph.Edge{ID: "e4", SrcID: findID, DstID: "table:CUSTOMERS", Kind: graph.EdgeUsesTable, Confidence: 0.6})
	g.AddJoin(&graph.Join{
		ID: "j1", QueryFactID: findID, LeftTable: "ORDERS", LeftColumn: "CUSTOMER_ID",
		RightTable: "CUSTOMERS", RightColumn: "ID", InferredKey: true, Confidence: 0.85,
	})

	store := storage.NewMemoryBackend()
	require.NoError(t, store.Initialize("", false))
	require.NoError(t, store.BulkLoad(ctx, g))
	require.NoError(t, store.SetRunInfo(ctx, storage.RunInfo{
		RunID: "run-1", Root: "/repo", CompletedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), Stats: g.Stats(),
	}))
	return store
}

// connect starts the server on in-memory transports and returns a client session.
func connect(t *testing.T, store Store) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	srv := NewServer(store, template.DefaultOptions())
	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	_, err := srv.MCP().Connect(ctx, serverTransport, nil)
	require.NoError(t, err)

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return tc.Text, res.IsError
}

func TestServer_ListTools(t *testing.T) {
	t.Parallel()

	session := connect(t, newTestStore(t))
	res, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
		assert.NotEmpty(t, tool.Description)
		assert.NotNil(t, tool.InputSchema)
	}
	assert.ElementsMatch(t, []string{
		"axon_sql_edges", "axon_sql_unresolved", "axon_sql_joins",
		"axon_sql_search", "axon_sql_flatten", "axon_sql_stats",
	}, names)
}

func TestServer_Tools(t *testing.T) {
	t.Parallel()

	session := connect(t, newTestStore(t))

	tests := []struct {
		name     string
		tool     string
		args     map[string]any
		contains []string
		excludes []string
		isError  bool
	}{
		{
			name:     "EdgesBySource",
			tool:     "axon_sql_edges",
			args:     map[string]any{"src": findID},
			contains: []string{"Edges (2)", "table:ORDERS", "table:CUSTOMERS"},
		},
		{
			name:     "EdgesMinConfidence",
			tool:     "axon_sql_edges",
			args:     map[string]any{"kind": "uses_table", "min_confidence": 0.7},
			contains: []string{"Edges (1)", "table:ORDERS"},
			excludes: []string{"table:CUSTOMERS"},
		},
		{
			name:    "EdgesBadConfidence",
			tool:    "axon_sql_edges",
			args:    map[string]any{"min_confidence": 1.5},
			isError: true,
		},
		{
			name:     "Unresolved",
			tool:     "axon_sql_unresolved",
			args:     map[string]any{},
			contains: []string{"Unresolved edges (1)", "flush", "no_candidate"},
		},
		{
			name:     "JoinsByTable",
			tool:     "axon_sql_joins",
			args:     map[string]any{"table": "customers"},
			contains: []string{"Joins touching CUSTOMERS (1)", "ORDERS.CUSTOMER_ID = CUSTOMERS.ID", "key"},
		},
		{
			name:     "JoinsNoMatch",
			tool:     "axon_sql_joins",
			args:     map[string]any{"table": "INVOICES"},
			contains: []string{"(0)"},
		},
		{
			name:     "Search",
			tool:     "axon_sql_search",
			args:     map[string]any{"query": "save"},
			contains: []string{"com.acme.OrderDao.save", saveID},
		},
		{
			name:     "SearchNoResults",
			tool:     "axon_sql_search",
			args:     map[string]any{"query": "zzz"},
			contains: []string{"No results found"},
		},
		{
			name:    "SearchEmpty",
			tool:    "axon_sql_search",
			args:    map[string]any{"query": "  "},
			isError: true,
		},
		{
			name:     "FlattenStoredFact",
			tool:     "axon_sql_flatten",
			args:     map[string]any{"fact_id": findID},
			contains: []string{"com.acme.OrderMapper.findOrders", "JOIN CUSTOMERS", "0.82"},
		},
		{
			name:    "FlattenUnknownFact",
			tool:    "axon_sql_flatten",
			args:    map[string]any{"fact_id": saveID},
			isError: true,
		},
		{
			name:     "FlattenInlineStatement",
			tool:     "axon_sql_flatten",
			args:     map[string]any{"mapper": inlineMapper, "statement": "byStatus"},
			contains: []string{"SELECT ID, STATUS FROM ORDERS WHERE", "STATUS = :s", "dynamic", "Params: s"},
			excludes: []string{"count"},
		},
		{
			name:     "FlattenInlineBinds",
			tool:     "axon_sql_flatten",
			args:     map[string]any{"mapper": inlineMapper, "statement": "count", "binds": map[string]any{"table": "ORDERS"}},
			contains: []string{"SELECT COUNT(*) FROM ORDERS"},
		},
		{
			name:    "FlattenMissingStatement",
			tool:    "axon_sql_flatten",
			args:    map[string]any{"mapper": inlineMapper, "statement": "nope"},
			isError: true,
		},
		{
			name:    "FlattenNoInput",
			tool:    "axon_sql_flatten",
			args:    map[string]any{},
			isError: true,
		},
		{
			name:     "Stats",
			tool:     "axon_sql_stats",
			args:     map[string]any{},
			contains: []string{"run-1", "/repo", "facts: 2", "edges: 4", "unresolved ratio: 25.0%", "uses_table: 2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			text, isError := callTool(t, session, tt.tool, tt.args)
			assert.Equal(t, tt.isError, isError, text)
			for _, want := range tt.contains {
				assert.Contains(t, text, want)
			}
			for _, unwanted := range tt.excludes {
				assert.NotContains(t, text, unwanted)
			}
		})
	}
}

func TestServer_OverviewResource(t *testing.T) {
	t.Parallel()

	session := connect(t, newTestStore(t))
	res, err := session.ReadResource(context.Background(), &mcp.ReadResourceParams{URI: overviewURI})
	require.NoError(t, err)
	require.Len(t, res.Contents, 1)
	assert.Contains(t, res.Contents[0].Text, "# axon-sql overview")
	assert.Contains(t, res.Contents[0].Text, "joins: 1")
}

func TestServer_StoreNotInitialized(t *testing.T) {
	t.Parallel()

	session := connect(t, storage.NewMemoryBackend())
	text, isError := callTool(t, session, "axon_sql_edges", map[string]any{})
	assert.True(t, isError)
	assert.Contains(t, text, storage.ErrNotInitialized.Error())
}

func TestUnresolvedRatio(t *testing.T) {
	t.Parallel()

	assert.Zero(t, UnresolvedRatio(map[string]int{}))
	assert.InDelta(t, 0.5, UnresolvedRatio(map[string]int{"edges": 4, "unresolved": 2}), 1e-9)
}
