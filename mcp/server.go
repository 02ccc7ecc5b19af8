// Package mcp provides the MCP (Model Context Protocol) server for axon-sql.
//
// The tools expose the persisted graph of the last analysis run: resolved and
// unresolved edges, joins, fact search, statistics, and on-demand template
// flattening.
package mcp

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Benny93/axon-sql/internal/graph"
	"github.com/Benny93/axon-sql/internal/storage"
	"github.com/Benny93/axon-sql/internal/template"
)

// Version is reported to clients during initialization.
var Version = "0.1.0"

const (
	defaultLimit = 50
	overviewURI  = "axon-sql://overview"
)

// Store is the read side of storage.StorageBackend used by the tools.
type Store interface {
	GetRunInfo(ctx context.Context) (*storage.RunInfo, error)
	GetFact(ctx context.Context, id string) (*graph.SourceFact, error)
	GetEdges(ctx context.Context, f storage.EdgeFilter) ([]*graph.Edge, error)
	GetJoins(ctx context.Context, table string) ([]*graph.Join, error)
	SearchFacts(ctx context.Context, query string, limit int) ([]storage.SearchResult, error)
	Stats(ctx context.Context) (map[string]int, error)
}

// Server represents the MCP server.
type Server struct {
	store    Store
	resolver *template.Resolver
	server   *mcp.Server
}

// NewServer creates a server over store. Flattening uses opts.
func NewServer(store Store, opts template.Options) *Server {
	s := &Server{
		store:    store,
		resolver: template.NewResolver(opts),
	}
	s.server = mcp.NewServer(&mcp.Implementation{
		Name:    "axon-sql",
		Version: Version,
	}, nil)

	s.registerTools()
	s.registerResources()
	return s
}

// MCP returns the underlying SDK server, for custom transports.
func (s *Server) MCP() *mcp.Server {
	return s.server
}

// Run serves over stdin and stdout until the client disconnects or ctx ends.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// EdgesInput selects edges.
type EdgesInput struct {
	Src           string  `json:"src,omitempty"`
	Dst           string  `json:"dst,omitempty"`
	Kind          string  `json:"kind,omitempty"`
	MinConfidence float64 `json:"min_confidence,omitempty"`
	Limit         int     `json:"limit,omitempty"`
}

// UnresolvedInput selects unresolved edges.
type UnresolvedInput struct {
	Kind  string `json:"kind,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// JoinsInput selects joins by table.
type JoinsInput struct {
	Table string `json:"table,omitempty"`
}

// SearchInput is a fact search.
type SearchInput struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// FlattenInput flattens a stored query unit or an inline mapper document.
type FlattenInput struct {
	FactID    string            `json:"fact_id,omitempty"`
	Mapper    string            `json:"mapper,omitempty"`
	Statement string            `json:"statement,omitempty"`
	Binds     map[string]string `json:"binds,omitempty"`
}

// Tools returns the tool definitions in registration order.
func Tools() []*mcp.Tool {
	str := func(desc string) *jsonschema.Schema {
		return &jsonschema.Schema{Type: "string", Description: desc}
	}
	integer := func(desc string) *jsonschema.Schema {
		return &jsonschema.Schema{Type: "integer", Description: desc}
	}
	kinds := "Edge kind: calls, includes, uses_table or uses_column"

	return []*mcp.Tool{
		{
			Name:        "axon_sql_edges",
			Description: "List resolved and unresolved edges by source, destination, kind and minimum confidence.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"src":            str("Source fact ID"),
					"dst":            str("Destination ID"),
					"kind":           str(kinds),
					"min_confidence": {Type: "number", Description: "Lower confidence bound in [0,1]"},
					"limit":          integer("Maximum number of edges"),
				},
			},
		},
		{
			Name:        "axon_sql_unresolved",
			Description: "List edges whose target could not be resolved, with the reason and the original target.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"kind":  str(kinds),
					"limit": integer("Maximum number of edges"),
				},
			},
		},
		{
			Name:        "axon_sql_joins",
			Description: "List column-equality joins, optionally only those touching a table.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"table": str("Table name, matched case-insensitively on either side"),
				},
			},
		},
		{
			Name:        "axon_sql_search",
			Description: "Search types, callables and query units by name.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"query": str("Search text"),
					"limit": integer("Maximum number of results"),
				},
				Required: []string{"query"},
			},
		},
		{
			Name:        "axon_sql_flatten",
			Description: "Return the flattened SQL of a stored query unit, or flatten a statement of an inline mapper document.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"fact_id":   str("Query unit fact ID"),
					"mapper":    str("Mapper XML document"),
					"statement": str("Statement id inside the mapper; all statements when empty"),
					"binds": {
						Type:                 "object",
						Description:          "Values for ${name} substitutions",
						AdditionalProperties: &jsonschema.Schema{Type: "string"},
					},
				},
			},
		},
		{
			Name:        "axon_sql_stats",
			Description: "Show record counts and the unresolved ratio of the last run.",
			InputSchema: &jsonschema.Schema{
				Type:       "object",
				Properties: map[string]*jsonschema.Schema{},
			},
		},
	}
}

func (s *Server) registerTools() {
	tools := Tools()
	mcp.AddTool(s.server, tools[0], s.handleEdges)
	mcp.AddTool(s.server, tools[1], s.handleUnresolved)
	mcp.AddTool(s.server, tools[2], s.handleJoins)
	mcp.AddTool(s.server, tools[3], s.handleSearch)
	mcp.AddTool(s.server, tools[4], s.handleFlatten)
	mcp.AddTool(s.server, tools[5], s.handleStats)
}

func (s *Server) registerResources() {
	s.server.AddResource(&mcp.Resource{
		URI:         overviewURI,
		Name:        "overview",
		Description: "Statistics of the last analysis run",
		MIMEType:    "text/markdown",
	}, func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		text, err := s.overview(ctx)
		if err != nil {
			return nil, err
		}
		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{{URI: overviewURI, MIMEType: "text/markdown", Text: text}},
		}, nil
	})
}

// Tool handlers

func (s *Server) handleEdges(ctx context.Context, _ *mcp.CallToolRequest, in EdgesInput) (*mcp.CallToolResult, any, error) {
	if in.MinConfidence < 0 || in.MinConfidence > 1 {
		return toolError("min_confidence must be in [0,1], got %.2f", in.MinConfidence), nil, nil
	}
	edges, err := s.store.GetEdges(ctx, storage.EdgeFilter{
		Kind:          graph.EdgeKind(in.Kind),
		SrcID:         in.Src,
		DstID:         in.Dst,
		MinConfidence: in.MinConfidence,
		Limit:         limitOr(in.Limit),
	})
	if err != nil {
		return toolError("Failed to load edges: %v", err), nil, nil
	}
	return toolText(formatEdges("Edges", edges)), nil, nil
}

func (s *Server) handleUnresolved(ctx context.Context, _ *mcp.CallToolRequest, in UnresolvedInput) (*mcp.CallToolResult, any, error) {
	edges, err := s.store.GetEdges(ctx, storage.EdgeFilter{
		Kind:           graph.EdgeKind(in.Kind),
		UnresolvedOnly: true,
		Limit:          limitOr(in.Limit),
	})
	if err != nil {
		return toolError("Failed to load edges: %v", err), nil, nil
	}
	return toolText(formatEdges("Unresolved edges", edges)), nil, nil
}

func (s *Server) handleJoins(ctx context.Context, _ *mcp.CallToolRequest, in JoinsInput) (*mcp.CallToolResult, any, error) {
	joins, err := s.store.GetJoins(ctx, in.Table)
	if err != nil {
		return toolError("Failed to load joins: %v", err), nil, nil
	}
	return toolText(formatJoins(in.Table, joins)), nil, nil
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(in.Query) == "" {
		return toolError("query is required"), nil, nil
	}
	results, err := s.store.SearchFacts(ctx, in.Query, limitOr(in.Limit))
	if err != nil {
		return toolError("Search failed: %v", err), nil, nil
	}
	return toolText(formatSearchResults(in.Query, results)), nil, nil
}

func (s *Server) handleFlatten(ctx context.Context, _ *mcp.CallToolRequest, in FlattenInput) (*mcp.CallToolResult, any, error) {
	switch {
	case in.Mapper != "":
		return s.flattenMapper(in)
	case in.FactID != "":
		f, err := s.store.GetFact(ctx, in.FactID)
		if err != nil {
			return toolError("Failed to load fact: %v", err), nil, nil
		}
		if f == nil || f.Kind != graph.FactQueryUnit {
			return toolError("No query unit with ID %s", in.FactID), nil, nil
		}
		return toolText(fmt.Sprintf("## %s\n\n```sql\n%s\n```\n\nConfidence: %.2f\n", f.QualifiedName, f.SQL, f.Confidence)), nil, nil
	default:
		return toolError("Either fact_id or mapper is required"), nil, nil
	}
}

func (s *Server) flattenMapper(in FlattenInput) (*mcp.CallToolResult, any, error) {
	m := template.ParseMapper([]byte(in.Mapper))
	results, _ := s.resolver.ResolveMapper(m, in.Binds)
	if in.Statement != "" {
		results = slices.DeleteFunc(results, func(r template.StatementResult) bool {
			return r.ID != in.Statement
		})
		if len(results) == 0 {
			return toolError("Statement %q not found in mapper %q", in.Statement, m.Namespace), nil, nil
		}
	}

	var sb strings.Builder
	for _, r := range results {
		sb.WriteString(formatStatement(r))
	}
	if m.ParseErr != nil {
		fmt.Fprintf(&sb, "Parse problem: %v\n", m.ParseErr)
	}
	return toolText(sb.String()), nil, nil
}

func (s *Server) handleStats(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
	text, err := s.overview(ctx)
	if err != nil {
		return toolError("Failed to load stats: %v", err), nil, nil
	}
	return toolText(text), nil, nil
}

func (s *Server) overview(ctx context.Context) (string, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return "", err
	}
	info, err := s.store.GetRunInfo(ctx)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("# axon-sql overview\n\n")
	if info != nil {
		fmt.Fprintf(&sb, "**Run:** %s\n", info.RunID)
		fmt.Fprintf(&sb, "**Root:** %s\n", info.Root)
		fmt.Fprintf(&sb, "**Completed:** %s\n\n", info.CompletedAt.Format("2006-01-02 15:04:05"))
	}
	for _, key := range []string{"artifacts", "facts", "edges", "joins", "unresolved"} {
		fmt.Fprintf(&sb, "- %s: %d\n", key, stats[key])
	}
	fmt.Fprintf(&sb, "- unresolved ratio: %.1f%%\n", UnresolvedRatio(stats)*100)

	var kinds []string
	for key := range stats {
		if strings.HasPrefix(key, "edges:") {
			kinds = append(kinds, key)
		}
	}
	if len(kinds) > 0 {
		sort.Strings(kinds)
		sb.WriteString("\n## Edges by kind\n\n")
		for _, key := range kinds {
			fmt.Fprintf(&sb, "- %s: %d\n", strings.TrimPrefix(key, "edges:"), stats[key])
		}
	}
	return sb.String(), nil
}

// UnresolvedRatio is the share of unresolved edges in stats.
func UnresolvedRatio(stats map[string]int) float64 {
	if stats["edges"] == 0 {
		return 0
	}
	return float64(stats["unresolved"]) / float64(stats["edges"])
}

// Formatting

func formatEdges(title string, edges []*graph.Edge) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## %s (%d)\n\n", title, len(edges))
	if len(edges) == 0 {
		sb.WriteString("No edges found.\n")
		return sb.String()
	}
	for _, e := range edges {
		if e.IsResolved() {
			fmt.Fprintf(&sb, "- %s -[%s %.2f]-> %s\n", e.SrcID, e.Kind, e.Confidence, e.DstID)
			continue
		}
		fmt.Fprintf(&sb, "- %s -[%s %.2f]-> ? %s (%s)\n", e.SrcID, e.Kind, e.Confidence, e.Target, e.Reason)
	}
	return sb.String()
}

func formatJoins(table string, joins []*graph.Join) string {
	var sb strings.Builder
	if table != "" {
		fmt.Fprintf(&sb, "## Joins touching %s (%d)\n\n", strings.ToUpper(table), len(joins))
	} else {
		fmt.Fprintf(&sb, "## Joins (%d)\n\n", len(joins))
	}
	for _, j := range joins {
		key := ""
		if j.InferredKey {
			key = " key"
		}
		fmt.Fprintf(&sb, "- %s.%s = %s.%s (%.2f%s) in %s\n",
			j.LeftTable, j.LeftColumn, j.RightTable, j.RightColumn, j.Confidence, key, j.QueryFactID)
	}
	return sb.String()
}

func formatSearchResults(query string, results []storage.SearchResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for '%s'", query)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Search Results for '%s'\n\n", query)
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. **%s** (%s)\n", i+1, r.QualifiedName, r.Kind)
		fmt.Fprintf(&sb, "   ID: %s\n", r.FactID)
		if r.Snippet != "" {
			fmt.Fprintf(&sb, "   %s\n", r.Snippet)
		}
	}
	return sb.String()
}

func formatStatement(r template.StatementResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## %s (%s)\n\n```sql\n%s\n```\n\n", r.ID, r.Kind, r.Text)
	fmt.Fprintf(&sb, "Confidence: %.2f", r.Confidence)
	if r.Dynamic {
		sb.WriteString(", dynamic")
	}
	if r.Degraded {
		sb.WriteString(", degraded")
	}
	sb.WriteString("\n")
	if len(r.Params) > 0 {
		fmt.Fprintf(&sb, "Params: %s\n", strings.Join(r.Params, ", "))
	}
	for _, m := range r.Markers {
		fmt.Fprintf(&sb, "Marker: %s\n", m)
	}
	sb.WriteString("\n")
	return sb.String()
}

// Helper functions

func limitOr(n int) int {
	if n <= 0 {
		return defaultLimit
	}
	return n
}

func toolText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func toolError(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}
