package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/Benny93/axon-sql/internal/graph"
	"github.com/Benny93/axon-sql/internal/storage"
	"github.com/Benny93/axon-sql/internal/template"
)

// FlattenCmd prints the flattened statements of one mapper file. It works
// without an index.
type FlattenCmd struct {
	Project
	File      string            `arg:"" help:"Mapper XML file" type:"existingfile"`
	Statement string            `short:"s" help:"Only this statement or fragment id"`
	Bind      map[string]string `short:"b" help:"Bound value for a placeholder (name=value)"`
	JSON      bool              `help:"Print results as JSON"`
}

// Run executes the flatten command.
func (c *FlattenCmd) Run(g *Globals) error {
	_, cfg, err := c.load()
	if err != nil {
		return err
	}
	content, err := os.ReadFile(c.File)
	if err != nil {
		return fmt.Errorf("reading %s: %w", c.File, err)
	}
	if !template.IsMapper(content) {
		return fmt.Errorf("%s is not a mapper document", c.File)
	}

	m := template.ParseMapper(content)
	results, _ := template.NewResolver(cfg.Template).ResolveMapper(m, c.Bind)
	if c.Statement != "" {
		var kept []template.StatementResult
		for _, r := range results {
			if r.ID == c.Statement {
				kept = append(kept, r)
			}
		}
		if len(kept) == 0 {
			return fmt.Errorf("statement %q not found in %s", c.Statement, c.File)
		}
		results = kept
	}

	w := g.stdout()
	if c.JSON {
		type statement struct {
			ID   string `json:"id"`
			Kind string `json:"kind"`
			template.Result
		}
		out := make([]statement, 0, len(results))
		for _, r := range results {
			out = append(out, statement{ID: r.ID, Kind: r.Kind, Result: r.Result})
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if m.ParseErr != nil {
		g.warn("-- %s: %v", c.File, m.ParseErr)
	}
	for _, r := range results {
		flags := ""
		if r.Dynamic {
			flags += " dynamic"
		}
		if r.Degraded {
			flags += " degraded"
		}
		color.New(color.FgCyan).Fprintf(w, "-- %s.%s (%s) confidence %.2f%s\n", m.Namespace, r.ID, r.Kind, r.Confidence, flags)
		fmt.Fprintln(w, r.Text)
		for _, mk := range r.Markers {
			fmt.Fprintf(w, "-- %s\n", mk)
		}
		fmt.Fprintln(w)
	}
	return nil
}

// withStore opens the project index read-only for the duration of fn.
func (p Project) withStore(fn func(ctx context.Context, store storage.StorageBackend) error) error {
	root, cfg, err := p.load()
	if err != nil {
		return err
	}
	store, err := openStore(root, cfg, true)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	return fn(context.Background(), store)
}

// EdgesCmd lists stored edges.
type EdgesCmd struct {
	Project
	Src           string  `help:"Source fact ID"`
	Dst           string  `help:"Destination ID"`
	Kind          string  `short:"k" help:"Edge kind (calls, includes, uses_table, uses_column)"`
	MinConfidence float64 `help:"Lower confidence bound"`
	Unresolved    bool    `short:"u" help:"Only edges without a destination"`
	Limit         int     `short:"n" default:"100" help:"Maximum results"`
}

// Validate is called by kong after parsing.
func (c *EdgesCmd) Validate() error {
	switch graph.EdgeKind(c.Kind) {
	case "", graph.EdgeCalls, graph.EdgeIncludes, graph.EdgeUsesTable, graph.EdgeUsesColumn:
	default:
		return fmt.Errorf("--kind must be one of calls, includes, uses_table, uses_column, got %q", c.Kind)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("--min-confidence must be in [0,1], got %.2f", c.MinConfidence)
	}
	return nil
}

// Run executes the edges command.
func (c *EdgesCmd) Run(g *Globals) error {
	if err := c.Validate(); err != nil {
		return err
	}
	return c.withStore(func(ctx context.Context, store storage.StorageBackend) error {
		edges, err := store.GetEdges(ctx, storage.EdgeFilter{
			Kind:           graph.EdgeKind(c.Kind),
			SrcID:          c.Src,
			DstID:          c.Dst,
			UnresolvedOnly: c.Unresolved,
			MinConfidence:  c.MinConfidence,
			Limit:          c.Limit,
		})
		if err != nil {
			return fmt.Errorf("reading edges: %w", err)
		}
		printEdges(g, edges)
		return nil
	})
}

func printEdges(g *Globals, edges []*graph.Edge) {
	w := g.stdout()
	if len(edges) == 0 {
		fmt.Fprintln(w, "No edges found")
		return
	}
	for _, e := range edges {
		if e.IsResolved() {
			fmt.Fprintf(w, "%.2f  %-11s %s -> %s\n", e.Confidence, e.Kind, e.SrcID, e.DstID)
			continue
		}
		color.New(color.FgYellow).Fprintf(w, "%.2f  %-11s %s -> ? %s (%s)\n", e.Confidence, e.Kind, e.SrcID, e.Target, e.Reason)
	}
}

// JoinsCmd lists stored joins.
type JoinsCmd struct {
	Project
	Table string `arg:"" optional:"" help:"Only joins touching this table"`
}

// Run executes the joins command.
func (c *JoinsCmd) Run(g *Globals) error {
	return c.withStore(func(ctx context.Context, store storage.StorageBackend) error {
		joins, err := store.GetJoins(ctx, c.Table)
		if err != nil {
			return fmt.Errorf("reading joins: %w", err)
		}
		w := g.stdout()
		if len(joins) == 0 {
			fmt.Fprintln(w, "No joins found")
			return nil
		}
		for _, j := range joins {
			key := ""
			if j.InferredKey {
				key = " [key]"
			}
			fmt.Fprintf(w, "%.2f  %s.%s = %s.%s%s  %s\n",
				j.Confidence, j.LeftTable, j.LeftColumn, j.RightTable, j.RightColumn, key, j.QueryFactID)
		}
		return nil
	})
}

// SearchCmd searches facts by name.
type SearchCmd struct {
	Project
	Query string `arg:"" help:"Search query"`
	Limit int    `short:"n" default:"20" help:"Maximum results"`
}

// Run executes the search command.
func (c *SearchCmd) Run(g *Globals) error {
	if strings.TrimSpace(c.Query) == "" {
		return fmt.Errorf("query required. Usage: axon-sql search <query>")
	}
	return c.withStore(func(ctx context.Context, store storage.StorageBackend) error {
		results, err := store.SearchFacts(ctx, c.Query, c.Limit)
		if err != nil {
			return fmt.Errorf("searching: %w", err)
		}
		w := g.stdout()
		if len(results) == 0 {
			fmt.Fprintln(w, "No results found")
			return nil
		}
		for i, r := range results {
			fmt.Fprintf(w, "\n%d. %s (%s)\n", i+1, r.QualifiedName, r.Kind)
			fmt.Fprintf(w, "   ID:    %s\n", r.FactID)
			fmt.Fprintf(w, "   Score: %.3f\n", r.Score)
			if r.Snippet != "" {
				fmt.Fprintf(w, "   %s\n", r.Snippet)
			}
		}
		return nil
	})
}
