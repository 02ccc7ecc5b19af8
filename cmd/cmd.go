// Package cmd provides CLI command implementations for axon-sql.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"

	"github.com/Benny93/axon-sql/internal/config"
	"github.com/Benny93/axon-sql/internal/ingestion"
	"github.com/Benny93/axon-sql/internal/schema"
	"github.com/Benny93/axon-sql/internal/storage"
	"github.com/Benny93/axon-sql/mcp"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Globals are the flags shared by every command.
type Globals struct {
	Version kong.VersionFlag `help:"Show version information"`
	Verbose bool             `short:"v" help:"Enable verbose output"`
	Quiet   bool             `short:"q" help:"Suppress non-essential output"`

	out io.Writer `kong:"-"`
}

func (g *Globals) stdout() io.Writer {
	if g.out == nil {
		return os.Stdout
	}
	return g.out
}

// logger builds the run logger. Verbose logs at debug level; quiet only
// reports errors.
func (g *Globals) logger() *slog.Logger {
	level := slog.LevelInfo
	switch {
	case g.Verbose:
		level = slog.LevelDebug
	case g.Quiet:
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func (g *Globals) success(format string, args ...any) {
	color.New(color.FgGreen).Fprintf(g.stdout(), format+"\n", args...)
}

func (g *Globals) warn(format string, args ...any) {
	color.New(color.FgYellow).Fprintf(g.stdout(), format+"\n", args...)
}

// Project locates the analyzed root and its configuration.
type Project struct {
	Root   string `short:"C" default:"." help:"Project root"`
	Config string `help:"Config file (default <root>/.axon-sql.yaml)"`
}

// load resolves the root and reads the configuration.
func (p Project) load() (string, *config.Config, error) {
	root := p.Root
	if root == "" {
		root = "."
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return "", nil, fmt.Errorf("resolving path: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return "", nil, fmt.Errorf("accessing %s: %w", root, err)
	}
	if !info.IsDir() {
		return "", nil, fmt.Errorf("%s is not a directory", root)
	}

	cfg, err := config.Load(root, p.Config)
	if err != nil {
		return "", nil, fmt.Errorf("loading config: %w", err)
	}
	return root, cfg, nil
}

// openStore opens the configured backend. Read-only opens require an
// existing index.
func openStore(root string, cfg *config.Config, readOnly bool) (storage.StorageBackend, error) {
	if strings.EqualFold(cfg.Storage.Backend, "memory") {
		if readOnly {
			return nil, fmt.Errorf("storage backend %q keeps nothing between runs; configure badger to query an index", cfg.Storage.Backend)
		}
		store := storage.NewMemoryBackend()
		return store, store.Initialize("", false)
	}

	dbPath := cfg.Resolve(root, cfg.Storage.Path)
	if readOnly {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("no index found at %s. Run 'axon-sql analyze' first", root)
		}
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", filepath.Dir(dbPath), err)
	}

	store := storage.NewBadgerBackend()
	if err := store.Initialize(dbPath, readOnly); err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	return store, nil
}

// openSchema opens the schema database, importing the configured CSV first.
// It returns nil when neither the database nor a CSV exists.
func openSchema(ctx context.Context, root string, cfg *config.Config, logger *slog.Logger) (*schema.SQLiteStore, error) {
	dbPath := cfg.Resolve(root, cfg.Schema.Path)
	csvPath := cfg.Resolve(root, cfg.Schema.CSV)
	if csvPath == "" {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, nil
		}
	}

	store, err := schema.OpenSQLite(dbPath)
	if err != nil {
		return nil, err
	}
	if csvPath != "" {
		n, err := store.ImportCSV(ctx, csvPath)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("importing schema: %w", err)
		}
		logger.Debug("schema imported", "columns", n, "csv", csvPath)
	}
	return store, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// pipelineOptions wires storage, schema and logging into a pipeline run.
// The returned cleanup closes what was opened.
func (p Project) pipelineOptions(ctx context.Context, g *Globals) (string, ingestion.Options, func(), error) {
	root, cfg, err := p.load()
	if err != nil {
		return "", ingestion.Options{}, nil, err
	}
	logger := g.logger()

	store, err := openStore(root, cfg, false)
	if err != nil {
		return "", ingestion.Options{}, nil, err
	}
	sch, err := openSchema(ctx, root, cfg, logger)
	if err != nil {
		_ = store.Close()
		return "", ingestion.Options{}, nil, err
	}

	opts := ingestion.Options{Config: cfg, Store: store, Logger: logger}
	if sch != nil {
		opts.Schema = sch
	}
	cleanup := func() {
		if sch != nil {
			_ = sch.Close()
		}
		_ = store.Close()
	}
	return root, opts, cleanup, nil
}

// AnalyzeCmd runs the analysis pipeline and persists the graph.
type AnalyzeCmd struct {
	Project
}

// Run executes the analyze command.
func (c *AnalyzeCmd) Run(g *Globals) error {
	ctx, cancel := signalContext()
	defer cancel()

	root, opts, cleanup, err := c.pipelineOptions(ctx, g)
	if err != nil {
		return err
	}
	defer cleanup()

	if !g.Quiet {
		g.success("Analyzing %s", root)
		opts.Progress = func(phase string, pct float64) {
			fmt.Fprintf(os.Stderr, "\r\033[K%s (%.0f%%)", phase, pct*100)
		}
	}

	res, err := ingestion.RunPipeline(ctx, root, opts)
	if !g.Quiet {
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		if res != nil && errors.Is(err, context.Canceled) {
			g.warn("Analysis cancelled, %d hints left pending", len(res.Pending))
		}
		return fmt.Errorf("running pipeline: %w", err)
	}

	printSummary(g, res)
	return nil
}

func printSummary(g *Globals, res *ingestion.PipelineResult) {
	w := g.stdout()
	stats := res.Graph.Stats()
	g.success("✓ Analysis complete")
	fmt.Fprintf(w, "  Inputs:         %d (%d bundles, %d mappers)\n", res.Inputs, res.Bundles, res.Mappers)
	fmt.Fprintf(w, "  Query units:    %d\n", res.QueryUnits)
	fmt.Fprintf(w, "  Hints:          %d (%d resolved, %d unresolved)\n", res.Hints, res.Resolution.Resolved, res.Resolution.Unresolved)
	fmt.Fprintf(w, "  Edges:          %d\n", stats["edges"])
	fmt.Fprintf(w, "  Joins:          %d (%d inferred keys)\n", stats["joins"], res.Enhancer.Inferred)
	fmt.Fprintf(w, "  Duration:       %.2fs\n", res.DurationSecs)
	for _, skipped := range res.Skipped {
		g.warn("  Skipped %s", skipped)
	}
}

// WatchCmd re-analyzes whenever an input changes.
type WatchCmd struct {
	Project
}

// Run executes the watch command.
func (c *WatchCmd) Run(g *Globals) error {
	ctx, cancel := signalContext()
	defer cancel()

	root, opts, cleanup, err := c.pipelineOptions(ctx, g)
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := ingestion.RunPipeline(ctx, root, opts)
	if err != nil {
		return fmt.Errorf("running pipeline: %w", err)
	}
	printSummary(g, res)

	fmt.Fprintf(g.stdout(), "Watching %s for changes (Ctrl+C to stop)\n", root)
	w := ingestion.NewWatcher(root, opts, func(res *ingestion.PipelineResult, err error) {
		if err == nil {
			printSummary(g, res)
		}
	})
	if err := w.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("watch error: %w", err)
	}
	fmt.Fprintln(g.stdout(), "Watch mode stopped.")
	return nil
}

// MCPCmd starts the MCP server over stdio.
type MCPCmd struct {
	Project
	Watch bool `short:"w" help:"Re-analyze on change while serving"`
}

// Run executes the mcp command.
func (c *MCPCmd) Run(g *Globals) error {
	ctx, cancel := signalContext()
	defer cancel()

	if !c.Watch {
		root, cfg, err := c.load()
		if err != nil {
			return err
		}
		store, err := openStore(root, cfg, true)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		return mcp.NewServer(store, cfg.Template).Run(ctx)
	}

	// Watching needs a writable store, so the server shares it with the
	// watcher. stdout carries JSON-RPC only.
	quiet := *g
	quiet.Quiet = true
	root, opts, cleanup, err := c.pipelineOptions(ctx, &quiet)
	if err != nil {
		return err
	}
	defer cleanup()

	if _, err := ingestion.RunPipeline(ctx, root, opts); err != nil {
		return fmt.Errorf("running pipeline: %w", err)
	}
	go func() {
		if err := ingestion.NewWatcher(root, opts, nil).Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			opts.Logger.Error("watch failed", "error", err)
		}
	}()
	return mcp.NewServer(opts.Store, opts.Config.Template).Run(ctx)
}

// StatusCmd shows the stored run and its edge counts.
type StatusCmd struct {
	Project
}

// Run executes the status command.
func (c *StatusCmd) Run(g *Globals) error {
	root, cfg, err := c.load()
	if err != nil {
		return err
	}
	store, err := openStore(root, cfg, true)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	info, err := store.GetRunInfo(ctx)
	if err != nil {
		return fmt.Errorf("reading run info: %w", err)
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("reading stats: %w", err)
	}

	w := g.stdout()
	fmt.Fprintf(w, "Index status for %s\n", root)
	if info != nil {
		fmt.Fprintf(w, "  Run:            %s\n", info.RunID)
		fmt.Fprintf(w, "  Last analyzed:  %s\n", info.CompletedAt.Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(w, "  Artifacts:      %d\n", stats["artifacts"])
	fmt.Fprintf(w, "  Facts:          %d\n", stats["facts"])
	fmt.Fprintf(w, "  Edges:          %d\n", stats["edges"])
	for _, kind := range []string{"calls", "includes", "uses_table", "uses_column"} {
		if n := stats["edges:"+kind]; n > 0 {
			fmt.Fprintf(w, "    %-14s%d\n", kind+":", n)
		}
	}
	fmt.Fprintf(w, "  Joins:          %d\n", stats["joins"])
	fmt.Fprintf(w, "  Unresolved:     %d (%.1f%%)\n", stats["unresolved"], mcp.UnresolvedRatio(stats)*100)
	return nil
}

// CleanCmd deletes the index of a project.
type CleanCmd struct {
	Project
	Force bool `short:"f" help:"Skip confirmation"`
}

// Run executes the clean command.
func (c *CleanCmd) Run(g *Globals) error {
	root, _, err := c.load()
	if err != nil {
		return err
	}

	dataDir := filepath.Join(root, config.DataDir)
	if _, err := os.Stat(dataDir); os.IsNotExist(err) {
		return fmt.Errorf("no index found at %s. Nothing to clean", root)
	}

	if !c.Force {
		fmt.Fprintf(g.stdout(), "Delete index at %s? [y/N] ", dataDir)
		var response string
		_, _ = fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Fprintln(g.stdout(), "Aborted")
			return nil
		}
	}

	if err := os.RemoveAll(dataDir); err != nil {
		return fmt.Errorf("deleting index: %w", err)
	}
	g.success("Deleted %s", dataDir)
	return nil
}

// CLI is the root Kong command structure.
type CLI struct {
	Globals

	Analyze   AnalyzeCmd   `cmd:"" help:"Analyze mapper files and fact bundles into a graph"`
	Flatten   FlattenCmd   `cmd:"" help:"Flatten the statements of a mapper file"`
	Edges     EdgesCmd     `cmd:"" help:"List stored edges"`
	Joins     JoinsCmd     `cmd:"" help:"List stored joins"`
	Search    SearchCmd    `cmd:"" help:"Search facts by name"`
	Status    StatusCmd    `cmd:"" help:"Show index status for a project"`
	Schema    SchemaCmd    `cmd:"" help:"Manage schema metadata"`
	Validate  ValidateCmd  `cmd:"" help:"Compare confidence predictions with ground truth"`
	Calibrate CalibrateCmd `cmd:"" help:"Search confidence weights against ground truth"`
	Watch     WatchCmd     `cmd:"" help:"Watch mode with live re-analysis"`
	MCP       MCPCmd       `cmd:"" help:"Start MCP server (stdio transport)"`
	Clean     CleanCmd     `cmd:"" help:"Delete the index of a project"`
}

// NewCLI creates a new CLI instance.
func NewCLI() *CLI {
	return &CLI{}
}

func (c *CLI) parser() (*kong.Kong, error) {
	return kong.New(c,
		kong.Name("axon-sql"),
		kong.Description("Relationship graph for MyBatis mappers and application code"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{
			"version": Version,
		},
		kong.Bind(&c.Globals),
	)
}

// Execute parses command-line arguments and executes the selected command.
func (c *CLI) Execute(args []string) error {
	parser, err := c.parser()
	if err != nil {
		return err
	}
	kongCtx, err := parser.Parse(args)
	if err != nil {
		return err
	}
	return kongCtx.Run()
}
