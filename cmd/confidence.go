package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/Benny93/axon-sql/internal/confidence"
	"github.com/Benny93/axon-sql/internal/config"
	"github.com/Benny93/axon-sql/internal/schema"
)

// SchemaCmd groups the schema metadata commands.
type SchemaCmd struct {
	Import SchemaImportCmd `cmd:"" help:"Import OWNER,TABLE_NAME,COLUMN_NAME,IS_PK rows from CSV"`
	Tables SchemaTablesCmd `cmd:"" help:"List declared tables and their key columns"`
}

// SchemaImportCmd imports schema metadata from CSV.
type SchemaImportCmd struct {
	Project
	File string `arg:"" help:"CSV file" type:"existingfile"`
}

// Run executes the schema import command.
func (c *SchemaImportCmd) Run(g *Globals) error {
	root, cfg, err := c.load()
	if err != nil {
		return err
	}
	store, err := schema.OpenSQLite(cfg.Resolve(root, cfg.Schema.Path))
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	n, err := store.ImportCSV(context.Background(), c.File)
	if err != nil {
		return err
	}
	g.success("Imported %d columns into %s", n, store.Path())
	return nil
}

// SchemaTablesCmd lists declared tables.
type SchemaTablesCmd struct {
	Project
}

// Run executes the schema tables command.
func (c *SchemaTablesCmd) Run(g *Globals) error {
	root, cfg, err := c.load()
	if err != nil {
		return err
	}
	store, err := schema.OpenSQLite(cfg.Resolve(root, cfg.Schema.Path))
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	tables, err := store.Tables(ctx)
	if err != nil {
		return err
	}
	w := g.stdout()
	if len(tables) == 0 {
		fmt.Fprintln(w, "No tables declared. Run 'axon-sql schema import <csv>' first")
		return nil
	}
	for _, t := range tables {
		cols, err := store.Columns(ctx, t)
		if err != nil {
			return err
		}
		var keys []string
		for _, col := range cols {
			if col.PrimaryKey {
				keys = append(keys, col.Name)
			}
		}
		fmt.Fprintf(w, "%s (%d columns) key %v\n", t.FullName(), len(cols), keys)
	}
	return nil
}

// ValidateCmd compares calculator predictions with ground truth.
type ValidateCmd struct {
	Project
	File string `arg:"" help:"Ground truth JSON file" type:"existingfile"`
}

// Run executes the validate command.
func (c *ValidateCmd) Run(g *Globals) error {
	_, cfg, err := c.load()
	if err != nil {
		return err
	}
	entries, err := confidence.LoadGroundTruth(c.File)
	if err != nil {
		return err
	}
	rep, err := confidence.Validate(cfg.Confidence.Calculator(), entries)
	if err != nil {
		return fmt.Errorf("validating: %w", err)
	}

	w := g.stdout()
	fmt.Fprintf(w, "## Confidence validation (%d entries)\n\n", rep.Count)
	fmt.Fprintf(w, "  Mean absolute error:    %.3f\n", rep.MeanAbsoluteError)
	fmt.Fprintf(w, "  Median absolute error:  %.3f\n", rep.MedianAbsoluteError)
	fmt.Fprintf(w, "  Std absolute error:     %.3f\n", rep.StdAbsoluteError)
	fmt.Fprintf(w, "  Mean relative error:    %.3f\n", rep.MeanRelativeError)
	fmt.Fprintf(w, "  Excellent/Good/Acceptable/Poor: %d/%d/%d/%d\n",
		rep.Buckets.Excellent, rep.Buckets.Good, rep.Buckets.Acceptable, rep.Buckets.Poor)

	parsers := make([]string, 0, len(rep.ByParser))
	for p := range rep.ByParser {
		parsers = append(parsers, p)
	}
	sort.Strings(parsers)
	fmt.Fprintln(w, "\nBy parser:")
	for _, p := range parsers {
		ps := rep.ByParser[p]
		fmt.Fprintf(w, "  %-12s %3d entries  MAE %.3f\n", p, ps.Count, ps.MeanAbsoluteError)
	}

	fmt.Fprintln(w, "\nWorst predictions:")
	for _, r := range rep.Worst {
		fmt.Fprintf(w, "  %s predicted %.2f expected %.2f (error %.2f)\n", r.ID, r.Predicted, r.Expected, r.AbsoluteError)
	}
	return nil
}

// CalibrateCmd sweeps confidence weights against ground truth.
type CalibrateCmd struct {
	Project
	File  string `arg:"" help:"Ground truth JSON file" type:"existingfile"`
	Apply bool   `help:"Write recommended weights to the config file"`
}

// Run executes the calibrate command.
func (c *CalibrateCmd) Run(g *Globals) error {
	root, cfg, err := c.load()
	if err != nil {
		return err
	}
	entries, err := confidence.LoadGroundTruth(c.File)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	rec, err := confidence.NewCalibrator(cfg.Calibration).Calibrate(ctx, cfg.Confidence.Calculator(), entries)
	var insufficient *confidence.InsufficientDataError
	if errors.As(err, &insufficient) {
		return fmt.Errorf("calibration needs at least %d ground truth entries, have %d", insufficient.Need, insufficient.Have)
	}
	if err != nil {
		return err
	}

	w := g.stdout()
	fmt.Fprintf(w, "Evaluated %d weight combinations\n", rec.Attempts)
	fmt.Fprintf(w, "  Current: %s  MAE %.4f\n", rec.Current, rec.CurrentMAE)
	fmt.Fprintf(w, "  Best:    %s  MAE %.4f\n", rec.Best, rec.BestMAE)
	if !rec.Recommend {
		fmt.Fprintf(w, "Improvement %.4f is below %.4f; keeping current weights\n", rec.Improvement, cfg.Calibration.MinImprovement)
		return nil
	}
	g.success("Recommended: improvement %.4f", rec.Improvement)

	if !c.Apply {
		fmt.Fprintln(w, "Re-run with --apply to write the weights")
		return nil
	}
	path := c.Config
	if path == "" {
		path = filepath.Join(root, config.FileName)
	}
	cfg.Confidence.Weights = rec.Best
	if err := config.Save(path, cfg); err != nil {
		return err
	}
	g.success("Wrote weights to %s", path)
	return nil
}
