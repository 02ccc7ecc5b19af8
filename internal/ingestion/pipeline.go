package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Benny93/axon-sql/internal/confidence"
	"github.com/Benny93/axon-sql/internal/config"
	"github.com/Benny93/axon-sql/internal/enhance"
	"github.com/Benny93/axon-sql/internal/graph"
	"github.com/Benny93/axon-sql/internal/resolution"
	"github.com/Benny93/axon-sql/internal/sqlscan"
	"github.com/Benny93/axon-sql/internal/storage"
	"github.com/Benny93/axon-sql/internal/symbols"
	"github.com/Benny93/axon-sql/internal/template"
)

// Phase names reported to the progress callback.
const (
	PhaseWalk      = "Walking inputs"
	PhaseBundles   = "Loading fact bundles"
	PhaseTemplates = "Resolving templates"
	PhaseIndex     = "Building symbol index"
	PhaseResolve   = "Resolving hints"
	PhaseEnhance   = "Enhancing joins"
	PhaseStore     = "Loading to storage"
)

// includeHintSeed is the seed confidence of a hint raised for an include
// the declaring mapper could not satisfy.
const includeHintSeed = 0.7

// ProgressCallback is called with phase name and progress (0.0-1.0).
type ProgressCallback func(phase string, progress float64)

// Options configures a pipeline run. A nil Config means config.Default().
type Options struct {
	Config *config.Config

	// Store receives the result graph. Nil skips persistence.
	Store storage.StorageBackend

	// Schema enables table confirmation and join enhancement. Nil skips both.
	Schema enhance.SchemaLookup

	Logger   *slog.Logger
	Progress ProgressCallback
}

// PipelineResult summarizes a pipeline run.
type PipelineResult struct {
	RunID string

	// Graph is the result graph; partial when the run was cancelled.
	Graph *graph.Graph

	Inputs     int
	Bundles    int
	Mappers    int
	QueryUnits int
	Hints      int

	// Skipped lists inputs that could not be loaded.
	Skipped []string

	// Pending holds hints left unconsumed by a cancelled run.
	Pending []graph.EdgeHint

	Resolution resolution.Stats
	Enhancer   enhance.Stats

	DurationSecs float64
}

// run is the per-run context. It owns every cache of the run.
type run struct {
	cfg      *config.Config
	logger   *slog.Logger
	schema   enhance.SchemaLookup
	calc     *confidence.Calculator
	resolver *template.Resolver
	progress ProgressCallback

	g     *graph.Graph
	hints []graph.EdgeHint
	res   *PipelineResult
}

func (r *run) report(phase string, progress float64) {
	if r.progress != nil {
		r.progress(phase, progress)
	}
}

// RunPipeline analyzes root: it loads bundles and mapper documents, resolves
// hints against the symbol index, enhances joins and persists the graph.
//
// Cancellation is checked between phases. A cancelled run returns the
// partial result together with ctx.Err().
func RunPipeline(ctx context.Context, root string, opts Options) (*PipelineResult, error) {
	start := time.Now()

	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &run{
		cfg:      cfg,
		logger:   logger.With("component", "ingestion"),
		schema:   opts.Schema,
		calc:     cfg.Confidence.Calculator(),
		resolver: template.NewResolver(cfg.Template),
		progress: opts.Progress,
		g:        graph.New(),
	}
	r.res = &PipelineResult{RunID: uuid.NewString(), Graph: r.g}
	r.logger.Info("analysis started", "run_id", r.res.RunID, "root", root)

	err := r.execute(ctx, root, opts.Store)
	r.res.DurationSecs = time.Since(start).Seconds()
	if err != nil {
		return r.res, err
	}

	r.logger.Info("analysis finished",
		"run_id", r.res.RunID,
		"facts", len(r.g.Facts()),
		"edges", len(r.g.Edges()),
		"unresolved", len(r.g.Unresolved()),
		"duration", r.res.DurationSecs)
	return r.res, nil
}

func (r *run) execute(ctx context.Context, root string, store storage.StorageBackend) error {
	// Phase 1: File walking
	r.report(PhaseWalk, 0.0)
	inputs, err := WalkInputs(root, r.cfg.Ingestion.Exclude)
	if err != nil {
		return fmt.Errorf("walking inputs: %w", err)
	}
	r.res.Inputs = len(inputs)
	r.report(PhaseWalk, 1.0)

	var bundles, mappers []Input
	for _, in := range inputs {
		switch in.Kind {
		case InputBundle:
			bundles = append(bundles, in)
		case InputMapper:
			mappers = append(mappers, in)
		}
	}

	// Phase 2: Extractor bundles
	if err := ctx.Err(); err != nil {
		return err
	}
	r.report(PhaseBundles, 0.0)
	r.loadBundles(ctx, bundles)
	r.report(PhaseBundles, 1.0)

	// Phase 3: Templates
	if err := ctx.Err(); err != nil {
		return err
	}
	r.report(PhaseTemplates, 0.0)
	if err := r.resolveTemplates(ctx, mappers); err != nil {
		return err
	}
	r.report(PhaseTemplates, 1.0)

	// Phase 4: Symbol index
	if err := ctx.Err(); err != nil {
		return err
	}
	r.report(PhaseIndex, 0.0)
	ix, err := r.buildIndex()
	if err != nil {
		return err
	}
	r.report(PhaseIndex, 1.0)

	// Phase 5: Hint resolution
	r.report(PhaseResolve, 0.0)
	r.res.Hints = len(r.hints)
	engine := resolution.NewEngine(ix, r.cfg.Resolution, resolution.WithLogger(r.logger))
	resolved, err := engine.Resolve(ctx, r.hints)
	for _, e := range resolved.Edges {
		r.g.AddEdge(e)
	}
	r.res.Resolution = resolved.Stats
	if err != nil {
		r.res.Pending = resolved.Pending
		return err
	}
	r.report(PhaseResolve, 1.0)

	// Phase 6: Join enhancement
	if r.schema != nil {
		r.report(PhaseEnhance, 0.0)
		stats, err := enhance.New(r.schema, r.cfg.Enhancer, r.logger).Enhance(ctx, r.g.Joins())
		r.res.Enhancer = stats
		if err != nil {
			return err
		}
		r.report(PhaseEnhance, 1.0)
	} else {
		r.logger.Debug("no schema configured, joins keep their seed confidence")
	}

	// Phase 7: Persistence
	if store == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.report(PhaseStore, 0.0)
	if err := store.BulkLoad(ctx, r.g); err != nil {
		return fmt.Errorf("bulk load: %w", err)
	}
	info := storage.RunInfo{
		RunID:       r.res.RunID,
		Root:        root,
		CompletedAt: time.Now().UTC(),
		Stats:       r.g.Stats(),
	}
	if err := store.SetRunInfo(ctx, info); err != nil {
		return fmt.Errorf("saving run info: %w", err)
	}
	r.report(PhaseStore, 1.0)
	return nil
}

// loadBundles adds bundle contents to the graph. Bundles that fail to
// decode are skipped.
func (r *run) loadBundles(ctx context.Context, inputs []Input) {
	for _, in := range inputs {
		b, err := loadBundle(in)
		if err != nil {
			r.logger.Warn("skipping bundle", "path", in.RelPath, "error", err)
			r.res.Skipped = append(r.res.Skipped, in.RelPath)
			continue
		}
		r.res.Bundles++

		for i := range b.Artifacts {
			r.g.AddArtifact(&b.Artifacts[i])
		}
		for i := range b.Facts {
			f := &b.Facts[i]
			r.g.AddFact(f)
			if f.Kind == graph.FactQueryUnit && f.SQL != "" {
				r.res.QueryUnits++
				r.addStructural(r.structural(ctx, f, r.textConfidence(f), strings.Contains(f.SQL, "${")))
			}
		}
		for i := range b.Joins {
			r.g.AddJoin(&b.Joins[i])
		}
		r.hints = append(r.hints, b.Hints...)
	}
}

// textConfidence is the confidence of the SQL text of an extracted fact.
func (r *run) textConfidence(f *graph.SourceFact) float64 {
	if f.Confidence > 0 {
		return f.Confidence
	}
	return r.cfg.Template.StaticConfidence
}

// mapperOutput is everything derived from one mapper document.
type mapperOutput struct {
	artifact *graph.Artifact
	facts    []*graph.SourceFact
	hints    []graph.EdgeHint
	derived  structuralOutput
}

// resolveTemplates flattens every mapper, one worker per document.
func (r *run) resolveTemplates(ctx context.Context, inputs []Input) error {
	workers := r.cfg.Ingestion.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	outputs := make([]*mapperOutput, len(inputs))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for i, in := range inputs {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			outputs[i] = r.analyzeMapper(egCtx, in)
			return nil
		})
	}
	err := eg.Wait()

	// Merge in input order so the graph does not depend on scheduling.
	for _, out := range outputs {
		if out == nil {
			continue
		}
		r.res.Mappers++
		r.g.AddArtifact(out.artifact)
		for _, f := range out.facts {
			r.g.AddFact(f)
		}
		r.res.QueryUnits += len(out.facts)
		r.hints = append(r.hints, out.hints...)
		r.addStructural(out.derived)
	}
	return err
}

// analyzeMapper turns one mapper document into query unit facts, include
// edges, include hints and structural SQL relationships.
func (r *run) analyzeMapper(ctx context.Context, in Input) *mapperOutput {
	m := template.ParseMapper(in.Content)
	if m.ParseErr != nil {
		r.logger.Warn("malformed mapper, results degraded", "path", in.RelPath, "error", m.ParseErr)
	}

	out := &mapperOutput{
		artifact: &graph.Artifact{
			ID:        graph.GenerateID("artifact", in.RelPath),
			Path:      in.RelPath,
			Language:  "mybatis",
			Namespace: m.Namespace,
		},
	}
	scope := m.Namespace
	if scope == "" {
		scope = in.RelPath
	}

	results, cache := r.resolver.ResolveMapper(m, nil)
	for _, sr := range results {
		factID := graph.GenerateID("query", scope, sr.ID)
		qualified := sr.ID
		if m.Namespace != "" {
			qualified = m.Namespace + "." + sr.ID
		}
		fact := &graph.SourceFact{
			ID:            factID,
			Kind:          graph.FactQueryUnit,
			ArtifactID:    out.artifact.ID,
			QualifiedName: qualified,
			Name:          sr.ID,
			Namespace:     m.Namespace,
			StatementID:   sr.ID,
			StatementKind: sr.Kind,
			SQL:           sr.Text,
		}

		for _, ref := range sr.Includes {
			if _, _, ok := cache.Lookup(ref); !ok {
				continue
			}
			local := strings.TrimPrefix(strings.TrimSpace(ref), m.Namespace+".")
			out.derived.edges = append(out.derived.edges, &graph.Edge{
				ID:         graph.GenerateID("includes", factID, local),
				SrcID:      factID,
				DstID:      graph.GenerateID("query", scope, local),
				Kind:       graph.EdgeIncludes,
				Confidence: sr.Confidence,
				Provenance: graph.ProvenanceStructural,
			})
		}

		seen := make(map[string]bool)
		for _, mk := range sr.Markers {
			if mk.Kind != template.MarkerMissingInclude || seen[mk.Ref] {
				continue
			}
			seen[mk.Ref] = true
			out.hints = append(out.hints, graph.EdgeHint{
				ID:             graph.GenerateID("hint", factID, "include", mk.Ref),
				ArtifactID:     out.artifact.ID,
				SrcFactID:      factID,
				Kind:           graph.HintTemplateInclude,
				Payload:        graph.HintPayload{FragmentID: mk.Ref},
				ConfidenceSeed: includeHintSeed,
			})
		}

		derived := r.structural(ctx, fact, sr.Confidence, sr.Dynamic)
		factors := confidence.Factors{
			FilePath:         in.RelPath,
			ParserType:       "mybatis",
			Parsed:           m.ParseErr == nil,
			SQLUnits:         1,
			MatchedPatterns:  derived.matched,
			TotalPatterns:    derived.total,
			ReferencedTables: derived.referenced,
			ConfirmedTables:  derived.confirmed,
			Complexity:       confidence.ScanComplexity(m.Tree.Text(sr.Node)),
		}
		if m.ParseErr != nil {
			factors.ParseErrors = 1
		}
		factors.DynamicSQL = factors.DynamicSQL || sr.Dynamic
		fact.Confidence, _ = r.calc.Calculate(factors)

		out.facts = append(out.facts, fact)
		out.derived.merge(derived)
	}
	return out
}

// structuralOutput holds the relationships found in one or more query texts.
type structuralOutput struct {
	edges []*graph.Edge
	joins []*graph.Join

	matched    int
	total      int
	referenced int
	confirmed  int
}

func (s *structuralOutput) merge(o structuralOutput) {
	s.edges = append(s.edges, o.edges...)
	s.joins = append(s.joins, o.joins...)
	s.matched += o.matched
	s.total += o.total
	s.referenced += o.referenced
	s.confirmed += o.confirmed
}

func (r *run) addStructural(s structuralOutput) {
	for _, e := range s.edges {
		r.g.AddEdge(e)
	}
	for _, j := range s.joins {
		r.g.AddJoin(j)
	}
}

// structural extracts table, column and join relationships from the SQL of
// a query unit whose text has confidence textConf.
func (r *run) structural(ctx context.Context, f *graph.SourceFact, textConf float64, dynamic bool) structuralOutput {
	scan := sqlscan.Extract(f.SQL)

	var out structuralOutput
	for _, t := range scan.Tables {
		declared := r.declared(ctx, t)
		if declared != nil {
			out.referenced++
			if *declared {
				out.confirmed++
			}
		}
		name := strings.ToUpper(t.FullName())
		out.edges = append(out.edges, &graph.Edge{
			ID:         graph.GenerateID("uses_table", f.ID, name),
			SrcID:      f.ID,
			DstID:      graph.GenerateID("table", name),
			Kind:       graph.EdgeUsesTable,
			Confidence: confidence.TableConfidence(textConf, declared),
			Provenance: graph.ProvenanceStructural,
		})
	}

	for _, c := range scan.Columns {
		name := strings.ToUpper(c.Table + "." + c.Column)
		out.edges = append(out.edges, &graph.Edge{
			ID:         graph.GenerateID("uses_column", f.ID, name),
			SrcID:      f.ID,
			DstID:      graph.GenerateID("column", name),
			Kind:       graph.EdgeUsesColumn,
			Confidence: textConf,
			Provenance: graph.ProvenanceStructural,
		})
	}

	for _, j := range scan.Joins {
		seed := confidence.JoinConfidence(confidence.JoinFeatures{
			Explicit:          j.Explicit,
			Equality:          true,
			TablesIdentified:  j.Resolved,
			ColumnsIdentified: true,
			Dynamic:           dynamic,
		})
		out.joins = append(out.joins, &graph.Join{
			ID:          graph.GenerateID("join", f.ID, j.LeftTable+"."+j.LeftColumn, j.RightTable+"."+j.RightColumn),
			QueryFactID: f.ID,
			LeftTable:   j.LeftTable,
			LeftColumn:  j.LeftColumn,
			RightTable:  j.RightTable,
			RightColumn: j.RightColumn,
			Confidence:  seed * textConf,
		})
		if j.Resolved {
			out.matched++
		}
	}

	out.matched += len(scan.Tables)
	out.total = len(scan.Tables) + len(scan.Joins)
	return out
}

// declared reports whether the schema declares t, or nil when no schema is
// available or the lookup failed.
func (r *run) declared(ctx context.Context, t sqlscan.TableRef) *bool {
	if r.schema == nil {
		return nil
	}
	_, ok, err := r.schema.FindTable(ctx, t.Owner, t.Name)
	if err != nil {
		r.logger.Warn("schema lookup failed", "table", t.FullName(), "error", err)
		return nil
	}
	return &ok
}

// buildIndex registers every artifact and fact and freezes the index.
func (r *run) buildIndex() (*symbols.Index, error) {
	b := symbols.NewBuilder()
	for _, a := range r.g.Artifacts() {
		if err := b.AddArtifact(*a); err != nil {
			return nil, fmt.Errorf("indexing artifact %s: %w", a.ID, err)
		}
	}
	for _, f := range r.g.Facts() {
		if err := b.AddFact(*f); err != nil {
			return nil, fmt.Errorf("indexing fact %s: %w", f.ID, err)
		}
	}
	return b.Freeze(), nil
}
