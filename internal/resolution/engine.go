// Package resolution turns edge hints into typed edges.
//
// Each hint kind has an ordered list of strategies. The first strategy that
// finds a target wins; a hint no strategy resolves still yields an edge,
// without a destination and with demoted confidence.
package resolution

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/Benny93/axon-sql/internal/graph"
	"github.com/Benny93/axon-sql/internal/symbols"
)

// Stats summarizes one Resolve call.
type Stats struct {
	Attempted  int
	Resolved   int
	Unresolved int
	Duplicates int
	ByStrategy map[string]int
	ByReason   map[graph.UnresolvedReason]int
}

// Result is the output of Resolve.
type Result struct {
	// Edges holds exactly one edge per consumed hint, in hint order.
	Edges []*graph.Edge

	// Pending holds hints not consumed because the run was cancelled.
	Pending []graph.EdgeHint

	Stats Stats
}

// Engine resolves hints against a frozen symbol index.
type Engine struct {
	index      *symbols.Index
	params     Params
	strategies map[graph.HintKind][]Strategy
	logger     *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithStrategies replaces the strategy list for one hint kind.
func WithStrategies(kind graph.HintKind, s ...Strategy) Option {
	return func(e *Engine) { e.strategies[kind] = s }
}

// NewEngine creates an engine.
func NewEngine(ix *symbols.Index, p Params, opts ...Option) *Engine {
	e := &Engine{
		index:      ix,
		params:     p,
		strategies: DefaultStrategies(p),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "resolution")
	return e
}

// Resolve consumes hints in order. Every hint leaves the working set once,
// producing exactly one edge. Hints with a repeated ID are consumed as
// duplicates and produce nothing.
//
// Cancellation is checked between hints. On cancellation the edges built so
// far and the untouched hints are returned together with ctx.Err().
func (e *Engine) Resolve(ctx context.Context, hints []graph.EdgeHint) (*Result, error) {
	res := &Result{
		Edges: make([]*graph.Edge, 0, len(hints)),
		Stats: Stats{
			ByStrategy: make(map[string]int),
			ByReason:   make(map[graph.UnresolvedReason]int),
		},
	}

	// Hint IDs are only unique within their artifact.
	type hintKey struct{ artifact, id string }

	work := hints
	consumed := make(map[hintKey]bool, len(hints))
	for pos := 0; len(work) > 0; pos++ {
		if err := ctx.Err(); err != nil {
			res.Pending = append([]graph.EdgeHint(nil), work...)
			return res, err
		}

		h := work[0]
		work = work[1:]

		if h.ID == "" {
			h.ID = graph.GenerateID("anon", h.ArtifactID, strconv.Itoa(pos))
		}
		k := hintKey{artifact: h.ArtifactID, id: h.ID}
		if consumed[k] {
			res.Stats.Duplicates++
			continue
		}
		consumed[k] = true

		edge, strategy := e.resolveOne(&h)
		res.Stats.Attempted++
		if edge.IsResolved() {
			res.Stats.Resolved++
			res.Stats.ByStrategy[strategy]++
		} else {
			res.Stats.Unresolved++
			res.Stats.ByReason[edge.Reason]++
		}
		res.Edges = append(res.Edges, edge)
	}

	e.logger.Debug("hints resolved",
		"attempted", res.Stats.Attempted,
		"resolved", res.Stats.Resolved,
		"unresolved", res.Stats.Unresolved)
	return res, nil
}

// resolveOne builds the edge for a hint and names the strategy that
// resolved it.
func (e *Engine) resolveOne(h *graph.EdgeHint) (*graph.Edge, string) {
	edge := &graph.Edge{
		ID:         graph.GenerateID("edge", h.ArtifactID, h.ID),
		SrcID:      h.SrcFactID,
		Kind:       edgeKind(h.Kind),
		Provenance: graph.ProvenanceHint,
		HintID:     h.ID,
		Target:     hintTarget(h),
	}
	if edge.SrcID == "" {
		edge.SrcID = h.ArtifactID
	}

	reason := graph.ReasonNoCandidate
	if edge.Target == "" {
		reason = graph.ReasonMalformed
	} else {
		for _, s := range e.strategies[h.Kind] {
			out := s.Resolve(e.index, h)
			if out.Found {
				edge.DstID = out.Target
				edge.Confidence = e.params.ResolvedConfidence(h.ConfidenceSeed)
				return edge, s.Name()
			}
			if out.Reason != graph.ReasonNone {
				reason = out.Reason
				break
			}
		}
	}

	edge.Reason = reason
	edge.Confidence = e.params.UnresolvedConfidence(h.ConfidenceSeed)
	e.logger.Debug("hint unresolved", "hint", h.ID, "kind", h.Kind, "target", edge.Target, "reason", reason)
	return edge, ""
}

func edgeKind(k graph.HintKind) graph.EdgeKind {
	if k == graph.HintCallableInvocation {
		return graph.EdgeCalls
	}
	return graph.EdgeIncludes
}

func hintTarget(h *graph.EdgeHint) string {
	switch h.Kind {
	case graph.HintCallableInvocation:
		return h.Payload.InvokedName
	case graph.HintArtifactInclude:
		return h.Payload.TargetPath
	case graph.HintTemplateInclude:
		if h.Payload.Namespace == "" || h.Payload.FragmentID == "" {
			return h.Payload.FragmentID
		}
		return fmt.Sprintf("%s.%s", h.Payload.Namespace, h.Payload.FragmentID)
	}
	return ""
}
