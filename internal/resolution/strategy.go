package resolution

import (
	"strings"

	"github.com/Benny93/axon-sql/internal/graph"
	"github.com/Benny93/axon-sql/internal/symbols"
)

// Outcome is the result of one strategy attempt.
type Outcome struct {
	// Target is the destination ID when Found.
	Target string

	Found bool

	// Reason is reported when the strategy is conclusive without a target
	// (e.g. an ambiguous path). Empty means "try the next strategy".
	Reason graph.UnresolvedReason
}

// Strategy is one resolution tier. Strategies of a hint kind are tried in
// order and the first Found outcome wins.
type Strategy interface {
	Name() string
	Resolve(ix *symbols.Index, hint *graph.EdgeHint) Outcome
}

// DefaultStrategies returns the ordered strategy list per hint kind.
func DefaultStrategies(p Params) map[graph.HintKind][]Strategy {
	return map[graph.HintKind][]Strategy{
		graph.HintCallableInvocation: {
			sameTypeStrategy{p},
			samePackageStrategy{p},
			globalStrategy{p},
		},
		graph.HintArtifactInclude: {
			artifactPathStrategy{},
		},
		graph.HintTemplateInclude: {
			templateFragmentStrategy{},
		},
	}
}

// pickOverload returns the candidate with the highest overload score.
// Ties keep the first candidate found.
func pickOverload(p Params, cands []*graph.SourceFact, argCount int) (*graph.SourceFact, bool) {
	var best *graph.SourceFact
	bestScore := -1
	for _, c := range cands {
		if c.Kind != graph.FactCallable {
			continue
		}
		if s := p.OverloadScore(c.ParamCount, argCount); s > bestScore {
			best, bestScore = c, s
		}
	}
	return best, best != nil
}

func found(f *graph.SourceFact, ok bool) Outcome {
	if !ok {
		return Outcome{}
	}
	return Outcome{Target: f.ID, Found: true}
}

// enclosingType returns the qualified name of the type a fact lives in.
func enclosingType(f *graph.SourceFact) string {
	switch f.Kind {
	case graph.FactType:
		return f.QualifiedName
	case graph.FactCallable:
		return f.ScopeName()
	}
	return ""
}

// enclosingPackage returns the logical package of a fact.
func enclosingPackage(f *graph.SourceFact) string {
	if f.Kind == graph.FactType {
		if f.Package != "" {
			return f.Package
		}
		return graph.ParentName(f.QualifiedName)
	}
	return f.PackageName()
}

type sameTypeStrategy struct{ p Params }

func (sameTypeStrategy) Name() string { return "same_type" }

func (s sameTypeStrategy) Resolve(ix *symbols.Index, h *graph.EdgeHint) Outcome {
	src, ok := ix.Fact(h.SrcFactID)
	if !ok {
		return Outcome{}
	}
	scope := enclosingType(src)
	if scope == "" {
		return Outcome{}
	}
	return found(pickOverload(s.p, ix.CallablesInScope(scope, h.Payload.InvokedName), h.Payload.ArgCount))
}

type samePackageStrategy struct{ p Params }

func (samePackageStrategy) Name() string { return "same_package" }

func (s samePackageStrategy) Resolve(ix *symbols.Index, h *graph.EdgeHint) Outcome {
	src, ok := ix.Fact(h.SrcFactID)
	if !ok {
		return Outcome{}
	}
	pkg := enclosingPackage(src)
	if pkg == "" {
		return Outcome{}
	}
	return found(pickOverload(s.p, ix.CallablesInPackage(pkg, h.Payload.InvokedName), h.Payload.ArgCount))
}

type globalStrategy struct{ p Params }

func (globalStrategy) Name() string { return "global" }

func (s globalStrategy) Resolve(ix *symbols.Index, h *graph.EdgeHint) Outcome {
	return found(pickOverload(s.p, ix.CallablesNamed(h.Payload.InvokedName), h.Payload.ArgCount))
}

type artifactPathStrategy struct{}

func (artifactPathStrategy) Name() string { return "artifact_path" }

func (artifactPathStrategy) Resolve(ix *symbols.Index, h *graph.EdgeHint) Outcome {
	matches := ix.ArtifactsMatching(h.Payload.TargetPath)
	switch len(matches) {
	case 0:
		return Outcome{Reason: graph.ReasonNoCandidate}
	case 1:
		return Outcome{Target: matches[0].ID, Found: true}
	default:
		return Outcome{Reason: graph.ReasonAmbiguous}
	}
}

type templateFragmentStrategy struct{}

func (templateFragmentStrategy) Name() string { return "template_fragment" }

func (templateFragmentStrategy) Resolve(ix *symbols.Index, h *graph.EdgeHint) Outcome {
	ns, id := splitFragmentRef(h.Payload.Namespace, h.Payload.FragmentID)

	var cands []*graph.SourceFact
	if ns == "" {
		cands = ix.QueryUnitInArtifact(h.ArtifactID, id)
	} else {
		cands = ix.QueryUnit(ns, id)
		if len(cands) == 0 && h.Payload.Namespace == "" {
			// A dotted id may also be a plain fragment id of the same artifact.
			cands = ix.QueryUnitInArtifact(h.ArtifactID, h.Payload.FragmentID)
		}
	}
	if len(cands) == 0 {
		return Outcome{Reason: graph.ReasonNoCandidate}
	}
	return Outcome{Target: cands[0].ID, Found: true}
}

// splitFragmentRef splits "ns.id" when no namespace is given.
func splitFragmentRef(namespace, ref string) (string, string) {
	ref = strings.TrimSpace(ref)
	if namespace != "" {
		return namespace, ref
	}
	if i := strings.LastIndexByte(ref, '.'); i > 0 {
		return ref[:i], ref[i+1:]
	}
	return "", ref
}
