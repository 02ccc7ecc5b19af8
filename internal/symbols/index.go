// Package symbols provides the per-run symbol index used by edge resolution.
//
// The index is built in one pass from the run's facts and artifacts and is
// frozen before any lookup happens. All lookups return candidates in
// insertion order, so "first found" is deterministic for a given input order.
package symbols

import (
	"errors"
	"path"
	"strings"

	"github.com/Benny93/axon-sql/internal/graph"
)

// ErrFrozen is returned when adding to a builder that has been frozen.
var ErrFrozen = errors.New("symbol index is frozen")

type queryKey struct {
	namespace string
	id        string
}

type scopedName struct {
	scope string
	name  string
}

// Builder collects facts and artifacts for an Index.
type Builder struct {
	idx    *Index
	frozen bool
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{idx: &Index{
		byID:           make(map[string]int),
		byQualified:    make(map[string][]int),
		byScope:        make(map[scopedName][]int),
		byPackage:      make(map[scopedName][]int),
		byName:         make(map[string][]int),
		byArtifact:     make(map[string][]int),
		byQuery:        make(map[queryKey][]int),
		byQueryInArt:   make(map[queryKey][]int),
		artifactByID:   make(map[string]int),
		artifactByPath: make(map[string]int),
	}}
}

// AddArtifact registers an artifact. Re-adding an ID is ignored.
func (b *Builder) AddArtifact(a graph.Artifact) error {
	if b.frozen {
		return ErrFrozen
	}
	ix := b.idx
	if _, ok := ix.artifactByID[a.ID]; ok {
		return nil
	}
	a.Path = normalizePath(a.Path)
	pos := len(ix.artifacts)
	ix.artifacts = append(ix.artifacts, a)
	ix.artifactByID[a.ID] = pos
	ix.artifactByPath[a.Path] = pos
	return nil
}

// AddFact registers a fact. Re-adding an ID is ignored.
func (b *Builder) AddFact(f graph.SourceFact) error {
	if b.frozen {
		return ErrFrozen
	}
	ix := b.idx
	if _, ok := ix.byID[f.ID]; ok {
		return nil
	}
	pos := len(ix.facts)
	ix.facts = append(ix.facts, f)
	ix.byID[f.ID] = pos
	ix.byQualified[f.QualifiedName] = append(ix.byQualified[f.QualifiedName], pos)
	ix.byArtifact[f.ArtifactID] = append(ix.byArtifact[f.ArtifactID], pos)

	switch f.Kind {
	case graph.FactCallable:
		name := f.SimpleName()
		ix.byName[name] = append(ix.byName[name], pos)
		if scope := f.ScopeName(); scope != "" {
			k := scopedName{scope: scope, name: name}
			ix.byScope[k] = append(ix.byScope[k], pos)
		}
		pk := scopedName{scope: f.PackageName(), name: name}
		ix.byPackage[pk] = append(ix.byPackage[pk], pos)
	case graph.FactQueryUnit:
		id := f.StatementID
		if id == "" {
			id = f.SimpleName()
		}
		qk := queryKey{namespace: f.Namespace, id: id}
		ix.byQuery[qk] = append(ix.byQuery[qk], pos)
		ak := queryKey{namespace: f.ArtifactID, id: id}
		ix.byQueryInArt[ak] = append(ix.byQueryInArt[ak], pos)
	}
	return nil
}

// Freeze finishes the build and returns the read-only index. The builder
// rejects further additions.
func (b *Builder) Freeze() *Index {
	b.frozen = true
	return b.idx
}

// Index is a frozen lookup structure over one run's facts.
// It is safe for concurrent readers.
type Index struct {
	facts     []graph.SourceFact
	artifacts []graph.Artifact

	byID         map[string]int
	byQualified  map[string][]int
	byScope      map[scopedName][]int
	byPackage    map[scopedName][]int
	byName       map[string][]int
	byArtifact   map[string][]int
	byQuery      map[queryKey][]int
	byQueryInArt map[queryKey][]int

	artifactByID   map[string]int
	artifactByPath map[string]int
}

// Len returns the number of facts.
func (ix *Index) Len() int {
	return len(ix.facts)
}

// Fact returns the fact with the given ID.
func (ix *Index) Fact(id string) (*graph.SourceFact, bool) {
	pos, ok := ix.byID[id]
	if !ok {
		return nil, false
	}
	return &ix.facts[pos], true
}

// ByQualifiedName returns facts with the given qualified name.
func (ix *Index) ByQualifiedName(name string) []*graph.SourceFact {
	return ix.lookup(ix.byQualified[name])
}

// ByArtifact returns the facts declared in the given artifact.
func (ix *Index) ByArtifact(artifactID string) []*graph.SourceFact {
	return ix.lookup(ix.byArtifact[artifactID])
}

// CallablesInScope returns callables named name declared on the given type.
func (ix *Index) CallablesInScope(scope, name string) []*graph.SourceFact {
	return ix.lookup(ix.byScope[scopedName{scope: scope, name: name}])
}

// CallablesInPackage returns callables named name in the given package.
func (ix *Index) CallablesInPackage(pkg, name string) []*graph.SourceFact {
	return ix.lookup(ix.byPackage[scopedName{scope: pkg, name: name}])
}

// CallablesNamed returns every callable named name in the run.
func (ix *Index) CallablesNamed(name string) []*graph.SourceFact {
	return ix.lookup(ix.byName[name])
}

// QueryUnit returns query units declared as id in namespace.
func (ix *Index) QueryUnit(namespace, id string) []*graph.SourceFact {
	return ix.lookup(ix.byQuery[queryKey{namespace: namespace, id: id}])
}

// QueryUnitInArtifact returns query units declared as id in the artifact.
func (ix *Index) QueryUnitInArtifact(artifactID, id string) []*graph.SourceFact {
	return ix.lookup(ix.byQueryInArt[queryKey{namespace: artifactID, id: id}])
}

// Artifact returns the artifact with the given ID.
func (ix *Index) Artifact(id string) (*graph.Artifact, bool) {
	pos, ok := ix.artifactByID[id]
	if !ok {
		return nil, false
	}
	return &ix.artifacts[pos], true
}

// ArtifactsMatching returns artifacts whose path equals target or ends with
// "/"+target, in insertion order.
func (ix *Index) ArtifactsMatching(target string) []*graph.Artifact {
	target = strings.TrimPrefix(normalizePath(target), "/")
	for strings.HasPrefix(target, "../") {
		target = target[3:]
	}
	if target == "" || target == ".." {
		return nil
	}
	if pos, ok := ix.artifactByPath[target]; ok {
		return []*graph.Artifact{&ix.artifacts[pos]}
	}
	var out []*graph.Artifact
	suffix := "/" + target
	for i := range ix.artifacts {
		if strings.HasSuffix(ix.artifacts[i].Path, suffix) {
			out = append(out, &ix.artifacts[i])
		}
	}
	return out
}

func (ix *Index) lookup(positions []int) []*graph.SourceFact {
	if len(positions) == 0 {
		return nil
	}
	out := make([]*graph.SourceFact, len(positions))
	for i, pos := range positions {
		out[i] = &ix.facts[pos]
	}
	return out
}

func normalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	if p == "" {
		return ""
	}
	cleaned := path.Clean(p)
	if cleaned == "." {
		return ""
	}
	return cleaned
}
