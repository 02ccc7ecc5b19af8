// Package graph provides the data model for axon-sql.
//
// It defines the immutable facts produced by extraction (types, callables,
// query units), the hints that propose relationships between them, and the
// resolved edges and joins that make up the result graph.
package graph

import (
	"fmt"
	"strings"
)

// FactKind is the variant tag of a SourceFact.
type FactKind string

const (
	FactType      FactKind = "type"
	FactCallable  FactKind = "callable"
	FactQueryUnit FactKind = "query_unit"
)

// HintKind identifies the resolution strategy a hint needs.
type HintKind string

const (
	HintCallableInvocation HintKind = "callable_invocation"
	HintArtifactInclude    HintKind = "artifact_include"
	HintTemplateInclude    HintKind = "template_include"
)

// EdgeKind is the type of a resolved relationship.
type EdgeKind string

const (
	EdgeCalls      EdgeKind = "calls"
	EdgeIncludes   EdgeKind = "includes"
	EdgeUsesTable  EdgeKind = "uses_table"
	EdgeUsesColumn EdgeKind = "uses_column"
)

// Provenance records where an edge came from.
type Provenance string

const (
	ProvenanceHint       Provenance = "hint"
	ProvenanceStructural Provenance = "structural"
	ProvenanceInferred   Provenance = "inferred"
)

// UnresolvedReason explains why an edge has no destination.
type UnresolvedReason string

const (
	ReasonNone        UnresolvedReason = ""
	ReasonNoCandidate UnresolvedReason = "no_candidate"
	ReasonAmbiguous   UnresolvedReason = "ambiguous"
	ReasonMalformed   UnresolvedReason = "malformed"
)

// UnresolvedConfidenceLimit is the exclusive upper bound for the confidence
// of an edge without a destination.
const UnresolvedConfidenceLimit = 0.5

// Artifact is a single input file (source file, mapper document, ...).
type Artifact struct {
	// ID is the stable artifact identifier.
	ID string `json:"id"`

	// Path is the artifact path relative to the analyzed root.
	Path string `json:"path"`

	// Language is the artifact language (e.g., "java", "mybatis", "jsp").
	Language string `json:"language,omitempty"`

	// Namespace is the declaring namespace for template artifacts.
	Namespace string `json:"namespace,omitempty"`
}

// SourceFact is an immutable entity produced by extraction.
//
// Only the fields relevant to Kind are populated: callables carry Name,
// Scope, Package and ParamCount; query units carry Namespace, StatementID,
// StatementKind and SQL.
type SourceFact struct {
	// ID is the stable fact identifier.
	ID string `json:"id"`

	// Kind is the variant tag.
	Kind FactKind `json:"kind"`

	// ArtifactID references the owning artifact.
	ArtifactID string `json:"artifact_id"`

	// QualifiedName is the fully-qualified name (e.g., "com.acme.OrderDao.save").
	QualifiedName string `json:"qualified_name"`

	// Name is the simple name.
	Name string `json:"name,omitempty"`

	// Scope is the qualified name of the enclosing type.
	Scope string `json:"scope,omitempty"`

	// Package is the logical package or namespace of the fact.
	Package string `json:"package,omitempty"`

	// ParamCount is the declared parameter count of a callable.
	ParamCount int `json:"param_count,omitempty"`

	// Namespace is the template namespace of a query unit.
	Namespace string `json:"namespace,omitempty"`

	// StatementID is the statement or fragment id of a query unit.
	StatementID string `json:"statement_id,omitempty"`

	// StatementKind is select, insert, update, delete or sql.
	StatementKind string `json:"statement_kind,omitempty"`

	// SQL is the flattened query text of a query unit.
	SQL string `json:"sql,omitempty"`

	// Confidence is the extraction confidence of the fact itself.
	Confidence float64 `json:"confidence,omitempty"`
}

// SimpleName returns Name, falling back to the last segment of QualifiedName.
func (f *SourceFact) SimpleName() string {
	if f.Name != "" {
		return f.Name
	}
	return LastSegment(f.QualifiedName)
}

// ScopeName returns Scope, falling back to the parent of QualifiedName.
func (f *SourceFact) ScopeName() string {
	if f.Scope != "" {
		return f.Scope
	}
	return ParentName(f.QualifiedName)
}

// PackageName returns Package, falling back to the qualified name of the
// enclosing scope minus its last segment.
func (f *SourceFact) PackageName() string {
	if f.Package != "" {
		return f.Package
	}
	if f.Scope != "" {
		return ParentName(f.Scope)
	}
	return ParentName(ParentName(f.QualifiedName))
}

// HintPayload carries kind-specific hint data.
type HintPayload struct {
	// InvokedName is the simple name at a call site (CallableInvocation).
	InvokedName string `json:"invoked_name,omitempty"`

	// ArgCount is the argument count at a call site (CallableInvocation).
	ArgCount int `json:"arg_count,omitempty"`

	// TargetPath is the included file path (ArtifactInclude).
	TargetPath string `json:"target_path,omitempty"`

	// FragmentID is the referenced fragment id (TemplateInclude).
	FragmentID string `json:"fragment_id,omitempty"`

	// Namespace is the namespace of the referenced fragment (TemplateInclude).
	Namespace string `json:"namespace,omitempty"`
}

// EdgeHint is a proposed, not yet verified relationship.
type EdgeHint struct {
	ID             string      `json:"id"`
	ArtifactID     string      `json:"artifact_id"`
	SrcFactID      string      `json:"src_fact_id"`
	Kind           HintKind    `json:"kind"`
	Payload        HintPayload `json:"payload"`
	ConfidenceSeed float64     `json:"confidence_seed"`
}

// Edge is a typed relationship in the result graph.
type Edge struct {
	// ID is the unique identifier for the edge.
	ID string `json:"id"`

	// SrcID is the source fact (or artifact) ID.
	SrcID string `json:"src_id"`

	// DstID is the destination ID; empty means unresolved but retained.
	DstID string `json:"dst_id,omitempty"`

	// Kind is the relationship type.
	Kind EdgeKind `json:"kind"`

	// Confidence is in [0,1].
	Confidence float64 `json:"confidence"`

	// Provenance records how the edge was produced.
	Provenance Provenance `json:"provenance"`

	// HintID references the hint that produced the edge, if any.
	HintID string `json:"hint_id,omitempty"`

	// Target is the unresolved target description (invoked name, path, refid).
	Target string `json:"target,omitempty"`

	// Reason explains a missing destination.
	Reason UnresolvedReason `json:"reason,omitempty"`
}

// IsResolved reports whether the edge has a destination.
func (e *Edge) IsResolved() bool {
	return e.DstID != ""
}

// Validate checks the edge invariants.
func (e *Edge) Validate() error {
	if e.Confidence < 0 || e.Confidence > 1 {
		return fmt.Errorf("edge %s: confidence %.3f outside [0,1]", e.ID, e.Confidence)
	}
	if !e.IsResolved() && e.Confidence >= UnresolvedConfidenceLimit {
		return fmt.Errorf("edge %s: unresolved edge with confidence %.3f", e.ID, e.Confidence)
	}
	return nil
}

// Join is a structural column-equality relationship between two tables.
type Join struct {
	ID          string  `json:"id"`
	QueryFactID string  `json:"query_fact_id,omitempty"`
	LeftTable   string  `json:"left_table"`
	LeftColumn  string  `json:"left_column"`
	RightTable  string  `json:"right_table"`
	RightColumn string  `json:"right_column"`
	InferredKey bool    `json:"inferred_key"`
	Confidence  float64 `json:"confidence"`

	// Enhanced is set once the relationship enhancer has processed the join.
	Enhanced bool `json:"enhanced"`
}

// TablePair returns the upper-cased (left, right) table key.
func (j *Join) TablePair() (string, string) {
	return strings.ToUpper(j.LeftTable), strings.ToUpper(j.RightTable)
}

// GenerateID creates a deterministic ID from a prefix and its parts.
// Format: {prefix}:{part}:{part}...
func GenerateID(prefix string, parts ...string) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, p := range parts {
		if p == "" {
			continue
		}
		b.WriteByte(':')
		b.WriteString(p)
	}
	return b.String()
}

// LastSegment returns the part of a dotted name after the last dot.
func LastSegment(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}

// ParentName returns a dotted name minus its last segment.
func ParentName(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return ""
}
