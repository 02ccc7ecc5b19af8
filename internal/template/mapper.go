package template

import (
	"bytes"
	"strings"
)

// StatementKinds are the mapper elements that hold a query.
var StatementKinds = []string{"select", "insert", "update", "delete"}

// Statement is one query definition of a mapper document.
type Statement struct {
	ID   string
	Kind string
	Node NodeID
}

// Mapper is a parsed mapper document.
type Mapper struct {
	Namespace  string
	Tree       *Tree
	Root       NodeID
	Statements []Statement

	// Fragments holds the <sql> declarations, which are query units too.
	Fragments []Statement

	// ParseErr is the first syntax problem, if any. The tree is still
	// usable but every statement resolved from it is degraded.
	ParseErr error
}

// IsMapper reports whether content looks like a mapper document.
func IsMapper(content []byte) bool {
	return bytes.Contains(content, []byte("<mapper"))
}

// ParseMapper parses a mapper document. It never fails; see Mapper.ParseErr.
func ParseMapper(content []byte) *Mapper {
	t, root, err := Parse(content)
	m := &Mapper{Tree: t, Root: root, ParseErr: err}

	scope := root
	if mappers := t.Elements(root, "mapper"); len(mappers) > 0 {
		scope = mappers[0]
		m.Namespace = strings.TrimSpace(t.Attr(scope, "namespace"))
	}

	for _, c := range t.Nodes[scope].Children {
		n := &t.Nodes[c]
		if n.Kind != ElementNode {
			continue
		}
		id := strings.TrimSpace(t.Attr(c, "id"))
		if id == "" {
			continue
		}
		if n.Tag == "sql" {
			m.Fragments = append(m.Fragments, Statement{ID: id, Kind: "sql", Node: c})
			continue
		}
		for _, kind := range StatementKinds {
			if n.Tag == kind {
				m.Statements = append(m.Statements, Statement{ID: id, Kind: kind, Node: c})
				break
			}
		}
	}
	return m
}

// StatementResult pairs a statement with its flattened form.
type StatementResult struct {
	Statement
	Result
}

// ResolveMapper primes a fragment cache from m and flattens every
// statement and fragment in declaration order.
func (r *Resolver) ResolveMapper(m *Mapper, binds map[string]string) ([]StatementResult, *FragmentCache) {
	cache := NewFragmentCache(m.Namespace)
	// A fresh cache cannot already be primed.
	_ = cache.Prime(m.Tree, m.Root)

	all := make([]Statement, 0, len(m.Statements)+len(m.Fragments))
	all = append(all, m.Statements...)
	all = append(all, m.Fragments...)

	results := make([]StatementResult, 0, len(all))
	for _, st := range all {
		res := r.Resolve(m.Tree, st.Node, cache, binds)
		if m.ParseErr != nil {
			res.Degraded = true
			res.Markers = append(res.Markers, Marker{Kind: MarkerParseError, Ref: m.ParseErr.Error()})
			if res.Confidence > r.opts.DegradedConfidence {
				res.Confidence = r.opts.DegradedConfidence
			}
		}
		results = append(results, StatementResult{Statement: st, Result: res})
	}
	return results, cache
}
