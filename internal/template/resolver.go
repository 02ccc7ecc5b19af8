package template

import (
	"fmt"
	"regexp"
	"strings"
)

// AnnotationKind classifies a side-channel annotation.
type AnnotationKind string

const (
	// AnnotationOptional records the guard of a conditional that was
	// replaced by its contents.
	AnnotationOptional AnnotationKind = "optional"

	// AnnotationIteration records a summarized repetition.
	AnnotationIteration AnnotationKind = "iteration"
)

// Annotation is provenance that the flattened text no longer carries.
type Annotation struct {
	Kind AnnotationKind `json:"kind"`
	Tag  string         `json:"tag"`
	Expr string         `json:"expr"`
}

// MarkerKind classifies a resolution problem.
type MarkerKind string

const (
	MarkerCircularInclude MarkerKind = "circular-include"
	MarkerRepeatedInclude MarkerKind = "repeated-include"
	MarkerMissingInclude  MarkerKind = "missing-include"
	MarkerTruncatedChoose MarkerKind = "truncated-choose"
	MarkerParseError      MarkerKind = "parse-error"
)

// Marker is a provenance marker left where the resolver could not expand
// the template faithfully.
type Marker struct {
	Kind MarkerKind `json:"kind"`
	Ref  string     `json:"ref"`
}

func (m Marker) String() string {
	return string(m.Kind) + ":" + m.Ref
}

// Options configures a Resolver.
type Options struct {
	// MaxBranch caps the branches kept per choose construct.
	MaxBranch int `yaml:"max_branch"`

	// StaticConfidence is reported for templates without dynamic constructs.
	StaticConfidence float64 `yaml:"static_confidence"`

	// DynamicConfidence is reported for templates with dynamic constructs.
	DynamicConfidence float64 `yaml:"dynamic_confidence"`

	// DegradedConfidence caps the confidence of a degraded result.
	DegradedConfidence float64 `yaml:"degraded_confidence"`
}

// DefaultOptions returns the default resolver options.
func DefaultOptions() Options {
	return Options{
		MaxBranch:          3,
		StaticConfidence:   0.9,
		DynamicConfidence:  0.7,
		DegradedConfidence: 0.5,
	}
}

// Result is the flattened form of one template.
type Result struct {
	// Text is the flattened, whitespace-normalized query text.
	Text string `json:"text"`

	// Params lists placeholder names in order of first appearance.
	Params []string `json:"params,omitempty"`

	// Includes lists every include refid encountered, in order.
	Includes []string `json:"includes,omitempty"`

	Annotations []Annotation `json:"annotations,omitempty"`
	Markers     []Marker     `json:"markers,omitempty"`

	// Dynamic is set when the template has conditional, iterative or
	// textual-substitution constructs.
	Dynamic bool `json:"dynamic"`

	// Degraded is set when the input was malformed or could not be fully
	// expanded.
	Degraded bool `json:"degraded"`

	// Confidence is the flattening confidence.
	Confidence float64 `json:"confidence"`

	// Visits counts include and choose constructs processed.
	Visits int `json:"visits"`
}

// Resolver flattens templates. It holds no per-call state and is safe for
// concurrent use.
type Resolver struct {
	opts Options
}

// NewResolver creates a resolver. Non-positive MaxBranch falls back to the
// default.
func NewResolver(opts Options) *Resolver {
	def := DefaultOptions()
	if opts.MaxBranch <= 0 {
		opts.MaxBranch = def.MaxBranch
	}
	if opts.StaticConfidence == 0 && opts.DynamicConfidence == 0 && opts.DegradedConfidence == 0 {
		opts.StaticConfidence = def.StaticConfidence
		opts.DynamicConfidence = def.DynamicConfidence
		opts.DegradedConfidence = def.DegradedConfidence
	}
	return &Resolver{opts: opts}
}

// Options returns the resolver configuration.
func (r *Resolver) Options() Options {
	return r.opts
}

var (
	// #{name} or #{name,jdbcType=VARCHAR}
	hashParam = regexp.MustCompile(`#\{\s*([A-Za-z_][\w.]*)[^}]*\}`)
	// ${name}
	dollarParam = regexp.MustCompile(`\$\{\s*([A-Za-z_][\w.]*)[^}]*\}`)
	// either form, used for bind and property substitution
	anyParam = regexp.MustCompile(`[#$]\{\s*([A-Za-z_][\w.]*)[^}]*\}`)
)

// run holds the state of a single resolution call.
type run struct {
	opts    Options
	w       *Tree
	cache   *FragmentCache
	visited map[string]bool
	active  map[string]bool
	res     Result
}

// Resolve flattens the template rooted at root in src.
//
// binds supplies caller-bound variables; bind declarations inside the
// template override them. The source tree and the cache are not modified.
// Resolve never fails: malformed input yields a partial result with
// Degraded set.
func (r *Resolver) Resolve(src *Tree, root NodeID, cache *FragmentCache, binds map[string]string) Result {
	if src == nil || !src.Valid(root) {
		return Result{Degraded: true, Confidence: r.opts.DegradedConfidence, Markers: []Marker{{Kind: MarkerParseError, Ref: "no template"}}}
	}

	w, wroot := NewTree()
	body := w.CopyFrom(src, root, wroot)
	w.Nodes[wroot].Children = []NodeID{body}

	rn := &run{
		opts:    r.opts,
		w:       w,
		cache:   cache,
		visited: make(map[string]bool),
		active:  make(map[string]bool),
	}

	rn.resolveBinds(wroot, binds)
	rn.inlineIncludes(wroot)
	rn.flattenChoose(wroot)
	rn.summarizeForeach(wroot)
	rn.unwrap(wroot)
	rn.flattenText(wroot)

	rn.res.Dynamic = rn.res.Dynamic || len(rn.res.Annotations) > 0
	switch {
	case rn.res.Dynamic:
		rn.res.Confidence = r.opts.DynamicConfidence
	default:
		rn.res.Confidence = r.opts.StaticConfidence
	}
	if rn.res.Degraded && rn.res.Confidence > r.opts.DegradedConfidence {
		rn.res.Confidence = r.opts.DegradedConfidence
	}
	return rn.res
}

// ResolveString parses body and flattens it with an empty fragment cache.
func (r *Resolver) ResolveString(body string, binds map[string]string) Result {
	t, root, err := Parse([]byte(body))
	res := r.Resolve(t, root, nil, binds)
	if err != nil {
		res.Degraded = true
		res.Markers = append(res.Markers, Marker{Kind: MarkerParseError, Ref: err.Error()})
		if res.Confidence > r.opts.DegradedConfidence {
			res.Confidence = r.opts.DegradedConfidence
		}
	}
	return res
}

// resolveBinds collects bind declarations, removes them, and substitutes
// bound names in text.
func (rn *run) resolveBinds(root NodeID, binds map[string]string) {
	vars := make(map[string]string, len(binds))
	for k, v := range binds {
		vars[k] = v
	}
	for _, id := range rn.w.Elements(root, "bind") {
		if name := strings.TrimSpace(rn.w.Attr(id, "name")); name != "" {
			vars[name] = rn.w.Attr(id, "value")
		}
		rn.w.Detach(id)
	}
	if len(vars) == 0 {
		return
	}
	rn.substitute(root, vars, anyParam)
}

// substitute rewrites matches of re in text nodes below id when the
// captured name is present in vars.
func (rn *run) substitute(id NodeID, vars map[string]string, re *regexp.Regexp) {
	n := &rn.w.Nodes[id]
	if n.Kind == TextNode {
		n.Text = re.ReplaceAllStringFunc(n.Text, func(m string) string {
			name := re.FindStringSubmatch(m)[1]
			if v, ok := vars[name]; ok {
				return v
			}
			return m
		})
		return
	}
	for _, c := range n.Children {
		rn.substitute(c, vars, re)
	}
}

// inlineIncludes splices fragment bodies in place of include elements.
// Each fragment id is inlined at most once per call.
func (rn *run) inlineIncludes(id NodeID) {
	children := append([]NodeID(nil), rn.w.Nodes[id].Children...)
	for _, c := range children {
		if !rn.w.IsElement(c, "include") {
			if rn.w.Nodes[c].Kind == ElementNode {
				rn.inlineIncludes(c)
			}
			continue
		}

		rn.res.Visits++
		refid := strings.TrimSpace(rn.w.Attr(c, "refid"))
		rn.noteInclude(refid)

		if rn.visited[refid] {
			kind := MarkerRepeatedInclude
			if rn.active[refid] {
				kind = MarkerCircularInclude
			}
			rn.replaceWithMarker(c, Marker{Kind: kind, Ref: refid})
			continue
		}

		ftree, fnode, ok := rn.cache.Lookup(refid)
		if !ok {
			rn.replaceWithMarker(c, Marker{Kind: MarkerMissingInclude, Ref: refid})
			continue
		}
		rn.visited[refid] = true

		props := make(map[string]string)
		for _, p := range rn.w.Nodes[c].Children {
			if rn.w.IsElement(p, "property") {
				props[rn.w.Attr(p, "name")] = rn.w.Attr(p, "value")
			}
		}

		copies := make([]NodeID, 0, len(ftree.Nodes[fnode].Children))
		for _, fc := range ftree.Nodes[fnode].Children {
			copies = append(copies, rn.w.CopyFrom(ftree, fc, NoNode))
		}
		group := rn.w.newGroup(copies...)
		if len(props) > 0 {
			rn.substitute(group, props, dollarParam)
		}
		rn.w.Replace(c, group)

		rn.active[refid] = true
		rn.inlineIncludes(group)
		delete(rn.active, refid)
	}
}

func (rn *run) noteInclude(refid string) {
	for _, seen := range rn.res.Includes {
		if seen == refid {
			return
		}
	}
	rn.res.Includes = append(rn.res.Includes, refid)
}

func (rn *run) replaceWithMarker(id NodeID, m Marker) {
	rn.res.Markers = append(rn.res.Markers, m)
	rn.w.Replace(id, rn.w.newComment(m.String()))
}

// flattenChoose keeps up to MaxBranch branches of each choose construct and
// concatenates their bodies.
func (rn *run) flattenChoose(id NodeID) {
	children := append([]NodeID(nil), rn.w.Nodes[id].Children...)
	for _, c := range children {
		if rn.w.Nodes[c].Kind != ElementNode {
			continue
		}
		if !rn.w.IsElement(c, "choose") {
			rn.flattenChoose(c)
			continue
		}

		rn.res.Visits++
		var whens, otherwise []NodeID
		for _, b := range rn.w.Nodes[c].Children {
			switch {
			case rn.w.IsElement(b, "when"):
				whens = append(whens, b)
			case rn.w.IsElement(b, "otherwise"):
				otherwise = append(otherwise, b)
			}
		}
		branches := append(whens, otherwise...)
		if len(branches) > rn.opts.MaxBranch {
			rn.res.Markers = append(rn.res.Markers, Marker{
				Kind: MarkerTruncatedChoose,
				Ref:  fmt.Sprintf("%d/%d", rn.opts.MaxBranch, len(branches)),
			})
			branches = branches[:rn.opts.MaxBranch]
		}

		var body []NodeID
		for _, b := range branches {
			expr := "otherwise"
			if rn.w.IsElement(b, "when") {
				expr = rn.w.Attr(b, "test")
			}
			rn.res.Annotations = append(rn.res.Annotations, Annotation{
				Kind: AnnotationOptional,
				Tag:  rn.w.Nodes[b].Tag,
				Expr: expr,
			})
			body = append(body, rn.w.newText(" "))
			body = append(body, rn.w.Nodes[b].Children...)
		}
		group := rn.w.newGroup(body...)
		rn.w.Replace(c, group)
		rn.flattenChoose(group)
	}
}

// summarizeForeach replaces each iteration construct with a placeholder
// for zero or more repetitions. Bodies are not visited.
func (rn *run) summarizeForeach(id NodeID) {
	children := append([]NodeID(nil), rn.w.Nodes[id].Children...)
	for _, c := range children {
		if rn.w.Nodes[c].Kind != ElementNode {
			continue
		}
		if !rn.w.IsElement(c, "foreach") {
			rn.summarizeForeach(c)
			continue
		}

		collection := strings.TrimSpace(rn.w.Attr(c, "collection"))
		if collection == "" {
			collection = "items"
		}
		rn.res.Annotations = append(rn.res.Annotations, Annotation{
			Kind: AnnotationIteration,
			Tag:  "foreach",
			Expr: collection,
		})
		placeholder := " " + rn.w.Attr(c, "open") + ":" + collection + "[]" + rn.w.Attr(c, "close") + " "
		rn.w.Replace(c, rn.w.newText(placeholder))
	}
}

// unwrap replaces conditional and wrapper elements with their contents.
// Conditionals leave an optional-condition annotation; wrappers contribute
// their SQL keyword.
func (rn *run) unwrap(id NodeID) {
	children := append([]NodeID(nil), rn.w.Nodes[id].Children...)
	for _, c := range children {
		n := &rn.w.Nodes[c]
		if n.Kind != ElementNode {
			continue
		}

		switch n.Tag {
		case "selectKey":
			rn.w.Detach(c)
			continue
		case "if", "when":
			rn.res.Annotations = append(rn.res.Annotations, Annotation{
				Kind: AnnotationOptional,
				Tag:  n.Tag,
				Expr: rn.w.Attr(c, "test"),
			})
		case "otherwise":
			rn.res.Annotations = append(rn.res.Annotations, Annotation{
				Kind: AnnotationOptional,
				Tag:  n.Tag,
				Expr: "otherwise",
			})
		case "where":
			rn.wrap(c, " WHERE ", " ")
		case "set":
			rn.wrap(c, " SET ", " ")
		case "trim":
			rn.wrap(c, " "+rn.w.Attr(c, "prefix")+" ", " "+rn.w.Attr(c, "suffix")+" ")
		}
		rn.unwrap(c)
	}
}

// wrap surrounds the children of id with prefix and suffix text nodes.
func (rn *run) wrap(id NodeID, prefix, suffix string) {
	pre := rn.w.newText(prefix)
	suf := rn.w.newText(suffix)
	rn.w.Nodes[pre].Parent = id
	rn.w.Nodes[suf].Parent = id
	children := make([]NodeID, 0, len(rn.w.Nodes[id].Children)+2)
	children = append(children, pre)
	children = append(children, rn.w.Nodes[id].Children...)
	children = append(children, suf)
	rn.w.Nodes[id].Children = children
}

// flattenText concatenates the remaining text, rewrites placeholders and
// normalizes whitespace.
func (rn *run) flattenText(root NodeID) {
	var b strings.Builder
	rn.writeText(&b, root)
	text := b.String()

	seen := make(map[string]bool)
	note := func(name string) {
		if !seen[name] {
			seen[name] = true
			rn.res.Params = append(rn.res.Params, name)
		}
	}

	text = hashParam.ReplaceAllStringFunc(text, func(m string) string {
		name := hashParam.FindStringSubmatch(m)[1]
		note(name)
		return ":" + name
	})
	text = dollarParam.ReplaceAllStringFunc(text, func(m string) string {
		name := dollarParam.FindStringSubmatch(m)[1]
		note(name)
		rn.res.Dynamic = true
		return ":" + name
	})

	rn.res.Text = strings.Join(strings.Fields(text), " ")
}

func (rn *run) writeText(b *strings.Builder, id NodeID) {
	n := &rn.w.Nodes[id]
	switch n.Kind {
	case TextNode:
		// Sibling parts never share a token; flattenText collapses the spaces.
		b.WriteString(n.Text)
		b.WriteByte(' ')
	case ElementNode:
		for _, c := range n.Children {
			rn.writeText(b, c)
		}
	}
}
