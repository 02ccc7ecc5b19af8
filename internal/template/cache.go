package template

import (
	"errors"
	"strings"
)

// ErrCachePrimed is returned when a fragment cache is primed twice.
var ErrCachePrimed = errors.New("fragment cache already primed")

type fragment struct {
	tree *Tree
	node NodeID
}

// FragmentCache maps fragment ids of one artifact to their bodies.
//
// A cache is primed once from its artifact and is read-only afterwards, so
// it may be shared by concurrent resolutions of that artifact's statements.
// Fragment ids are scoped to the declaring namespace.
type FragmentCache struct {
	namespace string
	primed    bool
	frags     map[string]fragment
	order     []string
}

// NewFragmentCache creates an empty cache for the given namespace.
func NewFragmentCache(namespace string) *FragmentCache {
	return &FragmentCache{
		namespace: namespace,
		frags:     make(map[string]fragment),
	}
}

// Namespace returns the namespace the cache was created for.
func (c *FragmentCache) Namespace() string {
	return c.namespace
}

// Prime registers every <sql id="..."> element below root.
// The first declaration of a duplicated id wins.
func (c *FragmentCache) Prime(t *Tree, root NodeID) error {
	if c.primed {
		return ErrCachePrimed
	}
	c.primed = true

	for _, id := range t.Elements(root, "sql") {
		fid := strings.TrimSpace(t.Attr(id, "id"))
		if fid == "" {
			continue
		}
		if _, exists := c.frags[fid]; exists {
			continue
		}
		c.frags[fid] = fragment{tree: t, node: id}
		c.order = append(c.order, fid)
	}
	return nil
}

// Lookup returns the fragment for refid. A refid qualified with the cache's
// own namespace ("ns.id") is accepted.
func (c *FragmentCache) Lookup(refid string) (*Tree, NodeID, bool) {
	if c == nil {
		return nil, NoNode, false
	}
	refid = strings.TrimSpace(refid)
	if f, ok := c.frags[refid]; ok {
		return f.tree, f.node, true
	}
	if c.namespace != "" && strings.HasPrefix(refid, c.namespace+".") {
		if f, ok := c.frags[strings.TrimPrefix(refid, c.namespace+".")]; ok {
			return f.tree, f.node, true
		}
	}
	return nil, NoNode, false
}

// IDs returns the fragment ids in declaration order.
func (c *FragmentCache) IDs() []string {
	return append([]string(nil), c.order...)
}

// Len returns the number of cached fragments.
func (c *FragmentCache) Len() int {
	return len(c.frags)
}
