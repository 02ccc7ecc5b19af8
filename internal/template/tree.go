// Package template flattens dynamic SQL mapper templates into plain text.
//
// Templates are held in an arena-indexed tree: nodes live in a single slice
// and reference each other by NodeID. The resolver copies the statement it
// works on into a private arena, so cached fragments and parsed mappers are
// never mutated.
package template

import "strings"

// NodeKind is the type of a tree node.
type NodeKind uint8

const (
	ElementNode NodeKind = iota
	TextNode
	CommentNode
)

// NodeID indexes Tree.Nodes.
type NodeID int

// NoNode is the parent of a root node.
const NoNode NodeID = -1

// groupTag marks a transparent element introduced by the resolver.
const groupTag = "#group"

// Attr is a single element attribute.
type Attr struct {
	Name  string
	Value string
}

// Node is one element, text run, or comment.
type Node struct {
	Kind     NodeKind
	Tag      string
	Attrs    []Attr
	Text     string
	Parent   NodeID
	Children []NodeID
}

// Tree is an arena of nodes.
type Tree struct {
	Nodes []Node
}

// NewTree creates a tree holding a single transparent root element.
func NewTree() (*Tree, NodeID) {
	t := &Tree{}
	root := t.add(Node{Kind: ElementNode, Tag: groupTag, Parent: NoNode})
	return t, root
}

func (t *Tree) add(n Node) NodeID {
	t.Nodes = append(t.Nodes, n)
	return NodeID(len(t.Nodes) - 1)
}

// Valid reports whether id addresses a node of t.
func (t *Tree) Valid(id NodeID) bool {
	return id >= 0 && int(id) < len(t.Nodes)
}

// AppendChild adds n as the last child of parent and returns its ID.
func (t *Tree) AppendChild(parent NodeID, n Node) NodeID {
	n.Parent = parent
	id := t.add(n)
	t.Nodes[parent].Children = append(t.Nodes[parent].Children, id)
	return id
}

// Attr returns the value of the named attribute, or "".
func (t *Tree) Attr(id NodeID, name string) string {
	v, _ := t.LookupAttr(id, name)
	return v
}

// LookupAttr returns the value of the named attribute and whether it exists.
func (t *Tree) LookupAttr(id NodeID, name string) (string, bool) {
	for _, a := range t.Nodes[id].Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// IsElement reports whether id is an element with the given tag.
func (t *Tree) IsElement(id NodeID, tag string) bool {
	n := &t.Nodes[id]
	return n.Kind == ElementNode && n.Tag == tag
}

// Elements returns every element below root (root excluded) with the given
// tag, in document order.
func (t *Tree) Elements(root NodeID, tag string) []NodeID {
	var out []NodeID
	var walk func(NodeID)
	walk = func(id NodeID) {
		for _, c := range t.Nodes[id].Children {
			if t.IsElement(c, tag) {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(root)
	return out
}

// CopyFrom deep-copies the subtree rooted at id in src into t under parent.
// The copy is not linked into parent's children; use Replace or AppendChild
// semantics via the returned ID.
func (t *Tree) CopyFrom(src *Tree, id NodeID, parent NodeID) NodeID {
	n := src.Nodes[id]
	cp := Node{
		Kind:   n.Kind,
		Tag:    n.Tag,
		Attrs:  append([]Attr(nil), n.Attrs...),
		Text:   n.Text,
		Parent: parent,
	}
	nid := t.add(cp)
	children := make([]NodeID, 0, len(n.Children))
	for _, c := range n.Children {
		children = append(children, t.CopyFrom(src, c, nid))
	}
	t.Nodes[nid].Children = children
	return nid
}

// Replace substitutes node id in its parent's child list with replacement.
// The replacement is re-parented. Replacing a root is a no-op.
func (t *Tree) Replace(id, replacement NodeID) {
	parent := t.Nodes[id].Parent
	if parent == NoNode {
		return
	}
	children := t.Nodes[parent].Children
	for i, c := range children {
		if c == id {
			children[i] = replacement
			break
		}
	}
	t.Nodes[replacement].Parent = parent
	t.Nodes[id].Parent = NoNode
}

// Detach removes node id from its parent's child list.
func (t *Tree) Detach(id NodeID) {
	parent := t.Nodes[id].Parent
	if parent == NoNode {
		return
	}
	children := t.Nodes[parent].Children
	for i, c := range children {
		if c == id {
			t.Nodes[parent].Children = append(children[:i:i], children[i+1:]...)
			break
		}
	}
	t.Nodes[id].Parent = NoNode
}

// newGroup creates an unlinked transparent element holding children.
func (t *Tree) newGroup(children ...NodeID) NodeID {
	g := t.add(Node{Kind: ElementNode, Tag: groupTag, Parent: NoNode})
	for _, c := range children {
		t.Nodes[c].Parent = g
	}
	t.Nodes[g].Children = children
	return g
}

// newText creates an unlinked text node.
func (t *Tree) newText(text string) NodeID {
	return t.add(Node{Kind: TextNode, Text: text, Parent: NoNode})
}

// newComment creates an unlinked comment node.
func (t *Tree) newComment(text string) NodeID {
	return t.add(Node{Kind: CommentNode, Text: text, Parent: NoNode})
}

// Text returns the text below id with parts separated by a space, excluding
// comments.
func (t *Tree) Text(id NodeID) string {
	var b strings.Builder
	t.writeText(&b, id)
	return b.String()
}

func (t *Tree) writeText(b *strings.Builder, id NodeID) {
	n := &t.Nodes[id]
	switch n.Kind {
	case TextNode:
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(n.Text)
	case ElementNode:
		for _, c := range n.Children {
			t.writeText(b, c)
		}
	}
}
