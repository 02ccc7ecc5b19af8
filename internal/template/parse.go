package template

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Parse reads a template document into a tree.
//
// Parsing is lenient: missing end tags are invented, unknown entities are
// left alone, and on a syntax error the nodes read so far are kept. In that
// case the returned tree is usable and err describes the first problem.
func Parse(content []byte) (*Tree, NodeID, error) {
	t, root := NewTree()

	dec := xml.NewDecoder(bytes.NewReader(content))
	dec.Strict = false
	dec.AutoClose = xml.HTMLAutoClose
	dec.Entity = xml.HTMLEntity

	stack := []NodeID{root}
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			if len(stack) > 1 {
				return t, root, fmt.Errorf("unterminated element <%s>", t.Nodes[stack[len(stack)-1]].Tag)
			}
			return t, root, nil
		}
		if err != nil {
			return t, root, fmt.Errorf("parsing template: %w", err)
		}

		top := stack[len(stack)-1]
		switch tok := tok.(type) {
		case xml.StartElement:
			attrs := make([]Attr, 0, len(tok.Attr))
			for _, a := range tok.Attr {
				attrs = append(attrs, Attr{Name: a.Name.Local, Value: a.Value})
			}
			id := t.AppendChild(top, Node{Kind: ElementNode, Tag: tok.Name.Local, Attrs: attrs})
			stack = append(stack, id)
		case xml.EndElement:
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			// CDATA sections continue the surrounding text run.
			if kids := t.Nodes[top].Children; len(kids) > 0 && t.Nodes[kids[len(kids)-1]].Kind == TextNode {
				t.Nodes[kids[len(kids)-1]].Text += string(tok)
				continue
			}
			t.AppendChild(top, Node{Kind: TextNode, Text: string(tok)})
		case xml.Comment:
			t.AppendChild(top, Node{Kind: CommentNode, Text: strings.TrimSpace(string(tok))})
		}
	}
}

// ParseFragment parses a bare template body, such as the contents of a
// single statement without the enclosing document.
func ParseFragment(body string) (*Tree, NodeID, error) {
	return Parse([]byte(body))
}
