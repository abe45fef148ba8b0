package schema

// NodeType is the type tag of a Maily document node or mark.
type NodeType string

const (
	NodeDoc            NodeType = "doc"
	NodeParagraph      NodeType = "paragraph"
	NodeText           NodeType = "text"
	NodeHeading        NodeType = "heading"
	NodeSection        NodeType = "section"
	NodeFor            NodeType = "for"
	NodeVariable       NodeType = "variable"
	NodeButton         NodeType = "button"
	NodeImage          NodeType = "image"
	NodeInlineImage    NodeType = "inlineImage"
	NodeLink           NodeType = "link"
	NodeHardBreak      NodeType = "hardBreak"
	NodeHorizontalRule NodeType = "horizontalRule"
	NodeSpacer         NodeType = "spacer"
	NodeFooter         NodeType = "footer"
	NodeBulletList     NodeType = "bulletList"
	NodeOrderedList    NodeType = "orderedList"
	NodeListItem       NodeType = "listItem"
	NodeColumns        NodeType = "columns"
	NodeColumn         NodeType = "column"
	NodeHTMLCodeBlock  NodeType = "htmlCodeBlock"
)

// Well-known node attributes.
const (
	AttrID        = "id"
	AttrShowIfKey = "showIfKey"
	AttrEach      = "each"
	AttrFallback  = "fallback"
)

// Node is one node of a Maily (TipTap) document tree. Attrs keeps every
// attribute, known or not, so documents round-trip without loss.
type Node struct {
	Type    NodeType       `json:"type"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Marks   []Mark         `json:"marks,omitempty"`
	Content []*Node        `json:"content,omitempty"`
	Text    string         `json:"text,omitempty"`
}

// Mark is an inline decoration (bold, link, ...) on a text node.
type Mark struct {
	Type  NodeType       `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// Attr returns the attribute value for key, or nil.
func (n *Node) Attr(key string) any {
	if n == nil || n.Attrs == nil {
		return nil
	}
	return n.Attrs[key]
}

// StringAttr returns the attribute as a string, or "" if absent or not a string.
func (n *Node) StringAttr(key string) string {
	s, _ := n.Attr(key).(string)
	return s
}

// Clone returns a deep copy of the node and its subtree.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	cp := &Node{
		Type:  n.Type,
		Text:  n.Text,
		Attrs: cloneAttrs(n.Attrs),
	}
	if n.Marks != nil {
		cp.Marks = make([]Mark, len(n.Marks))
		for i, m := range n.Marks {
			cp.Marks[i] = Mark{Type: m.Type, Attrs: cloneAttrs(m.Attrs)}
		}
	}
	if n.Content != nil {
		cp.Content = make([]*Node, len(n.Content))
		for i, c := range n.Content {
			cp.Content[i] = c.Clone()
		}
	}
	return cp
}

func cloneAttrs(attrs map[string]any) map[string]any {
	if attrs == nil {
		return nil
	}
	cp := make(map[string]any, len(attrs))
	for k, v := range attrs {
		cp[k] = DeepCopy(v)
	}
	return cp
}

// DeepCopy recursively copies JSON-shaped values (maps, slices, scalars).
func DeepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		cp := make(map[string]any, len(val))
		for k, item := range val {
			cp[k] = DeepCopy(item)
		}
		return cp
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = DeepCopy(item)
		}
		return cp
	default:
		return v
	}
}
