package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/herald/pkg/schema"
)

func variable(id string) *schema.Node {
	return &schema.Node{Type: schema.NodeVariable, Attrs: map[string]any{"id": id}}
}

func paragraph(children ...*schema.Node) *schema.Node {
	return &schema.Node{Type: schema.NodeParagraph, Content: children}
}

func forNode(each string, children ...*schema.Node) *schema.Node {
	return &schema.Node{Type: schema.NodeFor, Attrs: map[string]any{"each": each}, Content: children}
}

func doc(children ...*schema.Node) *schema.Node {
	return &schema.Node{Type: schema.NodeDoc, Content: children}
}

func TestWrap_Variable(t *testing.T) {
	out := Wrap(doc(paragraph(variable("payload.name"))))
	assert.Equal(t, "{{ payload.name }}", out.Content[0].Content[0].Attrs["id"])
}

func TestWrap_Fallback(t *testing.T) {
	v := variable("payload.name")
	v.Attrs["fallback"] = "friend"
	out := Wrap(doc(paragraph(v)))
	assert.Equal(t, "{{ payload.name | default: 'friend' }}", out.Content[0].Content[0].Attrs["id"])

	v.Attrs["fallback"] = "it's you"
	out = Wrap(doc(paragraph(v)))
	assert.Equal(t, `{{ payload.name | default: "it's you" }}`, out.Content[0].Content[0].Attrs["id"])

	v.Attrs["fallback"] = `it's "x"`
	out = Wrap(doc(paragraph(v)))
	assert.Equal(t, `{{ payload.name | default: ("it's " | append: '"x"') }}`, out.Content[0].Content[0].Attrs["id"])
}

func TestQuoteLiteral(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "'plain'"},
		{"", "''"},
		{"it's", `"it's"`},
		{`say "hi"`, `'say "hi"'`},
		{`a"b'c"d'`, `('a"b' | append: "'c" | append: '"d' | append: "'")`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, quoteLiteral(tt.in))
		})
	}
}

func TestWrap_DoesNotMutateInput(t *testing.T) {
	in := doc(paragraph(variable("payload.name")))
	_ = Wrap(in)
	assert.Equal(t, "payload.name", in.Content[0].Content[0].Attrs["id"])
}

func TestWrap_Idempotent(t *testing.T) {
	button := &schema.Node{Type: schema.NodeButton, Attrs: map[string]any{
		"text": "payload.cta", "isTextVariable": true,
		"url": "https://example.com", "isUrlVariable": false,
		"showIfKey": "payload.show",
	}}
	in := doc(
		paragraph(variable("subscriber.firstName")),
		forNode("payload.items", paragraph(variable("payload.items.name"))),
		button,
	)

	once := Wrap(in)
	twice := Wrap(once)
	assert.Equal(t, once, twice)
}

func TestWrap_ForLoopScoping(t *testing.T) {
	in := doc(
		forNode("payload.comments",
			paragraph(variable("payload.comments.author")),
			forNode("payload.comments.replies",
				paragraph(variable("payload.comments.replies.text")),
			),
		),
		paragraph(variable("payload.comments.author")),
		paragraph(variable("payload.postTitle")),
	)

	out := Wrap(in)
	outer := out.Content[0]
	assert.Equal(t, "{{ payload.comments }}", outer.Attrs["each"])
	assert.Equal(t, "{{ payload.comments[0].author }}", outer.Content[0].Content[0].Attrs["id"])

	inner := outer.Content[1]
	assert.Equal(t, "{{ payload.comments[0].replies }}", inner.Attrs["each"])
	assert.Equal(t, "{{ payload.comments[0].replies[0].text }}", inner.Content[0].Content[0].Attrs["id"])

	// outside the loop the path is left alone
	assert.Equal(t, "{{ payload.comments.author }}", out.Content[1].Content[0].Attrs["id"])
	assert.Equal(t, "{{ payload.postTitle }}", out.Content[2].Content[0].Attrs["id"])
}

func TestWrap_ScopeMatchesWholeSegments(t *testing.T) {
	out := Wrap(doc(forNode("payload.item", paragraph(variable("payload.items.name")))))
	assert.Equal(t, "{{ payload.items.name }}", out.Content[0].Content[0].Content[0].Attrs["id"])
}

func TestWrap_FlaggedAttributes(t *testing.T) {
	button := &schema.Node{Type: schema.NodeButton, Attrs: map[string]any{
		"text": "payload.cta", "isTextVariable": true,
		"url": "https://example.com", "isUrlVariable": false,
	}}
	image := &schema.Node{Type: schema.NodeImage, Attrs: map[string]any{
		"src": "payload.logo", "isSrcVariable": true,
	}}
	out := Wrap(doc(button, image))

	b := out.Content[0].Attrs
	assert.Equal(t, "{{ payload.cta }}", b["text"])
	assert.Equal(t, false, b["isTextVariable"])
	assert.Equal(t, "https://example.com", b["url"])

	assert.Equal(t, "{{ payload.logo }}", out.Content[1].Attrs["src"])
	assert.Equal(t, false, out.Content[1].Attrs["isSrcVariable"])
}

func TestWrap_LinkMark(t *testing.T) {
	text := &schema.Node{Type: schema.NodeText, Text: "click", Marks: []schema.Mark{{
		Type:  schema.NodeLink,
		Attrs: map[string]any{"href": "payload.link", "isUrlVariable": true},
	}}}
	out := Wrap(doc(paragraph(text)))
	assert.Equal(t, "{{ payload.link }}", out.Content[0].Content[0].Marks[0].Attrs["href"])
}

func TestWrap_ShowIf(t *testing.T) {
	p := paragraph(&schema.Node{Type: schema.NodeText, Text: "hi"})
	p.Attrs = map[string]any{"showIfKey": "payload.visible"}
	out := Wrap(doc(p))
	assert.Equal(t, "{{ payload.visible }}", out.Content[0].Attrs["showIfKey"])
}

func TestExpressionPath(t *testing.T) {
	assert.Equal(t, "payload.a", ExpressionPath("payload.a"))
	assert.Equal(t, "payload.a", ExpressionPath("{{ payload.a | upcase }}"))
	assert.Equal(t, "payload.a", ExpressionPath("{{- payload.a -}}"))
}

func TestFromValue(t *testing.T) {
	raw := `{"type":"doc","content":[{"type":"paragraph"}]}`
	n, ok := FromValue(raw)
	require.True(t, ok)
	assert.Len(t, n.Content, 1)

	_, ok = FromValue(map[string]any{"type": "doc"})
	assert.True(t, ok)

	assert.False(t, IsDocument("Hello {{ subscriber.firstName }}"))
	assert.False(t, IsDocument(map[string]any{"type": "paragraph"}))
	assert.False(t, IsDocument(42))
}

func TestMarshal_NoHTMLEscape(t *testing.T) {
	b, err := Marshal(doc(paragraph(&schema.Node{Type: schema.NodeText, Text: "a < b & c"})))
	require.NoError(t, err)
	assert.Contains(t, string(b), "a < b & c")
}
