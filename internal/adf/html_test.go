package adf

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	strong    = Mark{Type: "strong"}
	em        = Mark{Type: "em"}
	strike    = Mark{Type: "strike"}
	underline = Mark{Type: "underline"}
	code      = Mark{Type: "code"}
)

func item(content ...*Node) *Node {
	return &Node{Type: "listItem", Content: content}
}

func TestFromHTML(t *testing.T) {
	tests := []struct {
		name string
		html string
		want *Node
	}{
		{
			name: "empty input",
			html: "",
			want: Doc(Paragraph(Placeholder())),
		},
		{
			name: "nested marks accumulate",
			html: "<p>Hello <strong>bold <em>both</em></strong></p>",
			want: Doc(Paragraph(
				Text("Hello "),
				Text("bold ", strong),
				Text("both", strong, em),
			)),
		},
		{
			name: "mark aliases",
			html: "<p><b>a</b><i>b</i><s>c</s><del>d</del><u>e</u><code>f</code></p>",
			want: Doc(Paragraph(
				Text("a", strong),
				Text("b", em),
				Text("c", strike),
				Text("d", strike),
				Text("e", underline),
				Text("f", code),
			)),
		},
		{
			name: "link carries href",
			html: `<p>see <a href="https://example.com/x?a=1&amp;b=2">docs</a></p>`,
			want: Doc(Paragraph(
				Text("see "),
				Text("docs", Mark{Type: "link", Attrs: map[string]any{"href": "https://example.com/x?a=1&b=2"}}),
			)),
		},
		{
			name: "line breaks",
			html: "<p>one<br>two</p>",
			want: Doc(Paragraph(Text("one"), &Node{Type: "hardBreak"}, Text("two"))),
		},
		{
			name: "headings",
			html: "<h2>Title</h2><h6></h6>",
			want: Doc(
				&Node{Type: "heading", Attrs: map[string]any{"level": 2}, Content: []*Node{Text("Title")}},
				&Node{Type: "heading", Attrs: map[string]any{"level": 6}, Content: []*Node{Placeholder()}},
			),
		},
		{
			name: "empty paragraph gets placeholder",
			html: "<p></p><p>   </p>",
			want: Doc(Paragraph(Placeholder()), Paragraph(Placeholder())),
		},
		{
			name: "nested list splits item",
			html: "<ul><li>Parent<ul><li>Child</li></ul></li><li></li></ul>",
			want: Doc(&Node{Type: "bulletList", Content: []*Node{
				item(
					Paragraph(Text("Parent")),
					&Node{Type: "bulletList", Content: []*Node{item(Paragraph(Text("Child")))}},
				),
				item(Paragraph(Placeholder())),
			}}),
		},
		{
			name: "ordered list",
			html: "<ol><li><b>first</b></li><li>second</li></ol>",
			want: Doc(&Node{Type: "orderedList", Content: []*Node{
				item(Paragraph(Text("first", strong))),
				item(Paragraph(Text("second"))),
			}}),
		},
		{
			name: "blockquote code block and rule",
			html: "<blockquote><p>quoted</p></blockquote><pre>a := 1\nb := 2</pre><hr>",
			want: Doc(
				&Node{Type: "blockquote", Content: []*Node{Paragraph(Text("quoted"))}},
				&Node{Type: "codeBlock", Content: []*Node{Text("a := 1\nb := 2")}},
				&Node{Type: "rule"},
			),
		},
		{
			name: "stray inline content is wrapped",
			html: "plain <b>text</b><p>after</p>tail",
			want: Doc(
				Paragraph(Text("plain "), Text("text", strong)),
				Paragraph(Text("after")),
				Paragraph(Text("tail")),
			),
		},
		{
			name: "scripts are dropped",
			html: "<p>hi<script>alert(1)</script></p>",
			want: Doc(Paragraph(Text("hi"))),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromHTML(tt.html)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("FromHTML(%q) mismatch (-want +got):\n%s", tt.html, diff)
			}
		})
	}
}

func TestUnsafeLinkLosesHref(t *testing.T) {
	got, err := FromHTML(`<p><a href="javascript:alert(1)">x</a></p>`)
	require.NoError(t, err)
	if diff := cmp.Diff(Doc(Paragraph(Text("x"))), got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestPlaceholderSurvivesEncoding(t *testing.T) {
	doc, err := FromHTML("<p></p>")
	require.NoError(t, err)

	data, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"type":"doc","version":1,"content":[{"type":"paragraph","content":[{"type":"text","text":""}]}]}`,
		string(data))
}

func TestPlainText(t *testing.T) {
	want := Doc(Paragraph(Text("first")), Paragraph(Placeholder()), Paragraph(Text("third")))
	if diff := cmp.Diff(want, PlainText("first\n\nthird")); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}
