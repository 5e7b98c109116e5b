// Package adf encodes HTML fragments as Atlassian Document Format trees, the
// rich-text representation Jira expects in description fields.
package adf

// Node is one node of an ADF tree.
type Node struct {
	Type    string         `json:"type"`
	Version int            `json:"version,omitempty"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Content []*Node        `json:"content,omitempty"`
	Text    *string        `json:"text,omitempty"`
	Marks   []Mark         `json:"marks,omitempty"`
}

// Mark is inline formatting applied to a text node.
type Mark struct {
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// Text returns a text node. Text nodes are the only nodes whose empty value
// is serialized, so placeholders survive encoding.
func Text(s string, marks ...Mark) *Node {
	return &Node{Type: "text", Text: &s, Marks: marks}
}

// Placeholder is the empty text node put into otherwise empty containers.
func Placeholder() *Node {
	return Text("")
}

// Paragraph wraps inline nodes.
func Paragraph(content ...*Node) *Node {
	if len(content) == 0 {
		content = []*Node{Placeholder()}
	}
	return &Node{Type: "paragraph", Content: content}
}

// Doc wraps block nodes in a version 1 document.
func Doc(content ...*Node) *Node {
	if len(content) == 0 {
		content = []*Node{Paragraph()}
	}
	return &Node{Type: "doc", Version: 1, Content: content}
}

// PlainText renders a plain string as a document, one paragraph per line.
func PlainText(s string) *Node {
	var blocks []*Node
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '\n' {
			line := s[start:i]
			if line == "" {
				blocks = append(blocks, Paragraph())
			} else {
				blocks = append(blocks, Paragraph(Text(line)))
			}
			start = i + 1
		}
	}
	return Doc(blocks...)
}
