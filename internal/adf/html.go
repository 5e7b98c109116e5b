package adf

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var whitespace = regexp.MustCompile(`\s+`)

// policy keeps exactly the markup the converter understands. Anything else
// is unwrapped to its text, and script/style content is dropped.
var policy = func() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements(
		"p", "h1", "h2", "h3", "h4", "h5", "h6",
		"ul", "ol", "li", "blockquote", "pre", "hr", "br",
		"b", "strong", "i", "em", "s", "strike", "del", "u", "code",
	)
	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("http", "https", "mailto")
	p.RequireParseableURLs(true)
	return p
}()

var headingLevels = map[atom.Atom]int{
	atom.H1: 1, atom.H2: 2, atom.H3: 3, atom.H4: 4, atom.H5: 5, atom.H6: 6,
}

var inlineMarks = map[atom.Atom]string{
	atom.B:      "strong",
	atom.Strong: "strong",
	atom.I:      "em",
	atom.Em:     "em",
	atom.S:      "strike",
	atom.Strike: "strike",
	atom.Del:    "strike",
	atom.U:      "underline",
	atom.Code:   "code",
}

// FromHTML converts an HTML fragment into an ADF document.
func FromHTML(fragment string) (*Node, error) {
	clean := policy.Sanitize(fragment)

	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(clean), body)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return Doc(blocks(nodes)...), nil
}

// blocks converts sibling nodes at block level. Runs of inline content
// between block elements become paragraphs.
func blocks(nodes []*html.Node) []*Node {
	var out []*Node
	var pending []*Node

	flush := func() {
		if len(pending) > 0 && !blank(pending) {
			out = append(out, Paragraph(trimmed(pending)...))
		}
		pending = nil
	}

	for _, n := range nodes {
		if n.Type == html.ElementNode && isBlock(n.DataAtom) {
			flush()
			out = append(out, block(n)...)
			continue
		}
		pending = append(pending, inline(n, nil)...)
	}
	flush()
	return out
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Ul, atom.Ol, atom.Li, atom.Blockquote, atom.Pre, atom.Hr,
		atom.Div, atom.Section, atom.Article:
		return true
	}
	_, heading := headingLevels[a]
	return heading
}

func block(n *html.Node) []*Node {
	if level, ok := headingLevels[n.DataAtom]; ok {
		return []*Node{{
			Type:    "heading",
			Attrs:   map[string]any{"level": level},
			Content: inlineContent(n),
		}}
	}

	switch n.DataAtom {
	case atom.P:
		return []*Node{Paragraph(trimmed(inlineChildren(n))...)}
	case atom.Ul:
		return []*Node{list("bulletList", n)}
	case atom.Ol:
		return []*Node{list("orderedList", n)}
	case atom.Li:
		return []*Node{{Type: "bulletList", Content: []*Node{listItem(n)}}}
	case atom.Blockquote:
		content := blocks(children(n))
		if len(content) == 0 {
			content = []*Node{Paragraph()}
		}
		return []*Node{{Type: "blockquote", Content: content}}
	case atom.Pre:
		code := &Node{Type: "codeBlock"}
		if text := rawText(n); text != "" {
			code.Content = []*Node{Text(text)}
		}
		return []*Node{code}
	case atom.Hr:
		return []*Node{{Type: "rule"}}
	default:
		return blocks(children(n))
	}
}

func list(kind string, n *html.Node) *Node {
	node := &Node{Type: kind}
	for _, c := range children(n) {
		switch {
		case c.Type == html.ElementNode && c.DataAtom == atom.Li:
			node.Content = append(node.Content, listItem(c))
		case c.Type == html.ElementNode && (c.DataAtom == atom.Ul || c.DataAtom == atom.Ol):
			// A list nested directly in a list belongs to the previous item.
			nested := block(c)
			if len(node.Content) == 0 {
				node.Content = append(node.Content, &Node{Type: "listItem", Content: []*Node{Paragraph()}})
			}
			last := node.Content[len(node.Content)-1]
			last.Content = append(last.Content, nested...)
		}
	}
	if len(node.Content) == 0 {
		node.Content = []*Node{{Type: "listItem", Content: []*Node{Paragraph()}}}
	}
	return node
}

// listItem splits an item into a paragraph for its inline content followed
// by any nested blocks.
func listItem(n *html.Node) *Node {
	content := blocks(children(n))
	if len(content) == 0 {
		content = []*Node{Paragraph()}
	}
	return &Node{Type: "listItem", Content: content}
}

func inlineContent(n *html.Node) []*Node {
	content := trimmed(inlineChildren(n))
	if len(content) == 0 {
		return []*Node{Placeholder()}
	}
	return content
}

func inlineChildren(n *html.Node) []*Node {
	var out []*Node
	for _, c := range children(n) {
		out = append(out, inline(c, nil)...)
	}
	return out
}

// inline converts n and its descendants, accumulating marks on the way down.
func inline(n *html.Node, marks []Mark) []*Node {
	switch n.Type {
	case html.TextNode:
		text := whitespace.ReplaceAllString(n.Data, " ")
		if text == "" {
			return nil
		}
		return []*Node{Text(text, marks...)}
	case html.ElementNode:
	default:
		return nil
	}

	if n.DataAtom == atom.Br {
		return []*Node{{Type: "hardBreak"}}
	}

	next := marks
	if kind, ok := inlineMarks[n.DataAtom]; ok {
		next = withMark(marks, Mark{Type: kind})
	} else if n.DataAtom == atom.A {
		if href := attr(n, "href"); href != "" {
			next = withMark(marks, Mark{Type: "link", Attrs: map[string]any{"href": href}})
		}
	}

	var out []*Node
	for _, c := range children(n) {
		out = append(out, inline(c, next)...)
	}
	return out
}

func withMark(marks []Mark, m Mark) []Mark {
	for _, existing := range marks {
		if existing.Type == m.Type {
			return marks
		}
	}
	out := make([]Mark, 0, len(marks)+1)
	out = append(out, marks...)
	return append(out, m)
}

// trimmed drops leading and trailing blank text so "<p> </p>" is empty.
func trimmed(nodes []*Node) []*Node {
	if blank(nodes) {
		return nil
	}
	if first := nodes[0]; first.Type == "text" {
		s := strings.TrimLeft(*first.Text, " ")
		first.Text = &s
	}
	if last := nodes[len(nodes)-1]; last.Type == "text" {
		s := strings.TrimRight(*last.Text, " ")
		last.Text = &s
	}
	out := nodes[:0]
	for _, n := range nodes {
		if n.Type == "text" && *n.Text == "" {
			continue
		}
		out = append(out, n)
	}
	return out
}

func blank(nodes []*Node) bool {
	for _, n := range nodes {
		if n.Type != "text" || strings.TrimSpace(*n.Text) != "" {
			return false
		}
	}
	return true
}

func rawText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			b.WriteString(n.Data)
		case n.Type == html.ElementNode && n.DataAtom == atom.Br:
			b.WriteByte('\n')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSuffix(b.String(), "\n")
}

func children(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, c)
	}
	return out
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
