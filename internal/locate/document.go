// Package locate resolves field rules against a parsed dashboard page.
//
// All structural assumptions about the page (how far to climb from a label,
// which class marks a tile's value) live in this package and are driven by
// the rule variants from package rules. Lookups never fail loudly: a rule that
// matches nothing yields ("", false).
package locate

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Document is a parsed page plus an index of its text nodes in document
// order. It is read-only after construction and safe for concurrent lookups.
type Document struct {
	doc   *goquery.Document
	texts []*html.Node
}

// New indexes an already parsed goquery document.
func New(doc *goquery.Document) *Document {
	d := &Document{doc: doc}
	for _, root := range doc.Nodes {
		walk(root, func(n *html.Node) bool {
			if n.Type == html.TextNode {
				d.texts = append(d.texts, n)
			}
			return true
		})
	}
	return d
}

// Parse reads HTML from r.
func Parse(r io.Reader) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return New(doc), nil
}

// ParseString is Parse over an in-memory page.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// Selection returns the document root selection.
func (d *Document) Selection() *goquery.Selection { return d.doc.Selection }

// TextNodes returns every text node whose raw data satisfies match, in
// document order.
func (d *Document) TextNodes(match func(string) bool) []*html.Node {
	var out []*html.Node
	for _, n := range d.texts {
		if match(n.Data) {
			out = append(out, n)
		}
	}
	return out
}

// FirstText returns the first text node whose data satisfies match.
func (d *Document) FirstText(match func(string) bool) *html.Node {
	for _, n := range d.texts {
		if match(n.Data) {
			return n
		}
	}
	return nil
}

// Containing returns a predicate matching text that contains sub.
func Containing(sub string) func(string) bool {
	return func(s string) bool { return strings.Contains(s, sub) }
}

// walk visits n and its descendants in document order. Returning false from
// visit stops the walk.
func walk(n *html.Node, visit func(*html.Node) bool) bool {
	if !visit(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, visit) {
			return false
		}
	}
	return true
}

// Text is the concatenated text of n and all its descendants.
func Text(n *html.Node) string {
	if n == nil {
		return ""
	}
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
		return true
	})
	return b.String()
}

// TrimmedText is Text with surrounding whitespace removed.
func TrimmedText(n *html.Node) string {
	return strings.TrimSpace(Text(n))
}

// Wrap returns a selection rooted at n for CSS queries over its descendants.
func Wrap(n *html.Node) *goquery.Selection {
	return goquery.NewDocumentFromNode(n).Selection
}

// Parent returns the nearest ancestor of n, or nil at the root.
func Parent(n *html.Node) *html.Node {
	if n == nil {
		return nil
	}
	return n.Parent
}

// NextElementSibling returns the next sibling of n that is an element.
func NextElementSibling(n *html.Node) *html.Node {
	for s := n.NextSibling; s != nil; s = s.NextSibling {
		if s.Type == html.ElementNode {
			return s
		}
	}
	return nil
}

// FindAfter returns the first element following n in document order (its
// descendants first, then everything after it) that satisfies match.
func FindAfter(n *html.Node, match func(*html.Node) bool) *html.Node {
	var found *html.Node
	for c := n.FirstChild; c != nil && found == nil; c = c.NextSibling {
		walk(c, func(x *html.Node) bool {
			if x.Type == html.ElementNode && match(x) {
				found = x
				return false
			}
			return true
		})
	}
	if found != nil {
		return found
	}
	for cur := n; cur != nil; cur = cur.Parent {
		for s := cur.NextSibling; s != nil; s = s.NextSibling {
			walk(s, func(x *html.Node) bool {
				if x.Type == html.ElementNode && match(x) {
					found = x
					return false
				}
				return true
			})
			if found != nil {
				return found
			}
		}
	}
	return nil
}

// IsTag matches element nodes named tag.
func IsTag(tag string) func(*html.Node) bool {
	return func(n *html.Node) bool { return n.Type == html.ElementNode && n.Data == tag }
}
