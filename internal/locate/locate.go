package locate

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"dashetl/internal/rules"
)

// Marker classes of the dashboard's value tiles.
const (
	PrimaryClass   = "dashboard-primary-text"
	SecondaryClass = "dashboard-secondary-text"
)

// contextAncestors bounds how far a next-sibling match looks for its context.
const contextAncestors = 5

// Locate resolves r against d and returns the trimmed text it points at.
// The result is deterministic for a given document.
func Locate(d *Document, r rules.FieldRule) (string, bool) {
	if d == nil {
		return "", false
	}
	switch r := r.(type) {
	case rules.CSSRule:
		return d.css(r.Selector)
	case rules.NextSiblingRule:
		return d.nextSibling(r.Label, r.Context)
	case rules.DashboardPrimaryRule:
		return d.tileValue(r.Context, PrimaryClass)
	case rules.DashboardSecondaryRule:
		return d.tileValue(r.Context, SecondaryClass)
	default:
		return "", false
	}
}

const containsPseudo = ":contains"

var quotedRe = regexp.MustCompile(`['"](.*?)['"]`)

func (d *Document) css(selector string) (string, bool) {
	if strings.Contains(selector, containsPseudo) {
		return d.cssContains(selector)
	}
	sel := d.doc.Find(selector).First()
	if sel.Length() == 0 {
		return "", false
	}
	return nonEmpty(strings.TrimSpace(sel.Text()))
}

// cssContains handles `base:contains('text')` and `base:contains('text') + p`.
// Elements matching base are scanned in order; the first whose text contains
// the literal wins. With the sibling suffix, a match without a following
// sibling of the base tag is skipped.
func (d *Document) cssContains(selector string) (string, bool) {
	idx := strings.Index(selector, containsPseudo)
	base := strings.TrimSpace(selector[:idx])
	if base == "" {
		base = "p"
	}
	m := quotedRe.FindStringSubmatch(selector[idx+len(containsPseudo):])
	if m == nil {
		return "", false
	}
	needle := m[1]
	wantSibling := strings.Contains(selector, "+ p")

	var (
		out   string
		found bool
	)
	d.doc.Find(base).EachWithBreak(func(_ int, el *goquery.Selection) bool {
		if !strings.Contains(el.Text(), needle) {
			return true
		}
		if !wantSibling {
			out, found = strings.TrimSpace(el.Text()), true
			return false
		}
		sib := el.NextAllFiltered(base).First()
		if sib.Length() == 0 {
			return true
		}
		out, found = strings.TrimSpace(sib.Text()), true
		return false
	})
	if !found {
		return "", false
	}
	return nonEmpty(out)
}

// nextSibling scans every text node containing label. For each candidate
// that passes the context filter, the value is the next element sibling of
// the label's element, or failing that the primary value inside the label's
// grandparent. The first candidate producing a value wins.
func (d *Document) nextSibling(label, context string) (string, bool) {
	for _, tn := range d.TextNodes(Containing(label)) {
		if context != "" && !ancestorsMention(tn, context) {
			continue
		}

		parent := Parent(tn)
		if parent == nil {
			continue
		}
		if next := NextElementSibling(parent); next != nil {
			if text := TrimmedText(next); text != "" && text != label {
				return text, true
			}
		}
		container := Parent(parent)
		if container == nil {
			continue
		}
		if v := Wrap(container).Find("." + PrimaryClass).First(); v.Length() > 0 {
			if text := strings.TrimSpace(v.Text()); text != "" {
				return text, true
			}
		}
	}
	return "", false
}

func ancestorsMention(n *html.Node, context string) bool {
	p := Parent(n)
	for i := 0; i < contextAncestors && p != nil; i++ {
		if strings.Contains(Text(p), context) {
			return true
		}
		p = p.Parent
	}
	return false
}

// tileValue finds the first text node mentioning context, treats its
// grandparent as the tile and returns the first descendant carrying class.
func (d *Document) tileValue(context, class string) (string, bool) {
	tn := d.FirstText(Containing(context))
	if tn == nil {
		return "", false
	}
	tile := Parent(Parent(tn))
	if tile == nil {
		return "", false
	}
	v := Wrap(tile).Find("." + class).First()
	if v.Length() == 0 {
		return "", false
	}
	return nonEmpty(strings.TrimSpace(v.Text()))
}

func nonEmpty(s string) (string, bool) {
	return s, s != ""
}
