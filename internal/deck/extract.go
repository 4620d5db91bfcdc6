package deck

import (
	"bytes"
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode"

	xhtml "golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"
)

const (
	// DefaultAttribute carries narration on slide elements.
	DefaultAttribute = "data-speech"

	contentFallbackRunes = 100
)

// Extractor pulls narration strings out of a deck.
type Extractor struct {
	// Attribute holding the narration. Defaults to DefaultAttribute.
	Attribute string

	// ContentFallback uses the visible text of .slide elements when no
	// element carries Attribute.
	ContentFallback bool
}

// Extract returns one slide per non-empty narration, in document order.
// Malformed markup never fails; the worst case is an empty result.
func (e Extractor) Extract(src []byte) ([]*Slide, error) {
	attr := e.attribute()

	texts, err := parseNarration(src, attr)
	if err != nil || (len(texts) == 0 && bytes.Contains(src, []byte(attr))) {
		texts = scanNarration(src, attr)
	}

	selector := "[" + attr + "]"
	if len(texts) == 0 && e.ContentFallback {
		texts = slideContent(src)
		selector = ".slide"
	}

	slides := make([]*Slide, 0, len(texts))
	for element, raw := range texts {
		text := Clean(raw)
		if text == "" {
			continue
		}
		s := NewSlide(len(slides)+1, element, text)
		s.Selector = selector
		slides = append(slides, s)
	}
	return slides, nil
}

func (e Extractor) attribute() string {
	if e.Attribute == "" {
		return DefaultAttribute
	}
	return strings.ToLower(e.Attribute)
}

// Clean normalizes narration: NFC, collapsed whitespace, trimmed.
func Clean(s string) string {
	s = norm.NFC.String(s)
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}

// parseNarration walks the parsed document and returns the attribute value of
// every element carrying it, empty values included, in document order.
func parseNarration(src []byte, attr string) ([]string, error) {
	doc, err := xhtml.Parse(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var out []string
	var walk func(*xhtml.Node)
	walk = func(n *xhtml.Node) {
		if n.Type == xhtml.ElementNode {
			for _, a := range n.Attr {
				if a.Key == attr {
					out = append(out, a.Val)
					break
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out, nil
}

// scanNarration is the pattern-based fallback for markup the parser could not
// make sense of.
func scanNarration(src []byte, attr string) []string {
	re := regexp.MustCompile(`(?is)<[a-z][^>]*?\s` + regexp.QuoteMeta(attr) +
		`\s*=\s*(?:"([^"]*)"|'([^']*)'|([^\s>"']+))`)

	var out []string
	for _, m := range re.FindAllSubmatch(src, -1) {
		var v []byte
		for _, g := range m[1:] {
			if g != nil {
				v = g
				break
			}
		}
		out = append(out, html.UnescapeString(string(v)))
	}
	return out
}

// slideContent returns the text of every element with class "slide".
func slideContent(src []byte) []string {
	doc, err := xhtml.Parse(bytes.NewReader(src))
	if err != nil {
		return nil
	}

	var out []string
	var walk func(*xhtml.Node)
	walk = func(n *xhtml.Node) {
		if n.Type == xhtml.ElementNode && hasClass(n, "slide") {
			out = append(out, truncateRunes(Clean(textOf(n)), contentFallbackRunes))
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out
}

func hasClass(n *xhtml.Node, class string) bool {
	for _, a := range n.Attr {
		if a.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(a.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}

func textOf(n *xhtml.Node) string {
	var b strings.Builder
	var walk func(*xhtml.Node)
	walk = func(n *xhtml.Node) {
		switch {
		case n.Type == xhtml.TextNode:
			b.WriteString(n.Data)
			b.WriteByte(' ')
		case n.Type == xhtml.ElementNode && (n.Data == "script" || n.Data == "style"):
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
