// Package ingest fetches every document on a bill's timeline and persists
// it as plain UTF-8 text, one .txt per document. HTML documents are
// reduced to visible text; PDFs go through a primary in-process extractor
// with a poppler fallback.
package ingest

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

var skipElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
}

var blockElements = map[string]bool{
	"p": true, "div": true, "li": true, "ul": true, "ol": true,
	"table": true, "tr": true, "blockquote": true, "pre": true,
	"section": true, "article": true, "header": true, "footer": true,
	"form": true, "h1": true, "h2": true, "h3": true, "h4": true,
	"h5": true, "h6": true,
}

// ExtractVisibleText reduces a page to its visible text. Script, style and
// noscript subtrees are dropped; block elements and <br> contribute
// newlines. Whitespace runs collapse to a single space unless the run
// holds two or more newlines, which becomes one paragraph break.
func ExtractVisibleText(pageHTML string) (string, error) {
	doc, err := html.Parse(strings.NewReader(pageHTML))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	var b strings.Builder
	collectText(doc, &b)
	return normalizeWhitespace(b.String()), nil
}

func collectText(n *html.Node, b *strings.Builder) {
	if n.Type == html.ElementNode {
		if skipElements[n.Data] {
			return
		}
		if n.Data == "br" {
			b.WriteString("\n")
			return
		}
	}
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
	}

	block := n.Type == html.ElementNode && blockElements[n.Data]
	if block {
		b.WriteString("\n\n")
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
	if block {
		b.WriteString("\n\n")
	}
	// Table cells separate with a space so row text stays readable.
	if n.Type == html.ElementNode && (n.Data == "td" || n.Data == "th") {
		b.WriteString(" ")
	}
}

func normalizeWhitespace(raw string) string {
	// The portal leans on &nbsp; for layout; treat it as an ordinary space.
	raw = strings.ReplaceAll(raw, " ", " ")

	var b strings.Builder
	b.Grow(len(raw))

	i := 0
	for i < len(raw) {
		c := raw[i]
		if !isSpace(c) {
			b.WriteByte(c)
			i++
			continue
		}
		newlines := 0
		for i < len(raw) && isSpace(raw[i]) {
			if raw[i] == '\n' {
				newlines++
			}
			i++
		}
		if b.Len() == 0 || i >= len(raw) {
			continue // trim the edges
		}
		if newlines >= 2 {
			b.WriteString("\n\n")
		} else {
			b.WriteByte(' ')
		}
	}
	return b.String()
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\f', '\v':
		return true
	}
	return false
}
