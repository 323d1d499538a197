// Package excerpt turns an article's HTML summary into a short plain-text
// excerpt suitable for list rows.
package excerpt

import (
	"html"
	"strings"
	"unicode/utf8"

	nethtml "golang.org/x/net/html"
)

// DefaultMaxRunes bounds excerpts built by FromHTML.
const DefaultMaxRunes = 280

var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "ul": true, "ol": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "pre": true, "figure": true, "figcaption": true,
	"table": true, "tr": true, "section": true, "article": true,
}

var skippedElements = map[string]bool{
	"script": true, "style": true, "noscript": true, "iframe": true,
	"svg": true, "img": true, "video": true, "audio": true,
}

// FromHTML returns the excerpt of raw truncated to DefaultMaxRunes.
func FromHTML(raw string) string {
	return Truncate(Text(raw), DefaultMaxRunes)
}

// Text flattens an HTML fragment into whitespace-normalized text, separating
// block elements with a single space.
func Text(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	doc, err := nethtml.Parse(strings.NewReader("<html><body>" + raw + "</body></html>"))
	if err != nil {
		return collapseSpace(html.UnescapeString(raw))
	}
	body := findBodyNode(doc)
	if body == nil {
		return collapseSpace(html.UnescapeString(raw))
	}

	var b strings.Builder
	collectText(&b, body)
	return collapseSpace(b.String())
}

// Truncate shortens s to at most maxRunes runes, cutting at a word boundary
// when one is close and appending an ellipsis.
func Truncate(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	if maxRunes <= 3 {
		return strings.Repeat(".", maxRunes)
	}
	runes := []rune(s)
	cut := string(runes[:maxRunes-3])
	if i := strings.LastIndexByte(cut, ' '); i > len(cut)/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,;:.") + "..."
}

func collectText(b *strings.Builder, node *nethtml.Node) {
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		switch child.Type {
		case nethtml.TextNode:
			b.WriteString(child.Data)
		case nethtml.ElementNode:
			name := strings.ToLower(child.Data)
			if skippedElements[name] {
				continue
			}
			if blockElements[name] {
				b.WriteByte(' ')
			}
			collectText(b, child)
			if blockElements[name] {
				b.WriteByte(' ')
			}
		}
	}
}

func findBodyNode(node *nethtml.Node) *nethtml.Node {
	if node == nil {
		return nil
	}
	if node.Type == nethtml.ElementNode && strings.EqualFold(node.Data, "body") {
		return node
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if found := findBodyNode(child); found != nil {
			return found
		}
	}
	return nil
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
