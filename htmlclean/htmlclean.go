// Package htmlclean reduces fetched HTML pages to the content worth showing
// an AI model: boilerplate elements, scripts, and comments are dropped and
// the result is truncated to a byte budget.
package htmlclean

import (
	"strings"

	"golang.org/x/net/html"
)

// droppedElements never contribute recipe content.
var droppedElements = map[string]struct{}{
	"script": {}, "style": {}, "nav": {}, "header": {}, "footer": {},
	"aside": {}, "svg": {}, "link": {}, "meta": {}, "noscript": {},
	"iframe": {},
}

// Reduce strips boilerplate from an HTML document and truncates the result
// to maxLen bytes (0 means no limit). Documents that fail to parse come back
// truncated but otherwise untouched.
func Reduce(content string, maxLen int) string {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return truncate(content, maxLen)
	}

	prune(doc)

	var sb strings.Builder
	if err := html.Render(&sb, doc); err != nil {
		return truncate(content, maxLen)
	}

	return truncate(collapseBlankLines(sb.String()), maxLen)
}

// prune removes dropped elements and comments in place.
func prune(n *html.Node) {
	var next *html.Node
	for child := n.FirstChild; child != nil; child = next {
		next = child.NextSibling
		switch {
		case child.Type == html.CommentNode:
			n.RemoveChild(child)
		case child.Type == html.ElementNode && isDropped(child.Data):
			n.RemoveChild(child)
		default:
			prune(child)
		}
	}
}

func isDropped(tag string) bool {
	_, ok := droppedElements[strings.ToLower(tag)]
	return ok
}

// collapseBlankLines removes empty lines and per-line edge whitespace.
func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			kept = append(kept, trimmed)
		}
	}
	return strings.Join(kept, "\n")
}

func truncate(s string, maxLen int) string {
	if maxLen > 0 && len(s) > maxLen {
		return s[:maxLen]
	}
	return s
}
