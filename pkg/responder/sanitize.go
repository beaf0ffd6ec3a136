package responder

import (
	"html"
	"regexp"
	"strings"
)

var (
	fencedCode = regexp.MustCompile("(?s)```[a-zA-Z0-9_-]*\\n?(.*?)```")
	inlineCode = regexp.MustCompile("`([^`]*)`")
	image      = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	link       = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	htmlTag    = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)
	heading    = regexp.MustCompile(`(?m)^[ \t]{0,3}#{1,6}[ \t]+`)
	blockquote = regexp.MustCompile(`(?m)^[ \t]{0,3}>[ \t]?`)
	bullet     = regexp.MustCompile(`(?m)^([ \t]*)[*+-][ \t]+`)
	strong     = regexp.MustCompile(`(\*\*|__)(.+?)(\*\*|__)`)
	emphasis   = regexp.MustCompile(`(^|[^\w*])[*_]([^*_\n]+)[*_]`)
	strike     = regexp.MustCompile(`~~(.+?)~~`)
	rule       = regexp.MustCompile(`(?m)^[ \t]*([-*_][ \t]*){3,}$`)
	blankLines = regexp.MustCompile(`\n{3,}`)
)

// Sanitize turns generated rich text into plain text: markdown markup and
// HTML tags are removed, their text content is kept.
func Sanitize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = fencedCode.ReplaceAllString(s, "$1")
	s = inlineCode.ReplaceAllString(s, "$1")
	s = image.ReplaceAllString(s, "$1")
	s = link.ReplaceAllString(s, "$1")
	s = htmlTag.ReplaceAllString(s, "")
	s = rule.ReplaceAllString(s, "")
	s = heading.ReplaceAllString(s, "")
	s = blockquote.ReplaceAllString(s, "")
	s = bullet.ReplaceAllString(s, "$1")
	s = strong.ReplaceAllString(s, "$2")
	s = strike.ReplaceAllString(s, "$1")
	s = emphasis.ReplaceAllString(s, "$1$2")
	s = html.UnescapeString(s)
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
