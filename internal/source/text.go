package source

import (
	"html"
	"regexp"
	"strings"
)

// htmlTagRe matches HTML tags.
var htmlTagRe = regexp.MustCompile(`<[^>]*>`)

// whitespaceRe matches runs of whitespace.
var whitespaceRe = regexp.MustCompile(`\s+`)

// breakRe matches tags that end a line of text.
var breakRe = regexp.MustCompile(`(?i)<br\s*/?>|</p>`)

// PlainText turns service HTML into a single line of text. Mentions and
// hashtags survive as their visible text ("@alice", "#golang").
func PlainText(s string) string {
	s = breakRe.ReplaceAllString(s, " ")
	s = htmlTagRe.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
