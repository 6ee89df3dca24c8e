package registry

import "strings"

// ParseSearch splits raw search text into parts on space, comma and
// semicolon, and each part into OR-terms on '|'. Empty parts and terms are
// skipped, so blank input yields no parts.
//
//	"alpha beta|gamma" -> [[alpha] [beta gamma]]
func ParseSearch(raw string) [][]string {
	var parts [][]string
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ' ' || r == ',' || r == ';' || r == '\t' || r == '\n'
	})
	for _, field := range fields {
		var terms []string
		for _, t := range strings.Split(field, "|") {
			if t != "" {
				terms = append(terms, t)
			}
		}
		if len(terms) > 0 {
			parts = append(parts, terms)
		}
	}
	return parts
}

// SearchTerms flattens parts into the de-duplicated term list a single
// streaming connection filters on.
func SearchTerms(parts [][]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range parts {
		for _, t := range p {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}
