package domain

import (
	"strings"
	"unicode/utf8"
)

// MinQueryLength is the smallest query kept by canonicalization; shorter
// lines are noise (single characters, stray line endings).
const MinQueryLength = 2

// CanonicalizeQueries turns raw newline-delimited text into the ordered,
// deduplicated query set of a batch. Lines shorter than MinQueryLength are
// dropped. Unless phrase matching keeps a quoted line verbatim, one layer of
// doubled surrounding quotes is stripped and inner doubled quotes collapsed.
// First occurrence wins; later duplicates are discarded.
func CanonicalizeQueries(raw string, phraseMatch bool) []string {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	seen := make(map[string]struct{}, len(lines))
	queries := make([]string, 0, len(lines))
	for _, line := range lines {
		if utf8.RuneCountInString(line) < MinQueryLength {
			continue
		}
		query := line
		if !phraseMatch || !strings.Contains(line, `"`) {
			query = sanitizeDoubleQuotes(line)
		}
		if _, dup := seen[query]; dup {
			continue
		}
		seen[query] = struct{}{}
		queries = append(queries, query)
	}
	return queries
}

// sanitizeDoubleQuotes unwraps a """…"""-style quoted line: the outer quote
// pair is removed and internal doubled quotes collapse to a single quote.
func sanitizeDoubleQuotes(query string) string {
	if strings.Contains(query, `"""`) {
		return strings.ReplaceAll(query[1:len(query)-1], `""`, `"`)
	}
	return query
}
