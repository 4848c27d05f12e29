package vendors

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var legalSuffixes = []string{
	"incorporated", "inc", "llc", "ltd", "limited", "corp", "corporation",
	"co", "company", "lp", "llp", "plc", "ulc",
}

var foldTransformer = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// Normalize lowercases a raw supplier name, strips diacritics and
// punctuation, and removes trailing legal suffixes, producing the key the
// synonym table and the duplicate detector are indexed on.
func Normalize(raw string) string {
	folded, _, err := transform.String(foldTransformer, raw)
	if err != nil {
		folded = raw
	}
	lowered := strings.ToLower(folded)

	var b strings.Builder
	lastSpace := true
	for _, r := range lowered {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	words := strings.Fields(b.String())

	// Strip legal suffixes from the end only; "co" inside a name stays.
	for len(words) > 1 {
		last := words[len(words)-1]
		if !isLegalSuffix(last) {
			break
		}
		words = words[:len(words)-1]
	}
	return strings.Join(words, " ")
}

func isLegalSuffix(word string) bool {
	for _, suffix := range legalSuffixes {
		if word == suffix {
			return true
		}
	}
	return false
}

// Prefix returns the fixed-length prefix used for fuzzy candidate search.
// Spaces are removed first so "ab c supply" and "abc supply" share a prefix.
func Prefix(normalized string, length int) string {
	if length <= 0 {
		length = 5
	}
	compact := strings.ReplaceAll(normalized, " ", "")
	if len(compact) <= length {
		return compact
	}
	return compact[:length]
}
