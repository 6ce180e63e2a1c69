package matcher

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// Normalize trims, NFC-normalizes and case-folds s.
func Normalize(s string) string {
	return folder.String(norm.NFC.String(strings.TrimSpace(s)))
}

// tokenSort splits on anything that is not a letter or digit, sorts the
// tokens and joins them with a single space.
func tokenSort(s string) string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.Is(unicode.Mn, r)
	})
	sort.Strings(fields)
	return strings.Join(fields, " ")
}

// TokenSortSimilarity compares a and b after sorting their tokens.
// The result is the normalized Levenshtein similarity 1 - d/max(|a|,|b|)
// in [0,1], counted in runes.
func TokenSortSimilarity(a, b string) float64 {
	sa, sb := tokenSort(a), tokenSort(b)
	longest := max(utf8.RuneCountInString(sa), utf8.RuneCountInString(sb))
	if longest == 0 {
		return 0
	}
	return 1 - float64(fuzzy.LevenshteinDistance(sa, sb))/float64(longest)
}
