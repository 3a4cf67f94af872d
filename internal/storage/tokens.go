package storage

import (
	"sort"
	"strings"
	"unicode"

	"github.com/mozillazg/go-unidecode"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// BlockingPrefixLen is the number of leading runes of a name token used as
// its blocking key.
const BlockingPrefixLen = 3

// FoldName lower-cases s and folds it to ASCII: diacritics are stripped
// ("José" -> "jose") and letters without a decomposition are transliterated
// ("Łukasz" -> "lukasz", "Straße" -> "strasse").
func FoldName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = unidecode.Unidecode(folded)
	return strings.ToLower(strings.Join(strings.Fields(folded), " "))
}

// BlockingTokens returns the sorted, de-duplicated blocking keys for a name:
// the first BlockingPrefixLen runes of each folded word. Shorter words are
// used whole.
func BlockingTokens(name string) []string {
	words := strings.FieldsFunc(FoldName(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]struct{}, len(words))
	tokens := make([]string, 0, len(words))
	for _, w := range words {
		r := []rune(w)
		if len(r) > BlockingPrefixLen {
			r = r[:BlockingPrefixLen]
		}
		tok := string(r)
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		tokens = append(tokens, tok)
	}
	sort.Strings(tokens)
	return tokens
}
