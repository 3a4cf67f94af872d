package identity

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hbollon/go-edlib"

	"github.com/bookleaf/assist/internal/storage"
)

// phoneFragmentLen is the number of trailing digits compared when two phone
// numbers differ only in formatting or country prefix.
const phoneFragmentLen = 7

// indelRatio is the normalized Indel similarity of a and b:
// 2*LCS / (len(a)+len(b)), in runes. Two empty strings are identical.
func indelRatio(a, b string) float64 {
	total := utf8.RuneCountInString(a) + utf8.RuneCountInString(b)
	if total == 0 {
		return 1
	}
	return 2 * float64(edlib.LCS(a, b)) / float64(total)
}

// TokenSortRatio compares two names after folding, splitting into words and
// sorting the words, so word order does not matter.
func TokenSortRatio(a, b string) float64 {
	return indelRatio(sortedTokens(a), sortedTokens(b))
}

func sortedTokens(s string) string {
	words := strings.FieldsFunc(storage.FoldName(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	sort.Strings(words)
	return strings.Join(words, " ")
}

// contactSimilarity compares the contact fragments available on both sides:
// e-mail local parts and the last phoneFragmentLen phone digits. It returns
// the best ratio and false when no fragment exists on both sides.
func contactSimilarity(queryEmail, queryPhone, authorEmail, authorPhone string) (float64, bool) {
	best, ok := 0.0, false

	if ql, al := localPart(queryEmail), localPart(authorEmail); ql != "" && al != "" {
		best, ok = indelRatio(ql, al), true
	}
	if qd, ad := lastDigits(queryPhone), lastDigits(authorPhone); qd != "" && ad != "" {
		if r := indelRatio(qd, ad); !ok || r > best {
			best, ok = r, true
		}
	}
	return best, ok
}

func localPart(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return ""
	}
	return email[:at]
}

func lastDigits(phone string) string {
	d := digitsOnly(phone)
	if len(d) > phoneFragmentLen {
		d = d[len(d)-phoneFragmentLen:]
	}
	return d
}
