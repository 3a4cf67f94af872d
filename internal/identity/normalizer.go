// Package identity resolves a support requester to exactly one author across
// channels. Contact fields are normalized, then matched exactly, then fuzzily
// by name, and ambiguous candidate sets are handed to an arbiter. When nothing
// matches a new author is created.
package identity

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/nyaruka/phonenumbers"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/bookleaf/assist/internal/storage"
)

const (
	minPhoneDigits = 7
	maxPhoneDigits = 15
)

var (
	honorifics = map[string]bool{"mr": true, "mrs": true, "ms": true, "miss": true, "dr": true, "prof": true}
	suffixes   = map[string]bool{"jr": true, "sr": true, "ii": true, "iii": true, "iv": true, "esq": true, "phd": true, "md": true}
)

// Name is a cleaned personal name.
type Name struct {
	// Display is the title-cased form stored on new authors.
	Display string
	// Comparison is lower-case with diacritics removed, used for similarity.
	Comparison string
}

// NormalizeEmail lower-cases and trims an address. Gmail addresses also lose
// dots and plus-tags in the local part, and googlemail.com becomes gmail.com.
func NormalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return "", fmt.Errorf("%w: email %q has no @", ErrNormalization, raw)
	}

	local, domain := email[:at], email[at+1:]
	if domain == "gmail.com" || domain == "googlemail.com" {
		local = strings.ReplaceAll(local, ".", "")
		if plus := strings.Index(local, "+"); plus >= 0 {
			local = local[:plus]
		}
		domain = "gmail.com"
	}
	if local == "" || domain == "" {
		return "", fmt.Errorf("%w: email %q has an empty local part or domain", ErrNormalization, raw)
	}
	return local + "@" + domain, nil
}

// NormalizePhone returns the E.164 form of raw, parsed for region when it has
// no country code. Numbers the parser rejects fall back to their digits, with
// a leading + kept when raw carried a + or 00 prefix.
func NormalizePhone(raw, region string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty phone", ErrNormalization)
	}
	if region == "" {
		region = "US"
	}

	if num, err := phonenumbers.Parse(raw, region); err == nil && phonenumbers.IsValidNumber(num) {
		return phonenumbers.Format(num, phonenumbers.E164), nil
	}

	d := digitsOnly(raw)
	prefix := ""
	switch {
	case strings.HasPrefix(raw, "+"):
		prefix = "+"
	case strings.HasPrefix(raw, "00"):
		prefix = "+"
		d = strings.TrimPrefix(d, "00")
	}

	if len(d) < minPhoneDigits || len(d) > maxPhoneDigits {
		return "", fmt.Errorf("%w: phone %q has %d digits", ErrNormalization, raw, len(d))
	}
	return prefix + d, nil
}

// NormalizeName cleans a personal name: whitespace is collapsed, punctuation
// around words is removed, and one leading honorific and one trailing suffix
// are dropped.
func NormalizeName(raw string) (Name, error) {
	var words []string
	for _, w := range strings.Fields(raw) {
		w = strings.TrimFunc(w, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
		if w != "" {
			words = append(words, w)
		}
	}

	if len(words) > 0 && honorifics[strings.ToLower(words[0])] {
		words = words[1:]
	}
	if len(words) > 0 && suffixes[strings.ToLower(words[len(words)-1])] {
		words = words[:len(words)-1]
	}
	if len(words) == 0 {
		return Name{}, fmt.Errorf("%w: name %q is empty after cleaning", ErrNormalization, raw)
	}

	joined := strings.Join(words, " ")
	return Name{
		// Casers keep state and must not be shared across goroutines.
		Display:    cases.Title(language.Und).String(joined),
		Comparison: storage.FoldName(joined),
	}, nil
}

// digitsOnly returns the ASCII digits of s.
func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// isDialable reports whether the phone parser accepts raw as a valid number.
func isDialable(raw, region string) bool {
	if region == "" {
		region = "US"
	}
	num, err := phonenumbers.Parse(raw, region)
	return err == nil && phonenumbers.IsValidNumber(num)
}
