package identity

import (
	"regexp"
	"strings"
)

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`(?:\+|00)?\(?\d[\d\s().-]{5,}\d`)
)

// Extracted holds the normalized identifiers found in free text, in order of
// first appearance and without duplicates.
type Extracted struct {
	Emails []string `json:"emails"`
	Phones []string `json:"phones"`
}

// Empty reports whether nothing was found.
func (e Extracted) Empty() bool {
	return len(e.Emails) == 0 && len(e.Phones) == 0
}

// ExtractIdentifiers finds e-mail addresses and phone numbers in text.
// Phone candidates are kept only when the parser accepts them as valid
// numbers for region, which filters out dates, order numbers and the like.
func ExtractIdentifiers(text, region string) Extracted {
	var out Extracted
	seen := make(map[string]bool)

	for _, m := range emailPattern.FindAllString(text, -1) {
		email, err := NormalizeEmail(m)
		if err != nil || seen[email] {
			continue
		}
		seen[email] = true
		out.Emails = append(out.Emails, email)
	}

	// Drop the e-mails first so digits inside addresses are not read as phones.
	rest := emailPattern.ReplaceAllString(text, " ")
	for _, m := range phonePattern.FindAllString(rest, -1) {
		m = strings.TrimSpace(m)
		if !isDialable(m, region) {
			continue
		}
		phone, err := NormalizePhone(m, region)
		if err != nil || seen[phone] {
			continue
		}
		seen[phone] = true
		out.Phones = append(out.Phones, phone)
	}
	return out
}
