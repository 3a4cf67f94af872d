// Package types defines the core data structures shared by the identity
// resolution pipeline and its storage backends: authors, their
// platform-specific identities, and the labels describing how a match was made.
package types

// MatchMethod records which resolution stage produced an identity link.
type MatchMethod string

// Match method constants
const (
	// MethodExactMatch indicates a normalized identifier matched a stored identity.
	MethodExactMatch MatchMethod = "exact_match"

	// MethodFuzzyMatch indicates a similarity-based candidate was accepted.
	MethodFuzzyMatch MatchMethod = "fuzzy_match"

	// MethodLLMDisambiguated indicates an arbiter chose among several candidates.
	MethodLLMDisambiguated MatchMethod = "llm_disambiguated"

	// MethodNewIdentity indicates no match was found and a new author was created.
	MethodNewIdentity MatchMethod = "new_identity_created"
)

// IsValid reports whether m is one of the known match methods.
func (m MatchMethod) IsValid() bool {
	switch m {
	case MethodExactMatch, MethodFuzzyMatch, MethodLLMDisambiguated, MethodNewIdentity:
		return true
	}
	return false
}

// Platform names used by the support channels.
const (
	PlatformWebChat   = "web_chat"
	PlatformEmail     = "email"
	PlatformWhatsApp  = "whatsapp"
	PlatformInstagram = "instagram"
	PlatformPhone     = "phone"
)

// VerifiedThreshold is the creation confidence at or above which an identity
// link is marked verified without human review.
const VerifiedThreshold = 0.95
