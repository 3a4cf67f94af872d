package types

import "time"

// Identity is a platform-specific handle owned by exactly one Author.
// (Platform, PlatformIdentifier) is unique across the store.
type Identity struct {
	ID                   string      `json:"id"`
	AuthorID             string      `json:"author_id"`
	Platform             string      `json:"platform"`
	PlatformIdentifier   string      `json:"platform_identifier"`
	NormalizedIdentifier string      `json:"normalized_identifier,omitempty"`
	ConfidenceScore      float64     `json:"confidence_score"`
	MatchingMethod       MatchMethod `json:"matching_method"`
	Verified             bool        `json:"verified"`
	CreatedAt            time.Time   `json:"created_at"`
}

// Validate checks the fields every backend requires before persisting.
func (i *Identity) Validate() error {
	if i.ID == "" {
		return NewValidationError("id", "identity ID is required")
	}
	if i.AuthorID == "" {
		return NewValidationError("author_id", "identity must reference an author")
	}
	if i.Platform == "" {
		return NewValidationError("platform", "platform is required")
	}
	if i.PlatformIdentifier == "" {
		return NewValidationError("platform_identifier", "platform identifier is required")
	}
	if i.ConfidenceScore < 0 || i.ConfidenceScore > 1 {
		return NewValidationError("confidence_score", "confidence must be within [0, 1]")
	}
	if !i.MatchingMethod.IsValid() {
		return NewValidationError("matching_method", "unknown matching method")
	}
	return nil
}
