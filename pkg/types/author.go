package types

import "time"

// Author is the canonical record for a real person publishing through the
// platform. Exactly one Author should exist per person; identities on every
// channel point back to it.
type Author struct {
	ID        string                 `json:"id"`
	FullName  string                 `json:"full_name"`
	Email     string                 `json:"email,omitempty"`
	Phone     string                 `json:"phone,omitempty"`
	Metadata  map[string]interface{} `json:"metadata"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Validate checks the fields every backend requires before persisting.
func (a *Author) Validate() error {
	if a.ID == "" {
		return NewValidationError("id", "author ID is required")
	}
	if a.FullName == "" {
		return NewValidationError("full_name", "author name is required")
	}
	if len(a.FullName) > 255 {
		return NewValidationError("full_name", "author name exceeds 255 characters")
	}
	return nil
}
