package storage

import (
	"errors"
	"fmt"

	"github.com/bookleaf/assist/pkg/types"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict indicates a uniqueness violation on (platform, platform_identifier).
	ErrConflict = errors.New("identity already registered")
)

// ValidateInsert checks an author/identity pair before a backend writes it.
// identity may be nil when only the author is being checked.
func ValidateInsert(author *types.Author, identity *types.Identity) error {
	if author != nil {
		if err := author.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}
	if identity != nil {
		if err := identity.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		if author != nil && identity.AuthorID != author.ID {
			return fmt.Errorf("%w: identity belongs to %s, not %s", ErrInvalidInput, identity.AuthorID, author.ID)
		}
	}
	return nil
}
