// Package storage defines the identity store contract shared by the memory,
// SQLite, PostgreSQL and Supabase backends.
//
// Backends enforce uniqueness of (platform, platform_identifier) and report
// violations as ErrConflict so the resolver can retry from exact lookup.
package storage

import (
	"context"

	"github.com/bookleaf/assist/pkg/types"
)

// IdentityStore persists authors and their platform identities.
type IdentityStore interface {
	// FindIdentity returns the identity registered for the given platform
	// handle. Returns (nil, nil) when the handle is unknown.
	FindIdentity(ctx context.Context, platform, platformIdentifier string) (*types.Identity, error)

	// FindByIdentifier returns the distinct IDs of authors owning a normalized
	// e-mail or phone, either as an identity's normalized identifier or as the
	// author's stored contact field. Sorted ascending; empty when unknown.
	FindByIdentifier(ctx context.Context, normalized string) ([]string, error)

	// FindCandidatesByNameToken returns authors sharing at least one blocking
	// token with tokens, ordered by author ID, at most limit rows (0 = no limit).
	FindCandidatesByNameToken(ctx context.Context, tokens []string, limit int) ([]*types.Author, error)

	// GetAuthor retrieves an author by ID.
	// Returns ErrNotFound if the author doesn't exist.
	GetAuthor(ctx context.Context, id string) (*types.Author, error)

	// ListIdentities returns every identity owned by the author, oldest first.
	ListIdentities(ctx context.Context, authorID string) ([]*types.Identity, error)

	// InsertAuthor writes a new author together with its first identity in a
	// single atomic operation. Returns ErrConflict if the identity's platform
	// handle is already registered; nothing is written in that case.
	InsertAuthor(ctx context.Context, author *types.Author, first *types.Identity) error

	// InsertIdentity attaches an identity to an existing author.
	// Returns ErrConflict if the platform handle is already registered and
	// ErrNotFound if the author doesn't exist.
	InsertIdentity(ctx context.Context, identity *types.Identity) error

	// Close releases backend resources.
	Close() error
}
