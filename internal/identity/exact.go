package identity

import (
	"context"
	"fmt"
	"sort"

	"github.com/bookleaf/assist/internal/storage"
	"github.com/bookleaf/assist/pkg/types"
)

// ExactResult is the outcome of an exact lookup. Exactly one of Author or
// Conflict is set.
type ExactResult struct {
	Author *types.Author
	// Identity is set when the current platform handle is already linked.
	Identity *types.Identity
	// Conflict lists every author owning one of the identifiers, by ID.
	Conflict []*types.Author
}

// ExactMatcher looks up normalized identifiers.
type ExactMatcher struct {
	store storage.IdentityStore
}

// NewExactMatcher returns an exact matcher over store.
func NewExactMatcher(store storage.IdentityStore) *ExactMatcher {
	return &ExactMatcher{store: store}
}

// Match checks the platform handle first, then the normalized e-mail and
// phone. It returns (nil, nil) when nothing matches.
func (m *ExactMatcher) Match(ctx context.Context, platform, handle string, q Query) (*ExactResult, error) {
	if handle != "" {
		ident, err := m.store.FindIdentity(ctx, platform, handle)
		if err != nil {
			return nil, fmt.Errorf("failed to look up platform handle: %w", err)
		}
		if ident != nil {
			author, err := m.store.GetAuthor(ctx, ident.AuthorID)
			if err != nil {
				return nil, fmt.Errorf("failed to load author %s: %w", ident.AuthorID, err)
			}
			return &ExactResult{Author: author, Identity: ident}, nil
		}
	}

	seen := make(map[string]bool)
	var ids []string
	for _, value := range []string{q.Email, q.Phone} {
		if value == "" {
			continue
		}
		found, err := m.store.FindByIdentifier(ctx, value)
		if err != nil {
			return nil, fmt.Errorf("failed to look up identifier: %w", err)
		}
		for _, id := range found {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Strings(ids)

	authors := make([]*types.Author, 0, len(ids))
	for _, id := range ids {
		a, err := m.store.GetAuthor(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load author %s: %w", id, err)
		}
		authors = append(authors, a)
	}

	if len(authors) == 1 {
		return &ExactResult{Author: authors[0]}, nil
	}
	return &ExactResult{Conflict: authors}, nil
}
