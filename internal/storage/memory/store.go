// Package memory provides an in-process IdentityStore guarded by a mutex.
// It backs tests and the "memory" storage engine.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/bookleaf/assist/internal/storage"
	"github.com/bookleaf/assist/pkg/types"
)

// Store implements storage.IdentityStore in memory.
type Store struct {
	mu sync.RWMutex

	authors    map[string]*types.Author
	identities map[string]*types.Identity // by identity ID
	handles    map[string]string          // platform + "\x00" + identifier -> identity ID
	tokens     map[string]map[string]struct{}
}

var _ storage.IdentityStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		authors:    make(map[string]*types.Author),
		identities: make(map[string]*types.Identity),
		handles:    make(map[string]string),
		tokens:     make(map[string]map[string]struct{}),
	}
}

func handleKey(platform, identifier string) string {
	return platform + "\x00" + identifier
}

// FindIdentity returns the identity for a platform handle, or (nil, nil).
func (s *Store) FindIdentity(ctx context.Context, platform, platformIdentifier string) (*types.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.handles[handleKey(platform, platformIdentifier)]
	if !ok {
		return nil, nil
	}
	return copyIdentity(s.identities[id]), nil
}

// FindByIdentifier returns the sorted IDs of authors owning normalized.
func (s *Store) FindByIdentifier(ctx context.Context, normalized string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if normalized == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	owners := make(map[string]struct{})
	for _, ident := range s.identities {
		if ident.NormalizedIdentifier == normalized {
			owners[ident.AuthorID] = struct{}{}
		}
	}
	for _, a := range s.authors {
		if a.Email == normalized || a.Phone == normalized {
			owners[a.ID] = struct{}{}
		}
	}
	return sortedKeys(owners), nil
}

// FindCandidatesByNameToken returns authors sharing a blocking token.
func (s *Store) FindCandidatesByNameToken(ctx context.Context, tokens []string, limit int) ([]*types.Author, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make(map[string]struct{})
	for _, tok := range tokens {
		for authorID := range s.tokens[tok] {
			matched[authorID] = struct{}{}
		}
	}

	ids := sortedKeys(matched)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]*types.Author, 0, len(ids))
	for _, id := range ids {
		out = append(out, copyAuthor(s.authors[id]))
	}
	return out, nil
}

// GetAuthor retrieves an author by ID.
func (s *Store) GetAuthor(ctx context.Context, id string) (*types.Author, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.authors[id]
	if !ok {
		return nil, fmt.Errorf("author %s: %w", id, storage.ErrNotFound)
	}
	return copyAuthor(a), nil
}

// ListIdentities returns the author's identities, oldest first.
func (s *Store) ListIdentities(ctx context.Context, authorID string) ([]*types.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.Identity
	for _, ident := range s.identities {
		if ident.AuthorID == authorID {
			out = append(out, copyIdentity(ident))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// InsertAuthor writes author and first atomically.
func (s *Store) InsertAuthor(ctx context.Context, author *types.Author, first *types.Identity) error {
	if author == nil || first == nil {
		return storage.ErrInvalidInput
	}
	if err := storage.ValidateInsert(author, first); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.authors[author.ID]; exists {
		return fmt.Errorf("%w: author %s already exists", storage.ErrInvalidInput, author.ID)
	}
	key := handleKey(first.Platform, first.PlatformIdentifier)
	if _, taken := s.handles[key]; taken {
		return fmt.Errorf("%s/%s: %w", first.Platform, first.PlatformIdentifier, storage.ErrConflict)
	}

	s.authors[author.ID] = copyAuthor(author)
	for _, tok := range storage.BlockingTokens(author.FullName) {
		if s.tokens[tok] == nil {
			s.tokens[tok] = make(map[string]struct{})
		}
		s.tokens[tok][author.ID] = struct{}{}
	}
	s.identities[first.ID] = copyIdentity(first)
	s.handles[key] = first.ID
	return nil
}

// InsertIdentity attaches identity to an existing author.
func (s *Store) InsertIdentity(ctx context.Context, identity *types.Identity) error {
	if identity == nil {
		return storage.ErrInvalidInput
	}
	if err := storage.ValidateInsert(nil, identity); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.authors[identity.AuthorID]; !ok {
		return fmt.Errorf("author %s: %w", identity.AuthorID, storage.ErrNotFound)
	}
	key := handleKey(identity.Platform, identity.PlatformIdentifier)
	if _, taken := s.handles[key]; taken {
		return fmt.Errorf("%s/%s: %w", identity.Platform, identity.PlatformIdentifier, storage.ErrConflict)
	}
	s.identities[identity.ID] = copyIdentity(identity)
	s.handles[key] = identity.ID
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// Stats returns the number of stored authors and identities.
func (s *Store) Stats() (authors, identities int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.authors), len(s.identities)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func copyAuthor(a *types.Author) *types.Author {
	if a == nil {
		return nil
	}
	c := *a
	if a.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(a.Metadata))
		for k, v := range a.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

func copyIdentity(i *types.Identity) *types.Identity {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}
