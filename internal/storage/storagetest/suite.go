// Package storagetest holds the behavioural tests every IdentityStore
// backend must pass. Backends call Run from their own _test.go files.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookleaf/assist/internal/storage"
	"github.com/bookleaf/assist/pkg/types"
)

// Factory returns a fresh, empty store. The factory owns cleanup.
type Factory func(t *testing.T) storage.IdentityStore

// NewAuthor builds a valid author with deterministic timestamps.
func NewAuthor(id, name, email, phone string) *types.Author {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	return &types.Author{
		ID:        id,
		FullName:  name,
		Email:     email,
		Phone:     phone,
		Metadata:  map[string]interface{}{"source": "test"},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewIdentity builds a valid identity for authorID.
func NewIdentity(id, authorID, platform, handle, normalized string) *types.Identity {
	return &types.Identity{
		ID:                   id,
		AuthorID:             authorID,
		Platform:             platform,
		PlatformIdentifier:   handle,
		NormalizedIdentifier: normalized,
		ConfidenceScore:      0.5,
		MatchingMethod:       types.MethodNewIdentity,
		CreatedAt:            time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

// Run executes the shared suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("InsertAuthorAndFind", func(t *testing.T) { testInsertAuthorAndFind(t, newStore(t)) })
	t.Run("FindMissing", func(t *testing.T) { testFindMissing(t, newStore(t)) })
	t.Run("InsertAuthorConflictIsAtomic", func(t *testing.T) { testInsertAuthorConflict(t, newStore(t)) })
	t.Run("InsertIdentity", func(t *testing.T) { testInsertIdentity(t, newStore(t)) })
	t.Run("FindByIdentifier", func(t *testing.T) { testFindByIdentifier(t, newStore(t)) })
	t.Run("FindCandidatesByNameToken", func(t *testing.T) { testCandidates(t, newStore(t)) })
	t.Run("InvalidInput", func(t *testing.T) { testInvalidInput(t, newStore(t)) })
	t.Run("ConcurrentInsertSameHandle", func(t *testing.T) { testConcurrentInsert(t, newStore(t)) })
}

func testInsertAuthorAndFind(t *testing.T, s storage.IdentityStore) {
	ctx := context.Background()
	a := NewAuthor("author-1", "Sarah Johnson", "sarah.johnson@email.com", "+15550101")
	i := NewIdentity("ident-1", a.ID, types.PlatformEmail, "sarah.johnson@email.com", "sarah.johnson@email.com")

	require.NoError(t, s.InsertAuthor(ctx, a, i))

	got, err := s.GetAuthor(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Sarah Johnson", got.FullName)
	assert.Equal(t, "sarah.johnson@email.com", got.Email)
	assert.Equal(t, "+15550101", got.Phone)
	assert.Equal(t, "test", got.Metadata["source"])

	ident, err := s.FindIdentity(ctx, types.PlatformEmail, "sarah.johnson@email.com")
	require.NoError(t, err)
	require.NotNil(t, ident)
	assert.Equal(t, a.ID, ident.AuthorID)
	assert.Equal(t, types.MethodNewIdentity, ident.MatchingMethod)
	assert.InDelta(t, 0.5, ident.ConfidenceScore, 1e-9)

	list, err := s.ListIdentities(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "ident-1", list[0].ID)
}

func testFindMissing(t *testing.T, s storage.IdentityStore) {
	ctx := context.Background()

	ident, err := s.FindIdentity(ctx, types.PlatformEmail, "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, ident)

	owners, err := s.FindByIdentifier(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Empty(t, owners)

	_, err = s.GetAuthor(ctx, "missing")
	assert.True(t, errors.Is(err, storage.ErrNotFound), "GetAuthor error = %v, want ErrNotFound", err)

	list, err := s.ListIdentities(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func testInsertAuthorConflict(t *testing.T, s storage.IdentityStore) {
	ctx := context.Background()
	a := NewAuthor("author-1", "Sarah Johnson", "sarah.johnson@email.com", "")
	require.NoError(t, s.InsertAuthor(ctx, a,
		NewIdentity("ident-1", a.ID, types.PlatformEmail, "sarah.johnson@email.com", "sarah.johnson@email.com")))

	b := NewAuthor("author-2", "Sarah J", "sarah.johnson@email.com", "")
	err := s.InsertAuthor(ctx, b,
		NewIdentity("ident-2", b.ID, types.PlatformEmail, "sarah.johnson@email.com", "sarah.johnson@email.com"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrConflict), "InsertAuthor error = %v, want ErrConflict", err)

	_, err = s.GetAuthor(ctx, b.ID)
	assert.True(t, errors.Is(err, storage.ErrNotFound), "author must not be written on conflict")
}

func testInsertIdentity(t *testing.T, s storage.IdentityStore) {
	ctx := context.Background()
	a := NewAuthor("author-1", "Michael Chen", "m.chen@author.com", "+15550102")
	require.NoError(t, s.InsertAuthor(ctx, a,
		NewIdentity("ident-1", a.ID, types.PlatformEmail, "m.chen@author.com", "m.chen@author.com")))

	wa := NewIdentity("ident-2", a.ID, types.PlatformWhatsApp, "+15550102", "+15550102")
	wa.CreatedAt = wa.CreatedAt.Add(time.Minute)
	wa.MatchingMethod = types.MethodExactMatch
	wa.ConfidenceScore = 1.0
	wa.Verified = true
	require.NoError(t, s.InsertIdentity(ctx, wa))

	list, err := s.ListIdentities(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "ident-1", list[0].ID)
	assert.Equal(t, "ident-2", list[1].ID)
	assert.True(t, list[1].Verified)

	err = s.InsertIdentity(ctx, NewIdentity("ident-3", a.ID, types.PlatformWhatsApp, "+15550102", "+15550102"))
	assert.True(t, errors.Is(err, storage.ErrConflict), "duplicate handle error = %v, want ErrConflict", err)

	err = s.InsertIdentity(ctx, NewIdentity("ident-4", "ghost", types.PlatformEmail, "ghost@example.com", ""))
	assert.True(t, errors.Is(err, storage.ErrNotFound), "unknown author error = %v, want ErrNotFound", err)
}

func testFindByIdentifier(t *testing.T, s storage.IdentityStore) {
	ctx := context.Background()

	a := NewAuthor("author-a", "Emma Rodriguez", "emma.r@bookmail.com", "+15550103")
	require.NoError(t, s.InsertAuthor(ctx, a,
		NewIdentity("ident-a", a.ID, types.PlatformWebChat, "session:1", "")))

	b := NewAuthor("author-b", "Emma Rodrigues", "", "")
	require.NoError(t, s.InsertAuthor(ctx, b,
		NewIdentity("ident-b", b.ID, types.PlatformEmail, "emma.r@bookmail.com", "emma.r@bookmail.com")))

	// Author contact fields and identity identifiers both count.
	owners, err := s.FindByIdentifier(ctx, "emma.r@bookmail.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"author-a", "author-b"}, owners)

	owners, err = s.FindByIdentifier(ctx, "+15550103")
	require.NoError(t, err)
	assert.Equal(t, []string{"author-a"}, owners)
}

func testCandidates(t *testing.T, s storage.IdentityStore) {
	ctx := context.Background()

	for i, name := range []string{"Sarah Johnson", "Sarah Connor", "Michael Chen", "José García"} {
		a := NewAuthor(fmt.Sprintf("author-%d", i), name, "", "")
		require.NoError(t, s.InsertAuthor(ctx, a,
			NewIdentity(fmt.Sprintf("ident-%d", i), a.ID, types.PlatformWebChat, fmt.Sprintf("session:%d", i), "")))
	}

	got, err := s.FindCandidatesByNameToken(ctx, storage.BlockingTokens("Sara Johnston"), 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "author-0", got[0].ID)
	assert.Equal(t, "author-1", got[1].ID)

	got, err = s.FindCandidatesByNameToken(ctx, storage.BlockingTokens("Sara Johnston"), 1)
	require.NoError(t, err)
	require.Len(t, got, 1)

	got, err = s.FindCandidatesByNameToken(ctx, storage.BlockingTokens("jose garcia"), 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "José García", got[0].FullName)

	got, err = s.FindCandidatesByNameToken(ctx, storage.BlockingTokens("Xavier Quinn"), 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testInvalidInput(t *testing.T, s storage.IdentityStore) {
	ctx := context.Background()
	a := NewAuthor("author-1", "", "", "")
	err := s.InsertAuthor(ctx, a, NewIdentity("ident-1", a.ID, types.PlatformEmail, "x@example.com", ""))
	assert.True(t, errors.Is(err, storage.ErrInvalidInput))

	b := NewAuthor("author-2", "Valid Name", "", "")
	err = s.InsertAuthor(ctx, b, NewIdentity("ident-2", "someone-else", types.PlatformEmail, "x@example.com", ""))
	assert.True(t, errors.Is(err, storage.ErrInvalidInput))
}

func testConcurrentInsert(t *testing.T, s storage.IdentityStore) {
	ctx := context.Background()
	const workers = 8

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			a := NewAuthor(fmt.Sprintf("author-%d", w), "Sarah Johnson", "", "")
			err := s.InsertAuthor(ctx, a,
				NewIdentity(fmt.Sprintf("ident-%d", w), a.ID, types.PlatformEmail, "sarah@example.com", "sarah@example.com"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, storage.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, workers-1, conflicts)
}
