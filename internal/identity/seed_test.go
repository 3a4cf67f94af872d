package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookleaf/assist/internal/storage/memory"
	"github.com/bookleaf/assist/pkg/types"
)

func TestSeed(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	authors := []SeedAuthor{
		{
			FullName: "Sarah Johnson",
			Email:    "Sarah.Johnson@Example.com",
			Phone:    "+1 (415) 555-0134",
			Metadata: map[string]interface{}{"preferred_contact": "whatsapp", "genre": "Mystery"},
		},
		{
			FullName: "Priya Raman",
			Email:    "priya@example.com",
			Metadata: map[string]interface{}{"preferred_contact": "instagram"},
		},
		{FullName: "No Contact"},
		{FullName: "  "},
	}

	res, err := Seed(ctx, s, authors, "US", nil)
	require.NoError(t, err)
	assert.Equal(t, SeedResult{Authors: 2, Identities: 4, Skipped: 2}, res)

	ident, err := s.FindIdentity(ctx, types.PlatformWhatsApp, "+14155550134")
	require.NoError(t, err)
	require.NotNil(t, ident)
	assert.True(t, ident.Verified)
	assert.Equal(t, types.MethodExactMatch, ident.MatchingMethod)

	ig, err := s.FindIdentity(ctx, types.PlatformInstagram, "@priya")
	require.NoError(t, err)
	require.NotNil(t, ig)

	author, err := s.GetAuthor(ctx, ident.AuthorID)
	require.NoError(t, err)
	assert.Equal(t, "sarah.johnson@example.com", author.Email)
	assert.Equal(t, "Mystery", author.Metadata["genre"])

	again, err := Seed(ctx, s, authors, "US", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Authors)
	assert.Equal(t, 4, again.Skipped)
	n, _ := s.Stats()
	assert.Equal(t, 2, n)
}

func TestSeededAuthorResolvesExactly(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	_, err := Seed(ctx, s, []SeedAuthor{{FullName: "Sarah Johnson", Email: "sarah.johnson@example.com"}}, "US", nil)
	require.NoError(t, err)

	r, _ := newTestResolver(t, s, nil)
	res, err := r.Resolve(ctx, ResolveRequest{Email: "SARAH.JOHNSON@example.com", Platform: types.PlatformWebChat})
	require.NoError(t, err)
	assert.Equal(t, types.MethodExactMatch, res.Method)
	assert.False(t, res.Created)
}
