package identity

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookleaf/assist/internal/storage/memory"
	"github.com/bookleaf/assist/internal/storage/storagetest"
	"github.com/bookleaf/assist/pkg/types"
)

func seedAuthor(t *testing.T, s *memory.Store, id, name, email, phone string) *types.Author {
	t.Helper()
	a := storagetest.NewAuthor(id, name, email, phone)
	handle := email
	platform := types.PlatformEmail
	if handle == "" {
		handle, platform = phone, types.PlatformPhone
	}
	if handle == "" {
		handle, platform = "seed:"+id, types.PlatformWebChat
	}
	ident := storagetest.NewIdentity("ident-"+id, id, platform, handle, email)
	require.NoError(t, s.InsertAuthor(context.Background(), a, ident))
	return a
}

func mustName(t *testing.T, raw string) *Name {
	t.Helper()
	n, err := NormalizeName(raw)
	require.NoError(t, err)
	return &n
}

func TestFuzzyMatcherMatch(t *testing.T) {
	s := memory.New()
	seedAuthor(t, s, "a-1", "Sarah Johnson", "sarah.johnson@example.com", "")
	seedAuthor(t, s, "a-2", "Sam Jones", "sam@example.com", "")
	seedAuthor(t, s, "a-3", "Bob Lee", "bob@example.com", "")

	m := NewFuzzyMatcher(s, 0.85, 10, "US")
	got, err := m.Match(context.Background(), Query{Name: mustName(t, "Sara Johnston"), Email: "new@x.com"})
	require.NoError(t, err)
	require.Len(t, got, 1)

	c := got[0]
	assert.Equal(t, "a-1", c.Author.ID)
	assert.InDelta(t, 24.0/26.0, c.Score, 1e-9)
	assert.InDelta(t, 0.80+(24.0/26.0-0.90), c.Confidence, 1e-9)
	assert.False(t, c.ContactMatch)
}

func TestFuzzyMatcherNoName(t *testing.T) {
	m := NewFuzzyMatcher(memory.New(), 0.85, 10, "US")
	got, err := m.Match(context.Background(), Query{Email: "a@b.com"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFuzzyMatcherRanksAndLimits(t *testing.T) {
	s := memory.New()
	seedAuthor(t, s, "a-2", "Sara Johnson", "", "")
	seedAuthor(t, s, "a-1", "Sarah Johnson", "", "")
	seedAuthor(t, s, "a-3", "Sarah Johnson", "", "")

	m := NewFuzzyMatcher(s, 0.85, 2, "US")
	got, err := m.Match(context.Background(), Query{Name: mustName(t, "Sarah Johnson")})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a-1", got[0].Author.ID, "equal scores ordered by ID")
	assert.Equal(t, "a-3", got[1].Author.ID)
	assert.Equal(t, nameOnlyCap, got[0].Score, "name-only score capped")
}

func TestFuzzyMatcherContactCorroboration(t *testing.T) {
	s := memory.New()
	seedAuthor(t, s, "a-1", "Sarah Johnson", "sarah.johnson@example.com", "+16502530000")

	m := NewFuzzyMatcher(s, 0.85, 10, "US")

	// Same phone: the blend raises the score and the exact contact boosts confidence.
	got, err := m.Match(context.Background(), Query{Name: mustName(t, "Sara Johnston"), Phone: "+16502530000"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	name := 24.0 / 26.0
	assert.InDelta(t, 0.7*name+0.3, got[0].Score, 1e-9)
	assert.True(t, got[0].ContactMatch)
	assert.Equal(t, maxFuzzyConfidence, got[0].Confidence)

	// A different e-mail never lowers the name score.
	got, err = m.Match(context.Background(), Query{Name: mustName(t, "Sara Johnston"), Email: "zz@other.com"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, name, got[0].Score, 1e-9)
}

func TestFuzzyConfidenceMapping(t *testing.T) {
	m := NewFuzzyMatcher(memory.New(), 0.85, 10, "US")
	tests := []struct {
		score   float64
		contact bool
		want    float64
	}{
		{score: 1.0, want: 0.95},
		{score: 0.99, want: 0.93},
		{score: 0.97, want: 0.89},
		{score: 0.95, want: 0.85},
		{score: 0.92, want: 0.82},
		{score: 0.90, want: 0.80},
		{score: 0.86, want: 0.76},
		{score: 0.85, want: 0.75},
		{score: 0.92, contact: true, want: 0.95},
		{score: 0.86, contact: true, want: 0.91},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%.2f/%v", tt.score, tt.contact), func(t *testing.T) {
			assert.InDelta(t, tt.want, m.confidence(tt.score, tt.contact), 1e-9)
		})
	}
}

func TestFuzzyMatcherProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	first := []string{"Sarah", "Sara", "Sahra", "Sam", "Samuel", "Sal", "Sally"}
	last := []string{"Johnson", "Johnston", "Jonson", "Jones", "Joans", "Jonas"}

	s := memory.New()
	for i := 0; i < 40; i++ {
		name := first[rng.Intn(len(first))] + " " + last[rng.Intn(len(last))]
		seedAuthor(t, s, fmt.Sprintf("a-%02d", i), name, "", "")
	}

	m := NewFuzzyMatcher(s, 0.85, 50, "US")
	for i := 0; i < 50; i++ {
		q := first[rng.Intn(len(first))] + " " + last[rng.Intn(len(last))]
		got, err := m.Match(context.Background(), Query{Name: mustName(t, q)})
		require.NoError(t, err)
		for j, c := range got {
			assert.GreaterOrEqual(t, c.Score, 0.85)
			assert.GreaterOrEqual(t, c.Confidence, minFuzzyConfidence)
			assert.Less(t, c.Confidence, 1.0)
			assert.LessOrEqual(t, c.Confidence, maxFuzzyConfidence)
			if j > 0 {
				assert.GreaterOrEqual(t, got[j-1].Score, c.Score)
			}
		}
	}
}
