package identity

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/bookleaf/assist/internal/storage"
	"github.com/bookleaf/assist/pkg/types"
)

const (
	// nameOnlyCap keeps a name-only score below an exact match.
	nameOnlyCap = 0.99

	nameWeight    = 0.7
	contactWeight = 0.3

	minFuzzyConfidence = 0.70
	maxFuzzyConfidence = 0.95
	contactMatchBoost  = 0.15

	// candidatePoolLimit bounds how many token-sharing authors are scored.
	candidatePoolLimit = 500
)

// Query is a request's normalized identifiers. Empty fields are absent.
type Query struct {
	Name  *Name
	Email string
	Phone string
}

// Candidate is an author scored against a query.
type Candidate struct {
	Author *types.Author
	// Score is the raw similarity in [0,1].
	Score float64
	// Confidence is Score mapped onto the fuzzy confidence band.
	Confidence float64
	// ContactMatch is set when an e-mail or phone equals the author's own.
	ContactMatch bool
}

// FuzzyMatcher finds authors whose names resemble the query's.
type FuzzyMatcher struct {
	store         storage.IdentityStore
	minSimilarity float64
	maxCandidates int
	region        string
}

// NewFuzzyMatcher returns a matcher discarding scores below minSimilarity and
// returning at most maxCandidates results. region is used to normalize
// stored phone numbers.
func NewFuzzyMatcher(store storage.IdentityStore, minSimilarity float64, maxCandidates int, region string) *FuzzyMatcher {
	if maxCandidates <= 0 {
		maxCandidates = 10
	}
	return &FuzzyMatcher{store: store, minSimilarity: minSimilarity, maxCandidates: maxCandidates, region: region}
}

// Match returns the candidates scoring at least the minimum similarity,
// ranked by score then author ID. A query without a name has no candidates.
func (m *FuzzyMatcher) Match(ctx context.Context, q Query) ([]Candidate, error) {
	if q.Name == nil {
		return nil, nil
	}
	tokens := storage.BlockingTokens(q.Name.Comparison)
	if len(tokens) == 0 {
		return nil, nil
	}

	authors, err := m.store.FindCandidatesByNameToken(ctx, tokens, candidatePoolLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load name candidates: %w", err)
	}

	var out []Candidate
	for _, a := range authors {
		c := m.score(q, a)
		if c.Score < m.minSimilarity {
			continue
		}
		out = append(out, c)
	}

	rank(out)
	if len(out) > m.maxCandidates {
		out = out[:m.maxCandidates]
	}
	return out, nil
}

// ScoreAll scores every author without applying the threshold. Used for
// authors that already matched exactly on a contact field.
func (m *FuzzyMatcher) ScoreAll(q Query, authors []*types.Author) []Candidate {
	out := make([]Candidate, 0, len(authors))
	for _, a := range authors {
		out = append(out, m.score(q, a))
	}
	rank(out)
	return out
}

func (m *FuzzyMatcher) score(q Query, a *types.Author) Candidate {
	authorEmail := normalizedOrEmpty(a.Email, NormalizeEmail)
	authorPhone := normalizedOrEmpty(a.Phone, func(s string) (string, error) { return NormalizePhone(s, m.region) })

	var name float64
	if q.Name != nil {
		name = TokenSortRatio(q.Name.Comparison, a.FullName)
	}

	score := math.Min(name, nameOnlyCap)
	if frag, ok := contactSimilarity(q.Email, q.Phone, authorEmail, authorPhone); ok {
		// Differing addresses are normal across platforms, so the blend
		// only counts when it corroborates the name.
		if blended := nameWeight*name + contactWeight*frag; blended > name {
			score = blended
		}
	}

	contactMatch := (q.Email != "" && q.Email == authorEmail) || (q.Phone != "" && q.Phone == authorPhone)
	return Candidate{
		Author:       a,
		Score:        score,
		Confidence:   m.confidence(score, contactMatch),
		ContactMatch: contactMatch,
	}
}

// confidence maps a raw score into [0.70, 0.95].
func (m *FuzzyMatcher) confidence(s float64, contactMatch bool) float64 {
	var c float64
	switch {
	case s >= 0.95:
		c = 0.85 + 2*(s-0.95)
	case s >= 0.90:
		c = 0.80 + (s - 0.90)
	case s >= 0.85:
		c = 0.75 + (s - 0.85)
	default:
		c = minFuzzyConfidence + 0.5*(s-m.minSimilarity)
	}
	if contactMatch {
		c += contactMatchBoost
	}
	return clamp(c, minFuzzyConfidence, maxFuzzyConfidence)
}

func rank(cs []Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Score != cs[j].Score {
			return cs[i].Score > cs[j].Score
		}
		return cs[i].Author.ID < cs[j].Author.ID
	})
}

func normalizedOrEmpty(raw string, normalize func(string) (string, error)) string {
	if raw == "" {
		return ""
	}
	n, err := normalize(raw)
	if err != nil {
		return ""
	}
	return n
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
