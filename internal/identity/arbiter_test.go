package identity

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bookleaf/assist/internal/storage/storagetest"
	"github.com/bookleaf/assist/pkg/types"
)

type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

func (m *mockGenerator) GetModel() string { return "mock" }

func arbitrationRequest() ArbitrationRequest {
	a1 := storagetest.NewAuthor("a-1", "Sarah Johnson", "sarah.johnson@example.com", "")
	a1.Metadata = map[string]interface{}{"genre": "Fiction", "books_published": float64(3)}
	a2 := storagetest.NewAuthor("a-2", "Sara Johnson", "", "")
	return ArbitrationRequest{
		Name:  "Sarah Johnson",
		Email: "other@x.com",
		Candidates: []Candidate{
			{Author: a1, Score: 0.99, Confidence: 0.93},
			{Author: a2, Score: 0.96, Confidence: 0.87},
		},
		Context: "asked about royalties",
	}
}

func TestLLMArbiterMatch(t *testing.T) {
	gen := &mockGenerator{}
	gen.On("Complete", mock.Anything, mock.MatchedBy(func(p string) bool {
		return assertPrompt(p)
	})).Return("```json\n{\"match_found\": true, \"best_match_id\": \"a-2\", \"confidence\": 0.82, \"reasoning\": \"nickname\", \"evidence\": [\"name\"]}\n```", nil)

	v, err := NewLLMArbiter(gen, nil).Disambiguate(context.Background(), arbitrationRequest())
	require.NoError(t, err)
	assert.True(t, v.MatchFound)
	assert.Equal(t, "a-2", v.AuthorID)
	assert.Equal(t, 0.82, v.Confidence)
	assert.Equal(t, types.MethodLLMDisambiguated, v.Method)
	assert.Equal(t, []string{"name"}, v.Evidence)
	gen.AssertExpectations(t)
}

func assertPrompt(p string) bool {
	return strings.Contains(p, "Candidate 1:") && strings.Contains(p, "  - ID: a-1") &&
		strings.Contains(p, "  - Genre: Fiction") && strings.Contains(p, "  - Books: 3") &&
		strings.Contains(p, "CONVERSATION CONTEXT:\nasked about royalties")
}

func TestLLMArbiterNoMatch(t *testing.T) {
	gen := &mockGenerator{}
	gen.On("Complete", mock.Anything, mock.Anything).
		Return(`{"match_found": false, "best_match_id": null, "confidence": 0.2, "reasoning": "different people"}`, nil)

	v, err := NewLLMArbiter(gen, nil).Disambiguate(context.Background(), arbitrationRequest())
	require.NoError(t, err)
	assert.False(t, v.MatchFound)
	assert.Empty(t, v.AuthorID)
}

func TestLLMArbiterUnavailable(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		err   error
	}{
		{name: "generator error", err: errors.New("circuit open")},
		{name: "malformed reply", reply: "candidate 2 looks right"},
		{name: "unknown author", reply: `{"match_found": true, "best_match_id": "zzz", "confidence": 0.8, "reasoning": "x"}`},
		{name: "confidence out of range", reply: `{"match_found": true, "best_match_id": "a-1", "confidence": 8, "reasoning": "x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &mockGenerator{}
			gen.On("Complete", mock.Anything, mock.Anything).Return(tt.reply, tt.err)

			_, err := NewLLMArbiter(gen, nil).Disambiguate(context.Background(), arbitrationRequest())
			assert.ErrorIs(t, err, ErrArbitrationUnavailable)
		})
	}
}

func TestRuleArbiter(t *testing.T) {
	v, err := NewRuleArbiter(0.8).Disambiguate(context.Background(), arbitrationRequest())
	require.NoError(t, err)
	assert.True(t, v.MatchFound)
	assert.Equal(t, "a-1", v.AuthorID)
	assert.InDelta(t, 0.93*0.8, v.Confidence, 1e-9)
	assert.Equal(t, types.MethodFuzzyMatch, v.Method)

	v, err = NewRuleArbiter(0.8).Disambiguate(context.Background(), ArbitrationRequest{})
	require.NoError(t, err)
	assert.False(t, v.MatchFound)
}

func TestDisambiguatorZeroAndSingle(t *testing.T) {
	d := NewDisambiguator(nil, 0, 0.8, 0.5, nil, nil)

	dec := d.Decide(context.Background(), ArbitrationRequest{}, false)
	assert.Nil(t, dec.Author)
	assert.Equal(t, 0.5, dec.Confidence)
	assert.Equal(t, types.MethodNewIdentity, dec.Method)

	req := arbitrationRequest()
	req.Candidates = req.Candidates[1:]
	dec = d.Decide(context.Background(), req, false)
	require.NotNil(t, dec.Author)
	assert.Equal(t, "a-2", dec.Author.ID)
	assert.Equal(t, 0.87, dec.Confidence)
	assert.Equal(t, types.MethodFuzzyMatch, dec.Method)
}

func TestDisambiguatorLLMEndToEnd(t *testing.T) {
	gen := &mockGenerator{}
	gen.On("Complete", mock.Anything, mock.Anything).
		Return(`{"match_found": true, "best_match_id": "a-1", "confidence": 0.99, "reasoning": "email and name"}`, nil)

	d := NewDisambiguator(NewLLMArbiter(gen, nil), 0, 0.8, 0.5, nil, nil)
	dec := d.Decide(context.Background(), arbitrationRequest(), false)
	require.NotNil(t, dec.Author)
	assert.Equal(t, "a-1", dec.Author.ID)
	assert.Equal(t, types.MethodLLMDisambiguated, dec.Method)
	assert.Equal(t, 0.9, dec.Confidence)
}
