package intent_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bookleaf/assist/internal/intent"
)

type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

func (m *mockGenerator) GetModel() string { return "mock" }

func TestRuleClassifier(t *testing.T) {
	c := intent.NewRuleClassifier()

	tests := []struct {
		text string
		want string
	}{
		{"Is my book live yet?", intent.BookStatus},
		{"When will I get PAID for March?", intent.RoyaltyInquiry},
		{"My author copies haven't shipped", intent.AuthorCopy},
		{"How does the refund policy work?", intent.GeneralKnowledge},
		{"Hello there", intent.Greeting},
		{"Thanks a lot", intent.General},
		// book_status is checked before royalty_inquiry
		{"Royalty for my book", intent.BookStatus},
		// whole words only: "this" does not contain the greeting "hi"
		{"this", intent.General},
		{"", intent.General},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := c.Classify(context.Background(), tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Intent)
			if tt.want == intent.General {
				assert.Equal(t, 0.5, got.Confidence)
			} else {
				assert.Equal(t, 0.8, got.Confidence)
			}
		})
	}
}

func TestLLMClassifier_ParsesReply(t *testing.T) {
	gen := new(mockGenerator)
	gen.On("Complete", mock.Anything, mock.MatchedBy(func(p string) bool {
		return len(p) > 0
	})).Return("```json\n{\"intent\": \"Technical_Support\", \"confidence\": 0.88, \"reasoning\": \"login problem\"}\n```", nil)

	c := intent.NewLLMClassifier(gen, nil)
	got, err := c.Classify(context.Background(), "I can't log in to the dashboard")
	require.NoError(t, err)

	assert.Equal(t, "technical_support", got.Intent)
	assert.Equal(t, 0.88, got.Confidence)
	assert.Equal(t, "login problem", got.Reasoning)
	gen.AssertExpectations(t)
}

func TestLLMClassifier_PromptCarriesHistory(t *testing.T) {
	gen := new(mockGenerator)
	var prompt string
	gen.On("Complete", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { prompt = args.String(1) }).
		Return(`{"intent": "author_specific", "confidence": 0.9, "reasoning": "own royalties"}`, nil)

	c := intent.NewLLMClassifier(gen, nil)
	_, err := c.ClassifyWithHistory(context.Background(), "and for April?", []string{"When is my March royalty due?"})
	require.NoError(t, err)

	assert.Contains(t, prompt, "- When is my March royalty due?")
	assert.Contains(t, prompt, "MESSAGE:\nand for April?")
}

func TestLLMClassifier_Fallback(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		err   error
	}{
		{"generator error", "", errors.New("upstream 500")},
		{"malformed json", "not json at all", nil},
		{"unknown intent", `{"intent": "weather", "confidence": 0.9}`, nil},
		{"confidence out of range", `{"intent": "out_of_scope", "confidence": 1.4}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := new(mockGenerator)
			gen.On("Complete", mock.Anything, mock.Anything).Return(tt.reply, tt.err)

			got, err := intent.NewLLMClassifier(gen, nil).Classify(context.Background(), "hello?")
			require.NoError(t, err)
			assert.Equal(t, intent.GeneralKnowledge, got.Intent)
			assert.Equal(t, 0.5, got.Confidence)
		})
	}
}

func TestLLMClassifier_CancelledContext(t *testing.T) {
	gen := new(mockGenerator)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := intent.NewLLMClassifier(gen, nil).Classify(ctx, "hello")
	assert.ErrorIs(t, err, context.Canceled)
	gen.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestClassifiersSatisfyInterface(t *testing.T) {
	var _ intent.Classifier = intent.NewRuleClassifier()
	var _ intent.Classifier = intent.NewLLMClassifier(new(mockGenerator), nil)
}
