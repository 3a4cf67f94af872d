// Package intent classifies support messages. Rule-based and model-based
// classifiers share the Classifier interface.
package intent

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/bookleaf/assist/internal/llm"
)

// Labels produced by RuleClassifier.
const (
	BookStatus       = "book_status"
	RoyaltyInquiry   = "royalty_inquiry"
	AuthorCopy       = "author_copy"
	GeneralKnowledge = "general_knowledge"
	Greeting         = "greeting"
	General          = "general"
)

const (
	ruleMatchConfidence = 0.8
	ruleMissConfidence  = 0.5
	fallbackConfidence  = 0.5
)

// Classification is the result of classifying one message.
type Classification struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// Classifier assigns an intent to a message.
type Classifier interface {
	Classify(ctx context.Context, text string) (*Classification, error)
}

type keywordRule struct {
	intent   string
	keywords []string
}

// Checked in order; the first rule with a matching word wins.
var keywordRules = []keywordRule{
	{BookStatus, []string{"live", "published", "publish", "book", "available", "status"}},
	{RoyaltyInquiry, []string{"royalty", "royalties", "payment", "paid", "money", "earnings", "revenue"}},
	{AuthorCopy, []string{"copy", "copies", "shipped", "delivery", "tracking"}},
	{GeneralKnowledge, []string{"how", "what", "process", "policy", "guideline", "refund", "addon", "premium", "dashboard"}},
	{Greeting, []string{"hello", "hi", "hey", "greetings"}},
}

// RuleClassifier matches whole lowercase words against fixed keyword lists.
type RuleClassifier struct{}

// NewRuleClassifier returns a keyword classifier.
func NewRuleClassifier() *RuleClassifier {
	return &RuleClassifier{}
}

// Classify never returns an error.
func (c *RuleClassifier) Classify(ctx context.Context, text string) (*Classification, error) {
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		words[w] = true
	}

	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if words[kw] {
				return &Classification{
					Intent:     rule.intent,
					Confidence: ruleMatchConfidence,
					Reasoning:  fmt.Sprintf("keyword %q", kw),
				}, nil
			}
		}
	}
	return &Classification{Intent: General, Confidence: ruleMissConfidence, Reasoning: "no keyword matched"}, nil
}

// LLMClassifier asks a language model for one of llm.IntentLabels. Model or
// parse failures degrade to general_knowledge at 0.5 instead of an error.
type LLMClassifier struct {
	gen    llm.TextGenerator
	logger *zap.Logger
}

// NewLLMClassifier returns a classifier backed by gen.
func NewLLMClassifier(gen llm.TextGenerator, logger *zap.Logger) *LLMClassifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMClassifier{gen: gen, logger: logger}
}

// Classify classifies text with no conversation history.
func (c *LLMClassifier) Classify(ctx context.Context, text string) (*Classification, error) {
	return c.ClassifyWithHistory(ctx, text, nil)
}

// ClassifyWithHistory classifies text given earlier turns, oldest first.
// It returns an error only when ctx is done.
func (c *LLMClassifier) ClassifyWithHistory(ctx context.Context, text string, history []string) (*Classification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reply, err := c.gen.Complete(ctx, llm.IntentPrompt(text, history))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.logger.Warn("intent classification failed, using fallback",
			zap.String("model", c.gen.GetModel()),
			zap.Error(err))
		return fallback("classification failed"), nil
	}

	resp, err := llm.ParseIntentResponse(reply, llm.IntentLabels)
	if err != nil {
		c.logger.Warn("intent reply rejected, using fallback",
			zap.String("model", c.gen.GetModel()),
			zap.Error(err))
		return fallback("unparseable classification"), nil
	}

	c.logger.Debug("intent classified",
		zap.String("intent", resp.Intent),
		zap.Float64("confidence", resp.Confidence))
	return &Classification{Intent: resp.Intent, Confidence: resp.Confidence, Reasoning: resp.Reasoning}, nil
}

func fallback(reason string) *Classification {
	return &Classification{Intent: GeneralKnowledge, Confidence: fallbackConfidence, Reasoning: reason}
}
