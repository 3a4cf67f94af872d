package identity

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/bookleaf/assist/internal/llm"
	"github.com/bookleaf/assist/pkg/types"
)

// ArbitrationRequest carries the query and the candidates to choose from.
type ArbitrationRequest struct {
	Name       string
	Email      string
	Phone      string
	Candidates []Candidate
	Context    string
}

// Verdict is an arbiter's decision. MatchFound false means none of the
// candidates is the requester.
type Verdict struct {
	MatchFound bool
	AuthorID   string
	Confidence float64
	Method     types.MatchMethod
	Reasoning  string
	Evidence   []string
}

// Arbiter chooses among several plausible authors.
type Arbiter interface {
	Disambiguate(ctx context.Context, req ArbitrationRequest) (*Verdict, error)
}

// LLMArbiter asks a language model to pick the matching candidate.
type LLMArbiter struct {
	gen    llm.TextGenerator
	logger *zap.Logger
}

// NewLLMArbiter returns an arbiter backed by gen.
func NewLLMArbiter(gen llm.TextGenerator, logger *zap.Logger) *LLMArbiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMArbiter{gen: gen, logger: logger}
}

// Disambiguate prompts the model and validates its verdict. Any failure,
// including an author ID that was not offered, is ErrArbitrationUnavailable.
func (a *LLMArbiter) Disambiguate(ctx context.Context, req ArbitrationRequest) (*Verdict, error) {
	profiles := make([]llm.CandidateProfile, 0, len(req.Candidates))
	offered := make(map[string]bool, len(req.Candidates))
	for _, c := range req.Candidates {
		profiles = append(profiles, candidateProfile(c.Author))
		offered[c.Author.ID] = true
	}

	prompt := llm.DisambiguationPrompt(
		llm.QueryProfile{Name: req.Name, Email: req.Email, Phone: req.Phone},
		profiles,
		req.Context,
	)

	text, err := a.gen.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArbitrationUnavailable, err)
	}

	resp, err := llm.ParseVerdictResponse(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArbitrationUnavailable, err)
	}

	v := &Verdict{
		MatchFound: resp.MatchFound,
		Confidence: resp.Confidence,
		Method:     types.MethodLLMDisambiguated,
		Reasoning:  resp.Reasoning,
		Evidence:   resp.Evidence,
	}
	if resp.MatchFound {
		v.AuthorID = *resp.BestMatchID
		if !offered[v.AuthorID] {
			a.logger.Warn("arbiter chose an author that was not offered",
				zap.String("author_id", v.AuthorID),
				zap.String("model", a.gen.GetModel()))
			return nil, fmt.Errorf("%w: author %s was not a candidate", ErrArbitrationUnavailable, v.AuthorID)
		}
	}
	return v, nil
}

// RuleArbiter picks the highest-scoring candidate and applies a penalty to
// its confidence. It needs no network and never fails on a non-empty set.
type RuleArbiter struct {
	penalty float64
}

// NewRuleArbiter returns a rule arbiter multiplying confidence by penalty.
func NewRuleArbiter(penalty float64) *RuleArbiter {
	return &RuleArbiter{penalty: penalty}
}

// Disambiguate returns the best candidate by score, ties broken by author ID.
func (a *RuleArbiter) Disambiguate(ctx context.Context, req ArbitrationRequest) (*Verdict, error) {
	best := bestCandidate(req.Candidates)
	if best == nil {
		return &Verdict{MatchFound: false, Method: types.MethodFuzzyMatch, Reasoning: "no candidates"}, nil
	}
	return &Verdict{
		MatchFound: true,
		AuthorID:   best.Author.ID,
		Confidence: best.Confidence * a.penalty,
		Method:     types.MethodFuzzyMatch,
		Reasoning: fmt.Sprintf("highest-scoring of %d candidates (similarity %.2f), confidence penalized by %.2f",
			len(req.Candidates), best.Score, a.penalty),
	}, nil
}

func bestCandidate(cs []Candidate) *Candidate {
	var best *Candidate
	for i := range cs {
		c := &cs[i]
		if best == nil || c.Score > best.Score || (c.Score == best.Score && c.Author.ID < best.Author.ID) {
			best = c
		}
	}
	return best
}

func candidateProfile(a *types.Author) llm.CandidateProfile {
	p := llm.CandidateProfile{ID: a.ID, Name: a.FullName, Email: a.Email, Phone: a.Phone}
	if genre, ok := a.Metadata["genre"].(string); ok {
		p.Genre = genre
	}
	switch n := a.Metadata["books_published"].(type) {
	case int:
		p.Books = n
	case int64:
		p.Books = int(n)
	case float64:
		p.Books = int(n)
	}
	return p
}

var (
	_ Arbiter = (*LLMArbiter)(nil)
	_ Arbiter = (*RuleArbiter)(nil)
)
