package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bookleaf/assist/pkg/types"
)

const (
	minArbitratedConfidence = 0.5
	maxArbitratedConfidence = 0.9
)

// Decision is the disambiguator's outcome. A nil Author means no candidate
// was accepted and a new author should be created.
type Decision struct {
	Author *types.Author
	// Identity is the existing link for the current handle, if any.
	Identity   *types.Identity
	Confidence float64
	Method     types.MatchMethod
	Reasoning  string
}

// Disambiguator turns a candidate set into a decision, consulting the arbiter
// when more than one author is plausible.
type Disambiguator struct {
	arbiter  Arbiter
	fallback *RuleArbiter
	timeout  time.Duration
	newConf  float64
	logger   *zap.Logger
	metrics  *Metrics
}

// NewDisambiguator returns a disambiguator. A nil arbiter uses the rule
// fallback directly.
func NewDisambiguator(arbiter Arbiter, timeout time.Duration, penalty, newIdentityConfidence float64, logger *zap.Logger, metrics *Metrics) *Disambiguator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Disambiguator{
		arbiter:  arbiter,
		fallback: NewRuleArbiter(penalty),
		timeout:  timeout,
		newConf:  newIdentityConfidence,
		logger:   logger,
		metrics:  metrics,
	}
}

// Decide never fails: arbitration problems degrade to the best candidate.
// conflict marks candidates that came from an exact-lookup conflict, which
// always go to the arbiter even when there is only one.
func (d *Disambiguator) Decide(ctx context.Context, req ArbitrationRequest, conflict bool) *Decision {
	switch {
	case len(req.Candidates) == 0:
		return &Decision{
			Confidence: d.newConf,
			Method:     types.MethodNewIdentity,
			Reasoning:  "no candidates matched",
		}
	case len(req.Candidates) == 1 && !conflict:
		c := req.Candidates[0]
		return &Decision{
			Author:     c.Author,
			Confidence: c.Confidence,
			Method:     types.MethodFuzzyMatch,
			Reasoning:  fmt.Sprintf("single name candidate with similarity %.2f", c.Score),
		}
	}

	arbiter := d.arbiter
	if arbiter == nil {
		arbiter = d.fallback
	}

	actx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	verdict, err := arbiter.Disambiguate(actx, req)
	if err == nil && actx.Err() != nil {
		err = fmt.Errorf("%w: %v", ErrArbitrationUnavailable, actx.Err())
	}
	if err != nil {
		if !errors.Is(err, ErrArbitrationUnavailable) {
			err = fmt.Errorf("%w: %v", ErrArbitrationUnavailable, err)
		}
		d.logger.Warn("arbitration failed, using best candidate",
			zap.Int("candidates", len(req.Candidates)),
			zap.Error(err))
		d.metrics.arbitration("fallback")
		return d.degrade(req, err)
	}

	if !verdict.MatchFound || verdict.Confidence < minArbitratedConfidence {
		if conflict {
			// The identifiers are already owned; a new author would duplicate one.
			d.metrics.arbitration("fallback")
			return d.settleConflict(req, verdict)
		}
		d.metrics.arbitration("no_match")
		return &Decision{
			Confidence: d.newConf,
			Method:     types.MethodNewIdentity,
			Reasoning:  "arbiter found no matching candidate: " + verdict.Reasoning,
		}
	}

	chosen := findCandidate(req.Candidates, verdict.AuthorID)
	if chosen == nil {
		d.metrics.arbitration("fallback")
		return d.degrade(req, fmt.Errorf("%w: author %s was not a candidate", ErrArbitrationUnavailable, verdict.AuthorID))
	}

	d.metrics.arbitration("matched")
	conf := verdict.Confidence
	if verdict.Method == types.MethodLLMDisambiguated {
		conf = clamp(conf, minArbitratedConfidence, maxArbitratedConfidence)
	}
	return &Decision{
		Author:     chosen.Author,
		Confidence: conf,
		Method:     verdict.Method,
		Reasoning:  verdict.Reasoning,
	}
}

func (d *Disambiguator) degrade(req ArbitrationRequest, cause error) *Decision {
	best := bestCandidate(req.Candidates)
	return &Decision{
		Author:     best.Author,
		Confidence: best.Confidence * d.fallback.penalty,
		Method:     types.MethodFuzzyMatch,
		Reasoning: fmt.Sprintf("arbitration unavailable (%v); chose highest-scoring of %d candidates with a %.2f penalty",
			cause, len(req.Candidates), d.fallback.penalty),
	}
}

// settleConflict keeps an exact-identifier conflict on an existing author
// when the arbiter declines to choose: the best candidate is taken with the
// fallback penalty.
func (d *Disambiguator) settleConflict(req ArbitrationRequest, verdict *Verdict) *Decision {
	best := bestCandidate(req.Candidates)
	return &Decision{
		Author:     best.Author,
		Confidence: best.Confidence * d.fallback.penalty,
		Method:     types.MethodFuzzyMatch,
		Reasoning: fmt.Sprintf("identifiers belong to %d different authors and the arbiter chose none (%s); kept highest-scoring with a %.2f penalty",
			len(req.Candidates), verdict.Reasoning, d.fallback.penalty),
	}
}

func findCandidate(cs []Candidate, authorID string) *Candidate {
	for i := range cs {
		if cs[i].Author.ID == authorID {
			return &cs[i]
		}
	}
	return nil
}
