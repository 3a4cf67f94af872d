// Package confidence combines the identity, intent, retrieval and generation
// scores of a support answer into one weighted confidence and decides whether
// the answer may be sent automatically or must be escalated to a human.
package confidence

import (
	"errors"
	"fmt"
	"math"

	"github.com/bookleaf/assist/internal/config"
)

// Factor names one input to the overall confidence.
type Factor string

// Factors, in tie-break order for the weakest factor.
const (
	FactorIdentity   Factor = "identity"
	FactorIntent     Factor = "intent"
	FactorRetrieval  Factor = "retrieval"
	FactorGeneration Factor = "generation"
)

// Factors lists every factor in weight order.
var Factors = []Factor{FactorIdentity, FactorIntent, FactorRetrieval, FactorGeneration}

// Action is what to do with an answer.
type Action string

const (
	ActionAutoRespond Action = "auto_respond"
	ActionEscalate    Action = "escalate"
)

// ErrInvalidWeights is returned for a weight vector that is not four
// non-negative finite numbers with a positive sum.
var ErrInvalidWeights = errors.New("invalid confidence weights")

// ErrInvalidThreshold is returned for a threshold outside [0,1].
var ErrInvalidThreshold = errors.New("invalid confidence threshold")

// Input carries the four factor scores. Weights and Threshold optionally
// override the aggregator's configuration for one call.
type Input struct {
	Identity   float64   `json:"identity_confidence"`
	Intent     float64   `json:"intent_confidence"`
	Retrieval  float64   `json:"retrieval_confidence"`
	Generation float64   `json:"generation_confidence"`
	Weights    []float64 `json:"weights,omitempty"`
	Threshold  *float64  `json:"threshold,omitempty"`
}

// Validate reports malformed overrides. Scores need no validation; they are
// clamped into [0,1].
func (in Input) Validate() error {
	if in.Weights != nil {
		if _, err := normalizeWeights(in.Weights); err != nil {
			return err
		}
	}
	if in.Threshold != nil {
		if err := checkThreshold(*in.Threshold); err != nil {
			return err
		}
	}
	return nil
}

func (in Input) scores() [4]float64 {
	return [4]float64{clampScore(in.Identity), clampScore(in.Intent), clampScore(in.Retrieval), clampScore(in.Generation)}
}

// FactorScore is one factor's share of the overall confidence.
type FactorScore struct {
	Score        float64 `json:"score"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
}

// WeakestFactor is the lowest-scoring factor.
type WeakestFactor struct {
	Name  Factor  `json:"name"`
	Score float64 `json:"score"`
}

// Breakdown is the result of Compute.
type Breakdown struct {
	Overall   float64                `json:"overall_confidence"`
	Action    Action                 `json:"action"`
	Factors   map[Factor]FactorScore `json:"factors"`
	Threshold float64                `json:"threshold"`
	Weakest   WeakestFactor          `json:"weakest_factor"`
}

// Aggregator computes breakdowns. It holds only immutable configuration and
// is safe for concurrent use.
type Aggregator struct {
	weights   [4]float64
	threshold float64
}

// NewAggregator validates and normalizes weights (identity, intent,
// retrieval, generation) so they sum to 1.
func NewAggregator(weights []float64, threshold float64) (*Aggregator, error) {
	w, err := normalizeWeights(weights)
	if err != nil {
		return nil, err
	}
	if err := checkThreshold(threshold); err != nil {
		return nil, err
	}
	return &Aggregator{weights: w, threshold: threshold}, nil
}

// FromConfig builds an aggregator from the confidence configuration.
func FromConfig(cfg config.ConfidenceConfig) (*Aggregator, error) {
	return NewAggregator(cfg.Weights, cfg.Threshold)
}

// Weights returns the normalized weights in factor order.
func (a *Aggregator) Weights() []float64 {
	w := a.weights
	return w[:]
}

// Threshold returns the configured auto-respond threshold.
func (a *Aggregator) Threshold() float64 {
	return a.threshold
}

// Compute scores in. Overrides that fail Input.Validate are ignored and the
// configured values are used instead.
func (a *Aggregator) Compute(in Input) Breakdown {
	weights := a.weights
	if in.Weights != nil {
		if w, err := normalizeWeights(in.Weights); err == nil {
			weights = w
		}
	}
	threshold := a.threshold
	if in.Threshold != nil && checkThreshold(*in.Threshold) == nil {
		threshold = *in.Threshold
	}

	scores := in.scores()
	b := Breakdown{
		Factors:   make(map[Factor]FactorScore, len(Factors)),
		Threshold: threshold,
		Weakest:   WeakestFactor{Name: Factors[0], Score: scores[0]},
	}

	var overall float64
	for i, f := range Factors {
		contribution := scores[i] * weights[i]
		overall += contribution
		b.Factors[f] = FactorScore{Score: scores[i], Weight: weights[i], Contribution: contribution}
		if scores[i] < b.Weakest.Score {
			b.Weakest = WeakestFactor{Name: f, Score: scores[i]}
		}
	}

	b.Overall = clampScore(overall)
	if b.Overall >= threshold {
		b.Action = ActionAutoRespond
	} else {
		b.Action = ActionEscalate
	}
	return b
}

func normalizeWeights(weights []float64) ([4]float64, error) {
	var w [4]float64
	if len(weights) != len(w) {
		return w, fmt.Errorf("%w: need %d weights, got %d", ErrInvalidWeights, len(w), len(weights))
	}
	var sum float64
	for i, v := range weights {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return w, fmt.Errorf("%w: weight %d is %v", ErrInvalidWeights, i, v)
		}
		sum += v
	}
	if sum <= 0 {
		return w, fmt.Errorf("%w: weights sum to zero", ErrInvalidWeights)
	}
	for i, v := range weights {
		w[i] = v / sum
	}
	return w, nil
}

func checkThreshold(t float64) error {
	if math.IsNaN(t) || t < 0 || t > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidThreshold, t)
	}
	return nil
}

func clampScore(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
