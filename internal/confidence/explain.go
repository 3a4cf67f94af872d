package confidence

import (
	"fmt"
	"strings"
)

var factorLabels = map[Factor]string{
	FactorIdentity:   "identity matching",
	FactorIntent:     "intent classification",
	FactorRetrieval:  "knowledge base relevance",
	FactorGeneration: "response quality",
}

// ShouldEscalate reports whether b requires a human.
func ShouldEscalate(b Breakdown) bool {
	return b.Action == ActionEscalate
}

// Explain renders b as one human-readable paragraph.
func Explain(b Breakdown) string {
	var parts []string

	switch o := b.Overall; {
	case o >= 0.9:
		parts = append(parts, "Very high confidence ("+pct(o)+")")
	case o >= 0.8:
		parts = append(parts, "High confidence ("+pct(o)+")")
	case o >= 0.7:
		parts = append(parts, "Moderate confidence ("+pct(o)+")")
	case o >= 0.6:
		parts = append(parts, "Low confidence ("+pct(o)+")")
	default:
		parts = append(parts, "Very low confidence ("+pct(o)+")")
	}

	id := b.Factors[FactorIdentity].Score
	intent := b.Factors[FactorIntent].Score
	retrieval := b.Factors[FactorRetrieval].Score
	generation := b.Factors[FactorGeneration].Score

	var details []string
	switch {
	case id >= 0.8:
		details = append(details, "strong identity match ("+pct(id)+")")
	case id >= 0.6:
		details = append(details, "moderate identity match ("+pct(id)+")")
	default:
		details = append(details, "weak identity match ("+pct(id)+")")
	}
	if intent >= 0.8 {
		details = append(details, "clear intent ("+pct(intent)+")")
	} else {
		details = append(details, "uncertain intent ("+pct(intent)+")")
	}
	switch {
	case retrieval >= 0.8:
		details = append(details, "highly relevant context ("+pct(retrieval)+")")
	case retrieval >= 0.6:
		details = append(details, "moderately relevant context ("+pct(retrieval)+")")
	default:
		details = append(details, "low relevance context ("+pct(retrieval)+")")
	}
	if generation >= 0.8 {
		details = append(details, "confident response ("+pct(generation)+")")
	} else {
		details = append(details, "tentative response ("+pct(generation)+")")
	}

	s := strings.Join(parts, " ") + " based on: " + strings.Join(details, ", ") + "."
	if b.Weakest.Score < 0.6 {
		s += fmt.Sprintf(" Weakest factor: %s (%s).", factorLabels[b.Weakest.Name], pct(b.Weakest.Score))
	}
	if b.Action == ActionEscalate {
		s += " Recommend escalation to a human agent."
	} else {
		s += " Safe to respond automatically."
	}
	return s
}

// EscalationReason lists why b should go to a human. When no individual
// rule fires the weakest factor is named.
func EscalationReason(b Breakdown) string {
	var reasons []string

	if b.Overall < b.Threshold {
		reasons = append(reasons, fmt.Sprintf("Overall confidence (%s) below threshold (%s)", pct(b.Overall), pct(b.Threshold)))
	}
	if b.Factors[FactorIdentity].Score < 0.5 {
		reasons = append(reasons, "Unable to confidently identify user")
	}
	if b.Factors[FactorIntent].Score < 0.6 {
		reasons = append(reasons, "Unclear intent or ambiguous question")
	}
	if b.Factors[FactorRetrieval].Score < 0.6 {
		reasons = append(reasons, "No relevant knowledge base information found")
	}
	if b.Factors[FactorGeneration].Score < 0.6 {
		reasons = append(reasons, "Generated response not confident")
	}
	if len(reasons) == 0 {
		reasons = append(reasons, fmt.Sprintf("Low confidence in %s (%s)", b.Weakest.Name, pct(b.Weakest.Score)))
	}
	return strings.Join(reasons, ". ")
}

func pct(v float64) string {
	return fmt.Sprintf("%.0f%%", v*100)
}
