// Package llm provides model-backed completion for identity arbitration and
// intent classification. It includes strict JSON-only prompt templates and
// response parsers that work with Anthropic, OpenAI and Ollama models.
package llm

import (
	"fmt"
	"strings"
)

// QueryProfile is the identity information supplied by the requester.
type QueryProfile struct {
	Name  string
	Email string
	Phone string
}

// CandidateProfile is one stored author offered to the model.
type CandidateProfile struct {
	ID    string
	Name  string
	Email string
	Phone string
	Genre string
	Books int
}

// DisambiguationPrompt builds the prompt asking the model which candidate, if
// any, is the same person as the query. The model must answer with a single
// JSON object (see VerdictResponse).
func DisambiguationPrompt(query QueryProfile, candidates []CandidateProfile, conversation string) string {
	var b strings.Builder

	b.WriteString("TASK: Decide which candidate author is the same person as the query identity.\n")
	b.WriteString("OUTPUT: ONLY valid JSON. NO markdown. NO code blocks.\n\n")

	b.WriteString("QUERY IDENTITY:\n")
	writeField(&b, "", "Name", query.Name)
	writeField(&b, "", "Email", query.Email)
	writeField(&b, "", "Phone", query.Phone)

	b.WriteString("\nCANDIDATE AUTHORS:\n")
	for i, c := range candidates {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Candidate %d:\n", i+1)
		fmt.Fprintf(&b, "  - ID: %s\n", c.ID)
		fmt.Fprintf(&b, "  - Name: %s\n", orNA(c.Name))
		fmt.Fprintf(&b, "  - Email: %s\n", orNA(c.Email))
		fmt.Fprintf(&b, "  - Phone: %s\n", orNA(c.Phone))
		writeField(&b, "  - ", "Genre", c.Genre)
		if c.Books > 0 {
			fmt.Fprintf(&b, "  - Books: %d\n", c.Books)
		}
	}

	if strings.TrimSpace(conversation) != "" {
		fmt.Fprintf(&b, "\nCONVERSATION CONTEXT:\n%s\n", strings.TrimSpace(conversation))
	}

	b.WriteString(`
CONSIDER:
1. Name similarity (exact matches, nicknames, typos)
2. Contact information matches (email, phone)
3. Any additional context provided

REQUIRED JSON STRUCTURE:
{
  "match_found": true or false,
  "best_match_id": "candidate ID" or null,
  "confidence": 0.0 to 1.0,
  "reasoning": "why this is or is not a match",
  "evidence": ["matching", "factors"]
}

CONFIDENCE:
- 0.8-0.9 for strong matches with several pieces of evidence
- 0.6-0.8 for likely matches with some evidence
- below 0.6 for uncertain matches
- set match_found to false when confidence is below 0.5
`)
	return b.String()
}

// IntentLabels are the labels the model classifier may return.
var IntentLabels = []string{"author_specific", "general_knowledge", "technical_support", "out_of_scope"}

// IntentPrompt builds the intent classification prompt for a support message.
// history holds earlier turns, oldest first, and may be empty.
func IntentPrompt(message string, history []string) string {
	var b strings.Builder

	b.WriteString(`TASK: Classify a BookLeaf Publishing support message into ONE intent.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks.

INTENTS:
- author_specific: the author's own account, books, royalty payments, sales or personal details
  ("When will I get paid?", "How many copies of my book sold?")
- general_knowledge: publishing process, royalty structure, services, policies
  ("How does publishing work?", "Do you offer cover design?")
- technical_support: website, dashboard access, login problems, errors
  ("I can't log in", "Dashboard won't load")
- out_of_scope: unrelated to publishing or BookLeaf
  ("What's the weather?", "Tell me a joke")
`)

	if len(history) > 0 {
		b.WriteString("\nCONVERSATION HISTORY:\n")
		for _, turn := range history {
			fmt.Fprintf(&b, "- %s\n", turn)
		}
	}

	fmt.Fprintf(&b, "\nMESSAGE:\n%s\n", message)
	b.WriteString(`
REQUIRED JSON STRUCTURE:
{"intent": "intent_name", "confidence": 0.0-1.0, "reasoning": "brief explanation"}
`)
	return b.String()
}

func writeField(b *strings.Builder, prefix, label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "%s%s: %s\n", prefix, label, value)
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
