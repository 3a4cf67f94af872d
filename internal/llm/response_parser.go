package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// VerdictResponse is the arbitration reply from the model.
type VerdictResponse struct {
	MatchFound  bool     `json:"match_found"`
	BestMatchID *string  `json:"best_match_id"`
	Confidence  float64  `json:"confidence"`
	Reasoning   string   `json:"reasoning"`
	Evidence    []string `json:"evidence"`
}

// IntentResponse is the intent classification reply from the model.
type IntentResponse struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// extractJSON extracts the first valid JSON object from a string that may contain extra text.
// This handles cases where LLMs add explanations before/after the JSON despite instructions.
func extractJSON(text string) string {
	// Remove common markdown code block markers
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return text // No JSON found, return as-is and let parser fail
	}

	braceCount := 0
	inString := false
	escape := false

	for i := start; i < len(text); i++ {
		char := text[i]

		if escape {
			escape = false
			continue
		}
		if char == '\\' {
			escape = true
			continue
		}
		if char == '"' {
			inString = !inString
			continue
		}

		// Only count braces outside of strings
		if !inString {
			switch char {
			case '{':
				braceCount++
			case '}':
				braceCount--
				if braceCount == 0 {
					return text[start : i+1]
				}
			}
		}
	}

	return text // No complete JSON found, return as-is
}

// ParseVerdictResponse parses an arbitration reply.
// It returns an error if the JSON is malformed, the confidence is outside
// [0,1], or a match is claimed without an author ID. Whether the ID belongs
// to one of the offered candidates is checked by the caller.
func ParseVerdictResponse(text string) (*VerdictResponse, error) {
	var response VerdictResponse
	if err := json.Unmarshal([]byte(extractJSON(text)), &response); err != nil {
		return nil, fmt.Errorf("failed to parse verdict JSON: %w", err)
	}

	if response.Confidence < 0.0 || response.Confidence > 1.0 {
		return nil, fmt.Errorf("invalid confidence score: %f (must be 0.0-1.0)", response.Confidence)
	}
	if response.MatchFound && (response.BestMatchID == nil || strings.TrimSpace(*response.BestMatchID) == "") {
		return nil, fmt.Errorf("verdict claims a match without best_match_id")
	}

	return &response, nil
}

// ParseIntentResponse parses an intent classification reply. The intent must
// be one of allowed (case-insensitive); it is returned lowercased.
func ParseIntentResponse(text string, allowed []string) (*IntentResponse, error) {
	var response IntentResponse
	if err := json.Unmarshal([]byte(extractJSON(text)), &response); err != nil {
		return nil, fmt.Errorf("failed to parse intent JSON: %w", err)
	}

	response.Intent = strings.ToLower(strings.TrimSpace(response.Intent))
	valid := false
	for _, a := range allowed {
		if response.Intent == a {
			valid = true
			break
		}
	}
	if !valid {
		return nil, fmt.Errorf("invalid intent: %q (must be one of: %s)", response.Intent, strings.Join(allowed, ", "))
	}

	if response.Confidence < 0.0 || response.Confidence > 1.0 {
		return nil, fmt.Errorf("invalid confidence score: %f (must be 0.0-1.0)", response.Confidence)
	}

	return &response, nil
}
