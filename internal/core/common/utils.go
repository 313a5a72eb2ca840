package common

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseJSON cleans and unmarshals a JSON string into a type T.
// It handles common LLM quirks like surrounding markdown or extra text.
func ParseJSON[T any](response string) (T, error) {
	var zero T
	jsonStr := response

	// Find first '{' and last '}'
	start := strings.IndexByte(jsonStr, '{')
	end := strings.LastIndexByte(jsonStr, '}') + 1

	if start == -1 {
		return zero, fmt.Errorf("no JSON object found in response (missing '{')")
	}
	if end <= start {
		return zero, fmt.Errorf("no JSON object found in response (missing '}')")
	}
	jsonStr = jsonStr[start:end]

	var result T
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return zero, fmt.Errorf("failed to unmarshal JSON: %w\nData: %s", err, jsonStr)
	}

	return result, nil
}

// Truncate shortens s to maxLen runes on one line, adding an ellipsis.
func Truncate(s string, maxLen int) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	runes := []rune(s)
	if maxLen <= 0 || len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}

// Unquote strips the quotes LLMs like to wrap single-line answers in.
func Unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			return strings.TrimSpace(s[1 : len(s)-1])
		}
	}
	return s
}
