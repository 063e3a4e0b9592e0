// Package llmutil contains helpers for digesting raw language-model output.
package llmutil

import (
	"fmt"
	"regexp"
	"strings"

	json "github.com/json-iterator/go"
)

var (
	// Regexes use \x60 for backticks because Go raw strings cannot contain them.

	// fencedObjectRegex matches a JSON object wrapped in a markdown fence.
	fencedObjectRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*({.*})\\s*\x60\x60\x60")
	// fencedArrayRegex matches a JSON array wrapped in a markdown fence.
	fencedArrayRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*(\\[.*\\])\\s*\x60\x60\x60")
)

// ExtractJSON locates the JSON payload inside a raw model response. Fenced
// code blocks win; otherwise the outermost {...} or [...] span in
// conversational text is taken. Returns the original string when no
// narrowing is possible.
func ExtractJSON(response string) string {
	response = strings.TrimSpace(response)

	if strings.HasPrefix(response, "```") {
		if m := fencedObjectRegex.FindStringSubmatch(response); len(m) > 1 {
			return strings.TrimSpace(m[1])
		}
		if m := fencedArrayRegex.FindStringSubmatch(response); len(m) > 1 {
			return strings.TrimSpace(m[1])
		}
	}

	// Outside a fence, honor whichever structure opens first so an array of
	// objects is not mistaken for its first element.
	objIdx := strings.IndexByte(response, '{')
	arrIdx := strings.IndexByte(response, '[')
	if arrIdx != -1 && (objIdx == -1 || arrIdx < objIdx) {
		if span, ok := outerSpan(response, '[', ']'); ok {
			return span
		}
	}
	if span, ok := outerSpan(response, '{', '}'); ok {
		return span
	}
	if span, ok := outerSpan(response, '[', ']'); ok {
		return span
	}
	return response
}

// ParseJSONResponse extracts and unmarshals a JSON payload from a model
// response into T. Markdown fences and surrounding prose are tolerated.
func ParseJSONResponse[T any](response string) (*T, error) {
	payload := ExtractJSON(response)
	if payload == "" {
		return nil, fmt.Errorf("could not find any JSON in the model response")
	}

	var result T
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal model JSON response: %w. Extracted JSON (truncated): %s", err, truncate(payload, 500))
	}
	return &result, nil
}

// outerSpan returns the substring from the first open delimiter to the last
// matching close delimiter, if both exist in order.
func outerSpan(s string, open, closing byte) (string, bool) {
	first := strings.IndexByte(s, open)
	last := strings.LastIndexByte(s, closing)
	if first == -1 || last == -1 || last <= first {
		return "", false
	}
	return s[first : last+1], true
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
