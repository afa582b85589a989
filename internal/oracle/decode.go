package oracle

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// ParseError marks oracle output that could not be decoded. Callers
// branch on it explicitly instead of treating it as a transport failure.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse oracle output: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsParseError reports whether err is (or wraps) a ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// extractJSON pulls the JSON object out of raw model output, tolerating
// markdown code fences and surrounding prose.
func extractJSON(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", &ParseError{Raw: raw, Err: fmt.Errorf("empty output")}
	}

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", &ParseError{Raw: raw, Err: fmt.Errorf("no JSON object found")}
	}
	text = text[start : end+1]

	if !gjson.Valid(text) {
		return "", &ParseError{Raw: raw, Err: fmt.Errorf("invalid JSON")}
	}
	return text, nil
}

func decodeStrict[T any](raw string) (*T, error) {
	payload, err := extractJSON(raw)
	if err != nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return nil, &ParseError{Raw: raw, Err: err}
	}
	return &out, nil
}
