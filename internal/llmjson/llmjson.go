// Package llmjson pulls JSON values out of free-form model replies.
package llmjson

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrNoJSON is returned when no candidate in the reply decodes.
var ErrNoJSON = errors.New("no JSON value found in reply")

// fencedBlock matches a code fence explicitly labeled json. Unlabeled fences
// are left to the bracket scan.
var fencedBlock = regexp.MustCompile("(?s)```(?i:json)\\b[ \\t]*\\n?(.*?)```")

// extractor returns a candidate substring of a reply, or false if it has none.
type extractor func(text string) (string, bool)

// fenced returns the first json-labeled fenced code block.
func fenced(text string) (string, bool) {
	m := fencedBlock.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// between returns the span from the first open to the last closing delimiter.
func between(open, closing string) extractor {
	return func(text string) (string, bool) {
		start := strings.Index(text, open)
		end := strings.LastIndex(text, closing)
		if start < 0 || end <= start {
			return "", false
		}
		return text[start : end+1], true
	}
}

func raw(text string) (string, bool) {
	t := strings.TrimSpace(text)
	return t, t != ""
}

var (
	arrayChain  = []extractor{fenced, between("[", "]"), between("{", "}"), raw}
	objectChain = []extractor{fenced, between("{", "}"), raw}
)

// decode tries each extractor in order and returns the first candidate that
// unmarshals into v.
func decode(text string, chain []extractor, v any) error {
	var lastErr error
	for _, extract := range chain {
		candidate, ok := extract(text)
		if !ok {
			continue
		}
		if err := unmarshal(candidate, v); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	if lastErr != nil {
		return errors.Join(ErrNoJSON, lastErr)
	}
	return ErrNoJSON
}

// unmarshal decodes exactly one JSON value, keeping numbers as json.Number so
// literals such as 1500.50 survive unchanged.
func unmarshal(s string, v any) error {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON value")
	}
	return nil
}

// DecodeArray decodes a reply expected to carry a JSON array, or an object
// wrapping one. The result is either []any or map[string]any.
func DecodeArray(text string) (any, error) {
	var v any
	if err := decode(text, arrayChain, &v); err != nil {
		return nil, err
	}
	switch v.(type) {
	case []any, map[string]any:
		return v, nil
	default:
		return nil, ErrNoJSON
	}
}

// DecodeObject decodes a reply expected to carry a JSON object into v.
func DecodeObject(text string, v any) error {
	return decode(text, objectChain, v)
}

// Truncate shortens s for log and error messages.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
