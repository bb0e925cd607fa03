package analysis

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// RawOutput is the engine payload before any field is trusted.
type RawOutput map[string]any

// ParseError means the engine output could not be read as a JSON object.
type ParseError struct {
	RawOutput string
	Err       error
}

func (e *ParseError) Error() string {
	return "parse analysis output: " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var (
	ErrEmptyOutput = errors.New("engine produced no output")
	ErrNotObject   = errors.New("engine output is not a JSON object")
)

// Parse decodes stdout into a RawOutput. Text printed around the payload is
// tolerated: when the whole output is not valid JSON, the span from the
// first '{' to the last '}' is tried.
func Parse(stdout []byte) (RawOutput, error) {
	trimmed := bytes.TrimSpace(stdout)
	if len(trimmed) == 0 {
		return nil, &ParseError{RawOutput: string(stdout), Err: ErrEmptyOutput}
	}

	value, err := decode(trimmed)
	if err != nil {
		start := bytes.IndexByte(trimmed, '{')
		end := bytes.LastIndexByte(trimmed, '}')
		if start < 0 || end <= start {
			return nil, &ParseError{RawOutput: string(stdout), Err: err}
		}
		value, err = decode(trimmed[start : end+1])
		if err != nil {
			return nil, &ParseError{RawOutput: string(stdout), Err: err}
		}
	}

	obj, ok := value.(map[string]any)
	if !ok {
		return nil, &ParseError{RawOutput: string(stdout), Err: ErrNotObject}
	}
	return RawOutput(obj), nil
}

func decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("unexpected data after JSON value at offset %d", dec.InputOffset())
	}
	return value, nil
}

// Normalize builds the canonical result. It never fails: each missing,
// empty or mistyped field falls back to its default.
func Normalize(raw RawOutput) Result {
	return Result{
		Description: firstString(raw, DefaultDescription, "description", "enhanced_caption"),
		Colors:      colors(raw["colors"]),
		Sentiment:   firstString(raw, DefaultSentiment, "sentiment"),
		Patterns:    patterns(raw["patterns"]),
		Category:    firstString(raw, "", "category"),
	}
}

// EngineError returns the error message an engine embedded in its payload,
// if any.
func (r RawOutput) EngineError() (string, bool) {
	msg, ok := r["error"].(string)
	return msg, ok && msg != ""
}

func firstString(raw RawOutput, fallback string, keys ...string) string {
	for _, key := range keys {
		if s, ok := raw[key].(string); ok && s != "" {
			return s
		}
	}
	return fallback
}

func colors(value any) []ColorEntry {
	items, ok := value.([]any)
	if !ok {
		return []ColorEntry{}
	}
	out := make([]ColorEntry, 0, len(items))
	for _, item := range items {
		if entry, ok := colorEntry(item); ok {
			out = append(out, entry)
		}
	}
	return out
}

func colorEntry(item any) (ColorEntry, bool) {
	switch v := item.(type) {
	case string:
		return ColorEntry{Value: v, Label: v}, true
	case map[string]any:
		value := firstString(RawOutput(v), DefaultColor, "hex", "color")
		label := firstString(RawOutput(v), value, "name")
		return ColorEntry{Value: value, Label: label}, true
	default:
		return ColorEntry{}, false
	}
}

func patterns(value any) []string {
	items, ok := value.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
