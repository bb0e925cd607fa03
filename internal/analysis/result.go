// Package analysis turns raw analysis engine output into the canonical
// result returned to clients.
package analysis

import (
	"encoding/json"
	"errors"
)

const (
	DefaultDescription = "No description available."
	DefaultSentiment   = "Neutral"
	DefaultColor       = "#cccccc"
)

// Result is the canonical response. Every field is always present.
type Result struct {
	Description string       `json:"description"`
	Colors      []ColorEntry `json:"colors"`
	Sentiment   string       `json:"sentiment"`
	Patterns    []string     `json:"patterns"`
	Category    string       `json:"category,omitempty"`
}

// ColorEntry is a swatch value (hex or CSS color) with a display label.
//
// On the wire an entry whose label equals its value is a bare string, and
// any other entry is {"hex": value, "name": label}. Both forms are what the
// browser client already renders.
type ColorEntry struct {
	Value string
	Label string
}

type colorObject struct {
	Hex  string `json:"hex"`
	Name string `json:"name"`
}

func (c ColorEntry) MarshalJSON() ([]byte, error) {
	if c.Label == "" || c.Label == c.Value {
		return json.Marshal(c.Value)
	}
	return json.Marshal(colorObject{Hex: c.Value, Name: c.Label})
}

func (c *ColorEntry) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	entry, ok := colorEntry(raw)
	if !ok {
		return errors.New("color entry must be a string or an object")
	}
	*c = entry
	return nil
}
