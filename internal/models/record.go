// Package models defines the catalog record, payload and search result types shared by
// the index backends, the retrieval client and the outer surfaces.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// UnknownAuthor is the author reported for records whose payload carries none.
const UnknownAuthor = "Unknown"

// PointID identifies a record in the vector index. The index accepts unsigned integers
// and UUIDs; the ID keeps its textual form and remembers which kind it is so that it can
// be sent back exactly as received.
type PointID string

// ParsePointID validates s as an unsigned integer or a UUID.
func ParsePointID(s string) (PointID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("point id cannot be empty")
	}
	if _, err := strconv.ParseUint(s, 10, 64); err == nil {
		return PointID(s), nil
	}
	if _, err := uuid.Parse(s); err == nil {
		return PointID(s), nil
	}
	return "", fmt.Errorf("invalid point id %q: must be an unsigned integer or a UUID", s)
}

// IsNumeric reports whether the ID is an integer ID.
func (id PointID) IsNumeric() bool {
	_, err := strconv.ParseUint(string(id), 10, 64)
	return err == nil
}

// String returns the textual form of the ID.
func (id PointID) String() string {
	return string(id)
}

// MarshalJSON writes numeric IDs as JSON numbers and everything else as strings.
func (id PointID) MarshalJSON() ([]byte, error) {
	if id.IsNumeric() {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// UnmarshalJSON accepts either a JSON number or a JSON string.
func (id *PointID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = PointID(s)
		return nil
	}
	n, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid point id %s: %w", string(data), err)
	}
	*id = PointID(strconv.FormatUint(n, 10))
	return nil
}

// Payload is the typed view of a record's metadata. ImageURL is the deduplication key and
// may be empty; Author is never empty once the payload has been resolved.
type Payload struct {
	ImageURL string
	Author   string
	Extra    map[string]any
}

// PayloadFromMap resolves a raw index payload, applying the documented defaults.
func PayloadFromMap(m map[string]any) Payload {
	p := Payload{Author: UnknownAuthor}
	for k, v := range m {
		switch k {
		case "image_url":
			if s, ok := v.(string); ok {
				p.ImageURL = strings.TrimSpace(s)
			}
		case "author":
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				p.Author = s
			}
		default:
			if p.Extra == nil {
				p.Extra = make(map[string]any)
			}
			p.Extra[k] = v
		}
	}
	return p
}

// Map returns the payload as a flat key/value map, the shape the index stores.
func (p Payload) Map() map[string]any {
	m := make(map[string]any, len(p.Extra)+2)
	for k, v := range p.Extra {
		m[k] = v
	}
	if p.ImageURL != "" {
		m["image_url"] = p.ImageURL
	}
	if p.Author != "" {
		m["author"] = p.Author
	}
	return m
}

// MarshalJSON writes the payload as a flat object.
func (p Payload) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Map())
}

// UnmarshalJSON reads a flat object and resolves defaults.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*p = PayloadFromMap(m)
	return nil
}

// Record is one entry of the vector index. Vector is only populated when it was requested.
type Record struct {
	ID      PointID   `json:"id"`
	Vector  []float32 `json:"vector,omitempty"`
	Payload Payload   `json:"payload"`
}

// ImageURL is shorthand for r.Payload.ImageURL.
func (r Record) ImageURL() string {
	return r.Payload.ImageURL
}

// SearchResult is a hit from a raw-vector similarity search.
type SearchResult struct {
	ImageURL string  `json:"image_url"`
	Author   string  `json:"author"`
	Score    float64 `json:"score"`
}

// SimilarityPercent returns the score as a whole percentage, truncated and clamped to 0..100.
func (r SearchResult) SimilarityPercent() int {
	pct := int(r.Score * 100)
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
