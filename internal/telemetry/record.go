// Package telemetry defines the records Beacon collects and ships.
package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"
)

// Category partitions records in the sink. The value doubles as the
// path segment under <namespace>/<version>/.
type Category string

const (
	CategoryError        Category = "errors"
	CategoryModification Category = "modifications"
	CategoryPerformance  Category = "performance"
	CategoryStuckPoint   Category = "stuck_points"
)

// Categories lists every known category.
var Categories = []Category{
	CategoryError,
	CategoryModification,
	CategoryPerformance,
	CategoryStuckPoint,
}

// ErrMalformed marks a record that cannot be serialized. Such records are
// dropped rather than buffered.
var ErrMalformed = errors.New("telemetry: malformed record")

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryError, CategoryModification, CategoryPerformance, CategoryStuckPoint:
		return true
	}
	return false
}

// ParseCategory accepts both the path form ("stuck_points") and the
// singular form ("stuck_point").
func ParseCategory(s string) (Category, error) {
	switch s {
	case "errors", "error":
		return CategoryError, nil
	case "modifications", "modification":
		return CategoryModification, nil
	case "performance":
		return CategoryPerformance, nil
	case "stuck_points", "stuck_point":
		return CategoryStuckPoint, nil
	}
	return "", fmt.Errorf("unknown category %q, must be one of: errors, modifications, performance, stuck_points", s)
}

// Payload is the free-form body of a record.
type Payload map[string]any

// Record is a single telemetry observation. Treat it as immutable:
// NewRecord copies the payload it is given.
type Record struct {
	Category  Category  `json:"category"`
	Payload   Payload   `json:"payload"`
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
}

// NewRecord builds a record with a deep copy of payload, so later changes
// by the caller, including to nested maps and slices, do not leak into it.
func NewRecord(cat Category, payload Payload, sessionID string, createdAt time.Time) Record {
	return Record{
		Category:  cat,
		Payload:   clonePayload(payload),
		SessionID: sessionID,
		CreatedAt: createdAt,
	}
}

func clonePayload(p Payload) Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case Payload:
		return clonePayload(v)
	case map[string]any:
		return map[string]any(clonePayload(v))
	case map[string]string:
		return maps.Clone(v)
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return slices.Clone(v)
	default:
		return v
	}
}

// Validate checks the fields every sink relies on.
func (r Record) Validate() error {
	if !r.Category.Valid() {
		return fmt.Errorf("invalid category %q", r.Category)
	}
	if r.SessionID == "" {
		return errors.New("session id is required")
	}
	if r.CreatedAt.IsZero() {
		return errors.New("created_at is required")
	}
	return nil
}

// Encode serializes r. Any failure is reported as ErrMalformed.
func Encode(r Record) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return data, nil
}

// Decode parses a record produced by Encode.
func Decode(data []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return r, nil
}
