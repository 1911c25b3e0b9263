// Package telemetry exposes the record types agents produce.
package telemetry

import (
	"time"

	internaltelemetry "github.com/SmitUplenchwar2687/Beacon/internal/telemetry"
)

// Category partitions records at the sink.
type Category = internaltelemetry.Category

// Payload is the category-specific body of a record.
type Payload = internaltelemetry.Payload

// Record is one telemetry entry.
type Record = internaltelemetry.Record

// Summary is the end-of-session report sent on teardown.
type Summary = internaltelemetry.Summary

const (
	CategoryError        = internaltelemetry.CategoryError
	CategoryModification = internaltelemetry.CategoryModification
	CategoryPerformance  = internaltelemetry.CategoryPerformance
	CategoryStuckPoint   = internaltelemetry.CategoryStuckPoint
)

// NewRecord builds a record, copying payload.
func NewRecord(cat Category, payload Payload, sessionID string, createdAt time.Time) Record {
	return internaltelemetry.NewRecord(cat, payload, sessionID, createdAt)
}

// ParseCategory validates a category name.
func ParseCategory(s string) (Category, error) {
	return internaltelemetry.ParseCategory(s)
}
