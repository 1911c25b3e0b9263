package replay

import (
	"slices"
	"time"

	"github.com/SmitUplenchwar2687/Beacon/internal/telemetry"
)

// Filter defines criteria for selecting records during replay.
type Filter struct {
	Categories []telemetry.Category // Only include these categories (empty = all)
	Sessions   []string             // Only include these session ids (empty = all)
	After      time.Time            // Only include records created after this time (zero = no limit)
	Before     time.Time            // Only include records created before this time (zero = no limit)
}

// Match returns true if the record passes the filter.
func (f *Filter) Match(r telemetry.Record) bool {
	if len(f.Categories) > 0 && !slices.Contains(f.Categories, r.Category) {
		return false
	}
	if len(f.Sessions) > 0 && !slices.Contains(f.Sessions, r.SessionID) {
		return false
	}
	if !f.After.IsZero() && !r.CreatedAt.After(f.After) {
		return false
	}
	if !f.Before.IsZero() && !r.CreatedAt.Before(f.Before) {
		return false
	}
	return true
}
