package recorder

import (
	"time"

	"github.com/SmitUplenchwar2687/Beacon/internal/telemetry"
)

// Received is a telemetry record as accepted by the collector, with the
// sink path it was written to and the server-side receive time.
// It is the unit streamed to dashboard clients and exported to files.
type Received struct {
	Path       string           `json:"path"` // e.g. "template_feedback/v0.1/errors"
	Record     telemetry.Record `json:"record"`
	ReceivedAt time.Time        `json:"received_at"`
}
