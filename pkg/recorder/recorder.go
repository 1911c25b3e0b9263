package recorder

import (
	"io"

	internalrecorder "github.com/SmitUplenchwar2687/Beacon/internal/recorder"
	"github.com/SmitUplenchwar2687/Beacon/pkg/telemetry"
)

// Received is a record accepted by the collector.
type Received = internalrecorder.Received

// Recorder journals accepted records for later replay.
type Recorder = internalrecorder.Recorder

// New creates a new Recorder.
func New(w io.Writer) *Recorder {
	return internalrecorder.New(w)
}

// LoadJSON reads telemetry records from a JSON array.
func LoadJSON(r io.Reader) ([]telemetry.Record, error) {
	return internalrecorder.LoadJSON(r)
}
