package recorder

import (
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/SmitUplenchwar2687/Beacon/internal/telemetry"
)

// Recorder journals records accepted by the collector so they can be
// exported and replayed later.
// Thread-safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	entries []Received
	writer  io.Writer // optional: stream entries as they arrive
}

// New creates a new Recorder. If w is non-nil, entries are also
// written to w as newline-delimited JSON as they arrive.
func New(w io.Writer) *Recorder {
	return &Recorder{
		writer: w,
	}
}

// Record appends one received entry.
func (r *Recorder) Record(rec Received) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, rec)

	if r.writer != nil {
		if err := json.NewEncoder(r.writer).Encode(rec); err != nil {
			return err
		}
	}
	return nil
}

// Entries returns a copy of everything journaled so far.
func (r *Recorder) Entries() []Received {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Received, len(r.entries))
	copy(out, r.entries)
	return out
}

// Records returns just the telemetry records, in arrival order.
func (r *Recorder) Records() []telemetry.Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]telemetry.Record, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Record
	}
	return out
}

// Len returns the number of journaled entries.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// ExportJSON writes all telemetry records to w as a JSON array, the
// format LoadJSON and the replay command read.
func (r *Recorder) ExportJSON(w io.Writer) error {
	records := r.Records()

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

// ExportFile writes all records to a file as a JSON array.
func (r *Recorder) ExportFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return r.ExportJSON(f)
}

// LoadJSON reads telemetry records from a JSON array.
func LoadJSON(r io.Reader) ([]telemetry.Record, error) {
	var records []telemetry.Record
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, err
	}
	return records, nil
}
