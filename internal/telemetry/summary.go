package telemetry

// Summary is the session wrap-up sent once at teardown. Field names follow
// the beacon wire format accepted by the collector's /api/feedback.
type Summary struct {
	SessionID      string  `json:"sessionId"`
	Version        string  `json:"version,omitempty"`
	Duration       int64   `json:"duration"` // milliseconds since session start
	CompletionRate float64 `json:"completionRate"`
	Errors         int     `json:"errors"`
}
