// Package events models the host page as a source of typed events and
// adapts those events into session telemetry.
package events

import (
	"strings"
	"time"
)

// Kind identifies an event type on the bus.
type Kind string

const (
	KindError    Kind = "error"
	KindTeardown Kind = "teardown"
	KindFocusIn  Kind = "focus_in"
	KindFocusOut Kind = "focus_out"
	KindMutation Kind = "mutation"
	KindTick     Kind = "tick"
)

// Event is anything the host can publish.
type Event interface {
	Kind() Kind
}

// ErrorEvent is an uncaught error raised by page script.
type ErrorEvent struct {
	Message string
	Source  string // script URL or inline script name
	Line    int    // 1-based
	Column  int
}

// TeardownEvent is published when the page is about to go away.
type TeardownEvent struct{}

// Element is the part of a DOM element the adapters look at.
type Element struct {
	ID      string
	Classes []string
	Tag     string
}

// FocusIn is published when an element gains focus.
type FocusIn struct{ Element Element }

// FocusOut is published when an element loses focus.
type FocusOut struct{ Element Element }

// MutationEvent carries the new value of a watched target.
type MutationEvent struct {
	Target string // e.g. "title"
	Value  string
}

// TickEvent is published by a Ticker.
type TickEvent struct{ At time.Time }

func (ErrorEvent) Kind() Kind    { return KindError }
func (TeardownEvent) Kind() Kind { return KindTeardown }
func (FocusIn) Kind() Kind       { return KindFocusIn }
func (FocusOut) Kind() Kind      { return KindFocusOut }
func (MutationEvent) Kind() Kind { return KindMutation }
func (TickEvent) Kind() Kind     { return KindTick }

// Selector describes e for stuck-point records: "#id" if it has an id,
// else ".class" for its first class, else its lower-cased tag name.
func (e Element) Selector() string {
	if e.ID != "" {
		return "#" + e.ID
	}
	for _, c := range e.Classes {
		if c = strings.TrimSpace(c); c != "" {
			return "." + c
		}
	}
	return strings.ToLower(e.Tag)
}

// ParseElement reads the compact form used on the command line:
// "tag#id.class1.class2", any part optional.
func ParseElement(s string) Element {
	var el Element
	rest := s
	if i := strings.IndexAny(rest, "#."); i >= 0 {
		el.Tag, rest = rest[:i], rest[i:]
	} else {
		return Element{Tag: rest}
	}
	for rest != "" {
		marker := rest[0]
		rest = rest[1:]
		end := strings.IndexAny(rest, "#.")
		if end < 0 {
			end = len(rest)
		}
		part := rest[:end]
		rest = rest[end:]
		switch marker {
		case '#':
			el.ID = part
		case '.':
			if part != "" {
				el.Classes = append(el.Classes, part)
			}
		}
	}
	return el
}
