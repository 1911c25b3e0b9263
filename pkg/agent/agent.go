// Package agent embeds a Beacon telemetry agent in another program.
package agent

import (
	"context"

	internalagent "github.com/SmitUplenchwar2687/Beacon/internal/agent"
	"github.com/SmitUplenchwar2687/Beacon/internal/events"
)

// Agent is one running telemetry session.
type Agent = internalagent.Agent

// Options configures an Agent.
type Options = internalagent.Options

// Host events an embedding program publishes.
type (
	ErrorEvent    = events.ErrorEvent
	MutationEvent = events.MutationEvent
	FocusIn       = events.FocusIn
	FocusOut      = events.FocusOut
	TeardownEvent = events.TeardownEvent
	Element       = events.Element
)

// TitleTarget is the mutation target watched for title changes.
const TitleTarget = internalagent.TitleTarget

// New builds an agent from opts.
func New(ctx context.Context, opts Options) (*Agent, error) {
	return internalagent.New(ctx, opts)
}

// ParseElement reads an element in the compact tag#id.class form.
func ParseElement(s string) Element {
	return events.ParseElement(s)
}
