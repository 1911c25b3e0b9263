// Package sink defines the remote datastore contract and its
// implementations. A sink is append-only: writes are never updated or
// deleted, and there is no read path.
package sink

import (
	"context"
	"errors"

	"github.com/SmitUplenchwar2687/Beacon/internal/telemetry"
)

var (
	// ErrUnavailable reports that the sink could not be reached or refused
	// the write for a transient reason.
	ErrUnavailable = errors.New("sink: unavailable")
	// ErrUnauthorized reports that the write was rejected for lack of a
	// valid identity.
	ErrUnauthorized = errors.New("sink: unauthorized")
)

// Path addresses a category under a namespace and version.
type Path struct {
	Namespace string
	Version   string
	Category  telemetry.Category
}

func (p Path) String() string {
	return p.Namespace + "/" + p.Version + "/" + string(p.Category)
}

// Sink appends records.
type Sink interface {
	Write(ctx context.Context, path Path, rec telemetry.Record) error
}

// Authenticator is implemented by sinks that gate writes on an identity.
type Authenticator interface {
	// RequiresIdentity reports whether Write needs a signed-in identity.
	RequiresIdentity() bool
	// Identity returns the current identity, or "" if none.
	Identity() string
	// SignInAnonymously obtains an anonymous identity and returns it.
	SignInAnonymously(ctx context.Context) (string, error)
}

// Beaconer is implemented by sinks that offer a fire-and-forget transport
// which survives page teardown. Beacon reports only whether the payload was
// queued; the outcome of the transmission is never observable.
type Beaconer interface {
	Beacon(endpoint string, body []byte) bool
}

// Pinger is implemented by sinks that can check reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}
