package server

import (
	"context"

	"cdr.dev/slog/v3"

	internalserver "github.com/SmitUplenchwar2687/Beacon/internal/server"
)

// Server is the Beacon development collector.
type Server = internalserver.Server

// Options configures a collector.
type Options = internalserver.Options

// Datastore is the collector's SQLite store.
type Datastore = internalserver.Datastore

// Hub broadcasts incoming telemetry to WebSocket clients.
type Hub = internalserver.Hub

// LiveEvent is one message on the live feed.
type LiveEvent = internalserver.LiveEvent

// DashboardHTML is the embedded single-page dashboard.
const DashboardHTML = internalserver.DashboardHTML

// New creates a collector.
func New(opts Options) (*Server, error) {
	return internalserver.New(opts)
}

// OpenDatastore opens, and migrates, the SQLite file at path.
func OpenDatastore(ctx context.Context, path string) (*Datastore, error) {
	return internalserver.OpenDatastore(ctx, path)
}

// NewHub creates a standalone WebSocket hub.
func NewHub(logger slog.Logger) *Hub {
	return internalserver.NewHub(logger)
}
