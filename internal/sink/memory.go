package sink

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/SmitUplenchwar2687/Beacon/internal/telemetry"
)

// Written is a record accepted by a Memory sink.
type Written struct {
	Path   Path
	Record telemetry.Record
}

// BeaconCall is a beacon accepted by a Memory sink.
type BeaconCall struct {
	Endpoint string
	Body     []byte
}

// Memory is an in-process sink for tests and offline simulation. It can be
// switched between reachable and unreachable at runtime.
type Memory struct {
	mu              sync.Mutex
	failing         bool
	failFn          func(Written) bool
	requireIdentity bool
	signInFails     bool
	uid             string
	written         []Written
	beacons         []BeaconCall
	signIns         int
}

// NewMemory returns a reachable in-memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

// SetFailing makes every Write, Ping and sign-in fail until reset.
func (m *Memory) SetFailing(failing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing = failing
}

// FailWhen makes Write fail for records matching fn. Pass nil to clear.
func (m *Memory) FailWhen(fn func(Written) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failFn = fn
}

// SetRequireIdentity toggles identity gating.
func (m *Memory) SetRequireIdentity(require bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requireIdentity = require
}

// SetSignInFails makes anonymous sign-in fail while writes stay reachable.
func (m *Memory) SetSignInFails(fails bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signInFails = fails
}

func (m *Memory) Write(_ context.Context, path Path, rec telemetry.Record) error {
	if _, err := telemetry.Encode(rec); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	w := Written{Path: path, Record: rec}
	if m.failing || (m.failFn != nil && m.failFn(w)) {
		return ErrUnavailable
	}
	if m.requireIdentity && m.uid == "" {
		return ErrUnauthorized
	}
	m.written = append(m.written, w)
	return nil
}

func (m *Memory) RequiresIdentity() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requireIdentity
}

func (m *Memory) Identity() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uid
}

func (m *Memory) SignInAnonymously(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signIns++
	if m.failing {
		return "", ErrUnavailable
	}
	if m.signInFails {
		return "", fmt.Errorf("%w: sign-in rejected", ErrUnauthorized)
	}
	if m.uid == "" {
		m.uid = uuid.NewString()
	}
	return m.uid, nil
}

func (m *Memory) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return ErrUnavailable
	}
	return nil
}

// Beacon records the call. It succeeds even while failing, since the
// outcome of a beacon is never observable.
func (m *Memory) Beacon(endpoint string, body []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beacons = append(m.beacons, BeaconCall{Endpoint: endpoint, Body: append([]byte(nil), body...)})
	return true
}

// Records returns a copy of every accepted record.
func (m *Memory) Records() []Written {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Written, len(m.written))
	copy(out, m.written)
	return out
}

// Beacons returns a copy of every beacon call.
func (m *Memory) Beacons() []BeaconCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]BeaconCall, len(m.beacons))
	copy(out, m.beacons)
	return out
}

// SignIns returns how many sign-in attempts were made.
func (m *Memory) SignIns() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signIns
}
