// Package buffer persists telemetry records that could not be delivered so
// they can be replayed once the sink is reachable again.
package buffer

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/SmitUplenchwar2687/Beacon/internal/clock"
	"github.com/SmitUplenchwar2687/Beacon/internal/storage"
	"github.com/SmitUplenchwar2687/Beacon/internal/telemetry"
)

// KeyPrefix namespaces buffered entries inside the shared store.
const KeyPrefix = "feedback_"

// Entry is a buffered record together with the key it is stored under.
type Entry struct {
	Key    string
	Record telemetry.Record
}

// Buffer is the local durable buffer. It only writes keys it generated
// itself and never overwrites an existing key.
type Buffer struct {
	store storage.Store
	clock clock.Clock
}

// New creates a buffer over store.
func New(store storage.Store, clk clock.Clock) *Buffer {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return &Buffer{store: store, clock: clk}
}

// Put serializes rec and stores it under a fresh key. Records that cannot
// be serialized are rejected with telemetry.ErrMalformed.
func (b *Buffer) Put(ctx context.Context, rec telemetry.Record) (string, error) {
	data, err := telemetry.Encode(rec)
	if err != nil {
		return "", err
	}

	// A collision on the random suffix is practically impossible, but Create
	// refuses to clobber, so retry once with a new key rather than fail.
	for attempt := 0; attempt < 2; attempt++ {
		key := newKey(rec.Category, b.clock.Now())
		err = b.store.Create(ctx, key, data)
		if err == nil {
			return key, nil
		}
		if !errors.Is(err, storage.ErrExists) {
			return "", fmt.Errorf("buffer put: %w", err)
		}
	}
	return "", fmt.Errorf("buffer put: %w", err)
}

// Drain yields every buffered entry without removing it. Each range
// snapshots the key set, then reads values lazily; keys removed in the
// meantime are skipped. An entry whose bytes cannot be decoded is yielded
// with an error wrapping telemetry.ErrMalformed and its Key set, so the
// caller can discard it.
func (b *Buffer) Drain(ctx context.Context) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		keys, err := b.store.Keys(ctx, KeyPrefix)
		if err != nil {
			yield(Entry{}, fmt.Errorf("list buffered keys: %w", err))
			return
		}

		for _, key := range keys {
			if err := ctx.Err(); err != nil {
				yield(Entry{}, err)
				return
			}

			data, err := b.store.Get(ctx, key)
			if err != nil {
				if !yield(Entry{Key: key}, fmt.Errorf("read %s: %w", key, err)) {
					return
				}
				continue
			}
			if data == nil {
				continue
			}

			rec, err := telemetry.Decode(data)
			if err != nil {
				if !yield(Entry{Key: key}, fmt.Errorf("decode %s: %w", key, err)) {
					return
				}
				continue
			}
			if !yield(Entry{Key: key, Record: rec}, nil) {
				return
			}
		}
	}
}

// Remove deletes key. Removing an absent key is not an error.
func (b *Buffer) Remove(ctx context.Context, key string) error {
	if err := b.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("buffer remove %s: %w", key, err)
	}
	return nil
}

// Count returns the number of buffered entries.
func (b *Buffer) Count(ctx context.Context) (int, error) {
	keys, err := b.store.Keys(ctx, KeyPrefix)
	if err != nil {
		return 0, fmt.Errorf("buffer count: %w", err)
	}
	return len(keys), nil
}

func newKey(cat telemetry.Category, at time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return KeyPrefix + string(cat) + "_" + strconv.FormatInt(at.UnixMilli(), 10) + "_" + suffix
}

// ParseKey recovers the category and write time encoded in a buffer key.
func ParseKey(key string) (telemetry.Category, time.Time, error) {
	rest, ok := strings.CutPrefix(key, KeyPrefix)
	if !ok {
		return "", time.Time{}, fmt.Errorf("key %q is not a buffer key", key)
	}

	i := strings.LastIndexByte(rest, '_')
	if i <= 0 {
		return "", time.Time{}, fmt.Errorf("key %q has no suffix", key)
	}
	rest = rest[:i]

	i = strings.LastIndexByte(rest, '_')
	if i <= 0 {
		return "", time.Time{}, fmt.Errorf("key %q has no timestamp", key)
	}
	ms, err := strconv.ParseInt(rest[i+1:], 10, 64)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("key %q: bad timestamp: %w", key, err)
	}

	cat := telemetry.Category(rest[:i])
	if !cat.Valid() {
		return "", time.Time{}, fmt.Errorf("key %q: unknown category %q", key, cat)
	}
	return cat, time.UnixMilli(ms), nil
}
