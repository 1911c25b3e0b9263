package sink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cdr.dev/slog/v3"
	"github.com/redis/go-redis/v9"

	"github.com/SmitUplenchwar2687/Beacon/internal/telemetry"
)

const redisStreamPrefix = "beacon:stream:"

// RedisSink appends records to one Redis stream per path. Streams are
// append-only, which matches the sink contract.
type RedisSink struct {
	client redis.UniversalClient
	logger slog.Logger

	beacons sync.WaitGroup
}

// NewRedisSink wraps an existing client. The caller owns the client.
func NewRedisSink(client redis.UniversalClient, logger slog.Logger) *RedisSink {
	return &RedisSink{client: client, logger: logger.Named("redis_sink")}
}

// StreamKey returns the stream a path is written to.
func StreamKey(path Path) string {
	return redisStreamPrefix + path.String()
}

func (s *RedisSink) Write(ctx context.Context, path Path, rec telemetry.Record) error {
	data, err := telemetry.Encode(rec)
	if err != nil {
		return err
	}
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey(path),
		Values: map[string]any{
			"session_id": rec.SessionID,
			"record":     data,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("%w: xadd: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisSink) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Beacon appends body to the stream named after endpoint, in the
// background.
func (s *RedisSink) Beacon(endpoint string, body []byte) bool {
	payload := append([]byte(nil), body...)

	s.beacons.Add(1)
	go func() {
		defer s.beacons.Done()
		ctx, cancel := context.WithTimeout(context.Background(), beaconTimeout)
		defer cancel()

		err := s.client.XAdd(ctx, &redis.XAddArgs{
			Stream: redisStreamPrefix + "beacon" + endpoint,
			Values: map[string]any{
				"summary":     payload,
				"received_at": time.Now().UTC().Format(time.RFC3339Nano),
			},
		}).Err()
		if err != nil {
			s.logger.Debug(ctx, "beacon xadd failed", slog.Error(err))
		}
	}()
	return true
}

// Close waits for in-flight beacons. It does not close the client.
func (s *RedisSink) Close() error {
	s.beacons.Wait()
	return nil
}
