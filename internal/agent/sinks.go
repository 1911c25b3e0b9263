package agent

import (
	"context"
	"fmt"

	"cdr.dev/slog/v3"

	"github.com/SmitUplenchwar2687/Beacon/internal/config"
	"github.com/SmitUplenchwar2687/Beacon/internal/sink"
	"github.com/SmitUplenchwar2687/Beacon/internal/storage"
)

// openSink builds the configured sink. The returned closer releases
// everything the sink holds and is never nil.
func openSink(ctx context.Context, cfg config.SinkConfig, logger slog.Logger) (sink.Sink, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Kind {
	case config.SinkMemory:
		return sink.NewMemory(), noop, nil

	case config.SinkHTTP:
		s, err := sink.NewHTTPSink(sink.HTTPOptions{
			BaseURL:         cfg.URL,
			RequireIdentity: cfg.RequireIdentity,
			Logger:          logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case config.SinkRedis:
		rc, err := storage.NormalizeRedisConfig(&cfg.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("redis sink: %w", err)
		}
		client := storage.NewRedisClient(rc)
		s := sink.NewRedisSink(client, logger)
		// Reachability is handled by the probe; an unreachable Redis at
		// start just means records are buffered.
		if err := s.Ping(ctx); err != nil {
			logger.Warn(ctx, "redis sink not reachable yet", slog.Error(err))
		}
		return s, func() error {
			_ = s.Close()
			return client.Close()
		}, nil

	case config.SinkKafka:
		w, err := sink.NewKafkaWriter(cfg.KafkaBrokers)
		if err != nil {
			return nil, nil, fmt.Errorf("kafka sink: %w", err)
		}
		s := sink.NewKafkaSink(w)
		return s, s.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown sink kind %q", cfg.Kind)
}
