package sink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/SmitUplenchwar2687/Beacon/internal/telemetry"
)

const kafkaWriteTimeout = 5 * time.Second

// MessageWriter is the part of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes each record to a topic derived from its path.
type KafkaSink struct {
	writer MessageWriter
}

// NewKafkaWriter builds a writer with no fixed topic so every message can
// carry its own.
func NewKafkaWriter(brokers []string) (*kafka.Writer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}, nil
}

// NewKafkaSink wraps w.
func NewKafkaSink(w MessageWriter) *KafkaSink {
	return &KafkaSink{writer: w}
}

// Topic maps a path to a Kafka topic name. Kafka forbids '/', so segments
// are joined with '.'.
func Topic(path Path) string {
	return strings.ReplaceAll(path.String(), "/", ".")
}

// Write publishes rec keyed by session id, so a session's records land on
// one partition.
func (s *KafkaSink) Write(ctx context.Context, path Path, rec telemetry.Record) error {
	data, err := telemetry.Encode(rec)
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, kafkaWriteTimeout)
	defer cancel()
	err = s.writer.WriteMessages(writeCtx, kafka.Message{
		Topic: Topic(path),
		Key:   []byte(rec.SessionID),
		Value: data,
	})
	if err != nil {
		return fmt.Errorf("%w: kafka: %v", ErrUnavailable, err)
	}
	return nil
}

// Close closes the underlying writer.
func (s *KafkaSink) Close() error {
	if s == nil || s.writer == nil {
		return nil
	}
	return s.writer.Close()
}
