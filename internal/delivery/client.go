// Package delivery sends telemetry to the remote sink, buffering locally
// when the sink cannot take it and replaying the buffer once the sink is
// reachable again.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"cdr.dev/slog/v3"
	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/SmitUplenchwar2687/Beacon/internal/buffer"
	"github.com/SmitUplenchwar2687/Beacon/internal/sink"
	"github.com/SmitUplenchwar2687/Beacon/internal/telemetry"
)

// Outcome is what happened to a record passed to Send.
type Outcome int

const (
	OutcomeDelivered Outcome = iota
	OutcomeBuffered
	OutcomeDropped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeBuffered:
		return "buffered"
	case OutcomeDropped:
		return "dropped"
	}
	return "outcome(" + strconv.Itoa(int(o)) + ")"
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// DrainResult summarizes one pass over the buffer.
type DrainResult struct {
	Attempted int   `json:"attempted"`
	Delivered int   `json:"delivered"`
	Failed    int   `json:"failed"`
	Dropped   int   `json:"dropped"`
	Err       error `json:"-"`
}

// Options configures a Client.
type Options struct {
	Sink   sink.Sink
	Buffer *buffer.Buffer
	// Watcher triggers replay. Without one, the buffer is only drained by
	// explicit Drain calls.
	Watcher sink.Watcher

	Namespace      string
	Version        string
	BeaconEndpoint string

	Logger  slog.Logger
	Metrics *Metrics
	Tracer  trace.Tracer
}

// Client is the only path from a record to the sink.
type Client struct {
	sink     sink.Sink
	buffer   *buffer.Buffer
	watcher  sink.Watcher
	ns       string
	version  string
	endpoint string
	logger   slog.Logger
	metrics  *Metrics
	tracer   trace.Tracer

	signIn singleflight.Group

	armMu     sync.Mutex
	armed     bool
	closed    bool
	cancelArm func()

	replays sync.WaitGroup
}

// New validates opts and builds a Client.
func New(opts Options) (*Client, error) {
	if opts.Sink == nil {
		return nil, errors.New("delivery: sink is required")
	}
	if opts.Buffer == nil {
		return nil, errors.New("delivery: buffer is required")
	}
	if opts.Namespace == "" || opts.Version == "" {
		return nil, errors.New("delivery: namespace and version are required")
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/SmitUplenchwar2687/Beacon/internal/delivery")
	}
	return &Client{
		sink:     opts.Sink,
		buffer:   opts.Buffer,
		watcher:  opts.Watcher,
		ns:       opts.Namespace,
		version:  opts.Version,
		endpoint: opts.BeaconEndpoint,
		logger:   opts.Logger.Named("delivery"),
		metrics:  opts.Metrics,
		tracer:   opts.Tracer,
	}, nil
}

// Path returns where records of cat are written.
func (c *Client) Path(cat telemetry.Category) sink.Path {
	return sink.Path{Namespace: c.ns, Version: c.version, Category: cat}
}

// Send writes rec to the sink, or buffers it if the write fails. A buffered
// record is reported as OutcomeBuffered with a nil error: the failure is
// absorbed, not surfaced. OutcomeDropped comes with the reason, either
// telemetry.ErrMalformed or the buffer's storage error.
func (c *Client) Send(ctx context.Context, rec telemetry.Record) (Outcome, error) {
	ctx, span := c.tracer.Start(ctx, "delivery.Send", trace.WithAttributes(
		attribute.String("beacon.category", string(rec.Category)),
		attribute.String("beacon.session_id", rec.SessionID),
	))
	defer span.End()

	outcome, err := c.send(ctx, rec)
	c.metrics.Sends.WithLabelValues(outcome.String()).Inc()
	span.SetAttributes(attribute.String("beacon.outcome", outcome.String()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return outcome, err
}

func (c *Client) send(ctx context.Context, rec telemetry.Record) (Outcome, error) {
	if _, err := telemetry.Encode(rec); err != nil {
		c.logger.Error(ctx, "dropping malformed record",
			slog.F("category", rec.Category), slog.Error(err))
		return OutcomeDropped, err
	}

	err := c.write(ctx, rec)
	if err == nil {
		return OutcomeDelivered, nil
	}
	if errors.Is(err, telemetry.ErrMalformed) {
		c.logger.Error(ctx, "sink rejected malformed record", slog.Error(err))
		return OutcomeDropped, err
	}

	key, perr := c.buffer.Put(ctx, rec)
	if perr != nil {
		c.logger.Error(ctx, "record lost: write and buffer both failed",
			slog.F("category", rec.Category),
			slog.F("write_error", err.Error()),
			slog.Error(perr))
		return OutcomeDropped, fmt.Errorf("buffer record: %w", perr)
	}

	c.logger.Debug(ctx, "sink write failed, record buffered",
		slog.F("key", key), slog.Error(err))
	c.arm()
	return OutcomeBuffered, nil
}

func (c *Client) write(ctx context.Context, rec telemetry.Record) error {
	if err := c.ensureIdentity(ctx); err != nil {
		return err
	}
	return c.sink.Write(ctx, c.Path(rec.Category), rec)
}

// ensureIdentity signs in anonymously when the sink needs an identity and
// has none. Concurrent callers share one sign-in.
func (c *Client) ensureIdentity(ctx context.Context) error {
	auth, ok := c.sink.(sink.Authenticator)
	if !ok || !auth.RequiresIdentity() || auth.Identity() != "" {
		return nil
	}
	_, err, _ := c.signIn.Do("anonymous", func() (any, error) {
		return auth.SignInAnonymously(ctx)
	})
	if err != nil {
		return fmt.Errorf("anonymous sign-in: %w", err)
	}
	return nil
}

// Resume arms the watcher so entries left in the buffer, for example by an
// earlier session, are replayed once the sink is available.
func (c *Client) Resume() {
	c.arm()
}

// arm registers a replay with the watcher unless one is already pending or
// the client is closed.
func (c *Client) arm() {
	if c.watcher == nil {
		return
	}
	c.armMu.Lock()
	defer c.armMu.Unlock()
	if c.armed || c.closed {
		return
	}
	c.armed = true
	c.cancelArm = c.watcher.OnAvailable(c.onAvailable)
}

func (c *Client) onAvailable() {
	c.armMu.Lock()
	c.armed = false
	c.cancelArm = nil
	if c.closed {
		c.armMu.Unlock()
		return
	}
	c.replays.Add(1)
	c.armMu.Unlock()
	defer c.replays.Done()

	ctx := context.Background()
	n, err := c.buffer.Count(ctx)
	if err != nil {
		c.logger.Warn(ctx, "count buffered entries", slog.Error(err))
		c.arm()
		return
	}
	if n == 0 {
		return
	}
	res := c.Drain(ctx)
	c.logger.Info(ctx, "replayed buffer",
		slog.F("delivered", res.Delivered),
		slog.F("failed", res.Failed),
		slog.F("dropped", res.Dropped))
}

// Drain tries to deliver every buffered entry once. Delivered entries are
// removed; failed ones stay for the next drain; entries that cannot be
// decoded are removed and counted as dropped. Concurrent drains may deliver
// an entry twice.
func (c *Client) Drain(ctx context.Context) DrainResult {
	ctx, span := c.tracer.Start(ctx, "delivery.Drain")
	defer span.End()
	c.metrics.Drains.Inc()

	var (
		res  DrainResult
		errs *multierror.Error
	)
	for e, err := range c.buffer.Drain(ctx) {
		if err != nil {
			switch {
			case e.Key != "" && errors.Is(err, telemetry.ErrMalformed):
				c.logger.Error(ctx, "removing unreadable buffered entry", slog.F("key", e.Key), slog.Error(err))
				if rerr := c.buffer.Remove(ctx, e.Key); rerr != nil {
					errs = multierror.Append(errs, rerr)
				}
				res.Dropped++
			case e.Key != "":
				res.Failed++
				errs = multierror.Append(errs, err)
			default:
				errs = multierror.Append(errs, err)
			}
			continue
		}

		res.Attempted++
		if werr := c.write(ctx, e.Record); werr != nil {
			res.Failed++
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", e.Key, werr))
			continue
		}
		if rerr := c.buffer.Remove(ctx, e.Key); rerr != nil {
			// Delivered but still buffered; the next drain sends it again.
			errs = multierror.Append(errs, rerr)
		}
		res.Delivered++
	}
	res.Err = errs.ErrorOrNil()

	c.metrics.Drained.WithLabelValues(ResultDelivered).Add(float64(res.Delivered))
	c.metrics.Drained.WithLabelValues(ResultFailed).Add(float64(res.Failed))
	c.metrics.Drained.WithLabelValues(ResultDropped).Add(float64(res.Dropped))
	span.SetAttributes(
		attribute.Int("beacon.drain.attempted", res.Attempted),
		attribute.Int("beacon.drain.delivered", res.Delivered),
		attribute.Int("beacon.drain.failed", res.Failed),
		attribute.Int("beacon.drain.dropped", res.Dropped),
	)
	if res.Err != nil {
		span.SetStatus(codes.Error, "drain left entries behind")
	}

	if res.Failed > 0 || res.Err != nil {
		c.arm()
	}
	return res
}

// SendBeacon hands the summary to the sink's fire-and-forget transport. It
// never blocks and reports only whether the payload was queued.
func (c *Client) SendBeacon(s telemetry.Summary) bool {
	b, ok := c.sink.(sink.Beaconer)
	if !ok || c.endpoint == "" {
		c.metrics.Beacons.WithLabelValues(ResultDropped).Inc()
		return false
	}
	body, err := json.Marshal(s)
	if err != nil {
		c.metrics.Beacons.WithLabelValues(ResultDropped).Inc()
		return false
	}
	queued := b.Beacon(c.endpoint, body)
	if queued {
		c.metrics.Beacons.WithLabelValues(ResultDelivered).Inc()
	} else {
		c.metrics.Beacons.WithLabelValues(ResultDropped).Inc()
	}
	return queued
}

// Armed reports whether a replay is waiting on the watcher.
func (c *Client) Armed() bool {
	c.armMu.Lock()
	defer c.armMu.Unlock()
	return c.armed
}

// Close cancels a pending replay registration and waits for a replay that
// is already running. Availability signals after Close are ignored.
func (c *Client) Close() error {
	c.armMu.Lock()
	c.closed = true
	if c.cancelArm != nil {
		c.cancelArm()
		c.cancelArm = nil
	}
	c.armed = false
	c.armMu.Unlock()

	c.replays.Wait()
	return nil
}
