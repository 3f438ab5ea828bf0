package zipkintracer

import (
	"time"

	"github.com/openzipkin/zipkin-go/reporter"
	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/utils/clock"

	"github.com/openzipkin-contrib/zipkin-go-rawtracer/events"
	"github.com/openzipkin-contrib/zipkin-go-rawtracer/models"
)

// Tracer defaults.
const (
	DefaultTTL              = 120 * time.Second
	DefaultSweepPeriod      = 10 * time.Second
	DefaultBatchSize        = 100
	DefaultSubmitTimeout    = 5 * time.Second
	DefaultLogErrorInterval = time.Minute
	DefaultLateSpanCache    = defaultLateSpanCacheSize
)

// TracerOptions allows creating a customized Tracer.
type TracerOptions struct {
	clock            clock.WithTicker
	ttl              time.Duration
	sweepPeriod      time.Duration
	batchSize        int
	submitTimeout    time.Duration
	logger           Logger
	logErrorInterval time.Duration
	registerer       prometheus.Registerer
	reporter         reporter.Reporter
	listener         events.SweepListener
	slidingDeadline  bool
	lateSpanCache    int
	shards           int
	localEndpoint    models.Endpoint
}

// TracerOption allows for functional options.
// See: http://dave.cheney.net/2014/10/17/functional-options-for-friendly-apis
type TracerOption func(opts *TracerOptions)

func defaultTracerOptions() *TracerOptions {
	return &TracerOptions{
		clock:            clock.RealClock{},
		ttl:              DefaultTTL,
		sweepPeriod:      DefaultSweepPeriod,
		batchSize:        DefaultBatchSize,
		submitTimeout:    DefaultSubmitTimeout,
		logger:           NewNopLogger(),
		logErrorInterval: DefaultLogErrorInterval,
		lateSpanCache:    defaultLateSpanCacheSize,
		shards:           defaultShards,
	}
}

// WithClock sets the clock used for deadlines and the sweep ticker.
func WithClock(c clock.WithTicker) TracerOption {
	return func(opts *TracerOptions) {
		opts.clock = c
	}
}

// WithTTL sets how long a span collects records before it is flushed.
func WithTTL(ttl time.Duration) TracerOption {
	return func(opts *TracerOptions) {
		opts.ttl = ttl
	}
}

// WithSweepPeriod sets the interval between two sweeps. A span is flushed
// no later than TTL plus one sweep period after its first record.
func WithSweepPeriod(d time.Duration) TracerOption {
	return func(opts *TracerOptions) {
		opts.sweepPeriod = d
	}
}

// WithBatchSize sets the maximum number of spans per collector call.
func WithBatchSize(n int) TracerOption {
	return func(opts *TracerOptions) {
		opts.batchSize = n
	}
}

// WithSubmitTimeout bounds a single collector call.
func WithSubmitTimeout(d time.Duration) TracerOption {
	return func(opts *TracerOptions) {
		opts.submitTimeout = d
	}
}

// WithLogger sets the logger. By default nothing is logged; it's important
// to set this option in a production service.
func WithLogger(logger Logger) TracerOption {
	return func(opts *TracerOptions) {
		opts.logger = logger
	}
}

// WithLogErrorInterval sets how often the same collector error is logged.
// Zero logs every occurrence.
func WithLogErrorInterval(d time.Duration) TracerOption {
	return func(opts *TracerOptions) {
		opts.logErrorInterval = d
	}
}

// WithRegisterer registers the tracer metrics on reg.
func WithRegisterer(reg prometheus.Registerer) TracerOption {
	return func(opts *TracerOptions) {
		opts.registerer = reg
	}
}

// WithReporter mirrors every flushed span, converted to the Zipkin v2
// model, to r. The tracer closes r on Close.
func WithReporter(r reporter.Reporter) TracerOption {
	return func(opts *TracerOptions) {
		opts.reporter = r
	}
}

// WithSweepListener sets a listener notified after every sweep.
func WithSweepListener(l events.SweepListener) TracerOption {
	return func(opts *TracerOptions) {
		opts.listener = l
	}
}

// WithSlidingDeadline renews a span's deadline whenever a record for it
// arrives. By default the deadline is fixed when the span is created.
func WithSlidingDeadline() TracerOption {
	return func(opts *TracerOptions) {
		opts.slidingDeadline = true
	}
}

// WithLateSpanCache sets how many flushed trace ids are remembered to
// detect late records. Zero disables detection.
func WithLateSpanCache(size int) TracerOption {
	return func(opts *TracerOptions) {
		opts.lateSpanCache = size
	}
}

// WithShards sets the number of independently locked span map shards.
func WithShards(n int) TracerOption {
	return func(opts *TracerOptions) {
		opts.shards = n
	}
}

// WithLocalEndpoint sets the endpoint of the traced service. Every span
// starts with it; LocalAddr and ServiceName records override it.
func WithLocalEndpoint(ep models.Endpoint) TracerOption {
	return func(opts *TracerOptions) {
		opts.localEndpoint = ep
	}
}
