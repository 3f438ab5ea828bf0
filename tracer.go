package zipkintracer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/openzipkin-contrib/zipkin-go-rawtracer/models"
	"github.com/openzipkin-contrib/zipkin-go-rawtracer/wire"
)

// Tracer aggregates records into spans and ships every span to a
// Collector once its deadline has passed. Record may be called from any
// goroutine; submission happens on the sweeping goroutine.
type Tracer struct {
	collector Collector
	opts      *TracerOptions
	spans     *DeadlineSpanMap
	metrics   *Metrics
	state     *StateLogger

	// mu orders Record against Close so that no record lands in the map
	// after its final drain.
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

// NewTracer returns a running Tracer submitting to c. Close must be called
// to stop the sweep and drain the spans still in flight.
func NewTracer(c Collector, options ...TracerOption) (*Tracer, error) {
	if c == nil {
		return nil, errors.New("zipkintracer: nil collector")
	}
	opts := defaultTracerOptions()
	for _, o := range options {
		o(opts)
	}
	switch {
	case opts.ttl <= 0:
		return nil, fmt.Errorf("zipkintracer: invalid ttl %v", opts.ttl)
	case opts.sweepPeriod <= 0:
		return nil, fmt.Errorf("zipkintracer: invalid sweep period %v", opts.sweepPeriod)
	case opts.batchSize <= 0:
		return nil, fmt.Errorf("zipkintracer: invalid batch size %d", opts.batchSize)
	}

	t := &Tracer{
		collector: c,
		opts:      opts,
		metrics:   NewMetrics(opts.registerer),
		state:     NewStateLogger(opts.logger, opts.clock, opts.logErrorInterval),
	}
	mapOpts := []SpanMapOption{
		MapClock(opts.clock),
		MapSweepPeriod(opts.sweepPeriod),
		MapShards(opts.shards),
		MapLateSpanCache(opts.lateSpanCache),
		MapLogger(opts.logger),
		MapMetrics(t.metrics),
		MapSweepListener(opts.listener),
		MapLocalEndpoint(opts.localEndpoint),
	}
	if opts.slidingDeadline {
		mapOpts = append(mapOpts, MapSlidingDeadline())
	}
	t.spans = NewDeadlineSpanMap(opts.ttl, t.submit, mapOpts...)
	t.spans.Start()
	return t, nil
}

// Record merges r into the span of r.TraceID. It never blocks on the
// collector. Records arriving after Close are discarded.
func (t *Tracer) Record(r Record) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	t.spans.Update(r)
}

// Flush submits every span whose deadline has passed without waiting for
// the next sweep. It returns the number of flushed spans.
func (t *Tracer) Flush() int {
	return t.spans.Flush(t.opts.clock.Now())
}

// Len returns the number of spans waiting for their deadline.
func (t *Tracer) Len() int {
	return t.spans.Len()
}

// Metrics returns the tracer metrics.
func (t *Tracer) Metrics() *Metrics {
	return t.metrics
}

// submit encodes spans and hands them to the collector in batches. A
// failed batch is logged and counted, never retried.
func (t *Tracer) submit(spans []*models.Span) {
	for start := 0; start < len(spans); start += t.opts.batchSize {
		end := min(start+t.opts.batchSize, len(spans))
		batch := make([]wire.LogEntry, 0, end-start)
		for _, span := range spans[start:end] {
			batch = append(batch, wire.NewLogEntry(span))
			if t.opts.reporter != nil {
				t.opts.reporter.Send(ToSpanModel(span))
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), t.opts.submitTimeout)
		err := t.collector.Collect(ctx, batch)
		cancel()
		if err != nil {
			t.state.LogError(err, "msg", "failed to submit spans", "spans", len(batch))
			t.metrics.Dropped.Add(float64(len(batch)))
			continue
		}
		t.metrics.Submitted.Add(float64(len(batch)))
		t.state.Fixed("msg", "span submission recovered")
	}
}

// Close stops the sweep, submits every remaining span and closes the
// collector and the mirror reporter.
func (t *Tracer) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		t.spans.Stop()

		var result *multierror.Error
		if err := t.collector.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing collector: %w", err))
		}
		if t.opts.reporter != nil {
			if err := t.opts.reporter.Close(); err != nil {
				result = multierror.Append(result, fmt.Errorf("closing reporter: %w", err))
			}
		}
		t.closeErr = result.ErrorOrNil()
	})
	return t.closeErr
}
