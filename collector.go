package zipkintracer

import (
	"context"
	"errors"

	"github.com/hashicorp/go-multierror"

	"github.com/openzipkin-contrib/zipkin-go-rawtracer/wire"
)

var (
	// ErrCollectorClosed is returned by Collect after Close.
	ErrCollectorClosed = errors.New("collector closed")
	// ErrTryLater is returned when the Scribe server asks the client to
	// resubmit the batch later.
	ErrTryLater = errors.New("scribe: try later")
)

// Collector represents a Zipkin trace collector, which is probably a set of
// remote endpoints. Collect submits one batch of log entries and returns
// once the remote side accepted or rejected it.
type Collector interface {
	Collect(ctx context.Context, entries []wire.LogEntry) error
	Close() error
}

// NopCollector implements Collector but performs no work.
type NopCollector struct{}

// Collect implements Collector.
func (NopCollector) Collect(context.Context, []wire.LogEntry) error { return nil }

// Close implements Collector.
func (NopCollector) Close() error { return nil }

// MultiCollector implements Collector by sending batches to every
// collector it holds.
type MultiCollector []Collector

// Collect implements Collector. Every collector is tried; the errors are
// combined.
func (c MultiCollector) Collect(ctx context.Context, entries []wire.LogEntry) error {
	var result *multierror.Error
	for _, collector := range c {
		if err := collector.Collect(ctx, entries); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Close implements Collector.
func (c MultiCollector) Close() error {
	var result *multierror.Error
	for _, collector := range c {
		if err := collector.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
