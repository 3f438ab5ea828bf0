package zipkintracer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/openzipkin-contrib/zipkin-go-rawtracer/wire"
)

const defaultHTTPTimeout = 5 * time.Second

// RequestCallback receives the initialized request from the Collector before
// sending it over the wire. This allows one to plug in additional headers or
// do other customization.
type RequestCallback func(*http.Request)

// HTTPCollector implements Collector by posting thrift encoded span lists
// to the Zipkin v1 HTTP endpoint, e.g. http://zipkin:9411/api/v1/spans.
type HTTPCollector struct {
	url         string
	client      *http.Client
	reqCallback RequestCallback
	closed      atomic.Bool
}

// HTTPOption sets a parameter for the HTTPCollector
type HTTPOption func(c *HTTPCollector)

// HTTPTimeout sets maximum timeout for http request.
func HTTPTimeout(duration time.Duration) HTTPOption {
	return func(c *HTTPCollector) { c.client.Timeout = duration }
}

// HTTPClient sets a custom http client to use.
func HTTPClient(client *http.Client) HTTPOption {
	return func(c *HTTPCollector) { c.client = client }
}

// HTTPRequestCallback registers a callback function to adjust the collector
// *http.Request before it sends the request to Zipkin.
func HTTPRequestCallback(rc RequestCallback) HTTPOption {
	return func(c *HTTPCollector) { c.reqCallback = rc }
}

// NewHTTPCollector returns a new HTTP-backend Collector posting to url.
func NewHTTPCollector(url string, options ...HTTPOption) (*HTTPCollector, error) {
	c := &HTTPCollector{
		url:    url,
		client: &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, option := range options {
		option(c)
	}
	return c, nil
}

// Collect implements Collector.
func (c *HTTPCollector) Collect(ctx context.Context, entries []wire.LogEntry) error {
	if c.closed.Load() {
		return ErrCollectorClosed
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(wire.WriteSpanList(entries)))
	if err != nil {
		return fmt.Errorf("http collector: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-thrift")
	if c.reqCallback != nil {
		c.reqCallback(req)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("http collector: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("http collector: %s returned %s", c.url, resp.Status)
	}
	return nil
}

// Close implements Collector.
func (c *HTTPCollector) Close() error {
	c.closed.Store(true)
	return nil
}
