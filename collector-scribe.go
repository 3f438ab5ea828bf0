package zipkintracer

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/apache/thrift/lib/go/thrift"

	"github.com/openzipkin-contrib/zipkin-go-rawtracer/wire"
)

const defaultScribeDialTimeout = 5 * time.Second

// ScribeCollector implements Collector by sending Log calls to a Scribe
// server over a framed thrift connection. The connection is opened on the
// first batch and reopened after a transport error.
type ScribeCollector struct {
	logger Logger
	addr   string
	dialer *net.Dialer
	conf   *thrift.TConfiguration

	mu     sync.Mutex
	conn   net.Conn
	proto  thrift.TProtocol
	seqID  int32
	closed bool
}

// ScribeOption sets a parameter for the ScribeCollector
type ScribeOption func(c *ScribeCollector)

// ScribeLogger sets the logger used to report connection changes.
func ScribeLogger(logger Logger) ScribeOption {
	return func(c *ScribeCollector) { c.logger = logger }
}

// ScribeDialTimeout sets the timeout for opening the connection.
func ScribeDialTimeout(d time.Duration) ScribeOption {
	return func(c *ScribeCollector) { c.dialer.Timeout = d }
}

// ScribeMaxFrameSize limits the size of a single framed message.
func ScribeMaxFrameSize(n int32) ScribeOption {
	return func(c *ScribeCollector) { c.conf.MaxFrameSize = n }
}

// NewScribeCollector returns a Collector logging to the Scribe server at
// addr, given as host:port.
func NewScribeCollector(addr string, options ...ScribeOption) (*ScribeCollector, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return nil, fmt.Errorf("scribe: invalid address %q: %w", addr, err)
	}
	c := &ScribeCollector{
		logger: NewNopLogger(),
		addr:   addr,
		dialer: &net.Dialer{Timeout: defaultScribeDialTimeout},
		conf:   &thrift.TConfiguration{},
	}
	for _, option := range options {
		option(c)
	}
	return c, nil
}

// Collect implements Collector. A TRY_LATER reply is returned as
// ErrTryLater.
func (c *ScribeCollector) Collect(ctx context.Context, entries []wire.LogEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrCollectorClosed
	}
	if c.conn == nil {
		if err := c.connect(ctx); err != nil {
			return err
		}
	}
	deadline, _ := ctx.Deadline()
	if err := c.conn.SetDeadline(deadline); err != nil {
		c.reset()
		return fmt.Errorf("scribe: %w", err)
	}

	c.seqID++
	if err := wire.WriteLogCall(ctx, c.proto, c.seqID, entries); err != nil {
		c.reset()
		return fmt.Errorf("scribe: send Log: %w", err)
	}
	code, err := wire.ReadLogReply(ctx, c.proto, c.seqID)
	if err != nil {
		c.reset()
		return fmt.Errorf("scribe: read Log reply: %w", err)
	}
	switch code {
	case wire.ResultOK:
		return nil
	case wire.ResultTryLater:
		return ErrTryLater
	}
	return fmt.Errorf("scribe: unexpected result %v", code)
}

func (c *ScribeCollector) connect(ctx context.Context) error {
	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("scribe: dial %s: %w", c.addr, err)
	}
	transport := thrift.NewTFramedTransportConf(thrift.NewStreamTransportRW(conn), c.conf)
	c.conn = conn
	c.proto = thrift.NewTBinaryProtocolConf(transport, c.conf)
	_ = c.logger.Log("level", "debug", "msg", "connected to scribe", "addr", c.addr)
	return nil
}

func (c *ScribeCollector) reset() {
	if c.conn == nil {
		return
	}
	_ = c.conn.Close()
	c.conn, c.proto = nil, nil
	_ = c.logger.Log("level", "debug", "msg", "dropped scribe connection", "addr", c.addr)
}

// Close implements Collector.
func (c *ScribeCollector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn, c.proto = nil, nil
	return err
}
