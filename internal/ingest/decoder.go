// Package ingest decodes newline delimited JSON records, one annotation
// per line, as fed to the zipkin-recorder command.
//
// A line looks like
//
//	{"trace_id":"1","span_id":"2","timestamp":1650000000000000,"kind":"cs"}
//	{"trace_id":"1","span_id":"2","kind":"tag","key":"rows","type":"i32","value":3}
//
// Timestamps are microseconds since the epoch; a missing timestamp means
// the time the line was read.
package ingest

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"time"

	jsoniter "github.com/json-iterator/go"
	"k8s.io/utils/clock"

	zipkintracer "github.com/openzipkin-contrib/zipkin-go-rawtracer"
	"github.com/openzipkin-contrib/zipkin-go-rawtracer/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxLineSize = 1 << 20

type line struct {
	TraceID   string              `json:"trace_id"`
	SpanID    string              `json:"span_id"`
	ParentID  string              `json:"parent_id"`
	Debug     bool                `json:"debug"`
	Sampled   *bool               `json:"sampled"`
	Timestamp int64               `json:"timestamp"`
	Duration  int64               `json:"duration"`
	Kind      string              `json:"kind"`
	Key       string              `json:"key"`
	Type      string              `json:"type"`
	Value     jsoniter.RawMessage `json:"value"`
}

// LineError reports a line that could not be decoded. Decoding can
// continue with the next line.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string { return fmt.Sprintf("line %d: %v", e.Line, e.Err) }

func (e *LineError) Unwrap() error { return e.Err }

// ErrLineTooLong is wrapped in the LineError of a line longer than the
// decoder accepts. The line is skipped.
var ErrLineTooLong = errors.New("line too long")

// Decoder reads records from a stream.
type Decoder struct {
	r     *bufio.Reader
	buf   []byte
	clock clock.PassiveClock
	n     int
}

// NewDecoder returns a Decoder reading from r. clk stamps records without
// a timestamp.
func NewDecoder(r io.Reader, clk clock.PassiveClock) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 64*1024), clock: clk}
}

// Next returns the next record. Blank lines are skipped. A line that
// cannot be decoded is reported as a *LineError; the following call
// continues with the next line. At the end of the stream it returns
// io.EOF.
func (d *Decoder) Next() (zipkintracer.Record, error) {
	for {
		b, err := d.readLine()
		if errors.Is(err, ErrLineTooLong) {
			return zipkintracer.Record{}, &LineError{Line: d.n, Err: err}
		}
		if err != nil {
			return zipkintracer.Record{}, err
		}
		b = bytes.TrimSpace(b)
		if len(b) == 0 {
			continue
		}
		r, err := d.decode(b)
		if err != nil {
			return zipkintracer.Record{}, &LineError{Line: d.n, Err: err}
		}
		return r, nil
	}
}

// readLine returns the next line. The slice is only valid until the next
// call. A line over maxLineSize is consumed to its end and reported as
// ErrLineTooLong.
func (d *Decoder) readLine() ([]byte, error) {
	d.buf = d.buf[:0]
	var tooLong bool
	for {
		chunk, err := d.r.ReadSlice('\n')
		if !tooLong {
			if len(d.buf)+len(chunk) > maxLineSize {
				tooLong = true
				d.buf = d.buf[:0]
			} else {
				d.buf = append(d.buf, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if err != nil && len(d.buf) == 0 && !tooLong {
			return nil, io.EOF
		}
		d.n++
		if tooLong {
			return nil, ErrLineTooLong
		}
		return d.buf, nil
	}
}

func (d *Decoder) decode(b []byte) (zipkintracer.Record, error) {
	var l line
	if err := json.Unmarshal(b, &l); err != nil {
		return zipkintracer.Record{}, err
	}
	id, err := l.traceID()
	if err != nil {
		return zipkintracer.Record{}, err
	}
	a, err := l.annotation()
	if err != nil {
		return zipkintracer.Record{}, err
	}
	r := zipkintracer.Record{
		TraceID:    id,
		Timestamp:  d.clock.Now(),
		Annotation: a,
		Duration:   time.Duration(l.Duration) * time.Microsecond,
	}
	if l.Timestamp != 0 {
		r.Timestamp = time.UnixMicro(l.Timestamp)
	}
	return r, nil
}

func (l *line) traceID() (models.TraceID, error) {
	var (
		id  models.TraceID
		err error
	)
	if id.TraceID, err = models.ParseID(l.TraceID); err != nil {
		return id, fmt.Errorf("trace_id: %w", err)
	}
	if id.SpanID, err = models.ParseID(l.SpanID); err != nil {
		return id, fmt.Errorf("span_id: %w", err)
	}
	if l.ParentID != "" {
		if id.ParentID, err = models.ParseID(l.ParentID); err != nil {
			return id, fmt.Errorf("parent_id: %w", err)
		}
	}
	if l.Debug {
		id.Flags |= models.FlagDebug
	}
	if l.Sampled != nil {
		id.Flags |= models.FlagSamplingKnown
		if *l.Sampled {
			id.Flags |= models.FlagSampled
		}
	}
	return id, nil
}

var timed = map[string]zipkintracer.Annotation{
	models.ClientSend:         zipkintracer.ClientSend{},
	models.ClientRecv:         zipkintracer.ClientRecv{},
	models.ServerSend:         zipkintracer.ServerSend{},
	models.ServerRecv:         zipkintracer.ServerRecv{},
	models.ClientSendFragment: zipkintracer.ClientSendFragment{},
	models.ClientRecvFragment: zipkintracer.ClientRecvFragment{},
	models.ServerSendFragment: zipkintracer.ServerSendFragment{},
	models.ServerRecvFragment: zipkintracer.ServerRecvFragment{},
	models.WireSend:           zipkintracer.WireSend{},
	models.WireRecv:           zipkintracer.WireRecv{},
}

func (l *line) annotation() (zipkintracer.Annotation, error) {
	if a, ok := timed[l.Kind]; ok {
		return a, nil
	}
	switch l.Kind {
	case "message":
		s, err := l.str()
		return zipkintracer.Message(s), err
	case "service_name":
		s, err := l.str()
		return zipkintracer.ServiceName(s), err
	case "rpc":
		s, err := l.str()
		return zipkintracer.RPC(s), err
	case "client_addr", "server_addr", "local_addr":
		s, err := l.str()
		if err != nil {
			return nil, err
		}
		ap, err := netip.ParseAddrPort(s)
		if err != nil {
			return nil, err
		}
		switch l.Kind {
		case "client_addr":
			return zipkintracer.ClientAddr{Addr: ap}, nil
		case "server_addr":
			return zipkintracer.ServerAddr{Addr: ap}, nil
		}
		return zipkintracer.LocalAddr{Addr: ap}, nil
	case "tag":
		return l.tag()
	case "":
		return nil, errors.New("missing kind")
	}
	return nil, fmt.Errorf("unknown kind %q", l.Kind)
}

func (l *line) str() (string, error) {
	var s string
	err := json.Unmarshal(l.Value, &s)
	return s, err
}

func (l *line) tag() (zipkintracer.Annotation, error) {
	if l.Key == "" {
		return nil, errors.New("tag without key")
	}
	var err error
	switch l.Type {
	case "bool":
		var v bool
		err = json.Unmarshal(l.Value, &v)
		return zipkintracer.BoolTag{Key: l.Key, Value: v}, err
	case "bytes":
		// base64 in JSON
		var v []byte
		err = json.Unmarshal(l.Value, &v)
		return zipkintracer.BytesTag{Key: l.Key, Value: v}, err
	case "i16":
		var v int16
		err = json.Unmarshal(l.Value, &v)
		return zipkintracer.Int16Tag{Key: l.Key, Value: v}, err
	case "i32":
		var v int32
		err = json.Unmarshal(l.Value, &v)
		return zipkintracer.Int32Tag{Key: l.Key, Value: v}, err
	case "i64":
		var v int64
		err = json.Unmarshal(l.Value, &v)
		return zipkintracer.Int64Tag{Key: l.Key, Value: v}, err
	case "double":
		var v float64
		err = json.Unmarshal(l.Value, &v)
		return zipkintracer.DoubleTag{Key: l.Key, Value: v}, err
	case "string", "":
		var v string
		err = json.Unmarshal(l.Value, &v)
		return zipkintracer.StringTag{Key: l.Key, Value: v}, err
	}
	return nil, fmt.Errorf("unknown tag type %q", l.Type)
}
