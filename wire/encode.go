// Package wire encodes spans into the Zipkin v1 thrift records consumed by
// Scribe, Kafka and HTTP collectors.
package wire

import (
	"context"
	"math"
	"time"

	"github.com/apache/thrift/lib/go/thrift"

	"github.com/openzipkin-contrib/zipkin-go-rawtracer/models"
)

// Category is the Scribe category Zipkin collectors listen on.
const Category = "zipkin"

// unknownName fills required names that were never recorded.
const unknownName = "Unknown"

// LogEntry is a single transport record: an encoded span and the category
// it is logged under.
type LogEntry struct {
	Category string
	Message  []byte
}

// NewLogEntry encodes span and wraps it with the Zipkin category.
func NewLogEntry(span *models.Span) LogEntry {
	return LogEntry{Category: Category, Message: Encode(span)}
}

// Encode serializes span with the thrift binary protocol. The output only
// depends on span, so encoding the same span twice yields the same bytes.
func Encode(span *models.Span) []byte {
	t := thrift.NewTMemoryBuffer()
	e := newEncoder(t)
	e.span(span)
	if e.err != nil {
		// writes into a memory buffer do not fail
		panic(e.err)
	}
	return t.Buffer.Bytes()
}

// WriteSpanList frames already encoded spans as a thrift list<Span>, the
// body format of the Zipkin v1 HTTP endpoint.
func WriteSpanList(entries []LogEntry) []byte {
	t := thrift.NewTMemoryBuffer()
	e := newEncoder(t)
	e.check(e.p.WriteListBegin(e.ctx, thrift.STRUCT, len(entries)))
	for _, entry := range entries {
		_, err := t.Write(entry.Message)
		e.check(err)
	}
	e.check(e.p.WriteListEnd(e.ctx))
	if e.err != nil {
		panic(e.err)
	}
	return t.Buffer.Bytes()
}

// encoder keeps the first write error so the field sequence below reads
// like the IDL.
type encoder struct {
	ctx context.Context
	p   thrift.TProtocol
	err error
}

func newEncoder(t thrift.TTransport) *encoder {
	return &encoder{
		ctx: context.Background(),
		p:   thrift.NewTBinaryProtocolConf(t, &thrift.TConfiguration{}),
	}
}

func (e *encoder) check(err error) {
	if e.err == nil {
		e.err = err
	}
}

func (e *encoder) field(name string, typ thrift.TType, id int16) {
	e.check(e.p.WriteFieldBegin(e.ctx, name, typ, id))
}

func (e *encoder) endField() {
	e.check(e.p.WriteFieldEnd(e.ctx))
}

func (e *encoder) i64(name string, id int16, v int64) {
	e.field(name, thrift.I64, id)
	e.check(e.p.WriteI64(e.ctx, v))
	e.endField()
}

func (e *encoder) i32(name string, id int16, v int32) {
	e.field(name, thrift.I32, id)
	e.check(e.p.WriteI32(e.ctx, v))
	e.endField()
}

func (e *encoder) str(name string, id int16, v string) {
	e.field(name, thrift.STRING, id)
	e.check(e.p.WriteString(e.ctx, v))
	e.endField()
}

func (e *encoder) beginStruct(name string) {
	e.check(e.p.WriteStructBegin(e.ctx, name))
}

func (e *encoder) endStruct() {
	e.check(e.p.WriteFieldStop(e.ctx))
	e.check(e.p.WriteStructEnd(e.ctx))
}

func (e *encoder) span(s *models.Span) {
	e.beginStruct("Span")
	e.i64("trace_id", 1, int64(s.TraceID.TraceID))
	name := s.Name
	if name == "" {
		name = unknownName
	}
	e.str("name", 3, name)
	e.i64("id", 4, int64(s.TraceID.SpanID))
	if s.TraceID.HasParent() {
		e.i64("parent_id", 5, int64(s.TraceID.ParentID))
	}

	e.field("annotations", thrift.LIST, 6)
	e.check(e.p.WriteListBegin(e.ctx, thrift.STRUCT, len(s.Annotations)))
	for i := range s.Annotations {
		e.annotation(s, &s.Annotations[i])
	}
	e.check(e.p.WriteListEnd(e.ctx))
	e.endField()

	if s.Debug {
		e.field("debug", thrift.BOOL, 9)
		e.check(e.p.WriteBool(e.ctx, true))
		e.endField()
	}

	e.field("binary_annotations", thrift.LIST, 8)
	e.check(e.p.WriteListBegin(e.ctx, thrift.STRUCT, len(s.BinaryAnnotations)))
	for i := range s.BinaryAnnotations {
		e.binaryAnnotation(s, &s.BinaryAnnotations[i])
	}
	e.check(e.p.WriteListEnd(e.ctx))
	e.endField()

	if start, duration, ok := s.Timing(); ok {
		e.i64("timestamp", 10, micros(start))
		e.i64("duration", 11, duration.Nanoseconds()/1e3)
	}
	e.endStruct()
}

func (e *encoder) annotation(s *models.Span, a *models.Annotation) {
	e.beginStruct("Annotation")
	e.i64("timestamp", 1, micros(a.Timestamp))
	e.str("value", 2, a.Value)
	e.field("host", thrift.STRUCT, 3)
	e.endpoint(host(s, a.Host))
	e.endField()
	if a.Duration > 0 {
		e.i32("duration", 4, micros32(a.Duration))
	}
	e.endStruct()
}

func (e *encoder) binaryAnnotation(s *models.Span, b *models.BinaryAnnotation) {
	e.beginStruct("BinaryAnnotation")
	e.str("key", 1, b.Key)
	e.field("value", thrift.STRING, 2)
	e.check(e.p.WriteBinary(e.ctx, b.Value))
	e.endField()
	e.i32("annotation_type", 3, int32(b.Type))
	e.field("host", thrift.STRUCT, 4)
	e.endpoint(host(s, b.Host))
	e.endField()
	e.endStruct()
}

func (e *encoder) endpoint(ep models.Endpoint) {
	e.beginStruct("Endpoint")
	e.i32("ipv4", 1, int32(ep.IPv4))
	e.field("port", thrift.I16, 2)
	e.check(e.p.WriteI16(e.ctx, int16(ep.Port)))
	e.endField()
	e.str("service_name", 3, ep.ServiceName)
	e.endStruct()
}

// host resolves the endpoint written for an annotation: an unknown address
// falls back to the span endpoint and a missing service name to the span
// service name.
func host(s *models.Span, ep models.Endpoint) models.Endpoint {
	if ep.IsUnknown() {
		ep = ep.WithAddress(s.Endpoint)
	}
	if ep.ServiceName == "" {
		ep.ServiceName = s.ServiceName
	}
	if ep.ServiceName == "" {
		ep.ServiceName = unknownName
	}
	return ep
}

// micros32 converts d to microseconds, saturating at math.MaxInt32.
func micros32(d time.Duration) int32 {
	us := d.Microseconds()
	if us > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(us)
}

func micros(t time.Time) int64 {
	return t.UnixNano() / 1e3
}
