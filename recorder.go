package zipkintracer

import (
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go/log"

	"github.com/openzipkin-contrib/zipkin-go-rawtracer/models"
)

// eventKey is the OpenTracing log key recorded as a timed annotation
// instead of a tag.
const eventKey = "event"

// TagFor returns the tag annotation for an arbitrary value. Integer and
// floating point values keep a binary annotation type wide enough to hold
// them; unknown types are recorded as their string representation.
func TagFor(key string, value interface{}) Annotation {
	switch v := value.(type) {
	case bool:
		return BoolTag{Key: key, Value: v}
	case []byte:
		return BytesTag{Key: key, Value: v}
	case int8:
		return Int16Tag{Key: key, Value: int16(v)}
	case uint8:
		return Int16Tag{Key: key, Value: int16(v)}
	case int16:
		return Int16Tag{Key: key, Value: v}
	case uint16:
		return Int32Tag{Key: key, Value: int32(v)}
	case int32:
		return Int32Tag{Key: key, Value: v}
	case uint32:
		return Int64Tag{Key: key, Value: int64(v)}
	case int:
		return Int64Tag{Key: key, Value: int64(v)}
	case int64:
		return Int64Tag{Key: key, Value: v}
	case uint:
		// values above math.MaxInt64 wrap
		return Int64Tag{Key: key, Value: int64(v)}
	case uint64:
		return Int64Tag{Key: key, Value: int64(v)}
	case float32:
		return DoubleTag{Key: key, Value: float64(v)}
	case float64:
		return DoubleTag{Key: key, Value: v}
	case string:
		return StringTag{Key: key, Value: v}
	case fmt.Stringer:
		return StringTag{Key: key, Value: v.String()}
	}
	return StringTag{Key: key, Value: fmt.Sprintf("%+v", value)}
}

// RecordTag records value under key for id.
func (t *Tracer) RecordTag(id models.TraceID, ts time.Time, key string, value interface{}) {
	t.Record(Record{TraceID: id, Timestamp: ts, Annotation: TagFor(key, value)})
}

// RecordLogFields records OpenTracing log fields for id. The "event" field
// becomes a timed annotation; every other field becomes a tag.
func (t *Tracer) RecordLogFields(id models.TraceID, ts time.Time, fields ...log.Field) {
	if ts.IsZero() {
		ts = t.opts.clock.Now()
	}
	enc := &fieldEncoder{record: func(a Annotation) {
		t.Record(Record{TraceID: id, Timestamp: ts, Annotation: a})
	}}
	for _, field := range fields {
		field.Marshal(enc)
	}
}

// fieldEncoder implements log.Encoder, turning each emitted field into an
// Annotation.
type fieldEncoder struct {
	record func(Annotation)
}

var _ log.Encoder = (*fieldEncoder)(nil)

func (e *fieldEncoder) EmitString(key, value string) {
	if key == eventKey {
		e.record(Message(value))
		return
	}
	e.record(StringTag{Key: key, Value: value})
}

func (e *fieldEncoder) EmitBool(key string, value bool)       { e.record(TagFor(key, value)) }
func (e *fieldEncoder) EmitInt(key string, value int)         { e.record(TagFor(key, value)) }
func (e *fieldEncoder) EmitInt32(key string, value int32)     { e.record(TagFor(key, value)) }
func (e *fieldEncoder) EmitInt64(key string, value int64)     { e.record(TagFor(key, value)) }
func (e *fieldEncoder) EmitUint32(key string, value uint32)   { e.record(TagFor(key, value)) }
func (e *fieldEncoder) EmitUint64(key string, value uint64)   { e.record(TagFor(key, value)) }
func (e *fieldEncoder) EmitFloat32(key string, value float32) { e.record(TagFor(key, value)) }
func (e *fieldEncoder) EmitFloat64(key string, value float64) { e.record(TagFor(key, value)) }

func (e *fieldEncoder) EmitObject(key string, value interface{}) {
	if s, ok := value.(string); ok {
		e.EmitString(key, s)
		return
	}
	e.record(TagFor(key, value))
}

func (e *fieldEncoder) EmitLazyLogger(value log.LazyLogger) {
	value(e)
}
