package zipkintracer

import (
	"net/netip"
	"time"

	"github.com/openzipkin-contrib/zipkin-go-rawtracer/models"
)

// Record is a single annotation recorded against a trace. Duration is an
// optional override attached to timed annotations; zero means none.
type Record struct {
	TraceID    models.TraceID
	Timestamp  time.Time
	Annotation Annotation
	Duration   time.Duration
}

// Annotation is the payload of a Record. The set of implementations is
// closed; every kind knows how to merge itself into a span.
type Annotation interface {
	apply(span *models.Span, r *Record)
}

// Timed annotations.
type (
	ClientSend         struct{}
	ClientRecv         struct{}
	ServerSend         struct{}
	ServerRecv         struct{}
	ClientSendFragment struct{}
	ClientRecvFragment struct{}
	ServerSendFragment struct{}
	ServerRecvFragment struct{}
	WireSend           struct{}
	WireRecv           struct{}
)

// Message is a free text timed annotation.
type Message string

// ServiceName names the local service of the span.
type ServiceName string

// RPC names the operation of the span.
type RPC string

// Address annotations. LocalAddr moves the span endpoint used by
// annotations recorded after it; ClientAddr and ServerAddr name the remote
// peer and are recorded as "ca" and "sa" binary annotations.
type (
	ClientAddr struct{ Addr netip.AddrPort }
	ServerAddr struct{ Addr netip.AddrPort }
	LocalAddr  struct{ Addr netip.AddrPort }
)

// Tag annotations become typed binary annotations of the same width.
type (
	BoolTag struct {
		Key   string
		Value bool
	}
	BytesTag struct {
		Key   string
		Value []byte
	}
	Int16Tag struct {
		Key   string
		Value int16
	}
	Int32Tag struct {
		Key   string
		Value int32
	}
	Int64Tag struct {
		Key   string
		Value int64
	}
	DoubleTag struct {
		Key   string
		Value float64
	}
	StringTag struct {
		Key   string
		Value string
	}
)

func annotate(span *models.Span, r *Record, value string) {
	span.Annotate(r.Timestamp, value, r.Duration)
}

func (ClientSend) apply(s *models.Span, r *Record) { annotate(s, r, models.ClientSend) }
func (ClientRecv) apply(s *models.Span, r *Record) { annotate(s, r, models.ClientRecv) }
func (ServerSend) apply(s *models.Span, r *Record) { annotate(s, r, models.ServerSend) }
func (ServerRecv) apply(s *models.Span, r *Record) { annotate(s, r, models.ServerRecv) }
func (ClientSendFragment) apply(s *models.Span, r *Record) { annotate(s, r, models.ClientSendFragment) }
func (ClientRecvFragment) apply(s *models.Span, r *Record) { annotate(s, r, models.ClientRecvFragment) }
func (ServerSendFragment) apply(s *models.Span, r *Record) { annotate(s, r, models.ServerSendFragment) }
func (ServerRecvFragment) apply(s *models.Span, r *Record) { annotate(s, r, models.ServerRecvFragment) }
func (WireSend) apply(s *models.Span, r *Record) { annotate(s, r, models.WireSend) }
func (WireRecv) apply(s *models.Span, r *Record) { annotate(s, r, models.WireRecv) }
func (m Message) apply(s *models.Span, r *Record) { annotate(s, r, string(m)) }

func (n ServiceName) apply(s *models.Span, _ *Record) { s.SetServiceName(string(n)) }
func (n RPC) apply(s *models.Span, _ *Record) { s.SetName(string(n)) }

func (a ClientAddr) apply(s *models.Span, _ *Record) {
	s.AddPeerAddress(models.ClientAddrKey, models.EndpointFromAddrPort(a.Addr))
}

func (a ServerAddr) apply(s *models.Span, _ *Record) {
	s.AddPeerAddress(models.ServerAddrKey, models.EndpointFromAddrPort(a.Addr))
}

func (a LocalAddr) apply(s *models.Span, _ *Record) { s.SetAddress(models.EndpointFromAddrPort(a.Addr)) }

func (t BoolTag) apply(s *models.Span, _ *Record) { s.AddBinaryAnnotation(models.Bool(t.Key, t.Value)) }
func (t BytesTag) apply(s *models.Span, _ *Record) { s.AddBinaryAnnotation(models.Bytes(t.Key, t.Value)) }
func (t Int16Tag) apply(s *models.Span, _ *Record) { s.AddBinaryAnnotation(models.Int16(t.Key, t.Value)) }
func (t Int32Tag) apply(s *models.Span, _ *Record) { s.AddBinaryAnnotation(models.Int32(t.Key, t.Value)) }
func (t Int64Tag) apply(s *models.Span, _ *Record) { s.AddBinaryAnnotation(models.Int64(t.Key, t.Value)) }
func (t DoubleTag) apply(s *models.Span, _ *Record) { s.AddBinaryAnnotation(models.Double(t.Key, t.Value)) }
func (t StringTag) apply(s *models.Span, _ *Record) { s.AddBinaryAnnotation(models.String(t.Key, t.Value)) }

// merge folds r into span.
func merge(span *models.Span, r *Record) {
	if r.Annotation == nil {
		return
	}
	r.Annotation.apply(span, r)
}
