package models

import "time"

// Span aggregates every annotation recorded for one TraceID. Annotations
// keep insertion order. A Span is not safe for concurrent use; its owner
// serializes access.
type Span struct {
	TraceID           TraceID
	ServiceName       string
	Name              string
	Endpoint          Endpoint
	Annotations       []Annotation
	BinaryAnnotations []BinaryAnnotation
	Debug             bool
}

// NewSpan returns an empty span for id with an unknown endpoint.
func NewSpan(id TraceID) *Span {
	return &Span{
		TraceID:  id,
		Endpoint: UnknownEndpoint,
		Debug:    id.IsDebug(),
	}
}

// SetServiceName records the service name and stamps it on the endpoint
// used for annotations appended from now on. An empty name is ignored.
func (s *Span) SetServiceName(name string) {
	if name == "" {
		return
	}
	s.ServiceName = name
	s.Endpoint = s.Endpoint.WithServiceName(name)
}

// SetName records the operation name. An empty name is ignored.
func (s *Span) SetName(name string) {
	if name == "" {
		return
	}
	s.Name = name
}

// SetAddress replaces the address and port of the span endpoint. Already
// appended annotations keep the endpoint they were recorded with.
func (s *Span) SetAddress(ep Endpoint) {
	s.Endpoint = s.Endpoint.WithAddress(ep)
}

// Annotate appends a timed annotation using the current span endpoint.
func (s *Span) Annotate(ts time.Time, value string, d time.Duration) {
	s.Annotations = append(s.Annotations, Annotation{
		Timestamp: ts,
		Value:     value,
		Host:      s.Endpoint,
		Duration:  d,
	})
}

// AddBinaryAnnotation appends b, attributing it to the current span
// endpoint.
func (s *Span) AddBinaryAnnotation(b BinaryAnnotation) {
	b.Host = s.Endpoint
	s.BinaryAnnotations = append(s.BinaryAnnotations, b)
}

// AddPeerAddress records the remote peer of the span as a boolean binary
// annotation under key, hosted on peer. The span endpoint is unchanged.
// A peer without a service name takes the span's.
func (s *Span) AddPeerAddress(key string, peer Endpoint) {
	if peer.ServiceName == "" {
		peer.ServiceName = s.ServiceName
	}
	b := Bool(key, true)
	b.Host = peer
	s.BinaryAnnotations = append(s.BinaryAnnotations, b)
}

// Timing derives the span start and duration from the first complete
// client (cs, cr) or server (sr, ss) annotation pair.
func (s *Span) Timing() (start time.Time, duration time.Duration, ok bool) {
	var cs, cr, sr, ss *Annotation
	for i := range s.Annotations {
		a := &s.Annotations[i]
		switch {
		case a.Value == ClientSend && cs == nil:
			cs = a
		case a.Value == ClientRecv && cr == nil:
			cr = a
		case a.Value == ServerRecv && sr == nil:
			sr = a
		case a.Value == ServerSend && ss == nil:
			ss = a
		}
	}
	switch {
	case cs != nil && cr != nil && !cr.Timestamp.Before(cs.Timestamp):
		return cs.Timestamp, cr.Timestamp.Sub(cs.Timestamp), true
	case sr != nil && ss != nil && !ss.Timestamp.Before(sr.Timestamp):
		return sr.Timestamp, ss.Timestamp.Sub(sr.Timestamp), true
	}
	return time.Time{}, 0, false
}

// HasAnnotation reports whether a timed annotation with value was recorded.
func (s *Span) HasAnnotation(value string) bool {
	for _, a := range s.Annotations {
		if a.Value == value {
			return true
		}
	}
	return false
}
