package zipkintracer

import (
	"net"

	"github.com/openzipkin/zipkin-go/model"

	"github.com/openzipkin-contrib/zipkin-go-rawtracer/models"
)

// ToSpanModel converts a span into the Zipkin v2 model. The core client
// and server annotations are folded into Kind, Timestamp and Duration; the
// remaining annotations are kept, "ca" and "sa" become the remote endpoint
// and the other binary annotations become tags.
func ToSpanModel(s *models.Span) model.SpanModel {
	sm := model.SpanModel{
		SpanContext: model.SpanContext{
			TraceID: model.TraceID{Low: uint64(s.TraceID.TraceID)},
			ID:      model.ID(s.TraceID.SpanID),
			Debug:   s.Debug,
		},
		Name:          s.Name,
		LocalEndpoint: toEndpoint(s.Endpoint, s.ServiceName),
	}
	if s.TraceID.HasParent() {
		parent := model.ID(s.TraceID.ParentID)
		sm.ParentID = &parent
	}
	if s.TraceID.Flags.Has(models.FlagSamplingKnown) {
		sampled := s.TraceID.Flags.Has(models.FlagSampled)
		sm.Sampled = &sampled
	}

	switch {
	case s.HasAnnotation(models.ClientSend):
		sm.Kind = model.Client
	case s.HasAnnotation(models.ServerRecv):
		sm.Kind = model.Server
	}
	if start, duration, ok := s.Timing(); ok {
		sm.Timestamp, sm.Duration = start, duration
	} else if len(s.Annotations) > 0 {
		sm.Timestamp = s.Annotations[0].Timestamp
	}

	for _, a := range s.Annotations {
		switch a.Value {
		case models.ClientSend, models.ClientRecv, models.ServerSend, models.ServerRecv:
			continue
		}
		sm.Annotations = append(sm.Annotations, model.Annotation{Timestamp: a.Timestamp, Value: a.Value})
	}
	for _, b := range s.BinaryAnnotations {
		if isPeerAddress(b) {
			sm.RemoteEndpoint = toEndpoint(b.Host, "")
			continue
		}
		if sm.Tags == nil {
			sm.Tags = make(map[string]string, len(s.BinaryAnnotations))
		}
		sm.Tags[b.Key] = b.ValueString()
	}
	return sm
}

// isPeerAddress reports whether b is a "ca" or "sa" address annotation.
func isPeerAddress(b models.BinaryAnnotation) bool {
	if b.Type != models.AnnotationTypeBool {
		return false
	}
	return b.Key == models.ClientAddrKey || b.Key == models.ServerAddrKey
}

func toEndpoint(ep models.Endpoint, serviceName string) *model.Endpoint {
	if ep.ServiceName == "" {
		ep.ServiceName = serviceName
	}
	if ep.IsUnknown() && ep.ServiceName == "" {
		return nil
	}
	e := &model.Endpoint{ServiceName: ep.ServiceName, Port: ep.Port}
	if ep.IPv4 != 0 {
		addr := ep.Addr().As4()
		e.IPv4 = net.IP(addr[:])
	}
	return e
}
