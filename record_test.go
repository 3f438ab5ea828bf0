package zipkintracer

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openzipkin-contrib/zipkin-go-rawtracer/models"
)

func TestMerge_PeerAddressesKeepLocalHost(t *testing.T) {
	id := models.TraceID{TraceID: 1, SpanID: 1}
	span := models.NewSpan(id)
	for _, r := range []Record{
		{Timestamp: epoch, Annotation: LocalAddr{Addr: netip.MustParseAddrPort("10.0.0.1:1000")}},
		{Timestamp: epoch, Annotation: ServiceName("client-svc")},
		{Timestamp: epoch, Annotation: ClientSend{}},
		{Timestamp: epoch, Annotation: ServerAddr{Addr: netip.MustParseAddrPort("10.9.9.9:9999")}},
		{Timestamp: epoch, Annotation: ClientAddr{Addr: netip.MustParseAddrPort("10.0.0.1:1000")}},
		{Timestamp: epoch, Annotation: ClientRecv{}},
	} {
		r.TraceID = id
		merge(span, &r)
	}

	local := models.Endpoint{ServiceName: "client-svc", IPv4: 0x0a000001, Port: 1000}
	assert.Equal(t, local, span.Endpoint)
	require.Len(t, span.Annotations, 2)
	assert.Equal(t, local, span.Annotations[0].Host)
	assert.Equal(t, local, span.Annotations[1].Host)

	require.Len(t, span.BinaryAnnotations, 2)
	sa, ca := span.BinaryAnnotations[0], span.BinaryAnnotations[1]
	assert.Equal(t, models.ServerAddrKey, sa.Key)
	assert.Equal(t, models.Endpoint{ServiceName: "client-svc", IPv4: 0x0a090909, Port: 9999}, sa.Host)
	assert.Equal(t, models.ClientAddrKey, ca.Key)
	assert.Equal(t, local, ca.Host)
	for _, b := range span.BinaryAnnotations {
		assert.Equal(t, models.AnnotationTypeBool, b.Type)
		assert.Equal(t, []byte{1}, b.Value)
	}
}

func TestMerge_LocalAddrIsNotRetroactive(t *testing.T) {
	id := models.TraceID{TraceID: 1, SpanID: 1}
	span := models.NewSpan(id)
	merge(span, &Record{TraceID: id, Timestamp: epoch, Annotation: ServerRecv{}})
	merge(span, &Record{TraceID: id, Timestamp: epoch, Annotation: LocalAddr{Addr: netip.MustParseAddrPort("10.0.0.2:80")}})
	merge(span, &Record{TraceID: id, Timestamp: epoch, Annotation: ServerSend{}})

	require.Len(t, span.Annotations, 2)
	assert.True(t, span.Annotations[0].Host.IsUnknown())
	assert.Equal(t, uint32(0x0a000002), span.Annotations[1].Host.IPv4)
}

func TestMerge_NilAnnotationIsIgnored(t *testing.T) {
	span := models.NewSpan(traceID(1))
	merge(span, &Record{TraceID: traceID(1), Timestamp: epoch})
	assert.Empty(t, span.Annotations)
	assert.Empty(t, span.BinaryAnnotations)
}
