package ingest

import (
	"io"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	zipkintracer "github.com/openzipkin-contrib/zipkin-go-rawtracer"
	"github.com/openzipkin-contrib/zipkin-go-rawtracer/models"
)

var now = time.Unix(1650000000, 0)

func decodeAll(t *testing.T, input string) ([]zipkintracer.Record, error) {
	t.Helper()
	d := NewDecoder(strings.NewReader(input), testingclock.NewFakePassiveClock(now))
	var records []zipkintracer.Record
	for {
		r, err := d.Next()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return records, err
		}
		records = append(records, r)
	}
}

func TestDecoder(t *testing.T) {
	input := `
{"trace_id":"a","span_id":"b","parent_id":"c","sampled":true,"timestamp":1650000000000123,"kind":"cs"}
{"trace_id":"a","span_id":"b","kind":"cr","duration":42}

{"trace_id":"a","span_id":"b","debug":true,"kind":"message","value":"finagle.timeout"}
{"trace_id":"a","span_id":"b","kind":"service_name","value":"svc"}
{"trace_id":"a","span_id":"b","kind":"rpc","value":"get"}
{"trace_id":"a","span_id":"b","kind":"server_addr","value":"10.0.0.1:8080"}
{"trace_id":"a","span_id":"b","kind":"tag","key":"b","type":"bool","value":true}
{"trace_id":"a","span_id":"b","kind":"tag","key":"raw","type":"bytes","value":"AQI="}
{"trace_id":"a","span_id":"b","kind":"tag","key":"s","type":"i16","value":-2}
{"trace_id":"a","span_id":"b","kind":"tag","key":"i","type":"i32","value":3}
{"trace_id":"a","span_id":"b","kind":"tag","key":"l","type":"i64","value":4}
{"trace_id":"a","span_id":"b","kind":"tag","key":"d","type":"double","value":1.5}
{"trace_id":"a","span_id":"b","kind":"tag","key":"str","value":"x"}
{"trace_id":"a","span_id":"b","kind":"wr"}
`
	records, err := decodeAll(t, input)
	require.NoError(t, err)
	require.Len(t, records, 14)

	first := records[0]
	assert.Equal(t, models.TraceID{
		TraceID:  0xa,
		ParentID: 0xc,
		SpanID:   0xb,
		Flags:    models.FlagSamplingKnown | models.FlagSampled,
	}, first.TraceID)
	assert.Equal(t, time.UnixMicro(1650000000000123), first.Timestamp)
	assert.Equal(t, zipkintracer.ClientSend{}, first.Annotation)

	assert.Equal(t, now, records[1].Timestamp)
	assert.Equal(t, 42*time.Microsecond, records[1].Duration)
	assert.Equal(t, models.FlagDebug, records[2].TraceID.Flags)

	var annotations []zipkintracer.Annotation
	for _, r := range records[1:] {
		annotations = append(annotations, r.Annotation)
	}
	assert.Equal(t, []zipkintracer.Annotation{
		zipkintracer.ClientRecv{},
		zipkintracer.Message("finagle.timeout"),
		zipkintracer.ServiceName("svc"),
		zipkintracer.RPC("get"),
		zipkintracer.ServerAddr{Addr: netip.MustParseAddrPort("10.0.0.1:8080")},
		zipkintracer.BoolTag{Key: "b", Value: true},
		zipkintracer.BytesTag{Key: "raw", Value: []byte{1, 2}},
		zipkintracer.Int16Tag{Key: "s", Value: -2},
		zipkintracer.Int32Tag{Key: "i", Value: 3},
		zipkintracer.Int64Tag{Key: "l", Value: 4},
		zipkintracer.DoubleTag{Key: "d", Value: 1.5},
		zipkintracer.StringTag{Key: "str", Value: "x"},
		zipkintracer.WireRecv{},
	}, annotations)
}

func TestDecoder_Errors(t *testing.T) {
	for name, input := range map[string]string{
		"not json":      `{`,
		"bad trace id":  `{"trace_id":"xyz","span_id":"1","kind":"cs"}`,
		"missing span":  `{"trace_id":"1","kind":"cs"}`,
		"bad parent":    `{"trace_id":"1","span_id":"1","parent_id":"zz","kind":"cs"}`,
		"missing kind":  `{"trace_id":"1","span_id":"1"}`,
		"unknown kind":  `{"trace_id":"1","span_id":"1","kind":"nope"}`,
		"bad address":   `{"trace_id":"1","span_id":"1","kind":"local_addr","value":"nowhere"}`,
		"tag no key":    `{"trace_id":"1","span_id":"1","kind":"tag","value":"x"}`,
		"tag bad type":  `{"trace_id":"1","span_id":"1","kind":"tag","key":"k","type":"u8","value":1}`,
		"i16 overflow":  `{"trace_id":"1","span_id":"1","kind":"tag","key":"k","type":"i16","value":70000}`,
		"message value": `{"trace_id":"1","span_id":"1","kind":"message","value":3}`,
	} {
		_, err := decodeAll(t, "\n"+input)
		assert.ErrorContains(t, err, "line 2", name)
	}
}

func TestDecoder_ContinuesAfterLineError(t *testing.T) {
	d := NewDecoder(strings.NewReader("{\n"+`{"trace_id":"1","span_id":"1","kind":"cs"}`), testingclock.NewFakePassiveClock(now))

	_, err := d.Next()
	var lineErr *LineError
	require.ErrorAs(t, err, &lineErr)
	assert.Equal(t, 1, lineErr.Line)

	r, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, zipkintracer.ClientSend{}, r.Annotation)
	assert.Equal(t, now, r.Timestamp)

	_, err = d.Next()
	assert.Equal(t, io.EOF, err)
}

func TestDecoder_SkipsOversizedLine(t *testing.T) {
	huge := strings.Repeat("x", 2*maxLineSize)
	input := huge + "\n" + `{"trace_id":"1","span_id":"1","kind":"cs"}` + "\n" + huge
	d := NewDecoder(strings.NewReader(input), testingclock.NewFakePassiveClock(now))

	_, err := d.Next()
	var lineErr *LineError
	require.ErrorAs(t, err, &lineErr)
	assert.Equal(t, 1, lineErr.Line)
	assert.ErrorIs(t, err, ErrLineTooLong)

	r, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, zipkintracer.ClientSend{}, r.Annotation)

	_, err = d.Next()
	require.ErrorAs(t, err, &lineErr)
	assert.Equal(t, 3, lineErr.Line)
	assert.ErrorIs(t, err, ErrLineTooLong)

	_, err = d.Next()
	assert.Equal(t, io.EOF, err)
}

func TestDecoder_LastLineWithoutNewline(t *testing.T) {
	records, err := decodeAll(t, `{"trace_id":"1","span_id":"1","kind":"cs"}`+"\n\n"+`{"trace_id":"1","span_id":"1","kind":"cr"}`)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, zipkintracer.ClientRecv{}, records[1].Annotation)
}
