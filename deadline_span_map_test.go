package zipkintracer

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/openzipkin-contrib/zipkin-go-rawtracer/events"
	"github.com/openzipkin-contrib/zipkin-go-rawtracer/models"
)

const testTTL = 10 * time.Second

var epoch = time.Unix(1000, 0)

type spanRecorder struct {
	mu    sync.Mutex
	spans []*models.Span
	calls int
}

func (r *spanRecorder) sink(spans []*models.Span) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spans = append(r.spans, spans...)
	r.calls++
}

func (r *spanRecorder) Spans() []*models.Span {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.Span(nil), r.spans...)
}

func (r *spanRecorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.spans)
}

func traceID(n uint64) models.TraceID {
	return models.TraceID{TraceID: models.ID(n), SpanID: models.ID(n)}
}

func newTestSpanMap(opts ...SpanMapOption) (*DeadlineSpanMap, *spanRecorder, *testingclock.FakeClock) {
	clk := testingclock.NewFakeClock(epoch)
	rec := &spanRecorder{}
	m := NewDeadlineSpanMap(testTTL, rec.sink, append([]SpanMapOption{MapClock(clk)}, opts...)...)
	return m, rec, clk
}

func TestDeadlineSpanMap_EvictsAtDeadline(t *testing.T) {
	m, rec, _ := newTestSpanMap()

	m.Update(Record{TraceID: traceID(1), Timestamp: epoch, Annotation: ClientSend{}})
	require.Equal(t, 1, m.Len())

	assert.Equal(t, 0, m.Flush(epoch.Add(testTTL-time.Nanosecond)))
	assert.Equal(t, 0, rec.Len())
	assert.Equal(t, 1, m.Len())

	assert.Equal(t, 1, m.Flush(epoch.Add(testTTL)))
	require.Len(t, rec.Spans(), 1)
	assert.Equal(t, traceID(1), rec.Spans()[0].TraceID)
	assert.Equal(t, 0, m.Len())

	assert.Equal(t, 0, m.Flush(epoch.Add(2*testTTL)))
	assert.Equal(t, 1, rec.Len())
}

func TestDeadlineSpanMap_DeadlineIsFixedAtCreation(t *testing.T) {
	m, rec, clk := newTestSpanMap()

	m.Update(Record{TraceID: traceID(1), Timestamp: epoch, Annotation: ServerRecv{}})
	clk.Step(testTTL / 2)
	m.Update(Record{TraceID: traceID(1), Timestamp: clk.Now(), Annotation: ServerSend{}})

	assert.Equal(t, 1, m.Flush(epoch.Add(testTTL)))
	require.Len(t, rec.Spans(), 1)
	assert.Len(t, rec.Spans()[0].Annotations, 2)
}

func TestDeadlineSpanMap_SlidingDeadline(t *testing.T) {
	m, rec, clk := newTestSpanMap(MapSlidingDeadline())

	m.Update(Record{TraceID: traceID(1), Timestamp: epoch, Annotation: ServerRecv{}})
	clk.Step(testTTL / 2)
	m.Update(Record{TraceID: traceID(1), Timestamp: clk.Now(), Annotation: ServerSend{}})

	assert.Equal(t, 0, m.Flush(epoch.Add(testTTL)))
	assert.Equal(t, 1, m.Flush(epoch.Add(testTTL+testTTL/2)))
	assert.Equal(t, 1, rec.Len())
}

func TestDeadlineSpanMap_CompletionDoesNotFlush(t *testing.T) {
	m, rec, _ := newTestSpanMap()

	id := traceID(7)
	m.Update(Record{TraceID: id, Timestamp: epoch, Annotation: ClientSend{}})
	m.Update(Record{TraceID: id, Timestamp: epoch.Add(time.Millisecond), Annotation: ClientRecv{}})

	assert.Equal(t, 0, m.Flush(epoch.Add(time.Second)))
	assert.Equal(t, 0, rec.Len())

	// records arriving after the pair still land in the same span
	m.Update(Record{TraceID: id, Timestamp: epoch.Add(2 * time.Millisecond), Annotation: Message("late detail")})
	assert.Equal(t, 1, m.Flush(epoch.Add(testTTL)))
	require.Len(t, rec.Spans(), 1)
	assert.Len(t, rec.Spans()[0].Annotations, 3)
}

func TestDeadlineSpanMap_ConcurrentUpdatesMergeCompletely(t *testing.T) {
	m, rec, _ := newTestSpanMap()

	const (
		traces  = 16
		writers = 8
		perEach = 50
	)
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perEach; i++ {
				for n := uint64(1); n <= traces; n++ {
					m.Update(Record{TraceID: traceID(n), Timestamp: epoch, Annotation: Message("m")})
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, traces, m.FlushAll())
	spans := rec.Spans()
	require.Len(t, spans, traces)
	for _, s := range spans {
		assert.Len(t, s.Annotations, writers*perEach, s.TraceID.String())
	}
}

func TestDeadlineSpanMap_NoCrossTraceInterference(t *testing.T) {
	m, rec, _ := newTestSpanMap()

	a := traceID(1)
	b := models.TraceID{TraceID: 1, ParentID: 1, SpanID: 2}

	m.Update(Record{TraceID: a, Timestamp: epoch, Annotation: ServiceName("alpha")})
	m.Update(Record{TraceID: b, Timestamp: epoch, Annotation: ServiceName("beta")})
	m.Update(Record{TraceID: a, Timestamp: epoch, Annotation: StringTag{Key: "k", Value: "a"}})
	m.Update(Record{TraceID: b, Timestamp: epoch, Annotation: ClientSend{}})

	assert.Equal(t, 2, m.FlushAll())
	got := map[models.TraceID]*models.Span{}
	for _, s := range rec.Spans() {
		got[s.TraceID] = s
	}
	require.Len(t, got, 2)

	assert.Equal(t, "alpha", got[a].ServiceName)
	assert.Empty(t, got[a].Annotations)
	assert.Len(t, got[a].BinaryAnnotations, 1)

	assert.Equal(t, "beta", got[b].ServiceName)
	assert.Len(t, got[b].Annotations, 1)
	assert.Empty(t, got[b].BinaryAnnotations)
}

func TestDeadlineSpanMap_ConcurrentFlushEmitsOnce(t *testing.T) {
	m, rec, _ := newTestSpanMap(MapShards(4))

	const traces = 500
	for n := uint64(1); n <= traces; n++ {
		m.Update(Record{TraceID: traceID(n), Timestamp: epoch, Annotation: ServerRecv{}})
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n := m.Flush(epoch.Add(testTTL))
			mu.Lock()
			total += n
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, traces, total)
	seen := map[models.TraceID]int{}
	for _, s := range rec.Spans() {
		seen[s.TraceID]++
	}
	assert.Len(t, seen, traces)
	for id, n := range seen {
		assert.Equal(t, 1, n, id.String())
	}
}

func TestDeadlineSpanMap_StartSweepsOnTick(t *testing.T) {
	m, rec, clk := newTestSpanMap(MapSweepPeriod(testTTL))
	m.Start()
	defer m.Stop()

	m.Update(Record{TraceID: traceID(1), Timestamp: epoch, Annotation: ClientSend{}})
	clk.Step(testTTL)

	require.Eventually(t, func() bool { return rec.Len() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, m.Len())
}

func TestDeadlineSpanMap_StopDrains(t *testing.T) {
	m, rec, _ := newTestSpanMap()
	m.Start()
	m.Start()

	m.Update(Record{TraceID: traceID(1), Timestamp: epoch, Annotation: ClientSend{}})
	m.Update(Record{TraceID: traceID(2), Timestamp: epoch, Annotation: ClientSend{}})

	assert.Equal(t, 2, m.Stop())
	assert.Equal(t, 2, rec.Len())
	assert.Equal(t, 0, m.Stop())
}

func TestDeadlineSpanMap_LateRecordsAreCounted(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	m, rec, _ := newTestSpanMap(MapMetrics(metrics))

	m.Update(Record{TraceID: traceID(1), Timestamp: epoch, Annotation: ClientSend{}})
	m.Update(Record{TraceID: traceID(1), Timestamp: epoch, Annotation: ClientRecv{}})
	m.FlushAll()
	m.Update(Record{TraceID: traceID(1), Timestamp: epoch, Annotation: Message("straggler")})

	assert.Equal(t, 1, rec.Len())
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.Records))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.SpansCreated))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SpansEvicted))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.LateSpans))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.LiveSpans))
}

func TestDeadlineSpanMap_LateDetectionDisabled(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	m, _, _ := newTestSpanMap(MapMetrics(metrics), MapLateSpanCache(0))

	m.Update(Record{TraceID: traceID(1), Timestamp: epoch, Annotation: ClientSend{}})
	m.FlushAll()
	m.Update(Record{TraceID: traceID(1), Timestamp: epoch, Annotation: ClientRecv{}})

	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.LateSpans))
}

func TestDeadlineSpanMap_SweepListener(t *testing.T) {
	var got []events.SweepEvent
	m, _, clk := newTestSpanMap(MapSweepListener(func(e events.SweepEvent) { got = append(got, e) }))

	m.Update(Record{TraceID: traceID(1), Timestamp: epoch, Annotation: ClientSend{}})
	clk.Step(time.Second)
	m.Update(Record{TraceID: traceID(2), Timestamp: clk.Now(), Annotation: ClientSend{}})

	m.Flush(epoch.Add(testTTL))
	m.FlushAll()

	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Evicted)
	assert.Equal(t, 1, got[0].Live)
	assert.False(t, got[0].Final)
	assert.Equal(t, 1, got[1].Evicted)
	assert.Equal(t, 0, got[1].Live)
	assert.True(t, got[1].Final)
}

func TestDeadlineSpanMap_LocalEndpointSeedsNewSpans(t *testing.T) {
	local := models.Endpoint{ServiceName: "recorder", IPv4: 0x0a000001, Port: 9410}
	m, rec, _ := newTestSpanMap(MapLocalEndpoint(local))

	m.Update(Record{TraceID: traceID(1), Timestamp: epoch, Annotation: ClientSend{}})
	m.Update(Record{TraceID: traceID(2), Timestamp: epoch, Annotation: ServiceName("other")})
	m.Update(Record{TraceID: traceID(2), Timestamp: epoch, Annotation: ServerRecv{}})
	m.FlushAll()

	spans := rec.Spans()
	require.Len(t, spans, 2)
	byID := map[models.TraceID]*models.Span{spans[0].TraceID: spans[0], spans[1].TraceID: spans[1]}

	first := byID[traceID(1)]
	assert.Equal(t, "recorder", first.ServiceName)
	assert.Equal(t, local, first.Annotations[0].Host)

	second := byID[traceID(2)]
	assert.Equal(t, "other", second.ServiceName)
	assert.Equal(t, local.WithServiceName("other"), second.Annotations[0].Host)
}
