// Copyright 2022 The OpenZipkin Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package zipkintracer

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"k8s.io/utils/clock"

	"github.com/openzipkin-contrib/zipkin-go-rawtracer/events"
	"github.com/openzipkin-contrib/zipkin-go-rawtracer/models"
)

const (
	defaultShards            = 32
	defaultSweepPeriod       = time.Second
	defaultLateSpanCacheSize = 4096
)

// SpanSink receives the spans evicted by one flush. It is called without
// any span map lock held and owns the spans afterwards.
type SpanSink func(spans []*models.Span)

type spanEntry struct {
	span     *models.Span
	deadline time.Time
}

type shard struct {
	mu    sync.Mutex
	spans map[models.TraceID]*spanEntry
}

// DeadlineSpanMap aggregates records into spans keyed by TraceID. A span
// is evicted to the sink once its deadline, set when the first record for
// its TraceID arrives, has passed. Each span reaches the sink exactly once.
type DeadlineSpanMap struct {
	ttl      time.Duration
	period   time.Duration
	sliding  bool
	sink     SpanSink
	clock    clock.WithTicker
	logger   Logger
	metrics  *Metrics
	listener events.SweepListener
	lateSize int
	local    models.Endpoint

	shards  []*shard
	evicted *lru.Cache[models.TraceID, struct{}]

	runMu sync.Mutex
	stop  chan struct{}
	done  chan struct{}
}

// SpanMapOption configures a DeadlineSpanMap.
type SpanMapOption func(m *DeadlineSpanMap)

// MapClock sets the clock deadlines and sweeps are measured with.
func MapClock(c clock.WithTicker) SpanMapOption {
	return func(m *DeadlineSpanMap) { m.clock = c }
}

// MapSweepPeriod sets the interval between two sweeps started by Start.
func MapSweepPeriod(d time.Duration) SpanMapOption {
	return func(m *DeadlineSpanMap) { m.period = d }
}

// MapShards sets the number of independently locked shards.
func MapShards(n int) SpanMapOption {
	return func(m *DeadlineSpanMap) { m.shards = newShards(n) }
}

// MapSlidingDeadline renews a span's deadline on every update instead of
// keeping the one set at creation.
func MapSlidingDeadline() SpanMapOption {
	return func(m *DeadlineSpanMap) { m.sliding = true }
}

// MapLateSpanCache sets how many evicted trace ids are remembered to detect
// records arriving after their span was flushed. Zero disables detection.
func MapLateSpanCache(size int) SpanMapOption {
	return func(m *DeadlineSpanMap) { m.lateSize = size }
}

// MapLocalEndpoint sets the endpoint every new span starts with. A
// LocalAddr or ServiceName record still overrides it.
func MapLocalEndpoint(ep models.Endpoint) SpanMapOption {
	return func(m *DeadlineSpanMap) { m.local = ep }
}

// MapLogger sets the logger.
func MapLogger(l Logger) SpanMapOption {
	return func(m *DeadlineSpanMap) { m.logger = l }
}

// MapMetrics sets the metrics updated by the map.
func MapMetrics(metrics *Metrics) SpanMapOption {
	return func(m *DeadlineSpanMap) { m.metrics = metrics }
}

// MapSweepListener sets a listener notified after every flush.
func MapSweepListener(l events.SweepListener) SpanMapOption {
	return func(m *DeadlineSpanMap) { m.listener = l }
}

// NewDeadlineSpanMap returns a span map evicting spans ttl after their
// first record.
func NewDeadlineSpanMap(ttl time.Duration, sink SpanSink, opts ...SpanMapOption) *DeadlineSpanMap {
	m := &DeadlineSpanMap{
		ttl:      ttl,
		period:   defaultSweepPeriod,
		sink:     sink,
		clock:    clock.RealClock{},
		logger:   NewNopLogger(),
		lateSize: defaultLateSpanCacheSize,
		shards:   newShards(defaultShards),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = NewMetrics(nil)
	}
	if m.lateSize > 0 {
		// only fails for a non-positive size
		m.evicted, _ = lru.New[models.TraceID, struct{}](m.lateSize)
	}
	return m
}

func newShards(n int) []*shard {
	if n <= 0 {
		n = 1
	}
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{spans: make(map[models.TraceID]*spanEntry)}
	}
	return shards
}

func (m *DeadlineSpanMap) shardFor(id models.TraceID) *shard {
	var buf [32]byte
	h := xxhash.Sum64(id.AppendBinary(buf[:0]))
	return m.shards[h%uint64(len(m.shards))]
}

func (m *DeadlineSpanMap) newSpan(id models.TraceID) *models.Span {
	span := models.NewSpan(id)
	span.SetServiceName(m.local.ServiceName)
	span.SetAddress(m.local)
	return span
}

// Update merges r into the span for r.TraceID, creating the span when it
// is the first record for that id. It never blocks on the sink.
func (m *DeadlineSpanMap) Update(r Record) {
	s := m.shardFor(r.TraceID)
	now := m.clock.Now()

	s.mu.Lock()
	e, ok := s.spans[r.TraceID]
	if !ok {
		e = &spanEntry{
			span:     m.newSpan(r.TraceID),
			deadline: now.Add(m.ttl),
		}
		s.spans[r.TraceID] = e
	} else if m.sliding {
		e.deadline = now.Add(m.ttl)
	}
	merge(e.span, &r)
	s.mu.Unlock()

	m.metrics.Records.Inc()
	if ok {
		return
	}
	m.metrics.SpansCreated.Inc()
	m.metrics.LiveSpans.Inc()
	if m.evicted != nil && m.evicted.Contains(r.TraceID) {
		m.metrics.LateSpans.Inc()
		_ = m.logger.Log("level", "debug", "msg", "record for an already flushed span", "trace", r.TraceID.String())
	}
}

// Flush evicts every span whose deadline is not after now and hands them
// to the sink. It returns the number of evicted spans.
func (m *DeadlineSpanMap) Flush(now time.Time) int {
	return m.evict(func(e *spanEntry) bool { return !e.deadline.After(now) }, false)
}

// FlushAll evicts every span regardless of its deadline.
func (m *DeadlineSpanMap) FlushAll() int {
	return m.evict(func(*spanEntry) bool { return true }, true)
}

func (m *DeadlineSpanMap) evict(expired func(*spanEntry) bool, final bool) int {
	start := m.clock.Now()
	var (
		spans []*models.Span
		live  int
	)
	for _, s := range m.shards {
		s.mu.Lock()
		for id, e := range s.spans {
			if expired(e) {
				delete(s.spans, id)
				spans = append(spans, e.span)
			}
		}
		live += len(s.spans)
		s.mu.Unlock()
	}
	took := m.clock.Since(start)

	if m.evicted != nil {
		for _, span := range spans {
			m.evicted.Add(span.TraceID, struct{}{})
		}
	}
	m.metrics.SpansEvicted.Add(float64(len(spans)))
	m.metrics.LiveSpans.Sub(float64(len(spans)))

	if len(spans) > 0 && m.sink != nil {
		m.sink(spans)
	}
	if m.listener != nil {
		m.listener(events.SweepEvent{Evicted: len(spans), Live: live, Took: took, Final: final})
	}
	return len(spans)
}

// Len returns the number of spans waiting for their deadline.
func (m *DeadlineSpanMap) Len() int {
	var n int
	for _, s := range m.shards {
		s.mu.Lock()
		n += len(s.spans)
		s.mu.Unlock()
	}
	return n
}

// Start begins flushing expired spans every sweep period. Calling Start on
// a running map is a no-op.
func (m *DeadlineSpanMap) Start() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.stop != nil {
		return
	}
	ticker := m.clock.NewTicker(m.period)
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.loop(ticker, m.stop, m.done)
}

func (m *DeadlineSpanMap) loop(ticker clock.Ticker, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C():
			m.Flush(m.clock.Now())
		case <-stop:
			return
		}
	}
}

// Stop ends the sweep loop started by Start, waits for a running flush to
// finish and then evicts everything left. It returns the number of spans
// evicted by the final drain.
func (m *DeadlineSpanMap) Stop() int {
	m.runMu.Lock()
	if m.stop != nil {
		close(m.stop)
		<-m.done
		m.stop, m.done = nil, nil
	}
	m.runMu.Unlock()
	return m.FlushAll()
}
