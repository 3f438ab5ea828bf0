package events

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeEventLog struct {
	lines    []string
	finished bool
}

func (f *fakeEventLog) Printf(format string, a ...interface{}) {
	f.lines = append(f.lines, fmt.Sprintf(format, a...))
}

func (f *fakeEventLog) Finish() {
	f.finished = true
}

func TestLogTo(t *testing.T) {
	el := &fakeEventLog{}
	listener, finish := LogTo(el)

	listener(SweepEvent{Evicted: 0, Live: 4})
	listener(SweepEvent{Evicted: 2, Live: 4, Took: time.Millisecond})
	listener(SweepEvent{Evicted: 0, Final: true})
	finish()

	assert.Equal(t, []string{
		"evicted 2 spans in 1ms, 4 live",
		"final drain: evicted 0 spans in 0s",
	}, el.lines)
	assert.True(t, el.finished)
}

func TestNetTraceIntegrator(t *testing.T) {
	listener, finish := NetTraceIntegrator("zipkin", "sweeper")
	assert.NotPanics(t, func() {
		listener(SweepEvent{Evicted: 1})
		finish()
	})
}
