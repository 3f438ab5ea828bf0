package events

import (
	"golang.org/x/net/trace"
)

// EventLog is the subset of trace.EventLog used by NetTraceIntegrator.
type EventLog interface {
	Printf(format string, a ...interface{})
	Finish()
}

// NetTraceIntegrator returns a SweepListener that records every sweep in a
// net/trace event log, browsable under /debug/events.
func NetTraceIntegrator(family, title string) (SweepListener, func()) {
	return LogTo(trace.NewEventLog(family, title))
}

// LogTo returns a SweepListener writing to el and a function finishing el.
// Sweeps that evicted nothing are skipped.
func LogTo(el EventLog) (SweepListener, func()) {
	listener := func(e SweepEvent) {
		if e.Evicted == 0 && !e.Final {
			return
		}
		if e.Final {
			el.Printf("final drain: evicted %d spans in %v", e.Evicted, e.Took)
			return
		}
		el.Printf("evicted %d spans in %v, %d live", e.Evicted, e.Took, e.Live)
	}
	return listener, el.Finish
}
