// Package events holds the notifications a span map emits while sweeping.
package events

import "time"

// SweepEvent describes one pass over the span map.
type SweepEvent struct {
	// Evicted is the number of spans handed to the sink.
	Evicted int
	// Live is the number of spans left waiting for their deadline.
	Live int
	// Took is the time spent collecting the expired spans.
	Took time.Duration
	// Final is set for the drain performed on shutdown.
	Final bool
}

// SweepListener receives sweep events. It is called on the sweeping
// goroutine and should return quickly.
type SweepListener func(SweepEvent)
