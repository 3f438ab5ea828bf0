package zipkintracer

import (
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// StateLogger logs collector errors. A repeated error is logged again only
// once logErrorInterval has passed; a different error is logged right away.
type StateLogger struct {
	logger           Logger
	clock            clock.PassiveClock
	logErrorInterval time.Duration

	mu            sync.Mutex
	lastError     string
	lastErrorTime time.Time
}

// NewStateLogger creates a StateLogger writing to logger.
func NewStateLogger(logger Logger, clk clock.PassiveClock, logErrorInterval time.Duration) *StateLogger {
	return &StateLogger{
		logger:           logger,
		clock:            clk,
		logErrorInterval: logErrorInterval,
	}
}

// LogError logs err together with keyvals unless it repeats the last seen
// error within logErrorInterval. Errors are compared by message.
func (se *StateLogger) LogError(err error, keyvals ...interface{}) {
	se.mu.Lock()
	defer se.mu.Unlock()

	now := se.clock.Now()
	if err.Error() == se.lastError && now.Sub(se.lastErrorTime) < se.logErrorInterval {
		return
	}
	_ = se.logger.Log(append([]interface{}{"err", err.Error()}, keyvals...)...)
	se.lastError = err.Error()
	se.lastErrorTime = now
}

// Fixed tells the StateLogger the failing state recovered. keyvals is
// logged once, and the next error is logged regardless of the interval.
func (se *StateLogger) Fixed(keyvals ...interface{}) {
	se.mu.Lock()
	defer se.mu.Unlock()

	if se.logErrorInterval == 0 || se.lastError == "" {
		return
	}
	_ = se.logger.Log(keyvals...)
	se.lastError = ""
}
