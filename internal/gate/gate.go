// Package gate tracks in-flight broker submissions so shutdown can drain
// them instead of cutting a submission off between risk approval and the
// broker call.
package gate

import (
	"sync"
	"sync/atomic"
	"time"

	"ordercore/internal/logger"
)

// Token proves a submission slot was admitted. It must be released exactly
// once via End, on every exit path.
type Token struct {
	released atomic.Bool
	gate     *ShutdownGate
}

// ShutdownGate is the process-wide submission gate. Zero value is ready to
// use: not shutting down, nothing in flight.
type ShutdownGate struct {
	down     atomic.Bool
	inFlight atomic.Int64

	mu      sync.Mutex
	drained chan struct{}
}

func New() *ShutdownGate {
	return &ShutdownGate{drained: make(chan struct{})}
}

// RequestShutdown flips the shutdown flag. Idempotent; only the first call
// logs the reason.
func (g *ShutdownGate) RequestShutdown(reason string) {
	if g.down.Swap(true) {
		return
	}
	logger.Warnf("shutdown requested: %s (in-flight submissions: %d)", reason, g.inFlight.Load())
	g.mu.Lock()
	if g.inFlight.Load() == 0 {
		g.closeDrained()
	}
	g.mu.Unlock()
}

// ShuttingDown reports whether the flag has been set.
func (g *ShutdownGate) ShuttingDown() bool {
	return g.down.Load()
}

// Begin admits one submission slot. It returns (nil, false) once shutdown
// has been requested.
func (g *ShutdownGate) Begin() (*Token, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.down.Load() {
		return nil, false
	}
	g.inFlight.Add(1)
	return &Token{gate: g}, true
}

// End releases the slot. Safe to call more than once; only the first call
// decrements.
func (g *ShutdownGate) End(t *Token) {
	if t == nil || t.gate != g {
		return
	}
	if t.released.Swap(true) {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if n := g.inFlight.Add(-1); n == 0 && g.down.Load() {
		g.closeDrained()
	}
}

// InFlight returns the current number of admitted, unreleased submissions.
func (g *ShutdownGate) InFlight() int64 {
	return g.inFlight.Load()
}

// WaitDrain blocks until every admitted submission has ended or the timeout
// elapses. It returns true when the gate fully drained. Callers must have
// requested shutdown first, otherwise new submissions can keep the count
// above zero indefinitely.
func (g *ShutdownGate) WaitDrain(timeout time.Duration) bool {
	g.mu.Lock()
	if g.down.Load() && g.inFlight.Load() == 0 {
		g.closeDrained()
	}
	ch := g.drainedCh()
	g.mu.Unlock()

	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		logger.Warnf("drain timed out after %s with %d submissions in flight", timeout, g.inFlight.Load())
		return false
	}
}

// drainedCh must be called with mu held. It lazily allocates the channel so
// the zero-value gate behaves the same as one from New.
func (g *ShutdownGate) drainedCh() chan struct{} {
	if g.drained == nil {
		g.drained = make(chan struct{})
	}
	return g.drained
}

// closeDrained must be called with mu held.
func (g *ShutdownGate) closeDrained() {
	ch := g.drainedCh()
	select {
	case <-ch:
	default:
		close(ch)
	}
}
