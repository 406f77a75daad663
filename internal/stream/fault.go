package stream

import (
	"sync"

	"github.com/sdrkit/bladestream/internal/logging"
)

// FaultType tags a recoverable stream fault.
type FaultType int

const (
	// Overflow: the receiver produced more samples than the consumer
	// drained in time; some samples were lost.
	Overflow FaultType = iota
	// Underflow: the transmitter ran out of samples mid-burst.
	Underflow
	// Late: a scheduled transmit time had already passed when the
	// command reached the device.
	Late
)

func (t FaultType) String() string {
	switch t {
	case Overflow:
		return "overflow"
	case Underflow:
		return "underflow"
	case Late:
		return "late"
	default:
		return "unknown"
	}
}

// Fault is one recoverable streaming fault. Faults are ephemeral: delivered
// once per occurrence, never persisted, and never fail the transfer that
// raised them.
type Fault struct {
	Type FaultType
	// Count carries the valid-sample count at an overrun; zero otherwise.
	Count uint32
}

// Handler receives faults synchronously on the transfer goroutine. Handlers
// must return quickly; a slow handler stalls the RX or TX cadence. Callers
// needing extra state close over it.
type Handler func(Fault)

// Reporter delivers faults to the registered handler, or logs them
// best-effort when none is registered. Each Session owns one Reporter, so
// concurrent sessions never share fault state.
type Reporter struct {
	mu      sync.Mutex
	handler Handler
	log     logging.Logger
}

func newReporter(log logging.Logger) *Reporter {
	return &Reporter{log: log}
}

// Register installs h as the fault handler. The slot holds one handler;
// the last registration wins. A nil h reverts to logging.
func (r *Reporter) Register(h Handler) {
	r.mu.Lock()
	r.handler = h
	r.mu.Unlock()
}

func (r *Reporter) report(f Fault) {
	r.mu.Lock()
	h := r.handler
	r.mu.Unlock()
	if h != nil {
		h(f)
		return
	}
	switch f.Type {
	case Overflow:
		r.log.Warn("overrun detected in scheduled RX", logging.F("valid_samples", f.Count))
	case Underflow:
		r.log.Warn("underflow detected in TX stream")
	case Late:
		r.log.Warn("TX command arrived after its scheduled time")
	}
}
