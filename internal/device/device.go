// Package device defines the boundary to the radio transceiver: an opaque
// handle exposing acquire/configure/stream/release primitives. The streaming
// session drives these primitives; everything above this package is
// hardware-agnostic.
package device

import (
	"errors"
	"fmt"
	"time"

	"github.com/sdrkit/bladestream/internal/iq"
)

// Direction selects one of the two independent transfer engines.
type Direction int

const (
	RX Direction = iota
	TX
)

func (d Direction) String() string {
	if d == TX {
		return "tx"
	}
	return "rx"
}

// Channel identifies one stream endpoint on the device.
type Channel struct {
	Dir   Direction
	Index int
}

// Rx returns the receive channel with the given index.
func Rx(index int) Channel { return Channel{Dir: RX, Index: index} }

// Tx returns the transmit channel with the given index.
func Tx(index int) Channel { return Channel{Dir: TX, Index: index} }

func (c Channel) String() string {
	return fmt.Sprintf("%s%d", c.Dir, c.Index)
}

// GainMode selects between device-controlled and caller-controlled gain.
type GainMode int

const (
	GainManual GainMode = iota
	GainAuto
)

// GainRange reports the device's usable gain bounds for a channel, in dB.
type GainRange struct {
	Min int
	Max int
}

// MetaFlag bits request transfer scheduling behavior.
type MetaFlag uint32

const (
	// FlagRxNow starts the capture immediately instead of at Timestamp.
	FlagRxNow MetaFlag = 1 << iota
	// FlagTxNow transmits immediately instead of at Timestamp.
	FlagTxNow
	// FlagTxBurstStart marks the first transfer of a burst.
	FlagTxBurstStart
	// FlagTxBurstEnd marks the last transfer of a burst.
	FlagTxBurstEnd
)

// MetaStatus bits report transfer outcomes that are not hard failures.
type MetaStatus uint32

const (
	// StatusOverrun means the receiver produced samples faster than they
	// were drained; Metadata.ActualCount samples are valid.
	StatusOverrun MetaStatus = 1 << iota
	// StatusUnderrun means the transmitter ran out of samples mid-burst.
	StatusUnderrun
)

// Metadata carries per-transfer timing and status. On RX the device fills
// Timestamp (tick of the first sample), Status, and ActualCount. On TX the
// caller fills Timestamp and Flags; the device fills Status.
type Metadata struct {
	Timestamp   uint64
	Flags       MetaFlag
	Status      MetaStatus
	ActualCount uint32
}

// SyncConfig sizes a direction's transfer engine.
type SyncConfig struct {
	Layout       iq.Layout
	NumBuffers   int
	BufferSize   int
	NumTransfers int
	Timeout      time.Duration
}

// ErrTimePast reports a scheduled TX whose timestamp had already passed
// when the command reached the device.
var ErrTimePast = errors.New("device: scheduled time already in the past")

// ErrTimeout reports a transfer that did not complete within its bound.
var ErrTimeout = errors.New("device: transfer timed out")

// Device is the opaque transceiver handle. Implementations are not safe for
// concurrent use of the same direction; the session layer serializes calls.
type Device interface {
	// Name identifies the backend, e.g. for logs.
	Name() string

	SetGainMode(ch Channel, mode GainMode) error
	GainRange(ch Channel) (GainRange, error)
	SetGain(ch Channel, gain int) error
	Gain(ch Channel) (int, error)

	// SetSampleRate applies the requested rate and returns the rate the
	// hardware actually settled on; the two may differ by quantization.
	SetSampleRate(ch Channel, rate uint32) (uint32, error)
	SetBandwidth(ch Channel, bw uint32) (uint32, error)
	SetFrequency(ch Channel, hz uint64) error
	Frequency(ch Channel) (uint64, error)

	// ConfigureSync prepares one direction's transfer engine. Must be
	// called before channels of that direction are enabled.
	ConfigureSync(dir Direction, cfg SyncConfig) error
	EnableChannel(ch Channel, enable bool) error

	// SyncRx blocks until count interleaved complex samples (2*count wire
	// values) arrive or timeout elapses.
	SyncRx(wire []int16, count int, meta *Metadata, timeout time.Duration) error
	// SyncTx blocks until count interleaved complex samples are accepted
	// or timeout elapses.
	SyncTx(wire []int16, count int, meta *Metadata, timeout time.Duration) error

	// Timestamp reads the direction's free-running sample counter.
	Timestamp(dir Direction) (uint64, error)

	Close() error
}

// Opener acquires an exclusive device handle from an argument string.
type Opener func(args string) (Device, error)
