package device

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sdrkit/bladestream/internal/iq"
)

// Mock is a software transceiver. RX synthesizes a complex tone per channel,
// the device clock is a sample counter advanced by each transfer, and faults
// (overrun, underrun, late command) can be scripted per call. It backs both
// the test suites and hardware-free CLI runs.
type Mock struct {
	mu     sync.Mutex
	closed bool

	rateStep uint32
	toneHz   float64

	rates     map[Direction]uint32
	bws       map[Direction]uint32
	freqs     map[Channel]uint64
	gains     map[Channel]int
	gainModes map[Channel]GainMode
	enabled   map[Channel]bool
	syncCfgs  map[Direction]SyncConfig
	ticks     map[Direction]uint64

	enableOps  []EnableOp
	enableErrs map[Channel]error

	rxErr    error
	rxStatus MetaStatus
	rxActual uint32
	rxCalls  int

	txErr      error
	txStatus   MetaStatus
	lastTxMeta Metadata
	txCount    int
}

// EnableOp records one EnableChannel call, in call order.
type EnableOp struct {
	Ch Channel
	On bool
}

// MockRanges are the gain bounds the mock reports.
var mockRanges = map[Direction]GainRange{
	RX: {Min: -15, Max: 60},
	TX: {Min: -24, Max: 66},
}

// NewMock returns a mock with a 100 kHz test tone and exact rate negotiation.
func NewMock() *Mock {
	return &Mock{
		toneHz:     100e3,
		rateStep:   1,
		rates:      make(map[Direction]uint32),
		bws:        make(map[Direction]uint32),
		freqs:      make(map[Channel]uint64),
		gains:      make(map[Channel]int),
		gainModes:  make(map[Channel]GainMode),
		enabled:    make(map[Channel]bool),
		syncCfgs:   make(map[Direction]SyncConfig),
		ticks:      make(map[Direction]uint64),
		enableErrs: make(map[Channel]error),
	}
}

// OpenMock is an Opener for the mock backend; the argument string is ignored.
func OpenMock(string) (Device, error) { return NewMock(), nil }

// SetRateStep makes negotiated sample rates round down to a multiple of
// step, emulating hardware rate quantization.
func (m *Mock) SetRateStep(step uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if step > 0 {
		m.rateStep = step
	}
}

// SetToneOffset moves the synthesized RX tone, in Hz from DC.
func (m *Mock) SetToneOffset(hz float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toneHz = hz
}

// QueueRxError makes the next SyncRx fail with err.
func (m *Mock) QueueRxError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rxErr = err
}

// QueueOverrun makes the next SyncRx report an overrun with actual valid
// samples.
func (m *Mock) QueueOverrun(actual uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rxStatus = StatusOverrun
	m.rxActual = actual
}

// QueueTxError makes the next SyncTx fail with err (use ErrTimePast to
// script a late command).
func (m *Mock) QueueTxError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txErr = err
}

// QueueUnderrun makes the next SyncTx report an underrun.
func (m *Mock) QueueUnderrun() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txStatus = StatusUnderrun
}

// FailEnable makes every EnableChannel call on ch fail with err.
func (m *Mock) FailEnable(ch Channel, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enableErrs[ch] = err
}

// EnableOps returns every EnableChannel call seen so far, in order.
func (m *Mock) EnableOps() []EnableOp {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EnableOp, len(m.enableOps))
	copy(out, m.enableOps)
	return out
}

// LastTxMeta returns the metadata of the most recent SyncTx.
func (m *Mock) LastTxMeta() Metadata {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastTxMeta
}

// RxCalls returns the number of SyncRx calls seen so far.
func (m *Mock) RxCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rxCalls
}

// TxCount returns the number of SyncTx calls seen so far.
func (m *Mock) TxCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.txCount
}

// Enabled reports whether ch is currently enabled.
func (m *Mock) Enabled(ch Channel) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled[ch]
}

func (m *Mock) Name() string { return "mock" }

func (m *Mock) SetGainMode(ch Channel, mode GainMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gainModes[ch] = mode
	return nil
}

func (m *Mock) GainRange(ch Channel) (GainRange, error) {
	return mockRanges[ch.Dir], nil
}

func (m *Mock) SetGain(ch Channel, gain int) error {
	r := mockRanges[ch.Dir]
	if gain < r.Min || gain > r.Max {
		return fmt.Errorf("mock: gain %d outside range [%d, %d] for %s", gain, r.Min, r.Max, ch)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gains[ch] = gain
	return nil
}

func (m *Mock) Gain(ch Channel) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gains[ch], nil
}

func (m *Mock) SetSampleRate(ch Channel, rate uint32) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	actual := rate - rate%m.rateStep
	if actual == 0 {
		actual = m.rateStep
	}
	m.rates[ch.Dir] = actual
	return actual, nil
}

func (m *Mock) SetBandwidth(ch Channel, bw uint32) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bws[ch.Dir] = bw
	return bw, nil
}

// Bandwidth returns the last filter bandwidth applied to dir.
func (m *Mock) Bandwidth(dir Direction) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bws[dir]
}

func (m *Mock) SetFrequency(ch Channel, hz uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.freqs[ch] = hz
	return nil
}

func (m *Mock) Frequency(ch Channel) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.freqs[ch], nil
}

func (m *Mock) ConfigureSync(dir Direction, cfg SyncConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncCfgs[dir] = cfg
	return nil
}

// SyncConfigFor returns the last ConfigureSync call for dir, if any.
func (m *Mock) SyncConfigFor(dir Direction) (SyncConfig, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.syncCfgs[dir]
	return cfg, ok
}

func (m *Mock) EnableChannel(ch Channel, enable bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enableErrs[ch]; err != nil && enable {
		return err
	}
	m.enableOps = append(m.enableOps, EnableOp{Ch: ch, On: enable})
	m.enabled[ch] = enable
	return nil
}

func (m *Mock) SyncRx(wire []int16, count int, meta *Metadata, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rxCalls++
	if m.rxErr != nil {
		err := m.rxErr
		m.rxErr = nil
		return err
	}

	cfg, ok := m.syncCfgs[RX]
	layout := iq.LayoutX1
	if ok {
		layout = cfg.Layout
	}
	channels := layout.Channels()
	if len(wire) < 2*count {
		return fmt.Errorf("mock: wire buffer holds %d values, transfer needs %d", len(wire), 2*count)
	}
	perChannel := count / channels

	rate := m.rates[RX]
	if rate == 0 {
		rate = 1_920_000
	}
	start := m.ticks[RX]
	step := 2 * math.Pi * m.toneHz / float64(rate)
	for i := 0; i < perChannel; i++ {
		phase := step * float64(start+uint64(i))
		re := int16(math.Round(math.Cos(phase) * (iq.FullScale - 1)))
		im := int16(math.Round(math.Sin(phase) * (iq.FullScale - 1)))
		for c := 0; c < channels; c++ {
			frame := channels*i + c
			wire[2*frame] = re
			wire[2*frame+1] = im
		}
	}

	meta.Timestamp = start
	meta.Status = m.rxStatus
	meta.ActualCount = uint32(perChannel)
	if m.rxStatus&StatusOverrun != 0 {
		meta.ActualCount = m.rxActual
	}
	m.rxStatus = 0
	m.rxActual = 0
	m.ticks[RX] = start + uint64(perChannel)
	return nil
}

func (m *Mock) SyncTx(_ []int16, count int, meta *Metadata, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.txCount++
	m.lastTxMeta = *meta
	if m.txErr != nil {
		err := m.txErr
		m.txErr = nil
		return err
	}
	meta.Status = m.txStatus
	m.txStatus = 0
	channels := 1
	if cfg, ok := m.syncCfgs[TX]; ok {
		channels = cfg.Layout.Channels()
	}
	m.ticks[TX] += uint64(count / channels)
	return nil
}

func (m *Mock) Timestamp(dir Direction) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ticks[dir], nil
}

// AdvanceTicks moves a direction's sample counter forward, as if time
// passed without a transfer.
func (m *Mock) AdvanceTicks(dir Direction, n uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticks[dir] += n
}

func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock: already closed")
	}
	m.closed = true
	return nil
}
