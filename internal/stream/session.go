// Package stream implements the timed sample-streaming session over a radio
// transceiver: multi-channel RX/TX transfers with absolute sample-clock
// timestamps, burst boundaries, and recoverable fault reporting.
//
// A Session is not safe for concurrent calls on the same direction. One RX
// call and one TX call may be in flight at the same time (the directions use
// independent transfer engines), but callers must serialize RX calls among
// themselves and TX calls among themselves, and must quiesce streaming
// before reconfiguring rates or gains.
package stream

import (
	"errors"
	"math"
	"sync/atomic"
	"time"

	"github.com/sdrkit/bladestream/internal/clock"
	"github.com/sdrkit/bladestream/internal/device"
	"github.com/sdrkit/bladestream/internal/iq"
	"github.com/sdrkit/bladestream/internal/logging"
)

const (
	// MaxChannels is the most channels the transceiver carries per direction.
	MaxChannels = 2

	// MaxTransferSamples bounds one transfer: requested samples per channel
	// times channel count must not exceed it. Oversized requests are
	// rejected, not chunked.
	MaxTransferSamples = 240 * 1024

	// DefaultRate is applied to both directions on open.
	DefaultRate = 1_920_000

	// Transfer engine geometry.
	numBuffers     = 256
	numTransfers   = 32
	txFrameSamples = 1024
	rxFrameBase    = 1024

	defaultTimeout = 4000 * time.Millisecond
)

// Capabilities reports the device gain bounds read at open, in dB.
type Capabilities struct {
	MinRxGain int
	MaxRxGain int
	MinTxGain int
	MaxTxGain int
}

// Stats counts recoverable faults seen since open.
type Stats struct {
	Overruns  uint64
	Underruns uint64
	Lates     uint64
}

// Option configures a Session at open time.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithScale overrides the fixed-point full-scale divisor.
func WithScale(scale float32) Option {
	return func(s *Session) {
		if scale > 0 {
			s.scale = scale
		}
	}
}

// WithTimeout overrides the blocking bound on transfers.
func WithTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithCapacity overrides the per-transfer capacity, in interleaved complex
// samples. The scratch pool is sized from it once at open.
func WithCapacity(samples int) Option {
	return func(s *Session) {
		if samples > 0 {
			s.capacity = samples
		}
	}
}

// Session owns an exclusive device handle, the negotiated per-direction
// sample rates, per-channel enable state, and the scratch buffers one
// transfer flows through.
type Session struct {
	dev      device.Device
	log      logging.Logger
	reporter *Reporter

	channels int
	layout   iq.Layout
	scale    float32
	capacity int
	timeout  time.Duration

	rxRate uint32
	txRate uint32
	caps   Capabilities

	rxEnabled [MaxChannels]bool
	txEnabled [MaxChannels]bool

	rxWire    []int16
	txWire    []int16
	rxScratch []complex64
	txScratch []complex64

	overruns  atomic.Uint64
	underruns atomic.Uint64
	lates     atomic.Uint64
}

// Open acquires a device through open, forces manual gain at range maximum
// on every RX channel, reads gain bounds for capability reporting, and
// applies the default sample rate to both directions. On any failure the
// partially configured handle is released before the error is returned.
func Open(open device.Opener, args string, channels int, opts ...Option) (*Session, error) {
	if channels < 1 || channels > MaxChannels {
		return nil, configErrorf("channel count %d out of range [1, %d]", channels, MaxChannels)
	}
	layout, err := iq.LayoutFor(channels)
	if err != nil {
		return nil, configErrorf("%v", err)
	}

	dev, err := open(args)
	if err != nil {
		return nil, deviceErrorf(err, "open device %q", args)
	}

	s := &Session{
		dev:      dev,
		log:      logging.Discard(),
		channels: channels,
		layout:   layout,
		scale:    iq.FullScale,
		capacity: MaxTransferSamples,
		timeout:  defaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.reporter = newReporter(s.log)

	var rxRange, txRange device.GainRange
	for ch := 0; ch < channels; ch++ {
		rx := device.Rx(ch)
		if err := dev.SetGainMode(rx, device.GainManual); err != nil {
			return nil, s.abortOpen(err, "set gain mode on %s", rx)
		}
		rxRange, err = dev.GainRange(rx)
		if err != nil {
			return nil, s.abortOpen(err, "read gain range on %s", rx)
		}
		if err := dev.SetGain(rx, rxRange.Max); err != nil {
			return nil, s.abortOpen(err, "set gain on %s", rx)
		}
	}
	for ch := 0; ch < channels; ch++ {
		tx := device.Tx(ch)
		txRange, err = dev.GainRange(tx)
		if err != nil {
			return nil, s.abortOpen(err, "read gain range on %s", tx)
		}
	}
	s.caps = Capabilities{
		MinRxGain: rxRange.Min,
		MaxRxGain: rxRange.Max,
		MinTxGain: txRange.Min,
		MaxTxGain: txRange.Max,
	}

	if _, err := s.setRate(device.TX, DefaultRate); err != nil {
		return nil, s.abortOpen(err, "apply default TX rate")
	}
	if _, err := s.setRate(device.RX, DefaultRate); err != nil {
		return nil, s.abortOpen(err, "apply default RX rate")
	}

	s.rxWire = make([]int16, 2*s.capacity)
	s.txWire = make([]int16, 2*s.capacity)
	s.rxScratch = make([]complex64, s.capacity)
	s.txScratch = make([]complex64, s.capacity)

	s.log.Info("device opened",
		logging.F("backend", dev.Name()),
		logging.F("channels", channels),
		logging.F("layout", layout))
	return s, nil
}

func (s *Session) abortOpen(err error, format string, args ...any) error {
	if cerr := s.dev.Close(); cerr != nil {
		s.log.Warn("release after failed open", logging.F("err", cerr))
	}
	return deviceErrorf(err, format, args...)
}

// Capabilities returns the gain bounds read at open.
func (s *Session) Capabilities() Capabilities { return s.caps }

// RxRate returns the negotiated receive sample rate.
func (s *Session) RxRate() uint32 { return s.rxRate }

// TxRate returns the negotiated transmit sample rate.
func (s *Session) TxRate() uint32 { return s.txRate }

// Stats returns fault counters accumulated since open.
func (s *Session) Stats() Stats {
	return Stats{
		Overruns:  s.overruns.Load(),
		Underruns: s.underruns.Load(),
		Lates:     s.lates.Load(),
	}
}

// RegisterFaultHandler installs h on this session's fault reporter. The
// slot holds one handler; the last registration wins.
func (s *Session) RegisterFaultHandler(h Handler) {
	s.reporter.Register(h)
}

// SetRxRate applies rate to every RX channel and returns the rate the
// device settled on. The negotiated value is authoritative for capture
// timestamps; Time values derived under the old rate are invalid.
//
// Bandwidth follows the rate: below 2 MHz the filter is set to the rate
// itself, otherwise to 80% of it.
func (s *Session) SetRxRate(rate uint32) (uint32, error) {
	return s.setRate(device.RX, rate)
}

// SetTxRate applies rate to every TX channel and sets the filter bandwidth
// equal to the negotiated rate.
func (s *Session) SetTxRate(rate uint32) (uint32, error) {
	return s.setRate(device.TX, rate)
}

func (s *Session) setRate(dir device.Direction, rate uint32) (uint32, error) {
	var negotiated, bw uint32
	for ch := 0; ch < s.channels; ch++ {
		c := device.Channel{Dir: dir, Index: ch}
		actual, err := s.dev.SetSampleRate(c, rate)
		if err != nil {
			return 0, deviceErrorf(err, "set sample rate %d on %s", rate, c)
		}
		negotiated = actual

		want := actual
		if dir == device.RX && actual >= 2_000_000 {
			want = uint32(float64(actual) * 0.8)
		}
		bw, err = s.dev.SetBandwidth(c, want)
		if err != nil {
			return 0, deviceErrorf(err, "set bandwidth %d on %s", want, c)
		}
	}

	if dir == device.RX {
		s.rxRate = negotiated
	} else {
		s.txRate = negotiated
	}
	s.log.Info("sample rate set",
		logging.F("dir", dir),
		logging.F("rate_hz", negotiated),
		logging.F("bandwidth_hz", bw))
	return negotiated, nil
}

// SetRxGain applies gain to every RX channel.
func (s *Session) SetRxGain(gain int) error { return s.setGainAll(device.RX, gain) }

// SetTxGain applies gain to every TX channel.
func (s *Session) SetTxGain(gain int) error { return s.setGainAll(device.TX, gain) }

func (s *Session) setGainAll(dir device.Direction, gain int) error {
	for ch := 0; ch < s.channels; ch++ {
		c := device.Channel{Dir: dir, Index: ch}
		if err := s.dev.SetGain(c, gain); err != nil {
			return deviceErrorf(err, "set gain %d on %s", gain, c)
		}
	}
	return nil
}

// SetRxGainChannel applies gain to a single RX channel.
func (s *Session) SetRxGainChannel(ch, gain int) error {
	return s.setGainChannel(device.Rx(ch), gain)
}

// SetTxGainChannel applies gain to a single TX channel.
func (s *Session) SetTxGainChannel(ch, gain int) error {
	return s.setGainChannel(device.Tx(ch), gain)
}

func (s *Session) setGainChannel(c device.Channel, gain int) error {
	if c.Index < 0 || c.Index >= s.channels {
		return configErrorf("channel index %d out of range [0, %d)", c.Index, s.channels)
	}
	if err := s.dev.SetGain(c, gain); err != nil {
		return deviceErrorf(err, "set gain %d on %s", gain, c)
	}
	return nil
}

// RxGain reads the gain of RX channel 0.
func (s *Session) RxGain() (int, error) {
	gain, err := s.dev.Gain(device.Rx(0))
	if err != nil {
		return 0, deviceErrorf(err, "read gain on %s", device.Rx(0))
	}
	return gain, nil
}

// TxGain reads the gain of TX channel 0.
func (s *Session) TxGain() (int, error) {
	gain, err := s.dev.Gain(device.Tx(0))
	if err != nil {
		return 0, deviceErrorf(err, "read gain on %s", device.Tx(0))
	}
	return gain, nil
}

// SetRxFrequency tunes an RX channel to freq Hz (rounded to the nearest Hz)
// and returns the frequency the device reports after tuning.
func (s *Session) SetRxFrequency(ch int, freq float64) (uint64, error) {
	return s.setFrequency(device.Rx(ch), freq)
}

// SetTxFrequency tunes a TX channel to freq Hz (rounded to the nearest Hz)
// and returns the frequency the device reports after tuning.
func (s *Session) SetTxFrequency(ch int, freq float64) (uint64, error) {
	return s.setFrequency(device.Tx(ch), freq)
}

func (s *Session) setFrequency(c device.Channel, freq float64) (uint64, error) {
	if c.Index < 0 || c.Index >= s.channels {
		return 0, configErrorf("channel index %d out of range [0, %d)", c.Index, s.channels)
	}
	hz := uint64(math.Round(freq))
	if err := s.dev.SetFrequency(c, hz); err != nil {
		return 0, deviceErrorf(err, "set frequency %d on %s", hz, c)
	}
	tuned, err := s.dev.Frequency(c)
	if err != nil {
		return 0, deviceErrorf(err, "read frequency on %s", c)
	}
	s.log.Info("frequency set", logging.F("channel", c), logging.F("hz", tuned))
	return tuned, nil
}

// DeviceTime reads the RX sample counter and translates it at the current
// RX rate.
func (s *Session) DeviceTime() (clock.Time, error) {
	ticks, err := s.dev.Timestamp(device.RX)
	if err != nil {
		return clock.Time{}, deviceErrorf(err, "read RX timestamp")
	}
	return clock.TicksToTime(ticks, s.rxRate), nil
}

func (s *Session) syncConfig(frame int) device.SyncConfig {
	return device.SyncConfig{
		Layout:       s.layout,
		NumBuffers:   numBuffers,
		BufferSize:   frame,
		NumTransfers: numTransfers,
		Timeout:      s.timeout,
	}
}

// rxFrame sizes the RX engine's transfer frames from the negotiated rate.
func (s *Session) rxFrame() int {
	frame := rxFrameBase * int(s.rxRate/1000/1024)
	if frame < rxFrameBase {
		frame = rxFrameBase
	}
	return frame
}

// StartReceive configures the RX transfer engine and enables every RX
// channel in index order. The hardware cannot run RX without the TX engine
// armed, so this also configures TX and enables the TX channels first; that
// coupling is deliberate, not a side effect to optimize away. On a
// mid-sequence enable failure the first error is returned and channels
// enabled before it stay enabled; callers recover with Stop.
func (s *Session) StartReceive() error {
	if err := s.dev.ConfigureSync(device.RX, s.syncConfig(s.rxFrame())); err != nil {
		return deviceErrorf(err, "configure RX transfer engine")
	}
	if err := s.dev.ConfigureSync(device.TX, s.syncConfig(txFrameSamples)); err != nil {
		return deviceErrorf(err, "configure TX transfer engine")
	}
	if err := s.enableAll(device.TX); err != nil {
		return err
	}
	return s.enableAll(device.RX)
}

// StartTransmit configures the TX transfer engine and enables every TX
// channel in index order. Independent of receive state.
func (s *Session) StartTransmit() error {
	if err := s.dev.ConfigureSync(device.TX, s.syncConfig(txFrameSamples)); err != nil {
		return deviceErrorf(err, "configure TX transfer engine")
	}
	return s.enableAll(device.TX)
}

func (s *Session) enableAll(dir device.Direction) error {
	for ch := 0; ch < s.channels; ch++ {
		c := device.Channel{Dir: dir, Index: ch}
		if err := s.dev.EnableChannel(c, true); err != nil {
			return deviceErrorf(err, "enable %s", c)
		}
		s.setEnabled(c, true)
	}
	return nil
}

// Stop disables every enabled RX channel, then every enabled TX channel, in
// index order. The first failure aborts and is returned; channels disabled
// before it stay disabled.
func (s *Session) Stop() error {
	if err := s.disableAll(device.RX); err != nil {
		return err
	}
	return s.disableAll(device.TX)
}

func (s *Session) disableAll(dir device.Direction) error {
	for ch := 0; ch < s.channels; ch++ {
		c := device.Channel{Dir: dir, Index: ch}
		if !s.enabledFlag(c) {
			continue
		}
		if err := s.dev.EnableChannel(c, false); err != nil {
			return deviceErrorf(err, "disable %s", c)
		}
		s.setEnabled(c, false)
	}
	return nil
}

func (s *Session) setEnabled(c device.Channel, on bool) {
	if c.Dir == device.RX {
		s.rxEnabled[c.Index] = on
	} else {
		s.txEnabled[c.Index] = on
	}
}

func (s *Session) enabledFlag(c device.Channel) bool {
	if c.Dir == device.RX {
		return s.rxEnabled[c.Index]
	}
	return s.txEnabled[c.Index]
}

func (s *Session) checkTransfer(bufs [][]complex64, count int) error {
	if count <= 0 {
		return configErrorf("sample count %d must be positive", count)
	}
	if count*s.channels > s.capacity {
		return configErrorf("transfer of %d samples x %d channels exceeds buffer capacity %d",
			count, s.channels, s.capacity)
	}
	if len(bufs) < s.channels {
		return configErrorf("need %d channel buffers, got %d", s.channels, len(bufs))
	}
	for ch := 0; ch < s.channels; ch++ {
		if len(bufs[ch]) < count {
			return configErrorf("channel %d buffer holds %d samples, need %d", ch, len(bufs[ch]), count)
		}
	}
	return nil
}

// Receive blocks for up to the session timeout on one capture of count
// samples per channel, deinterleaved into bufs. The returned Time is the
// capture instant of the first sample, derived at the current RX rate.
//
// An overrun does not fail the call: it is diverted to the fault reporter
// as an Overflow carrying the valid-sample count, and the (possibly short)
// capture is still returned. Any other transfer failure returns a
// DeviceError and no samples.
//
// The blocking hint is accepted for interface symmetry but transfers always
// block up to the timeout; there is no non-blocking mode.
func (s *Session) Receive(bufs [][]complex64, count int, _ bool) (int, clock.Time, error) {
	if err := s.checkTransfer(bufs, count); err != nil {
		return 0, clock.Time{}, err
	}
	for ch := 0; ch < s.channels; ch++ {
		if !s.rxEnabled[ch] {
			return 0, clock.Time{}, configErrorf("receive on disabled channel %s", device.Rx(ch))
		}
	}

	total := count * s.channels
	meta := device.Metadata{Flags: device.FlagRxNow}
	if err := s.dev.SyncRx(s.rxWire[:2*total], total, &meta, s.timeout); err != nil {
		return 0, clock.Time{}, deviceErrorf(err, "RX transfer of %d samples", count)
	}
	valid := count
	if meta.Status&device.StatusOverrun != 0 {
		s.overruns.Add(1)
		s.reporter.report(Fault{Type: Overflow, Count: meta.ActualCount})
		if int(meta.ActualCount) < valid {
			valid = int(meta.ActualCount)
		}
	}

	captured := clock.TicksToTime(meta.Timestamp, s.rxRate)

	if err := iq.ToComplex(s.rxWire[:2*total], s.scale, s.rxScratch[:total]); err != nil {
		return 0, clock.Time{}, configErrorf("%v", err)
	}
	if err := iq.Deinterleave(s.layout, s.rxScratch[:total], count, bufs); err != nil {
		return 0, clock.Time{}, configErrorf("%v", err)
	}
	return valid, captured, nil
}

// Send blocks for up to the session timeout while one transfer of count
// samples per channel is handed to the TX engine. If transmit streaming was
// never started, it is started implicitly first.
//
// Burst semantics: with burstStart and a non-nil at, the transfer is
// scheduled at that absolute time (translated to ticks at the current TX
// rate); with burstStart and nil at, it transmits immediately; burstEnd
// terminates the burst.
//
// A command arriving after its scheduled time is recoverable: it is
// diverted to the fault reporter as Late and the call reports the full
// count as accepted. An underrun is likewise diverted as Underflow. Any
// other transfer failure returns a DeviceError.
func (s *Session) Send(bufs [][]complex64, count int, at *clock.Time, burstStart, burstEnd, _ bool) (int, error) {
	if err := s.checkTransfer(bufs, count); err != nil {
		return 0, err
	}
	for ch := 0; ch < s.channels; ch++ {
		if !s.txEnabled[ch] {
			if err := s.StartTransmit(); err != nil {
				return 0, err
			}
			break
		}
	}

	total := count * s.channels
	if err := iq.Interleave(s.layout, bufs, count, s.txScratch[:total]); err != nil {
		return 0, configErrorf("%v", err)
	}
	if err := iq.ToWire(s.txScratch[:total], s.scale, s.txWire[:2*total]); err != nil {
		return 0, configErrorf("%v", err)
	}

	var meta device.Metadata
	if burstStart {
		if at != nil {
			meta.Timestamp = clock.TimeToTicks(*at, s.txRate)
		} else {
			meta.Flags |= device.FlagTxNow
		}
		meta.Flags |= device.FlagTxBurstStart
	}
	if burstEnd {
		meta.Flags |= device.FlagTxBurstEnd
	}

	err := s.dev.SyncTx(s.txWire[:2*total], total, &meta, s.timeout)
	switch {
	case errors.Is(err, device.ErrTimePast):
		s.lates.Add(1)
		s.reporter.report(Fault{Type: Late})
		return count, nil
	case err != nil:
		return 0, deviceErrorf(err, "TX transfer of %d samples", count)
	}
	if meta.Status&device.StatusUnderrun != 0 {
		s.underruns.Add(1)
		s.reporter.report(Fault{Type: Underflow})
	}
	return count, nil
}

// Close releases the device handle. It disables nothing: callers stop
// streaming with Stop first.
func (s *Session) Close() error {
	if err := s.dev.Close(); err != nil {
		return deviceErrorf(err, "close device")
	}
	s.log.Info("device closed", logging.F("backend", s.dev.Name()))
	return nil
}
