package stream

import (
	"errors"
	"math"
	"testing"

	"github.com/sdrkit/bladestream/internal/clock"
	"github.com/sdrkit/bladestream/internal/device"
)

func openTest(t *testing.T, channels int, opts ...Option) (*Session, *device.Mock) {
	t.Helper()
	mock := device.NewMock()
	s, err := Open(func(string) (device.Device, error) { return mock, nil }, "", channels, opts...)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	return s, mock
}

func makeBufs(channels, n int) [][]complex64 {
	bufs := make([][]complex64, channels)
	for ch := range bufs {
		bufs[ch] = make([]complex64, n)
	}
	return bufs
}

func TestOpenAppliesDefaults(t *testing.T) {
	s, mock := openTest(t, 2)

	caps := s.Capabilities()
	want := Capabilities{MinRxGain: -15, MaxRxGain: 60, MinTxGain: -24, MaxTxGain: 66}
	if caps != want {
		t.Fatalf("capabilities mismatch: %+v", caps)
	}
	if s.RxRate() != DefaultRate || s.TxRate() != DefaultRate {
		t.Fatalf("default rates not applied: rx=%d tx=%d", s.RxRate(), s.TxRate())
	}
	for ch := 0; ch < 2; ch++ {
		gain, err := mock.Gain(device.Rx(ch))
		if err != nil {
			t.Fatalf("gain read failed: %v", err)
		}
		if gain != caps.MaxRxGain {
			t.Fatalf("rx%d gain should open at range max %d, got %d", ch, caps.MaxRxGain, gain)
		}
	}
}

func TestOpenRejectsChannelCount(t *testing.T) {
	opened := false
	_, err := Open(func(string) (device.Device, error) {
		opened = true
		return device.NewMock(), nil
	}, "", 3)

	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if opened {
		t.Fatalf("device must not be acquired for an invalid channel count")
	}
}

type gainFailDev struct {
	device.Device
}

func (d *gainFailDev) SetGain(device.Channel, int) error {
	return errors.New("gain dac unreachable")
}

func TestOpenReleasesOnFailure(t *testing.T) {
	mock := device.NewMock()
	_, err := Open(func(string) (device.Device, error) {
		return &gainFailDev{Device: mock}, nil
	}, "", 1)

	var devErr *DeviceError
	if !errors.As(err, &devErr) {
		t.Fatalf("expected DeviceError, got %v", err)
	}
	if cerr := mock.Close(); cerr == nil {
		t.Fatalf("handle should already be released after failed open")
	}
}

func TestReceiveOversizedRejected(t *testing.T) {
	s, mock := openTest(t, 2)
	if err := s.StartReceive(); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	count := MaxTransferSamples/2 + 1
	_, _, err := s.Receive(makeBufs(2, count), count, true)
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if mock.RxCalls() != 0 {
		t.Fatalf("oversized request must not reach the device")
	}
}

func TestReceiveBeforeStartRejected(t *testing.T) {
	s, mock := openTest(t, 1)
	_, _, err := s.Receive(makeBufs(1, 64), 64, true)
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if mock.RxCalls() != 0 {
		t.Fatalf("disabled channel must not be streamed")
	}
}

func TestReceiveOverrunStillReturnsCapture(t *testing.T) {
	s, mock := openTest(t, 1)
	if err := s.StartReceive(); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	var faults []Fault
	s.RegisterFaultHandler(func(f Fault) { faults = append(faults, f) })

	mock.QueueOverrun(500)
	n, _, err := s.Receive(makeBufs(1, 1024), 1024, true)
	if err != nil {
		t.Fatalf("overrun must not fail the call: %v", err)
	}
	if n != 500 {
		t.Fatalf("expected the valid-sample count 500, got %d", n)
	}
	if len(faults) != 1 || faults[0].Type != Overflow || faults[0].Count != 500 {
		t.Fatalf("expected one Overflow(500) event, got %+v", faults)
	}
	if s.Stats().Overruns != 1 {
		t.Fatalf("overrun counter not bumped")
	}
}

func TestReceiveTransferErrorFails(t *testing.T) {
	s, mock := openTest(t, 1)
	if err := s.StartReceive(); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	mock.QueueRxError(device.ErrTimeout)
	n, _, err := s.Receive(makeBufs(1, 64), 64, true)
	var devErr *DeviceError
	if !errors.As(err, &devErr) {
		t.Fatalf("expected DeviceError, got %v", err)
	}
	if !errors.Is(err, device.ErrTimeout) {
		t.Fatalf("cause not preserved: %v", err)
	}
	if n != 0 {
		t.Fatalf("failed transfer must return no samples, got %d", n)
	}
}

func TestReceiveDeliversTone(t *testing.T) {
	s, mock := openTest(t, 2)
	mock.SetToneOffset(0) // DC tone: every sample is full scale on I
	if err := s.StartReceive(); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	bufs := makeBufs(2, 256)
	n, _, err := s.Receive(bufs, 256, true)
	if err != nil {
		t.Fatalf("receive failed: %v", err)
	}
	for ch := 0; ch < 2; ch++ {
		for i := 0; i < n; i++ {
			if math.Abs(float64(real(bufs[ch][i]))-2047.0/2048.0) > 1e-6 {
				t.Fatalf("channel %d sample %d not at full scale: %v", ch, i, bufs[ch][i])
			}
		}
	}
}

func TestStartReceiveArmsTxThenStopOrder(t *testing.T) {
	s, mock := openTest(t, 2)
	if err := s.StartReceive(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	want := []device.EnableOp{
		{Ch: device.Tx(0), On: true},
		{Ch: device.Tx(1), On: true},
		{Ch: device.Rx(0), On: true},
		{Ch: device.Rx(1), On: true},
		{Ch: device.Rx(0), On: false},
		{Ch: device.Rx(1), On: false},
		{Ch: device.Tx(0), On: false},
		{Ch: device.Tx(1), On: false},
	}
	ops := mock.EnableOps()
	if len(ops) != len(want) {
		t.Fatalf("expected %d enable ops, got %d: %+v", len(want), len(ops), ops)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Fatalf("op %d: expected %+v, got %+v", i, want[i], ops[i])
		}
	}
}

func TestStopWithoutStartIsNoop(t *testing.T) {
	s, mock := openTest(t, 2)
	if err := s.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if len(mock.EnableOps()) != 0 {
		t.Fatalf("nothing was enabled, nothing should be disabled")
	}
}

func TestStartReceiveEnableFailureKeepsEarlierChannels(t *testing.T) {
	s, mock := openTest(t, 2)
	boom := errors.New("fpga refused")
	mock.FailEnable(device.Rx(1), boom)

	err := s.StartReceive()
	if !errors.Is(err, boom) {
		t.Fatalf("expected enable failure, got %v", err)
	}
	// No rollback: everything enabled before the failure stays enabled.
	if !mock.Enabled(device.Tx(0)) || !mock.Enabled(device.Tx(1)) || !mock.Enabled(device.Rx(0)) {
		t.Fatalf("channels enabled before the failure must stay enabled")
	}

	// Explicit stop recovers.
	if err := s.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if mock.Enabled(device.Tx(0)) || mock.Enabled(device.Rx(0)) {
		t.Fatalf("stop must disable surviving channels")
	}
}

func TestSendStartsTransmitImplicitly(t *testing.T) {
	s, mock := openTest(t, 1)

	n, err := s.Send(makeBufs(1, 512), 512, nil, true, true, true)
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if n != 512 {
		t.Fatalf("expected 512 samples accepted, got %d", n)
	}
	if !mock.Enabled(device.Tx(0)) {
		t.Fatalf("first send must arm the TX stream")
	}

	meta := mock.LastTxMeta()
	wantFlags := device.FlagTxNow | device.FlagTxBurstStart | device.FlagTxBurstEnd
	if meta.Flags != wantFlags {
		t.Fatalf("expected flags %b, got %b", wantFlags, meta.Flags)
	}
}

func TestSendScheduledBurstTimestamp(t *testing.T) {
	s, mock := openTest(t, 1)
	rate, err := s.SetTxRate(2_000_000)
	if err != nil {
		t.Fatalf("set rate failed: %v", err)
	}

	at := clock.Time{Secs: 1, Frac: 0.5}
	if _, err := s.Send(makeBufs(1, 256), 256, &at, true, false, true); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	meta := mock.LastTxMeta()
	if meta.Flags&device.FlagTxNow != 0 {
		t.Fatalf("scheduled burst must not carry the immediate flag")
	}
	if meta.Flags&device.FlagTxBurstStart == 0 {
		t.Fatalf("burst start flag missing")
	}
	wantTicks := uint64(1.5 * float64(rate))
	if meta.Timestamp != wantTicks {
		t.Fatalf("expected timestamp %d ticks, got %d", wantTicks, meta.Timestamp)
	}
}

func TestSendLateIsRecoverable(t *testing.T) {
	s, mock := openTest(t, 1)

	var faults []Fault
	s.RegisterFaultHandler(func(f Fault) { faults = append(faults, f) })

	mock.QueueTxError(device.ErrTimePast)
	past := clock.Time{Secs: 0, Frac: 0.001}
	n, err := s.Send(makeBufs(1, 256), 256, &past, true, true, true)
	if err != nil {
		t.Fatalf("late command must not fail the call: %v", err)
	}
	if n != 256 {
		t.Fatalf("late send must report the full count, got %d", n)
	}
	if len(faults) != 1 || faults[0].Type != Late {
		t.Fatalf("expected exactly one Late event, got %+v", faults)
	}
	if s.Stats().Lates != 1 {
		t.Fatalf("late counter not bumped")
	}
}

func TestSendUnderrunIsRecoverable(t *testing.T) {
	s, mock := openTest(t, 1)

	var faults []Fault
	s.RegisterFaultHandler(func(f Fault) { faults = append(faults, f) })

	mock.QueueUnderrun()
	n, err := s.Send(makeBufs(1, 128), 128, nil, true, false, true)
	if err != nil {
		t.Fatalf("underrun must not fail the call: %v", err)
	}
	if n != 128 {
		t.Fatalf("expected full count, got %d", n)
	}
	if len(faults) != 1 || faults[0].Type != Underflow {
		t.Fatalf("expected exactly one Underflow event, got %+v", faults)
	}
}

func TestSendTransferErrorFails(t *testing.T) {
	s, mock := openTest(t, 1)
	mock.QueueTxError(device.ErrTimeout)

	n, err := s.Send(makeBufs(1, 128), 128, nil, true, true, true)
	var devErr *DeviceError
	if !errors.As(err, &devErr) {
		t.Fatalf("expected DeviceError, got %v", err)
	}
	if n != 0 {
		t.Fatalf("hard TX failure must not report samples, got %d", n)
	}
}

func TestRateChangeRederivesCaptureTime(t *testing.T) {
	s, mock := openTest(t, 1)
	if _, err := s.SetRxRate(1_000_000); err != nil {
		t.Fatalf("set rate failed: %v", err)
	}
	if err := s.StartReceive(); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	mock.AdvanceTicks(device.RX, 250_000)
	_, captured, err := s.Receive(makeBufs(1, 1000), 1000, true)
	if err != nil {
		t.Fatalf("receive failed: %v", err)
	}
	if captured.Secs != 0 || math.Abs(captured.Frac-0.25) > 1e-9 {
		t.Fatalf("expected capture at 0.25s, got %d.%f", captured.Secs, captured.Frac)
	}

	// Same tick counter, new rate: the time base shifts with the rate.
	if _, err := s.SetRxRate(500_000); err != nil {
		t.Fatalf("set rate failed: %v", err)
	}
	_, captured, err = s.Receive(makeBufs(1, 1000), 1000, true)
	if err != nil {
		t.Fatalf("receive failed: %v", err)
	}
	wantFrac := 251_000.0 / 500_000.0
	if captured.Secs != 0 || math.Abs(captured.Frac-wantFrac) > 1e-9 {
		t.Fatalf("expected capture at %fs under the new rate, got %d.%f", wantFrac, captured.Secs, captured.Frac)
	}
}

func TestBandwidthPolicy(t *testing.T) {
	s, mock := openTest(t, 1)

	// Below 2 MHz the RX filter follows the rate exactly.
	if _, err := s.SetRxRate(1_500_000); err != nil {
		t.Fatalf("set rate failed: %v", err)
	}
	if bw := mock.Bandwidth(device.RX); bw != 1_500_000 {
		t.Fatalf("expected bandwidth 1500000 below the 2 MHz knee, got %d", bw)
	}

	// At or above 2 MHz the RX filter narrows to 80%.
	if _, err := s.SetRxRate(4_000_000); err != nil {
		t.Fatalf("set rate failed: %v", err)
	}
	if bw := mock.Bandwidth(device.RX); bw != 3_200_000 {
		t.Fatalf("expected bandwidth 3200000 above the knee, got %d", bw)
	}

	// TX bandwidth always equals the rate.
	if _, err := s.SetTxRate(4_000_000); err != nil {
		t.Fatalf("set rate failed: %v", err)
	}
	if bw := mock.Bandwidth(device.TX); bw != 4_000_000 {
		t.Fatalf("expected TX bandwidth to track the rate, got %d", bw)
	}
}

func TestDeviceTimeTracksRxClock(t *testing.T) {
	s, mock := openTest(t, 1)
	mock.AdvanceTicks(device.RX, 2_880_000) // 1.5s at the default rate

	tm, err := s.DeviceTime()
	if err != nil {
		t.Fatalf("device time failed: %v", err)
	}
	if tm.Secs != 1 || math.Abs(tm.Frac-0.5) > 1e-9 {
		t.Fatalf("expected 1.5s, got %d.%f", tm.Secs, tm.Frac)
	}
}

func TestCloseReleasesHandle(t *testing.T) {
	s, mock := openTest(t, 1)
	if err := s.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := mock.Close(); err == nil {
		t.Fatalf("handle should already be released")
	}
}
