// Package iq converts between the transceiver's fixed-point wire format and
// complex host samples, and rearranges interleaved multi-channel streams.
// Everything here is pure data movement; nothing touches the device.
package iq

import (
	"fmt"
	"math"
)

// FullScale is the default fixed-point full-scale divisor for the
// 12-bit-aligned signed wire format (2^11).
const FullScale = 2048

// ToComplex converts interleaved fixed-point wire samples into complex host
// samples normalized by scale. Every complex sample consumes one I and one Q
// wire value, so len(wire) must be exactly 2*len(dst).
func ToComplex(wire []int16, scale float32, dst []complex64) error {
	if len(wire) != 2*len(dst) {
		return fmt.Errorf("iq: wire/host length mismatch (%d != 2*%d)", len(wire), len(dst))
	}
	inv := 1 / scale
	for n := range dst {
		dst[n] = complex(float32(wire[2*n])*inv, float32(wire[2*n+1])*inv)
	}
	return nil
}

// ToWire converts complex host samples into interleaved fixed-point wire
// samples scaled by scale. Values beyond full scale saturate at the int16
// bounds instead of wrapping, so a hot sample never corrupts its neighbours.
// len(dst) must be exactly 2*len(src).
func ToWire(src []complex64, scale float32, dst []int16) error {
	if len(dst) != 2*len(src) {
		return fmt.Errorf("iq: host/wire length mismatch (2*%d != %d)", len(src), len(dst))
	}
	for n, s := range src {
		dst[2*n] = quantize(real(s), scale)
		dst[2*n+1] = quantize(imag(s), scale)
	}
	return nil
}

func quantize(v, scale float32) int16 {
	f := math.Round(float64(v) * float64(scale))
	if f > math.MaxInt16 {
		return math.MaxInt16
	}
	if f < math.MinInt16 {
		return math.MinInt16
	}
	return int16(f)
}
