// Package clock translates between device sample-clock ticks and
// wall-relative (seconds, fractional seconds) pairs at a given sample rate.
//
// A tick is one sample period, so translations are only meaningful at the
// rate the ticks were produced under. Renegotiating the sample rate
// invalidates previously derived Time values; callers must re-derive.
package clock

import "math"

// Time is a wall-relative instant split into whole seconds and a fractional
// remainder in [0, 1).
type Time struct {
	Secs int64
	Frac float64
}

// Seconds returns the instant as a single float64 second count.
func (t Time) Seconds() float64 {
	return float64(t.Secs) + t.Frac
}

// TicksToTime converts an absolute tick count into a Time at the given
// sample rate. Monotonic in ticks for a fixed rate.
func TicksToTime(ticks uint64, rate uint32) Time {
	if rate == 0 {
		return Time{}
	}
	total := float64(ticks) / float64(rate)
	secs := math.Floor(total)
	return Time{Secs: int64(secs), Frac: total - secs}
}

// TimeToTicks converts a Time back into a tick count at the given sample
// rate, rounding to the nearest tick.
func TimeToTicks(t Time, rate uint32) uint64 {
	total := float64(t.Secs)*float64(rate) + t.Frac*float64(rate)
	if total <= 0 {
		return 0
	}
	return uint64(math.Round(total))
}
