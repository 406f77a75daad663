package iq

import "fmt"

// Layout identifies the interleaving arrangement of channels on a single
// transfer buffer.
type Layout int

const (
	// LayoutX1 carries one channel; the transfer buffer is that channel's
	// samples verbatim.
	LayoutX1 Layout = iota + 1
	// LayoutX2 carries two channels with samples strictly alternating
	// per complex frame: ch0[0], ch1[0], ch0[1], ch1[1], ...
	LayoutX2
)

// Channels returns the number of channels the layout carries.
func (l Layout) Channels() int {
	if l == LayoutX2 {
		return 2
	}
	return 1
}

func (l Layout) String() string {
	switch l {
	case LayoutX1:
		return "x1"
	case LayoutX2:
		return "x2"
	default:
		return fmt.Sprintf("layout(%d)", int(l))
	}
}

// LayoutFor maps a channel count onto its transfer layout.
func LayoutFor(channels int) (Layout, error) {
	switch channels {
	case 1:
		return LayoutX1, nil
	case 2:
		return LayoutX2, nil
	default:
		return 0, fmt.Errorf("iq: no layout for %d channels", channels)
	}
}

// Deinterleave splits an interleaved transfer buffer into per-channel
// buffers, perChannel complex samples each. out must hold one buffer per
// layout channel; channel 0 fills out[0], channel 1 fills out[1].
func Deinterleave(layout Layout, interleaved []complex64, perChannel int, out [][]complex64) error {
	ch := layout.Channels()
	if err := checkCounts(layout, len(interleaved), perChannel, out); err != nil {
		return err
	}
	if ch == 1 {
		copy(out[0][:perChannel], interleaved)
		return nil
	}
	for i := 0; i < perChannel; i++ {
		out[0][i] = interleaved[2*i]
		out[1][i] = interleaved[2*i+1]
	}
	return nil
}

// Interleave merges per-channel buffers into a single transfer buffer,
// the exact inverse of Deinterleave.
func Interleave(layout Layout, in [][]complex64, perChannel int, dst []complex64) error {
	ch := layout.Channels()
	if err := checkCounts(layout, len(dst), perChannel, in); err != nil {
		return err
	}
	if ch == 1 {
		copy(dst[:perChannel], in[0][:perChannel])
		return nil
	}
	for i := 0; i < perChannel; i++ {
		dst[2*i] = in[0][i]
		dst[2*i+1] = in[1][i]
	}
	return nil
}

func checkCounts(layout Layout, interleavedLen, perChannel int, chans [][]complex64) error {
	ch := layout.Channels()
	if interleavedLen < ch*perChannel {
		return fmt.Errorf("iq: interleaved buffer holds %d samples, layout %s needs %d",
			interleavedLen, layout, ch*perChannel)
	}
	if len(chans) < ch {
		return fmt.Errorf("iq: layout %s needs %d channel buffers, got %d", layout, ch, len(chans))
	}
	for c := 0; c < ch; c++ {
		if len(chans[c]) < perChannel {
			return fmt.Errorf("iq: channel %d buffer holds %d samples, need %d", c, len(chans[c]), perChannel)
		}
	}
	return nil
}
