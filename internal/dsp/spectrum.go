// Package dsp holds the small amount of signal analysis the capture tools
// need: windowing and power-spectrum estimation of IQ blocks.
package dsp

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Hamming returns a Hamming window of length n.
func Hamming(n int) []float64 {
	if n <= 0 {
		return []float64{}
	}
	win := make([]float64, n)
	for i := 0; i < n; i++ {
		win[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return win
}

func applyWindow(samples []complex64, win []float64) []complex128 {
	out := make([]complex128, len(samples))
	for i, v := range samples {
		out[i] = complex(float64(real(v))*win[i], float64(imag(v))*win[i])
	}
	return out
}

// FFTShift reorders FFT output so that DC sits in the middle.
func FFTShift(data []complex128) []complex128 {
	n := len(data)
	if n == 0 {
		return []complex128{}
	}
	half := n / 2
	shifted := make([]complex128, 0, n)
	shifted = append(shifted, data[half:]...)
	shifted = append(shifted, data[:half]...)
	return shifted
}

// PowerSpectrum returns the dBFS magnitude per bin of one IQ block,
// Hamming-windowed, window-gain normalized, DC-centered. Host samples are
// already normalized to full scale 1.0, so 0 dBFS is a full-scale tone.
func PowerSpectrum(samples []complex64) []float64 {
	if len(samples) == 0 {
		return []float64{}
	}
	win := Hamming(len(samples))
	windowed := applyWindow(samples, win)
	coeffs := fourier.NewCmplxFFT(len(samples)).Coefficients(nil, windowed)

	sumWin := 0.0
	for _, v := range win {
		sumWin += v
	}
	for i := range coeffs {
		coeffs[i] /= complex(sumWin, 0)
	}

	shifted := FFTShift(coeffs)
	dbfs := make([]float64, len(shifted))
	for i, v := range shifted {
		mag := cmplx.Abs(v)
		if mag == 0 {
			dbfs[i] = math.Inf(-1)
			continue
		}
		dbfs[i] = 20 * math.Log10(mag)
	}
	return dbfs
}

// Peak returns the strongest bin of a spectrum and its level.
func Peak(spectrum []float64) (bin int, level float64) {
	level = math.Inf(-1)
	for i, v := range spectrum {
		if v > level {
			bin, level = i, v
		}
	}
	return bin, level
}

// BinFrequency maps a DC-centered bin index onto its offset from the center
// frequency, in Hz.
func BinFrequency(bin, n int, rate uint32) float64 {
	if n == 0 {
		return 0
	}
	return (float64(bin) - float64(n/2)) * float64(rate) / float64(n)
}
