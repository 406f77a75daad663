package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sdrkit/bladestream/internal/dsp"
)

var (
	spectrumFreq float64
	spectrumRate uint32
	spectrumFFT  int
)

func init() {
	spectrumCmd := &cobra.Command{
		Use:   "spectrum",
		Short: "Capture one block and print the strongest bins",
		RunE:  func(cmd *cobra.Command, args []string) error { return spectrum() },
	}
	spectrumCmd.Flags().Float64VarP(&spectrumFreq, "frequency", "f", 915e6, "Center frequency in Hz")
	spectrumCmd.Flags().Uint32VarP(&spectrumRate, "rate", "r", 1_920_000, "Sample rate in Hz")
	spectrumCmd.Flags().IntVar(&spectrumFFT, "fft", 4096, "FFT size in samples")
	rootCmd.AddCommand(spectrumCmd)
}

func spectrum() error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	if _, err := s.SetRxFrequency(0, spectrumFreq); err != nil {
		return err
	}
	rate, err := s.SetRxRate(spectrumRate)
	if err != nil {
		return err
	}
	if err := s.StartReceive(); err != nil {
		return err
	}
	defer s.Stop()

	bufs := make([][]complex64, channels)
	for ch := range bufs {
		bufs[ch] = make([]complex64, spectrumFFT)
	}
	n, captured, err := s.Receive(bufs, spectrumFFT, true)
	if err != nil {
		return err
	}

	power := dsp.PowerSpectrum(bufs[0][:n])
	bin, level := dsp.Peak(power)
	fmt.Printf("captured %d samples at t=%d.%09d\n", n, captured.Secs, int64(captured.Frac*1e9))
	fmt.Printf("peak %.1f dBFS at %+.1f kHz from center\n",
		level, dsp.BinFrequency(bin, len(power), rate)/1e3)
	return nil
}
