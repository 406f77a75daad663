package main

import (
	"fmt"
	"math"

	"github.com/spf13/cobra"

	"github.com/sdrkit/bladestream/internal/clock"
	"github.com/sdrkit/bladestream/internal/stream"
)

var (
	txFreq    float64
	txRate    uint32
	txTone    float64
	txSamples int
	txGain    int
	txDelay   float64
)

func init() {
	txCmd := &cobra.Command{
		Use:   "tx",
		Short: "Transmit a tone burst",
		RunE:  func(cmd *cobra.Command, args []string) error { return transmit() },
	}
	txCmd.Flags().Float64VarP(&txFreq, "frequency", "f", 915e6, "Center frequency in Hz")
	txCmd.Flags().Uint32VarP(&txRate, "rate", "r", 1_920_000, "Sample rate in Hz")
	txCmd.Flags().Float64VarP(&txTone, "tone", "t", 100e3, "Tone offset from center in Hz")
	txCmd.Flags().IntVarP(&txSamples, "samples", "n", 19200, "Burst length in samples per channel")
	txCmd.Flags().IntVarP(&txGain, "gain", "g", 20, "TX gain in dB")
	txCmd.Flags().Float64Var(&txDelay, "delay", 0, "Schedule the burst this many seconds into the future (0 = now)")
	rootCmd.AddCommand(txCmd)
}

func transmit() error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	if _, err := s.SetTxFrequency(0, txFreq); err != nil {
		return err
	}
	rate, err := s.SetTxRate(txRate)
	if err != nil {
		return err
	}
	if err := s.SetTxGain(txGain); err != nil {
		return err
	}

	s.RegisterFaultHandler(func(f stream.Fault) {
		fmt.Printf("fault: %s\n", f.Type)
	})

	bufs := make([][]complex64, channels)
	step := 2 * math.Pi * txTone / float64(rate)
	for ch := range bufs {
		bufs[ch] = make([]complex64, txSamples)
		for i := range bufs[ch] {
			phase := step * float64(i)
			bufs[ch][i] = complex(float32(math.Cos(phase)), float32(math.Sin(phase)))
		}
	}

	var at *clock.Time
	if txDelay > 0 {
		now, err := s.DeviceTime()
		if err != nil {
			return err
		}
		t := clock.Time{Secs: now.Secs, Frac: now.Frac + txDelay}
		for t.Frac >= 1 {
			t.Secs++
			t.Frac--
		}
		at = &t
	}

	n, err := s.Send(bufs, txSamples, at, true, true, true)
	if err != nil {
		return err
	}
	if err := s.Stop(); err != nil {
		return err
	}

	fmt.Printf("sent %d samples at %d Hz\n", n, rate)
	return nil
}
