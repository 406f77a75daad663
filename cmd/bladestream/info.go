package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "info",
		Short: "Show device capabilities and negotiated rates",
		RunE:  func(cmd *cobra.Command, args []string) error { return info() },
	})
}

func info() error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	caps := s.Capabilities()
	fmt.Printf("rx gain range: %d .. %d dB\n", caps.MinRxGain, caps.MaxRxGain)
	fmt.Printf("tx gain range: %d .. %d dB\n", caps.MinTxGain, caps.MaxTxGain)
	fmt.Printf("rx rate: %d Hz\n", s.RxRate())
	fmt.Printf("tx rate: %d Hz\n", s.TxRate())

	t, err := s.DeviceTime()
	if err != nil {
		return err
	}
	fmt.Printf("device time: %d.%09d s\n", t.Secs, int64(t.Frac*1e9))
	return nil
}
