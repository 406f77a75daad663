// Command bladestream exercises the timed IQ streaming stack from the shell:
// capture to WAV, transmit tone bursts, inspect spectra and capabilities.
// It runs against the built-in software transceiver, so no hardware is
// required.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sdrkit/bladestream/internal/device"
	"github.com/sdrkit/bladestream/internal/logging"
	"github.com/sdrkit/bladestream/internal/stream"
)

var rootCmd = &cobra.Command{
	Use:   "bladestream",
	Short: "Timed IQ sample streaming for bladeRF-class transceivers.",
}

var (
	deviceArgs string
	channels   int
	logLevel   string
	logFormat  string
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&deviceArgs, "device", "d", "", "Device argument string")
	pf.IntVarP(&channels, "channels", "c", 1, "Channels per direction (1 or 2)")
	pf.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.StringVar(&logFormat, "log-format", "text", "Log format (text, json)")
}

func newLogger() (logging.Logger, error) {
	level, err := logging.ParseLevel(logLevel)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(logFormat)
	if err != nil {
		return nil, err
	}
	return logging.New(level, format, os.Stderr), nil
}

func openSession() (*stream.Session, error) {
	log, err := newLogger()
	if err != nil {
		return nil, err
	}
	return stream.Open(device.OpenMock, deviceArgs, channels, stream.WithLogger(log))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
