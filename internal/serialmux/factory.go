package serialmux

import (
	"fmt"

	"go.bug.st/serial"

	"github.com/banshee-data/occupancy.report/internal/monitoring"
)

// NewRealSerialMux creates a SerialMux instance backed by a real serial port at the
// given path using the provided serial options.
func NewRealSerialMux(path string, opts PortOptions) (*SerialMux[serial.Port], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	monitoring.Logf("opened detector feed on %s at %d baud", path, mode.BaudRate)

	return NewSerialMux[serial.Port](port), nil
}
