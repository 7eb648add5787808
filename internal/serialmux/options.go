package serialmux

import (
	"fmt"
	"strings"

	"go.bug.st/serial"
)

// DefaultBaudRate is the detector appliance's factory line rate.
const DefaultBaudRate = 115200

// PortOptions describes the serial connection parameters used when opening the
// detector appliance's port. Zero values select the appliance defaults
// (115200 8N1).
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// Normalize validates the options and applies defaults for any unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = DefaultBaudRate
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	parity := strings.TrimSpace(strings.ToUpper(opts.Parity))
	if parity == "" {
		parity = "N"
	}

	switch parity {
	case "N", "NONE":
		parity = "N"
	case "E", "EVEN":
		parity = "E"
	case "O", "ODD":
		parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}

	opts.Parity = parity
	return opts, nil
}

// SerialMode converts the port options into the serial.Mode structure required by
// go.bug.st/serial when opening a port.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: serial.OneStopBit,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}

	switch opts.Parity {
	case "N":
		mode.Parity = serial.NoParity
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	default:
		return nil, fmt.Errorf("unsupported parity %q", opts.Parity)
	}

	return mode, nil
}

// ParsePortOptions parses a compact "baud[,DPS]" spec such as "115200" or
// "9600,7E2" as accepted on the command line. An empty spec yields the
// defaults.
func ParsePortOptions(spec string) (PortOptions, error) {
	var opts PortOptions
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return opts.Normalize()
	}

	baud, frame, hasFrame := strings.Cut(spec, ",")
	if _, err := fmt.Sscanf(baud, "%d", &opts.BaudRate); err != nil || opts.BaudRate <= 0 {
		return opts, fmt.Errorf("invalid baud rate %q", baud)
	}
	if hasFrame {
		frame = strings.ToUpper(strings.TrimSpace(frame))
		if len(frame) != 3 {
			return opts, fmt.Errorf("invalid frame format %q: expected e.g. 8N1", frame)
		}
		opts.DataBits = int(frame[0] - '0')
		opts.Parity = string(frame[1])
		opts.StopBits = int(frame[2] - '0')
	}
	return opts.Normalize()
}
