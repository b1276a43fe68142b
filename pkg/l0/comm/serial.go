package comm

import (
	"time"

	"github.com/golang/glog"
	"github.com/tarm/serial"
)

// SerialConfig configures the serial device.
type SerialConfig struct {
	Device string
	Baud   int
	// ReadTimeout is the inter-byte gap after which a Read returns.
	ReadTimeout time.Duration
}

// DefaultSerialConfig is the UART wiring of the oven: 9600 8N1.
func DefaultSerialConfig() SerialConfig {
	return SerialConfig{
		Device:      "/dev/serial0",
		Baud:        9600,
		ReadTimeout: 100 * time.Millisecond,
	}
}

// OpenSerial opens the serial device and wraps it in a StreamPort.
func OpenSerial(cfg SerialConfig) (*StreamPort, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		Size:        serial.DefaultSize,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, &TransportError{Op: "open " + cfg.Device, Err: err}
	}
	// drop whatever the node sent before we were listening.
	if err := port.Flush(); err != nil {
		glog.Warningf("flush %s: %v", cfg.Device, err)
	}
	glog.Infof("serial %s opened at %d baud", cfg.Device, cfg.Baud)
	return NewStreamPort(port), nil
}
