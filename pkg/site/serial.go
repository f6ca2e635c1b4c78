package site

import (
	"fmt"
	"io"

	"go.bug.st/serial"
)

// OpenReceiver opens the serial port of an NMEA receiver.
func OpenReceiver(portName string, baud int) (io.ReadCloser, error) {
	port, err := serial.Open(portName, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("failed to open GPS port %s: %v", portName, err)
	}
	return port, nil
}
