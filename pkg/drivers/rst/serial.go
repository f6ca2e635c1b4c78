package rst

import (
	"fmt"

	"go.bug.st/serial"
)

const baudRate = 115200

// OpenSerial opens the mount serial port at 115200 8N1 with DTR released.
func OpenSerial(portName string) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrTransport, portName, err)
	}

	if err := port.SetDTR(false); err != nil {
		port.Close()
		return nil, fmt.Errorf("%w: disable DTR on %s: %v", ErrTransport, portName, err)
	}

	return port, nil
}
