// Package transport opens the physical link to a module chain.
package transport

import (
	"errors"
	"io"
	"runtime"
	"time"

	"github.com/tarm/serial"
)

// Open connects to the module chain's UART bridge. If dev is empty, a
// platform-appropriate default device path is tried.
func Open(dev string) (io.ReadWriteCloser, error) {
	const (
		baudRate = 612500 // module controller's fixed UART rate
	)

	var devices []string
	if dev != "" {
		devices = append(devices, dev)
	} else {
		switch runtime.GOOS {
		case "windows":
			devices = append(devices, "COM3")
		case "linux":
			devices = append(devices, "/dev/ttyUSB0", "/dev/ttyAMA0")
		default:
			devices = append(devices, "/dev/tty.usbserial")
		}
	}

	var firstErr error
	for _, d := range devices {
		c := &serial.Config{Name: d, Baud: baudRate, ReadTimeout: 50 * time.Millisecond}
		port, err := serial.OpenPort(c)
		if err == nil {
			return port, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil {
		firstErr = errors.New("no candidate serial device found")
	}
	return nil, firstErr
}
