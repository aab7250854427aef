//go:build !linux

package serial

import (
	"fmt"

	"github.com/artpar/conduit/core/channel"
)

func newSerial() channel.Instance { return &serial{} }

func ttyOpen(dev string, baud int64) (int, error) {
	return -1, fmt.Errorf("%w: serial channel is only supported on linux", channel.ErrInvalid)
}

func ttyRead(fd int, buf []byte) (int, error) { return 0, channel.ErrInvalid }

func ttyWrite(fd int, data []byte) error { return channel.ErrInvalid }

func ttyClose(fd int) {}
