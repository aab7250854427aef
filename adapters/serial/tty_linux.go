//go:build linux

package serial

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/artpar/conduit/core/channel"
)

func newSerial() channel.Instance { return &serial{} }

var baudRates = map[int64]uint32{
	1200:    unix.B1200,
	2400:    unix.B2400,
	4800:    unix.B4800,
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	921600:  unix.B921600,
	1000000: unix.B1000000,
}

func ttyOpen(dev string, baud int64) (int, error) {
	speed, ok := baudRates[baud]
	if !ok {
		return -1, fmt.Errorf("%w: unsupported baud rate %d", channel.ErrInvalid, baud)
	}
	fd, err := unix.Open(dev, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("open %s: %w", dev, err)
	}
	tio, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("tcgetattr %s: %w", dev, err)
	}

	// Raw 8N1: no line discipline processing on either direction.
	tio.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	tio.Oflag &^= unix.OPOST
	tio.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	tio.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB | unix.CBAUD
	tio.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL | speed
	tio.Ispeed = speed
	tio.Ospeed = speed
	tio.Cc[unix.VMIN] = 0
	tio.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, tio); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("tcsetattr %s: %w", dev, err)
	}
	return fd, nil
}

func ttyRead(fd int, buf []byte) (int, error) {
	n, err := unix.Read(fd, buf)
	if err == unix.EAGAIN {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("serial read: %w", err)
	}
	return n, nil
}

func ttyWrite(fd int, data []byte) error {
	for len(data) > 0 {
		n, err := unix.Write(fd, data)
		if err == unix.EAGAIN {
			return channel.ErrAgain
		}
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("serial write: %w", err)
		}
		data = data[n:]
	}
	return nil
}

func ttyClose(fd int) { unix.Close(fd) }
