//go:build linux

package timer

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/artpar/conduit/core/channel"
)

const timerfdSupported = true

func timespec(d time.Duration) unix.Timespec {
	return unix.Timespec{
		Sec:  int64(d / time.Second),
		Nsec: int64(d % time.Second),
	}
}

func timerfdOpen(initial, interval time.Duration) (int, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return -1, fmt.Errorf("timerfd_create: %w", err)
	}
	spec := unix.ItimerSpec{
		Interval: timespec(interval),
		Value:    timespec(initial),
	}
	if err := unix.TimerfdSettime(fd, 0, &spec, nil); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("timerfd_settime: %w", err)
	}
	return fd, nil
}

// timerfdRead returns the number of expirations since the last read.
func timerfdRead(fd int) (uint64, error) {
	var buf [8]byte
	n, err := unix.Read(fd, buf[:])
	if err == unix.EAGAIN {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("timerfd read: %w", err)
	}
	if n != 8 {
		return 0, channel.ErrInvalid
	}
	return uint64(buf[0]) | uint64(buf[1])<<8 | uint64(buf[2])<<16 | uint64(buf[3])<<24 |
		uint64(buf[4])<<32 | uint64(buf[5])<<40 | uint64(buf[6])<<48 | uint64(buf[7])<<56, nil
}

func timerfdClose(fd int) { unix.Close(fd) }
