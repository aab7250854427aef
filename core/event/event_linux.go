//go:build linux

package event

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// Event is an eventfd-backed notifier. The descriptor is readable while
// the counter is non-zero; Notify and Clear are edge operations safe to
// call from different goroutines.
type Event struct {
	fd int
}

// New creates an unarmed notifier.
func New() (*Event, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	return &Event{fd: fd}, nil
}

// Fd returns the pollable descriptor.
func (e *Event) Fd() int { return e.fd }

// Notify arms the descriptor (makes it readable).
func (e *Event) Notify() error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(e.fd, buf[:])
	if err == unix.EAGAIN {
		// Counter saturated: already armed.
		return nil
	}
	return err
}

// Clear disarms the descriptor.
func (e *Event) Clear() error {
	var buf [8]byte
	_, err := unix.Read(e.fd, buf[:])
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

// Close releases the descriptor.
func (e *Event) Close() error {
	if e.fd < 0 {
		return nil
	}
	err := unix.Close(e.fd)
	e.fd = -1
	return err
}
