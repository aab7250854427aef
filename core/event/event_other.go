//go:build !linux

package event

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Event is a pipe-backed notifier used where eventfd is unavailable.
// The read end is readable while at least one notify byte is queued.
type Event struct {
	r, w int
}

// New creates an unarmed notifier.
func New() (*Event, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, fmt.Errorf("pipe: %w", err)
	}
	for _, fd := range fds {
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fds[0])
			unix.Close(fds[1])
			return nil, fmt.Errorf("pipe nonblock: %w", err)
		}
	}
	return &Event{r: fds[0], w: fds[1]}, nil
}

// Fd returns the pollable descriptor (the read end).
func (e *Event) Fd() int { return e.r }

// Notify arms the descriptor (makes it readable).
func (e *Event) Notify() error {
	_, err := unix.Write(e.w, []byte{1})
	if err == unix.EAGAIN {
		// Pipe full: already armed.
		return nil
	}
	return err
}

// Clear disarms the descriptor.
func (e *Event) Clear() error {
	var buf [64]byte
	for {
		n, err := unix.Read(e.r, buf[:])
		if err == unix.EAGAIN {
			return nil
		}
		if err != nil {
			return err
		}
		if n < len(buf) {
			return nil
		}
	}
}

// Close releases both descriptors.
func (e *Event) Close() error {
	if e.r < 0 {
		return nil
	}
	err := unix.Close(e.r)
	if werr := unix.Close(e.w); err == nil {
		err = werr
	}
	e.r, e.w = -1, -1
	return err
}
