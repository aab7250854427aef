//go:build !linux

package loop

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// pollPoller is the poll(2) fallback for platforms without epoll.
type pollPoller struct {
	fds  []unix.PollFd
	next int // round-robin start so one busy fd cannot starve the rest
}

func newPoller() (poller, error) {
	return &pollPoller{}, nil
}

func pollEvents(in, out bool) int16 {
	var ev int16
	if in {
		ev |= unix.POLLIN
	}
	if out {
		ev |= unix.POLLOUT
	}
	return ev
}

func (p *pollPoller) add(fd int, in, out bool) error {
	for _, pf := range p.fds {
		if pf.Fd == int32(fd) {
			return fmt.Errorf("poll add: fd %d already registered", fd)
		}
	}
	p.fds = append(p.fds, unix.PollFd{Fd: int32(fd), Events: pollEvents(in, out)})
	return nil
}

func (p *pollPoller) mod(fd int, in, out bool) error {
	for i := range p.fds {
		if p.fds[i].Fd == int32(fd) {
			p.fds[i].Events = pollEvents(in, out)
			return nil
		}
	}
	return fmt.Errorf("poll mod: fd %d not registered", fd)
}

func (p *pollPoller) del(fd int) error {
	for i := range p.fds {
		if p.fds[i].Fd == int32(fd) {
			p.fds = append(p.fds[:i], p.fds[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("poll del: fd %d not registered", fd)
}

func (p *pollPoller) wait(timeout time.Duration) (int, error) {
	for {
		n, err := unix.Poll(p.fds, int(timeout.Milliseconds()))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return -1, fmt.Errorf("poll: %w", err)
		}
		if n == 0 {
			return -1, nil
		}
		for i := range p.fds {
			j := (p.next + i) % len(p.fds)
			if p.fds[j].Revents != 0 {
				p.next = j + 1
				return int(p.fds[j].Fd), nil
			}
		}
		return -1, nil
	}
}

func (p *pollPoller) close() error {
	p.fds = nil
	return nil
}
