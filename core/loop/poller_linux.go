//go:build linux

package loop

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// epollPoller is the linux readiness backend.
type epollPoller struct {
	fd int
}

func newPoller() (poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create: %w", err)
	}
	return &epollPoller{fd: fd}, nil
}

func events(in, out bool) uint32 {
	var ev uint32
	if in {
		ev |= unix.EPOLLIN
	}
	if out {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (p *epollPoller) add(fd int, in, out bool) error {
	ev := unix.EpollEvent{Events: events(in, out), Fd: int32(fd)}
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (p *epollPoller) mod(fd int, in, out bool) error {
	ev := unix.EpollEvent{Events: events(in, out), Fd: int32(fd)}
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (p *epollPoller) del(fd int) error {
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) wait(timeout time.Duration) (int, error) {
	var evs [1]unix.EpollEvent
	for {
		n, err := unix.EpollWait(p.fd, evs[:], int(timeout.Milliseconds()))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return -1, fmt.Errorf("epoll_wait: %w", err)
		}
		if n == 0 {
			return -1, nil
		}
		return int(evs[0].Fd), nil
	}
}

func (p *epollPoller) close() error {
	if p.fd < 0 {
		return nil
	}
	err := unix.Close(p.fd)
	p.fd = -1
	return err
}
