package tcp

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/artpar/conduit/config"
	"github.com/artpar/conduit/core/channel"
	"github.com/artpar/conduit/core/message"
)

var clientImpl = &channel.Impl{
	Protocol:      "tcp",
	OpenPolicy:    channel.OpenManual,
	ProcessPolicy: channel.ProcessNormal,
	ClosePolicy:   channel.CloseNormal,
	New:           func() channel.Instance { return &client{} },
}

type client struct {
	channel.Base
	host string
	f    framer
	rbuf []byte
}

func (c *client) Init(self *channel.Channel, url *config.URL, master *channel.Channel) error {
	c.Attach(self)
	c.host = url.Host()
	if c.host == "" {
		return fmt.Errorf("%w: tcp client needs a host", channel.ErrInvalid)
	}
	c.rbuf = make([]byte, 64<<10)
	return nil
}

func (c *client) Open(props *config.Props) error {
	sa, family, err := resolveAddr(c.host)
	if err != nil {
		return err
	}
	fd, err := newSocket(family)
	if err != nil {
		return err
	}
	c.f.buf = nil
	c.UpdateFd(fd)

	switch err := unix.Connect(fd, sa); err {
	case nil:
		c.onConnect()
		return nil
	case unix.EINPROGRESS:
		// Completion is reported as write readiness.
		c.DCapsPoll(channel.DCapPollOut)
		return nil
	default:
		c.closeFd()
		return fmt.Errorf("connect %s: %w", c.host, err)
	}
}

func (c *client) onConnect() {
	c.Log.Debug().Str("host", c.host).Msg("connected")
	c.DCapsPoll(channel.DCapPollIn)
	c.SetState(channel.Active)
}

func (c *client) closeFd() {
	if fd := c.UpdateFd(-1); fd >= 0 {
		unix.Close(fd)
	}
}

func (c *client) Close(force bool) error {
	c.closeFd()
	return nil
}

func (c *client) Free() { c.closeFd() }

func (c *client) processConnect() error {
	soerr, err := unix.GetsockoptInt(c.Channel.Fd(), unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return fmt.Errorf("getsockopt: %w", err)
	}
	switch unix.Errno(soerr) {
	case 0:
		c.onConnect()
		return nil
	case unix.EINPROGRESS:
		return channel.ErrAgain
	default:
		c.Log.Error().Str("host", c.host).Str("error", unix.Errno(soerr).Error()).Msg("connect failed")
		c.SetState(channel.Error)
		return fmt.Errorf("connect %s: %w", c.host, unix.Errno(soerr))
	}
}

func (c *client) Process() error {
	if c.State() == channel.Opening {
		return c.processConnect()
	}

	if m := c.f.next(); m != nil {
		c.CallbackData(m)
		return nil
	}

	n, err := unix.Read(c.Channel.Fd(), c.rbuf)
	switch {
	case err == unix.EAGAIN:
		return channel.ErrAgain
	case err != nil:
		return fmt.Errorf("read: %w", err)
	case n == 0:
		// Peer closed the stream.
		c.SetState(channel.Closing)
		c.closeFd()
		c.CloseFinish()
		return nil
	}
	c.f.feed(c.rbuf[:n])
	if m := c.f.next(); m != nil {
		c.CallbackData(m)
	}
	return nil
}

func (c *client) Post(m *message.Message) error {
	if c.State() != channel.Active {
		return fmt.Errorf("%w: post in state %s", channel.ErrInvalid, c.State())
	}
	return writeAll(c.Channel.Fd(), encodeFrame(m))
}
