package tcp

import (
	"fmt"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/artpar/conduit/config"
	"github.com/artpar/conduit/core/channel"
	"github.com/artpar/conduit/core/message"
)

var serverImpl = &channel.Impl{
	Protocol:      "tcp",
	OpenPolicy:    channel.OpenAuto,
	ProcessPolicy: channel.ProcessNever,
	ClosePolicy:   channel.CloseNormal,
	New:           func() channel.Instance { return &server{} },
}

// socketImpl runs the internal listening child; connImpl runs one child
// per accepted connection. Both are reachable only through the server.
var socketImpl = &channel.Impl{
	Protocol:      "tcp",
	OpenPolicy:    channel.OpenManual,
	ProcessPolicy: channel.ProcessCustom,
	ClosePolicy:   channel.CloseNormal,
	New:           func() channel.Instance { return &socket{} },
}

var connImpl = &channel.Impl{
	Protocol:      "tcp",
	OpenPolicy:    channel.OpenManual,
	ProcessPolicy: channel.ProcessCustom,
	ClosePolicy:   channel.CloseNormal,
	New:           func() channel.Instance { return &conn{} },
}

type server struct {
	channel.Base
	host string

	// handoff slots for children created during Open and accept.
	pendingFd int

	sock  *channel.Channel
	conns map[int64]*conn
}

func (s *server) Init(self *channel.Channel, url *config.URL, master *channel.Channel) error {
	s.Attach(self)
	s.host = url.Host()
	if s.host == "" {
		return fmt.Errorf("%w: tcp server needs a host", channel.ErrInvalid)
	}
	s.pendingFd = -1
	return nil
}

func (s *server) Open(props *config.Props) error {
	sa, family, err := resolveAddr(s.host)
	if err != nil {
		return err
	}
	fd, err := newSocket(family)
	if err != nil {
		return err
	}
	if family != unix.AF_UNIX {
		unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return fmt.Errorf("bind %s: %w", s.host, err)
	}
	if err := unix.Listen(fd, 128); err != nil {
		unix.Close(fd)
		return fmt.Errorf("listen %s: %w", s.host, err)
	}

	s.conns = make(map[int64]*conn)

	curl := config.NewURL("tcp")
	curl.Set(config.KeyName, s.Channel.Name()+"/socket")
	curl.Set(config.KeyInternal, "yes")
	s.pendingFd = fd
	sock, err := s.Channel.Context().NewChannelURL(curl, s.Channel, socketImpl)
	s.pendingFd = -1
	if err != nil {
		unix.Close(fd)
		return fmt.Errorf("%w: failed to create listen child: %v", channel.ErrInvalid, err)
	}
	s.sock = sock
	s.ChildAdd(sock)
	return nil
}

func (s *server) Close(force bool) error {
	for _, c := range s.conns {
		c.teardown(true)
	}
	s.conns = nil
	if s.sock != nil {
		sock := s.sock
		s.sock = nil
		if inst, ok := sock.Instance().(*socket); ok {
			inst.closeFd()
		}
		s.ChildDel(sock)
		sock.Free()
	}
	return nil
}

func (s *server) Free() { s.Close(true) }

// Post routes a reply to the connection identified by the message addr.
func (s *server) Post(m *message.Message) error {
	c := s.conns[m.Addr]
	if c == nil {
		return fmt.Errorf("%w: tcp address %d", channel.ErrNotFound, m.Addr)
	}
	return c.Post(m)
}

// socket is the listening child: every Process accepts one connection
// and announces a new connection child on the server.
type socket struct {
	channel.Base
	srv *server
}

func (sk *socket) Init(self *channel.Channel, url *config.URL, master *channel.Channel) error {
	sk.Attach(self)
	srv, ok := master.Instance().(*server)
	if !ok {
		return fmt.Errorf("%w: socket child requires a tcp server master", channel.ErrInvalid)
	}
	sk.srv = srv
	sk.UpdateFd(srv.pendingFd)
	sk.UpdateDCaps(channel.DCapProcess, 0)
	sk.DCapsPoll(channel.DCapPollIn)
	sk.SetState(channel.Opening)
	sk.SetState(channel.Active)
	return nil
}

func (sk *socket) closeFd() {
	if fd := sk.UpdateFd(-1); fd >= 0 {
		unix.Close(fd)
	}
}

func (sk *socket) Close(force bool) error {
	sk.closeFd()
	return nil
}

func (sk *socket) Process() error {
	fd, _, err := unix.Accept4(sk.Channel.Fd(), unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err == unix.EAGAIN {
		return channel.ErrAgain
	}
	if err != nil {
		return fmt.Errorf("accept: %w", err)
	}
	sk.Log.Debug().Int("fd", fd).Msg("got connection")

	if sk.srv.State() != channel.Active {
		unix.Close(fd)
		return channel.ErrAgain
	}

	curl := config.NewURL("tcp")
	curl.Set(config.KeyName, sk.srv.Channel.Name()+"/"+strconv.Itoa(fd))
	curl.Set(config.KeyInternal, "yes")
	sk.srv.pendingFd = fd
	ch, err := sk.Channel.Context().NewChannelURL(curl, sk.srv.Channel, connImpl)
	sk.srv.pendingFd = -1
	if err != nil {
		unix.Close(fd)
		return fmt.Errorf("%w: failed to create connection child: %v", channel.ErrInvalid, err)
	}
	cn := ch.Instance().(*conn)
	sk.srv.conns[cn.addr] = cn
	sk.srv.ChildAdd(ch)
	return nil
}

// conn is one accepted connection. Incoming frames are emitted through
// the server's subscribers with the connection addr attached.
type conn struct {
	channel.Base
	srv  *server
	addr int64
	f    framer
	rbuf []byte
}

func (cn *conn) Init(self *channel.Channel, url *config.URL, master *channel.Channel) error {
	cn.Attach(self)
	srv, ok := master.Instance().(*server)
	if !ok {
		return fmt.Errorf("%w: connection child requires a tcp server master", channel.ErrInvalid)
	}
	cn.srv = srv
	cn.addr = int64(srv.pendingFd)
	cn.rbuf = make([]byte, 64<<10)
	cn.UpdateFd(srv.pendingFd)
	cn.UpdateDCaps(channel.DCapProcess, 0)
	cn.DCapsPoll(channel.DCapPollIn)
	cn.SetState(channel.Opening)
	cn.SetState(channel.Active)
	return nil
}

// teardown closes the connection and, when announce is set, removes it
// from the server's child list.
func (cn *conn) teardown(announce bool) {
	if fd := cn.UpdateFd(-1); fd >= 0 {
		unix.Close(fd)
	}
	if cn.State() == channel.Active {
		cn.SetState(channel.Closing)
	}
	cn.Channel.Internal().CloseFinish()
	if announce && cn.srv != nil {
		delete(cn.srv.conns, cn.addr)
		cn.srv.ChildDel(cn.Channel)
	}
}

func (cn *conn) Close(force bool) error {
	if fd := cn.UpdateFd(-1); fd >= 0 {
		unix.Close(fd)
	}
	return nil
}

func (cn *conn) Process() error {
	if m := cn.f.next(); m != nil {
		m.Addr = cn.addr
		cn.srv.CallbackData(m)
		return nil
	}

	n, err := unix.Read(cn.Channel.Fd(), cn.rbuf)
	switch {
	case err == unix.EAGAIN:
		return channel.ErrAgain
	case err != nil:
		return fmt.Errorf("read: %w", err)
	case n == 0:
		cn.Log.Debug().Int64("addr", cn.addr).Msg("connection closed by peer")
		cn.teardown(true)
		return nil
	}
	cn.f.feed(cn.rbuf[:n])
	if m := cn.f.next(); m != nil {
		m.Addr = cn.addr
		cn.srv.CallbackData(m)
	}
	return nil
}

func (cn *conn) Post(m *message.Message) error {
	if cn.State() != channel.Active {
		return fmt.Errorf("%w: post in state %s", channel.ErrInvalid, cn.State())
	}
	return writeAll(cn.Channel.Fd(), encodeFrame(m))
}
