// Package tcp provides the tcp channel: a framed stream transport over
// unix or inet sockets.
//
// "tcp://./path.sock" addresses a unix socket, "tcp://host:port" an inet
// one. mode=client connects out; mode=server binds, owns an internal
// listening child and one child channel per accepted connection. Children
// are announced through ChannelAdd/ChannelDelete so a loop adopts them
// automatically; the addr of a server-side data message routes replies
// back to the right connection.
//
// Wire format: a 16 byte little-endian header (u32 size, i32 msgid,
// i64 seq) followed by the payload.
package tcp

import (
	"encoding/binary"
	"fmt"
	"net"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/artpar/conduit/config"
	"github.com/artpar/conduit/core/channel"
	"github.com/artpar/conduit/core/message"
)

// Impl is the "tcp" protocol entry point. Init inspects mode= and
// replaces itself with the client or server implementation.
var Impl = &channel.Impl{
	Protocol:      "tcp",
	OpenPolicy:    channel.OpenManual,
	ProcessPolicy: channel.ProcessNormal,
	ClosePolicy:   channel.CloseNormal,
	New:           func() channel.Instance { return &dispatch{} },
}

type dispatch struct {
	channel.Base
}

func (d *dispatch) Init(self *channel.Channel, url *config.URL, master *channel.Channel) error {
	d.Attach(self)
	switch mode := url.GetString("mode", "client"); mode {
	case "client":
		self.ReplaceImpl(clientImpl)
	case "server":
		self.ReplaceImpl(serverImpl)
	default:
		return fmt.Errorf("%w: invalid mode field %q", channel.ErrInvalid, mode)
	}
	return channel.ErrAgain
}

const frameHeader = 16

func encodeFrame(m *message.Message) []byte {
	buf := make([]byte, frameHeader+len(m.Data))
	binary.LittleEndian.PutUint32(buf[0:], uint32(len(m.Data)))
	binary.LittleEndian.PutUint32(buf[4:], uint32(m.MsgID))
	binary.LittleEndian.PutUint64(buf[8:], uint64(m.Seq))
	copy(buf[frameHeader:], m.Data)
	return buf
}

// framer accumulates stream bytes and cuts complete frames.
type framer struct {
	buf []byte
}

func (f *framer) feed(data []byte) {
	f.buf = append(f.buf, data...)
}

// next returns the next complete frame or nil. The message data borrows
// the internal buffer and is only valid until the following feed or next
// call, which matches the callback borrowing contract.
func (f *framer) next() *message.Message {
	if len(f.buf) < frameHeader {
		return nil
	}
	size := int(binary.LittleEndian.Uint32(f.buf[0:]))
	if len(f.buf) < frameHeader+size {
		return nil
	}
	m := &message.Message{
		Type:  message.Data,
		MsgID: int32(binary.LittleEndian.Uint32(f.buf[4:])),
		Seq:   int64(binary.LittleEndian.Uint64(f.buf[8:])),
		Data:  f.buf[frameHeader : frameHeader+size],
	}
	f.buf = f.buf[frameHeader+size:]
	return m
}

// resolveAddr maps the URL host to a sockaddr: paths become unix
// sockets, host:port resolves to inet.
func resolveAddr(host string) (unix.Sockaddr, int, error) {
	if strings.HasPrefix(host, "./") || strings.HasPrefix(host, "/") {
		return &unix.SockaddrUnix{Name: host}, unix.AF_UNIX, nil
	}
	addr, err := net.ResolveTCPAddr("tcp", host)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: resolve %q: %v", channel.ErrInvalid, host, err)
	}
	if ip4 := addr.IP.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		copy(sa.Addr[:], ip4)
		return sa, unix.AF_INET, nil
	}
	sa := &unix.SockaddrInet6{Port: addr.Port}
	copy(sa.Addr[:], addr.IP.To16())
	return sa, unix.AF_INET6, nil
}

func newSocket(family int) (int, error) {
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	return fd, nil
}

// writeAll writes a full frame, waiting for write readiness on a busy
// socket so a frame is never torn.
func writeAll(fd int, data []byte) error {
	for len(data) > 0 {
		n, err := unix.Write(fd, data)
		switch err {
		case nil:
			data = data[n:]
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
			unix.Poll(pfd, 1000)
		default:
			return fmt.Errorf("write: %w", err)
		}
	}
	return nil
}
