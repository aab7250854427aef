// Package udp provides the udp channel: a datagram transport where one
// datagram carries one framed message.
//
// mode=client connects to the remote host; mode=server binds it. With
// udp.multicast=yes a server joins the group given as host (the built-in
// "mudp" alias expands to exactly that). Server-side messages carry an
// addr token that routes replies back to the originating peer.
package udp

import (
	"encoding/binary"
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/artpar/conduit/config"
	"github.com/artpar/conduit/core/channel"
	"github.com/artpar/conduit/core/message"
)

// Impl is the "udp" protocol entry point. Init inspects mode= and
// replaces itself with the client or server implementation.
var Impl = &channel.Impl{
	Protocol:      "udp",
	OpenPolicy:    channel.OpenAuto,
	ProcessPolicy: channel.ProcessNormal,
	ClosePolicy:   channel.CloseNormal,
	New:           func() channel.Instance { return &dispatch{} },
}

var clientImpl = &channel.Impl{
	Protocol:      "udp",
	OpenPolicy:    channel.OpenAuto,
	ProcessPolicy: channel.ProcessNormal,
	ClosePolicy:   channel.CloseNormal,
	New:           func() channel.Instance { return &udp{} },
}

var serverImpl = &channel.Impl{
	Protocol:      "udp",
	OpenPolicy:    channel.OpenAuto,
	ProcessPolicy: channel.ProcessNormal,
	ClosePolicy:   channel.CloseNormal,
	New:           func() channel.Instance { return &udp{server: true} },
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

const frameHeader = 12

func encodeDatagram(m *message.Message) []byte {
	buf := make([]byte, frameHeader+len(m.Data))
	binary.LittleEndian.PutUint32(buf[0:], uint32(m.MsgID))
	binary.LittleEndian.PutUint64(buf[4:], uint64(m.Seq))
	copy(buf[frameHeader:], m.Data)
	return buf
}

func decodeDatagram(buf []byte) (*message.Message, error) {
	if len(buf) < frameHeader {
		return nil, fmt.Errorf("%w: short datagram (%d bytes)", channel.ErrInvalid, len(buf))
	}
	return &message.Message{
		Type:  message.Data,
		MsgID: int32(binary.LittleEndian.Uint32(buf[0:])),
		Seq:   int64(binary.LittleEndian.Uint64(buf[4:])),
		Data:  buf[frameHeader:],
	}, nil
}

type udp struct {
	channel.Base
	server    bool
	multicast bool
	host      string

	rbuf []byte

	// peers maps addr tokens to datagram sources for server replies.
	peers    map[int64]unix.Sockaddr
	peerAddr map[string]int64
	nextPeer int64
}

func resolveUDP(host string) (unix.Sockaddr, int, net.IP, error) {
	addr, err := net.ResolveUDPAddr("udp", host)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("%w: resolve %q: %v", channel.ErrInvalid, host, err)
	}
	if ip4 := addr.IP.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		copy(sa.Addr[:], ip4)
		return sa, unix.AF_INET, addr.IP, nil
	}
	sa := &unix.SockaddrInet6{Port: addr.Port}
	copy(sa.Addr[:], addr.IP.To16())
	return sa, unix.AF_INET6, addr.IP, nil
}

func (u *udp) Init(self *channel.Channel, url *config.URL, master *channel.Channel) error {
	u.Attach(self)
	u.host = url.Host()
	if u.host == "" {
		return fmt.Errorf("%w: udp needs a host", channel.ErrInvalid)
	}
	mc, err := url.GetBool("udp.multicast", false)
	if err != nil {
		return fmt.Errorf("%w: %v", channel.ErrInvalid, err)
	}
	u.multicast = mc
	u.rbuf = make([]byte, 64<<10)
	return nil
}

func (u *udp) Open(props *config.Props) error {
	sa, family, ip, err := resolveUDP(u.host)
	if err != nil {
		return err
	}
	fd, err := unix.Socket(family, unix.SOCK_DGRAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("socket: %w", err)
	}

	if u.server {
		unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		bindTo := sa
		if u.multicast && family == unix.AF_INET {
			// Bind the port only; the group is joined explicitly.
			bindTo = &unix.SockaddrInet4{Port: sa.(*unix.SockaddrInet4).Port}
		}
		if err := unix.Bind(fd, bindTo); err != nil {
			unix.Close(fd)
			return fmt.Errorf("bind %s: %w", u.host, err)
		}
		if u.multicast && family == unix.AF_INET {
			mreq := &unix.IPMreq{}
			copy(mreq.Multiaddr[:], ip.To4())
			if err := unix.SetsockoptIPMreq(fd, unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, mreq); err != nil {
				unix.Close(fd)
				return fmt.Errorf("join group %s: %w", u.host, err)
			}
		}
		u.peers = make(map[int64]unix.Sockaddr)
		u.peerAddr = make(map[string]int64)
		u.nextPeer = 0
	} else {
		if err := unix.Connect(fd, sa); err != nil {
			unix.Close(fd)
			return fmt.Errorf("connect %s: %w", u.host, err)
		}
	}

	u.UpdateFd(fd)
	u.DCapsPoll(channel.DCapPollIn)
	return nil
}

func (u *udp) Close(force bool) error {
	if fd := u.UpdateFd(-1); fd >= 0 {
		unix.Close(fd)
	}
	u.peers = nil
	u.peerAddr = nil
	return nil
}

func (u *udp) Free() { u.Close(true) }

func saKey(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return fmt.Sprintf("%v:%d", a.Addr, a.Port)
	case *unix.SockaddrInet6:
		return fmt.Sprintf("%v:%d", a.Addr, a.Port)
	}
	return ""
}

func (u *udp) Process() error {
	n, from, err := unix.Recvfrom(u.Channel.Fd(), u.rbuf, 0)
	if err == unix.EAGAIN {
		return channel.ErrAgain
	}
	if err != nil {
		return fmt.Errorf("recvfrom: %w", err)
	}
	m, err := decodeDatagram(u.rbuf[:n])
	if err != nil {
		u.Log.Warn().Err(err).Msg("dropping malformed datagram")
		return nil
	}
	if u.server && from != nil {
		key := saKey(from)
		addr, ok := u.peerAddr[key]
		if !ok {
			addr = u.nextPeer
			u.nextPeer++
			u.peerAddr[key] = addr
			u.peers[addr] = from
		}
		m.Addr = addr
	}
	u.CallbackData(m)
	return nil
}

func (u *udp) Post(m *message.Message) error {
	fd := u.Channel.Fd()
	if fd < 0 {
		return fmt.Errorf("%w: udp channel is not open", channel.ErrInvalid)
	}
	buf := encodeDatagram(m)
	if !u.server {
		err := unix.Send(fd, buf, 0)
		if err == unix.EAGAIN {
			return channel.ErrAgain
		}
		if err != nil {
			return fmt.Errorf("send: %w", err)
		}
		return nil
	}
	to := u.peers[m.Addr]
	if to == nil {
		return fmt.Errorf("%w: udp address %d", channel.ErrNotFound, m.Addr)
	}
	err := unix.Sendto(fd, buf, 0, to)
	if err == unix.EAGAIN {
		return channel.ErrAgain
	}
	if err != nil {
		return fmt.Errorf("sendto: %w", err)
	}
	return nil
}
