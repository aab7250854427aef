// Package serial provides the serial channel: a raw byte transport over
// a tty device. The device path is the URL host
// ("serial:///dev/ttyUSB0;baud=115200"); the line is configured 8N1 at
// the requested baud rate and polled non-blocking through the loop.
package serial

import (
	"fmt"

	"github.com/artpar/conduit/config"
	"github.com/artpar/conduit/core/channel"
	"github.com/artpar/conduit/core/message"
)

// Impl is the "serial" protocol implementation.
var Impl = &channel.Impl{
	Protocol:      "serial",
	OpenPolicy:    channel.OpenAuto,
	ProcessPolicy: channel.ProcessNormal,
	ClosePolicy:   channel.CloseNormal,
	New:           newSerial,
}

type serial struct {
	channel.Base
	dev  string
	baud int64
	rbuf []byte
	seq  int64
}

func (s *serial) Init(self *channel.Channel, url *config.URL, master *channel.Channel) error {
	s.Attach(self)
	s.dev = url.Host()
	if s.dev == "" {
		return fmt.Errorf("%w: serial needs a device path as host", channel.ErrInvalid)
	}
	baud, err := url.GetInt("baud", 9600)
	if err != nil {
		return fmt.Errorf("%w: %v", channel.ErrInvalid, err)
	}
	s.baud = baud
	s.rbuf = make([]byte, 4096)
	return nil
}

func (s *serial) Open(props *config.Props) error {
	fd, err := ttyOpen(s.dev, s.baud)
	if err != nil {
		return err
	}
	s.seq = 0
	s.UpdateFd(fd)
	s.DCapsPoll(channel.DCapPollIn)
	return nil
}

func (s *serial) Close(force bool) error {
	if fd := s.UpdateFd(-1); fd >= 0 {
		ttyClose(fd)
	}
	return nil
}

func (s *serial) Free() { s.Close(true) }

func (s *serial) Process() error {
	n, err := ttyRead(s.Channel.Fd(), s.rbuf)
	if err != nil {
		return err
	}
	if n == 0 {
		return channel.ErrAgain
	}
	s.seq++
	s.CallbackData(&message.Message{Type: message.Data, Seq: s.seq, Data: s.rbuf[:n]})
	return nil
}

func (s *serial) Post(m *message.Message) error {
	return ttyWrite(s.Channel.Fd(), m.Data)
}
