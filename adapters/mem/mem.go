// Package mem provides the mem channel: a bounded in-memory queue pair.
// Each end owns an inbound queue; posting enqueues into the peer's queue
// and arms its Pending cap so the loop drains it without polling. Both
// ends belong to the same loop thread; depth is bounded by the size
// parameter in bytes.
package mem

import (
	"fmt"

	"github.com/artpar/conduit/config"
	"github.com/artpar/conduit/core/channel"
	"github.com/artpar/conduit/core/message"
)

// Impl is the "mem" protocol implementation.
var Impl = &channel.Impl{
	Protocol:      "mem",
	OpenPolicy:    channel.OpenAuto,
	ProcessPolicy: channel.ProcessNormal,
	ClosePolicy:   channel.CloseNormal,
	New:           func() channel.Instance { return &mem{} },
}

type mem struct {
	channel.Base
	peer  *mem
	queue []*message.Message
	bytes int64
	limit int64
}

func (m *mem) Init(self *channel.Channel, url *config.URL, master *channel.Channel) error {
	m.Attach(self)
	limit, err := url.GetSize("size", 64<<10)
	if err != nil {
		return fmt.Errorf("%w: %v", channel.ErrInvalid, err)
	}
	m.limit = limit
	if master == nil {
		return nil
	}
	peer, ok := master.Instance().(*mem)
	if !ok {
		return fmt.Errorf("%w: master %q is not a mem channel", channel.ErrInvalid, master.Name())
	}
	m.peer = peer
	peer.peer = m
	return nil
}

func (m *mem) Free() {
	if m.peer != nil {
		m.peer.peer = nil
		m.peer = nil
	}
	m.queue = nil
}

func (m *mem) Open(props *config.Props) error {
	m.queue = nil
	m.bytes = 0
	return nil
}

func (m *mem) Close(force bool) error {
	m.queue = nil
	m.bytes = 0
	return nil
}

// Post enqueues into the peer's inbound queue; a full queue reports
// ErrAgain instead of blocking.
func (m *mem) Post(msg *message.Message) error {
	if m.peer == nil {
		return fmt.Errorf("%w: mem channel has no peer", channel.ErrInvalid)
	}
	p := m.peer
	size := int64(len(msg.Data))
	if p.bytes+size > p.limit {
		return channel.ErrAgain
	}
	p.queue = append(p.queue, msg.Clone())
	p.bytes += size
	p.UpdateDCaps(channel.DCapPending, 0)
	return nil
}

// Process pops one queued message and emits it; the Pending cap clears
// when the queue drains.
func (m *mem) Process() error {
	if len(m.queue) == 0 {
		m.UpdateDCaps(0, channel.DCapPending)
		return channel.ErrAgain
	}
	msg := m.queue[0]
	m.queue = m.queue[1:]
	m.bytes -= int64(len(msg.Data))
	if len(m.queue) == 0 {
		m.UpdateDCaps(0, channel.DCapPending)
	}
	m.CallbackData(msg)
	return nil
}
