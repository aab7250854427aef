// Package ipc provides the ipc channel: cross-thread messaging between a
// server and per-thread clients inside one process.
//
// Each direction is a bounded lock-free single-producer single-consumer
// queue. Clients push into their outgoing queue, then push a marker
// pointing at that queue into the server's marker queue and wake the
// server's loop through an event notifier. The marker queue guarantees
// the server observes at least one marker per queued message; a brief
// spin on pop covers the publisher/consumer race window.
package ipc

import (
	"fmt"
	"sync"
	"sync/atomic"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfq"

	"github.com/artpar/conduit/config"
	"github.com/artpar/conduit/core/channel"
	"github.com/artpar/conduit/core/event"
	"github.com/artpar/conduit/core/message"
)

// Impl is the "ipc" protocol entry point. Init inspects mode= and
// replaces itself with the client or server implementation.
var Impl = &channel.Impl{
	Protocol:      "ipc",
	OpenPolicy:    channel.OpenAuto,
	ProcessPolicy: channel.ProcessNormal,
	ClosePolicy:   channel.CloseNormal,
	New:           func() channel.Instance { return &dispatch{} },
}

// clientImpl and serverImpl are internal: reachable only through the
// mode= init-replace of Impl.
var clientImpl = &channel.Impl{
	Protocol:      "ipc",
	OpenPolicy:    channel.OpenAuto,
	ProcessPolicy: channel.ProcessNormal,
	ClosePolicy:   channel.CloseNormal,
	New:           func() channel.Instance { return &client{} },
}

var serverImpl = &channel.Impl{
	Protocol:      "ipc",
	OpenPolicy:    channel.OpenAuto,
	ProcessPolicy: channel.ProcessNormal,
	ClosePolicy:   channel.CloseNormal,
	New:           func() channel.Instance { return &server{} },
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

// spscQueue is one direction between a client and the server: a bounded
// SPSC queue plus an occupancy counter. The counter is maintained
// producer-side before marker publication, so capacity checks see an
// upper bound of the real occupancy and Enqueue after a successful check
// cannot fail.
type spscQueue struct {
	q     lfq.SPSC[*message.Message]
	count atomic.Int64
	cap   int64
}

func newSPSCQueue(capacity int64) *spscQueue {
	sq := &spscQueue{cap: capacity}
	sq.q.Init(int(capacity))
	return sq
}

func (sq *spscQueue) push(m *message.Message) error {
	if sq.count.Load() >= sq.cap {
		return channel.ErrAgain
	}
	sq.count.Add(1)
	if err := sq.q.Enqueue(&m); err != nil {
		sq.count.Add(-1)
		if err == iox.ErrWouldBlock {
			return channel.ErrAgain
		}
		return err
	}
	return nil
}

func (sq *spscQueue) pop() (*message.Message, error) {
	m, err := sq.q.Dequeue()
	if err != nil {
		if err == iox.ErrWouldBlock {
			return nil, channel.ErrAgain
		}
		return nil, err
	}
	sq.count.Add(-1)
	return m, nil
}

// popSpin drains the queue until it yields a message. Used by the server
// after acquiring a marker, when the message is known to be published or
// about to be: the spin covers the window between the producer's counter
// increment and the queue's internal publication.
func (sq *spscQueue) popSpin() (*message.Message, error) {
	for {
		m, err := sq.q.Dequeue()
		if err == iox.ErrWouldBlock {
			continue
		}
		if err != nil {
			return nil, err
		}
		sq.count.Add(-1)
		return m, nil
	}
}

type server struct {
	channel.Base

	size int64
	ev   *event.Event
	// markers fans in wakeups from every client. The queue itself is
	// single-producer: clients serialize on markerMu, the server side
	// consumes lock-free.
	markers  *lfq.SPSC[*spscQueue]
	markerMu sync.Mutex
	marks    atomic.Int64

	mu       sync.Mutex
	clients  map[int64]*clientSlot
	nextAddr int64
}

// clientSlot is the server's view of one connected client.
type clientSlot struct {
	in *spscQueue // server to client
	ev *event.Event
}

func (s *server) Init(self *channel.Channel, url *config.URL, master *channel.Channel) error {
	s.Attach(self)
	size, err := url.GetSize("size", 1024)
	if err != nil {
		return fmt.Errorf("%w: %v", channel.ErrInvalid, err)
	}
	s.size = size
	return nil
}

func (s *server) Open(props *config.Props) error {
	ev, err := event.New()
	if err != nil {
		return err
	}
	s.ev = ev
	s.markers = &lfq.SPSC[*spscQueue]{}
	s.markers.Init(int(s.size))
	s.marks.Store(0)
	s.mu.Lock()
	s.clients = make(map[int64]*clientSlot)
	s.nextAddr = 0
	s.mu.Unlock()
	s.UpdateFd(ev.Fd())
	s.DCapsPoll(channel.DCapPollIn)
	return nil
}

func (s *server) Close(force bool) error {
	s.mu.Lock()
	s.clients = nil
	s.mu.Unlock()
	s.markers = nil
	if s.ev != nil {
		s.UpdateFd(-1)
		s.ev.Close()
		s.ev = nil
	}
	return nil
}

func (s *server) Free() { s.Close(true) }

// Post routes a message back to the client identified by its addr.
func (s *server) Post(m *message.Message) error {
	s.mu.Lock()
	slot := s.clients[m.Addr]
	s.mu.Unlock()
	if slot == nil {
		return fmt.Errorf("%w: ipc address %d", channel.ErrNotFound, m.Addr)
	}
	if err := slot.in.push(m.Clone()); err != nil {
		return err
	}
	return slot.ev.Notify()
}

// Process acquires one marker and drains the pointed client queue for
// exactly one message.
func (s *server) Process() error {
	if s.markers == nil {
		return channel.ErrAgain
	}
	q, err := s.markers.Dequeue()
	if err != nil {
		if err == iox.ErrWouldBlock {
			return channel.ErrAgain
		}
		return err
	}
	s.marks.Add(-1)
	m, err := q.popSpin()
	if err != nil {
		return err
	}
	s.CallbackData(m)
	return s.ev.ClearRace(func() bool { return s.marks.Load() > 0 })
}

type client struct {
	channel.Base

	srv  *server
	addr int64
	in   *spscQueue // server to client, consumed here
	out  *spscQueue // client to server
	ev   *event.Event
}

func (c *client) Init(self *channel.Channel, url *config.URL, master *channel.Channel) error {
	c.Attach(self)
	if master == nil {
		return fmt.Errorf("%w: ipc client requires master", channel.ErrInvalid)
	}
	srv, ok := master.Instance().(*server)
	if !ok {
		return fmt.Errorf("%w: master %q must be ipc://;mode=server", channel.ErrInvalid, master.Name())
	}
	c.srv = srv
	return nil
}

func (c *client) Open(props *config.Props) error {
	if c.srv.State() != channel.Active {
		return fmt.Errorf("%w: ipc server is not active", channel.ErrInvalid)
	}
	ev, err := event.New()
	if err != nil {
		return err
	}
	c.ev = ev
	c.in = newSPSCQueue(c.srv.size)
	c.out = newSPSCQueue(c.srv.size)

	c.srv.mu.Lock()
	c.addr = c.srv.nextAddr
	c.srv.nextAddr++
	c.srv.clients[c.addr] = &clientSlot{in: c.in, ev: ev}
	c.srv.mu.Unlock()

	c.UpdateFd(ev.Fd())
	c.DCapsPoll(channel.DCapPollIn)
	return nil
}

func (c *client) Close(force bool) error {
	if c.srv != nil {
		c.srv.mu.Lock()
		if c.srv.clients != nil {
			delete(c.srv.clients, c.addr)
		}
		c.srv.mu.Unlock()
	}
	c.in = nil
	c.out = nil
	if c.ev != nil {
		c.UpdateFd(-1)
		c.ev.Close()
		c.ev = nil
	}
	return nil
}

func (c *client) Free() { c.Close(true) }

// Post publishes the message into the outgoing queue, then a marker for
// the server, then wakes the server's loop. The message carries the
// client's addr so the server can reply.
func (c *client) Post(m *message.Message) error {
	if c.out == nil {
		return fmt.Errorf("%w: ipc client is not open", channel.ErrInvalid)
	}
	mc := m.Clone()
	mc.Addr = c.addr
	if err := c.out.push(mc); err != nil {
		return err
	}
	q := c.out
	c.srv.markerMu.Lock()
	err := c.srv.markers.Enqueue(&q)
	c.srv.markerMu.Unlock()
	if err != nil {
		if err == iox.ErrWouldBlock {
			return channel.ErrAgain
		}
		return err
	}
	c.srv.marks.Add(1)
	return c.srv.ev.Notify()
}

// Process pops one queued message from the server direction.
func (c *client) Process() error {
	if c.in == nil {
		return channel.ErrAgain
	}
	m, err := c.in.pop()
	if err != nil {
		if err == channel.ErrAgain {
			c.ev.ClearRace(func() bool { return c.in.count.Load() > 0 })
		}
		return err
	}
	c.CallbackData(m)
	return c.ev.ClearRace(func() bool { return c.in.count.Load() > 0 })
}
