// Package loop implements the processor loop: a readiness-driven
// scheduler combining OS poll events, a process set of channels that
// want idle calls and a pending set of channels with buffered work.
//
// The loop subscribes to every adopted channel's State and Channel
// messages, so composite channels (servers spawning per-connection
// children, prefix stacks) plug in automatically once their root is
// added. The loop and its channels form a single-threaded cooperative
// unit; only Poll may block.
package loop

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/conduit/core/channel"
	"github.com/artpar/conduit/core/event"
	"github.com/artpar/conduit/core/message"
)

// poller is the OS readiness backend: epoll on linux, poll elsewhere.
type poller interface {
	add(fd int, in, out bool) error
	mod(fd int, in, out bool) error
	del(fd int) error
	// wait blocks up to timeout for one event and returns its fd,
	// or -1 on timeout.
	wait(timeout time.Duration) (int, error)
	close() error
}

// Loop drives a set of channels.
type Loop struct {
	log    zerolog.Logger
	poller poller

	// notify interleaves pending work with fd polling: its descriptor
	// stays readable permanently and is subscribed for input only while
	// the pending list is non-empty.
	notify *event.Event

	list        []*channel.Channel
	listP       compactList
	listPending compactList

	byFd  map[int]*channel.Channel
	regFd map[*channel.Channel]int

	cb *loopCallback
}

type loopCallback struct {
	loop *Loop
}

// New creates an empty loop.
func New(log zerolog.Logger) (*Loop, error) {
	p, err := newPoller()
	if err != nil {
		return nil, err
	}
	ev, err := event.New()
	if err != nil {
		p.close()
		return nil, err
	}
	// Keep the notifier readable forever; pending arming toggles the
	// subscription, not the counter.
	if err := ev.Notify(); err != nil {
		p.close()
		ev.Close()
		return nil, err
	}
	l := &Loop{
		log:    log,
		poller: p,
		notify: ev,
		byFd:   make(map[int]*channel.Channel),
		regFd:  make(map[*channel.Channel]int),
	}
	l.cb = &loopCallback{loop: l}
	if err := p.add(ev.Fd(), false, false); err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}

// Close releases the loop's OS resources. Channels stay alive.
func (l *Loop) Close() error {
	err := l.poller.close()
	if nerr := l.notify.Close(); err == nil {
		err = nerr
	}
	return err
}

// Add adopts a channel: subscribes the loop to its State and Channel
// messages, tracks its process/pending caps and registers its fd.
func (l *Loop) Add(c *channel.Channel) error {
	if c == nil {
		return channel.ErrInvalid
	}
	l.log.Debug().Str("channel", c.Name()).Int("fd", c.Fd()).Msg("add channel")
	if err := c.CallbackAdd(l.cb, message.MaskChannel|message.MaskState); err != nil {
		return err
	}
	l.list = append(l.list, c)
	if c.DCaps()&channel.DCapProcess != 0 {
		l.listP.add(c)
	}
	if c.DCaps()&channel.DCapPending != 0 {
		l.pendingAdd(c)
	}
	if err := l.pollAdd(c); err != nil {
		return err
	}
	// Children announced before adoption (prefix stacks, servers opened
	// early) are picked up here; later ones arrive via ChannelAdd.
	for _, child := range c.Children() {
		if err := l.Add(child); err != nil {
			return err
		}
	}
	return nil
}

// Del removes a channel from every collection and from the readiness
// object.
func (l *Loop) Del(c *channel.Channel) error {
	l.log.Debug().Str("channel", c.Name()).Msg("delete channel")
	for i, x := range l.list {
		if x == c {
			l.list = append(l.list[:i], l.list[i+1:]...)
			break
		}
	}
	l.listP.del(c)
	l.pendingDel(c)
	l.pollDel(c)
	return nil
}

// Poll blocks up to timeout for one readiness event. A signalled channel
// is returned for the caller to Process; a self-notify event drains the
// pending list and returns no channel, as does a timeout.
func (l *Loop) Poll(timeout time.Duration) (*channel.Channel, error) {
	fd, err := l.poller.wait(timeout)
	if err != nil {
		return nil, err
	}
	if fd < 0 {
		return nil, nil
	}
	if fd == l.notify.Fd() {
		l.log.Debug().Msg("poll on pending list")
		l.listPending.each(func(c *channel.Channel) { c.Process() })
		return nil, nil
	}
	c := l.byFd[fd]
	if c == nil {
		l.log.Warn().Int("fd", fd).Msg("poll event for unknown fd")
		return nil, nil
	}
	return c, nil
}

// Process drives one round over the process and pending sets. Returns
// ErrAgain iff every invocation reported no work.
func (l *Loop) Process() error {
	progress := false
	drive := func(c *channel.Channel) {
		if err := c.Process(); !errors.Is(err, channel.ErrAgain) {
			progress = true
		}
	}
	l.listP.each(drive)
	l.listPending.each(drive)
	if !progress {
		return channel.ErrAgain
	}
	return nil
}

// Run drives the loop until ctx is cancelled: process until idle, then
// poll for the next event.
func (l *Loop) Run(ctx context.Context) error {
	const pollTimeout = 100 * time.Millisecond
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := l.Process(); errors.Is(err, channel.ErrAgain) {
			c, err := l.Poll(pollTimeout)
			if err != nil {
				return err
			}
			if c != nil {
				c.Process()
			}
		}
	}
}

func (l *Loop) pendingAdd(c *channel.Channel) {
	empty := l.listPending.size == 0
	l.listPending.add(c)
	if !empty {
		return
	}
	if err := l.poller.mod(l.notify.Fd(), true, false); err != nil {
		l.log.Error().Err(err).Msg("failed to arm pending notify")
	}
}

func (l *Loop) pendingDel(c *channel.Channel) {
	l.listPending.del(c)
	if l.listPending.size != 0 {
		return
	}
	if err := l.poller.mod(l.notify.Fd(), false, false); err != nil {
		l.log.Error().Err(err).Msg("failed to disarm pending notify")
	}
}

// pollAdd registers (or re-registers) a channel's fd with events derived
// from its dcaps. Channels without an fd are skipped.
func (l *Loop) pollAdd(c *channel.Channel) error {
	fd := c.Fd()
	if fd < 0 {
		return nil
	}
	in, out := pollBits(c.DCaps())
	if old, ok := l.regFd[c]; ok {
		if old == fd {
			return l.poller.mod(fd, in, out)
		}
		l.poller.del(old)
		delete(l.byFd, old)
	}
	l.log.Debug().Str("channel", c.Name()).Int("fd", fd).Msg("register channel fd")
	if err := l.poller.add(fd, in, out); err != nil {
		return err
	}
	l.byFd[fd] = c
	l.regFd[c] = fd
	return nil
}

func (l *Loop) pollDel(c *channel.Channel) {
	fd, ok := l.regFd[c]
	if !ok {
		return
	}
	l.poller.del(fd)
	delete(l.byFd, fd)
	delete(l.regFd, c)
}

// pollBits derives kernel interest from dcaps; suspension masks both
// poll bits so the channel goes quiescent at the kernel.
func pollBits(d channel.DCaps) (in, out bool) {
	if d.Suspended() {
		return false, false
	}
	return d&channel.DCapPollIn != 0, d&channel.DCapPollOut != 0
}

// update reacts to a dcaps change: re-registers the fd when poll bits or
// suspension changed, moves the channel between the process and pending
// sets on those toggles.
func (l *Loop) update(c *channel.Channel, prev channel.DCaps) error {
	caps := c.DCaps()
	delta := caps ^ prev
	l.log.Debug().
		Str("channel", c.Name()).
		Uint32("old", uint32(prev)).
		Uint32("new", uint32(caps)).
		Msg("update dcaps")

	if delta&(channel.DCapPollMask|channel.DCapSuspend) != 0 && c.Fd() >= 0 {
		if _, ok := l.regFd[c]; ok {
			in, out := pollBits(caps)
			l.poller.mod(c.Fd(), in, out)
		}
	}

	if delta&channel.DCapProcess != 0 {
		if caps&channel.DCapProcess != 0 {
			l.listP.add(c)
		} else {
			l.listP.del(c)
		}
	}

	if delta&channel.DCapPending != 0 {
		if caps&channel.DCapPending != 0 {
			l.pendingAdd(c)
		} else {
			l.pendingDel(c)
		}
	}
	return nil
}

// OnMessage adopts announced children, tracks dcaps updates and fd
// lifecycle through state changes.
func (cb *loopCallback) OnMessage(c *channel.Channel, m *message.Message) error {
	l := cb.loop
	switch m.Type {
	case message.State:
		switch channel.State(m.MsgID) {
		case channel.Active:
			return l.pollAdd(c)
		case channel.Closing:
			l.pollDel(c)
		case channel.Destroy:
			return l.Del(c)
		}
		return nil
	case message.Channel:
		switch m.MsgID {
		case message.ChannelAdd:
			child, ok := m.Obj.(*channel.Channel)
			if !ok {
				return channel.ErrInvalid
			}
			return l.Add(child)
		case message.ChannelDelete:
			child, ok := m.Obj.(*channel.Channel)
			if !ok {
				return channel.ErrInvalid
			}
			return l.Del(child)
		case message.ChannelUpdate:
			prev, ok := m.Obj.(channel.DCaps)
			if !ok {
				return channel.ErrInvalid
			}
			return l.update(c, prev)
		}
	}
	return nil
}
