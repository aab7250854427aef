// Package timer provides the timer channel: emits a data message per
// expiry of an interval timer.
//
// On linux the timer is backed by a timerfd and driven by the loop's
// poller. With poll=yes (and on platforms without timerfd) the channel
// runs in polled mode off a clock, which tests replace with a mock.
package timer

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/artpar/conduit/config"
	"github.com/artpar/conduit/core/channel"
	"github.com/artpar/conduit/core/message"
	"github.com/artpar/conduit/core/scheme"
)

// Impl is the "timer" protocol implementation.
var Impl = &channel.Impl{
	Protocol:      "timer",
	OpenPolicy:    channel.OpenAuto,
	ProcessPolicy: channel.ProcessCustom,
	ClosePolicy:   channel.CloseNormal,
	New:           func() channel.Instance { return &timer{clk: clock.New()} },
}

// expiryScheme describes the single data message the channel emits.
const expiryScheme = `messages:
  - name: Expiry
    id: 1
    fields:
      - {name: ts, type: int64}
`

var (
	schemeOnce   sync.Once
	parsedScheme *scheme.Scheme
)

type timer struct {
	channel.Base

	interval time.Duration
	initial  time.Duration
	oneshot  bool
	polled   bool

	clk  clock.Clock
	next time.Time
	seq  int64
}

// WithClock replaces the channel's clock before Open; tests use it with
// a mock clock in polled mode.
func WithClock(c *channel.Channel, clk clock.Clock) error {
	t, ok := c.Instance().(*timer)
	if !ok {
		return fmt.Errorf("%w: not a timer channel", channel.ErrInvalid)
	}
	t.clk = clk
	return nil
}

func (t *timer) Init(self *channel.Channel, url *config.URL, master *channel.Channel) error {
	t.Attach(self)
	var err error
	if t.interval, err = url.GetDuration("interval", 0); err != nil {
		return fmt.Errorf("%w: %v", channel.ErrInvalid, err)
	}
	if t.initial, err = url.GetDuration("initial", 0); err != nil {
		return fmt.Errorf("%w: %v", channel.ErrInvalid, err)
	}
	if t.oneshot, err = url.GetBool("oneshot", false); err != nil {
		return fmt.Errorf("%w: %v", channel.ErrInvalid, err)
	}
	if t.polled, err = url.GetBool("poll", false); err != nil {
		return fmt.Errorf("%w: %v", channel.ErrInvalid, err)
	}
	if t.interval <= 0 && t.initial <= 0 {
		return fmt.Errorf("%w: timer needs interval or initial parameter", channel.ErrInvalid)
	}
	if t.interval <= 0 {
		t.oneshot = true
	}
	if !timerfdSupported {
		t.polled = true
	}
	return nil
}

func (t *timer) first() time.Duration {
	if t.initial > 0 {
		return t.initial
	}
	return t.interval
}

func (t *timer) Open(props *config.Props) error {
	t.seq = 0
	if t.polled {
		t.next = t.clk.Now().Add(t.first())
		t.UpdateDCaps(channel.DCapProcess, 0)
		return nil
	}
	fd, err := timerfdOpen(t.first(), t.interval)
	if err != nil {
		return err
	}
	t.UpdateFd(fd)
	t.DCapsPoll(channel.DCapPollIn)
	t.UpdateDCaps(channel.DCapProcess, 0)
	return nil
}

func (t *timer) Close(force bool) error {
	if fd := t.UpdateFd(-1); fd >= 0 {
		timerfdClose(fd)
	}
	return nil
}

func (t *timer) Free() { t.Close(true) }

func (t *timer) emit() {
	t.seq++
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(t.clk.Now().UnixNano()))
	t.CallbackData(&message.Message{Type: message.Data, MsgID: 1, Seq: t.seq, Data: buf[:]})
}

func (t *timer) Process() error {
	if t.polled {
		if t.clk.Now().Before(t.next) {
			return channel.ErrAgain
		}
		t.emit()
		if t.oneshot {
			t.SetState(channel.Closing)
			t.CloseFinish()
			return nil
		}
		t.next = t.next.Add(t.interval)
		return nil
	}

	n, err := timerfdRead(t.Channel.Fd())
	if err != nil {
		return err
	}
	if n == 0 {
		return channel.ErrAgain
	}
	t.emit()
	if t.oneshot {
		t.SetState(channel.Closing)
		t.Close(false)
		t.CloseFinish()
	}
	return nil
}

func (t *timer) Scheme(mt message.Type) *scheme.Scheme {
	if mt != message.Data {
		return nil
	}
	schemeOnce.Do(func() {
		parsedScheme, _ = scheme.Parse([]byte(expiryScheme))
	})
	return parsedScheme
}
