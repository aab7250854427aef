// Package chtest provides channel implementations and helpers shared by
// runtime tests: a loopback echo impl, a generic prefix impl and a
// message accumulator callback.
package chtest

import (
	"errors"
	"time"

	"github.com/artpar/conduit/adapters/null"
	"github.com/artpar/conduit/config"
	"github.com/artpar/conduit/core/channel"
	"github.com/artpar/conduit/core/message"
)

// ProcessFor drives Process until it reports something other than "no
// work" or the timeout elapses, in which case ErrTimeout is returned.
func ProcessFor(c *channel.Channel, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		err := c.Process()
		if !errors.Is(err, channel.ErrAgain) {
			return err
		}
		time.Sleep(100 * time.Microsecond)
	}
	return channel.ErrTimeout
}

// Echo loops every post back to the channel's own subscribers. Opening
// and closing each take one Process call, which makes lifecycle
// transitions observable in tests. A "null=yes" parameter makes Init
// replace the impl with null.
var Echo = &channel.Impl{
	Protocol:      "echo",
	OpenPolicy:    channel.OpenManual,
	ProcessPolicy: channel.ProcessNormal,
	ClosePolicy:   channel.CloseLong,
	New:           func() channel.Instance { return &echo{} },
}

type echo struct {
	channel.Base
}

func (e *echo) Init(self *channel.Channel, url *config.URL, master *channel.Channel) error {
	e.Attach(self)
	if b, err := url.GetBool("null", false); err != nil {
		return err
	} else if b {
		self.ReplaceImpl(null.Impl)
		return channel.ErrAgain
	}
	return nil
}

func (e *echo) Open(props *config.Props) error { return nil }

func (e *echo) Close(force bool) error { return nil }

func (e *echo) Post(m *message.Message) error {
	e.Callback(m)
	return nil
}

func (e *echo) Process() error {
	switch e.State() {
	case channel.Opening:
		e.SetState(channel.Active)
		return nil
	case channel.Closing:
		e.CloseFinish()
		return nil
	}
	return channel.ErrAgain
}

// Prefix is a transparent "prefix+" impl with default hooks.
var Prefix = channel.PrefixImpl("prefix+", func() channel.Instance {
	return &channel.Prefix{}
})

// Accum collects every delivered message, cloning payloads so they stay
// valid past the callback.
type Accum struct {
	Msgs []*message.Message
}

// OnMessage implements channel.Callback.
func (a *Accum) OnMessage(c *channel.Channel, m *message.Message) error {
	a.Msgs = append(a.Msgs, m.Clone())
	return nil
}

// Reset drops collected messages.
func (a *Accum) Reset() { a.Msgs = nil }

// Seqs returns the sequence numbers of collected messages.
func (a *Accum) Seqs() []int64 {
	out := make([]int64, len(a.Msgs))
	for i, m := range a.Msgs {
		out[i] = m.Seq
	}
	return out
}
