// Package zero provides the zero channel: a benchmark source that yields
// a zero-filled data message of fixed size on every process call.
package zero

import (
	"fmt"

	"github.com/artpar/conduit/config"
	"github.com/artpar/conduit/core/channel"
	"github.com/artpar/conduit/core/message"
)

// Impl is the "zero" protocol implementation.
var Impl = &channel.Impl{
	Protocol:      "zero",
	OpenPolicy:    channel.OpenAuto,
	ProcessPolicy: channel.ProcessCustom,
	ClosePolicy:   channel.CloseNormal,
	New:           func() channel.Instance { return &zero{} },
}

type zero struct {
	channel.Base
	buf []byte
	seq int64
}

func (z *zero) Init(self *channel.Channel, url *config.URL, master *channel.Channel) error {
	z.Attach(self)
	size, err := url.GetSize("size", 1024)
	if err != nil {
		return fmt.Errorf("%w: %v", channel.ErrInvalid, err)
	}
	z.buf = make([]byte, size)
	return nil
}

func (z *zero) Open(props *config.Props) error {
	z.seq = 0
	// Work is always available: keep both the process and pending bits
	// armed so a loop never waits for this channel.
	z.UpdateDCaps(channel.DCapProcess|channel.DCapPending, 0)
	return nil
}

func (z *zero) Process() error {
	z.seq++
	z.CallbackData(&message.Message{Type: message.Data, Seq: z.seq, Data: z.buf})
	return nil
}
