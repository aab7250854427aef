// Package direct provides the direct channel: a synchronous in-process
// pair. A post on one end surfaces immediately as a data callback on the
// other end. The second end is created with master= pointing at the
// first.
package direct

import (
	"fmt"

	"github.com/artpar/conduit/config"
	"github.com/artpar/conduit/core/channel"
	"github.com/artpar/conduit/core/message"
)

// Impl is the "direct" protocol implementation.
var Impl = &channel.Impl{
	Protocol:      "direct",
	OpenPolicy:    channel.OpenAuto,
	ProcessPolicy: channel.ProcessNever,
	ClosePolicy:   channel.CloseNormal,
	New:           func() channel.Instance { return &direct{} },
}

type direct struct {
	channel.Base
	peer *direct
}

func (d *direct) Init(self *channel.Channel, url *config.URL, master *channel.Channel) error {
	d.Attach(self)
	if master == nil {
		return nil
	}
	peer, ok := master.Instance().(*direct)
	if !ok {
		return fmt.Errorf("%w: master %q is not a direct channel", channel.ErrInvalid, master.Name())
	}
	d.peer = peer
	peer.peer = d
	return nil
}

func (d *direct) Free() {
	if d.peer != nil {
		d.peer.peer = nil
		d.peer = nil
	}
}

// Post delivers the message straight to the peer's subscribers. Posts
// while the peer is not active are dropped.
func (d *direct) Post(m *message.Message) error {
	if d.peer == nil || d.peer.State() != channel.Active {
		return nil
	}
	d.peer.Callback(m)
	return nil
}
