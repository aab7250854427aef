// Package null provides the null channel: posts are accepted and
// discarded, nothing is ever produced. Useful as a sink and as a
// replacement target in init-replace chains.
package null

import (
	"github.com/artpar/conduit/config"
	"github.com/artpar/conduit/core/channel"
	"github.com/artpar/conduit/core/message"
)

// Impl is the "null" protocol implementation.
var Impl = &channel.Impl{
	Protocol:      "null",
	OpenPolicy:    channel.OpenAuto,
	ProcessPolicy: channel.ProcessNever,
	ClosePolicy:   channel.CloseNormal,
	New:           func() channel.Instance { return &null{} },
}

type null struct {
	channel.Base
}

func (n *null) Init(self *channel.Channel, url *config.URL, master *channel.Channel) error {
	n.Attach(self)
	return nil
}

func (n *null) Post(m *message.Message) error { return nil }
