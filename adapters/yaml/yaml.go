// Package yaml provides the yaml channel: it replays scripted data
// messages from a yaml file, one per process call. Useful for feeding
// recorded scenarios into a channel graph.
//
// File format:
//
//	messages:
//	  - seq: 0
//	    msgid: 10
//	    data: "hello"
//	autoclose: true
package yaml

import (
	"fmt"
	"os"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/artpar/conduit/config"
	"github.com/artpar/conduit/core/channel"
	"github.com/artpar/conduit/core/message"
)

// Impl is the "yaml" protocol implementation.
var Impl = &channel.Impl{
	Protocol:      "yaml",
	OpenPolicy:    channel.OpenAuto,
	ProcessPolicy: channel.ProcessNormal,
	ClosePolicy:   channel.CloseNormal,
	New:           func() channel.Instance { return &replay{} },
}

type scriptMessage struct {
	Seq   int64  `yaml:"seq"`
	MsgID int32  `yaml:"msgid"`
	Data  string `yaml:"data"`
}

type script struct {
	Messages  []scriptMessage `yaml:"messages"`
	Autoclose bool            `yaml:"autoclose"`
}

type replay struct {
	channel.Base
	path      string
	autoclose bool
	msgs      []scriptMessage
	idx       int
}

func (r *replay) Init(self *channel.Channel, url *config.URL, master *channel.Channel) error {
	r.Attach(self)
	r.path = url.Host()
	if r.path == "" {
		return fmt.Errorf("%w: yaml channel needs a file path as host", channel.ErrInvalid)
	}
	ac, err := url.GetBool("autoclose", false)
	if err != nil {
		return fmt.Errorf("%w: %v", channel.ErrInvalid, err)
	}
	r.autoclose = ac
	return nil
}

func (r *replay) Open(props *config.Props) error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read scenario: %w", err)
	}
	var s script
	if err := yamlv3.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("parse scenario: %w", err)
	}
	r.msgs = s.Messages
	if s.Autoclose {
		r.autoclose = true
	}
	r.idx = 0
	if len(r.msgs) > 0 {
		r.UpdateDCaps(channel.DCapPending, 0)
	}
	return nil
}

func (r *replay) Process() error {
	if r.idx >= len(r.msgs) {
		r.UpdateDCaps(0, channel.DCapPending)
		if r.autoclose && r.State() == channel.Active {
			r.SetState(channel.Closing)
			r.CloseFinish()
			return nil
		}
		return channel.ErrAgain
	}
	m := r.msgs[r.idx]
	r.idx++
	if r.idx >= len(r.msgs) && !r.autoclose {
		r.UpdateDCaps(0, channel.DCapPending)
	}
	r.CallbackData(&message.Message{
		Type:  message.Data,
		MsgID: m.MsgID,
		Seq:   m.Seq,
		Data:  []byte(m.Data),
	})
	return nil
}
