// Package loader provides the loader channel: a side-effect-only channel
// that loads a plug-in module into its context at init time. It carries
// no data; graphs use it to pull external protocol modules in through
// the same URL mechanism as every other channel.
//
//	loader://;module=path/to/module.so;symbol=ChannelModule
package loader

import (
	"fmt"

	"github.com/artpar/conduit/config"
	"github.com/artpar/conduit/core/channel"
)

// Impl is the "loader" protocol implementation.
var Impl = &channel.Impl{
	Protocol:      "loader",
	OpenPolicy:    channel.OpenAuto,
	ProcessPolicy: channel.ProcessNever,
	ClosePolicy:   channel.CloseNormal,
	New:           func() channel.Instance { return &loader{} },
}

type loader struct {
	channel.Base
}

func (l *loader) Init(self *channel.Channel, url *config.URL, master *channel.Channel) error {
	l.Attach(self)
	module := url.GetString("module", "")
	if module == "" {
		return fmt.Errorf("%w: loader needs a module parameter", channel.ErrInvalid)
	}
	symbol := url.GetString("symbol", "")
	return self.Context().LoadModule(module, symbol)
}
