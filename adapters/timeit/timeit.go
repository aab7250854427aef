// Package timeit provides the "timeit+" measuring prefix: it wraps any
// inner channel and logs the latency of every post and of every inner
// data callback dispatch.
package timeit

import (
	"time"

	"github.com/artpar/conduit/core/channel"
	"github.com/artpar/conduit/core/message"
)

// Impl is the "timeit+" prefix implementation.
var Impl = channel.PrefixImpl("timeit+", func() channel.Instance {
	t := &timeit{}
	t.OnData = t.onData
	return t
})

type timeit struct {
	channel.Prefix
}

func (t *timeit) Post(m *message.Message) error {
	start := time.Now()
	err := t.Prefix.Post(m)
	t.Log.Info().
		Dur("elapsed", time.Since(start)).
		Int64("seq", m.Seq).
		Bool("ok", err == nil).
		Msg("post")
	return err
}

func (t *timeit) onData(m *message.Message) error {
	start := time.Now()
	t.CallbackData(m)
	t.Log.Info().
		Dur("elapsed", time.Since(start)).
		Int64("seq", m.Seq).
		Msg("data dispatch")
	return nil
}
