// Package zstd provides the "zstd+" compression prefix: posted data
// messages are compressed before reaching the inner channel, inner data
// messages are decompressed before being re-emitted upward. Message
// metadata (msgid, seq, addr) passes through untouched.
package zstd

import (
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/artpar/conduit/config"
	"github.com/artpar/conduit/core/channel"
	"github.com/artpar/conduit/core/message"
)

// Impl is the "zstd+" prefix implementation.
var Impl = channel.PrefixImpl("zstd+", func() channel.Instance {
	z := &comp{}
	z.OnData = z.onData
	return z
})

type comp struct {
	channel.Prefix
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func (z *comp) Init(self *channel.Channel, url *config.URL, master *channel.Channel) error {
	if err := z.Prefix.Init(self, url, master); err != nil {
		return err
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return fmt.Errorf("%w: zstd encoder: %v", channel.ErrInvalid, err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return fmt.Errorf("%w: zstd decoder: %v", channel.ErrInvalid, err)
	}
	z.enc = enc
	z.dec = dec
	return nil
}

func (z *comp) Free() {
	if z.enc != nil {
		z.enc.Close()
		z.enc = nil
	}
	if z.dec != nil {
		z.dec.Close()
		z.dec = nil
	}
	z.Prefix.Free()
}

func (z *comp) Post(m *message.Message) error {
	if m.Type != message.Data {
		return z.Prefix.Post(m)
	}
	out := *m
	out.Data = z.enc.EncodeAll(m.Data, nil)
	return z.Prefix.Post(&out)
}

func (z *comp) onData(m *message.Message) error {
	data, err := z.dec.DecodeAll(m.Data, nil)
	if err != nil {
		z.Log.Error().Err(err).Int64("seq", m.Seq).Msg("zstd decode failed")
		return fmt.Errorf("%w: zstd decode: %v", channel.ErrInvalid, err)
	}
	out := *m
	out.Data = data
	z.CallbackData(&out)
	return nil
}
