package zstd_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/artpar/conduit/adapters/zstd"
	"github.com/artpar/conduit/core/channel"
	"github.com/artpar/conduit/core/channel/chtest"
	"github.com/artpar/conduit/core/message"
)

// openStack builds an active zstd+echo stack: posts travel compressed
// into the echo child, loop back and decompress on the way up.
func openStack(t *testing.T) *channel.Channel {
	t.Helper()
	ctx := channel.NewContext(nil, zerolog.Nop())
	if err := ctx.Register(chtest.Echo, ""); err != nil {
		t.Fatal(err)
	}
	if err := ctx.Register(zstd.Impl, ""); err != nil {
		t.Fatal(err)
	}

	c, err := ctx.NewChannel("zstd+echo://;name=z", nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Free)

	if err := c.Open(""); err != nil {
		t.Fatal(err)
	}
	if err := c.Children()[0].Process(); err != nil {
		t.Fatal(err)
	}
	if c.State() != channel.Active {
		t.Fatalf("state = %v, want Active", c.State())
	}
	return c
}

func TestZstd_RoundTrip(t *testing.T) {
	c := openStack(t)

	var up chtest.Accum
	c.CallbackAdd(&up, message.MaskData)

	payload := []byte(strings.Repeat("conduit ", 512))
	if err := c.Post(&message.Message{Type: message.Data, Seq: 42, Data: payload}); err != nil {
		t.Fatalf("Post() error = %v", err)
	}

	if len(up.Msgs) != 1 {
		t.Fatalf("received %d messages, want 1", len(up.Msgs))
	}
	if up.Msgs[0].Seq != 42 {
		t.Errorf("seq = %d, want 42 (metadata passes through)", up.Msgs[0].Seq)
	}
	if !bytes.Equal(up.Msgs[0].Data, payload) {
		t.Error("payload does not survive the compress/decompress round trip")
	}
}

func TestZstd_CompressesOnTheWire(t *testing.T) {
	c := openStack(t)

	// Subscribe to the inner channel: it sees the compressed frames.
	var wire chtest.Accum
	c.Children()[0].CallbackAdd(&wire, message.MaskData)

	payload := []byte(strings.Repeat("a", 4096))
	if err := c.Post(&message.Message{Type: message.Data, Data: payload}); err != nil {
		t.Fatal(err)
	}

	if len(wire.Msgs) != 1 {
		t.Fatalf("inner channel saw %d messages, want 1", len(wire.Msgs))
	}
	if len(wire.Msgs[0].Data) >= len(payload) {
		t.Errorf("wire size %d not smaller than payload %d", len(wire.Msgs[0].Data), len(payload))
	}
}
