package udp_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/artpar/conduit/adapters/udp"
	"github.com/artpar/conduit/core/channel"
	"github.com/artpar/conduit/core/channel/chtest"
	"github.com/artpar/conduit/core/message"
)

func newContext(t *testing.T) *channel.Context {
	t.Helper()
	ctx := channel.NewContext(nil, zerolog.Nop())
	if err := ctx.Register(udp.Impl, ""); err != nil {
		t.Fatal(err)
	}
	return ctx
}

// boundPort returns the ephemeral port the server socket landed on.
func boundPort(t *testing.T, c *channel.Channel) int {
	t.Helper()
	sa, err := unix.Getsockname(c.Fd())
	if err != nil {
		t.Fatalf("getsockname: %v", err)
	}
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return a.Port
	case *unix.SockaddrInet6:
		return a.Port
	}
	t.Fatal("unexpected sockaddr type")
	return 0
}

func TestUdp_RoundTrip(t *testing.T) {
	ctx := newContext(t)

	srv, err := ctx.NewChannel("udp://127.0.0.1:0;mode=server;name=srv", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Free()
	if err := srv.Open(""); err != nil {
		t.Fatalf("server open error = %v", err)
	}

	url := fmt.Sprintf("udp://127.0.0.1:%d;mode=client;name=cli", boundPort(t, srv))
	cli, err := ctx.NewChannel(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer cli.Free()
	if err := cli.Open(""); err != nil {
		t.Fatalf("client open error = %v", err)
	}

	var atServer, atClient chtest.Accum
	srv.CallbackAdd(&atServer, message.MaskData)
	cli.CallbackAdd(&atClient, message.MaskData)

	if err := cli.Post(&message.Message{Type: message.Data, Seq: 5, MsgID: 2, Data: []byte("ping")}); err != nil {
		t.Fatalf("client Post() error = %v", err)
	}
	if err := chtest.ProcessFor(srv, time.Second); err != nil {
		t.Fatalf("server recv error = %v", err)
	}
	if len(atServer.Msgs) != 1 {
		t.Fatalf("server received %d, want 1", len(atServer.Msgs))
	}
	got := atServer.Msgs[0]
	if got.Seq != 5 || got.MsgID != 2 || string(got.Data) != "ping" {
		t.Fatalf("server got seq=%d msgid=%d data=%q", got.Seq, got.MsgID, got.Data)
	}

	// Reply through the peer addr token.
	reply := got.Clone()
	reply.Seq = 6
	reply.Data = []byte("pong")
	if err := srv.Post(reply); err != nil {
		t.Fatalf("server Post() error = %v", err)
	}
	if err := chtest.ProcessFor(cli, time.Second); err != nil {
		t.Fatalf("client recv error = %v", err)
	}
	if len(atClient.Msgs) != 1 || string(atClient.Msgs[0].Data) != "pong" {
		t.Fatalf("client received %v", atClient.Seqs())
	}
}

func TestUdp_InvalidMode(t *testing.T) {
	ctx := newContext(t)
	if _, err := ctx.NewChannel("udp://127.0.0.1:1;mode=sideways;name=u", nil); err == nil {
		t.Error("invalid mode must fail at init")
	}
}
