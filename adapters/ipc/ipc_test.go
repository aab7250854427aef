package ipc_test

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/conduit/adapters/ipc"
	"github.com/artpar/conduit/core/channel"
	"github.com/artpar/conduit/core/channel/chtest"
	"github.com/artpar/conduit/core/loop"
	"github.com/artpar/conduit/core/message"
)

func newContext(t *testing.T) *channel.Context {
	t.Helper()
	ctx := channel.NewContext(nil, zerolog.Nop())
	if err := ctx.Register(ipc.Impl, ""); err != nil {
		t.Fatal(err)
	}
	return ctx
}

func TestIpc_ClientRequiresActiveServer(t *testing.T) {
	ctx := newContext(t)

	srv, err := ctx.NewChannel("ipc://;mode=server;name=srv", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Free()

	cli, err := ctx.NewChannel("ipc://;mode=client;name=cli;master=srv", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer cli.Free()

	if err := cli.Open(""); err == nil {
		t.Error("client open before the server is active must fail")
	}
}

func TestIpc_RoundTrip(t *testing.T) {
	ctx := newContext(t)

	srv, err := ctx.NewChannel("ipc://;mode=server;name=srv", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Free()
	if err := srv.Open(""); err != nil {
		t.Fatal(err)
	}

	cli, err := ctx.NewChannel("ipc://;mode=client;name=cli;master=srv", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer cli.Free()
	if err := cli.Open(""); err != nil {
		t.Fatal(err)
	}

	var atServer, atClient chtest.Accum
	srv.CallbackAdd(&atServer, message.MaskData)
	cli.CallbackAdd(&atClient, message.MaskData)

	if err := cli.Post(&message.Message{Type: message.Data, Seq: 5, Data: []byte("req")}); err != nil {
		t.Fatalf("client Post() error = %v", err)
	}
	if err := chtest.ProcessFor(srv, time.Second); err != nil {
		t.Fatalf("server process error = %v", err)
	}
	if len(atServer.Msgs) != 1 || atServer.Msgs[0].Seq != 5 {
		t.Fatalf("server received %v, want seq 5", atServer.Seqs())
	}

	// Reply routed by the received addr.
	reply := &message.Message{Type: message.Data, Seq: 10, Data: []byte("rsp"), Addr: atServer.Msgs[0].Addr}
	if err := srv.Post(reply); err != nil {
		t.Fatalf("server Post() error = %v", err)
	}
	if err := chtest.ProcessFor(cli, time.Second); err != nil {
		t.Fatalf("client process error = %v", err)
	}
	if len(atClient.Msgs) != 1 || atClient.Msgs[0].Seq != 10 {
		t.Errorf("client received %v, want seq 10", atClient.Seqs())
	}

	// Replies to unknown addresses miss.
	if err := srv.Post(&message.Message{Type: message.Data, Addr: 999}); !errors.Is(err, channel.ErrNotFound) {
		t.Errorf("unknown addr Post() error = %v, want ErrNotFound", err)
	}
}

func TestIpc_CrossThread(t *testing.T) {
	const count = 100

	ctx := newContext(t)
	l, err := loop.New(zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	srv, err := ctx.NewChannel("ipc://;mode=server;name=srv", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Free()
	if err := l.Add(srv); err != nil {
		t.Fatal(err)
	}
	if err := srv.Open(""); err != nil {
		t.Fatal(err)
	}

	cli, err := ctx.NewChannel("ipc://;mode=client;name=cli;master=srv", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer cli.Free()
	if err := cli.Open(""); err != nil {
		t.Fatal(err)
	}

	var got chtest.Accum
	srv.CallbackAdd(&got, message.MaskData)

	// The producer lives in another goroutine; the server's loop wakes
	// through the event notifier.
	go func() {
		for i := 0; i < count; i++ {
			m := &message.Message{Type: message.Data, Seq: int64(i)}
			for {
				if err := cli.Post(m); !errors.Is(err, channel.ErrAgain) {
					break
				}
				time.Sleep(10 * time.Microsecond)
			}
		}
	}()

	deadline := time.Now().Add(5 * time.Second)
	for len(got.Msgs) < count && time.Now().Before(deadline) {
		c, err := l.Poll(10 * time.Millisecond)
		if err != nil {
			t.Fatalf("Poll() error = %v", err)
		}
		if c != nil {
			for c.Process() == nil {
			}
		}
	}

	if len(got.Msgs) != count {
		t.Fatalf("received %d messages, want %d", len(got.Msgs), count)
	}
	for i, m := range got.Msgs {
		if m.Seq != int64(i) {
			t.Fatalf("message %d has seq %d, per-client ordering broken", i, m.Seq)
		}
	}
}
