package loop_test

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/conduit/adapters/zero"
	"github.com/artpar/conduit/core/channel"
	"github.com/artpar/conduit/core/channel/chtest"
	"github.com/artpar/conduit/core/loop"
	"github.com/artpar/conduit/core/message"
)

func newLoop(t *testing.T) *loop.Loop {
	t.Helper()
	l, err := loop.New(zerolog.Nop())
	if err != nil {
		t.Fatalf("loop.New() error = %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func newContext(t *testing.T) *channel.Context {
	t.Helper()
	ctx := channel.NewContext(nil, zerolog.Nop())
	if err := ctx.Register(chtest.Echo, ""); err != nil {
		t.Fatal(err)
	}
	if err := ctx.Register(chtest.Prefix, ""); err != nil {
		t.Fatal(err)
	}
	if err := ctx.Register(zero.Impl, ""); err != nil {
		t.Fatal(err)
	}
	return ctx
}

func TestLoop_PendingSelfNotify(t *testing.T) {
	l := newLoop(t)
	ctx := newContext(t)

	c, err := ctx.NewChannel("zero://;size=16;name=z", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Free()

	var accum chtest.Accum
	c.CallbackAdd(&accum, message.MaskData)

	if err := l.Add(c); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := c.Open(""); err != nil {
		t.Fatal(err)
	}

	// Pending is armed: a poll with a long timeout must return at once.
	start := time.Now()
	got, err := l.Poll(5 * time.Second)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if got != nil {
		t.Errorf("Poll() returned channel %v, want nil (pending drain)", got.Name())
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Poll() took %v, want immediate return on pending work", elapsed)
	}
	if len(accum.Msgs) == 0 {
		t.Error("pending drain should have produced data")
	}
}

func TestLoop_PendingDisarmsOnClose(t *testing.T) {
	l := newLoop(t)
	ctx := newContext(t)

	c, err := ctx.NewChannel("zero://;size=16;name=z", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Free()

	l.Add(c)
	c.Open("")
	if _, err := l.Poll(time.Second); err != nil {
		t.Fatal(err)
	}

	// Closing clears the pending cap; the self-notify must disarm and
	// the next poll must run into its timeout.
	c.Close(false)
	start := time.Now()
	got, err := l.Poll(100 * time.Millisecond)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if got != nil {
		t.Errorf("Poll() returned %v, want timeout", got.Name())
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("Poll() returned after %v, want a full timeout wait", elapsed)
	}
}

func TestLoop_ProcessAggregate(t *testing.T) {
	l := newLoop(t)
	ctx := newContext(t)

	c, err := ctx.NewChannel("echo://;name=e", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Free()

	l.Add(c)
	if err := c.Open(""); err != nil {
		t.Fatal(err)
	}

	// One round makes progress (Opening -> Active)...
	if err := l.Process(); err != nil {
		t.Fatalf("Process() error = %v, want progress", err)
	}
	if c.State() != channel.Active {
		t.Fatalf("state = %v, want Active", c.State())
	}
	// ...the next is uniformly idle.
	if err := l.Process(); !errors.Is(err, channel.ErrAgain) {
		t.Errorf("idle Process() error = %v, want ErrAgain", err)
	}
}

func TestLoop_AdoptsPrefixChild(t *testing.T) {
	l := newLoop(t)
	ctx := newContext(t)

	c, err := ctx.NewChannel("prefix+echo://;name=p", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Free()

	// The child existed before adoption; Add picks it up.
	l.Add(c)
	if err := c.Open(""); err != nil {
		t.Fatal(err)
	}

	// Driving the loop processes the child, which activates the stack.
	if err := l.Process(); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if c.State() != channel.Active {
		t.Errorf("state = %v, want Active via child processing", c.State())
	}
}

func TestLoop_DestroyRemoves(t *testing.T) {
	l := newLoop(t)
	ctx := newContext(t)

	c, err := ctx.NewChannel("echo://;name=e", nil)
	if err != nil {
		t.Fatal(err)
	}
	l.Add(c)
	c.Open("")

	// Free announces Destroy; the loop must drop the channel.
	c.Free()
	if err := l.Process(); !errors.Is(err, channel.ErrAgain) {
		t.Errorf("Process() after destroy error = %v, want ErrAgain", err)
	}
}

func TestLoop_ExplicitDel(t *testing.T) {
	l := newLoop(t)
	ctx := newContext(t)

	c, err := ctx.NewChannel("echo://;name=e", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Free()

	l.Add(c)
	c.Open("")
	if err := l.Del(c); err != nil {
		t.Fatalf("Del() error = %v", err)
	}
	if err := l.Process(); !errors.Is(err, channel.ErrAgain) {
		t.Errorf("Process() after del error = %v, want ErrAgain", err)
	}
}
