package channel_test

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/artpar/conduit/adapters/null"
	"github.com/artpar/conduit/config"
	"github.com/artpar/conduit/core/channel"
	"github.com/artpar/conduit/core/channel/chtest"
	"github.com/artpar/conduit/core/message"
)

func newContext(t *testing.T) *channel.Context {
	t.Helper()
	return channel.NewContext(nil, zerolog.Nop())
}

func TestContext_Register(t *testing.T) {
	ctx := newContext(t)

	if _, err := ctx.NewChannel("echo://;name=echo", nil); err == nil {
		t.Fatal("NewChannel should fail before echo is registered")
	}
	if err := ctx.Register(chtest.Echo, ""); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := ctx.Register(chtest.Echo, ""); !errors.Is(err, channel.ErrExists) {
		t.Errorf("second Register() error = %v, want ErrExists", err)
	}

	// Register under a different name.
	if err := ctx.Register(chtest.Echo, "other"); err != nil {
		t.Fatalf("Register(other) error = %v", err)
	}
	c, err := ctx.NewChannel("other://;name=other", nil)
	if err != nil {
		t.Fatalf("NewChannel(other://) error = %v", err)
	}
	if c.Impl() != chtest.Echo {
		t.Error("other:// should resolve to the echo impl")
	}
	c.Free()

	if err := ctx.Unregister(chtest.Echo, "other"); err != nil {
		t.Fatalf("Unregister(other) error = %v", err)
	}
	if _, err := ctx.NewChannel("other://;name=o", nil); !errors.Is(err, channel.ErrNotFound) {
		t.Errorf("NewChannel after unregister error = %v, want ErrNotFound", err)
	}

	if err := ctx.Unregister(chtest.Echo, ""); err != nil {
		t.Fatalf("Unregister() error = %v", err)
	}
	if err := ctx.Unregister(chtest.Echo, ""); !errors.Is(err, channel.ErrNotFound) {
		t.Errorf("second Unregister() error = %v, want ErrNotFound (not idempotent)", err)
	}
}

// driveChannel runs the register/open/post/close scenario shared by the
// echo, prefix and alias tests. For channels with children the child
// does the processing.
func driveChannel(t *testing.T, ctx *channel.Context, url string, impl *channel.Impl, eurl string) {
	t.Helper()
	if eurl == "" {
		eurl = url
	}

	process := func(c *channel.Channel) error {
		if kids := c.Children(); len(kids) > 0 {
			return kids[0].Process()
		}
		return c.Process()
	}

	c, err := ctx.NewChannel(url, nil)
	if err != nil {
		t.Fatalf("NewChannel(%s) error = %v", url, err)
	}
	defer c.Free()

	if c.Impl() != impl {
		t.Fatalf("impl = %v, want %v", c.Impl().Protocol, impl.Protocol)
	}
	if c.State() != channel.Closed {
		t.Fatalf("initial state = %v, want Closed", c.State())
	}
	if err := c.Open(""); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if c.State() != channel.Opening {
		t.Fatalf("state after open = %v, want Opening", c.State())
	}
	if err := process(c); err != nil {
		t.Fatalf("process error = %v", err)
	}
	if c.State() != channel.Active {
		t.Fatalf("state = %v, want Active", c.State())
	}
	if err := process(c); !errors.Is(err, channel.ErrAgain) {
		t.Fatalf("idle process error = %v, want ErrAgain", err)
	}

	if got, _ := c.Config().Get("state"); got != "Active" {
		t.Errorf("config state = %q, want Active", got)
	}
	if got, _ := c.Config().Get("url"); got != eurl {
		t.Errorf("config url = %q, want %q", got, eurl)
	}

	var rseq int64
	sub := channel.NewCallbackFunc(func(_ *channel.Channel, m *message.Message) error {
		rseq = m.Seq
		return nil
	})
	if err := c.CallbackAdd(sub, message.MaskAll); err != nil {
		t.Fatalf("CallbackAdd() error = %v", err)
	}

	if err := c.Post(&message.Message{Type: message.Data, Seq: 100}); err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	if rseq != 100 {
		t.Errorf("callback seq = %d, want 100", rseq)
	}

	if err := c.Close(false); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if c.State() != channel.Closing {
		t.Fatalf("state after close = %v, want Closing", c.State())
	}
	process(c)
	if c.State() != channel.Closed {
		t.Fatalf("state = %v, want Closed", c.State())
	}
}

func TestContext_Echo(t *testing.T) {
	ctx := newContext(t)
	if err := ctx.Register(chtest.Echo, ""); err != nil {
		t.Fatal(err)
	}
	driveChannel(t, ctx, "echo://;name=echo", chtest.Echo, "")
}

func TestContext_PrefixEcho(t *testing.T) {
	ctx := newContext(t)
	if err := ctx.Register(chtest.Echo, ""); err != nil {
		t.Fatal(err)
	}
	if err := ctx.Register(chtest.Prefix, ""); err != nil {
		t.Fatal(err)
	}
	driveChannel(t, ctx, "prefix+echo://;name=echo", chtest.Prefix, "")
}

func TestContext_PrefixChild(t *testing.T) {
	ctx := newContext(t)
	ctx.Register(chtest.Echo, "")
	ctx.Register(chtest.Prefix, "")

	c, err := ctx.NewChannel("prefix+echo://;name=p", nil)
	if err != nil {
		t.Fatalf("NewChannel() error = %v", err)
	}
	defer c.Free()

	kids := c.Children()
	if len(kids) != 1 {
		t.Fatalf("children = %d, want 1", len(kids))
	}
	child := kids[0]
	if child.Name() != "p/prefix" {
		t.Errorf("child name = %q, want p/prefix", child.Name())
	}
	if child.Impl() != chtest.Echo {
		t.Errorf("child impl = %v, want echo", child.Impl().Protocol)
	}
	if child.Caps()&channel.CapCustom == 0 {
		t.Error("child should carry the Custom cap")
	}
	if ctx.Get("p/prefix") != nil {
		t.Error("internal child must not appear in the name index")
	}
}

func TestContext_AliasEcho(t *testing.T) {
	ctx := newContext(t)

	if err := ctx.RegisterAlias("alias", "echo://"); !errors.Is(err, channel.ErrNotFound) {
		t.Errorf("alias before impl error = %v, want ErrNotFound", err)
	}

	if err := ctx.Register(chtest.Echo, ""); err != nil {
		t.Fatal(err)
	}

	if err := ctx.RegisterAlias("echo", "echo://"); !errors.Is(err, channel.ErrExists) {
		t.Errorf("alias shadowing impl error = %v, want ErrExists", err)
	}
	if err := ctx.RegisterAlias("alias", "echo://host"); !errors.Is(err, channel.ErrInvalid) {
		t.Errorf("alias with host error = %v, want ErrInvalid", err)
	}
	if err := ctx.RegisterAlias("alias", "echo://;name=name"); !errors.Is(err, channel.ErrInvalid) {
		t.Errorf("alias with name error = %v, want ErrInvalid", err)
	}

	if err := ctx.RegisterAlias("alias", "echo://"); err != nil {
		t.Fatalf("RegisterAlias() error = %v", err)
	}
	if err := ctx.RegisterAlias("alias", "echo://"); !errors.Is(err, channel.ErrExists) {
		t.Errorf("duplicate alias error = %v, want ErrExists", err)
	}

	driveChannel(t, ctx, "alias://;name=echo", chtest.Echo, "echo://;name=echo")
}

func TestContext_AliasPrefix(t *testing.T) {
	ctx := newContext(t)
	ctx.Register(chtest.Echo, "")
	ctx.Register(chtest.Prefix, "")

	if err := ctx.RegisterAlias("alias+", "prefix+://"); err != nil {
		t.Fatalf("RegisterAlias(alias+) error = %v", err)
	}
	if err := ctx.RegisterAlias("other", "echo://"); err != nil {
		t.Fatalf("RegisterAlias(other) error = %v", err)
	}

	driveChannel(t, ctx, "alias+other://;name=echo", chtest.Prefix, "prefix+other://;name=echo")
}

func TestContext_AliasIndirect(t *testing.T) {
	ctx := newContext(t)
	ctx.Register(chtest.Echo, "")
	ctx.Register(chtest.Prefix, "")

	if err := ctx.RegisterAlias("other+", "prefix+://"); err != nil {
		t.Fatal(err)
	}
	if err := ctx.RegisterAlias("alias", "other+echo://"); err != nil {
		t.Fatal(err)
	}

	driveChannel(t, ctx, "alias://;name=echo", chtest.Prefix, "prefix+echo://;name=echo")
}

func TestContext_AliasNull(t *testing.T) {
	ctx := newContext(t)
	ctx.Register(chtest.Echo, "")

	if err := ctx.RegisterAlias("alias", "echo://;null=yes"); err != nil {
		t.Fatal(err)
	}

	c, err := ctx.NewChannel("alias://;name=alias", nil)
	if err != nil {
		t.Fatalf("NewChannel() error = %v", err)
	}
	defer c.Free()

	if c.Impl() != null.Impl {
		t.Errorf("impl = %v, want null", c.Impl().Protocol)
	}
	if got, _ := c.Config().Get("url"); got != "echo://;name=alias;null=yes" {
		t.Errorf("config url = %q, want echo://;name=alias;null=yes", got)
	}
}

func TestContext_AliasDuplicateKey(t *testing.T) {
	ctx := newContext(t)
	ctx.Register(chtest.Echo, "")

	if err := ctx.RegisterAlias("alias", "echo://;null=yes"); err != nil {
		t.Fatal(err)
	}
	// The caller's url already carries null=: merge must fail.
	if _, err := ctx.NewChannel("alias://;name=a;null=no", nil); !errors.Is(err, channel.ErrInvalid) {
		t.Errorf("duplicate key resolution error = %v, want ErrInvalid", err)
	}
}

func TestContext_UnregisterAlias(t *testing.T) {
	ctx := newContext(t)
	ctx.Register(chtest.Echo, "")
	ctx.RegisterAlias("alias", "echo://")

	if err := ctx.UnregisterAlias("echo", "echo://"); !errors.Is(err, channel.ErrInvalid) {
		t.Errorf("unregister alias over impl error = %v, want ErrInvalid", err)
	}
	if err := ctx.UnregisterAlias("alias", "zero://"); !errors.Is(err, channel.ErrInvalid) {
		t.Errorf("unregister alias with wrong proto error = %v, want ErrInvalid", err)
	}
	if err := ctx.UnregisterAlias("alias", "echo://"); err != nil {
		t.Fatalf("UnregisterAlias() error = %v", err)
	}
	if err := ctx.UnregisterAlias("alias", "echo://"); !errors.Is(err, channel.ErrNotFound) {
		t.Errorf("second UnregisterAlias() error = %v, want ErrNotFound", err)
	}
}

func TestContext_InitReplace(t *testing.T) {
	ctx := newContext(t)
	ctx.Register(chtest.Echo, "")

	c, err := ctx.NewChannel("echo://;name=echo-null;null=yes", nil)
	if err != nil {
		t.Fatalf("NewChannel() error = %v", err)
	}
	defer c.Free()

	if c.Impl() != null.Impl {
		t.Fatalf("impl = %v, want null", c.Impl().Protocol)
	}
	if err := c.Open(""); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if c.State() != channel.Active {
		t.Errorf("state = %v, want Active (null opens directly)", c.State())
	}
	if err := c.Process(); !errors.Is(err, channel.ErrAgain) {
		t.Errorf("Process() error = %v, want ErrAgain", err)
	}
}

// flipper impls replace each other forever; initialization must detect
// the loop.
type flipper struct {
	channel.Base
	other **channel.Impl
}

func TestContext_InitReplaceLoop(t *testing.T) {
	ctx := newContext(t)

	var implA, implB *channel.Impl
	implA = &channel.Impl{
		Protocol: "flip",
		New:      func() channel.Instance { return &flipper{other: &implB} },
	}
	implB = &channel.Impl{
		Protocol: "flop",
		New:      func() channel.Instance { return &flipper{other: &implA} },
	}
	if err := ctx.Register(implA, ""); err != nil {
		t.Fatal(err)
	}

	_, err := ctx.NewChannel("flip://;name=f", nil)
	if !errors.Is(err, channel.ErrInvalid) {
		t.Errorf("NewChannel() error = %v, want ErrInvalid (loop detected)", err)
	}
}

func (f *flipper) Init(self *channel.Channel, url *config.URL, master *channel.Channel) error {
	f.Attach(self)
	self.ReplaceImpl(*f.other)
	return channel.ErrAgain
}

func TestContext_NameIndex(t *testing.T) {
	ctx := newContext(t)
	ctx.Register(chtest.Echo, "")

	c, err := ctx.NewChannel("echo://;name=e", nil)
	if err != nil {
		t.Fatal(err)
	}
	if ctx.Get("e") != c {
		t.Error("Get() should return the live channel")
	}

	// Duplicate names are rejected.
	if _, err := ctx.NewChannel("echo://;name=e", nil); !errors.Is(err, channel.ErrExists) {
		t.Errorf("duplicate name error = %v, want ErrExists", err)
	}

	// Internal channels stay out of the index.
	ci, err := ctx.NewChannel("echo://;name=hidden;tll.internal=yes", nil)
	if err != nil {
		t.Fatal(err)
	}
	if ctx.Get("hidden") != nil {
		t.Error("internal channel must not be indexed")
	}
	if ci.Caps()&channel.CapCustom == 0 {
		t.Error("internal channel should carry the Custom cap")
	}
	ci.Free()

	// Nameless channels are legal and unindexed.
	cn, err := ctx.NewChannel("echo://", nil)
	if err != nil {
		t.Fatalf("nameless NewChannel() error = %v", err)
	}
	cn.Free()

	c.Free()
	if ctx.Get("e") != nil {
		t.Error("Get() should miss after Free")
	}
}

func TestContext_Master(t *testing.T) {
	ctx := newContext(t)
	ctx.Register(chtest.Echo, "")

	if _, err := ctx.NewChannel("echo://;name=c;master=missing", nil); !errors.Is(err, channel.ErrNotFound) {
		t.Errorf("missing master error = %v, want ErrNotFound", err)
	}

	m, err := ctx.NewChannel("echo://;name=m", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Free()

	c, err := ctx.NewChannel("echo://;name=c;master=m", nil)
	if err != nil {
		t.Fatalf("NewChannel with master error = %v", err)
	}
	c.Free()
}

func TestContext_Default(t *testing.T) {
	if channel.Default() != channel.Default() {
		t.Error("Default() must return the same context")
	}
}
