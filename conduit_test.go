package conduit

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestNewContext_Builtins(t *testing.T) {
	ctx, err := NewContext(nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewContext() error = %v", err)
	}

	for _, proto := range []string{
		"direct", "ipc", "loader", "mem", "null", "serial",
		"tcp", "timeit+", "timer", "udp", "yaml", "zero", "zstd+",
	} {
		if ctx.Lookup(proto) == nil {
			t.Errorf("builtin %q not registered", proto)
		}
	}
}

func TestNewContext_MudpAlias(t *testing.T) {
	ctx, err := NewContext(nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	// mudp expands to udp with the multicast parameter merged in.
	c, err := ctx.NewChannel("mudp://239.255.0.1:5555;name=m", nil)
	if err != nil {
		t.Fatalf("NewChannel(mudp://) error = %v", err)
	}
	defer c.Free()

	if c.Impl().Protocol != "udp" {
		t.Errorf("impl = %q, want udp", c.Impl().Protocol)
	}
	want := "udp://239.255.0.1:5555;name=m;udp.multicast=yes"
	if got, _ := c.Config().Get("url"); got != want {
		t.Errorf("config url = %q, want %q", got, want)
	}
}

func TestNewContext_PrefixStack(t *testing.T) {
	ctx, err := NewContext(nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	// A compression prefix stacks over any built-in transport.
	c, err := ctx.NewChannel("zstd+null://;name=sink", nil)
	if err != nil {
		t.Fatalf("NewChannel(zstd+null://) error = %v", err)
	}
	defer c.Free()

	kids := c.Children()
	if len(kids) != 1 {
		t.Fatalf("children = %d, want 1", len(kids))
	}
	if kids[0].Name() != "sink/zstd" {
		t.Errorf("child name = %q, want sink/zstd", kids[0].Name())
	}
	if kids[0].Impl().Protocol != "null" {
		t.Errorf("child impl = %q, want null", kids[0].Impl().Protocol)
	}
}
