// Package conduit is a polymorphic messaging channel runtime: arbitrary
// transports composed behind one uniform contract — open, close, post,
// process, receive-by-callback — instantiated from URLs, nested,
// aliased, stacked with prefixes and driven by a processor loop.
//
// NewContext returns a context with every built-in protocol registered:
//
//	ctx, err := conduit.NewContext(nil, logger)
//	c, err := ctx.NewChannel("tcp://localhost:5555;mode=client;name=feed", nil)
//
// Channels are usually handed to a loop.Loop, which polls descriptors,
// drives process work and adopts child channels automatically.
package conduit

import (
	"github.com/rs/zerolog"

	"github.com/artpar/conduit/adapters/direct"
	"github.com/artpar/conduit/adapters/ipc"
	"github.com/artpar/conduit/adapters/loader"
	"github.com/artpar/conduit/adapters/mem"
	"github.com/artpar/conduit/adapters/null"
	"github.com/artpar/conduit/adapters/serial"
	"github.com/artpar/conduit/adapters/tcp"
	"github.com/artpar/conduit/adapters/timeit"
	"github.com/artpar/conduit/adapters/timer"
	"github.com/artpar/conduit/adapters/udp"
	"github.com/artpar/conduit/adapters/yaml"
	"github.com/artpar/conduit/adapters/zero"
	"github.com/artpar/conduit/adapters/zstd"
	"github.com/artpar/conduit/config"
	"github.com/artpar/conduit/core/channel"
)

// builtins is the default protocol set registered into every context.
var builtins = []*channel.Impl{
	direct.Impl,
	ipc.Impl,
	loader.Impl,
	mem.Impl,
	null.Impl,
	serial.Impl,
	tcp.Impl,
	timeit.Impl,
	timer.Impl,
	udp.Impl,
	yaml.Impl,
	zero.Impl,
	zstd.Impl,
}

// NewContext creates a channel context with all built-in protocols and
// the "mudp" multicast alias registered. defaults may be nil.
func NewContext(defaults *config.Config, log zerolog.Logger) (*channel.Context, error) {
	ctx := channel.NewContext(defaults, log)
	if err := registerBuiltins(ctx); err != nil {
		return nil, err
	}
	return ctx, nil
}

func registerBuiltins(ctx *channel.Context) error {
	for _, impl := range builtins {
		if err := ctx.Register(impl, ""); err != nil {
			return err
		}
	}
	return ctx.RegisterAlias("mudp", "udp://;udp.multicast=yes")
}
