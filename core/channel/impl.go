package channel

import (
	"github.com/artpar/conduit/config"
	"github.com/artpar/conduit/core/message"
	"github.com/artpar/conduit/core/scheme"
)

// OpenPolicy controls what happens after a successful Open hook.
type OpenPolicy int8

const (
	// OpenAuto transitions the channel straight to Active.
	OpenAuto OpenPolicy = iota
	// OpenManual leaves the channel in Opening; the implementation
	// drives it to Active itself (usually from Process).
	OpenManual
)

// ProcessPolicy controls how the Process dynamic cap is armed on open.
type ProcessPolicy int8

const (
	// ProcessNormal arms the Process cap when the channel opens.
	ProcessNormal ProcessPolicy = iota
	// ProcessNever leaves processing to children or callbacks.
	ProcessNever
	// ProcessCustom leaves cap management entirely to the impl.
	ProcessCustom
)

// ClosePolicy controls whether Close completes synchronously.
type ClosePolicy int8

const (
	// CloseNormal finishes the transition to Closed before Close returns.
	CloseNormal ClosePolicy = iota
	// CloseLong leaves the channel in Closing; the implementation emits
	// the final state itself (flushing transports).
	CloseLong
)

// Impl describes a channel implementation: the plug-in unit of the
// runtime. A protocol name ending in '+' marks a prefix implementation
// ("zstd+") that stacks over an inner protocol.
type Impl struct {
	Protocol string

	OpenPolicy    OpenPolicy
	ProcessPolicy ProcessPolicy
	ClosePolicy   ClosePolicy

	// New creates a fresh instance holding the per-channel state.
	New func() Instance
}

// Instance is the per-channel behavior behind a Channel. Implementations
// usually embed Base, which supplies defaults for everything but Init.
//
// Init may replace the implementation: store another impl with
// Channel.ReplaceImpl and return ErrAgain; the context re-runs Init with
// a fresh instance of the replacement.
type Instance interface {
	Init(self *Channel, url *config.URL, master *Channel) error
	Free()
	Open(props *config.Props) error
	Close(force bool) error
	Process() error
	Post(m *message.Message) error
	Scheme(t message.Type) *scheme.Scheme
}

// ModuleFlags adjust module loading behavior.
type ModuleFlags uint32

// ModuleGlobal requests global symbol visibility. Go plugins have no
// dlopen visibility control; the flag is accepted and ignored.
const ModuleGlobal ModuleFlags = 1 << 0

// Module is the descriptor a loadable plug-in exports under a known
// symbol (default "ChannelModule"). Load runs Init, then registers every
// impl the descriptor advertises.
type Module struct {
	Init  func(*Context) error
	Free  func(*Context) error
	Flags ModuleFlags
	Impls []*Impl
}
