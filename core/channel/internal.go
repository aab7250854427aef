package channel

import (
	"github.com/rs/zerolog"

	"github.com/artpar/conduit/config"
	"github.com/artpar/conduit/core/message"
	"github.com/artpar/conduit/core/stat"
)

// Internal is the per-channel mutable bookkeeping block. It is owned by
// the channel and mutated only from the owning loop's goroutine.
type Internal struct {
	self *Channel

	state State
	caps  Caps
	dcaps DCaps
	// fd is -1 or a valid OS handle; it changes only during Opening and
	// Closing transitions.
	fd   int
	name string
	dump bool

	config *config.Config
	stat   *stat.Block

	// children is mutated only by the owning channel; mutations fire
	// ChannelAdd/ChannelDelete callbacks.
	children []*Channel

	// Data callbacks live in their own table so the hot path iterates a
	// contiguous vector without mask checks.
	dataCB  []cbSlot
	otherCB []cbSlot

	log zerolog.Logger
}

func newInternal(self *Channel, name string, log zerolog.Logger) *Internal {
	in := &Internal{
		self:   self,
		fd:     -1,
		name:   name,
		config: config.New(),
		log:    log,
	}
	in.config.Set("state", Closed.String())
	return in
}

// Name returns the channel name ("" for nameless channels).
func (in *Internal) Name() string { return in.name }

// State returns the current lifecycle state.
func (in *Internal) State() State { return in.state }

// Caps returns the static capabilities.
func (in *Internal) Caps() Caps { return in.caps }

// DCaps returns the dynamic capabilities.
func (in *Internal) DCaps() DCaps { return in.dcaps }

// Fd returns the pollable descriptor or -1.
func (in *Internal) Fd() int { return in.fd }

// Config returns the live config subtree of the channel.
func (in *Internal) Config() *config.Config { return in.config }

// Stat returns the channel's stat block, or nil.
func (in *Internal) Stat() *stat.Block { return in.stat }

// Children returns the current child list. The returned slice is the
// internal one: callers must not mutate it.
func (in *Internal) Children() []*Channel { return in.children }

// SetState transitions the state machine, mirrors the state into the
// live config and fires the State callback before returning.
func (in *Internal) SetState(s State) {
	if in.state == s {
		return
	}
	in.log.Debug().Str("from", in.state.String()).Str("to", s.String()).Msg("state change")
	in.state = s
	in.config.Set("state", s.String())
	in.Callback(&message.Message{Type: message.State, MsgID: int32(s)})
}

// DCapsUpdate applies set and clear bits to the dynamic caps and, when
// anything changed, announces the previous value with a ChannelUpdate
// message so observers can compute the delta.
func (in *Internal) DCapsUpdate(set, clear DCaps) {
	old := in.dcaps
	next := (old &^ clear) | set
	if next == old {
		return
	}
	in.dcaps = next
	in.Callback(&message.Message{
		Type:  message.Channel,
		MsgID: message.ChannelUpdate,
		Obj:   old,
	})
}

// UpdateFd installs a new descriptor and returns the previous one.
func (in *Internal) UpdateFd(fd int) int {
	old := in.fd
	in.fd = fd
	return old
}

// ChildAdd appends a child to the channel's child list and announces it.
func (in *Internal) ChildAdd(c *Channel) {
	in.children = append(in.children, c)
	c.parent = in.self
	in.log.Debug().Str("child", c.Name()).Msg("child added")
	in.Callback(&message.Message{
		Type:  message.Channel,
		MsgID: message.ChannelAdd,
		Obj:   c,
	})
}

// ChildDel removes a child from the child list and announces the removal.
func (in *Internal) ChildDel(c *Channel) {
	for i, x := range in.children {
		if x != c {
			continue
		}
		in.children = append(in.children[:i], in.children[i+1:]...)
		c.parent = nil
		in.log.Debug().Str("child", c.Name()).Msg("child removed")
		in.Callback(&message.Message{
			Type:  message.Channel,
			MsgID: message.ChannelDelete,
			Obj:   c,
		})
		return
	}
}

// CallbackData delivers a Data message through the dedicated data table
// and bumps rx counters. Subscriber errors are logged and swallowed: a
// misbehaving subscriber must not poison the channel.
func (in *Internal) CallbackData(m *message.Message) {
	if in.dump {
		in.log.Info().Int64("seq", m.Seq).Int("size", len(m.Data)).Msg("recv message")
	}
	if in.stat != nil {
		if p := in.stat.Acquire(); p != nil {
			p.RX++
			p.RXBytes += int64(len(m.Data))
			in.stat.Release(p)
		}
	}
	// Iterate a snapshot of the header: a subscriber may mutate the
	// table from inside its callback.
	table := in.dataCB
	for i := range table {
		s := table[i]
		if s.cb == nil {
			continue
		}
		if err := s.cb.OnMessage(in.self, m); err != nil {
			in.log.Error().Err(err).Msg("data callback error")
		}
	}
}

// Callback delivers a non-data message through the masked table.
func (in *Internal) Callback(m *message.Message) {
	if m.Type == message.Data {
		in.CallbackData(m)
		return
	}
	bit := message.Mask(m.Type)
	table := in.otherCB
	for i := range table {
		s := table[i]
		if s.cb == nil || s.mask&bit == 0 {
			continue
		}
		if err := s.cb.OnMessage(in.self, m); err != nil {
			in.log.Error().Err(err).Msg("callback error")
		}
	}
}
