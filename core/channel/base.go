package channel

import (
	"github.com/rs/zerolog"

	"github.com/artpar/conduit/config"
	"github.com/artpar/conduit/core/message"
	"github.com/artpar/conduit/core/scheme"
)

// Base supplies the common part of a channel implementation: access to
// the owning channel, its logger and the helpers implementations use to
// drive state, dynamic caps and callbacks. It implements every Instance
// method except Init, so a concrete implementation embeds Base and
// overrides only what it needs.
type Base struct {
	Channel *Channel
	Log     zerolog.Logger
}

// Attach binds the base to its channel. Implementations call it first
// thing in Init.
func (b *Base) Attach(self *Channel) {
	b.Channel = self
	b.Log = self.internal.log
}

// State returns the channel state.
func (b *Base) State() State { return b.Channel.internal.state }

// SetState transitions the channel state, firing the State callback.
func (b *Base) SetState(s State) { b.Channel.internal.SetState(s) }

// DCaps returns the channel's dynamic caps.
func (b *Base) DCaps() DCaps { return b.Channel.internal.dcaps }

// UpdateDCaps applies set/clear bits, announcing the change.
func (b *Base) UpdateDCaps(set, clear DCaps) {
	b.Channel.internal.DCapsUpdate(set, clear)
}

// DCapsPoll replaces the poll bits with the given subset.
func (b *Base) DCapsPoll(bits DCaps) {
	b.Channel.internal.DCapsUpdate(bits&DCapPollMask, DCapPollMask&^bits)
}

// UpdateFd installs a new descriptor and returns the previous one.
func (b *Base) UpdateFd(fd int) int { return b.Channel.internal.UpdateFd(fd) }

// ChildAdd registers a child channel and announces it.
func (b *Base) ChildAdd(c *Channel) { b.Channel.internal.ChildAdd(c) }

// ChildDel removes a child channel and announces the removal.
func (b *Base) ChildDel(c *Channel) { b.Channel.internal.ChildDel(c) }

// CallbackData emits a Data message to subscribers.
func (b *Base) CallbackData(m *message.Message) { b.Channel.internal.CallbackData(m) }

// Callback emits a message of any type to subscribers.
func (b *Base) Callback(m *message.Message) { b.Channel.internal.Callback(m) }

// CloseFinish completes a long close: clears caps and enters Closed.
func (b *Base) CloseFinish() { b.Channel.internal.CloseFinish() }

// Free implements Instance; the default releases nothing.
func (b *Base) Free() {}

// Open implements Instance; the default accepts any parameters.
func (b *Base) Open(props *config.Props) error { return nil }

// Close implements Instance; the default has nothing to flush.
func (b *Base) Close(force bool) error { return nil }

// Process implements Instance; the default reports no work.
func (b *Base) Process() error { return ErrAgain }

// Post implements Instance; the default rejects posts.
func (b *Base) Post(m *message.Message) error { return ErrInvalid }

// Scheme implements Instance; the default carries no catalog.
func (b *Base) Scheme(t message.Type) *scheme.Scheme { return nil }
