// Package channel implements the polymorphic channel runtime: the
// channel object and its lifecycle, callback dispatch, the prefix
// composition base and the Context registry that instantiates channels
// from URLs.
//
// A channel is an endpoint exposing open/close/post/process plus a typed
// callback subscription surface. Behavior is supplied by an Impl looked
// up in a Context; channels may own child channels which are announced to
// observers so a processor loop can adopt them automatically.
package channel

import (
	"fmt"

	"github.com/artpar/conduit/config"
	"github.com/artpar/conduit/core/message"
	"github.com/artpar/conduit/core/scheme"
)

// Channel is a polymorphic endpoint: an implementation descriptor, its
// per-channel instance state and the Internal bookkeeping block.
type Channel struct {
	impl     *Impl
	inst     Instance
	internal *Internal
	ctx      *Context
	parent   *Channel
}

// Impl returns the implementation descriptor the channel runs.
func (c *Channel) Impl() *Impl { return c.impl }

// ReplaceImpl stores a different implementation during Init. The instance
// then returns ErrAgain and the context retries initialization with the
// new impl.
func (c *Channel) ReplaceImpl(impl *Impl) { c.impl = impl }

// Internal exposes the bookkeeping block to implementations.
func (c *Channel) Internal() *Internal { return c.internal }

// Instance returns the implementation instance behind the channel.
// Paired transports use it to link against a master's state.
func (c *Channel) Instance() Instance { return c.inst }

// Context returns the owning context (borrowed, not referenced).
func (c *Channel) Context() *Context { return c.ctx }

// Parent returns the owning channel for children, or nil.
func (c *Channel) Parent() *Channel { return c.parent }

// Name returns the channel name ("" for nameless channels).
func (c *Channel) Name() string { return c.internal.name }

// State returns the lifecycle state.
func (c *Channel) State() State { return c.internal.state }

// Caps returns the static capabilities.
func (c *Channel) Caps() Caps { return c.internal.caps }

// DCaps returns the dynamic capabilities.
func (c *Channel) DCaps() DCaps { return c.internal.dcaps }

// Fd returns the pollable descriptor or -1.
func (c *Channel) Fd() int { return c.internal.fd }

// Config returns the live config subtree of the channel.
func (c *Channel) Config() *config.Config { return c.internal.config }

// Children returns the child list. Mutated only by the owning channel.
func (c *Channel) Children() []*Channel { return c.internal.children }

// Scheme returns the message catalog for a message type, or nil.
func (c *Channel) Scheme(t message.Type) *scheme.Scheme {
	if c == nil || c.inst == nil {
		return nil
	}
	return c.inst.Scheme(t)
}

// Open starts the transition from Closed to Opening. params is an open
// parameter string of the form "key=value;key=value".
func (c *Channel) Open(params string) error {
	if c == nil || c.impl == nil || c.inst == nil {
		return ErrInvalid
	}
	if s := c.internal.state; s != Closed {
		return fmt.Errorf("%w: open in state %s", ErrInvalid, s)
	}
	props, err := config.ParseProps(params)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	c.internal.SetState(Opening)
	if c.impl.ProcessPolicy == ProcessNormal {
		c.internal.DCapsUpdate(DCapProcess, 0)
	}
	if err := c.inst.Open(props); err != nil {
		c.internal.log.Error().Err(err).Msg("open failed")
		c.internal.SetState(Error)
		return err
	}
	if c.impl.OpenPolicy == OpenAuto {
		c.internal.SetState(Active)
	}
	return nil
}

// Close initiates the transition to Closing. With force the channel is
// torn down immediately even when the implementation closes slowly.
func (c *Channel) Close(force bool) error {
	if c == nil || c.impl == nil || c.inst == nil {
		return ErrInvalid
	}
	switch c.internal.state {
	case Closed, Destroy:
		return nil
	case Closing:
		if !force {
			return nil
		}
	}
	c.internal.SetState(Closing)
	err := c.inst.Close(force)
	if c.impl.ClosePolicy == CloseNormal || force {
		c.internal.CloseFinish()
	}
	return err
}

// Process drives one unit of work. It returns ErrAgain without reaching
// the implementation while the channel is suspended or the Process cap is
// clear; nil means progress was made and the caller should call again.
func (c *Channel) Process() error {
	if c == nil || c.impl == nil || c.inst == nil {
		return ErrInvalid
	}
	if !c.internal.dcaps.NeedProcess() {
		return ErrAgain
	}
	return c.inst.Process()
}

// Post submits a message to the channel. Successful Data posts update the
// channel's stat counters.
func (c *Channel) Post(m *message.Message) error {
	if c == nil || c.impl == nil || c.inst == nil {
		return ErrInvalid
	}
	if c.internal.dump {
		c.internal.log.Info().Int64("seq", m.Seq).Int("size", len(m.Data)).Msg("post message")
	}
	if err := c.inst.Post(m); err != nil {
		return err
	}
	if m.Type == message.Data && c.internal.stat != nil {
		if p := c.internal.stat.Acquire(); p != nil {
			p.TX++
			p.TXBytes += int64(len(m.Data))
			c.internal.stat.Release(p)
		}
	}
	return nil
}

// CallbackAdd subscribes cb to the message types selected by mask. The
// Data bit routes into the dedicated data table. Adds are idempotent:
// re-adding the same callback widens its mask.
func (c *Channel) CallbackAdd(cb Callback, mask uint32) error {
	if c == nil || cb == nil {
		return ErrInvalid
	}
	if mask&message.MaskData != 0 {
		callbackAdd(&c.internal.dataCB, cb, message.MaskData)
		mask &^= message.MaskData
		if mask == 0 {
			return nil
		}
	}
	callbackAdd(&c.internal.otherCB, cb, mask)
	return nil
}

// CallbackDel clears mask bits from an existing subscription, removing it
// entirely when the mask drops to zero. Returns ErrNotFound on a miss.
func (c *Channel) CallbackDel(cb Callback, mask uint32) error {
	if c == nil || cb == nil {
		return ErrInvalid
	}
	found := false
	if mask&message.MaskData != 0 {
		found = callbackDel(&c.internal.dataCB, cb, message.MaskData)
		mask &^= message.MaskData
	}
	if mask != 0 {
		if callbackDel(&c.internal.otherCB, cb, mask) {
			found = true
		}
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

// Suspend marks the channel explicitly suspended and suspends every
// descendant. The walk iterates the child lists directly, not callbacks,
// so suspension is synchronous.
func (c *Channel) Suspend() error {
	if c == nil || c.internal == nil {
		return ErrInvalid
	}
	c.internal.DCapsUpdate(DCapSuspendPermanent, 0)
	suspendTree(c)
	return nil
}

// Resume clears the explicit suspension and resumes descendants, except
// subtrees whose root is itself explicitly suspended: a parent's resume
// must not unsuspend a child the operator pinned.
func (c *Channel) Resume() error {
	if c == nil || c.internal == nil {
		return ErrInvalid
	}
	c.internal.DCapsUpdate(0, DCapSuspendPermanent)
	resumeTree(c)
	return nil
}

func suspendTree(c *Channel) {
	c.internal.DCapsUpdate(DCapSuspend, 0)
	for _, child := range c.internal.children {
		suspendTree(child)
	}
}

func resumeTree(c *Channel) {
	if c.internal.dcaps&DCapSuspendPermanent != 0 {
		return
	}
	c.internal.DCapsUpdate(0, DCapSuspend)
	for _, child := range c.internal.children {
		resumeTree(child)
	}
}

// Free destroys the channel: announces Destroy, removes it from the
// context name index and stat list, releases the instance and drops the
// context reference. The channel must not be used afterwards.
func (c *Channel) Free() {
	if c == nil || c.internal == nil {
		return
	}
	c.internal.SetState(Destroy)

	if c.internal.stat != nil && c.ctx != nil {
		c.ctx.stats.Remove(c.internal.stat)
	}
	if c.ctx != nil && c.internal.caps&CapCustom == 0 && c.internal.name != "" {
		if c.ctx.channels[c.internal.name] == c {
			delete(c.ctx.channels, c.internal.name)
			c.ctx.cfg.Del(c.internal.name)
		}
	}
	if c.inst != nil {
		c.inst.Free()
	}
	if c.ctx != nil {
		c.ctx.unref()
	}
	c.impl = nil
	c.inst = nil
}

// CloseFinish completes a close: clears poll, process and pending caps
// and enters Closed. Long-closing implementations call this (through
// Base) when their final flush completes.
func (in *Internal) CloseFinish() {
	in.DCapsUpdate(0, DCapPollMask|DCapProcess|DCapPending)
	in.SetState(Closed)
}
