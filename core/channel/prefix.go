package channel

import (
	"fmt"
	"strings"

	"github.com/artpar/conduit/config"
	"github.com/artpar/conduit/core/message"
	"github.com/artpar/conduit/core/scheme"
)

// Prefix is the base for stacked channels whose protocol is "X+<inner>":
// it creates one internal child running the inner protocol, forwards
// open/close/post to it and translates its callbacks upward. Nothing
// distinguishes the generic prefix from a framing or compression layer;
// concrete prefixes customize behavior through the hook fields.
//
// Hooks are optional: a nil OnData re-emits child data upward, nil state
// hooks run the default state machine.
type Prefix struct {
	Base

	// Child is the wrapped inner channel, created during Init.
	Child *Channel

	// OnInit may mutate the child URL before the child is created.
	OnInit func(curl, url *config.URL, master *Channel) error
	// OnData handles child data messages; default re-emits upward.
	OnData func(m *message.Message) error
	// OnOther handles child control messages; default passes through.
	OnOther func(m *message.Message) error
	// OnActive runs when the child activates; an error moves the
	// channel to Error instead of Active.
	OnActive func() error
	// OnError runs when the child fails; default enters Error.
	OnError func() error
	// OnClosing runs when the child starts closing.
	OnClosing func() error
	// OnClosed runs when the child finished closing.
	OnClosed func() error
}

// PrefixImpl builds an Impl descriptor for a prefix protocol (the name
// must end with '+') around an instance constructor.
func PrefixImpl(protocol string, create func() Instance) *Impl {
	return &Impl{
		Protocol:      protocol,
		OpenPolicy:    OpenManual,
		ProcessPolicy: ProcessNever,
		ClosePolicy:   CloseLong,
		New:           create,
	}
}

// Init splits the protocol on the first '+', creates the inner child
// with the remainder, subscribes to it and announces it on the child
// list. The child is internal: named "<self>/<prefix>", hidden from the
// name index, with outer instrumentation keys stripped.
func (p *Prefix) Init(self *Channel, url *config.URL, master *Channel) error {
	p.Attach(self)

	proto := url.Proto()
	sep := strings.IndexByte(proto, '+')
	if sep < 0 {
		return fmt.Errorf("%w: invalid prefix proto %q: no '+' found", ErrInvalid, proto)
	}
	pproto := proto[:sep]

	curl := url.Copy()
	curl.SetProto(proto[sep+1:])
	curl.SetHost(url.Host())
	curl.Set(config.KeyName, self.Name()+"/"+pproto)
	curl.Set(config.KeyInternal, "yes")
	// dump and stat describe the outer channel only.
	curl.Unset(config.KeyDump)
	curl.Unset(config.KeyStat)

	if p.OnInit != nil {
		if err := p.OnInit(curl, url, master); err != nil {
			return fmt.Errorf("%w: prefix init hook: %v", ErrInvalid, err)
		}
	}

	child, err := self.Context().NewChannelURL(curl, master, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to create child channel: %v", ErrInvalid, err)
	}
	if err := child.CallbackAdd(p, message.MaskAll); err != nil {
		child.Free()
		return err
	}
	p.Child = child
	p.ChildAdd(child)
	return nil
}

// Free releases the child.
func (p *Prefix) Free() {
	if p.Child != nil {
		p.Child.Free()
		p.Child = nil
	}
}

// Open forwards to the child.
func (p *Prefix) Open(props *config.Props) error {
	return p.Child.Open(props.String())
}

// Close forwards to the child.
func (p *Prefix) Close(force bool) error {
	return p.Child.Close(force)
}

// Post forwards to the child.
func (p *Prefix) Post(m *message.Message) error {
	return p.Child.Post(m)
}

// Scheme borrows the child's catalog.
func (p *Prefix) Scheme(t message.Type) *scheme.Scheme {
	return p.Child.Scheme(t)
}

// OnMessage translates child callbacks: data through OnData, state
// through the prefix state machine, everything else upward.
func (p *Prefix) OnMessage(c *Channel, m *message.Message) error {
	switch m.Type {
	case message.Data:
		if p.OnData != nil {
			return p.OnData(m)
		}
		p.CallbackData(m)
		return nil
	case message.State:
		return p.onState(State(m.MsgID))
	default:
		if p.OnOther != nil {
			return p.OnOther(m)
		}
		p.Callback(m)
		return nil
	}
}

func (p *Prefix) onState(s State) error {
	switch s {
	case Active:
		if p.OnActive != nil {
			if err := p.OnActive(); err != nil {
				p.SetState(Error)
				return nil
			}
		}
		p.SetState(Active)
	case Error:
		if p.OnError != nil {
			return p.OnError()
		}
		p.SetState(Error)
	case Closing:
		if p.OnClosing != nil {
			return p.OnClosing()
		}
		if st := p.State(); st == Opening || st == Active {
			p.SetState(Closing)
		}
	case Closed:
		if p.OnClosed != nil {
			return p.OnClosed()
		}
		if p.State() == Closing {
			p.CloseFinish()
		}
	case Opening:
		p.SetState(Opening)
	}
	return nil
}
