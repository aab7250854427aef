// Package message defines the value type passed on every channel edge.
//
// Messages are borrowed views: Data is only valid for the duration of the
// callback that delivers it. A subscriber that needs the payload past the
// callback must Clone the message.
package message

// Type distinguishes the four message classes.
type Type int8

const (
	// Data is a normal message with a data payload.
	Data Type = iota
	// Control messages request channel-specific actions (cache flush,
	// file seek) when the transport supports them.
	Control
	// State messages announce state transitions; MsgID is the new state.
	State
	// Channel messages announce internal updates: dynamic caps changes
	// and child list mutations.
	Channel
)

// String returns the message type name.
func (t Type) String() string {
	switch t {
	case Data:
		return "Data"
	case Control:
		return "Control"
	case State:
		return "State"
	case Channel:
		return "Channel"
	}
	return "Unknown"
}

// Mask returns the subscription mask bit for a message type.
func Mask(t Type) uint32 { return 1 << uint32(t) }

// Subscription mask values for callback registration.
const (
	MaskData    uint32 = 1 << uint32(Data)
	MaskControl uint32 = 1 << uint32(Control)
	MaskState   uint32 = 1 << uint32(State)
	MaskChannel uint32 = 1 << uint32(Channel)
	MaskAll     uint32 = 0xffffffff
)

// MsgID values for Channel type messages.
const (
	// ChannelUpdate announces a dynamic caps change; Obj carries the
	// previous caps value so observers can compute the delta.
	ChannelUpdate int32 = iota
	// ChannelAdd announces a new child channel; Obj carries the child,
	// valid only during the call.
	ChannelAdd
	// ChannelDelete announces a removed child channel; Obj carries the
	// child, valid only during the call.
	ChannelDelete
)

// Message is the immutable value passed through posts and callbacks.
type Message struct {
	Type  Type
	MsgID int32
	Seq   int64
	Flags int16
	// Data is a borrowed byte view, valid only for the duration of the
	// callback call.
	Data []byte
	// Addr is an opaque routing token whose meaning is transport-defined.
	Addr int64
	// Obj carries in-process payloads for Channel messages: the affected
	// child for Add/Delete, the previous dynamic caps for Update.
	Obj any
}

// CopyInfo copies routing metadata (type, msgid, seq, addr) from src.
func (m *Message) CopyInfo(src *Message) {
	m.Type = src.Type
	m.MsgID = src.MsgID
	m.Seq = src.Seq
	m.Addr = src.Addr
}

// Clone returns a copy of the message with its own Data allocation, safe
// to retain past the delivering callback.
func (m *Message) Clone() *Message {
	out := *m
	if m.Data != nil {
		out.Data = make([]byte, len(m.Data))
		copy(out.Data, m.Data)
	}
	return &out
}
