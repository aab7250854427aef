package channel

import (
	"github.com/artpar/conduit/core/message"
)

// Callback receives messages from a channel. Implementations must be
// comparable values (pointer receivers are the norm): the pair used for
// deduplication and deletion is the callback value itself.
type Callback interface {
	OnMessage(c *Channel, m *message.Message) error
}

// CallbackFunc adapts a plain function to the Callback interface. The
// returned pointer is the identity used for later deletion.
type CallbackFunc struct {
	Fn func(c *Channel, m *message.Message) error
}

// NewCallbackFunc wraps fn into a deletable Callback handle.
func NewCallbackFunc(fn func(c *Channel, m *message.Message) error) *CallbackFunc {
	return &CallbackFunc{Fn: fn}
}

// OnMessage implements Callback.
func (f *CallbackFunc) OnMessage(c *Channel, m *message.Message) error {
	return f.Fn(c, m)
}

// cbSlot is one entry of a callback table. A nil cb is a tombstone left
// by deletion; trailing tombstones are truncated.
type cbSlot struct {
	cb   Callback
	mask uint32
}

// callbackAdd inserts or widens an entry. Re-adding an existing callback
// only ORs in the new mask bits; otherwise the first tombstone is reused
// before the table grows.
func callbackAdd(table *[]cbSlot, cb Callback, mask uint32) {
	empty := -1
	for i := range *table {
		s := &(*table)[i]
		if s.cb == nil {
			if empty < 0 {
				empty = i
			}
			continue
		}
		if s.cb == cb {
			s.mask |= mask
			return
		}
	}
	if empty >= 0 {
		(*table)[empty] = cbSlot{cb: cb, mask: mask}
		return
	}
	*table = append(*table, cbSlot{cb: cb, mask: mask})
}

// callbackDel clears mask bits from an entry; an entry whose mask drops
// to zero becomes a tombstone and trailing tombstones are truncated.
// Returns false when no entry matched.
func callbackDel(table *[]cbSlot, cb Callback, mask uint32) bool {
	for i := range *table {
		s := &(*table)[i]
		if s.cb != cb {
			continue
		}
		s.mask &^= mask
		if s.mask != 0 {
			return true
		}
		*s = cbSlot{}
		*table = shrink(*table)
		return true
	}
	return false
}

func shrink(table []cbSlot) []cbSlot {
	n := len(table)
	for n > 0 && table[n-1].cb == nil {
		n--
	}
	return table[:n]
}
