package channel

import (
	"testing"

	"github.com/artpar/conduit/core/message"
)

func cb() *CallbackFunc {
	return NewCallbackFunc(func(c *Channel, m *message.Message) error { return nil })
}

func TestCallbackAdd_Idempotent(t *testing.T) {
	var table []cbSlot
	h := cb()

	callbackAdd(&table, h, message.MaskState)
	callbackAdd(&table, h, message.MaskChannel)

	if len(table) != 1 {
		t.Fatalf("table size = %d, want 1", len(table))
	}
	want := message.MaskState | message.MaskChannel
	if table[0].mask != want {
		t.Errorf("mask = %#x, want %#x (union of both adds)", table[0].mask, want)
	}
}

func TestCallbackAdd_ReusesTombstone(t *testing.T) {
	var table []cbSlot
	h1, h2, h3 := cb(), cb(), cb()

	callbackAdd(&table, h1, message.MaskState)
	callbackAdd(&table, h2, message.MaskState)
	callbackAdd(&table, h3, message.MaskState)

	if !callbackDel(&table, h1, message.MaskState) {
		t.Fatal("del of existing callback failed")
	}
	// h1's slot is a tombstone; h2/h3 keep it alive at len 3.
	if len(table) != 3 {
		t.Fatalf("table size = %d, want 3", len(table))
	}

	h4 := cb()
	callbackAdd(&table, h4, message.MaskState)
	if len(table) != 3 {
		t.Errorf("table size = %d after tombstone reuse, want 3", len(table))
	}
	if table[0].cb != Callback(h4) {
		t.Error("new callback should occupy the freed slot")
	}
}

func TestCallbackDel_TruncatesTrailing(t *testing.T) {
	var table []cbSlot
	h1, h2 := cb(), cb()

	callbackAdd(&table, h1, message.MaskState)
	callbackAdd(&table, h2, message.MaskState)

	callbackDel(&table, h2, message.MaskState)
	if len(table) != 1 {
		t.Errorf("table size = %d, want 1 (trailing tombstone truncated)", len(table))
	}
	callbackDel(&table, h1, message.MaskState)
	if len(table) != 0 {
		t.Errorf("table size = %d, want 0", len(table))
	}
}

func TestCallbackDel_MaskNarrowing(t *testing.T) {
	var table []cbSlot
	h := cb()

	callbackAdd(&table, h, message.MaskState|message.MaskChannel)
	callbackDel(&table, h, message.MaskState)

	if len(table) != 1 {
		t.Fatalf("table size = %d, want 1 (mask not exhausted)", len(table))
	}
	if table[0].mask != message.MaskChannel {
		t.Errorf("mask = %#x, want %#x", table[0].mask, message.MaskChannel)
	}
}

func TestCallbackDel_Miss(t *testing.T) {
	var table []cbSlot
	if callbackDel(&table, cb(), message.MaskAll) {
		t.Error("del on empty table should miss")
	}
}
