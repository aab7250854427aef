// Package stat provides lock-free per-channel counters.
//
// Each channel may own a Block holding a single Page of counters. Writers
// acquire the page with an atomic swap, update it exclusively and release
// it; a concurrent reader that finds the page taken simply skips the
// update. An exporter harvests counters by swapping in a fresh page.
package stat

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
)

// ErrBusy is returned when a page cannot be obtained after bounded retries.
var ErrBusy = errors.New("stat page unavailable")

// Page holds the standard channel counters. A page is owned exclusively
// between Acquire and Release.
type Page struct {
	RX      int64 // received messages
	RXBytes int64
	TX      int64 // posted messages
	TXBytes int64
}

// Block is a named holder of one active page.
type Block struct {
	name   string
	active atomic.Pointer[Page]
}

// NewBlock creates a block with an empty page installed.
func NewBlock(name string) *Block {
	b := &Block{name: name}
	b.active.Store(&Page{})
	return b
}

// Name returns the block name.
func (b *Block) Name() string { return b.name }

// SetName renames the block; used when a channel attaches an unnamed
// block to a context.
func (b *Block) SetName(name string) { b.name = name }

// Acquire takes exclusive ownership of the active page. Returns nil when
// another writer holds it; callers skip the update in that case.
func (b *Block) Acquire() *Page {
	return b.active.Swap(nil)
}

// Release returns a page taken with Acquire.
func (b *Block) Release(p *Page) {
	b.active.Store(p)
}

// Swap installs fresh as the active page and returns the previous one.
// It retries briefly while a writer holds the page and fails with ErrBusy
// if the page never shows up.
func (b *Block) Swap(fresh *Page) (*Page, error) {
	for i := 0; i < 1000; i++ {
		if old := b.active.Load(); old != nil && b.active.CompareAndSwap(old, fresh) {
			return old, nil
		}
		// A writer holds the page; wait for it to Release and try again.
		runtime.Gosched()
	}
	return nil, ErrBusy
}

// List is a collection of stat blocks owned by a context.
type List struct {
	mu     sync.Mutex
	blocks []*Block
}

// NewList creates an empty list.
func NewList() *List {
	return &List{}
}

// Add appends a block to the list.
func (l *List) Add(b *Block) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.blocks = append(l.blocks, b)
}

// Remove deletes a block from the list.
func (l *List) Remove(b *Block) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, x := range l.blocks {
		if x == b {
			l.blocks = append(l.blocks[:i], l.blocks[i+1:]...)
			return
		}
	}
}

// Each calls fn for every block under the list lock.
func (l *List) Each(fn func(*Block)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, b := range l.blocks {
		fn(b)
	}
}
