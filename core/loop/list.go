package loop

import "github.com/artpar/conduit/core/channel"

// compactList is a vector of channels with O(1) slot-nulling delete and
// lazy truncation. Insertion prefers a nulled slot before growing;
// iteration tolerates null slots.
type compactList struct {
	items []*channel.Channel
	size  int
}

func (l *compactList) add(c *channel.Channel) {
	for i := 0; i < l.size; i++ {
		if l.items[i] == nil {
			l.items[i] = c
			return
		}
	}
	if l.size < len(l.items) {
		l.items[l.size] = c
		l.size++
		return
	}
	l.items = append(l.items, c)
	l.size++
}

func (l *compactList) del(c *channel.Channel) {
	for i := 0; i < l.size; i++ {
		if l.items[i] == c {
			l.items[i] = nil
			break
		}
	}
	for l.size > 0 && l.items[l.size-1] == nil {
		l.size--
	}
}

// each calls fn for every live slot in slot order.
func (l *compactList) each(fn func(*channel.Channel)) {
	for i := 0; i < l.size; i++ {
		if c := l.items[i]; c != nil {
			fn(c)
		}
	}
}
