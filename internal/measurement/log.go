package measurement

import (
	"iter"
	"sync/atomic"
)

// node links one entry into a namespace log and, optionally, one bucket of
// its digest index. Both links are set before the node is published.
type node struct {
	entry *Entry
	pos   uint64
	next  atomic.Pointer[node]
	hnext *node
}

// Log is an append-only list of entries. Appends are serialised by the
// owning namespace; readers take no lock and only ever see fully built nodes.
type Log struct {
	head  node // sentinel
	tail  *node
	count atomic.Uint64
}

func newLog() *Log {
	l := &Log{}
	l.tail = &l.head
	return l
}

// append links n after the current tail. Caller holds the namespace lock.
func (l *Log) append(n *node) {
	n.pos = l.count.Load()
	l.tail.next.Store(n)
	l.tail = n
	l.count.Add(1)
}

// Len returns the number of entries. It may briefly trail the entries a
// concurrent reader can reach.
func (l *Log) Len() uint64 { return l.count.Load() }

// All yields every entry in append order. Each call starts at the head.
func (l *Log) All() iter.Seq[*Entry] {
	return l.From(0)
}

// From yields entries starting at position pos.
func (l *Log) From(pos uint64) iter.Seq[*Entry] {
	return func(yield func(*Entry) bool) {
		for n := l.head.next.Load(); n != nil; n = n.next.Load() {
			if n.pos < pos {
				continue
			}
			if !yield(n.entry) {
				return
			}
		}
	}
}
