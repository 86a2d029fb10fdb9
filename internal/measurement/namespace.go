package measurement

import (
	"iter"
	"sync"
	"sync/atomic"
)

// RootID is the id of the root namespace. It is always active and is never
// torn down.
const RootID = 1

// State is a namespace lifecycle state.
type State int32

const (
	StateCreated State = iota
	StateActive
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateActive:
		return "active"
	case StateTornDown:
		return "torn_down"
	}
	return "unknown"
}

// Namespace owns one measurement log, its digest index and its counters.
// All writes go through the Engine; the read methods are safe to call at any
// time from any goroutine.
type Namespace struct {
	id     int
	parent *Namespace

	// mu is the per-namespace exclusive section: duplicate check, log
	// append, index insert, extend and size update happen under it.
	mu    sync.Mutex
	log   *Log
	index *DigestIndex // nil when duplicate suppression is off

	size       atomic.Uint64
	violations atomic.Uint64
	state      atomic.Int32
}

func newNamespace(id int, parent *Namespace, cfg Config) *Namespace {
	ns := &Namespace{id: id, parent: parent, log: newLog()}
	if !cfg.DisableIndex {
		ns.index = NewDigestIndex(cfg.HashBuckets, cfg.IndexAlgorithm)
	}
	return ns
}

// ID returns the namespace id.
func (ns *Namespace) ID() int { return ns.id }

// Parent returns the parent namespace, or nil for the root.
func (ns *Namespace) Parent() *Namespace { return ns.parent }

// State returns the lifecycle state.
func (ns *Namespace) State() State { return State(ns.state.Load()) }

// Active reports whether the namespace admits and exposes measurements.
func (ns *Namespace) Active() bool { return ns.State() == StateActive }

// Entries yields the log in append order. Every call restarts at the head;
// entries appended during iteration may or may not be seen.
func (ns *Namespace) Entries() iter.Seq[*Entry] { return ns.log.All() }

// From yields the log starting at position pos.
func (ns *Namespace) From(pos uint64) iter.Seq[*Entry] { return ns.log.From(pos) }

// Len returns the number of entries in the log.
func (ns *Namespace) Len() uint64 { return ns.log.Len() }

// Lookup returns the entry recorded for (digest, pcr), or nil. digest is of
// the index algorithm. It always returns nil when duplicate suppression is
// off.
func (ns *Namespace) Lookup(digest []byte, pcr int) *Entry {
	if ns.index == nil {
		return nil
	}
	return ns.index.Lookup(digest, pcr)
}

// Index returns the digest index, or nil when duplicate suppression is off.
func (ns *Namespace) Index() *DigestIndex { return ns.index }

// Violations returns the number of violations recorded.
func (ns *Namespace) Violations() uint64 { return ns.violations.Load() }

// BinaryRuntimeSize returns the size of a warm-restart buffer holding the
// whole log: every record plus the fixed header, saturating at MaxUint64.
func (ns *Namespace) BinaryRuntimeSize() uint64 {
	return addSat(ns.size.Load(), HeaderSize)
}

// Restore appends an entry carried over from a previous boot. It is neither
// indexed nor extended into the register, which already holds it.
func (ns *Namespace) Restore(e *Entry) uint64 {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	n := &node{entry: e}
	ns.log.append(n)
	ns.addSize(e)
	return n.pos
}

// addSize must be called with mu held.
func (ns *Namespace) addSize(e *Entry) {
	ns.size.Store(addSat(ns.size.Load(), SizeOf(e)))
}

// chain returns ns and its ancestors up to the root.
func (ns *Namespace) chain() []*Namespace {
	var out []*Namespace
	for n := ns; n != nil; n = n.parent {
		out = append(out, n)
	}
	return out
}
