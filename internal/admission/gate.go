// Package admission implements the cross-namespace admission gate.
//
// Namespaces share one trust-anchor register, and an event measured in a
// child namespace is admitted into every ancestor up to the root. The gate
// keeps those multi-namespace admissions in one global order: each starting
// namespace registers in a bounded FIFO ring, admissions wait until the
// cursor reaches their registration, and the root's completion advances the
// cursor to the next registration.
//
// Waiting is a blocking wait on a broadcast channel with a timeout. An
// expected registration that never reaches the cursor yields ErrTimeout
// instead of a hang.
package admission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultCapacity is the number of outstanding registrations the ring holds.
	DefaultCapacity = 1024

	// DefaultTimeout bounds a single Await.
	DefaultTimeout = 5 * time.Second
)

var (
	// ErrOverflow means the ring is full; the registration was not queued.
	ErrOverflow = errors.New("admission: queue overflow")

	// ErrTimeout means the cursor did not reach the expected registration in time.
	ErrTimeout = errors.New("admission: timed out waiting for turn")

	// ErrRetired means the ticket was already advanced past or withdrawn.
	ErrRetired = errors.New("admission: ticket retired")
)

// Ticket identifies one registration in the ring.
type Ticket struct {
	ID  int
	seq uint64
}

// Seq returns the global registration sequence number of t.
func (t Ticket) Seq() uint64 { return t.seq }

type slot struct {
	id        int
	withdrawn bool
}

// Gate is the bounded admission ring. The zero value is not usable; call New.
type Gate struct {
	mu      sync.Mutex
	ring    []slot
	head    uint64 // sequence number at the cursor
	tail    uint64 // next sequence number to hand out
	changed chan struct{}
	timeout time.Duration
}

// New creates a Gate. Non-positive arguments fall back to the defaults.
func New(capacity int, timeout time.Duration) *Gate {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gate{
		ring:    make([]slot, capacity),
		changed: make(chan struct{}),
		timeout: timeout,
	}
}

// Capacity returns the ring size.
func (g *Gate) Capacity() int { return len(g.ring) }

// Timeout returns the wait bound applied by Await and AwaitID.
func (g *Gate) Timeout() time.Duration { return g.timeout }

// Len returns the number of outstanding registrations, withdrawn ones
// included until the cursor passes them.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return int(g.tail - g.head)
}

// Cursor returns the namespace id at the cursor.
func (g *Gate) Cursor() (int, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.head == g.tail {
		return 0, false
	}
	return g.ring[g.head%uint64(len(g.ring))].id, true
}

// Register appends id to the ring.
func (g *Gate) Register(id int) (Ticket, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.tail-g.head == uint64(len(g.ring)) {
		return Ticket{}, fmt.Errorf("%w: namespace %d, %d registrations outstanding", ErrOverflow, id, len(g.ring))
	}
	t := Ticket{ID: id, seq: g.tail}
	g.ring[g.tail%uint64(len(g.ring))] = slot{id: id}
	g.tail++
	g.broadcast()
	return t, nil
}

// Await blocks until the cursor reaches t.
func (g *Gate) Await(ctx context.Context, t Ticket) error {
	return g.wait(ctx, func() (bool, error) {
		if t.seq < g.head {
			return false, fmt.Errorf("%w: namespace %d", ErrRetired, t.ID)
		}
		return t.seq == g.head && g.head < g.tail, nil
	})
}

// AwaitID blocks until the registration at the cursor belongs to id.
func (g *Gate) AwaitID(ctx context.Context, id int) error {
	return g.wait(ctx, func() (bool, error) {
		return g.head < g.tail && g.ring[g.head%uint64(len(g.ring))].id == id, nil
	})
}

// Advance retires the registration at the cursor and moves to the next live
// one. It reports false when the ring was empty.
func (g *Gate) Advance() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.head == g.tail {
		return false
	}
	g.head++
	g.skipWithdrawn()
	g.broadcast()
	return true
}

// Withdraw gives up a registration whose owner will never complete it. The
// cursor skips it, immediately when it is at the cursor.
func (g *Gate) Withdraw(t Ticket) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if t.seq < g.head || t.seq >= g.tail {
		return
	}
	if t.seq == g.head {
		g.head++
		g.skipWithdrawn()
		g.broadcast()
		return
	}
	g.ring[t.seq%uint64(len(g.ring))].withdrawn = true
}

func (g *Gate) wait(ctx context.Context, ready func() (bool, error)) error {
	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	for {
		g.mu.Lock()
		ok, err := ready()
		changed := g.changed
		g.mu.Unlock()

		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-changed:
		case <-timer.C:
			return ErrTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// skipWithdrawn must be called with mu held.
func (g *Gate) skipWithdrawn() {
	for g.head < g.tail {
		s := &g.ring[g.head%uint64(len(g.ring))]
		if !s.withdrawn {
			return
		}
		*s = slot{}
		g.head++
	}
}

// broadcast wakes every waiter. Must be called with mu held.
func (g *Gate) broadcast() {
	close(g.changed)
	g.changed = make(chan struct{})
}
