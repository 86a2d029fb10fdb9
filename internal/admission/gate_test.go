package admission_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/admission"
)

func TestGate_OverflowOnCapacityPlusOne(t *testing.T) {
	g := admission.New(1024, time.Second)

	for i := 0; i < 1024; i++ {
		_, err := g.Register(i + 2)
		require.NoError(t, err, "registration %d", i)
	}
	_, err := g.Register(9999)
	require.ErrorIs(t, err, admission.ErrOverflow)
	assert.Equal(t, 1024, g.Len())

	// draining one slot makes room again
	require.True(t, g.Advance())
	_, err = g.Register(9999)
	assert.NoError(t, err)
}

func TestGate_AwaitIDTimesOut(t *testing.T) {
	g := admission.New(8, 50*time.Millisecond)

	start := time.Now()
	err := g.AwaitID(context.Background(), 42)
	require.ErrorIs(t, err, admission.ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestGate_AwaitTimesOutBehindStuckHead(t *testing.T) {
	g := admission.New(8, 50*time.Millisecond)

	_, err := g.Register(2)
	require.NoError(t, err)
	second, err := g.Register(3)
	require.NoError(t, err)

	err = g.Await(context.Background(), second)
	assert.ErrorIs(t, err, admission.ErrTimeout)
}

func TestGate_FIFOByRegistration(t *testing.T) {
	g := admission.New(16, 2*time.Second)

	ids := []int{5, 3, 5, 9}
	tickets := make([]admission.Ticket, len(ids))
	for i, id := range ids {
		tk, err := g.Register(id)
		require.NoError(t, err)
		tickets[i] = tk
	}

	var (
		mu    sync.Mutex
		order []uint64
		wg    sync.WaitGroup
	)
	// start waiters in reverse to make sure wake-up order is not start order
	for i := len(tickets) - 1; i >= 0; i-- {
		wg.Add(1)
		go func(tk admission.Ticket) {
			defer wg.Done()
			assert.NoError(t, g.Await(context.Background(), tk))
			mu.Lock()
			order = append(order, tk.Seq())
			mu.Unlock()
			g.Advance()
		}(tickets[i])
	}
	wg.Wait()

	want := make([]uint64, len(tickets))
	for i, tk := range tickets {
		want[i] = tk.Seq()
	}
	assert.Equal(t, want, order)
	assert.Equal(t, 0, g.Len())
}

func TestGate_WithdrawUnblocksSuccessors(t *testing.T) {
	g := admission.New(8, time.Second)

	first, err := g.Register(2)
	require.NoError(t, err)
	middle, err := g.Register(3)
	require.NoError(t, err)
	last, err := g.Register(4)
	require.NoError(t, err)

	g.Withdraw(middle)
	g.Withdraw(first)

	id, ok := g.Cursor()
	require.True(t, ok)
	assert.Equal(t, 4, id, "withdrawn registrations are skipped")
	require.NoError(t, g.Await(context.Background(), last))

	err = g.Await(context.Background(), first)
	assert.ErrorIs(t, err, admission.ErrRetired)
}

func TestGate_AdvanceOnEmpty(t *testing.T) {
	g := admission.New(0, 0)
	assert.Equal(t, admission.DefaultCapacity, g.Capacity())
	assert.Equal(t, admission.DefaultTimeout, g.Timeout())
	assert.False(t, g.Advance())
	_, ok := g.Cursor()
	assert.False(t, ok)
}

func TestGate_AwaitHonoursContext(t *testing.T) {
	g := admission.New(4, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := g.AwaitID(ctx, 7)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGate_AwaitIDWakesOnRegister(t *testing.T) {
	g := admission.New(4, 2*time.Second)

	done := make(chan error, 1)
	go func() { done <- g.AwaitID(context.Background(), 6) }()

	time.Sleep(20 * time.Millisecond)
	_, err := g.Register(6)
	require.NoError(t, err)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("AwaitID did not wake after registration")
	}
}
