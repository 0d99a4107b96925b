package sesspool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory backing store shared by the package tests.
type fakeStore struct {
	mu       sync.Mutex
	dials    int
	dialErr  error
	pingErr  error
	closeErr error
	conns    []*fakeConn

	// gate, when non-nil, blocks Connect until the channel is closed.
	gate chan struct{}
}

func (s *fakeStore) Connect(ctx context.Context) (Conn, error) {
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dialErr != nil {
		return nil, s.dialErr
	}
	s.dials++
	c := &fakeConn{store: s}
	s.conns = append(s.conns, c)
	return c, nil
}

func (s *fakeStore) dialCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

func (s *fakeStore) closedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.conns {
		if c.closed {
			n++
		}
	}
	return n
}

func (s *fakeStore) setDialErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dialErr = err
}

func (s *fakeStore) setPingErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingErr = err
}

func (s *fakeStore) setCloseErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeErr = err
}

type fakeConn struct {
	store  *fakeStore
	closed bool
}

func (c *fakeConn) Ping(context.Context) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	return c.store.pingErr
}

func (c *fakeConn) Close(context.Context) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	c.closed = true
	return c.store.closeErr
}

func newTestPool(t *testing.T, conf Config) (*Pool, *fakeStore) {
	t.Helper()
	store := &fakeStore{}
	conf.Store = store
	if conf.MaxSessionsCount == 0 {
		conf.MaxSessionsCount = 2
	}
	pool, err := New(conf)
	require.NoError(t, err, "New should not return an error")
	t.Cleanup(func() { _ = pool.Close(context.Background()) })
	return pool, store
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	t.Run("rejects nil store", func(t *testing.T) {
		_, err := New(Config{MaxSessionsCount: 1})
		require.ErrorContains(t, err, "store cannot be nil")
	})

	t.Run("rejects non-positive max sessions count", func(t *testing.T) {
		_, err := New(Config{Store: &fakeStore{}, MaxSessionsCount: 0})
		require.ErrorContains(t, err, "must be positive")
	})

	t.Run("rejects negative acquire timeout", func(t *testing.T) {
		_, err := New(Config{Store: &fakeStore{}, MaxSessionsCount: 1, AcquireTimeout: -time.Second})
		require.ErrorContains(t, err, "cannot be negative")
	})
}

func TestPool_AcquireRelease(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	pool, store := newTestPool(t, Config{})

	session, err := pool.Acquire(ctx)
	require.NoError(t, err, "failed to acquire session")
	require.NotNil(t, session.Conn(), "session should carry a connection")
	assert.Equal(t, Stats{Leased: 1}, pool.Stats())

	require.NoError(t, session.Release(ctx), "failed to release session")
	assert.Equal(t, Stats{Idle: 1}, pool.Stats())
	assert.Equal(t, 1, store.dialCount())
}

func TestPool_ReusesIdleSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	pool, store := newTestPool(t, Config{})

	first, err := pool.Acquire(ctx)
	require.NoError(t, err)
	firstID := first.ID()
	require.NoError(t, first.Release(ctx))

	second, err := pool.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, firstID, second.ID(), "idle session should be reused, not redialed")
	assert.Equal(t, 1, store.dialCount(), "no second dial expected")
}

func TestPool_AcquireTimeout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	const timeout = 100 * time.Millisecond
	pool, _ := newTestPool(t, Config{MaxSessionsCount: 2, AcquireTimeout: timeout})

	for range 2 {
		_, err := pool.Acquire(ctx)
		require.NoError(t, err)
	}

	start := time.Now()
	_, err := pool.Acquire(ctx)
	require.ErrorIs(t, err, ErrPoolExhausted, "third acquire should time out")
	assert.GreaterOrEqual(t, time.Since(start), timeout, "acquire should block for the configured timeout")
	assert.Equal(t, 2, pool.Stats().Leased, "leased count must not exceed capacity")
}

func TestPool_CancelledWhileWaiting(t *testing.T) {
	t.Parallel()
	pool, _ := newTestPool(t, Config{MaxSessionsCount: 1})

	_, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err = pool.Acquire(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, ErrPoolExhausted, "caller cancellation is not pool exhaustion")
	assert.Zero(t, pool.Stats().Waiting, "cancelled waiter should leave the queue")
}

// TestPool_ReleaseHandsOffToOldestWaiter covers the scenario where two
// updates hold the whole pool, two more are blocked, and each release wakes
// exactly one waiter, oldest first, reusing the released connection.
func TestPool_ReleaseHandsOffToOldestWaiter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	pool, store := newTestPool(t, Config{MaxSessionsCount: 2})

	a, err := pool.Acquire(ctx)
	require.NoError(t, err)
	b, err := pool.Acquire(ctx)
	require.NoError(t, err)

	type result struct {
		session *Session
		err     error
	}
	cResults := make(chan result, 1)
	dResults := make(chan result, 1)

	go func() {
		s, err := pool.Acquire(ctx)
		cResults <- result{s, err}
	}()
	require.Eventually(t, func() bool { return pool.Stats().Waiting == 1 },
		time.Second, time.Millisecond, "first waiter should be queued")

	go func() {
		s, err := pool.Acquire(ctx)
		dResults <- result{s, err}
	}()
	require.Eventually(t, func() bool { return pool.Stats().Waiting == 2 },
		time.Second, time.Millisecond, "second waiter should be queued")

	// Releasing A must wake exactly the oldest waiter with A's connection.
	aID := a.ID()
	require.NoError(t, a.Release(ctx))

	c := <-cResults
	require.NoError(t, c.err, "oldest waiter should acquire after release")
	assert.Equal(t, aID, c.session.ID(), "released session should transfer to the waiter")

	stats := pool.Stats()
	assert.Equal(t, 2, stats.Leased, "leased count must stay at capacity")
	assert.Zero(t, stats.Idle)
	assert.Equal(t, 1, stats.Waiting, "only one waiter may be woken per release")

	bID := b.ID()
	require.NoError(t, b.Release(ctx))
	d := <-dResults
	require.NoError(t, d.err)
	assert.Equal(t, bID, d.session.ID())
	assert.Equal(t, 2, store.dialCount(), "hand-off must not dial new connections")
}

func TestPool_DialFailure(t *testing.T) {
	t.Parallel()
	pool, store := newTestPool(t, Config{})
	store.setDialErr(errors.New("connection refused"))

	_, err := pool.Acquire(context.Background())
	require.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Zero(t, pool.Stats().Leased, "failed dial must not hold a lease")
}

// TestPool_DialFailureWakesWaiter pins down the slot bookkeeping when a dial
// fails while another acquirer is queued: the freed slot must wake the
// waiter instead of leaking capacity.
func TestPool_DialFailureWakesWaiter(t *testing.T) {
	t.Parallel()
	pool, store := newTestPool(t, Config{MaxSessionsCount: 1})
	store.gate = make(chan struct{})

	dialing := make(chan error, 1)
	go func() {
		_, err := pool.Acquire(context.Background())
		dialing <- err
	}()
	require.Eventually(t, func() bool { return pool.Stats().Leased == 1 },
		time.Second, time.Millisecond, "dialing acquirer should reserve the slot")

	waiting := make(chan error, 1)
	go func() {
		_, err := pool.Acquire(context.Background())
		waiting <- err
	}()
	require.Eventually(t, func() bool { return pool.Stats().Waiting == 1 },
		time.Second, time.Millisecond, "second acquirer should be queued")

	store.setDialErr(errors.New("connection refused"))
	close(store.gate)

	require.ErrorIs(t, <-dialing, ErrStoreUnavailable)
	require.ErrorIs(t, <-waiting, ErrStoreUnavailable, "waiter must be woken to retry, not left hanging")
	assert.Equal(t, Stats{}, pool.Stats())
}

func TestPool_PingOnAcquireDiscardsBroken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	pool, store := newTestPool(t, Config{PingOnAcquire: true})

	session, err := pool.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, session.Release(ctx))

	store.setPingErr(errors.New("connection reset"))
	replacement, err := pool.Acquire(ctx)
	require.NoError(t, err, "a broken idle session should be replaced, not surfaced")
	assert.NotEqual(t, session.ID(), replacement.ID())
	assert.Equal(t, 2, store.dialCount(), "replacement should be dialed")
	assert.Equal(t, 1, store.closedCount(), "broken session should be closed")
	assert.Equal(t, 1, pool.Stats().Leased)
}

func TestPool_InvalidateAll(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	pool, store := newTestPool(t, Config{})

	leased, err := pool.Acquire(ctx)
	require.NoError(t, err)
	idle, err := pool.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, idle.Release(ctx))

	pool.InvalidateAll(ctx)
	assert.Zero(t, pool.Stats().Idle, "idle sessions should be recycled immediately")
	assert.Equal(t, 1, store.closedCount())

	// The leased session is stale now; release must discard it.
	require.NoError(t, leased.Release(ctx))
	assert.Equal(t, Stats{}, pool.Stats())
	assert.Equal(t, 2, store.closedCount())

	// A fresh acquire gets a newly dialed session.
	_, err = pool.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, store.dialCount())
}

func TestPool_Close(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("closes idle sessions and rejects acquires", func(t *testing.T) {
		pool, store := newTestPool(t, Config{})
		session, err := pool.Acquire(ctx)
		require.NoError(t, err)
		require.NoError(t, session.Release(ctx))

		require.NoError(t, pool.Close(ctx))
		assert.Equal(t, 1, store.closedCount())

		_, err = pool.Acquire(ctx)
		require.ErrorIs(t, err, ErrPoolClosed)
		require.NoError(t, pool.Close(ctx), "closing twice should be a no-op")
	})

	t.Run("wakes blocked waiters", func(t *testing.T) {
		pool, _ := newTestPool(t, Config{MaxSessionsCount: 1})
		session, err := pool.Acquire(ctx)
		require.NoError(t, err)

		waiting := make(chan error, 1)
		go func() {
			_, err := pool.Acquire(context.Background())
			waiting <- err
		}()
		require.Eventually(t, func() bool { return pool.Stats().Waiting == 1 },
			time.Second, time.Millisecond)

		require.NoError(t, pool.Close(ctx))
		require.ErrorIs(t, <-waiting, ErrPoolClosed)

		// A lease released after close is discarded, not pooled.
		require.NoError(t, session.Release(ctx))
		assert.Equal(t, Stats{}, pool.Stats())
	})
}
