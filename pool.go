package sesspool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dispatchkit/sesspool/internal/waitqueue"
)

// Config holds the configuration for creating a session pool.
type Config struct {
	// Store dials new backing-store connections on demand. Required.
	Store Store

	// MaxSessionsCount is the maximum number of sessions that may be leased
	// concurrently. Required, must be positive.
	MaxSessionsCount int

	// AcquireTimeout bounds how long Acquire blocks while the pool is at
	// capacity. Zero means wait until the caller's context ends.
	AcquireTimeout time.Duration

	// PingOnAcquire validates an idle session before handing it out. A
	// session that fails the ping is discarded and replaced.
	PingOnAcquire bool

	// Logger receives release failures and recycling events.
	// Defaults to a no-op logger.
	Logger *zerolog.Logger
}

func (c Config) Validate() error {
	if c.Store == nil {
		return fmt.Errorf("store cannot be nil")
	}
	if c.MaxSessionsCount <= 0 {
		return fmt.Errorf("max sessions count must be positive: given %d", c.MaxSessionsCount)
	}
	if c.AcquireTimeout < 0 {
		return fmt.Errorf("acquire timeout cannot be negative: given %s", c.AcquireTimeout)
	}
	return nil
}

// Pool is a bounded set of reusable backing-store sessions. Sessions are
// dialed lazily through the configured Store and handed to blocked acquirers
// in FIFO order when the pool is at capacity.
type Pool struct {
	store  Store
	conf   Config
	logger zerolog.Logger

	mu         sync.Mutex
	idle       []*pooled
	leased     int
	generation uint64
	closed     bool

	waiters *waitqueue.Queue[*pooled]
}

// pooled is one backing-store connection tracked by the pool.
type pooled struct {
	id         uuid.UUID
	conn       Conn
	generation uint64

	// broken is set by the owning update via Session.Invalidate. It is only
	// read once the session comes back through release.
	broken bool
}

// New creates a session pool. No connection is dialed until the first
// Acquire call.
func New(conf Config) (*Pool, error) {
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pool configuration: %w", err)
	}
	logger := zerolog.Nop()
	if conf.Logger != nil {
		logger = *conf.Logger
	}
	return &Pool{
		store:   conf.Store,
		conf:    conf,
		logger:  logger,
		waiters: waitqueue.NewQueue[*pooled](),
	}, nil
}

// Acquire leases a session from the pool. While the pool is at capacity it
// blocks until another update releases its session, the configured
// AcquireTimeout elapses (ErrPoolExhausted), or ctx ends.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	if timeout := p.conf.AcquireTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	for {
		pc, w, err := p.tryAcquire(ctx)
		if err != nil {
			return nil, err
		}
		if pc != nil {
			return &Session{pool: p, pc: pc}, nil
		}

		pc, err = p.waiters.Await(ctx, w)
		if err != nil {
			if pc != nil {
				// A delivery raced the cancellation; hand the lease back.
				p.handBack(pc)
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: no session released within the acquire deadline", ErrPoolExhausted)
			}
			return nil, err
		}
		if pc != nil {
			return &Session{pool: p, pc: pc}, nil
		}
		// Capacity was freed rather than a session handed over; try again.
	}
}

// tryAcquire leases a pooled session without blocking. When the pool is at
// capacity it registers a waiter instead; exactly one of the session and the
// waiter is non-nil on success.
func (p *Pool) tryAcquire(ctx context.Context) (*pooled, *waitqueue.Waiter[*pooled], error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, nil, ErrPoolClosed
		}

		if n := len(p.idle); n > 0 {
			pc := p.idle[n-1]
			p.idle = p.idle[:n-1]
			p.leased++
			p.mu.Unlock()

			if p.conf.PingOnAcquire {
				if err := pc.conn.Ping(ctx); err != nil {
					p.logger.Warn().Err(err).Stringer("session", pc.id).
						Msg("idle session failed ping, discarding")
					p.closeConn(pc)
					p.mu.Lock()
					p.leased--
					p.mu.Unlock()
					continue
				}
			}
			return pc, nil, nil
		}

		if p.leased < p.conf.MaxSessionsCount {
			p.leased++ // reserve the slot before dialing
			p.mu.Unlock()

			conn, err := p.store.Connect(ctx)
			if err != nil {
				p.mu.Lock()
				p.leased--
				p.waiters.DeliverNext(nil) // the freed slot may unblock a waiter
				p.mu.Unlock()
				return nil, nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
			}

			p.mu.Lock()
			generation := p.generation
			p.mu.Unlock()
			return &pooled{id: uuid.New(), conn: conn, generation: generation}, nil, nil
		}

		w, err := p.waiters.Enqueue(uuid.NewString())
		p.mu.Unlock()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to enqueue waiter: %w", err)
		}
		return nil, w, nil
	}
}

// release returns a leased session to the pool. Broken or stale sessions are
// discarded and their freed capacity offered to the oldest waiter; healthy
// sessions are handed directly to a waiter when one is queued, otherwise
// parked in the idle set.
func (p *Pool) release(ctx context.Context, pc *pooled) error {
	p.mu.Lock()
	if pc.broken || pc.generation != p.generation || p.closed {
		p.leased--
		p.waiters.DeliverNext(nil)
		p.mu.Unlock()
		if err := pc.conn.Close(context.WithoutCancel(ctx)); err != nil {
			return fmt.Errorf("failed to close discarded session: %w", err)
		}
		return nil
	}

	if p.waiters.DeliverNext(pc) {
		// The lease transfers to the waiter; counters stay as they are.
		p.mu.Unlock()
		return nil
	}

	p.leased--
	p.idle = append(p.idle, pc)
	p.mu.Unlock()
	return nil
}

// handBack returns a session that was delivered to a waiter whose context
// had already ended.
func (p *Pool) handBack(pc *pooled) {
	if err := p.release(context.Background(), pc); err != nil {
		p.logger.Warn().Err(err).Stringer("session", pc.id).
			Msg("failed to hand back session after cancelled acquire")
	}
}

func (p *Pool) closeConn(pc *pooled) {
	if err := pc.conn.Close(context.Background()); err != nil {
		p.logger.Warn().Err(err).Stringer("session", pc.id).Msg("failed to close session")
	}
}

// InvalidateAll discards every pooled session. Idle sessions are closed
// immediately; leased sessions are closed when their update releases them.
// Call it after schema migrations or a backing-store failover so no update
// keeps working on a stale session.
func (p *Pool) InvalidateAll(ctx context.Context) {
	p.mu.Lock()
	p.generation++
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, pc := range idle {
		if err := pc.conn.Close(ctx); err != nil {
			p.logger.Warn().Err(err).Stringer("session", pc.id).
				Msg("failed to close recycled session")
		}
	}
	if len(idle) > 0 {
		p.logger.Info().Int("recycled", len(idle)).Msg("recycled idle sessions")
	}
}

// Stats reports a snapshot of the pool's bookkeeping.
type Stats struct {
	// Leased is the number of sessions currently checked out.
	Leased int

	// Idle is the number of sessions parked in the pool.
	Idle int

	// Waiting is the number of acquirers blocked on a full pool.
	Waiting int
}

// Stats returns a snapshot of the pool's counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Leased: p.leased, Idle: len(p.idle), Waiting: p.waiters.Len()}
}

// Close closes the pool. Idle sessions are closed immediately, leased
// sessions are closed as their updates release them, and blocked acquirers
// fail with ErrPoolClosed. Close does not wait for leased sessions to come
// back.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	for p.waiters.DeliverNext(nil) {
	}
	p.mu.Unlock()

	var errs []error
	for _, pc := range idle {
		if err := pc.conn.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to close session %s: %w", pc.id, err))
		}
	}
	return errors.Join(errs...)
}
