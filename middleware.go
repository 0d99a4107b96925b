package sesspool

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Kind categorizes an inbound update. The middleware only compares kinds
// against its skip set; hosts are free to define their own values.
type Kind string

// Update kinds produced by typical bot dispatchers. KindError and
// KindRawUpdate are the usual skip-set members: they report on dispatch
// itself and never need a session.
const (
	KindMessage       Kind = "message"
	KindCallbackQuery Kind = "callback_query"
	KindError         Kind = "error"
	KindRawUpdate     Kind = "raw_update"
)

// Update describes one inbound unit of work flowing through a dispatcher.
type Update struct {
	ID   int64
	Kind Kind
}

// Scope carries per-update state between the middleware hooks and the
// handlers. Before attaches the leased session here; After detaches and
// releases it. Handlers must not retain the session beyond the update.
type Scope struct {
	Session *Session
}

// Handler processes one update using the session attached to its scope.
type Handler func(ctx context.Context, u Update, sc *Scope) error

// Middleware leases one pool session per update and guarantees it is
// released exactly once when the update finishes, on every exit path.
// It holds only a reference to the pool; constructing it performs no I/O.
type Middleware struct {
	pool   *Pool
	skip   map[Kind]struct{}
	logger zerolog.Logger
}

// Option configures a Middleware.
type Option func(*Middleware)

// WithSkip excludes the given update kinds from session management. Skipped
// updates pass through Before and After without touching the pool.
func WithSkip(kinds ...Kind) Option {
	return func(m *Middleware) {
		for _, k := range kinds {
			m.skip[k] = struct{}{}
		}
	}
}

// WithLogger sets the logger for release failures and invariant violations.
// Defaults to the pool's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Middleware) {
		m.logger = logger
	}
}

// NewMiddleware creates a session-per-update middleware on top of pool.
func NewMiddleware(pool *Pool, opts ...Option) *Middleware {
	m := &Middleware{
		pool:   pool,
		skip:   make(map[Kind]struct{}),
		logger: pool.logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Middleware) skipped(kind Kind) bool {
	_, ok := m.skip[kind]
	return ok
}

// Before leases a session and attaches it to the update's scope. If the
// lease fails, the update must not be dispatched: the error is returned to
// the host and no session is held.
func (m *Middleware) Before(ctx context.Context, u Update, sc *Scope) error {
	if m.skipped(u.Kind) {
		return nil
	}
	s, err := m.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire session for update %d: %w", u.ID, err)
	}
	sc.Session = s
	return nil
}

// After releases the session attached by Before. The host must invoke it
// exactly once for every update Before accepted, regardless of the handler's
// outcome. A release failure is logged and the session discarded; it does
// not fail an otherwise successful update. A missing session is an
// invariant violation and is returned as ErrMissingSession.
func (m *Middleware) After(ctx context.Context, u Update, sc *Scope) error {
	if m.skipped(u.Kind) {
		return nil
	}
	s := sc.Session
	if s == nil {
		m.logger.Error().Int64("update", u.ID).Str("kind", string(u.Kind)).
			Msg("update scope lost its session")
		return fmt.Errorf("update %d: %w", u.ID, ErrMissingSession)
	}
	sc.Session = nil
	if err := s.Release(context.WithoutCancel(ctx)); err != nil {
		m.logger.Warn().Err(err).Int64("update", u.ID).Stringer("session", s.ID()).
			Msg("failed to release session")
	}
	return nil
}

// Run dispatches one update through fn with a session-scoped lifecycle. It
// is the integration point for hosts that cannot guarantee an unconditional
// after hook: the release runs in a deferred block, so it survives handler
// panics and context cancellation, and the handler's error propagates
// unchanged.
func (m *Middleware) Run(ctx context.Context, u Update, fn Handler) (err error) {
	sc := &Scope{}
	if berr := m.Before(ctx, u, sc); berr != nil {
		return berr
	}
	defer func() {
		if aerr := m.After(ctx, u, sc); aerr != nil && err == nil {
			err = aerr
		}
	}()
	return fn(ctx, u, sc)
}
