package sesspool

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Session is a leased backing-store session, exclusively owned by one
// in-flight update until it is released.
type Session struct {
	pool        *Pool
	pc          *pooled
	releaseOnce sync.Once
	releaseErr  error
}

// ID returns the session's unique identifier. The identifier sticks to the
// underlying connection, so a connection handed from one update to the next
// keeps its ID across leases.
func (s *Session) ID() uuid.UUID {
	return s.pc.id
}

// Conn returns the backing-store connection for running work.
func (s *Session) Conn() Conn {
	return s.pc.conn
}

// Invalidate marks the session broken. On release the connection is closed
// and its pool slot freed instead of the session being reused.
func (s *Session) Invalidate() {
	s.pc.broken = true
}

// Release returns s to the pool.
// It is safe to call Release multiple times; subsequent calls are no-ops.
// This allows for both defer s.Release(ctx) and explicit release patterns.
func (s *Session) Release(ctx context.Context) error {
	s.releaseOnce.Do(func() {
		s.releaseErr = s.pool.release(ctx, s.pc)
	})
	return s.releaseErr
}

// Close releases the session back to the pool, ignoring any error.
// This method is provided for convenience with defer statements.
func (s *Session) Close() {
	_ = s.Release(context.Background())
}
