package sesspool

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgxlisten"
	"github.com/rs/zerolog"
)

// InvalidationListener recycles pooled sessions when a NOTIFY arrives on a
// PostgreSQL channel. Fire the notification after running schema migrations
// so no update keeps working on a session with stale schema state:
//
//	NOTIFY sesspool_invalidate;
//
// Idle sessions are closed as soon as the notification arrives; leased
// sessions are discarded when their update releases them.
type InvalidationListener struct {
	pool    *Pool
	channel string
	logger  zerolog.Logger
}

// NewInvalidationListener creates a listener that recycles pool on every
// notification received on channel.
func NewInvalidationListener(pool *Pool, channel string) *InvalidationListener {
	return &InvalidationListener{pool: pool, channel: channel, logger: pool.logger}
}

var _ pgxlisten.Handler = (*InvalidationListener)(nil)

// HandleNotification implements the pgxlisten.Handler interface.
func (l *InvalidationListener) HandleNotification(ctx context.Context, notification *pgconn.Notification, _ *pgx.Conn) error {
	l.logger.Info().Str("channel", notification.Channel).Str("payload", notification.Payload).
		Msg("invalidation notification received")
	l.pool.InvalidateAll(ctx)
	return nil
}

// Listen subscribes to the configured channel and blocks until ctx ends or
// the listening connection fails permanently. connect dials the dedicated
// LISTEN connection; it must not hand out one of the pool's own sessions.
func (l *InvalidationListener) Listen(ctx context.Context, connect func(context.Context) (*pgx.Conn, error)) error {
	listener := &pgxlisten.Listener{Connect: connect}
	listener.Handle(l.channel, l)
	return listener.Listen(ctx)
}
