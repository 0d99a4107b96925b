// Package redisstore adapts a Redis server as a sesspool backing store.
// All sessions share one underlying client; each pooled session checks out
// a dedicated connection, suitable for stateful sequences such as
// MULTI/EXEC or WATCH.
package redisstore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/dispatchkit/sesspool"
)

// Store dials dedicated Redis connections for a sesspool.Pool.
type Store struct {
	client *redis.Client
}

// New creates a store with its own Redis client. Close releases the client.
func New(opts *redis.Options) *Store {
	return &Store{client: redis.NewClient(opts)}
}

// NewWithClient wraps an existing client. The caller keeps ownership of the
// client and is responsible for closing it.
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Connect implements sesspool.Store.
func (s *Store) Connect(ctx context.Context) (sesspool.Conn, error) {
	conn := s.client.Conn()
	if err := conn.Ping(ctx).Err(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &Conn{conn: conn}, nil
}

// Close releases the underlying client and its connections.
func (s *Store) Close() error {
	return s.client.Close()
}

// Conn is a single dedicated Redis connection.
type Conn struct {
	conn *redis.Conn
}

// Raw returns the underlying connection for running commands.
func (c *Conn) Raw() *redis.Conn {
	return c.conn
}

// Ping implements sesspool.Conn.
func (c *Conn) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx).Err()
}

// Close implements sesspool.Conn.
func (c *Conn) Close(context.Context) error {
	return c.conn.Close()
}
