// Package pgxstore adapts a PostgreSQL database as a sesspool backing store.
// Each pooled session owns one dedicated pgx connection.
package pgxstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dispatchkit/sesspool"
)

// Store dials PostgreSQL sessions for a sesspool.Pool.
type Store struct {
	config *pgx.ConnConfig
}

// New creates a store from a connection string in URL or keyword/value
// format, as accepted by pgx.ParseConfig.
func New(connString string) (*Store, error) {
	config, err := pgx.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	return &Store{config: config}, nil
}

// NewWithConfig creates a store from an already-parsed connection config.
// The config is copied on every dial, so the caller may keep mutating it.
func NewWithConfig(config *pgx.ConnConfig) *Store {
	return &Store{config: config}
}

// Connect implements sesspool.Store.
func (s *Store) Connect(ctx context.Context) (sesspool.Conn, error) {
	conn, err := pgx.ConnectConfig(ctx, s.config.Copy())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &Conn{conn: conn}, nil
}

// Conn is a single PostgreSQL session.
type Conn struct {
	conn *pgx.Conn
}

// Raw returns the underlying pgx connection for running queries.
func (c *Conn) Raw() *pgx.Conn {
	return c.conn
}

// Ping implements sesspool.Conn.
func (c *Conn) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

// Close implements sesspool.Conn.
func (c *Conn) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}
