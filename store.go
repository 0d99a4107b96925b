package sesspool

import "context"

// Conn is a single stateful connection to a backing store. Implementations
// live in the store adapter subpackages; handlers type-assert the concrete
// adapter type to run queries.
type Conn interface {
	// Ping verifies the connection is still usable.
	Ping(ctx context.Context) error

	// Close tears the connection down. After Close the connection must not
	// be used again.
	Close(ctx context.Context) error
}

// Store dials new backing-store connections on behalf of the pool. The pool
// calls Connect lazily, only when no pooled session is available and the
// pool is below capacity.
type Store interface {
	Connect(ctx context.Context) (Conn, error)
}
