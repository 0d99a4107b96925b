package sesspool

import "errors"

var (
	// ErrPoolExhausted is returned by Acquire when no session was released
	// within the acquire deadline. The update must not be dispatched.
	ErrPoolExhausted = errors.New("session pool exhausted")

	// ErrStoreUnavailable is returned by Acquire when the backing store
	// could not provide a usable session. The failed session is discarded,
	// never pooled.
	ErrStoreUnavailable = errors.New("backing store unavailable")

	// ErrPoolClosed is returned by Acquire after the pool has been closed.
	ErrPoolClosed = errors.New("session pool is closed")

	// ErrMissingSession is returned by Middleware.After when the update's
	// scope no longer carries the session Before attached. This indicates a
	// defect in the host or a handler, not a recoverable condition.
	ErrMissingSession = errors.New("no session attached to update scope")
)
