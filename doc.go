// Package sesspool provides a session-per-update middleware backed by a
// bounded, in-process pool of backing-store sessions. Each inbound update
// leases exactly one session for the duration of its processing; the
// middleware guarantees the session returns to the pool on every exit path,
// including handler failure.
//
// Basic usage:
//
//	store, err := pgxstore.New(databaseURL)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	pool, err := sesspool.New(sesspool.Config{
//		Store:            store,
//		MaxSessionsCount: 10,
//		AcquireTimeout:   5 * time.Second,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer pool.Close(context.Background())
//
//	mw := sesspool.NewMiddleware(pool,
//		sesspool.WithSkip(sesspool.KindError, sesspool.KindRawUpdate),
//	)
//
//	err = mw.Run(ctx, sesspool.Update{ID: 1, Kind: sesspool.KindMessage},
//		func(ctx context.Context, u sesspool.Update, sc *sesspool.Scope) error {
//			conn := sc.Session.Conn().(*pgxstore.Conn).Raw()
//			_, err := conn.Exec(ctx, "INSERT INTO users (telegram_id) VALUES ($1)", u.ID)
//			return err
//		})
//
// Dispatchers with native lifecycle hooks call Before and After directly
// instead of Run. The host must then guarantee that After runs exactly once
// for every update Before accepted, whether the handler returned normally or
// failed; if the host cannot provide that guarantee, use Run.
package sesspool
