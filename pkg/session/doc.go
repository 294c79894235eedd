// Package session provides server-side browser session storage with Redis
// and in-memory backends.
//
// # Overview
//
// Store is a small key/value interface scoped by session ID. RedisStore is
// the production backend; each session is one Redis hash whose TTL is
// refreshed on write. MemoryStore serves development and tests and exposes
// Sweep for periodic reaping of expired sessions.
//
// Flow is a typed view over the login-flow slots of a session: the pending
// CSRF state, the post-login destination, the one-shot authentication error
// payload, the serialized provider token cache, and the authenticated
// account ID.
//
// # Usage Example
//
//	store, err := session.NewRedisStore(ctx, session.RedisConfig{URL: cfg.Session.RedisURL}, cfg.Session.TTL)
//	if err != nil {
//		return err
//	}
//	flow := session.NewFlow(store, sid)
//	if err := flow.SetState(ctx, state); err != nil {
//		return err
//	}
//
// # Related Packages
//
//   - pkg/authflow: Reads and writes flow state during login
//   - pkg/web: Issues the session cookie that carries the SID
package session
