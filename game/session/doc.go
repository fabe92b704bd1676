// Package session provides per-principal session state and the store that
// shares it between connections.
//
// The session package implements:
//   - Session: the authenticated user and current match of one principal
//   - Manager: one shared Session per user name, restored from bearer tokens
//   - Expiry cleanup of idle sessions
//
// A connection starts with an anonymous Session. Logging in or presenting a
// session token swaps it for the shared Session of that user, so a player who
// reconnects finds the match they were playing.
//
// Concurrency:
//
// Session fields are guarded by the session's own lock; the manager's map is
// guarded by the manager. Neither calls into other registries while locked.
//
// Usage:
//
//	manager := session.NewManager(signer)
//
//	sess, err := manager.UseToken(token)
//	if err != nil {
//		return err
//	}
//	user, err := sess.RequireUser()
package session
