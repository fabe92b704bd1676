// Package gqlsession runs GraphQL commands for one client connection.
//
// It sits between a framing transport (TCP lines or WebSocket frames) and
// the graph engine. The scope of the connection is created on the first
// command and reused for every later one, so logging in on a connection
// authenticates all commands that follow.
//
// Queries and mutations produce exactly one result. A subscription keeps
// writing one result per event from its own goroutine until the literal
// command unsubscribe{} or the end of the connection cancels it. Cancelling
// runs the cleanup of every stream the subscription opened before the
// {"data":{"success":true}} acknowledgment is written.
package gqlsession
