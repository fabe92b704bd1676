// Package service wires the game registries together and defines the
// per-connection Scope handed to the query engine.
//
// Services is built once per process from the configuration: event bus,
// lobby, match maker, session store, auth provider and token signer.
//
// Each connection, whatever its transport, gets a Scope. It embeds the shared
// Services and holds the session bound to the connection. Logging in swaps
// that session for the shared session of the user, which is how a player
// keeps its match across reconnects.
package service
