// Package websocket provides the WebSocket transport of the game server.
//
// Every connection runs its own GraphQL session (see package gqlsession).
// One text frame carries one command, which is either a bare GraphQL
// document or a JSON object with query, variables and operationName. Each
// result, including every subscription event, is written back as its own
// text frame.
//
// A login can be restored when connecting by passing the session token
// returned by login or register:
//
//	ws://host:4000/graphql/ws?token=<token>
//
// The Hub tracks the open connections. Shutdown closes them all, which
// cancels their subscriptions.
//
// Usage:
//
//	hub := websocket.NewHub(engine, services, websocket.Config{Logger: logger})
//	go hub.Run()
//	router.HandleFunc("/graphql/ws", hub.ServeWS)
package websocket
