// Package mcp exposes the game to AI agents over the Model Context Protocol.
//
// The Client is a thin proxy: every tool becomes a GraphQL request against
// the HTTP endpoint of a running server. The session token returned by
// register or login is kept by the client and sent as a bearer token, so
// one Client plays as one user.
//
// MCP Tools:
//   - register, login: account management
//   - lobby: users waiting for a match
//   - create_match, invite, join, reject, leave_match: match making
//   - step, match_state: playing
//   - graphql: raw queries and mutations
//
// Invites are normally delivered on the inbox subscription, which MCP
// cannot carry. The invite tool prints the invite token instead so it can
// be handed to the other agent.
//
// Usage:
//
//	client := mcp.NewClient("http://localhost:4000")
//	server.ServeStdio(client.GetMCPServer())
package mcp
