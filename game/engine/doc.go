// Package engine provides the core game logic for tic-tac-toe matches.
//
// The engine package implements:
//   - The shared domain types (User, Participant, Sign, Role, Board)
//   - The Match state machine: joining, turn order, win and draw detection
//   - Inbox payloads exchanged between users (Invite, Reject, Ping)
//   - Event bus topic naming
//   - Client facing error kinds
//
// Core Types:
//
// Match owns the board and the participant roster of one game. It is
// mutated only through Join, Step and Leave; readers get MatchState
// snapshots which are safe to share with other goroutines.
//
// A match starts active with its creator seated as the X Player. It ends
// when a line of three identical signs is completed (winner set) or when
// the board fills (draw). Ending sends every participant back to the lobby.
//
// Collaborators:
//
// A Match does not own the lobby nor the event bus. It receives them as the
// Lobby and Publisher interfaces so it can evict participants from the lobby
// on join, re-admit them on end, and broadcast each new state on
// "match.<id>".
//
// Usage:
//
//	m := engine.NewMatch(id, alice, lobby, bus)
//	if _, err := m.Join(bob, engine.RolePlayer); err != nil {
//		return err
//	}
//	state, err := m.Step(alice, 4)
package engine
