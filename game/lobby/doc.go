// Package lobby tracks users that are idle and invitable.
//
// A user enters when it is not playing and leaves when it joins a match or
// stops listening on its inbox. Every change publishes the sorted membership
// on the "lobby" topic.
//
// Liveness is checked by pinging "user.<name>" with acknowledgment. The
// sweep does this for every idle user on a fixed interval; it is started by
// the first entry and runs for the life of the process.
package lobby
