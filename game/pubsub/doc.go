// Package pubsub is the in-process event bus connecting the game services to
// subscribed connections.
//
// Topics are plain strings ("lobby", "user.<name>", "match.<id>"). Publish is
// fire-and-forget; PublishWithAck additionally reports whether the topic had a
// live subscriber, which is how the lobby and the match maker detect users
// that are not listening.
//
// Subscribe returns a Stream with an unbounded queue, so publishers never
// block on slow readers. Cancelling a stream removes it from the bus, runs the
// cleanup hook given at subscription time exactly once, and then closes Done.
package pubsub
