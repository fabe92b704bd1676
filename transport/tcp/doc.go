// Package tcp implements the line framed TCP transport.
//
// A client sends a command as one or more lines followed by a line holding
// only the delimiter (a dot by default, like SMTP):
//
//	{lobby{list{userName}}}
//	.
//
// The lines before the delimiter are concatenated and handed to the Session
// of the connection as one command. Every message written back is a single
// line terminated by CRLF.
//
// Each connection runs in its own goroutine. A panic while handling a
// command is written back to the client as {"message": ...} and the
// connection keeps serving. Stop closes the listener and every open
// connection and waits for their handlers.
package tcp
