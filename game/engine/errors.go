package engine

import (
	"errors"
	"fmt"
)

// Kind classifies errors surfaced to clients
type Kind string

const (
	KindUnauthenticated Kind = "UNAUTHENTICATED"
	KindInvalidInput    Kind = "BAD_USER_INPUT"
	KindToken           Kind = "TOKEN_INVALID"
)

// Error is a client facing error with a machine readable kind
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Extensions exposes the kind as the GraphQL error code
func (e *Error) Extensions() map[string]interface{} {
	return map[string]interface{}{"code": string(e.Kind)}
}

var (
	ErrAuthenticationRequired = &Error{Kind: KindUnauthenticated, Message: "Please login first"}
	ErrTokenInvalid           = &Error{Kind: KindToken, Message: "Failed to decode the token."}
)

// InvalidInput builds a BAD_USER_INPUT error
func InvalidInput(format string, args ...interface{}) error {
	return &Error{Kind: KindInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// TokenError wraps a token decoding failure
func TokenError(cause error) error {
	return &Error{Kind: KindToken, Message: ErrTokenInvalid.Message, Err: cause}
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
