// Package validate holds the input rules shared by the auth provider, the
// configuration loader and the GraphQL resolvers. Rule violations are
// reported as BAD_USER_INPUT errors so they reach clients verbatim.
package validate

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/wricardo/tictactoe/game/engine"
)

const (
	MinUserNameLength = 3
	MinPasswordLength = 3

	// MinInterval is the shortest ticker period, in milliseconds, a
	// subscription may ask for
	MinInterval = 10
)

// Registration checks a new account. Checks run in the order clients
// expect: password confirmation, then lengths.
func Registration(userName, password1, password2 string) error {
	if password1 != password2 {
		return engine.InvalidInput("Passwords didn't match")
	}
	if err := UserName(userName); err != nil {
		return err
	}
	return Password(password1)
}

// PasswordChange checks the new password pair of a password change
func PasswordChange(password1, password2 string) error {
	if password1 != password2 {
		return engine.InvalidInput("New Password mismatch")
	}
	return Password(password1)
}

// UserName checks the length and shape of a user name. Names become topic
// suffixes, so whitespace and dots are refused.
func UserName(userName string) error {
	if utf8.RuneCountInString(userName) < MinUserNameLength {
		return engine.InvalidInput("Short username")
	}
	if strings.ContainsAny(userName, " \t\r\n.") {
		return engine.InvalidInput("Invalid username")
	}
	return nil
}

// Password checks the minimal password length
func Password(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return engine.InvalidInput("Short password")
	}
	return nil
}

// Interval checks a ticker period in milliseconds
func Interval(ms int) error {
	if ms < MinInterval {
		return engine.InvalidInput("invalid interval")
	}
	return nil
}

// Delimiter checks a framing delimiter: a single printable character
// that cannot be confused with a line break
func Delimiter(d string) error {
	if utf8.RuneCountInString(d) != 1 {
		return fmt.Errorf("delimiter must be a single character, got %q", d)
	}
	if d == "\r" || d == "\n" || strings.TrimSpace(d) == "" {
		return fmt.Errorf("delimiter must be printable, got %q", d)
	}
	return nil
}
