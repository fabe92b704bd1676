package tcp

import (
	"errors"
	"io"
	"strings"
	"unicode/utf8"
)

// collector assembles commands from the chunks read off a connection.
// Lines are concatenated until a line holding only the delimiter arrives.
type collector struct {
	delimiter string
	buf       strings.Builder

	// pending is set when a chunk held only the delimiter. Char at a time
	// terminals send "\n", "." and "\n" as separate chunks, so the decision
	// waits for the next chunk.
	pending bool

	// partial holds the bytes of a rune split across reads
	partial []byte
}

func newCollector(delimiter string) *collector {
	return &collector{delimiter: delimiter}
}

// feed consumes one chunk and returns the commands it completed
func (c *collector) feed(chunk []byte) []string {
	data := append(c.partial, chunk...)
	n := completeRunes(data)
	c.partial = append([]byte(nil), data[n:]...)

	text := string(data[:n])
	if text == "" {
		return nil
	}
	if text == c.delimiter {
		c.pending = true
		return nil
	}
	if c.pending {
		text = c.delimiter + text
		c.pending = false
	}

	var commands []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == c.delimiter {
			commands = append(commands, c.buf.String())
			c.buf.Reset()
			continue
		}
		c.buf.WriteString(line)
	}
	return commands
}

// completeRunes returns the length of the prefix of b that ends on a rune
// boundary
func completeRunes(b []byte) int {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if utf8.FullRune(b[i:]) {
				return len(b)
			}
			return i
		}
	}
	return len(b)
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}
