// Command tcpclient is a line oriented client for the framed TCP server.
//
// Every input line is sent as one GraphQL command followed by the delimiter
// line, and every result line the server writes is printed as it arrives,
// so subscription events show up while more commands are typed. Send
// "unsubscribe{}" to stop the running subscriptions.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/urfave/cli/v3"
	"github.com/wricardo/tictactoe/validate"
)

func main() {
	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "tcpclient: %v\n", err)
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "tcpclient",
		Usage: "Send GraphQL commands to the tic-tac-toe TCP server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: "localhost:4001", Usage: "server address"},
			&cli.StringFlag{Name: "delimiter", Value: ".", Usage: "command delimiter line"},
			&cli.StringSliceFlag{Name: "command", Aliases: []string{"c"}, Usage: "command to send instead of reading stdin (repeatable)"},
			&cli.DurationFlag{Name: "wait", Value: time.Second, Usage: "how long to keep printing results after the last -c command"},
			&cli.BoolFlag{Name: "pretty", Usage: "indent JSON results"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			opts := options{
				Addr:      cmd.String("addr"),
				Delimiter: cmd.String("delimiter"),
				Commands:  cmd.StringSlice("command"),
				Wait:      cmd.Duration("wait"),
				Pretty:    cmd.Bool("pretty"),
			}
			return run(ctx, opts, os.Stdin, cmd.Root().Writer)
		},
	}
}

type options struct {
	Addr      string
	Delimiter string
	Commands  []string
	Wait      time.Duration
	Pretty    bool
}

// frame appends the delimiter line that ends a command
func frame(command, delimiter string) string {
	return command + "\n" + delimiter + "\n"
}

func run(ctx context.Context, opts options, in io.Reader, out io.Writer) error {
	if err := validate.Delimiter(opts.Delimiter); err != nil {
		return err
	}

	var d net.Dialer
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	conn, err := d.DialContext(dialCtx, "tcp", opts.Addr)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", opts.Addr, err)
	}
	defer conn.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		printResults(conn, out, opts.Pretty)
	}()

	send := func(command string) error {
		_, err := io.WriteString(conn, frame(command, opts.Delimiter))
		return err
	}

	if len(opts.Commands) > 0 {
		for _, c := range opts.Commands {
			if err := send(c); err != nil {
				return err
			}
		}
		select {
		case <-time.After(opts.Wait):
		case <-ctx.Done():
		}
	} else {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if err := send(line); err != nil {
				return err
			}
		}
		if err := scanner.Err(); err != nil {
			return err
		}
		// give pending results a moment before hanging up
		select {
		case <-time.After(opts.Wait):
		case <-ctx.Done():
		}
	}

	conn.Close()
	wg.Wait()
	return nil
}

// printResults writes every line read from r until it is closed
func printResults(r io.Reader, out io.Writer, pretty bool) {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if line != "" {
			fmt.Fprintln(out, formatResult(line, pretty))
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				fmt.Fprintf(out, "read error: %v\n", err)
			}
			return
		}
	}
}

func formatResult(line string, pretty bool) string {
	if !pretty {
		return line
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(line), "", "  "); err != nil {
		return line
	}
	return buf.String()
}
