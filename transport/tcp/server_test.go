package tcp

import (
	"bufio"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// recordingSession echoes commands and records what it sees
type recordingSession struct {
	send SendFunc

	mu       sync.Mutex
	received []string
	closed   chan bool
}

func (s *recordingSession) Receive(cmd string) {
	s.mu.Lock()
	s.received = append(s.received, cmd)
	s.mu.Unlock()

	if cmd == "panic" {
		panic("boom")
	}
	s.send("echo:" + cmd)
}

func (s *recordingSession) Close(clean bool) {
	s.closed <- clean
}

func startServer(t *testing.T) (*Server, chan *recordingSession) {
	t.Helper()
	sessions := make(chan *recordingSession, 4)
	srv, err := NewServer(Config{
		Addr:   "127.0.0.1:0",
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, func(send SendFunc) Session {
		s := &recordingSession{send: send, closed: make(chan bool, 1)}
		sessions <- s
		return s
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })
	return srv, sessions
}

func dial(t *testing.T, srv *Server) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, bufio.NewReader(conn)
}

func readLine(t *testing.T, conn net.Conn, r *bufio.Reader) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString failed: %v", err)
	}
	if !strings.HasSuffix(line, "\r\n") {
		t.Errorf("Expected CRLF terminated line, got %q", line)
	}
	return strings.TrimSuffix(line, "\r\n")
}

func waitSession(t *testing.T, sessions chan *recordingSession) *recordingSession {
	t.Helper()
	select {
	case s := <-sessions:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for a session")
	}
	return nil
}

func TestNewServer_RejectsBadDelimiter(t *testing.T) {
	factory := func(SendFunc) Session { return nil }
	for _, d := range []string{"\n", "ab", " "} {
		if _, err := NewServer(Config{Delimiter: d}, factory); err == nil {
			t.Errorf("Expected delimiter %q to be rejected", d)
		}
	}
	if _, err := NewServer(Config{}, nil); err == nil {
		t.Error("Expected an error without factory")
	}
}

func TestServer_Roundtrip(t *testing.T) {
	srv, sessions := startServer(t)
	conn, r := dial(t, srv)

	if _, err := conn.Write([]byte("Hello From Client\r\n.\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := readLine(t, conn, r); got != "echo:Hello From Client" {
		t.Errorf("Expected echo, got %q", got)
	}
	waitSession(t, sessions)
}

func TestServer_PanicIsReported(t *testing.T) {
	srv, _ := startServer(t)
	conn, r := dial(t, srv)

	conn.Write([]byte("panic\n.\n"))
	if got := readLine(t, conn, r); got != `{"message":"boom"}` {
		t.Errorf("Expected serialized error, got %q", got)
	}

	conn.Write([]byte("again\n.\n"))
	if got := readLine(t, conn, r); got != "echo:again" {
		t.Errorf("Expected the connection to keep working, got %q", got)
	}
}

func TestServer_CleanClose(t *testing.T) {
	srv, sessions := startServer(t)
	conn, _ := dial(t, srv)
	sess := waitSession(t, sessions)

	conn.(*net.TCPConn).CloseWrite()

	select {
	case clean := <-sess.closed:
		if !clean {
			t.Error("Expected a clean close on end of stream")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for Close")
	}
}

func TestServer_StopClosesConnections(t *testing.T) {
	srv, sessions := startServer(t)
	conn, _ := dial(t, srv)
	sess := waitSession(t, sessions)

	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	select {
	case <-sess.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected the session to be closed by Stop")
	}
	if n := srv.ConnectionCount(); n != 0 {
		t.Errorf("Expected no open connection, got %d", n)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Read(make([]byte, 1)); err == nil {
		t.Error("Expected the client side to see the close")
	}
	if err := srv.Start(); err != ErrServerStopped {
		t.Errorf("Expected ErrServerStopped, got %v", err)
	}
}
