package tcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/wricardo/tictactoe/validate"
)

// DefaultDelimiter terminates a command when sent on a line of its own
const DefaultDelimiter = "."

var (
	ErrServerStarted = errors.New("server already started")
	ErrServerStopped = errors.New("server stopped")
)

// SendFunc writes one message to the client, terminated by CRLF
type SendFunc func(msg string) error

// Session is the per connection protocol handler
type Session interface {
	// Receive handles one complete command
	Receive(command string)
	// Close is called once when the connection ends. clean reports an
	// orderly end of stream.
	Close(clean bool)
}

// SessionFactory creates the session of a new connection
type SessionFactory func(send SendFunc) Session

// Config holds the server settings
type Config struct {
	Addr      string
	Delimiter string
	Logger    *slog.Logger
}

// Server accepts TCP connections and runs a Session on each
type Server struct {
	cfg     Config
	factory SessionFactory
	logger  *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[string]net.Conn
	stopped  bool
	wg       sync.WaitGroup
}

// NewServer validates cfg and creates a stopped server
func NewServer(cfg Config, factory SessionFactory) (*Server, error) {
	if cfg.Delimiter == "" {
		cfg.Delimiter = DefaultDelimiter
	}
	if err := validate.Delimiter(cfg.Delimiter); err != nil {
		return nil, err
	}
	if factory == nil {
		return nil, errors.New("session factory is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		factory: factory,
		logger:  logger.With(slog.String("component", "tcp")),
		conns:   make(map[string]net.Conn),
	}, nil
}

// Start binds the listener and accepts connections in the background
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrServerStopped
	}
	if s.listener != nil {
		return ErrServerStarted
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln
	s.logger.Info("TCP server started", slog.String("addr", ln.Addr().String()))

	s.wg.Add(1)
	go s.acceptLoop(ln)
	return nil
}

// Addr returns the bound address, or nil before Start
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and every open connection, and waits for the
// connection handlers to return
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	ln := s.listener
	conns := make([]net.Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	s.logger.Info("stopping TCP server", slog.Int("connections", len(conns)))

	var err error
	if ln != nil {
		err = ln.Close()
	}
	for _, c := range conns {
		c.Close()
	}
	s.wg.Wait()
	return err
}

// ConnectionCount returns the number of open connections
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()

	for {
		c, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", slog.Any("error", err))
			continue
		}

		id := uuid.NewString()
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			c.Close()
			return
		}
		s.conns[id] = c
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handle(id, c)
	}
}

func (s *Server) handle(id string, c net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, id)
		s.mu.Unlock()
		c.Close()
	}()

	logger := s.logger.With(slog.String("conn", id), slog.String("remote", c.RemoteAddr().String()))
	logger.Debug("new connection")

	w := &writer{conn: c}
	sess := s.factory(w.send)
	col := newCollector(s.cfg.Delimiter)

	buf := make([]byte, 4096)
	for {
		n, err := c.Read(buf)
		if n > 0 {
			for _, cmd := range col.feed(buf[:n]) {
				s.dispatch(logger, w, sess, cmd)
			}
		}
		if err != nil {
			clean := isEOF(err)
			if !clean {
				logger.Debug("connection read failed", slog.Any("error", err))
			}
			s.closeSession(logger, sess, clean)
			logger.Debug("connection closed", slog.Bool("clean", clean))
			return
		}
	}
}

// dispatch hands one command to the session. A panic is reported back to
// the client and the connection stays open.
func (s *Server) dispatch(logger *slog.Logger, w *writer, sess Session, cmd string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("command failed", slog.Any("panic", r))
			if err := w.send(errorMessage(r)); err != nil {
				logger.Debug("failed to report error", slog.Any("error", err))
			}
		}
	}()
	sess.Receive(cmd)
}

func (s *Server) closeSession(logger *slog.Logger, sess Session, clean bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("session close failed", slog.Any("panic", r))
		}
	}()
	sess.Close(clean)
}

// writer serializes the writes of one connection
type writer struct {
	mu   sync.Mutex
	conn net.Conn
}

func (w *writer) send(msg string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.conn.Write([]byte(msg + "\r\n"))
	return err
}

func errorMessage(r interface{}) string {
	msg := fmt.Sprint(r)
	if err, ok := r.(error); ok {
		msg = err.Error()
	}
	b, err := json.Marshal(map[string]string{"message": msg})
	if err != nil {
		return `{"message":"internal error"}`
	}
	return string(b)
}
