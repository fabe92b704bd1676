package gqlsession

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/graphql-go/graphql"
	"github.com/wricardo/tictactoe/game/service"
	"github.com/wricardo/tictactoe/graph"
	"github.com/wricardo/tictactoe/metrics"
)

// UnsubscribeCommand cancels every running subscription of the connection
const UnsubscribeCommand = "unsubscribe{}"

const successAck = `{"data":{"success":true}}`

// Engine runs GraphQL operations
type Engine interface {
	Operation(query string) (string, error)
	Execute(ctx context.Context, req graph.Request, scope *service.Scope) *graphql.Result
	Subscribe(ctx context.Context, req graph.Request, scope *service.Scope) *graph.Subscription
}

// ScopeFactory creates the scope of the connection on its first command
type ScopeFactory func() *service.Scope

// SendFunc writes one message to the client
type SendFunc func(msg string) error

// Config holds the optional settings of a Handler
type Config struct {
	// Transport labels logs and metrics
	Transport string
	Logger    *slog.Logger
	Metrics   metrics.Recorder
}

// Handler runs the commands of one connection
type Handler struct {
	engine    Engine
	newScope  ScopeFactory
	send      SendFunc
	transport string
	logger    *slog.Logger
	metrics   metrics.Recorder

	ctx    context.Context
	cancel context.CancelFunc

	scopeOnce sync.Once
	scope     *service.Scope

	mu     sync.Mutex
	subs   map[*graph.Subscription]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewHandler creates the handler of a new connection
func NewHandler(engine Engine, newScope ScopeFactory, send SendFunc, cfg Config) *Handler {
	if cfg.Transport == "" {
		cfg.Transport = "tcp"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop{}
	}
	ctx, cancel := context.WithCancel(context.Background())

	h := &Handler{
		engine:    engine,
		newScope:  newScope,
		send:      send,
		transport: cfg.Transport,
		logger:    cfg.Logger.With(slog.String("component", "session"), slog.String("transport", cfg.Transport)),
		metrics:   cfg.Metrics,
		ctx:       ctx,
		cancel:    cancel,
		subs:      make(map[*graph.Subscription]struct{}),
	}
	h.metrics.ConnectionOpened(h.transport)
	return h
}

// Receive handles one complete command. Subscriptions keep running in the
// background until unsubscribed or the connection closes.
func (h *Handler) Receive(command string) {
	command = strings.TrimSpace(command)
	scope := h.getScope()
	scope.Session().Touch()

	h.logger.Debug("command received", slog.String("command", command))

	if command == UnsubscribeCommand {
		h.Unsubscribe()
		h.write(successAck)
		return
	}

	req := parseCommand(command)
	op, err := h.engine.Operation(req.Query)
	if err != nil {
		h.metrics.CommandFailed(h.transport, "invalid")
		h.writeResult(graph.ErrorResult(err))
		return
	}
	h.metrics.CommandHandled(h.transport, op)

	if op == graph.OperationSubscription {
		h.subscribe(req, scope)
		return
	}

	res := h.engine.Execute(h.ctx, req, scope)
	if res.HasErrors() {
		h.metrics.CommandFailed(h.transport, op)
	}
	h.writeResult(res)
}

// Unsubscribe cancels every running subscription. Their cleanup has run
// when it returns.
func (h *Handler) Unsubscribe() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[*graph.Subscription]struct{})
	h.mu.Unlock()

	for sub := range subs {
		sub.Cancel()
	}
	if len(subs) > 0 {
		h.logger.Debug("subscriptions cancelled", slog.Int("count", len(subs)))
	}
}

// Close cancels the running subscriptions and releases the handler
func (h *Handler) Close(clean bool) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	h.Unsubscribe()
	h.cancel()
	h.metrics.ConnectionClosed(h.transport)
	h.logger.Debug("session closed", slog.Bool("clean", clean))
}

// Wait blocks until every subscription goroutine has returned
func (h *Handler) Wait() {
	h.wg.Wait()
}

// Scope returns the scope of the connection, creating it if needed
func (h *Handler) Scope() *service.Scope {
	return h.getScope()
}

func (h *Handler) getScope() *service.Scope {
	h.scopeOnce.Do(func() {
		h.scope = h.newScope()
	})
	return h.scope
}

func (h *Handler) subscribe(req graph.Request, scope *service.Scope) {
	sub := h.engine.Subscribe(h.ctx, req, scope)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.Cancel()
		go drain(sub)
		return
	}
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	h.metrics.SubscriptionStarted(h.transport)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer h.metrics.SubscriptionEnded(h.transport)

		for res := range sub.Results() {
			h.deliver(sub, res)
		}

		h.mu.Lock()
		delete(h.subs, sub)
		h.mu.Unlock()
		sub.Cancel()
	}()
}

// deliver writes res unless sub was cancelled in the meantime. The
// executor keeps sending after cancellation, so results are read and
// dropped until it closes the channel.
func (h *Handler) deliver(sub *graph.Subscription, res *graphql.Result) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return
	}
	h.writeResult(res)
}

func (h *Handler) writeResult(res *graphql.Result) {
	b, err := json.Marshal(res)
	if err != nil {
		h.logger.Error("failed to encode result", slog.Any("error", err))
		b, _ = json.Marshal(graph.ErrorResult(err))
	}
	h.write(string(b))
}

func (h *Handler) write(msg string) {
	if err := h.send(msg); err != nil {
		h.logger.Debug("failed to send message", slog.Any("error", err))
	}
}

func drain(sub *graph.Subscription) {
	for range sub.Results() {
	}
}

// parseCommand accepts either a bare GraphQL document or a JSON encoded
// request with query, variables and operationName
func parseCommand(command string) graph.Request {
	if strings.HasPrefix(command, "{") {
		var req graph.Request
		if err := json.Unmarshal([]byte(command), &req); err == nil && req.Query != "" {
			return req
		}
	}
	return graph.Request{Query: command}
}
