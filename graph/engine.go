package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/gqlerrors"
	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
	"github.com/wricardo/tictactoe/game/engine"
	"github.com/wricardo/tictactoe/game/pubsub"
	"github.com/wricardo/tictactoe/game/service"
)

// ErrNoOperation is returned for documents without an operation definition
var ErrNoOperation = errors.New("document contains no operation")

// Operation kinds returned by Engine.Operation
const (
	OperationQuery        = "query"
	OperationMutation     = "mutation"
	OperationSubscription = "subscription"
)

// Request is a GraphQL request as sent over HTTP
type Request struct {
	Query         string                 `json:"query"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
	OperationName string                 `json:"operationName,omitempty"`
}

// Engine executes GraphQL operations against the game services
type Engine struct {
	schema graphql.Schema
	logger *slog.Logger
}

// NewEngine builds the schema
func NewEngine(logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	schema, err := newSchema()
	if err != nil {
		return nil, fmt.Errorf("failed to build schema: %w", err)
	}
	return &Engine{schema: schema, logger: logger.With(slog.String("component", "graph"))}, nil
}

// Operation parses query and returns the kind of its first operation
func (e *Engine) Operation(query string) (string, error) {
	doc, err := parser.Parse(parser.ParseParams{Source: query})
	if err != nil {
		return "", err
	}
	for _, def := range doc.Definitions {
		if op, ok := def.(*ast.OperationDefinition); ok {
			return op.Operation, nil
		}
	}
	return "", ErrNoOperation
}

// Execute runs a query or mutation once
func (e *Engine) Execute(ctx context.Context, req Request, scope *service.Scope) *graphql.Result {
	return graphql.Do(graphql.Params{
		Schema:         e.schema,
		RequestString:  req.Query,
		VariableValues: req.Variables,
		OperationName:  req.OperationName,
		Context:        withScope(ctx, scope),
	})
}

// Subscribe starts a subscription. The caller must read Results until it is
// closed and call Cancel when done.
func (e *Engine) Subscribe(ctx context.Context, req Request, scope *service.Scope) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	t := &tracker{}
	ctx = withTracker(withScope(ctx, scope), t)

	results := graphql.Subscribe(graphql.Params{
		Schema:         e.schema,
		RequestString:  req.Query,
		VariableValues: req.Variables,
		OperationName:  req.OperationName,
		Context:        ctx,
	})

	go func() {
		<-ctx.Done()
		t.close()
	}()

	return &Subscription{results: results, cancel: cancel, tracker: t}
}

// ErrorResult wraps err as a result with no data
func ErrorResult(err error) *graphql.Result {
	return &graphql.Result{Errors: []gqlerrors.FormattedError{formatError(err)}}
}

// formatError keeps the error code of game errors
func formatError(err error) gqlerrors.FormattedError {
	var e *engine.Error
	if errors.As(err, &e) {
		return gqlerrors.FormattedError{Message: e.Message, Extensions: e.Extensions()}
	}
	return gqlerrors.FormatError(err)
}

// Subscription is a running GraphQL subscription
type Subscription struct {
	results <-chan *graphql.Result
	cancel  context.CancelFunc
	tracker *tracker
}

// Results yields one result per event
func (s *Subscription) Results() <-chan *graphql.Result {
	return s.results
}

// Cancel stops the subscription. Cleanup hooks of its streams have run when
// Cancel returns.
func (s *Subscription) Cancel() {
	s.cancel()
	s.tracker.close()
}

// tracker collects the bus streams opened by a subscription so they can be
// cancelled together
type tracker struct {
	mu      sync.Mutex
	closed  bool
	streams []*pubsub.Stream
}

// add registers s. A stream added after close is cancelled at once.
func (t *tracker) add(s *pubsub.Stream) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		s.Cancel()
		return pubsub.ErrStreamClosed
	}
	t.streams = append(t.streams, s)
	t.mu.Unlock()
	return nil
}

// run calls fn unless the tracker is closed. close waits for fn, so the
// cleanup of tracked streams always sees its effects.
func (t *tracker) run(fn func() error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return pubsub.ErrStreamClosed
	}
	return fn()
}

func (t *tracker) close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	streams := t.streams
	t.streams = nil
	t.mu.Unlock()

	for _, s := range streams {
		s.Cancel()
	}
}

type contextKey int

const (
	scopeKey contextKey = iota
	trackerKey
)

func withScope(ctx context.Context, scope *service.Scope) context.Context {
	return context.WithValue(ctx, scopeKey, scope)
}

func withTracker(ctx context.Context, t *tracker) context.Context {
	return context.WithValue(ctx, trackerKey, t)
}

func scopeFrom(ctx context.Context) (*service.Scope, error) {
	scope, ok := ctx.Value(scopeKey).(*service.Scope)
	if !ok || scope == nil {
		return nil, errors.New("request has no connection scope")
	}
	return scope, nil
}

func trackerFrom(ctx context.Context) *tracker {
	t, _ := ctx.Value(trackerKey).(*tracker)
	return t
}
