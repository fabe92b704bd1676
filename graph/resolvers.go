package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/graphql-go/graphql"
	"github.com/wricardo/tictactoe/game/engine"
	"github.com/wricardo/tictactoe/game/pubsub"
	"github.com/wricardo/tictactoe/game/service"
	"github.com/wricardo/tictactoe/validate"
)

// TimeLayout renders Time.local
const TimeLayout = "15:04:05 GMT-0700 (MST)"

var errNotSubscription = errors.New("subscription fields can only be used in a subscription")

// root is the source of the namespace fields (auth, match_maker, lobby)
type root struct{}

// matchView pairs a live match with the snapshot its fields render
type matchView struct {
	match *engine.Match
	state engine.MatchState
}

func viewOf(m *engine.Match) interface{} {
	if m == nil {
		return nil
	}
	return matchView{match: m, state: m.Snapshot()}
}

// clock is the source of Time
type clock struct {
	at time.Time
}

func resolveRoot(p graphql.ResolveParams) (interface{}, error) {
	return root{}, nil
}

func resolveSource(p graphql.ResolveParams) (interface{}, error) {
	return p.Source, nil
}

// Auth

func resolveLogin(p graphql.ResolveParams) (interface{}, error) {
	scope, err := scopeFrom(p.Context)
	if err != nil {
		return nil, err
	}
	tok, sess, err := scope.Auth.Login(stringArgValue(p, "userName"), stringArgValue(p, "password"))
	if err != nil {
		return nil, err
	}
	scope.Bind(sess)
	return tok, nil
}

func resolveSignin(p graphql.ResolveParams) (interface{}, error) {
	scope, err := scopeFrom(p.Context)
	if err != nil {
		return nil, err
	}
	tok := stringArgValue(p, "token")
	sess, err := scope.Auth.Signin(tok)
	if err != nil {
		return nil, err
	}
	scope.Bind(sess)
	return tok, nil
}

func resolveRegister(p graphql.ResolveParams) (interface{}, error) {
	scope, err := scopeFrom(p.Context)
	if err != nil {
		return nil, err
	}
	return scope.Auth.Register(
		stringArgValue(p, "userName"),
		stringArgValue(p, "password1"),
		stringArgValue(p, "password2"),
	)
}

func resolvePassword(p graphql.ResolveParams) (interface{}, error) {
	scope, err := scopeFrom(p.Context)
	if err != nil {
		return nil, err
	}
	tok, sess, err := scope.Auth.Password(
		stringArgValue(p, "userName"),
		stringArgValue(p, "oldPassword"),
		stringArgValue(p, "password1"),
		stringArgValue(p, "password2"),
	)
	if err != nil {
		return nil, err
	}
	scope.Bind(sess)
	return tok, nil
}

func resolveAuthenticated(p graphql.ResolveParams) (interface{}, error) {
	scope, err := scopeFrom(p.Context)
	if err != nil {
		return nil, err
	}
	u, err := scope.Auth.Authenticated(scope.Session())
	if err != nil {
		return nil, err
	}
	return u.UserName, nil
}

// MatchMaker

func resolveCreate(p graphql.ResolveParams) (interface{}, error) {
	scope, err := scopeFrom(p.Context)
	if err != nil {
		return nil, err
	}
	m, err := scope.MatchMaker.Create(scope.Session())
	if err != nil {
		return nil, err
	}
	return viewOf(m), nil
}

func resolveLease(p graphql.ResolveParams) (interface{}, error) {
	scope, err := scopeFrom(p.Context)
	if err != nil {
		return nil, err
	}
	m, err := scope.MatchMaker.Lease(scope.Session())
	if err != nil {
		return nil, err
	}
	return viewOf(m), nil
}

func resolveInvite(p graphql.ResolveParams) (interface{}, error) {
	scope, err := scopeFrom(p.Context)
	if err != nil {
		return nil, err
	}
	role, _ := p.Args["role"].(engine.Role)
	invite, err := scope.MatchMaker.Invite(scope.Session(), stringArgValue(p, "userName"), engine.ParseRole(string(role)))
	if err != nil {
		return nil, err
	}
	return invite.Token, nil
}

func resolveJoin(p graphql.ResolveParams) (interface{}, error) {
	scope, err := scopeFrom(p.Context)
	if err != nil {
		return nil, err
	}
	return scope.MatchMaker.Join(scope.Session(), stringArgValue(p, "token"))
}

func resolveReject(p graphql.ResolveParams) (interface{}, error) {
	scope, err := scopeFrom(p.Context)
	if err != nil {
		return nil, err
	}
	return scope.MatchMaker.Reject(scope.Session(), stringArgValue(p, "token"))
}

func resolveLeave(p graphql.ResolveParams) (interface{}, error) {
	scope, err := scopeFrom(p.Context)
	if err != nil {
		return nil, err
	}
	return scope.MatchMaker.Leave(scope.Session())
}

// Match

func matchStateOf(src interface{}) (engine.MatchState, error) {
	switch v := src.(type) {
	case matchView:
		return v.state, nil
	case engine.MatchState:
		return v, nil
	case *engine.MatchState:
		return *v, nil
	}
	return engine.MatchState{}, fmt.Errorf("unexpected match source %T", src)
}

func resolveMatchID(p graphql.ResolveParams) (interface{}, error) {
	s, err := matchStateOf(p.Source)
	if err != nil {
		return nil, err
	}
	return s.ID, nil
}

func resolveMatchParticipants(p graphql.ResolveParams) (interface{}, error) {
	s, err := matchStateOf(p.Source)
	if err != nil {
		return nil, err
	}
	return s.Participants, nil
}

func resolveMatchBoard(p graphql.ResolveParams) (interface{}, error) {
	s, err := matchStateOf(p.Source)
	if err != nil {
		return nil, err
	}
	cells := make([]interface{}, len(s.Board))
	for i, c := range s.Board {
		if c != engine.SignNone {
			cells[i] = c
		}
	}
	return cells, nil
}

func resolveMatchNext(p graphql.ResolveParams) (interface{}, error) {
	s, err := matchStateOf(p.Source)
	if err != nil {
		return nil, err
	}
	if s.Next == nil {
		return nil, nil
	}
	return *s.Next, nil
}

func resolveMatchWinner(p graphql.ResolveParams) (interface{}, error) {
	s, err := matchStateOf(p.Source)
	if err != nil {
		return nil, err
	}
	if s.Winner == nil {
		return nil, nil
	}
	return *s.Winner, nil
}

func resolveMatchEnded(p graphql.ResolveParams) (interface{}, error) {
	s, err := matchStateOf(p.Source)
	if err != nil {
		return nil, err
	}
	return s.Ended, nil
}

func resolveMatchStep(p graphql.ResolveParams) (interface{}, error) {
	scope, err := scopeFrom(p.Context)
	if err != nil {
		return nil, err
	}
	view, ok := p.Source.(matchView)
	if !ok {
		return nil, engine.InvalidInput("Steps can't be sent from a subscription")
	}
	u, err := scope.Session().RequireUser()
	if err != nil {
		return nil, err
	}
	cell, _ := p.Args["cell"].(int)
	if _, err := view.match.Step(u, cell); err != nil {
		return nil, err
	}
	return true, nil
}

// Participant and User

func participantOf(src interface{}) (engine.Participant, error) {
	switch v := src.(type) {
	case engine.Participant:
		return v, nil
	case *engine.Participant:
		return *v, nil
	}
	return engine.Participant{}, fmt.Errorf("unexpected participant source %T", src)
}

func resolveParticipantUser(p graphql.ResolveParams) (interface{}, error) {
	pt, err := participantOf(p.Source)
	if err != nil {
		return nil, err
	}
	return pt.User, nil
}

func resolveParticipantSign(p graphql.ResolveParams) (interface{}, error) {
	pt, err := participantOf(p.Source)
	if err != nil {
		return nil, err
	}
	if pt.Sign == engine.SignNone {
		return nil, nil
	}
	return pt.Sign, nil
}

func resolveParticipantRole(p graphql.ResolveParams) (interface{}, error) {
	pt, err := participantOf(p.Source)
	if err != nil {
		return nil, err
	}
	return pt.Role, nil
}

func resolveUserName(p graphql.ResolveParams) (interface{}, error) {
	switch u := p.Source.(type) {
	case engine.User:
		return u.UserName, nil
	case *engine.User:
		return u.UserName, nil
	}
	return nil, fmt.Errorf("unexpected user source %T", p.Source)
}

// Lobby

func resolveLobby(p graphql.ResolveParams) (interface{}, error) {
	return root{}, nil
}

func resolveLobbyEvent(p graphql.ResolveParams) (interface{}, error) {
	return p.Source, nil
}

func resolveLobbyList(p graphql.ResolveParams) (interface{}, error) {
	if state, ok := p.Source.(engine.LobbyState); ok {
		return state.Users, nil
	}
	scope, err := scopeFrom(p.Context)
	if err != nil {
		return nil, err
	}
	return scope.Lobby.List(scope.Session())
}

// Time

func resolveTime(p graphql.ResolveParams) (interface{}, error) {
	return clock{at: time.Now()}, nil
}

func resolveTimeEvent(p graphql.ResolveParams) (interface{}, error) {
	if at, ok := p.Source.(time.Time); ok {
		return clock{at: at}, nil
	}
	return clock{at: time.Now()}, nil
}

func resolveTimeLocal(p graphql.ResolveParams) (interface{}, error) {
	c, ok := p.Source.(clock)
	if !ok {
		c = clock{at: time.Now()}
	}
	name := "unknown"
	if scope, err := scopeFrom(p.Context); err == nil {
		if u, ok := scope.Session().User(); ok {
			name = u.UserName
		}
	}
	return name + ": " + c.at.Format(TimeLayout), nil
}

// Subscriptions

func subscribeInbox(p graphql.ResolveParams) (interface{}, error) {
	scope, err := scopeFrom(p.Context)
	if err != nil {
		return nil, subscriptionError(err)
	}
	sess := scope.Session()
	u, err := sess.RequireUser()
	if err != nil {
		return nil, subscriptionError(err)
	}

	stream, err := track(p.Context, scope.Bus.Subscribe(engine.UserTopic(u.UserName), func() {
		if err := scope.Lobby.Exit(sess); err != nil {
			scope.Logger.Debug("inbox lobby exit failed", slog.String("user", u.UserName), slog.Any("error", err))
		}
	}))
	if err != nil {
		return nil, subscriptionError(err)
	}

	err = trackerFrom(p.Context).run(func() error {
		if m := scope.MatchMaker.Lookup(sess.MatchID()); m != nil && m.Snapshot().Active() {
			return nil
		}
		return scope.Lobby.Entry(sess)
	})
	if err != nil {
		stream.Cancel()
		return nil, subscriptionError(err)
	}
	return pipe(p.Context, stream), nil
}

func subscribeMatch(p graphql.ResolveParams) (interface{}, error) {
	scope, err := scopeFrom(p.Context)
	if err != nil {
		return nil, subscriptionError(err)
	}
	sess := scope.Session()
	if _, err := sess.RequireUser(); err != nil {
		return nil, subscriptionError(err)
	}
	id := sess.MatchID()
	if id == "" {
		return nil, subscriptionError(engine.InvalidInput("No match found"))
	}

	stream, err := track(p.Context, scope.Bus.Subscribe(engine.MatchTopic(id), nil))
	if err != nil {
		return nil, subscriptionError(err)
	}
	return pipe(p.Context, stream), nil
}

func subscribeLobby(p graphql.ResolveParams) (interface{}, error) {
	scope, err := scopeFrom(p.Context)
	if err != nil {
		return nil, subscriptionError(err)
	}
	if _, err := scope.Session().RequireUser(); err != nil {
		return nil, subscriptionError(err)
	}

	stream, err := track(p.Context, scope.Lobby.Watch(nil))
	if err != nil {
		return nil, subscriptionError(err)
	}
	return pipe(p.Context, stream), nil
}

func subscribeAuthenticated(p graphql.ResolveParams) (interface{}, error) {
	scope, err := scopeFrom(p.Context)
	if err != nil {
		return nil, subscriptionError(err)
	}
	u, err := scope.Session().RequireUser()
	if err != nil {
		return nil, subscriptionError(err)
	}
	interval, err := intervalArg(p)
	if err != nil {
		return nil, subscriptionError(err)
	}

	return ticking(p.Context, scope, interval, func() interface{} {
		return u.UserName
	})
}

func subscribeTimer(p graphql.ResolveParams) (interface{}, error) {
	scope, err := scopeFrom(p.Context)
	if err != nil {
		return nil, subscriptionError(err)
	}
	interval, err := intervalArg(p)
	if err != nil {
		return nil, subscriptionError(err)
	}

	return ticking(p.Context, scope, interval, func() interface{} {
		return time.Now()
	})
}

// ticking publishes next() on a private topic every interval until the
// subscription is cancelled
func ticking(ctx context.Context, scope *service.Scope, interval time.Duration, next func() interface{}) (interface{}, error) {
	topic := uuid.NewString()
	stop := make(chan struct{})

	stream, err := track(ctx, scope.Bus.Subscribe(topic, func() { close(stop) }))
	if err != nil {
		return nil, subscriptionError(err)
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				scope.Bus.Publish(topic, next())
			case <-stop:
				return
			}
		}
	}()

	return pipe(ctx, stream), nil
}

func intervalArg(p graphql.ResolveParams) (time.Duration, error) {
	ms, _ := p.Args["interval"].(int)
	if err := validate.Interval(ms); err != nil {
		return 0, engine.InvalidInput("%s", err.Error())
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// track registers stream with the subscription in ctx
func track(ctx context.Context, stream *pubsub.Stream) (*pubsub.Stream, error) {
	t := trackerFrom(ctx)
	if t == nil {
		stream.Cancel()
		return nil, errNotSubscription
	}
	if err := t.add(stream); err != nil {
		return nil, err
	}
	return stream, nil
}

// pipe forwards stream payloads to the channel the executor reads events from
func pipe(ctx context.Context, stream *pubsub.Stream) chan interface{} {
	out := make(chan interface{})
	go func() {
		defer close(out)
		for {
			v, err := stream.Next(ctx)
			if err != nil {
				return
			}
			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// subscriptionError keeps the error code of err, which the executor would
// otherwise drop for errors raised while subscribing
func subscriptionError(err error) error {
	return formatError(err)
}

func stringArgValue(p graphql.ResolveParams, name string) string {
	s, _ := p.Args[name].(string)
	return s
}
