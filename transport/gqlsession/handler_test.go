package gqlsession

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/wricardo/tictactoe/game/config"
	"github.com/wricardo/tictactoe/game/engine"
	"github.com/wricardo/tictactoe/game/service"
	"github.com/wricardo/tictactoe/graph"
	"golang.org/x/crypto/bcrypt"
)

type fixture struct {
	engine *graph.Engine
	svc    *service.Services
	logger *slog.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := service.New(config.Config{Secret: "secret", TokenExpires: time.Hour, SweepInterval: time.Hour}, logger)
	if err != nil {
		t.Fatalf("service.New failed: %v", err)
	}
	svc.Auth.WithCost(bcrypt.MinCost)

	e, err := graph.NewEngine(logger)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return &fixture{engine: e, svc: svc, logger: logger}
}

// client is a handler plus the messages it wrote
type client struct {
	t   *testing.T
	h   *Handler
	out chan string
}

func (f *fixture) connect(t *testing.T) *client {
	t.Helper()
	out := make(chan string, 64)
	h := NewHandler(f.engine, f.svc.NewScope, func(msg string) error {
		out <- msg
		return nil
	}, Config{Logger: f.logger})
	t.Cleanup(func() { h.Close(false) })
	return &client{t: t, h: h, out: out}
}

func (c *client) next() map[string]interface{} {
	c.t.Helper()
	select {
	case msg := <-c.out:
		var v map[string]interface{}
		if err := json.Unmarshal([]byte(msg), &v); err != nil {
			c.t.Fatalf("Invalid JSON %q: %v", msg, err)
		}
		return v
	case <-time.After(2 * time.Second):
		c.t.Fatal("Timed out waiting for a message")
	}
	return nil
}

// do sends a one shot command and returns its result
func (c *client) do(command string) map[string]interface{} {
	c.t.Helper()
	c.h.Receive(command)
	return c.next()
}

func (c *client) mustDo(command string) map[string]interface{} {
	c.t.Helper()
	res := c.do(command)
	if res["errors"] != nil {
		c.t.Fatalf("Unexpected errors for %q: %v", command, res["errors"])
	}
	return res["data"].(map[string]interface{})
}

func (c *client) login(userName string) {
	c.t.Helper()
	c.mustDo(fmt.Sprintf(`mutation{auth{register(userName:%q,password1:"pass",password2:"pass")}}`, userName))
	c.mustDo(fmt.Sprintf(`mutation{auth{login(userName:%q,password:"pass")}}`, userName))
}

func get(v interface{}, path ...string) interface{} {
	for _, p := range path {
		m, ok := v.(map[string]interface{})
		if !ok {
			return nil
		}
		v = m[p]
	}
	return v
}

func firstError(res map[string]interface{}) map[string]interface{} {
	errs, _ := res["errors"].([]interface{})
	if len(errs) == 0 {
		return nil
	}
	e, _ := errs[0].(map[string]interface{})
	return e
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandler_UnauthenticatedLobby(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t)

	res := c.do("{lobby{list{userName}}}")
	e := firstError(res)
	if e == nil || e["message"] != "Please login first" {
		t.Fatalf("Expected login error, got %v", res)
	}
	if get(e, "extensions", "code") != "UNAUTHENTICATED" {
		t.Errorf("Expected UNAUTHENTICATED, got %v", e["extensions"])
	}

	data := c.mustDo("{time{local}}")
	if local, _ := get(data, "time", "local").(string); !strings.HasPrefix(local, "unknown: ") {
		t.Errorf("Expected the connection to keep serving, got %v", data)
	}
}

func TestHandler_ParseError(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t)

	res := c.do("{lobby{")
	if firstError(res) == nil {
		t.Fatalf("Expected a syntax error, got %v", res)
	}
	c.mustDo("{time{local}}")
}

func TestHandler_JSONCommand(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t)

	data := c.mustDo(`{"query":"query T { time { local } } query U { auth { authenticated } }","operationName":"T"}`)
	if get(data, "time", "local") == nil {
		t.Errorf("Expected time, got %v", data)
	}
}

func TestHandler_ScopeIsPerConnection(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(t)
	other := f.connect(t)

	alice.login("alice")
	if got := get(alice.mustDo("{auth{authenticated}}"), "auth", "authenticated"); got != "alice" {
		t.Errorf("Expected alice, got %v", got)
	}
	if firstError(other.do("{auth{authenticated}}")) == nil {
		t.Error("Expected the other connection to stay anonymous")
	}
}

func TestHandler_UnsubscribeStopsTimer(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t)

	c.h.Receive("subscription{timer(interval:10){local}}")
	if get(c.next(), "data", "timer", "local") == nil {
		t.Fatal("Expected a timer event")
	}

	c.h.Receive(UnsubscribeCommand)

	// events already queued before the ack are fine, nothing may follow it
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-c.out:
			if msg != successAck {
				continue
			}
			select {
			case extra := <-c.out:
				t.Errorf("Unexpected message after ack: %s", extra)
			case <-time.After(50 * time.Millisecond):
			}
			return
		case <-deadline:
			t.Fatal("Timed out waiting for the ack")
		}
	}
}

func TestHandler_UnsubscribeWithoutSubscriptions(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t)

	c.h.Receive(UnsubscribeCommand)
	select {
	case msg := <-c.out:
		if msg != successAck {
			t.Errorf("Expected ack, got %s", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for the ack")
	}
}

func TestHandler_CloseRunsCleanup(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t)
	c.login("alice")

	c.h.Receive("subscription{inbox{...on Ping{payload}}}")
	waitFor(t, "alice in lobby", func() bool { return f.svc.Lobby.Contains("alice") })

	c.h.Close(true)
	if f.svc.Lobby.Contains("alice") {
		t.Error("Expected alice to leave the lobby when the connection closes")
	}
	if n := f.svc.Bus.Subscribers(engine.UserTopic("alice")); n != 0 {
		t.Errorf("Expected no inbox listener, got %d", n)
	}

	done := make(chan struct{})
	go func() {
		c.h.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected subscription goroutines to exit")
	}
}

func TestHandler_SubscriptionErrorKeepsConnection(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t)

	c.h.Receive("subscription{match{id}}")
	e := firstError(c.next())
	if e == nil || get(e, "extensions", "code") != "UNAUTHENTICATED" {
		t.Errorf("Expected UNAUTHENTICATED, got %v", e)
	}
	c.mustDo("{time{local}}")
}

func TestHandler_InviteJoinAndWin(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(t)
	bob := f.connect(t)
	alice.login("alice")
	bob.login("bob")

	bob.h.Receive("subscription{inbox{__typename ...on Invite{from{userName} matchId role token}}}")
	waitFor(t, "bob inbox", func() bool { return f.svc.Bus.Subscribers(engine.UserTopic("bob")) == 1 })

	matchID, _ := get(alice.mustDo("mutation{match_maker{create{id participants{user{userName} sign role}}}}"), "match_maker", "create", "id").(string)
	if matchID == "" {
		t.Fatal("Expected a match id")
	}

	tok, _ := get(alice.mustDo(`mutation{match_maker{invite(userName:"bob",role:Player)}}`), "match_maker", "invite").(string)
	invite := get(bob.next(), "data", "inbox")
	if get(invite, "__typename") != "Invite" || get(invite, "matchId") != matchID || get(invite, "role") != "Player" {
		t.Fatalf("Unexpected invite %v", invite)
	}
	if get(invite, "token") != tok || get(invite, "from", "userName") != "alice" {
		t.Errorf("Unexpected invite %v", invite)
	}

	if get(bob.mustDo(fmt.Sprintf(`mutation{match_maker{join(token:%q)}}`, tok)), "match_maker", "join") != true {
		t.Fatal("Expected join to succeed")
	}

	state := alice.mustDo("{match{participants{user{userName} sign role}}}")
	parts, _ := get(state, "match", "participants").([]interface{})
	if len(parts) != 2 {
		t.Fatalf("Expected two participants, got %v", parts)
	}
	for _, p := range parts {
		if get(p, "user", "userName") == "bob" && get(p, "sign") != "O" {
			t.Errorf("Expected bob to play O, got %v", p)
		}
	}

	alice.h.Receive("subscription{match{ended winner{user{userName}}}}")
	waitFor(t, "match watcher", func() bool { return f.svc.Bus.Subscribers(engine.MatchTopic(matchID)) == 1 })

	moves := []struct {
		c    *client
		cell int
	}{{alice, 0}, {bob, 3}, {alice, 1}, {bob, 4}, {alice, 2}}

	var last map[string]interface{}
	for _, mv := range moves {
		mv.c.h.Receive(fmt.Sprintf("mutation{match{step(cell:%d)}}", mv.cell))
		if mv.c == alice {
			// alice sees her step result and the broadcast, in any order
			for i := 0; i < 2; i++ {
				msg := alice.next()
				if get(msg, "data", "match", "ended") != nil {
					last = msg
				} else if get(msg, "data", "match", "step") != true {
					t.Fatalf("Unexpected message %v", msg)
				}
			}
		} else {
			if get(bob.next(), "data", "match", "step") != true {
				t.Fatal("Expected bob's step to succeed")
			}
			last = alice.next()
		}
	}

	if get(last, "data", "match", "ended") != true {
		t.Errorf("Expected the final broadcast to end the match, got %v", last)
	}
	if get(last, "data", "match", "winner", "user", "userName") != "alice" {
		t.Errorf("Expected alice to win, got %v", last)
	}
}
