package lobby

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/wricardo/tictactoe/game/engine"
	"github.com/wricardo/tictactoe/game/pubsub"
	"github.com/wricardo/tictactoe/game/session"
)

var (
	alice = engine.User{UserName: "alice"}
	bob   = engine.User{UserName: "bob"}
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// PanickyBus fails the liveness probe of one user
type PanickyBus struct {
	*pubsub.Bus
	victim string
}

func (b *PanickyBus) PublishWithAck(topic string, payload interface{}) bool {
	if topic == engine.UserTopic(b.victim) {
		panic("probe exploded")
	}
	return b.Bus.PublishWithAck(topic, payload)
}

func drain(s *pubsub.Stream) []engine.LobbyState {
	var states []engine.LobbyState
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		v, err := s.Next(ctx)
		cancel()
		if err != nil {
			return states
		}
		states = append(states, v.(engine.LobbyState))
	}
}

func TestLobby_EntryIsIdempotent(t *testing.T) {
	bus := pubsub.NewBus()
	l := New(bus, time.Hour, testLogger())
	watch := l.Watch(nil)
	defer watch.Cancel()

	l.EntryUser(alice)
	l.EntryUser(alice)

	states := drain(watch)
	if len(states) != 1 {
		t.Fatalf("Expected exactly one broadcast, got %d", len(states))
	}
	if len(states[0].Users) != 1 || states[0].Users[0] != alice {
		t.Errorf("Unexpected snapshot %+v", states[0])
	}
	if l.Count() != 1 {
		t.Errorf("Expected one entry, got %d", l.Count())
	}
}

func TestLobby_ForcedExit(t *testing.T) {
	bus := pubsub.NewBus()
	l := New(bus, time.Hour, testLogger())
	inbox := bus.Subscribe(engine.UserTopic("alice"), nil)
	defer inbox.Cancel()

	l.EntryUser(alice)
	l.ExitUser(alice, true)

	if l.Contains("alice") {
		t.Error("Expected forced exit to evict a listening user")
	}
}

func TestLobby_SoftExitKeepsListeningUser(t *testing.T) {
	bus := pubsub.NewBus()
	l := New(bus, time.Hour, testLogger())
	inbox := bus.Subscribe(engine.UserTopic("alice"), nil)

	l.EntryUser(alice)
	l.ExitUser(alice, false)
	if !l.Contains("alice") {
		t.Fatal("Expected listening user to stay")
	}

	inbox.Cancel()
	l.ExitUser(alice, false)
	if l.Contains("alice") {
		t.Error("Expected user without listener to leave")
	}
}

func TestLobby_ExitAbsentUserDoesNotBroadcast(t *testing.T) {
	bus := pubsub.NewBus()
	l := New(bus, time.Hour, testLogger())
	watch := l.Watch(nil)
	defer watch.Cancel()

	l.ExitUser(bob, true)
	if states := drain(watch); len(states) != 0 {
		t.Errorf("Expected no broadcast, got %d", len(states))
	}
}

func TestLobby_SweepEvictsOnlySilentUsers(t *testing.T) {
	bus := pubsub.NewBus()
	l := New(bus, time.Hour, testLogger())
	inbox := bus.Subscribe(engine.UserTopic("alice"), nil)
	defer inbox.Cancel()

	l.EntryUser(alice)
	l.EntryUser(bob)
	l.Sweep()

	if !l.Contains("alice") {
		t.Error("Sweep evicted a subscribed user")
	}
	if l.Contains("bob") {
		t.Error("Sweep kept a silent user")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := inbox.Next(ctx)
	if err != nil {
		t.Fatalf("Expected a ping, got %v", err)
	}
	if ping, ok := v.(engine.Ping); !ok || ping.Payload != "hello" {
		t.Errorf("Unexpected ping %+v", v)
	}
}

func TestLobby_SweepSurvivesFailures(t *testing.T) {
	bus := &PanickyBus{Bus: pubsub.NewBus(), victim: "alice"}
	l := New(bus, time.Hour, testLogger())

	l.EntryUser(alice)
	l.EntryUser(bob)
	l.Sweep()

	if l.Contains("bob") {
		t.Error("Expected sweep to continue after a failing user")
	}
	if !l.Contains("alice") {
		t.Error("Expected failing user to be left in place")
	}
}

func TestLobby_BackgroundSweep(t *testing.T) {
	bus := pubsub.NewBus()
	l := New(bus, 10*time.Millisecond, testLogger())

	l.EntryUser(bob)

	deadline := time.Now().Add(time.Second)
	for l.Contains("bob") && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if l.Contains("bob") {
		t.Error("Expected background sweep to evict silent user")
	}
}

func TestLobby_SessionOperations(t *testing.T) {
	bus := pubsub.NewBus()
	l := New(bus, time.Hour, testLogger())
	anon := session.New()

	if _, err := l.List(anon); !errors.Is(err, engine.ErrAuthenticationRequired) {
		t.Errorf("Expected ErrAuthenticationRequired, got %v", err)
	}
	if err := l.Entry(anon); !errors.Is(err, engine.ErrAuthenticationRequired) {
		t.Errorf("Expected ErrAuthenticationRequired, got %v", err)
	}

	sess := session.NewForUser(bob)
	if err := l.Entry(sess); err != nil {
		t.Fatalf("Entry failed: %v", err)
	}
	l.EntryUser(alice)

	users, err := l.List(sess)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(users) != 2 || users[0] != alice || users[1] != bob {
		t.Errorf("Expected sorted [alice bob], got %v", users)
	}

	if err := l.Exit(sess); err != nil {
		t.Fatalf("Exit failed: %v", err)
	}
	if l.Contains("bob") {
		t.Error("Expected bob to leave")
	}
}
