package lobby

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/wricardo/tictactoe/game/engine"
	"github.com/wricardo/tictactoe/game/pubsub"
	"github.com/wricardo/tictactoe/game/session"
)

// DefaultSweepInterval is how often idle users are probed
const DefaultSweepInterval = 10 * time.Second

// Bus is the part of the event bus the lobby needs
type Bus interface {
	Publish(topic string, payload interface{})
	PublishWithAck(topic string, payload interface{}) bool
	Subscribe(topic string, onCancel func()) *pubsub.Stream
}

// Lobby tracks the users that are idle and can be invited
type Lobby struct {
	bus      Bus
	interval time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	users     map[string]engine.User
	sweepOnce sync.Once
}

// New creates an empty lobby. The liveness sweep starts with the first entry.
func New(bus Bus, interval time.Duration, logger *slog.Logger) *Lobby {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Lobby{
		bus:      bus,
		interval: interval,
		logger:   logger.With(slog.String("component", "lobby")),
		users:    make(map[string]engine.User),
	}
}

// EntryUser adds u. Adding a present user does nothing.
func (l *Lobby) EntryUser(u engine.User) {
	l.sweepOnce.Do(l.startSweep)

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.users[u.UserName]; ok {
		return
	}
	l.users[u.UserName] = u
	l.logger.Debug("user entered", slog.String("user", u.UserName))
	l.bus.Publish(engine.LobbyTopic, l.snapshot())
}

// ExitUser removes u. Unless force is set, a user whose inbox still has a
// listener stays.
func (l *Lobby) ExitUser(u engine.User, force bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.users[u.UserName]; !ok {
		return
	}
	if !force && l.ping(u) {
		return
	}
	delete(l.users, u.UserName)
	l.logger.Debug("user left", slog.String("user", u.UserName), slog.Bool("force", force))
	l.bus.Publish(engine.LobbyTopic, l.snapshot())
}

// Entry adds the user of sess
func (l *Lobby) Entry(sess *session.Session) error {
	u, err := sess.RequireUser()
	if err != nil {
		return err
	}
	l.EntryUser(u)
	return nil
}

// Exit removes the user of sess if it no longer listens on its inbox
func (l *Lobby) Exit(sess *session.Session) error {
	u, err := sess.RequireUser()
	if err != nil {
		return err
	}
	l.ExitUser(u, false)
	return nil
}

// List returns the idle users sorted by name
func (l *Lobby) List(sess *session.Session) ([]engine.User, error) {
	if _, err := sess.RequireUser(); err != nil {
		return nil, err
	}
	return l.Users(), nil
}

// Users returns the idle users sorted by name
func (l *Lobby) Users() []engine.User {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshot().Users
}

// Contains reports whether userName is idle
func (l *Lobby) Contains(userName string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.users[userName]
	return ok
}

// Count returns the number of idle users
func (l *Lobby) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.users)
}

// Watch subscribes to membership snapshots
func (l *Lobby) Watch(onCancel func()) *pubsub.Stream {
	return l.bus.Subscribe(engine.LobbyTopic, onCancel)
}

// Sweep probes every idle user and evicts the ones nobody listens for.
// A failure on one user is logged and does not stop the sweep.
func (l *Lobby) Sweep() {
	for _, u := range l.Users() {
		if err := l.probe(u); err != nil {
			l.logger.Warn("sweep failed", slog.String("user", u.UserName), slog.Any("error", err))
		}
	}
}

func (l *Lobby) probe(u engine.User) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while probing: %v", r)
		}
	}()
	l.ExitUser(u, false)
	return nil
}

// startSweep runs Sweep on a fixed interval for the life of the process
func (l *Lobby) startSweep() {
	l.logger.Info("starting liveness sweep", slog.Duration("interval", l.interval))
	go func() {
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()

		for range ticker.C {
			l.Sweep()
		}
	}()
}

func (l *Lobby) ping(u engine.User) bool {
	return l.bus.PublishWithAck(engine.UserTopic(u.UserName), engine.Ping{Payload: engine.PingPayload})
}

func (l *Lobby) snapshot() engine.LobbyState {
	users := make([]engine.User, 0, len(l.users))
	for _, u := range l.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].UserName < users[j].UserName
	})
	return engine.LobbyState{Users: users}
}
