package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/wricardo/tictactoe/game/engine"
)

// MockVerifier maps tokens to user names
type MockVerifier struct {
	users map[string]string
	err   error
}

func (v *MockVerifier) VerifyUser(token string) (string, error) {
	if v.err != nil {
		return "", v.err
	}
	name, ok := v.users[token]
	if !ok {
		return "", engine.TokenError(errors.New("unknown token"))
	}
	return name, nil
}

func TestManager_FindOrStore(t *testing.T) {
	manager := NewManager(&MockVerifier{})

	first, err := manager.FindOrStore(engine.User{UserName: "alice"})
	if err != nil {
		t.Fatalf("FindOrStore failed: %v", err)
	}
	if !first.Authenticated() {
		t.Error("Expected stored session to be authenticated")
	}

	second, err := manager.FindOrStore(engine.User{UserName: "alice"})
	if err != nil {
		t.Fatalf("FindOrStore failed: %v", err)
	}
	if first != second {
		t.Error("Expected the same session to be shared")
	}
	if manager.Count() != 1 {
		t.Errorf("Expected 1 session, got %d", manager.Count())
	}

	if _, err := manager.FindOrStore(engine.User{}); !errors.Is(err, ErrInvalidUserName) {
		t.Errorf("Expected ErrInvalidUserName, got %v", err)
	}
}

func TestManager_UseToken(t *testing.T) {
	manager := NewManager(&MockVerifier{users: map[string]string{"tok-a": "alice"}})

	s, err := manager.UseToken("tok-a")
	if err != nil {
		t.Fatalf("UseToken failed: %v", err)
	}
	u, ok := s.User()
	if !ok || u.UserName != "alice" {
		t.Errorf("Expected alice, got %+v", u)
	}

	again, _ := manager.UseToken("tok-a")
	if again != s {
		t.Error("Expected token reuse to restore the same session")
	}

	if _, err := manager.UseToken("nope"); !engine.IsKind(err, engine.KindToken) {
		t.Errorf("Expected token error, got %v", err)
	}
}

func TestManager_UseTokenWrapsForeignErrors(t *testing.T) {
	manager := NewManager(&MockVerifier{err: errors.New("boom")})

	_, err := manager.UseToken("x")
	if !engine.IsKind(err, engine.KindToken) {
		t.Fatalf("Expected token error, got %v", err)
	}
	if err.Error() != "Failed to decode the token." {
		t.Errorf("Unexpected message %q", err.Error())
	}
}

func TestManager_GetDelete(t *testing.T) {
	manager := NewManager(&MockVerifier{})

	if _, err := manager.Get("alice"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}

	manager.FindOrStore(engine.User{UserName: "alice"})
	if _, err := manager.Get("alice"); err != nil {
		t.Errorf("Get failed: %v", err)
	}

	if err := manager.Delete("alice"); err != nil {
		t.Errorf("Delete failed: %v", err)
	}
	if err := manager.Delete("alice"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
}

func TestManager_CleanupExpiredSessions(t *testing.T) {
	manager := NewManager(&MockVerifier{})

	idle, _ := manager.FindOrStore(engine.User{UserName: "idle"})
	playing, _ := manager.FindOrStore(engine.User{UserName: "playing"})
	manager.FindOrStore(engine.User{UserName: "fresh"})

	old := time.Now().Add(-2 * time.Hour)
	idle.lastAccessedAt = old
	playing.lastAccessedAt = old
	playing.SetMatchID("m1")

	removed := manager.CleanupExpiredSessions(time.Hour)
	if removed != 1 {
		t.Errorf("Expected 1 removed session, got %d", removed)
	}
	if _, err := manager.Get("idle"); !errors.Is(err, ErrSessionNotFound) {
		t.Error("Expected idle session to be removed")
	}
	if manager.Count() != 2 {
		t.Errorf("Expected 2 sessions left, got %d", manager.Count())
	}
}

func TestManager_ConcurrentAccess(t *testing.T) {
	manager := NewManager(&MockVerifier{})
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			manager.FindOrStore(engine.User{UserName: "shared"})
		}()
	}
	wg.Wait()

	if manager.Count() != 1 {
		t.Errorf("Expected 1 session, got %d", manager.Count())
	}
}

func TestSession_RequireUser(t *testing.T) {
	var missing *Session
	if _, err := missing.RequireUser(); !errors.Is(err, engine.ErrAuthenticationRequired) {
		t.Errorf("Expected ErrAuthenticationRequired for nil session, got %v", err)
	}

	s := New()
	if _, err := s.RequireUser(); !errors.Is(err, engine.ErrAuthenticationRequired) {
		t.Errorf("Expected ErrAuthenticationRequired, got %v", err)
	}

	s.SetUser(engine.User{UserName: "alice"})
	u, err := s.RequireUser()
	if err != nil || u.UserName != "alice" {
		t.Errorf("Expected alice, got %+v, %v", u, err)
	}
}
