package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/wricardo/tictactoe/api"
	"github.com/wricardo/tictactoe/game/config"
	"github.com/wricardo/tictactoe/game/engine"
	"github.com/wricardo/tictactoe/game/service"
	"github.com/wricardo/tictactoe/graph"
	"golang.org/x/crypto/bcrypt"
)

func callTool(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil || len(result.Content) == 0 {
		t.Fatal("Expected result content")
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatal("Expected text content in result")
	}
	return text.Text
}

type toolHandler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

func mustCall(t *testing.T, handler toolHandler, args map[string]interface{}) string {
	t.Helper()
	result, err := handler(context.Background(), callTool("", args))
	if err != nil {
		t.Fatalf("Tool failed: %v", err)
	}
	text := resultText(t, result)
	if result.IsError {
		t.Fatalf("Unexpected tool error: %s", text)
	}
	return text
}

func TestNewClient(t *testing.T) {
	baseURL := "http://localhost:4000/"
	client := NewClient(baseURL)

	if client == nil {
		t.Fatal("Expected client to be created")
	}

	if client.baseURL != "http://localhost:4000" {
		t.Errorf("Expected trailing slash to be trimmed, got %s", client.baseURL)
	}

	if client.httpClient == nil {
		t.Error("Expected HTTP client to be initialized")
	}

	if client.mcpServer == nil {
		t.Error("Expected MCP server to be initialized")
	}

	if client.Token() != "" {
		t.Error("Expected no token before login")
	}
}

func TestClient_apiCall_Error(t *testing.T) {
	client := NewClient("http://invalid-url-that-does-not-exist:9999")

	err := client.apiCall(context.Background(), "GET", "/graphql", nil, nil)
	if err == nil {
		t.Error("Expected error for invalid URL")
	}
}

func TestClient_apiCall_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Internal Server Error"))
	}))
	defer server.Close()

	client := NewClient(server.URL)

	err := client.apiCall(context.Background(), "GET", "/graphql", nil, nil)
	if err == nil {
		t.Fatal("Expected error for HTTP 500 response")
	}

	if !strings.Contains(err.Error(), "API error") {
		t.Errorf("Expected 'API error' in error message, got: %v", err)
	}
}

func TestClient_apiCall_ErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limit exceeded"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)

	err := client.apiCall(context.Background(), "POST", "/graphql", graphqlRequest{Query: "{time{local}}"}, nil)
	if err == nil || err.Error() != "rate limit exceeded" {
		t.Errorf("Expected the server message, got: %v", err)
	}
}

func TestClient_queryReturnsErrorCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":null,"errors":[{"message":"Please login first","extensions":{"code":"UNAUTHENTICATED"}}]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)

	err := client.query(context.Background(), "{lobby{list{userName}}}", nil, nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected APIError, got %v", err)
	}
	if apiErr.Code != "UNAUTHENTICATED" || apiErr.Message != "Please login first" {
		t.Errorf("Unexpected error %+v", apiErr)
	}
}

func TestClient_loginStoresToken(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req graphqlRequest
		json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(req.Query, "login") {
			if req.Variables["userName"] != "alice" {
				t.Errorf("Expected userName variable, got %v", req.Variables)
			}
			w.Write([]byte(`{"data":{"auth":{"login":"tok-123"}}}`))
			return
		}
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"data":{"lobby":{"list":[{"userName":"bob"}]}}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	mustCall(t, client.handleLogin, map[string]interface{}{"user_name": "alice", "password": "pass"})
	if client.Token() != "tok-123" {
		t.Fatalf("Expected the token to be stored, got %q", client.Token())
	}

	text := mustCall(t, client.handleLobby, map[string]interface{}{})
	if gotAuth != "Bearer tok-123" {
		t.Errorf("Expected bearer token, got %q", gotAuth)
	}
	if !strings.Contains(text, "- bob") {
		t.Errorf("Expected bob in lobby, got: %s", text)
	}
}

func TestClient_toolsRequireLogin(t *testing.T) {
	client := NewClient("http://invalid-url-that-does-not-exist:9999")

	handlers := map[string]toolHandler{
		"create_match": client.handleCreateMatch,
		"invite":       client.handleInvite,
		"join":         client.handleJoin,
		"reject":       client.handleReject,
		"leave_match":  client.handleLeave,
		"step":         client.handleStep,
		"match_state":  client.handleMatchState,
	}
	for name, handler := range handlers {
		t.Run(name, func(t *testing.T) {
			result, err := handler(context.Background(), callTool(name, map[string]interface{}{}))
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if !result.IsError {
				t.Error("Expected a tool error")
			}
			if text := resultText(t, result); text != ErrNotLoggedIn.Error() {
				t.Errorf("Unexpected message %q", text)
			}
		})
	}
}

func TestClient_stepRejectsBadCell(t *testing.T) {
	client := NewClient("http://localhost:0")
	client.setToken("tok")

	result, err := client.handleStep(context.Background(), callTool("step", map[string]interface{}{"cell": "four"}))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !result.IsError {
		t.Error("Expected a tool error for a non numeric cell")
	}
}

func TestClient_graphqlRequiresQuery(t *testing.T) {
	client := NewClient("http://localhost:0")

	result, err := client.handleGraphQL(context.Background(), callTool("graphql", map[string]interface{}{"query": "  "}))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !result.IsError {
		t.Error("Expected a tool error for an empty query")
	}
}

func TestFormatBoard(t *testing.T) {
	x, o := "X", "O"
	board := []*string{&x, nil, nil, nil, &o, nil, nil, nil, &x}

	got := formatBoard(board)
	want := "X | 1 | 2\n3 | O | 5\n6 | 7 | X\n"
	if got != want {
		t.Errorf("formatBoard() = %q, want %q", got, want)
	}
}

func TestFormatMatch(t *testing.T) {
	tests := []struct {
		name     string
		match    *matchView
		expected []string
	}{
		{
			name:     "no match",
			match:    nil,
			expected: []string{"You are not in a match"},
		},
		{
			name: "in progress",
			match: &matchView{
				ID:    "m1",
				Board: make([]*string, 9),
				Next:  &participantView{User: userView{UserName: "alice"}, Sign: "X"},
				Participants: []participantView{
					{User: userView{UserName: "alice"}, Sign: "X", Role: "Player"},
					{User: userView{UserName: "carol"}, Role: "Spectator"},
				},
			},
			expected: []string{"Match: m1", "- alice (Player, X)", "- carol (Spectator)", "Next: alice (X)"},
		},
		{
			name: "won",
			match: &matchView{
				ID:     "m2",
				Ended:  true,
				Board:  make([]*string, 9),
				Winner: &participantView{User: userView{UserName: "bob"}, Sign: "O"},
			},
			expected: []string{"Winner: bob (O)"},
		},
		{
			name:     "draw",
			match:    &matchView{ID: "m3", Ended: true, Board: make([]*string, 9)},
			expected: []string{"Draw"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := formatMatch(tt.match)
			for _, s := range tt.expected {
				if !strings.Contains(result, s) {
					t.Errorf("Expected %q in formatted output, got: %s", s, result)
				}
			}
		})
	}
}

func TestClient_Integration(t *testing.T) {
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
	apiServer := api.NewServer(e, svc, nil, api.Config{Logger: logger})
	defer apiServer.Close()
	server := httptest.NewServer(apiServer)
	defer server.Close()

	alice := NewClient(server.URL)
	bob := NewClient(server.URL)
	mustCall(t, alice.handleRegister, map[string]interface{}{"user_name": "alice", "password": "pass"})
	mustCall(t, bob.handleRegister, map[string]interface{}{"user_name": "bob", "password": "pass"})

	text := mustCall(t, alice.handleCreateMatch, map[string]interface{}{})
	if !strings.Contains(text, "- alice (Player, X)") {
		t.Fatalf("Expected alice to play X, got: %s", text)
	}

	// invites need a listener on the inbox, which MCP cannot hold open
	inbox := svc.Bus.Subscribe(engine.UserTopic("bob"), nil)
	defer inbox.Cancel()

	text = mustCall(t, alice.handleInvite, map[string]interface{}{"user_name": "bob", "role": "Player"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	payload, err := inbox.Next(ctx)
	if err != nil {
		t.Fatalf("Expected an invite: %v", err)
	}
	invite, ok := payload.(engine.Invite)
	if !ok {
		t.Fatalf("Expected an invite, got %T", payload)
	}
	if !strings.Contains(text, invite.Token) {
		t.Errorf("Expected the invite token in the result, got: %s", text)
	}

	if text := mustCall(t, bob.handleJoin, map[string]interface{}{"token": invite.Token}); text != "Joined the match" {
		t.Fatalf("Unexpected join result: %s", text)
	}

	steps := []struct {
		c    *Client
		cell float64
	}{{alice, 0}, {bob, 3}, {alice, 1}, {bob, 4}, {alice, 2}}
	for _, s := range steps {
		text = mustCall(t, s.c.handleStep, map[string]interface{}{"cell": s.cell, "intent": "test"})
	}
	if !strings.Contains(text, "Winner: alice (X)") {
		t.Errorf("Expected alice to win, got: %s", text)
	}

	text = mustCall(t, bob.handleMatchState, map[string]interface{}{})
	if !strings.Contains(text, "X | X | X") {
		t.Errorf("Expected the winning row, got: %s", text)
	}

	result, err := bob.handleStep(context.Background(), callTool("step", map[string]interface{}{"cell": float64(5)}))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !result.IsError || !strings.Contains(resultText(t, result), "The game ended") {
		t.Errorf("Expected the ended match to refuse steps, got: %v", result)
	}

	raw := mustCall(t, alice.handleGraphQL, map[string]interface{}{"query": "{auth{authenticated}}"})
	if !strings.Contains(raw, `"authenticated": "alice"`) {
		t.Errorf("Unexpected graphql result: %s", raw)
	}
}
