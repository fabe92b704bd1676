package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Version is reported to MCP clients
const Version = "1.0.0"

// ErrNotLoggedIn is returned by tools that need a session token
var ErrNotLoggedIn = errors.New("not logged in, call register or login first")

// Client is a thin MCP client that proxies to the GraphQL HTTP endpoint.
// It keeps the session token of the last login and sends it as a bearer
// token with every request.
type Client struct {
	baseURL    string
	httpClient *http.Client
	mcpServer  *server.MCPServer

	mu    sync.RWMutex
	token string
}

// NewClient creates a new MCP client that calls the GraphQL API
func NewClient(baseURL string) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	c.initMCPServer()
	return c
}

// initMCPServer initializes the MCP server with all tools
func (c *Client) initMCPServer() {
	c.mcpServer = server.NewMCPServer(
		"Tic Tac Toe",
		Version,
		server.WithToolCapabilities(true),
		server.WithInstructions(`Tic Tac Toe - MCP Interface

This is a thin client that proxies all requests to the GraphQL server.

GAME OBJECTIVE:
Get three of your signs in a row, column or diagonal. The match creator plays X
and moves first; the first invited player plays O.

AVAILABLE TOOLS:
- register: Create an account and log in
- login: Log in with an existing account
- lobby: List the users waiting in the lobby
- create_match: Create a match you own
- invite: Invite a user as Player or Spectator, returns the invite token
- join: Join a match with an invite token
- reject: Reject an invite token
- leave_match: Leave your current match
- step: Put your sign on a cell (0-8, row major) - requires intent explanation
- match_state: Show the board of your current match
- graphql: Run any GraphQL query or mutation

NOTE: The 'intent' parameter on step serves as rubber duck debugging - explain your reasoning!`),
	)

	// Register all tools
	c.registerTools()
}

func stringProp(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": description,
	}
}

// registerTools registers all MCP tools
func (c *Client) registerTools() {
	credentials := mcp.ToolInputSchema{
		Type: "object",
		Properties: map[string]interface{}{
			"user_name": stringProp("User name"),
			"password":  stringProp("Password"),
		},
		Required: []string{"user_name", "password"},
	}

	// Accounts
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "register",
		Description: "Register a new user and log in as that user",
		InputSchema: credentials,
	}, c.handleRegister)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "login",
		Description: "Log in as an existing user",
		InputSchema: credentials,
	}, c.handleLogin)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "lobby",
		Description: "List the users waiting in the lobby",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleLobby)

	// Match making
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "create_match",
		Description: "Create a new match owned by the logged in user",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleCreateMatch)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "invite",
		Description: "Invite a user to your current match",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"user_name": stringProp("User to invite"),
				"role": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"Player", "Spectator"},
					"description": "Role offered to the user",
				},
			},
			Required: []string{"user_name", "role"},
		},
	}, c.handleInvite)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "join",
		Description: "Join a match with an invite token",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"token": stringProp("Invite token"),
			},
			Required: []string{"token"},
		},
	}, c.handleJoin)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "reject",
		Description: "Reject an invite token",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"token": stringProp("Invite token"),
			},
			Required: []string{"token"},
		},
	}, c.handleReject)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "leave_match",
		Description: "Leave the current match",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleLeave)

	// Game operations
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "step",
		Description: "Put your sign on a cell of the board",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"cell": map[string]interface{}{
					"type":        "integer",
					"minimum":     0,
					"maximum":     8,
					"description": "Cell index, 0-8 in row major order",
				},
				"intent": stringProp("Brief explanation of the intent behind this step (serves as a rubber duck to help explain your reasoning)"),
			},
			Required: []string{"cell"},
		},
	}, c.handleStep)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "match_state",
		Description: "Get the board, players and turn of the current match",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleMatchState)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "graphql",
		Description: "Run a GraphQL query or mutation as the logged in user. Subscriptions are not available over this tool.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": stringProp("GraphQL document"),
				"variables": map[string]interface{}{
					"type":        "object",
					"description": "Variables of the document (optional)",
				},
			},
			Required: []string{"query"},
		},
	}, c.handleGraphQL)
}

// GetMCPServer returns the underlying MCP server for serving
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// Token returns the session token of the last login
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) setToken(tok string) {
	c.mu.Lock()
	c.token = tok
	c.mu.Unlock()
}

// Helper methods for API calls

type graphqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphqlError struct {
	Message    string                 `json:"message"`
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors"`
	// Error is set by non GraphQL failures such as rate limiting
	Error string `json:"error"`
}

// APIError is a GraphQL error returned by the server
type APIError struct {
	Message string
	Code    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

func (c *Client) apiCall(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	url := c.baseURL + path

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errResp graphqlResponse
		if json.Unmarshal(data, &errResp) == nil {
			if errResp.Error != "" {
				return fmt.Errorf("%s", errResp.Error)
			}
			if len(errResp.Errors) > 0 {
				return toAPIError(errResp.Errors)
			}
		}
		return fmt.Errorf("API error: %d", resp.StatusCode)
	}

	if result != nil {
		return json.Unmarshal(data, result)
	}

	return nil
}

// query runs a GraphQL document and decodes its data into out
func (c *Client) query(ctx context.Context, query string, variables map[string]interface{}, out interface{}) error {
	var resp graphqlResponse
	if err := c.apiCall(ctx, http.MethodPost, "/graphql", graphqlRequest{Query: query, Variables: variables}, &resp); err != nil {
		return err
	}
	if len(resp.Errors) > 0 {
		return toAPIError(resp.Errors)
	}
	if out != nil && len(resp.Data) > 0 {
		return json.Unmarshal(resp.Data, out)
	}
	return nil
}

func toAPIError(errs []graphqlError) error {
	first := errs[0]
	code, _ := first.Extensions["code"].(string)
	return &APIError{Message: first.Message, Code: code}
}

func (c *Client) requireLogin() error {
	if c.Token() == "" {
		return ErrNotLoggedIn
	}
	return nil
}

func arguments(request mcp.CallToolRequest) map[string]interface{} {
	args, _ := request.Params.Arguments.(map[string]interface{})
	if args == nil {
		return map[string]interface{}{}
	}
	return args
}

// Tool handlers

const loginMutation = `mutation($userName:String!,$password:String!){auth{login(userName:$userName,password:$password)}}`

func (c *Client) login(ctx context.Context, userName, password string) error {
	var data struct {
		Auth struct {
			Login string `json:"login"`
		} `json:"auth"`
	}
	err := c.query(ctx, loginMutation, map[string]interface{}{
		"userName": userName,
		"password": password,
	}, &data)
	if err != nil {
		return err
	}
	c.setToken(data.Auth.Login)
	return nil
}

func (c *Client) handleRegister(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	userName, _ := args["user_name"].(string)
	password, _ := args["password"].(string)

	var data struct {
		Auth struct {
			Register string `json:"register"`
		} `json:"auth"`
	}
	err := c.query(ctx,
		`mutation($userName:String!,$password:String!){auth{register(userName:$userName,password1:$password,password2:$password)}}`,
		map[string]interface{}{"userName": userName, "password": password}, &data)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := c.login(ctx, userName, password); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("%s\nLogged in as %s", data.Auth.Register, userName)), nil
}

func (c *Client) handleLogin(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	userName, _ := args["user_name"].(string)
	password, _ := args["password"].(string)

	if err := c.login(ctx, userName, password); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Logged in as %s", userName)), nil
}

func (c *Client) handleLobby(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var data struct {
		Lobby struct {
			List []userView `json:"list"`
		} `json:"lobby"`
	}
	if err := c.query(ctx, `{lobby{list{userName}}}`, nil, &data); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := fmt.Sprintf("Lobby (%d):\n", len(data.Lobby.List))
	for _, u := range data.Lobby.List {
		result += fmt.Sprintf("- %s\n", u.UserName)
	}
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleCreateMatch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := c.requireLogin(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var data struct {
		MatchMaker struct {
			Create matchView `json:"create"`
		} `json:"match_maker"`
	}
	if err := c.query(ctx, `mutation{match_maker{create{`+matchFields+`}}}`, nil, &data); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("Created match\n" + formatMatch(&data.MatchMaker.Create)), nil
}

func (c *Client) handleInvite(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := c.requireLogin(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	args := arguments(request)
	userName, _ := args["user_name"].(string)
	role, _ := args["role"].(string)

	var data struct {
		MatchMaker struct {
			Invite string `json:"invite"`
		} `json:"match_maker"`
	}
	err := c.query(ctx,
		`mutation($userName:String!,$role:ParticipantRole!){match_maker{invite(userName:$userName,role:$role)}}`,
		map[string]interface{}{"userName": userName, "role": role}, &data)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := fmt.Sprintf("Invited %s as %s\nInvite token: %s\n", userName, role, data.MatchMaker.Invite)
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleJoin(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return c.answerInvite(ctx, request, "join")
}

func (c *Client) handleReject(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return c.answerInvite(ctx, request, "reject")
}

// answerInvite runs the join or reject mutation with the token argument
func (c *Client) answerInvite(ctx context.Context, request mcp.CallToolRequest, field string) (*mcp.CallToolResult, error) {
	if err := c.requireLogin(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tok, _ := arguments(request)["token"].(string)

	var data struct {
		MatchMaker map[string]bool `json:"match_maker"`
	}
	err := c.query(ctx,
		fmt.Sprintf(`mutation($token:String!){match_maker{%s(token:$token)}}`, field),
		map[string]interface{}{"token": tok}, &data)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	switch {
	case field == "join" && data.MatchMaker[field]:
		return mcp.NewToolResultText("Joined the match"), nil
	case field == "join":
		return mcp.NewToolResultText("The match is no longer available"), nil
	case data.MatchMaker[field]:
		return mcp.NewToolResultText("Invite rejected"), nil
	default:
		return mcp.NewToolResultText("The match is no longer available"), nil
	}
}

func (c *Client) handleLeave(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := c.requireLogin(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var data struct {
		MatchMaker struct {
			Leave bool `json:"leave"`
		} `json:"match_maker"`
	}
	if err := c.query(ctx, `mutation{match_maker{leave}}`, nil, &data); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !data.MatchMaker.Leave {
		return mcp.NewToolResultText("You are not in a match"), nil
	}
	return mcp.NewToolResultText("Left the match"), nil
}

func (c *Client) handleStep(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := c.requireLogin(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	args := arguments(request)
	cell, ok := args["cell"].(float64)
	if !ok {
		return mcp.NewToolResultError("cell must be an integer between 0 and 8"), nil
	}
	intent, _ := args["intent"].(string)

	// Intent parameter serves as rubber duck debugging - we don't need to process it further
	_ = intent

	var data struct {
		Match struct {
			Step bool `json:"step"`
		} `json:"match"`
	}
	err := c.query(ctx, `mutation($cell:Int!){match{step(cell:$cell)}}`,
		map[string]interface{}{"cell": int(cell)}, &data)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var state struct {
		Match *matchView `json:"match"`
	}
	if err := c.query(ctx, `{match{`+matchFields+`}}`, nil, &state); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := fmt.Sprintf("Step on cell %d accepted\n\n", int(cell))
	if !data.Match.Step {
		result = fmt.Sprintf("Step on cell %d was not applied\n\n", int(cell))
	}
	return mcp.NewToolResultText(result + formatMatch(state.Match)), nil
}

func (c *Client) handleMatchState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := c.requireLogin(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var data struct {
		Match *matchView `json:"match"`
	}
	if err := c.query(ctx, `{match{`+matchFields+`}}`, nil, &data); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatMatch(data.Match)), nil
}

func (c *Client) handleGraphQL(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	query, _ := args["query"].(string)
	variables, _ := args["variables"].(map[string]interface{})
	if strings.TrimSpace(query) == "" {
		return mcp.NewToolResultError("query is required"), nil
	}

	var data json.RawMessage
	if err := c.query(ctx, query, variables, &data); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		return mcp.NewToolResultText(string(data)), nil
	}
	return mcp.NewToolResultText(pretty.String()), nil
}

// Formatting helpers

const matchFields = `id ended board next{user{userName} sign} winner{user{userName} sign} participants{user{userName} sign role}`

type userView struct {
	UserName string `json:"userName"`
}

type participantView struct {
	User userView `json:"user"`
	Sign string   `json:"sign"`
	Role string   `json:"role"`
}

type matchView struct {
	ID           string            `json:"id"`
	Ended        bool              `json:"ended"`
	Board        []*string         `json:"board"`
	Next         *participantView  `json:"next"`
	Winner       *participantView  `json:"winner"`
	Participants []participantView `json:"participants"`
}

func formatMatch(m *matchView) string {
	if m == nil {
		return "You are not in a match"
	}

	var result strings.Builder
	result.WriteString(fmt.Sprintf("Match: %s\n", m.ID))

	for _, p := range m.Participants {
		if p.Sign != "" {
			result.WriteString(fmt.Sprintf("- %s (%s, %s)\n", p.User.UserName, p.Role, p.Sign))
		} else {
			result.WriteString(fmt.Sprintf("- %s (%s)\n", p.User.UserName, p.Role))
		}
	}
	result.WriteString("\n")
	result.WriteString(formatBoard(m.Board))

	switch {
	case m.Winner != nil:
		result.WriteString(fmt.Sprintf("\nWinner: %s (%s)", m.Winner.User.UserName, m.Winner.Sign))
	case m.Ended:
		result.WriteString("\nDraw")
	case m.Next != nil:
		result.WriteString(fmt.Sprintf("\nNext: %s (%s)", m.Next.User.UserName, m.Next.Sign))
	}

	return result.String()
}

// formatBoard renders the cells as three rows, empty cells show their index
func formatBoard(board []*string) string {
	var result strings.Builder
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			i := row*3 + col
			cell := fmt.Sprintf("%d", i)
			if i < len(board) && board[i] != nil {
				cell = *board[i]
			}
			result.WriteString(cell)
			if col < 2 {
				result.WriteString(" | ")
			}
		}
		result.WriteString("\n")
	}
	return result.String()
}
