package engine

// Sign is the mark a Player places on the board
type Sign string

const (
	SignNone Sign = ""
	SignX    Sign = "X"
	SignO    Sign = "O"
)

// Role describes how a participant takes part in a match
type Role string

const (
	RolePlayer    Role = "Player"
	RoleSpectator Role = "Spectator"
)

const (
	// BoardSize is the number of cells on a 3x3 board
	BoardSize = 9

	// LobbyTopic carries lobby membership snapshots
	LobbyTopic = "lobby"

	// PingPayload is the body of the liveness probe sent to idle users
	PingPayload = "hello"
)

// ParseRole maps any value other than Player to Spectator.
func ParseRole(s string) Role {
	if Role(s) == RolePlayer {
		return RolePlayer
	}
	return RoleSpectator
}

// UserTopic returns the inbox topic of a user
func UserTopic(userName string) string {
	return "user." + userName
}

// MatchTopic returns the broadcast topic of a match
func MatchTopic(matchID string) string {
	return "match." + matchID
}

// User is identified by its unique name
type User struct {
	UserName string `json:"userName"`
}

// Participant binds a user to a role and sign within one match
type Participant struct {
	User User `json:"user"`
	Sign Sign `json:"sign,omitempty"`
	Role Role `json:"role"`
}

// Board holds the nine cells in row-major order
type Board [BoardSize]Sign

// Full reports whether every cell holds a sign
func (b Board) Full() bool {
	for _, cell := range b {
		if cell == SignNone {
			return false
		}
	}
	return true
}

// winLines are the eight rows, columns and diagonals of the board
var winLines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
	{0, 4, 8}, {2, 4, 6},
}

// Winner returns the sign completing any line, or SignNone
func (b Board) Winner() Sign {
	for _, line := range winLines {
		s := b[line[0]]
		if s != SignNone && s == b[line[1]] && s == b[line[2]] {
			return s
		}
	}
	return SignNone
}

// MatchState is an immutable snapshot of a match
type MatchState struct {
	ID           string        `json:"id"`
	Participants []Participant `json:"participants"`
	Board        Board         `json:"board"`
	Next         *Participant  `json:"next,omitempty"`
	Winner       *Participant  `json:"winner,omitempty"`
	Ended        bool          `json:"ended"`
}

// Active reports whether the match is still being played by more than one participant
func (s MatchState) Active() bool {
	return !s.Ended && len(s.Participants) > 1
}

// Players returns the participants holding the Player role
func (s MatchState) Players() []Participant {
	players := make([]Participant, 0, 2)
	for _, p := range s.Participants {
		if p.Role == RolePlayer {
			players = append(players, p)
		}
	}
	return players
}

// LobbyState lists the idle users
type LobbyState struct {
	Users []User `json:"users"`
}

// InviteData is the payload carried by an invite token
type InviteData struct {
	UserName string `json:"userName"`
	MatchID  string `json:"matchId"`
	Role     Role   `json:"role"`
}

// Invite is delivered to the invitee inbox
type Invite struct {
	From    User   `json:"from"`
	MatchID string `json:"matchId"`
	Role    Role   `json:"role"`
	Token   string `json:"token"`
}

// Reject is delivered to the players of a match when an invite is declined
type Reject struct {
	From    User   `json:"from"`
	MatchID string `json:"matchId"`
	Role    Role   `json:"role"`
}

// Ping is the liveness probe published on idle users inboxes
type Ping struct {
	Payload string `json:"payload"`
}
