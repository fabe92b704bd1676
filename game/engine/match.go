package engine

import "sync"

// Lobby is the part of the presence registry a match drives
type Lobby interface {
	EntryUser(u User)
	ExitUser(u User, force bool)
}

// Publisher delivers match broadcasts
type Publisher interface {
	Publish(topic string, payload interface{})
}

// Match is the authoritative state of one game.
//
// All mutations hold mu for their whole duration, including the lobby
// calls and the broadcast, so subscribers observe states in order.
type Match struct {
	id    string
	lobby Lobby
	bus   Publisher

	mu           sync.Mutex
	board        Board
	order        []string
	participants map[string]Participant
	next         Participant
	winner       *Participant
	ended        bool
}

// NewMatch seats first as the X Player, next to move
func NewMatch(id string, first User, lobby Lobby, bus Publisher) *Match {
	p := Participant{User: first, Sign: SignX, Role: RolePlayer}
	return &Match{
		id:           id,
		lobby:        lobby,
		bus:          bus,
		order:        []string{first.UserName},
		participants: map[string]Participant{first.UserName: p},
		next:         p,
	}
}

// ID returns the match identifier
func (m *Match) ID() string {
	return m.id
}

// Join adds user in the given role. Joining under a name already present
// keeps the existing participant but still evicts everyone from the lobby
// and broadcasts.
func (m *Match) Join(u User, role Role) (MatchState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.admits(role, m.playerCount()); err != nil {
		return MatchState{}, err
	}
	return m.join(u, role), nil
}

// Rejoin seats u again under role, dropping its current participant first.
// When the new seat is refused the old one is kept.
func (m *Match) Rejoin(u User, role Role) (MatchState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	players := m.playerCount()
	if p, ok := m.participants[u.UserName]; ok && p.Role == RolePlayer {
		players--
	}
	if err := m.admits(role, players); err != nil {
		return MatchState{}, err
	}
	m.remove(u.UserName)
	return m.join(u, role), nil
}

func (m *Match) admits(role Role, players int) error {
	if m.ended {
		return InvalidInput("The match ended.")
	}
	if role == RolePlayer && players > 1 {
		return InvalidInput("The match has already 2 player.")
	}
	return nil
}

func (m *Match) join(u User, role Role) MatchState {
	p := Participant{User: u, Role: role}
	if role == RolePlayer {
		p.Sign = SignO
	}

	if _, exists := m.participants[u.UserName]; !exists {
		m.participants[u.UserName] = p
		m.order = append(m.order, u.UserName)
		if p.Sign != SignNone && m.next.Sign == p.Sign {
			m.next = p
		}
	}

	for _, name := range m.order {
		m.lobby.ExitUser(m.participants[name].User, true)
	}

	state := m.snapshot()
	m.bus.Publish(MatchTopic(m.id), state)
	return state
}

// Step places the sign of u on cell. Every check runs before the board is
// touched, so a failed step leaves the match unchanged.
func (m *Match) Step(u User, cell int) (MatchState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.winner != nil || m.ended {
		return MatchState{}, InvalidInput("The game ended")
	}
	if m.next.User.UserName != u.UserName {
		return MatchState{}, InvalidInput("The next user is %s", m.next.User.UserName)
	}
	current, ok := m.participants[u.UserName]
	if !ok {
		return MatchState{}, InvalidInput("Unknown user %s", u.UserName)
	}
	if cell < 0 || cell >= BoardSize {
		return MatchState{}, InvalidInput("The cell %d position is out of table", cell)
	}
	if m.board[cell] != SignNone {
		return MatchState{}, InvalidInput("The table cell %d is already used", cell)
	}
	following, ok := m.nextPlayer(current)
	if !ok {
		return MatchState{}, InvalidInput("Can't find the next player")
	}

	m.next = following
	m.board[cell] = current.Sign

	if sign := m.board.Winner(); sign != SignNone {
		for _, name := range m.order {
			if p := m.participants[name]; p.Role == RolePlayer && p.Sign == sign {
				m.winner = &p
				break
			}
		}
		m.end()
	} else if m.board.Full() {
		m.end()
	}

	state := m.snapshot()
	m.bus.Publish(MatchTopic(m.id), state)
	return state, nil
}

// Leave removes the participant of u. Turn order and winner are left as is.
func (m *Match) Leave(u User) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.remove(u.UserName)
}

func (m *Match) remove(name string) bool {
	if _, ok := m.participants[name]; !ok {
		return false
	}
	delete(m.participants, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true
}

// Snapshot returns a copy of the current state
func (m *Match) Snapshot() MatchState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot()
}

func (m *Match) snapshot() MatchState {
	state := MatchState{
		ID:           m.id,
		Participants: make([]Participant, 0, len(m.order)),
		Board:        m.board,
		Ended:        m.ended,
	}
	for _, name := range m.order {
		state.Participants = append(state.Participants, m.participants[name])
	}
	next := m.next
	state.Next = &next
	if m.winner != nil {
		winner := *m.winner
		state.Winner = &winner
	}
	return state
}

func (m *Match) playerCount() int {
	n := 0
	for _, p := range m.participants {
		if p.Role == RolePlayer {
			n++
		}
	}
	return n
}

// nextPlayer finds the other seated Player
func (m *Match) nextPlayer(current Participant) (Participant, bool) {
	for _, name := range m.order {
		p := m.participants[name]
		if p.Role == RolePlayer && p.User.UserName != current.User.UserName {
			return p, true
		}
	}
	return Participant{}, false
}

// end marks the match over and sends every participant back to the lobby
func (m *Match) end() {
	m.ended = true
	for _, name := range m.order {
		m.lobby.EntryUser(m.participants[name].User)
	}
}
