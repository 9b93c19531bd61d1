package session

import (
	"slices"
	"sync"

	"github.com/adwski/cards-client/client/model"
)

type Phase string

const (
	PhaseWaiting   Phase = "waiting"
	PhaseSelecting Phase = "selecting"
	PhaseJudging   Phase = "judging"
	PhaseResults   Phase = "results"
)

type ConnStatus string

const (
	StatusIdle         ConnStatus = "idle"
	StatusConnecting   ConnStatus = "connecting"
	StatusOpen         ConnStatus = "open"
	StatusReconnecting ConnStatus = "reconnecting"
	StatusClosed       ConnStatus = "closed"
)

type Round struct {
	Phase       Phase              `json:"phase"`
	JudgeID     string             `json:"judgeId,omitempty"`
	IsJudge     bool               `json:"isJudge"`
	BlackCard   *model.Card        `json:"blackCard,omitempty"`
	Hand        []model.Card       `json:"hand"`
	Selection   []string           `json:"selection"`
	Submitted   bool               `json:"submitted"`
	Submissions []model.Submission `json:"submissions,omitempty"`
	Winner      *model.Winner      `json:"winner,omitempty"`

	key string
	// seq numbers the round-start application that produced this round.
	seq uint64
}

// Required is the number of cards the prompt asks for, or zero when no
// prompt is shown.
func (r Round) Required() int {
	if r.BlackCard == nil {
		return 0
	}
	return r.BlackCard.Blanks()
}

func (r Round) CanSubmit() bool {
	return r.Phase == PhaseSelecting && !r.IsJudge && !r.Submitted &&
		r.Required() > 0 && len(r.Selection) == r.Required()
}

// State is what a screen renders. Values handed out by Store are copies.
type State struct {
	Version        uint64              `json:"version"`
	Status         ConnStatus          `json:"status"`
	Live           bool                `json:"live"`
	Screen         Screen              `json:"screen"`
	GameID         string              `json:"gameId,omitempty"`
	Started        bool                `json:"started"`
	Players        []model.Player      `json:"players"`
	AvailableDecks model.DeckPage      `json:"availableDecks"`
	DecksInGame    []model.Deck        `json:"decksInGame"`
	Round          Round               `json:"round"`
	Chat           []model.ChatMessage `json:"chat"`
}

func emptyState() State {
	return State{
		Status:         StatusIdle,
		Players:        []model.Player{},
		AvailableDecks: model.DeckPage{Decks: []model.Deck{}},
		DecksInGame:    []model.Deck{},
		Round:          Round{Phase: PhaseWaiting, Hand: []model.Card{}, Selection: []string{}},
		Chat:           []model.ChatMessage{},
	}
}

// AddableDecks lists available decks that are not already in the game.
func (s State) AddableDecks() []model.Deck {
	out := make([]model.Deck, 0, len(s.AvailableDecks.Decks))
	for _, d := range s.AvailableDecks.Decks {
		if !s.InGame(d.ID) {
			out = append(out, d)
		}
	}
	return out
}

func (s State) InGame(deckID string) bool {
	return slices.ContainsFunc(s.DecksInGame, func(d model.Deck) bool { return d.ID == deckID })
}

// LocalPlayer finds the roster entry of the given user.
func (s State) LocalPlayer(userID string) (model.Player, bool) {
	i := slices.IndexFunc(s.Players, func(p model.Player) bool { return p.Matches(userID) })
	if i < 0 {
		return model.Player{}, false
	}
	return s.Players[i], true
}

func (s State) PlayerName(id string) (string, bool) {
	i := slices.IndexFunc(s.Players, func(p model.Player) bool { return p.ID == id })
	if i < 0 {
		return "", false
	}
	return s.Players[i].Name, true
}

func (s State) clone() State {
	c := s
	c.Players = slices.Clone(s.Players)
	c.AvailableDecks.Decks = slices.Clone(s.AvailableDecks.Decks)
	c.DecksInGame = slices.Clone(s.DecksInGame)
	c.Chat = slices.Clone(s.Chat)
	c.Round.Hand = slices.Clone(s.Round.Hand)
	c.Round.Selection = slices.Clone(s.Round.Selection)
	if s.Round.Submissions != nil {
		c.Round.Submissions = make([]model.Submission, len(s.Round.Submissions))
		for i, sub := range s.Round.Submissions {
			sub.Cards = slices.Clone(sub.Cards)
			c.Round.Submissions[i] = sub
		}
	}
	if s.Round.BlackCard != nil {
		bc := *s.Round.BlackCard
		c.Round.BlackCard = &bc
	}
	if s.Round.Winner != nil {
		w := *s.Round.Winner
		c.Round.Winner = &w
	}
	return c
}

// Store holds the session state. It is written only by the session loop;
// everyone else reads snapshots or subscribes to them.
type Store struct {
	mx      *sync.RWMutex
	state   State
	subs    map[uint64]chan State
	nextSub uint64
}

func NewStore() *Store {
	return &Store{
		mx:    &sync.RWMutex{},
		state: emptyState(),
		subs:  make(map[uint64]chan State),
	}
}

func (st *Store) Snapshot() State {
	st.mx.RLock()
	defer st.mx.RUnlock()
	return st.state.clone()
}

// Subscribe returns a channel that always holds the most recent state.
// Slow readers skip intermediate versions rather than block the writer.
func (st *Store) Subscribe() (<-chan State, func()) {
	st.mx.Lock()
	defer st.mx.Unlock()
	id := st.nextSub
	st.nextSub++
	ch := make(chan State, 1)
	ch <- st.state.clone()
	st.subs[id] = ch
	return ch, func() {
		st.mx.Lock()
		defer st.mx.Unlock()
		if c, ok := st.subs[id]; ok {
			delete(st.subs, id)
			close(c)
		}
	}
}

func (st *Store) update(fn func(*State)) {
	st.mx.Lock()
	defer st.mx.Unlock()
	fn(&st.state)
	st.state.Version++
	snap := st.state.clone()
	for _, ch := range st.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

// read gives the loop a view of the current state without copying.
func (st *Store) read(fn func(State)) {
	st.mx.RLock()
	defer st.mx.RUnlock()
	fn(st.state)
}
