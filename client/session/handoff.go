package session

import (
	"sync/atomic"

	"github.com/adwski/cards-client/client/model"
	"github.com/adwski/cards-client/client/notice"
)

type Screen string

const (
	ScreenNone  Screen = ""
	ScreenLobby Screen = "lobby"
	ScreenGame  Screen = "game"
	ScreenMenu  Screen = "menu"
	ScreenLogin Screen = "login"
)

// Navigation asks the presentation layer to switch screens.
type Navigation struct {
	To      Screen
	GameID  string
	Handoff *Handoff
	Notice  *notice.Notice
}

// Handoff carries the round-start payload that triggered a lobby to game
// navigation. The destination screen seeds its round from it once; every
// later update comes from live events.
type Handoff struct {
	round model.RoundStarted
	// seq is the round-start application the payload came from, zero when
	// it was built outside the session.
	seq   uint64
	taken atomic.Bool
}

func NewHandoff(rs model.RoundStarted) *Handoff {
	return &Handoff{round: rs}
}

// Take returns the payload on the first call only.
func (h *Handoff) Take() (model.RoundStarted, bool) {
	if h == nil || !h.taken.CompareAndSwap(false, true) {
		return model.RoundStarted{}, false
	}
	return h.round, true
}
