package session

import (
	"errors"
	"slices"

	"github.com/adwski/cards-client/client/model"
)

var (
	ErrWrongPhase    = errors.New("action is not allowed in the current phase")
	ErrJudge         = errors.New("the judge does not play cards this round")
	ErrNotJudge      = errors.New("only the judge can pick the winner")
	ErrUnknownCard   = errors.New("card is not in hand")
	ErrSelectionSize = errors.New("selection does not match the number of blanks")
	ErrUnknownEntry  = errors.New("no submission from that player")
)

// isLocal reports whether a player id refers to the local user, either
// directly or through the user's roster entry.
func (s *State) isLocal(id, userID string) bool {
	if id == "" || userID == "" {
		return false
	}
	if id == userID {
		return true
	}
	p, ok := s.LocalPlayer(userID)
	return ok && p.ID == id
}

// inProgress reports whether the held round is still being played, that
// is it has not reached judging or results.
func (r Round) inProgress() bool {
	return r.key != "" && r.Submissions == nil && r.Winner == nil
}

// applyRoundStarted seeds the round from a round-start payload and
// reports whether anything changed. A non-resume payload for the round
// still in progress is a duplicate and leaves the round untouched, so an
// in-progress selection survives a replayed announcement. Once a round
// has been judged, a start with the same key is a new round.
func (s *State) applyRoundStarted(rs model.RoundStarted, userID string) bool {
	if !rs.IsResume() && s.Round.inProgress() && s.Round.key == rs.Key() {
		return false
	}
	black := rs.BlackCard
	s.Round = Round{
		Phase:     PhaseSelecting,
		JudgeID:   rs.CardRef,
		IsJudge:   s.isLocal(rs.CardRef, userID),
		BlackCard: &black,
		Hand:      rs.UniqueCards(),
		Selection: []string{},
		key:       rs.Key(),
	}
	if rs.Submitted() {
		s.Round.Phase = PhaseWaiting
		s.Round.Submitted = true
	}
	// a resume keeps the submission flags that came with the roster
	if !rs.IsResume() {
		for i := range s.Players {
			s.Players[i].HasSubmitted = false
		}
	}
	s.Started = true
	return true
}

// toggleCard adds or removes a card from the selection. The selection never
// holds more cards than the prompt requires; picking one more evicts the
// oldest pick.
func (s *State) toggleCard(cardID string) error {
	r := &s.Round
	if r.Phase != PhaseSelecting || r.Submitted {
		return ErrWrongPhase
	}
	if r.IsJudge {
		return ErrJudge
	}
	if !slices.ContainsFunc(r.Hand, func(c model.Card) bool { return c.ID == cardID }) {
		return ErrUnknownCard
	}
	if i := slices.Index(r.Selection, cardID); i >= 0 {
		r.Selection = slices.Delete(r.Selection, i, i+1)
		return nil
	}
	r.Selection = append(r.Selection, cardID)
	if k := r.Required(); len(r.Selection) > k {
		r.Selection = slices.Clone(r.Selection[len(r.Selection)-k:])
	}
	return nil
}

func (s *State) checkSubmit() error {
	r := s.Round
	if r.Phase != PhaseSelecting || r.Submitted {
		return ErrWrongPhase
	}
	if r.IsJudge {
		return ErrJudge
	}
	if len(r.Selection) != r.Required() {
		return ErrSelectionSize
	}
	return nil
}

func (s *State) markSubmitted() {
	s.Round.Submitted = true
	s.Round.Phase = PhaseWaiting
}

func (s *State) checkWinner(playerID string) error {
	r := s.Round
	if r.Phase != PhaseJudging {
		return ErrWrongPhase
	}
	if !r.IsJudge {
		return ErrNotJudge
	}
	if !slices.ContainsFunc(r.Submissions, func(sub model.Submission) bool { return sub.PlayerID == playerID }) {
		return ErrUnknownEntry
	}
	return nil
}

func (s *State) applyCardsSubmitted(playerID string) {
	for i := range s.Players {
		if s.Players[i].ID == playerID {
			s.Players[i].HasSubmitted = true
		}
	}
}

func (s *State) applyAllSubmitted(subs []model.Submission) {
	if subs == nil {
		subs = []model.Submission{}
	}
	s.Round.Submissions = subs
	s.Round.Phase = PhaseJudging
}

func (s *State) applyRoundFinished(rf model.RoundFinished) {
	if rf.Players != nil {
		s.Players = rf.Players
	}
	w := rf.Winner
	s.Round.Winner = &w
	s.Round.Phase = PhaseResults
}

// applyJudgeChanged reassigns the judge without changing the phase.
func (s *State) applyJudgeChanged(judgeID, userID string) {
	s.Round.JudgeID = judgeID
	s.Round.IsJudge = s.isLocal(judgeID, userID)
	if s.Round.IsJudge {
		s.Round.Selection = []string{}
	}
}

// revertResults moves a finished round back to waiting. It reports false
// when the round has already moved on.
func (s *State) revertResults() bool {
	if s.Round.Phase != PhaseResults {
		return false
	}
	s.Round.Phase = PhaseWaiting
	return true
}
