package session

import (
	"testing"

	"github.com/adwski/cards-client/client/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func lobbyState() State {
	st := emptyState()
	st.GameID = "g1"
	st.Players = []model.Player{
		{ID: "p1", UserID: "u1", Name: "Me", Owner: true},
		{ID: "p2", Name: "Bob", HasSubmitted: true},
		{ID: "p3", Name: "Cat"},
	}
	return st
}

func roundStart(judge string, blanks int, cards ...string) model.RoundStarted {
	rs := model.RoundStarted{
		CardRef:   judge,
		BlackCard: model.Card{ID: "b-" + judge, Type: model.CardBlack, BlankSpaceAmount: blanks},
	}
	for _, id := range cards {
		rs.Cards = append(rs.Cards, model.Card{ID: id, Text: "text " + id, Type: model.CardWhite})
	}
	return rs
}

func TestApplyRoundStarted(t *testing.T) {
	st := lobbyState()
	require.True(t, st.applyRoundStarted(roundStart("p2", 2, "A", "B", "A", "C"), "u1"))

	assert.Equal(t, PhaseSelecting, st.Round.Phase)
	assert.Equal(t, "p2", st.Round.JudgeID)
	assert.False(t, st.Round.IsJudge)
	assert.Equal(t, 2, st.Round.Required())
	assert.True(t, st.Started)
	ids := make([]string, 0, len(st.Round.Hand))
	for _, c := range st.Round.Hand {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"A", "B", "C"}, ids)
	for _, p := range st.Players {
		assert.False(t, p.HasSubmitted, p.ID)
	}
}

func TestApplyRoundStartedDuplicate(t *testing.T) {
	st := lobbyState()
	rs := roundStart("p2", 1, "A", "B")
	require.True(t, st.applyRoundStarted(rs, "u1"))
	require.NoError(t, st.toggleCard("A"))

	assert.False(t, st.applyRoundStarted(rs, "u1"))
	assert.Equal(t, []string{"A"}, st.Round.Selection)

	// a new round replaces the old one
	next := roundStart("p3", 1, "C")
	require.True(t, st.applyRoundStarted(next, "u1"))
	assert.Empty(t, st.Round.Selection)
	assert.Equal(t, "p3", st.Round.JudgeID)
}

func TestApplyRoundStartedAfterJudging(t *testing.T) {
	st := lobbyState()
	require.True(t, st.applyRoundStarted(roundStart("p2", 1, "A", "B"), "u1"))
	require.NoError(t, st.toggleCard("A"))
	st.markSubmitted()

	// still the same round while waiting for the others
	assert.False(t, st.applyRoundStarted(roundStart("p2", 1, "A", "B"), "u1"))
	assert.True(t, st.Round.Submitted)

	st.applyAllSubmitted([]model.Submission{{PlayerID: "p1"}})
	st.applyRoundFinished(model.RoundFinished{Winner: model.Winner{ID: "p1", Name: "Me"}})
	require.True(t, st.revertResults())

	// same judge and a recycled prompt card start a new round
	require.True(t, st.applyRoundStarted(roundStart("p2", 1, "C", "D"), "u1"))
	assert.Equal(t, PhaseSelecting, st.Round.Phase)
	assert.False(t, st.Round.Submitted)
	assert.Nil(t, st.Round.Winner)
	assert.Nil(t, st.Round.Submissions)
	require.Len(t, st.Round.Hand, 2)
	assert.Equal(t, "C", st.Round.Hand[0].ID)
	assert.Equal(t, "D", st.Round.Hand[1].ID)
}

func TestApplyRoundStartedDuringJudging(t *testing.T) {
	st := lobbyState()
	require.True(t, st.applyRoundStarted(roundStart("p2", 1, "A"), "u1"))
	st.applyAllSubmitted(nil)

	require.True(t, st.applyRoundStarted(roundStart("p2", 1, "B"), "u1"))
	assert.Equal(t, PhaseSelecting, st.Round.Phase)
	assert.Equal(t, "B", st.Round.Hand[0].ID)
}

func TestApplyRoundStartedResume(t *testing.T) {
	st := lobbyState()
	rs := roundStart("p3", 1, "A")
	rs.HasSubmitted = ptr(true)

	require.True(t, st.applyRoundStarted(rs, "u1"))
	assert.Equal(t, PhaseWaiting, st.Round.Phase)
	assert.True(t, st.Round.Submitted)
	// roster flags survive a resume
	assert.True(t, st.Players[1].HasSubmitted)

	// a resume is always applied, even for the same round
	rs.HasSubmitted = ptr(false)
	require.True(t, st.applyRoundStarted(rs, "u1"))
	assert.Equal(t, PhaseSelecting, st.Round.Phase)
	assert.False(t, st.Round.Submitted)
}

func TestLocalJudge(t *testing.T) {
	st := lobbyState()
	require.True(t, st.applyRoundStarted(roundStart("p1", 1, "A"), "u1"))
	assert.True(t, st.Round.IsJudge)
	assert.ErrorIs(t, st.toggleCard("A"), ErrJudge)
	assert.ErrorIs(t, st.checkSubmit(), ErrWrongPhase)

	st.applyAllSubmitted([]model.Submission{{PlayerID: "p2", PlayerName: "Bob"}})
	assert.Equal(t, PhaseJudging, st.Round.Phase)
	assert.NoError(t, st.checkWinner("p2"))
	assert.ErrorIs(t, st.checkWinner("p9"), ErrUnknownEntry)
}

func TestToggleCard(t *testing.T) {
	tests := []struct {
		name    string
		blanks  int
		toggles []string
		want    []string
	}{
		{name: "evicts oldest", blanks: 2, toggles: []string{"A", "B", "C"}, want: []string{"B", "C"}},
		{name: "single blank replaces", blanks: 1, toggles: []string{"A", "B"}, want: []string{"B"}},
		{name: "toggle off", blanks: 2, toggles: []string{"A", "B", "A"}, want: []string{"B"}},
		{name: "reselect after eviction", blanks: 2, toggles: []string{"A", "B", "C", "A"}, want: []string{"C", "A"}},
		{name: "three blanks", blanks: 3, toggles: []string{"A", "B", "C", "D"}, want: []string{"B", "C", "D"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := lobbyState()
			require.True(t, st.applyRoundStarted(roundStart("p2", tt.blanks, "A", "B", "C", "D"), "u1"))
			for _, id := range tt.toggles {
				require.NoError(t, st.toggleCard(id))
				assert.LessOrEqual(t, len(st.Round.Selection), tt.blanks)
			}
			assert.Equal(t, tt.want, st.Round.Selection)
		})
	}
}

func TestToggleCardErrors(t *testing.T) {
	st := lobbyState()
	assert.ErrorIs(t, st.toggleCard("A"), ErrWrongPhase)

	require.True(t, st.applyRoundStarted(roundStart("p2", 1, "A"), "u1"))
	assert.ErrorIs(t, st.toggleCard("Z"), ErrUnknownCard)

	require.NoError(t, st.toggleCard("A"))
	require.NoError(t, st.checkSubmit())
	st.markSubmitted()
	assert.Equal(t, PhaseWaiting, st.Round.Phase)
	assert.ErrorIs(t, st.toggleCard("A"), ErrWrongPhase)
	assert.ErrorIs(t, st.checkSubmit(), ErrWrongPhase)
}

func TestCheckSubmitSize(t *testing.T) {
	st := lobbyState()
	require.True(t, st.applyRoundStarted(roundStart("p2", 2, "A", "B"), "u1"))
	require.NoError(t, st.toggleCard("A"))
	assert.ErrorIs(t, st.checkSubmit(), ErrSelectionSize)
	assert.False(t, st.Round.CanSubmit())

	require.NoError(t, st.toggleCard("B"))
	assert.NoError(t, st.checkSubmit())
	assert.True(t, st.Round.CanSubmit())
}

func TestRoundFinishedAndRevert(t *testing.T) {
	st := lobbyState()
	require.True(t, st.applyRoundStarted(roundStart("p2", 1, "A"), "u1"))
	st.applyRoundFinished(model.RoundFinished{
		Winner:  model.Winner{ID: "p3", Name: "Cat", Points: 1},
		Players: []model.Player{{ID: "p1", UserID: "u1", Name: "Me"}, {ID: "p3", Name: "Cat", Points: 1}},
	})
	assert.Equal(t, PhaseResults, st.Round.Phase)
	require.NotNil(t, st.Round.Winner)
	assert.Equal(t, "Cat", st.Round.Winner.Name)
	assert.Len(t, st.Players, 2)

	assert.True(t, st.revertResults())
	assert.Equal(t, PhaseWaiting, st.Round.Phase)
	assert.False(t, st.revertResults())
}

func TestJudgeChanged(t *testing.T) {
	st := lobbyState()
	require.True(t, st.applyRoundStarted(roundStart("p2", 1, "A"), "u1"))
	require.NoError(t, st.toggleCard("A"))

	st.applyJudgeChanged("p1", "u1")
	assert.True(t, st.Round.IsJudge)
	assert.Empty(t, st.Round.Selection)
	assert.Equal(t, PhaseSelecting, st.Round.Phase)

	st.applyJudgeChanged("p3", "u1")
	assert.False(t, st.Round.IsJudge)
}

func TestStoreSnapshotIsCopy(t *testing.T) {
	s := NewStore()
	s.update(func(st *State) {
		st.Players = append(st.Players, model.Player{ID: "p1"})
	})
	snap := s.Snapshot()
	snap.Players[0].Name = "changed"
	assert.Empty(t, s.Snapshot().Players[0].Name)
	assert.Equal(t, uint64(1), snap.Version)
}

func TestStoreSubscribe(t *testing.T) {
	s := NewStore()
	ch, cancel := s.Subscribe()
	first := <-ch
	assert.Equal(t, uint64(0), first.Version)

	for i := 0; i < 5; i++ {
		s.update(func(st *State) { st.Started = true })
	}
	latest := <-ch
	assert.Equal(t, uint64(5), latest.Version)

	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	cancel()
}

func TestHandoffTakeOnce(t *testing.T) {
	h := NewHandoff(roundStart("p2", 1, "A"))
	rs, ok := h.Take()
	require.True(t, ok)
	assert.Equal(t, "p2", rs.CardRef)

	_, ok = h.Take()
	assert.False(t, ok)

	var none *Handoff
	_, ok = none.Take()
	assert.False(t, ok)
}

func TestCheckStart(t *testing.T) {
	deck := func(black, white int) model.Deck {
		return model.Deck{ID: "d", BlackCardsCount: black, WhiteCardsCount: white}
	}
	tests := []struct {
		name    string
		players int
		decks   []model.Deck
		wantErr error
	}{
		{name: "one player", players: 1, decks: []model.Deck{deck(10, 100)}, wantErr: ErrNotEnoughPlayers},
		{name: "no decks", players: 2, wantErr: ErrNotEnoughCards},
		{name: "few white cards", players: 3, decks: []model.Deck{deck(10, 29)}, wantErr: ErrNotEnoughCards},
		{name: "few black cards", players: 3, decks: []model.Deck{deck(2, 30)}, wantErr: ErrNotEnoughCards},
		{name: "exact", players: 3, decks: []model.Deck{deck(3, 30)}},
		{name: "summed decks", players: 2, decks: []model.Deck{deck(1, 10), deck(1, 10)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := emptyState()
			for i := 0; i < tt.players; i++ {
				st.Players = append(st.Players, model.Player{ID: string(rune('a' + i))})
			}
			st.DecksInGame = tt.decks
			err := checkStart(st)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
