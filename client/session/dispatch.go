package session

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/adwski/cards-client/client/model"
	"github.com/adwski/cards-client/client/notice"
	"github.com/davecgh/go-spew/spew"
	"github.com/google/uuid"
)

type eventHandler func(*Session, model.Envelope) error

var eventHandlers = map[string]eventHandler{
	model.EventConnected:   (*Session).onConnected,
	model.EventChatMessage: (*Session).onChatMessage,

	model.EventInvalidSession: (*Session).onInvalidSession,
	model.EventUserNotInGame:  fatalTo(ScreenMenu, notice.LevelError),
	model.EventKicked:         fatalTo(ScreenMenu, notice.LevelError),
	model.EventGameFinished:   (*Session).onGameFinished,
	model.EventJoinFailed:     (*Session).onJoinFailed,

	model.EventPlayersInGame:  (*Session).onPlayersInGame,
	model.EventAvailableDecks: (*Session).onAvailableDecks,
	model.EventDecksInGame:    (*Session).onDecksInGame,

	model.EventPlayerJoined: (*Session).onPlayerJoined,
	model.EventPlayerLeft:   (*Session).onPlayerLeft,
	model.EventDecksAdded:   (*Session).onDecksAdded,
	model.EventDecksRemoved: (*Session).onDecksRemoved,

	model.EventGameStarted:       (*Session).onGameStarted,
	model.EventRoundStarted:      (*Session).onRoundStarted,
	model.EventCardsSubmitted:    (*Session).onCardsSubmitted,
	model.EventAllCardsSubmitted: (*Session).onAllCardsSubmitted,
	model.EventRoundFinished:     (*Session).onRoundFinished,
	model.EventJudgeChanged:      (*Session).onJudgeChanged,
}

// dispatch routes one inbound envelope. Handler errors are logged and
// never reach the connection.
func (s *Session) dispatch(env model.Envelope) {
	log := s.logger.With().
		Str("event", env.Event).
		Str("category", model.CategoryOf(env.Event).String()).
		Logger()

	h, ok := eventHandlers[env.Event]
	switch {
	case ok:
	case model.CategoryOf(env.Event) == model.CategoryRejection:
		h = (*Session).onRejection
	case s.tr != nil && s.tr.Has(notice.ErrorKey(env.Event)):
		h = (*Session).onRejection
	default:
		if log.Debug().Enabled() {
			log.Debug().Str("dump", spew.Sdump(env)).Msg("unhandled event")
		}
		return
	}
	if err := h(s, env); err != nil {
		log.Error().Err(err).Msg("cannot handle event")
		return
	}
	log.Debug().Msg("event handled")
}

func (s *Session) onConnected(model.Envelope) error {
	s.store.update(func(st *State) {
		st.Live = true
		st.Status = StatusOpen
	})
	return nil
}

func (s *Session) onChatMessage(env model.Envelope) error {
	var msg model.ChatMessage
	if err := env.Decode(&msg); err != nil {
		return err
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = model.Timestamp{Time: time.Now().UTC()}
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	s.store.update(func(st *State) { st.Chat = append(st.Chat, msg) })
	return nil
}

func (s *Session) onRejection(env model.Envelope) error {
	s.notify(notice.New(notice.LevelError, notice.ErrorKey(env.Event)))
	return nil
}

func (s *Session) onInvalidSession(env model.Envelope) error {
	if s.identity != nil {
		s.identity.Logout()
	}
	s.fatal(ScreenLogin, notice.New(notice.LevelError, notice.ErrorKey(env.Event)))
	return nil
}

func (s *Session) onGameFinished(model.Envelope) error {
	s.fatal(ScreenMenu, notice.New(notice.LevelInfo, "game.finished"))
	return nil
}

func (s *Session) onJoinFailed(env model.Envelope) error {
	n := notice.New(notice.LevelError, "lobby.errors.join_failed")
	var jf model.JoinFailed
	if env.HasData() && env.Decode(&jf) == nil {
		n.Fallback = jf.Reason
	}
	s.fatal(ScreenMenu, n)
	return nil
}

func fatalTo(screen Screen, level notice.Level) eventHandler {
	return func(s *Session, env model.Envelope) error {
		s.fatal(screen, notice.New(level, notice.ErrorKey(env.Event)))
		return nil
	}
}

// fatal ends the session for good: no reconnect, no timers, no state.
func (s *Session) fatal(to Screen, n notice.Notice) {
	gameID := s.target.GameID
	s.sup.Close(n.Key)
	s.teardown()
	s.store.update(func(st *State) { st.Status = StatusClosed })
	s.notify(n)
	s.navigate(Navigation{To: to, GameID: gameID, Notice: &n})
}

func (s *Session) onPlayersInGame(env model.Envelope) error {
	var players []model.Player
	if err := env.Decode(&players); err != nil {
		return err
	}
	if players == nil {
		players = []model.Player{}
	}
	s.store.update(func(st *State) { st.Players = players })
	return nil
}

func (s *Session) onAvailableDecks(env model.Envelope) error {
	page, err := model.ParseDeckPage(env)
	if err != nil {
		return err
	}
	s.store.update(func(st *State) { st.AvailableDecks = page })
	return nil
}

func (s *Session) onDecksInGame(env model.Envelope) error {
	decks, err := model.ParseDeckList(env)
	if err != nil {
		return err
	}
	s.store.update(func(st *State) { st.DecksInGame = decks })
	return nil
}

func (s *Session) onPlayerJoined(env model.Envelope) error {
	var p model.Player
	if err := env.Decode(&p); err != nil {
		return err
	}
	if p.ID == "" {
		return fmt.Errorf("%w: player without id", model.ErrBadPayload)
	}
	s.store.update(func(st *State) {
		if i := slices.IndexFunc(st.Players, func(x model.Player) bool { return x.ID == p.ID }); i >= 0 {
			st.Players[i] = p
			return
		}
		st.Players = append(st.Players, p)
	})
	s.notify(notice.New(notice.LevelInfo, "lobby.player_joined", p.Name))
	return nil
}

func (s *Session) onPlayerLeft(env model.Envelope) error {
	var pl model.PlayerLeft
	if err := env.Decode(&pl); err != nil {
		return err
	}
	var (
		name  string
		known bool
	)
	s.store.update(func(st *State) {
		name, known = st.PlayerName(pl.ID)
		st.Players = slices.DeleteFunc(st.Players, func(p model.Player) bool { return p.ID == pl.ID })
	})
	if known {
		s.notify(notice.New(notice.LevelInfo, "lobby.player_left", name))
	}
	return nil
}

func (s *Session) onDecksAdded(env model.Envelope) error {
	decks, err := model.ParseDeckIDs(env)
	if err != nil {
		return err
	}
	s.store.update(func(st *State) {
		for _, d := range decks {
			if i := slices.IndexFunc(st.DecksInGame, func(x model.Deck) bool { return x.ID == d.ID }); i >= 0 {
				if d.Title != "" {
					st.DecksInGame[i] = d
				}
				continue
			}
			if d.Title == "" {
				// an id-only delta borrows the details from the catalog page
				if j := slices.IndexFunc(st.AvailableDecks.Decks, func(x model.Deck) bool { return x.ID == d.ID }); j >= 0 {
					d = st.AvailableDecks.Decks[j]
				}
			}
			st.DecksInGame = append(st.DecksInGame, d)
		}
	})
	return nil
}

func (s *Session) onDecksRemoved(env model.Envelope) error {
	decks, err := model.ParseDeckIDs(env)
	if err != nil {
		return err
	}
	s.store.update(func(st *State) {
		st.DecksInGame = slices.DeleteFunc(st.DecksInGame, func(x model.Deck) bool {
			return slices.ContainsFunc(decks, func(d model.Deck) bool { return d.ID == x.ID })
		})
	})
	return nil
}

func (s *Session) onGameStarted(model.Envelope) error {
	s.store.update(func(st *State) { st.Started = true })
	s.notify(notice.New(notice.LevelInfo, "game.started"))
	return nil
}

func (s *Session) onRoundStarted(env model.Envelope) error {
	var rs model.RoundStarted
	if err := env.Decode(&rs); err != nil {
		return err
	}
	s.roundStarted(rs, "event")
	return nil
}

// roundStarted applies a round-start payload. On the lobby screen it also
// asks for the game screen, handing the payload over so the round is
// seeded there exactly once.
func (s *Session) roundStarted(rs model.RoundStarted, source string) {
	userID := s.userID()
	s.roundSeq++
	seq := s.roundSeq
	var applied bool
	s.store.update(func(st *State) {
		if applied = st.applyRoundStarted(rs, userID); applied {
			st.Round.seq = seq
		}
	})
	s.logger.Debug().
		Str("source", source).
		Str("round", rs.Key()).
		Bool("resume", rs.IsResume()).
		Bool("applied", applied).
		Msg("round start")
	if !applied {
		return
	}
	s.stopRevert()
	if s.screen == ScreenLobby {
		s.navigate(Navigation{
			To:      ScreenGame,
			GameID:  s.target.GameID,
			Handoff: &Handoff{round: rs, seq: seq},
		})
	}
}

// seedFromHandoff applies a handoff payload unless the store already holds
// that round-start application or a later one.
func (s *Session) seedFromHandoff(h *Handoff) {
	rs, ok := h.Take()
	if !ok {
		return
	}
	var held uint64
	s.store.read(func(st State) { held = st.Round.seq })
	if h.seq != 0 && held >= h.seq {
		s.logger.Debug().
			Str("round", rs.Key()).
			Uint64("handoff", h.seq).
			Uint64("held", held).
			Msg("handoff already applied")
		return
	}
	s.roundStarted(rs, "handoff")
}

func (s *Session) onCardsSubmitted(env model.Envelope) error {
	var cs model.CardsSubmitted
	if err := env.Decode(&cs); err != nil {
		return err
	}
	userID := s.userID()
	s.store.update(func(st *State) {
		st.applyCardsSubmitted(cs.PlayerID)
		if st.isLocal(cs.PlayerID, userID) && st.Round.Phase == PhaseSelecting {
			st.markSubmitted()
		}
	})
	return nil
}

func (s *Session) onAllCardsSubmitted(env model.Envelope) error {
	var acs model.AllCardsSubmitted
	if err := env.Decode(&acs); err != nil {
		return err
	}
	s.store.update(func(st *State) { st.applyAllSubmitted(acs.Submissions) })
	return nil
}

func (s *Session) onRoundFinished(env model.Envelope) error {
	var rf model.RoundFinished
	if err := env.Decode(&rf); err != nil {
		return err
	}
	s.store.update(func(st *State) { st.applyRoundFinished(rf) })
	if rf.Winner.Name != "" {
		s.notify(notice.New(notice.LevelSuccess, "game.round_winner", rf.Winner.Name))
	}
	s.scheduleRevert()
	return nil
}

func (s *Session) onJudgeChanged(env model.Envelope) error {
	var jc model.JudgeChanged
	if err := env.Decode(&jc); err != nil {
		return err
	}
	if jc.NewJudgeID == "" {
		return errors.Join(model.ErrBadPayload, errors.New("missing judge id"))
	}
	userID := s.userID()
	s.store.update(func(st *State) { st.applyJudgeChanged(jc.NewJudgeID, userID) })
	s.notify(notice.New(notice.LevelInfo, "game.judge_changed"))
	return nil
}
