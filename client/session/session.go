package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/adwski/cards-client/client/auth"
	"github.com/adwski/cards-client/client/model"
	"github.com/adwski/cards-client/client/notice"
	"github.com/adwski/cards-client/client/reconnect"
	ws "github.com/adwski/cards-client/client/transport/websocket"
	"github.com/rs/zerolog"
)

const (
	DefaultResultsDelay = 5 * time.Second

	MinPlayers          = 2
	BlackCardsPerPlayer = 1
	WhiteCardsPerPlayer = 10
	MaxChatLength       = 500

	noticeBuffer     = 64
	navigationBuffer = 16
)

var (
	ErrClosed           = errors.New("session is closed")
	ErrNotLoggedIn      = errors.New("not logged in")
	ErrNotConnected     = errors.New("not connected to the game server")
	ErrNotOwner         = errors.New("only the game owner can do that")
	ErrDeckInGame       = errors.New("deck is already in the game")
	ErrNoDecks          = errors.New("no decks given")
	ErrNotEnoughPlayers = errors.New("not enough players to start")
	ErrNotEnoughCards   = errors.New("not enough cards in the selected decks")
	ErrEmptyMessage     = errors.New("message is empty")
	ErrMessageTooLong   = errors.New("message is too long")
	ErrBadPage          = errors.New("page and page size must be positive")
	ErrNoPlayer         = errors.New("player id is required")
)

type (
	Identity interface {
		User() (auth.User, bool)
		LoggedIn() bool
		Logout()
	}

	Supervisor interface {
		Attach(owner reconnect.Owner)
		Detach(owner reconnect.Owner)
		Connect(target model.Target) (*ws.Conn, bool, error)
		Leave(reason string) error
		Close(reason string)
		Conn() *ws.Conn
	}

	Config struct {
		Logger       *zerolog.Logger
		Identity     Identity
		Supervisor   Supervisor
		Translator   *notice.Translator
		ResultsDelay time.Duration
	}

	// Session is the client side of one game session. It lives longer than
	// any single screen: screens mount and unmount while the connection and
	// the state stay in place. All state changes happen on one goroutine.
	Session struct {
		ctx    context.Context
		cancel context.CancelFunc
		done   chan struct{}
		q      *queue

		logger       zerolog.Logger
		identity     Identity
		sup          Supervisor
		tr           *notice.Translator
		store        *Store
		resultsDelay time.Duration

		notices     chan notice.Notice
		navigations chan Navigation

		// owned by the loop goroutine
		screen      Screen
		target      model.Target
		owner       *screenOwner
		epoch       uint64
		revertTimer *time.Timer
		revertGen   uint64
		roundSeq    uint64
	}
)

func New(parent context.Context, cfg Config) *Session {
	ctx, cancel := context.WithCancel(parent)
	delay := cfg.ResultsDelay
	if delay <= 0 {
		delay = DefaultResultsDelay
	}
	s := &Session{
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
		q:            newQueue(),
		logger:       cfg.Logger.With().Str("component", "session").Logger(),
		identity:     cfg.Identity,
		sup:          cfg.Supervisor,
		tr:           cfg.Translator,
		store:        NewStore(),
		resultsDelay: delay,
		notices:      make(chan notice.Notice, noticeBuffer),
		navigations:  make(chan Navigation, navigationBuffer),
	}
	go s.loop()
	return s
}

func (s *Session) Store() *Store { return s.store }

func (s *Session) State() State { return s.store.Snapshot() }

// Subscribe follows state changes, see Store.Subscribe.
func (s *Session) Subscribe() (<-chan State, func()) { return s.store.Subscribe() }

// Notices delivers user-facing notices in the order they were raised.
func (s *Session) Notices() <-chan notice.Notice { return s.notices }

// Navigations delivers screen changes the presentation layer must perform.
func (s *Session) Navigations() <-chan Navigation { return s.navigations }

func (s *Session) Done() <-chan struct{} { return s.done }

// Close tears the session down: reconnection stops, timers are cancelled
// and the connection is closed normally.
func (s *Session) Close() {
	s.cancel()
	<-s.done
}

// Shutdown is the process-exit path. It tells the server the player is
// leaving with a synchronous write, then closes the session.
func (s *Session) Shutdown() {
	if conn := s.sup.Conn(); conn != nil && conn.State() == ws.StateOpen {
		if err := conn.NotifyLeaving(); err != nil {
			s.logger.Debug().Err(err).Msg("leave notification failed")
		}
	}
	s.Close()
}

// Mount attaches a screen to the session and makes sure the connection
// for target is open. Mounting a screen for the game the session already
// serves keeps the connection and the state. A handoff, if given, seeds
// the round exactly once.
func (s *Session) Mount(screen Screen, target model.Target, handoff *Handoff) error {
	return s.call(func() error { return s.mount(screen, target, handoff) })
}

// Unmount detaches a screen. A permanent unmount ends the session's use of
// the connection; otherwise the connection stays up for the next screen
// and events received meanwhile are kept for it.
func (s *Session) Unmount(screen Screen, permanent bool) error {
	return s.call(func() error {
		if s.screen != screen {
			return nil
		}
		if permanent {
			s.sup.Close("screen closed")
			s.teardown()
			return nil
		}
		s.detach()
		s.screen = ScreenNone
		s.store.update(func(st *State) { st.Screen = ScreenNone })
		return nil
	})
}

func (s *Session) ToggleCard(cardID string) error {
	return s.call(func() error {
		var err error
		s.store.update(func(st *State) { err = st.toggleCard(cardID) })
		return err
	})
}

// SubmitCards sends the current selection. It is refused locally unless
// the selection holds exactly as many cards as the prompt has blanks.
func (s *Session) SubmitCards() error {
	return s.call(func() error {
		var (
			err error
			ids []string
		)
		s.store.read(func(st State) {
			if err = st.checkSubmit(); err == nil {
				ids = append([]string{}, st.Round.Selection...)
			}
		})
		if err != nil {
			return err
		}
		if err = s.send(model.CommandSubmitCards, model.SubmitCardsData{CardIDs: ids}); err != nil {
			return err
		}
		s.store.update(func(st *State) { st.markSubmitted() })
		s.notify(notice.New(notice.LevelSuccess, "game.cards_submitted"))
		return nil
	})
}

func (s *Session) SelectWinner(playerID string) error {
	return s.call(func() error {
		var err error
		s.store.read(func(st State) { err = st.checkWinner(playerID) })
		if err != nil {
			return err
		}
		return s.send(model.CommandSelectWinner, model.PlayerRefData{PlayerID: playerID})
	})
}

func (s *Session) SendChat(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > MaxChatLength {
		return ErrMessageTooLong
	}
	return s.call(func() error {
		return s.send(model.CommandChatMessage, model.ChatData{Text: text})
	})
}

func (s *Session) KickPlayer(playerID string) error {
	if playerID == "" {
		return ErrNoPlayer
	}
	return s.call(func() error {
		if err := s.requireOwner(); err != nil {
			return err
		}
		return s.send(model.CommandKickPlayer, model.PlayerRefData{PlayerID: playerID})
	})
}

// AddDecks asks the server to add decks to the game. Decks already in the
// game are refused locally.
func (s *Session) AddDecks(ids ...string) error {
	if len(ids) == 0 {
		return ErrNoDecks
	}
	return s.call(func() error {
		if err := s.requireOwner(); err != nil {
			return err
		}
		var inGame bool
		s.store.read(func(st State) {
			for _, id := range ids {
				inGame = inGame || st.InGame(id)
			}
		})
		if inGame {
			return ErrDeckInGame
		}
		return s.send(model.CommandAddDecks, model.DecksData{Decks: ids})
	})
}

func (s *Session) RemoveDecks(ids ...string) error {
	if len(ids) == 0 {
		return ErrNoDecks
	}
	return s.call(func() error {
		if err := s.requireOwner(); err != nil {
			return err
		}
		return s.send(model.CommandRemoveDecks, model.DecksData{Decks: ids})
	})
}

func (s *Session) RequestDecks(page, pageSize int) error {
	if page < 1 || pageSize < 1 {
		return ErrBadPage
	}
	return s.call(func() error {
		return s.send(model.CommandGetDecksPaged, model.NewPageRequest(page, pageSize))
	})
}

// StartGame checks the lobby can start before asking the server: enough
// players and enough cards in the selected decks for all of them.
func (s *Session) StartGame() error {
	return s.call(func() error {
		if err := s.requireOwner(); err != nil {
			return err
		}
		var err error
		s.store.read(func(st State) { err = checkStart(st) })
		if err != nil {
			switch {
			case errors.Is(err, ErrNotEnoughPlayers):
				s.notify(notice.New(notice.LevelError, "lobby.errors.min_players_2"))
			case errors.Is(err, ErrNotEnoughCards):
				s.notify(notice.New(notice.LevelError, "lobby.errors.not_enough_cards"))
			}
			return err
		}
		return s.send(model.CommandStartGame, nil)
	})
}

func checkStart(st State) error {
	players := len(st.Players)
	if players < MinPlayers {
		return ErrNotEnoughPlayers
	}
	var black, white int
	for _, d := range st.DecksInGame {
		black += d.BlackCardsCount
		white += d.WhiteCardsCount
	}
	if black < players*BlackCardsPerPlayer || white < players*WhiteCardsPerPlayer {
		return ErrNotEnoughCards
	}
	return nil
}

// Leave tells the server the player is leaving, closes the connection
// and sends the presentation layer back to the menu.
func (s *Session) Leave() error {
	return s.call(func() error {
		gameID := s.target.GameID
		if err := s.sup.Leave("User left game"); err != nil && !errors.Is(err, ws.ErrNotOpen) {
			s.logger.Warn().Err(err).Msg("leave notification failed")
		}
		s.teardown()
		s.navigate(Navigation{To: ScreenMenu, GameID: gameID})
		return nil
	})
}

func (s *Session) requireOwner() error {
	userID := s.userID()
	var owner bool
	s.store.read(func(st State) {
		p, ok := st.LocalPlayer(userID)
		owner = ok && p.Owner
	})
	if !owner {
		return ErrNotOwner
	}
	return nil
}

func (s *Session) userID() string {
	if s.identity == nil {
		return ""
	}
	u, _ := s.identity.User()
	return u.ID
}

func (s *Session) send(event string, payload any) error {
	conn := s.sup.Conn()
	if conn == nil || conn.State() != ws.StateOpen {
		s.notify(notice.New(notice.LevelError, "errors.websocket_not_connected"))
		return ErrNotConnected
	}
	env, err := model.NewCommand(event, payload)
	if err != nil {
		return err
	}
	if err = conn.Send(env); err != nil {
		return errors.Join(ErrNotConnected, err)
	}
	return nil
}

func (s *Session) mount(screen Screen, target model.Target, handoff *Handoff) error {
	if s.identity != nil && !s.identity.LoggedIn() {
		return ErrNotLoggedIn
	}
	var gameID string
	s.store.read(func(st State) { gameID = st.GameID })
	if gameID != target.GameID {
		s.teardown()
		s.store.update(func(st *State) {
			*st = emptyState()
			st.GameID = target.GameID
		})
	}

	s.detach()
	s.screen = screen
	s.target = target
	s.owner = &screenOwner{s: s, screen: screen, epoch: s.epoch}
	s.sup.Attach(s.owner)

	conn, reused, err := s.sup.Connect(target)
	if err != nil {
		s.logger.Error().Err(err).Str("gameID", target.GameID).Msg("unable to connect")
		s.store.update(func(st *State) {
			st.Screen = screen
			st.Status = StatusClosed
		})
		return err
	}

	s.store.update(func(st *State) {
		st.Screen = screen
		if !reused || conn.State() == ws.StateConnecting {
			st.Status = StatusConnecting
			st.Live = false
		}
	})
	s.logger.Debug().
		Str("screen", string(screen)).
		Str("gameID", target.GameID).
		Bool("reused", reused).
		Msg("screen mounted")

	s.seedFromHandoff(handoff)
	return nil
}

func (s *Session) detach() {
	if s.owner != nil {
		s.sup.Detach(s.owner)
		s.owner = nil
	}
}

// teardown drops everything tied to the current connection. Events still
// queued from it are ignored afterwards.
func (s *Session) teardown() {
	s.stopRevert()
	s.detach()
	s.epoch++
	s.screen = ScreenNone
	s.target = model.Target{}
	s.store.update(func(st *State) { *st = emptyState() })
}

func (s *Session) scheduleRevert() {
	s.stopRevert()
	gen := s.revertGen
	s.revertTimer = time.AfterFunc(s.resultsDelay, func() {
		s.q.push(revertMsg{gen: gen})
	})
}

func (s *Session) stopRevert() {
	s.revertGen++
	if s.revertTimer != nil {
		s.revertTimer.Stop()
		s.revertTimer = nil
	}
}

func (s *Session) notify(n notice.Notice) {
	for {
		select {
		case s.notices <- n:
			return
		default:
		}
		select {
		case dropped := <-s.notices:
			s.logger.Debug().Str("key", dropped.Key).Msg("notice buffer full, dropping oldest")
		default:
		}
	}
}

func (s *Session) navigate(nav Navigation) {
	for {
		select {
		case s.navigations <- nav:
			return
		default:
		}
		select {
		case dropped := <-s.navigations:
			s.logger.Warn().Str("to", string(dropped.To)).Msg("navigation buffer full, dropping oldest")
		default:
		}
	}
}

func (s *Session) call(fn func() error) error {
	reply := make(chan error, 1)
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	s.q.push(callMsg{fn: fn, reply: reply})
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrClosed
	}
}

func (s *Session) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			s.sup.Close("session closed")
			s.teardown()
			return
		case <-s.q.notify:
			for _, m := range s.q.take() {
				s.handle(m)
			}
		}
	}
}

func (s *Session) handle(m any) {
	switch msg := m.(type) {
	case callMsg:
		msg.reply <- msg.fn()

	case revertMsg:
		if msg.gen != s.revertGen {
			return
		}
		s.revertTimer = nil
		s.store.update(func(st *State) { st.revertResults() })

	case openMsg:
		if s.stale(msg.owner, msg.conn) {
			return
		}
		s.store.update(func(st *State) {
			st.Status = StatusOpen
			st.Live = false
		})
		s.notify(notice.New(notice.LevelSuccess, "connected"))

	case inboundMsg:
		if s.stale(msg.owner, msg.conn) {
			return
		}
		s.dispatch(msg.env)

	case closeMsg:
		if s.stale(msg.owner, msg.conn) {
			return
		}
		s.store.update(func(st *State) {
			st.Status = StatusClosed
			st.Live = false
		})
		if !msg.conn.Intentional() {
			s.notify(notice.New(notice.LevelWarn, "errors.WEBSOCKET_DISCONNECT"))
		}

	case reconnectMsg:
		if msg.owner.epoch != s.epoch {
			return
		}
		s.store.update(func(st *State) { st.Status = StatusReconnecting })
		s.notify(notice.New(notice.LevelInfo, "reconnecting"))
	}
}

// stale reports whether an event belongs to a torn down session or to a
// connection that has since been replaced.
func (s *Session) stale(owner *screenOwner, conn *ws.Conn) bool {
	return owner.epoch != s.epoch || conn != s.sup.Conn()
}

type (
	callMsg struct {
		fn    func() error
		reply chan error
	}
	revertMsg struct {
		gen uint64
	}
	openMsg struct {
		owner *screenOwner
		conn  *ws.Conn
	}
	inboundMsg struct {
		owner *screenOwner
		conn  *ws.Conn
		env   model.Envelope
	}
	closeMsg struct {
		owner *screenOwner
		conn  *ws.Conn
	}
	reconnectMsg struct {
		owner *screenOwner
	}
)

// screenOwner receives connection events on behalf of a mounted screen
// and hands them to the session loop without blocking.
type screenOwner struct {
	s      *Session
	screen Screen
	epoch  uint64
}

func (o *screenOwner) OnOpen(c *ws.Conn) { o.s.q.push(openMsg{owner: o, conn: c}) }

func (o *screenOwner) OnMessage(c *ws.Conn, env model.Envelope) {
	o.s.q.push(inboundMsg{owner: o, conn: c, env: env})
}

func (o *screenOwner) OnClose(c *ws.Conn, _ error) { o.s.q.push(closeMsg{owner: o, conn: c}) }

func (o *screenOwner) OnReconnectScheduled(int, time.Duration) {
	o.s.q.push(reconnectMsg{owner: o})
}

type queue struct {
	mx     *sync.Mutex
	items  []any
	notify chan struct{}
}

func newQueue() *queue {
	return &queue{
		mx:     &sync.Mutex{},
		notify: make(chan struct{}, 1),
	}
}

func (q *queue) push(m any) {
	q.mx.Lock()
	q.items = append(q.items, m)
	q.mx.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *queue) take() []any {
	q.mx.Lock()
	defer q.mx.Unlock()
	items := q.items
	q.items = nil
	return items
}
