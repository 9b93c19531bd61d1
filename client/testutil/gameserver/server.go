// Package gameserver is a scripted stand-in for the game backend. It
// accepts websocket connections on the game connect path, greets each
// connection with a scripted set of frames, records everything clients
// send and lets tests push events or drop connections at will.
package gameserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"time"

	"github.com/adwski/cards-client/client/model"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	ConnectPath = "/game/connect"

	defaultWebsocketReadBufferSize     = 10000
	defaultWebsocketWriteBufferSize    = 10000
	defaultWebSocketMaxMessageSize     = 1 << 20
	defaultWebSocketHandshakeTimeout   = 3 * time.Second
	defaultWebSocketCloseWriteDeadline = 2 * time.Second
	defaultWebSocketWriteDeadline      = 5 * time.Second
	defaultPongWait                    = 30 * time.Second

	peerQueue        = 64
	defaultFwdTimout = time.Second
	pollInterval     = 20 * time.Millisecond
)

var ErrTimeout = errors.New("timed out waiting for frame")

type (
	Config struct {
		Logger *zerolog.Logger
		// Greeting is sent to every new connection, in order.
		Greeting []model.Envelope
		// Reject, if set, is sent instead of the greeting and the
		// connection is closed right after.
		Reject *model.Envelope
	}

	Frame struct {
		ConnID string
		GameID string
		Env    model.Envelope
	}

	Server struct {
		*httptest.Server
		ws     *websocket.Upgrader
		logger zerolog.Logger

		mx        *sync.Mutex
		greeting  []model.Envelope
		reject    *model.Envelope
		peers     map[string]map[string]*peer
		received  []Frame
		connects  int
		active    int
		maxActive int
		queries   []map[string]string
		notify    chan struct{}
	}

	peer struct {
		id     string
		gameID string
		conn   *websocket.Conn
		tx     chan model.Envelope
		ctx    context.Context
		cancel context.CancelFunc
		// limit stops the sender after that many frames when non-zero
		limit int
	}
)

func New(cfg Config) *Server {
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	srv := &Server{
		logger: logger.With().Str("component", "game-server").Logger(),
		ws: &websocket.Upgrader{
			HandshakeTimeout: defaultWebSocketHandshakeTimeout,
			ReadBufferSize:   defaultWebsocketReadBufferSize,
			WriteBufferSize:  defaultWebsocketWriteBufferSize,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
		mx:       &sync.Mutex{},
		greeting: cfg.Greeting,
		reject:   cfg.Reject,
		peers:    make(map[string]map[string]*peer),
		notify:   make(chan struct{}, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+ConnectPath, srv.connect)
	srv.Server = httptest.NewServer(mux)
	return srv
}

// SetGreeting replaces the frames sent to connections opened from now on.
func (srv *Server) SetGreeting(envs ...model.Envelope) {
	srv.mx.Lock()
	defer srv.mx.Unlock()
	srv.greeting = envs
}

func (srv *Server) SetReject(env *model.Envelope) {
	srv.mx.Lock()
	defer srv.mx.Unlock()
	srv.reject = env
}

func (srv *Server) connect(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	gameID := q.Get("game")
	if gameID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	conn, err := srv.ws.Upgrade(w, r, nil)
	if err != nil {
		srv.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &peer{
		id:     uuid.NewString(),
		gameID: gameID,
		conn:   conn,
		tx:     make(chan model.Envelope, peerQueue),
		ctx:    ctx,
		cancel: cancel,
	}

	srv.mx.Lock()
	// queue the greeting before the peer becomes visible to Broadcast
	if srv.reject != nil {
		p.limit = 1
		p.tx <- *srv.reject
	} else {
		for _, env := range srv.greeting {
			p.tx <- env
		}
	}
	query := make(map[string]string, len(q))
	for k := range q {
		query[k] = q.Get(k)
	}
	srv.queries = append(srv.queries, query)
	srv.connects++
	srv.active++
	srv.maxActive = max(srv.maxActive, srv.active)
	game, ok := srv.peers[gameID]
	if !ok {
		game = make(map[string]*peer)
		srv.peers[gameID] = game
	}
	game[p.id] = p
	srv.mx.Unlock()
	srv.signal()

	srv.logger.Debug().
		Str("gameID", gameID).
		Str("connID", p.id).
		Msg("client connected")

	go srv.handleWSConn(p)
}

func (srv *Server) handleWSConn(p *peer) {
	wg := &sync.WaitGroup{}
	logger := srv.logger.With().
		Str("gameID", p.gameID).
		Str("connID", p.id).
		Logger()

	wg.Add(2)
	go func() {
		srv.receiver(wg, p, &logger)
		p.cancel()
	}()
	go func() {
		sender(wg, p, &logger)
		p.cancel()
		closer(p.conn, &logger)
	}()
	wg.Wait()
	if err := p.conn.Close(); err != nil {
		logger.Debug().Err(err).Msg("failed to close websocket connection")
	}

	srv.mx.Lock()
	delete(srv.peers[p.gameID], p.id)
	srv.active--
	srv.mx.Unlock()
	srv.signal()
	logger.Debug().Msg("client disconnected")
}

func sender(wg *sync.WaitGroup, p *peer, logger *zerolog.Logger) {
	defer wg.Done()
	var sent int
SendLoop:
	for {
		if p.limit > 0 && sent >= p.limit {
			break
		}
		select {
		case <-p.ctx.Done():
			break SendLoop
		case env := <-p.tx:
			b, err := json.Marshal(&env)
			if err != nil {
				logger.Error().Err(err).Msg("failed to marshal outgoing frame")
				break SendLoop
			}
			if err = p.conn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline)); err != nil {
				break SendLoop
			}
			if err = p.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				logger.Debug().Err(err).Msg("failed to write outgoing frame")
				break SendLoop
			}
			sent++
		}
	}
}

func (srv *Server) receiver(wg *sync.WaitGroup, p *peer, logger *zerolog.Logger) {
	defer wg.Done()

	p.conn.SetReadLimit(defaultWebSocketMaxMessageSize)
	if err := p.conn.SetReadDeadline(time.Now().Add(defaultPongWait)); err != nil {
		return
	}
	p.conn.SetPingHandler(func(data string) error {
		_ = p.conn.SetReadDeadline(time.Now().Add(defaultPongWait))
		return p.conn.WriteControl(websocket.PongMessage, []byte(data),
			time.Now().Add(defaultWebSocketWriteDeadline))
	})
	for {
		if p.ctx.Err() != nil {
			return
		}
		_, msg, err := p.conn.ReadMessage()
		if err != nil {
			logger.Debug().Err(err).Msg("receive stopped")
			return
		}
		_ = p.conn.SetReadDeadline(time.Now().Add(defaultPongWait))

		env, err := model.ParseEnvelope(msg)
		if err != nil {
			logger.Error().Err(err).Msg("failed to parse incoming frame")
			continue
		}
		srv.mx.Lock()
		srv.received = append(srv.received, Frame{ConnID: p.id, GameID: p.gameID, Env: env})
		srv.mx.Unlock()
		srv.signal()
	}
}

// closer starts the close handshake; the receiver stops once the client
// answers or the read deadline passes.
func closer(conn *websocket.Conn, logger *zerolog.Logger) {
	err := conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(defaultWebSocketCloseWriteDeadline))
	if err != nil {
		logger.Debug().Err(err).Msg("close frame not sent")
	}
	_ = conn.SetReadDeadline(time.Now().Add(defaultWebSocketCloseWriteDeadline))
}

// Broadcast sends env to every connection of the game.
func (srv *Server) Broadcast(gameID string, env model.Envelope) int {
	srv.mx.Lock()
	targets := make([]*peer, 0, len(srv.peers[gameID]))
	for _, p := range srv.peers[gameID] {
		targets = append(targets, p)
	}
	srv.mx.Unlock()

	var sent int
	for _, p := range targets {
		if send(p, env, &srv.logger) {
			sent++
		}
	}
	return sent
}

// Emit builds a frame from an event tag and payload and broadcasts it.
func (srv *Server) Emit(gameID, event string, payload any) int {
	env, err := model.NewCommand(event, payload)
	if err != nil {
		srv.logger.Error().Err(err).Msg("cannot build frame")
		return 0
	}
	return srv.Broadcast(gameID, env)
}

func send(p *peer, env model.Envelope, logger *zerolog.Logger) bool {
	t := time.NewTimer(defaultFwdTimout)
	defer t.Stop()
	select {
	case <-p.ctx.Done():
		return false
	case <-t.C:
		logger.Error().Str("connID", p.id).Msg("dead endpoint")
		return false
	case p.tx <- env:
		return true
	}
}

// Drop tears down every connection without a close handshake, the way a
// network failure would.
func (srv *Server) Drop() {
	srv.mx.Lock()
	var all []*peer
	for _, game := range srv.peers {
		for _, p := range game {
			all = append(all, p)
		}
	}
	srv.mx.Unlock()
	for _, p := range all {
		p.cancel()
		_ = p.conn.UnderlyingConn().Close()
	}
}

func (srv *Server) Received() []Frame {
	srv.mx.Lock()
	defer srv.mx.Unlock()
	return slices.Clone(srv.received)
}

// ReceivedEvents lists the tags of every frame received so far.
func (srv *Server) ReceivedEvents() []string {
	srv.mx.Lock()
	defer srv.mx.Unlock()
	out := make([]string, 0, len(srv.received))
	for _, f := range srv.received {
		out = append(out, f.Env.Event)
	}
	return out
}

// WaitFor blocks until a frame with the given tag has been received.
func (srv *Server) WaitFor(event string, timeout time.Duration) (Frame, error) {
	var found Frame
	err := srv.wait(timeout, func() bool {
		for _, f := range srv.received {
			if f.Env.Event == event {
				found = f
				return true
			}
		}
		return false
	})
	return found, err
}

// WaitConnects blocks until at least n connections have been accepted.
func (srv *Server) WaitConnects(n int, timeout time.Duration) error {
	return srv.wait(timeout, func() bool { return srv.connects >= n })
}

func (srv *Server) WaitActive(n int, timeout time.Duration) error {
	return srv.wait(timeout, func() bool { return srv.active == n })
}

func (srv *Server) wait(timeout time.Duration, cond func() bool) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	poll := time.NewTicker(pollInterval)
	defer poll.Stop()
	for {
		srv.mx.Lock()
		ok := cond()
		srv.mx.Unlock()
		if ok {
			return nil
		}
		select {
		case <-srv.notify:
		case <-poll.C:
		case <-deadline.C:
			return ErrTimeout
		}
	}
}

func (srv *Server) signal() {
	select {
	case srv.notify <- struct{}{}:
	default:
	}
}

func (srv *Server) Connects() int {
	srv.mx.Lock()
	defer srv.mx.Unlock()
	return srv.connects
}

func (srv *Server) Active() int {
	srv.mx.Lock()
	defer srv.mx.Unlock()
	return srv.active
}

// MaxActive is the largest number of simultaneously open connections seen.
func (srv *Server) MaxActive() int {
	srv.mx.Lock()
	defer srv.mx.Unlock()
	return srv.maxActive
}

// Queries returns the query parameters of every accepted handshake.
func (srv *Server) Queries() []map[string]string {
	srv.mx.Lock()
	defer srv.mx.Unlock()
	return slices.Clone(srv.queries)
}

func (srv *Server) Close() {
	srv.Drop()
	srv.Server.Close()
}
