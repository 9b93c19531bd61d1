package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adwski/cards-client/client/model"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	defaultDialTimeout = 5 * time.Second

	defaultWebSocketMaxMessageSize     = 1 << 20
	defaultWebSocketCloseWriteDeadline = 2 * time.Second
	defaultWebSocketWriteDeadline      = 5 * time.Second
	defaultCloseWait                   = time.Second
	defaultLeaveWriteDeadline          = time.Second

	// defaultPongWait - defaultPingInterval == is how long we give server to respond
	defaultPingInterval = 5 * time.Second
	defaultPongWait     = 7 * time.Second

	defaultSendQueue = 64
)

var (
	ErrDial       = errors.New("unable to reach game server")
	ErrNotOpen    = errors.New("connection is not open")
	ErrSendQueue  = errors.New("send queue is full")
	ErrConnClosed = errors.New("connection closed")
)

type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// Handler receives connection lifecycle and inbound frames. Calls arrive
// sequentially in transport order: OnOpen first, then messages, then a
// single OnClose. Implementations must not block.
type Handler interface {
	OnOpen(c *Conn)
	OnMessage(c *Conn, env model.Envelope)
	OnClose(c *Conn, err error)
}

type outbound struct {
	env       *model.Envelope
	closeCode int
	reason    string
}

type Conn struct {
	handler Handler
	logger  zerolog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	tx      chan outbound
	done    chan struct{}

	wmx *sync.Mutex // serializes data frame writes
	mx  *sync.Mutex
	ws  *websocket.Conn

	id       string
	endpoint string
	target   model.Target

	pingInterval time.Duration
	pongWait     time.Duration

	state       atomic.Int32
	intentional atomic.Bool
	closeOnce   sync.Once
}

func newConn(parent context.Context, target model.Target, endpoint string, h Handler, cfg *Config) *Conn {
	ctx, cancel := context.WithCancel(parent)
	id := uuid.NewString()
	c := &Conn{
		handler:      h,
		ctx:          ctx,
		cancel:       cancel,
		tx:           make(chan outbound, defaultSendQueue),
		done:         make(chan struct{}),
		wmx:          &sync.Mutex{},
		mx:           &sync.Mutex{},
		id:           id,
		endpoint:     endpoint,
		target:       target,
		pingInterval: cfg.PingInterval,
		pongWait:     cfg.PongWait,
		logger: cfg.Logger.With().
			Str("component", "connection").
			Str("connID", id).
			Str("gameID", target.GameID).
			Logger(),
	}
	if c.pingInterval <= 0 {
		c.pingInterval = defaultPingInterval
	}
	if c.pongWait <= c.pingInterval {
		c.pongWait = c.pingInterval + (defaultPongWait - defaultPingInterval)
	}
	c.state.Store(int32(StateConnecting))
	return c
}

func (c *Conn) ID() string           { return c.id }
func (c *Conn) Target() model.Target { return c.target }
func (c *Conn) State() State         { return State(c.state.Load()) }

// Done is closed once the connection has fully shut down.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Intentional reports whether the local side requested the closure.
func (c *Conn) Intentional() bool { return c.intentional.Load() }

// Live reports whether the connection is open or dialing and has not been
// asked to close.
func (c *Conn) Live() bool {
	s := c.State()
	return (s == StateConnecting || s == StateOpen) && c.ctx.Err() == nil
}

// Send queues a frame for the sender loop. Nothing is queued once the
// connection has been asked to close.
func (c *Conn) Send(env model.Envelope) error {
	if c.State() != StateOpen || c.intentional.Load() {
		return ErrNotOpen
	}
	select {
	case c.tx <- outbound{env: &env}:
		return nil
	case <-c.ctx.Done():
		return ErrConnClosed
	default:
		return ErrSendQueue
	}
}

// Leave queues a LEAVE_GAME frame followed by a normal closure, so the
// notification is flushed before the close frame.
func (c *Conn) Leave(reason string) error {
	env, _ := model.NewCommand(model.CommandLeaveGame, nil)
	if c.State() != StateOpen {
		c.Close(websocket.CloseNormalClosure, reason)
		return ErrNotOpen
	}
	c.intentional.Store(true)
	select {
	case c.tx <- outbound{env: &env}:
	default:
		c.Close(websocket.CloseNormalClosure, reason)
		return ErrSendQueue
	}
	select {
	case c.tx <- outbound{closeCode: websocket.CloseNormalClosure, reason: reason}:
	default:
		c.Close(websocket.CloseNormalClosure, reason)
	}
	return nil
}

// NotifyLeaving writes a LEAVE_GAME frame synchronously, bypassing the send
// queue. It is meant for process shutdown where the sender loop may not get
// another chance to run.
func (c *Conn) NotifyLeaving() error {
	if c.State() != StateOpen {
		return ErrNotOpen
	}
	c.mx.Lock()
	ws := c.ws
	c.mx.Unlock()
	if ws == nil {
		return ErrNotOpen
	}
	b, err := json.Marshal(model.Envelope{Event: model.CommandLeaveGame})
	if err != nil {
		return err
	}
	c.wmx.Lock()
	defer c.wmx.Unlock()
	if err = ws.SetWriteDeadline(time.Now().Add(defaultLeaveWriteDeadline)); err != nil {
		return err
	}
	return ws.WriteMessage(websocket.TextMessage, b)
}

// Close terminates the connection with the given close code. Closing a
// connection that is still dialing aborts the dial.
func (c *Conn) Close(code int, reason string) {
	c.intentional.Store(true)
	c.cancel()

	c.mx.Lock()
	ws := c.ws
	c.mx.Unlock()
	if ws != nil {
		c.closeWS(ws, code, reason)
	}
}

func (c *Conn) run(dialer *websocket.Dialer) {
	defer close(c.done)

	dialCtx, dialCancel := context.WithTimeout(c.ctx, defaultDialTimeout)
	ws, resp, err := dialer.DialContext(dialCtx, c.endpoint, nil)
	dialCancel()
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if c.ctx.Err() != nil {
			c.finish(nil)
			return
		}
		c.logger.Error().Err(err).Msg("dial failed")
		c.finish(errors.Join(ErrDial, err))
		return
	}

	c.mx.Lock()
	c.ws = ws
	c.mx.Unlock()

	if c.ctx.Err() != nil || !c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		c.closeWS(ws, websocket.CloseNormalClosure, "")
		_ = ws.Close()
		c.finish(nil)
		return
	}
	c.logger.Debug().Msg("connection established")
	c.handler.OnOpen(c)

	var (
		wg      = &sync.WaitGroup{}
		recvErr error
	)
	wg.Add(2)
	go func() {
		recvErr = c.receiver(wg, ws)
		c.cancel()
	}()
	go func() {
		c.sender(wg, ws)
		c.cancel()
		// starts the close handshake, the receiver returns on the reply
		c.closeWS(ws, websocket.CloseNormalClosure, "")
	}()
	wg.Wait()

	c.closeWS(ws, websocket.CloseNormalClosure, "")
	if wsErr := ws.Close(); wsErr != nil {
		c.logger.Debug().Err(wsErr).Msg("failed to close websocket connection")
	}
	if c.Intentional() {
		recvErr = nil
	}
	c.finish(recvErr)
}

func (c *Conn) finish(err error) {
	c.state.Store(int32(StateClosed))
	c.cancel()
	c.logger.Debug().Err(err).Bool("intentional", c.Intentional()).Msg("connection closed")
	c.handler.OnClose(c, err)
}

func (c *Conn) sender(wg *sync.WaitGroup, ws *websocket.Conn) {
	pingTicker := time.NewTicker(c.pingInterval)
	defer func() {
		pingTicker.Stop()
		wg.Done()
	}()
SendLoop:
	for {
		select {
		case <-c.ctx.Done():
			break SendLoop
		case <-pingTicker.C:
			wsErr := ws.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(defaultWebSocketWriteDeadline))
			if wsErr != nil {
				c.logger.Error().Err(wsErr).Msg("failed to send ping")
				break SendLoop
			}
			c.logger.Trace().Msg("ping sent")

		case out := <-c.tx:
			if out.env == nil {
				c.closeWS(ws, out.closeCode, out.reason)
				break SendLoop
			}
			if wsErr := c.write(ws, out.env); wsErr != nil {
				c.logger.Error().Err(wsErr).Str("event", out.env.Event).Msg("failed to write outgoing message")
				break SendLoop
			}
			c.logger.Trace().Str("event", out.env.Event).Msg("message sent")
		}
	}
}

func (c *Conn) write(ws *websocket.Conn, env *model.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.wmx.Lock()
	defer c.wmx.Unlock()
	if err = ws.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline)); err != nil {
		return err
	}
	w, err := ws.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	if _, err = w.Write(b); err != nil {
		return err
	}
	return w.Close()
}

func (c *Conn) receiver(wg *sync.WaitGroup, ws *websocket.Conn) error {
	defer wg.Done()

	ws.SetReadLimit(defaultWebSocketMaxMessageSize)
	readDeadLineFunc := func(deadline time.Duration) error {
		return ws.SetReadDeadline(time.Now().Add(deadline))
	}
	ws.SetPongHandler(func(string) error {
		c.logger.Trace().Msg("got pong")
		return readDeadLineFunc(c.pongWait)
	})
	if err := readDeadLineFunc(c.pongWait); err != nil {
		c.logger.Error().Err(err).Msg("failed to set websocket read deadline")
		return err
	}

	for {
		_, msg, wsErr := ws.ReadMessage()
		if wsErr != nil {
			switch {
			case c.Intentional():
			case websocket.IsCloseError(wsErr, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				c.logger.Warn().Err(wsErr).Msg("connection closed by server")
			default:
				c.logger.Error().Err(wsErr).Msg("unexpected error during receive")
			}
			return wsErr
		}
		// any frame proves the peer is alive
		_ = readDeadLineFunc(c.pongWait)

		env, err := model.ParseEnvelope(msg)
		if err != nil {
			c.logger.Error().Err(err).Msg("failed to unmarshall incoming message")
			continue
		}
		c.logger.Trace().Str("event", env.Event).Msg("message received")
		c.handler.OnMessage(c, env)
	}
}

func (c *Conn) closeWS(ws *websocket.Conn, code int, reason string) {
	c.closeOnce.Do(func() {
		wsErr := ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(defaultWebSocketCloseWriteDeadline))
		if wsErr != nil && !errors.Is(wsErr, websocket.ErrCloseSent) {
			c.logger.Debug().Err(wsErr).Msg("failed to send close frame")
		}
		_ = ws.SetReadDeadline(time.Now().Add(defaultCloseWait))
	})
}
