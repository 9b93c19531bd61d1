package reconnect

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/adwski/cards-client/client/model"
	ws "github.com/adwski/cards-client/client/transport/websocket"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	DefaultDelay = 2 * time.Second

	maxPendingEvents = 1024
)

var (
	ErrDisabled = errors.New("reconnection is disabled")
	ErrEndpoint = errors.New("unable to compute endpoint")
)

type State int

const (
	StateActive State = iota
	StateDisabled
)

func (s State) String() string {
	if s == StateActive {
		return "active"
	}
	return "disabled"
}

// Owner is the single consumer of connection events.
type Owner interface {
	ws.Handler
	OnReconnectScheduled(attempt int, delay time.Duration)
}

type (
	EndpointFunc func(model.Target) (string, error)

	Config struct {
		Logger   *zerolog.Logger
		Manager  *ws.Manager
		Endpoint EndpointFunc
		Delay    time.Duration
	}

	Supervisor struct {
		ctx      context.Context
		mgr      *ws.Manager
		endpoint EndpointFunc
		logger   zerolog.Logger
		delay    time.Duration

		mx        *sync.Mutex
		state     State
		target    model.Target
		hasTarget bool
		timer     *time.Timer
		timerGen  uint64
		attempts  int
		owner     Owner
		pending   []func(Owner)
	}
)

// New creates a supervisor bound to ctx; once ctx is done no reconnect
// is attempted.
func New(ctx context.Context, cfg Config) *Supervisor {
	delay := cfg.Delay
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Supervisor{
		ctx:      ctx,
		mgr:      cfg.Manager,
		endpoint: cfg.Endpoint,
		logger:   cfg.Logger.With().Str("component", "reconnect").Logger(),
		delay:    delay,
		mx:       &sync.Mutex{},
	}
}

// Attach makes owner the only recipient of connection events, replacing
// any previous owner. Events that arrived while nobody was attached are
// replayed to the new owner first, in arrival order.
func (s *Supervisor) Attach(owner Owner) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.owner = owner
	pending := s.pending
	s.pending = nil
	for _, deliver := range pending {
		deliver(owner)
	}
}

// Detach removes owner if it is the one attached.
func (s *Supervisor) Detach(owner Owner) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.owner == owner {
		s.owner = nil
	}
}

// Connect (re-)enables reconnection and makes sure a connection to target
// is open or dialing.
func (s *Supervisor) Connect(target model.Target) (*ws.Conn, bool, error) {
	if s.ctx.Err() != nil {
		return nil, false, ErrDisabled
	}
	s.mx.Lock()
	s.state = StateActive
	s.target = target
	s.hasTarget = true
	s.stopTimerLocked()
	s.mx.Unlock()

	return s.dial(target)
}

func (s *Supervisor) dial(target model.Target) (*ws.Conn, bool, error) {
	endpoint, err := s.endpoint(target)
	if err != nil {
		return nil, false, errors.Join(ErrEndpoint, err)
	}
	conn, reused, err := s.mgr.Connect(s.ctx, target, endpoint, handler{s})
	if err != nil {
		return nil, false, err
	}
	return conn, reused, nil
}

// Disable stops reconnecting and cancels a pending attempt. The current
// connection is left alone.
func (s *Supervisor) Disable(reason string) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.state != StateDisabled {
		s.logger.Debug().Str("reason", reason).Msg("reconnection disabled")
	}
	s.state = StateDisabled
	s.stopTimerLocked()
}

// Leave disables reconnection, tells the server the player is leaving and
// closes the connection after the notification is flushed.
func (s *Supervisor) Leave(reason string) error {
	s.Disable(reason)
	conn := s.mgr.Current()
	if conn == nil {
		return ws.ErrNotOpen
	}
	return conn.Leave(reason)
}

// Close disables reconnection and closes the connection normally.
func (s *Supervisor) Close(reason string) {
	s.Disable(reason)
	if conn := s.mgr.Current(); conn != nil {
		conn.Close(websocket.CloseNormalClosure, reason)
	}
}

// Conn returns the current connection or nil.
func (s *Supervisor) Conn() *ws.Conn {
	return s.mgr.Current()
}

func (s *Supervisor) State() State {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.state
}

// Scheduled reports whether a reconnect attempt is pending.
func (s *Supervisor) Scheduled() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.timer != nil
}

func (s *Supervisor) stopTimerLocked() {
	s.timerGen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Supervisor) scheduleLocked() {
	s.stopTimerLocked()
	s.attempts++
	gen := s.timerGen
	s.timer = time.AfterFunc(s.delay, func() { s.reconnect(gen) })
	s.logger.Info().
		Int("attempt", s.attempts).
		Dur("delay", s.delay).
		Str("gameID", s.target.GameID).
		Msg("reconnect scheduled")

	attempt, delay := s.attempts, s.delay
	s.deliverLocked(func(o Owner) { o.OnReconnectScheduled(attempt, delay) })
}

func (s *Supervisor) reconnect(gen uint64) {
	s.mx.Lock()
	if gen != s.timerGen || s.state != StateActive || !s.hasTarget || s.ctx.Err() != nil {
		s.mx.Unlock()
		return
	}
	s.timer = nil
	target := s.target
	s.mx.Unlock()

	conn, _, err := s.dial(target)
	if err != nil {
		s.logger.Error().Err(err).Msg("reconnect attempt failed")
		s.mx.Lock()
		if gen == s.timerGen && s.state == StateActive && s.ctx.Err() == nil {
			s.scheduleLocked()
		}
		s.mx.Unlock()
		return
	}

	// reconnection may have been disabled while dialing
	s.mx.Lock()
	stale := s.state != StateActive || s.ctx.Err() != nil
	s.mx.Unlock()
	if stale && conn == s.mgr.Current() {
		s.logger.Debug().Str("connID", conn.ID()).Msg("reconnection disabled while dialing, closing")
		conn.Close(websocket.CloseNormalClosure, "reconnect cancelled")
	}
}

func (s *Supervisor) deliverLocked(fn func(Owner)) {
	if s.owner != nil {
		fn(s.owner)
		return
	}
	if len(s.pending) >= maxPendingEvents {
		s.logger.Warn().Msg("no owner attached, dropping oldest pending event")
		s.pending = s.pending[1:]
	}
	s.pending = append(s.pending, fn)
}

// handler adapts the supervisor to connection callbacks and filters out
// events from connections that have been replaced.
type handler struct {
	s *Supervisor
}

func (h handler) current(c *ws.Conn) bool {
	return h.s.mgr.Current() == c
}

func (h handler) OnOpen(c *ws.Conn) {
	if !h.current(c) {
		return
	}
	h.s.mx.Lock()
	defer h.s.mx.Unlock()
	h.s.attempts = 0
	h.s.deliverLocked(func(o Owner) { o.OnOpen(c) })
}

func (h handler) OnMessage(c *ws.Conn, env model.Envelope) {
	if !h.current(c) {
		return
	}
	h.s.mx.Lock()
	defer h.s.mx.Unlock()
	h.s.deliverLocked(func(o Owner) { o.OnMessage(c, env) })
}

func (h handler) OnClose(c *ws.Conn, err error) {
	if !h.current(c) {
		return
	}
	h.s.mx.Lock()
	defer h.s.mx.Unlock()
	h.s.deliverLocked(func(o Owner) { o.OnClose(c, err) })

	if c.Intentional() || h.s.state != StateActive || !h.s.hasTarget || h.s.ctx.Err() != nil {
		return
	}
	h.s.scheduleLocked()
}
