package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adwski/cards-client/client/model"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	defaultWebSocketHandshakeTimeout = 3 * time.Second
	defaultWebsocketReadBufferSize   = 10000
	defaultWebsocketWriteBufferSize  = 10000

	defaultSwitchTimeout = 3 * time.Second
)

var ErrSwitchTimeout = errors.New("previous connection is still closing")

type Config struct {
	Logger       *zerolog.Logger
	Dialer       *websocket.Dialer
	PingInterval time.Duration
	PongWait     time.Duration
	// SwitchTimeout bounds the wait for a previous connection to finish
	// before a new one is dialed.
	SwitchTimeout time.Duration
}

// Manager holds the one connection a client may have. Asking for a
// connection while one is open or still dialing for the same target
// returns it instead of dialing again.
type Manager struct {
	cfg           Config
	dialer        *websocket.Dialer
	logger        zerolog.Logger
	switchTimeout time.Duration
	mx            *sync.Mutex // serializes Connect
	current       atomic.Pointer[Conn]
}

func NewManager(cfg Config) *Manager {
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: defaultWebSocketHandshakeTimeout,
			ReadBufferSize:   defaultWebsocketReadBufferSize,
			WriteBufferSize:  defaultWebsocketWriteBufferSize,
		}
	}
	switchTimeout := cfg.SwitchTimeout
	if switchTimeout <= 0 {
		switchTimeout = defaultSwitchTimeout
	}
	return &Manager{
		cfg:           cfg,
		dialer:        dialer,
		logger:        cfg.Logger.With().Str("component", "connection-manager").Logger(),
		switchTimeout: switchTimeout,
		mx:            &sync.Mutex{},
	}
}

// Connect binds to the live connection for target or dials a new one.
// The boolean result reports whether an existing connection was reused.
// A live connection to a different target is closed, and waited for,
// before the new one is dialed. If it does not finish in time nothing is
// dialed and ErrSwitchTimeout is returned.
func (m *Manager) Connect(ctx context.Context, target model.Target, endpoint string, h Handler) (*Conn, bool, error) {
	m.mx.Lock()
	defer m.mx.Unlock()

	if cur := m.current.Load(); cur != nil {
		if cur.Live() {
			if cur.Target() == target {
				m.logger.Debug().
					Str("connID", cur.ID()).
					Str("state", cur.State().String()).
					Msg("reusing live connection")
				return cur, true, nil
			}
			m.logger.Debug().
				Str("connID", cur.ID()).
				Str("from", cur.Target().GameID).
				Str("to", target.GameID).
				Msg("switching game, closing previous connection")
			cur.Close(websocket.CloseNormalClosure, "switching game")
		}
		// never overlap with a connection that is still winding down
		t := time.NewTimer(m.switchTimeout)
		defer t.Stop()
		select {
		case <-cur.Done():
		case <-t.C:
			m.logger.Warn().Str("connID", cur.ID()).Msg("previous connection did not close in time")
			return nil, false, ErrSwitchTimeout
		}
	}

	c := newConn(ctx, target, endpoint, h, &m.cfg)
	m.current.Store(c)
	go c.run(m.dialer)
	m.logger.Debug().Str("connID", c.ID()).Msg("dialing")
	return c, false, nil
}

// Current returns the most recent connection, live or not.
func (m *Manager) Current() *Conn {
	return m.current.Load()
}

// Close shuts the current connection down with a normal closure.
func (m *Manager) Close(reason string) {
	if cur := m.current.Load(); cur != nil {
		cur.Close(websocket.CloseNormalClosure, reason)
	}
}
