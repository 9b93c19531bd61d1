package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/adwski/cards-client/client/model"
	"github.com/adwski/cards-client/client/testutil/gameserver"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 3 * time.Second

type closeEvent struct {
	conn *Conn
	err  error
}

type recorder struct {
	opened chan *Conn
	msgs   chan model.Envelope
	closed chan closeEvent
}

func newRecorder() *recorder {
	return &recorder{
		opened: make(chan *Conn, 8),
		msgs:   make(chan model.Envelope, 64),
		closed: make(chan closeEvent, 8),
	}
}

func (r *recorder) OnOpen(c *Conn)                        { r.opened <- c }
func (r *recorder) OnMessage(_ *Conn, env model.Envelope) { r.msgs <- env }
func (r *recorder) OnClose(c *Conn, err error)            { r.closed <- closeEvent{conn: c, err: err} }

func (r *recorder) waitOpen(t *testing.T) *Conn {
	t.Helper()
	select {
	case c := <-r.opened:
		return c
	case <-time.After(waitTimeout):
		t.Fatal("connection did not open")
		return nil
	}
}

func (r *recorder) waitClose(t *testing.T) closeEvent {
	t.Helper()
	select {
	case ev := <-r.closed:
		return ev
	case <-time.After(waitTimeout):
		t.Fatal("connection did not close")
		return closeEvent{}
	}
}

func newTestManager(t *testing.T) (*Manager, *gameserver.Server) {
	t.Helper()
	gs := gameserver.New(gameserver.Config{
		Greeting: []model.Envelope{{Event: model.EventConnected}},
	})
	t.Cleanup(gs.Close)
	logger := zerolog.Nop()
	return NewManager(Config{Logger: &logger}), gs
}

func endpointFor(t *testing.T, gs *gameserver.Server, target model.Target) string {
	t.Helper()
	ep, err := Gateway{Production: gs.URL}.Endpoint(target, nil)
	require.NoError(t, err)
	return ep
}

func connect(t *testing.T, mgr *Manager, ctx context.Context, target model.Target, endpoint string, h Handler) (*Conn, bool) {
	t.Helper()
	c, reused, err := mgr.Connect(ctx, target, endpoint, h)
	require.NoError(t, err)
	return c, reused
}

func TestManagerReusesLiveConnection(t *testing.T) {
	mgr, gs := newTestManager(t)
	rec := newRecorder()
	target := model.Target{GameID: "g1"}
	ctx := context.Background()

	c1, reused := connect(t, mgr, ctx, target, endpointFor(t, gs, target), rec)
	require.False(t, reused)
	assert.Same(t, c1, rec.waitOpen(t))

	env := <-rec.msgs
	assert.Equal(t, model.EventConnected, env.Event)

	c2, reused := connect(t, mgr, ctx, target, endpointFor(t, gs, target), rec)
	assert.True(t, reused)
	assert.Same(t, c1, c2)
	assert.Same(t, c1, mgr.Current())
	assert.Equal(t, 1, gs.Connects())

	mgr.Close("done")
	ev := rec.waitClose(t)
	assert.NoError(t, ev.err)
	assert.True(t, c1.Intentional())
	assert.Equal(t, StateClosed, c1.State())
}

func TestManagerSwitchesGames(t *testing.T) {
	mgr, gs := newTestManager(t)
	rec := newRecorder()
	ctx := context.Background()

	g1 := model.Target{GameID: "g1"}
	c1, _ := connect(t, mgr, ctx, g1, endpointFor(t, gs, g1), rec)
	rec.waitOpen(t)

	g2 := model.Target{GameID: "g2"}
	c2, reused := connect(t, mgr, ctx, g2, endpointFor(t, gs, g2), rec)
	require.False(t, reused)
	assert.NotSame(t, c1, c2)

	// the old connection has fully shut down before the new one is dialed
	select {
	case <-c1.Done():
	default:
		t.Fatal("previous connection still running")
	}
	assert.False(t, c1.Live())
	assert.True(t, c1.Intentional())
	assert.Same(t, c2, rec.waitOpen(t))
	assert.Same(t, c2, mgr.Current())

	require.NoError(t, gs.WaitConnects(2, waitTimeout))
	queries := gs.Queries()
	assert.Equal(t, "g1", queries[0]["game"])
	assert.Equal(t, "g2", queries[1]["game"])
}

// stallingHandler holds OnClose until released, keeping the connection
// from finishing.
type stallingHandler struct {
	*recorder
	release chan struct{}
}

func (h stallingHandler) OnClose(c *Conn, err error) {
	<-h.release
	h.recorder.OnClose(c, err)
}

func TestManagerSwitchTimeout(t *testing.T) {
	gs := gameserver.New(gameserver.Config{})
	t.Cleanup(gs.Close)
	logger := zerolog.Nop()
	mgr := NewManager(Config{Logger: &logger, SwitchTimeout: 50 * time.Millisecond})
	h := stallingHandler{recorder: newRecorder(), release: make(chan struct{})}
	ctx := context.Background()

	g1 := model.Target{GameID: "g1"}
	c1, _ := connect(t, mgr, ctx, g1, endpointFor(t, gs, g1), h)
	h.waitOpen(t)

	g2 := model.Target{GameID: "g2"}
	c2, reused, err := mgr.Connect(ctx, g2, endpointFor(t, gs, g2), h)
	require.ErrorIs(t, err, ErrSwitchTimeout)
	assert.Nil(t, c2)
	assert.False(t, reused)
	assert.Same(t, c1, mgr.Current())
	assert.True(t, c1.Intentional())
	assert.Equal(t, 1, gs.Connects())

	close(h.release)
	h.waitClose(t)
	c2, _ = connect(t, mgr, ctx, g2, endpointFor(t, gs, g2), h)
	assert.Same(t, c2, h.waitOpen(t))
	assert.Equal(t, "g2", c2.Target().GameID)
}

func TestManagerRedialsClosedConnection(t *testing.T) {
	mgr, gs := newTestManager(t)
	rec := newRecorder()
	target := model.Target{GameID: "g1"}
	ctx := context.Background()

	c1, _ := connect(t, mgr, ctx, target, endpointFor(t, gs, target), rec)
	rec.waitOpen(t)
	gs.Drop()
	ev := rec.waitClose(t)
	assert.Error(t, ev.err)
	assert.False(t, c1.Intentional())

	c2, reused := connect(t, mgr, ctx, target, endpointFor(t, gs, target), rec)
	assert.False(t, reused)
	assert.NotSame(t, c1, c2)
	rec.waitOpen(t)
}

func TestConnLeave(t *testing.T) {
	mgr, gs := newTestManager(t)
	rec := newRecorder()
	target := model.Target{GameID: "g1"}

	c, _ := connect(t, mgr, context.Background(), target, endpointFor(t, gs, target), rec)
	rec.waitOpen(t)

	chat, err := model.NewCommand(model.CommandChatMessage, model.ChatData{Text: "bye all"})
	require.NoError(t, err)
	require.NoError(t, c.Send(chat))
	require.NoError(t, c.Leave("User left game"))

	ev := rec.waitClose(t)
	assert.NoError(t, ev.err)
	assert.True(t, c.Intentional())

	_, err = gs.WaitFor(model.CommandLeaveGame, waitTimeout)
	require.NoError(t, err)
	assert.Equal(t, []string{model.CommandChatMessage, model.CommandLeaveGame}, gs.ReceivedEvents())

	assert.ErrorIs(t, c.Send(chat), ErrNotOpen)
	assert.ErrorIs(t, c.Leave("again"), ErrNotOpen)
}

func TestConnNotifyLeaving(t *testing.T) {
	mgr, gs := newTestManager(t)
	rec := newRecorder()
	target := model.Target{GameID: "g1"}

	c, _ := connect(t, mgr, context.Background(), target, endpointFor(t, gs, target), rec)
	rec.waitOpen(t)

	require.NoError(t, c.NotifyLeaving())
	_, err := gs.WaitFor(model.CommandLeaveGame, waitTimeout)
	require.NoError(t, err)

	c.Close(1000, "")
	rec.waitClose(t)
	assert.ErrorIs(t, c.NotifyLeaving(), ErrNotOpen)
}

func TestConnDialFailure(t *testing.T) {
	logger := zerolog.Nop()
	mgr := NewManager(Config{Logger: &logger})
	rec := newRecorder()

	c, _ := connect(t, mgr, context.Background(), model.Target{GameID: "g1"}, "ws://127.0.0.1:1/game/connect?game=g1", rec)
	ev := rec.waitClose(t)
	assert.Same(t, c, ev.conn)
	assert.ErrorIs(t, ev.err, ErrDial)
	assert.False(t, c.Intentional())
	assert.Empty(t, rec.opened)
}

func TestConnCloseWhileDialing(t *testing.T) {
	logger := zerolog.Nop()
	mgr := NewManager(Config{Logger: &logger})
	rec := newRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c, _ := connect(t, mgr, ctx, model.Target{GameID: "g1"}, "ws://127.0.0.1:1/game/connect?game=g1", rec)
	ev := rec.waitClose(t)
	assert.NoError(t, ev.err)
	assert.Equal(t, StateClosed, c.State())
}
