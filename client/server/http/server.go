package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/adwski/cards-client/client/invite"
	"github.com/adwski/cards-client/client/model"
	"github.com/adwski/cards-client/client/notice"
	"github.com/adwski/cards-client/client/session"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
)

const (
	defaultShutdownDeadline = 10 * time.Second
	defaultReadTimeout      = 10 * time.Second

	defaultWatchTimeout = 30 * time.Second

	maxBodySize    = 64 << 10
	maxKeptNotices = 256
)

var (
	ErrUnexpected = errors.New("unexpected server error")
)

type GameSession interface {
	State() session.State
	Subscribe() (<-chan session.State, func())
	Notices() <-chan notice.Notice

	ToggleCard(cardID string) error
	SubmitCards() error
	SelectWinner(playerID string) error
	SendChat(text string) error
	KickPlayer(playerID string) error
	AddDecks(ids ...string) error
	RemoveDecks(ids ...string) error
	RequestDecks(page, pageSize int) error
	StartGame() error
	Leave() error
}

type PlayerRequest struct {
	PlayerID string `json:"playerId"`
}

type ChatRequest struct {
	Text string `json:"text"`
}

type DecksRequest struct {
	Decks []string `json:"decks"`
}

type NoticeView struct {
	Level notice.Level `json:"level"`
	Key   string       `json:"key"`
	Text  string       `json:"text"`
}

type InviteView struct {
	Link string `json:"link"`
	QR   string `json:"qr,omitempty"`
}

type GenericResponse struct {
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type Server struct {
	logger zerolog.Logger
	svc    GameSession
	tr     *notice.Translator
	origin string
	target model.Target

	watchTimeout time.Duration

	mx      *sync.Mutex
	pending []notice.Notice

	*http.Server
}

type Config struct {
	Logger     *zerolog.Logger
	Session    GameSession
	Translator *notice.Translator
	ListenAddr string
	// Origin and Target are used to build invitation links.
	Origin string
	Target model.Target
	// WatchTimeout bounds how long a watching /api/state request is held.
	WatchTimeout time.Duration
}

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger:       cfg.Logger.With().Str("component", "api-server").Logger(),
		svc:          cfg.Session,
		tr:           cfg.Translator,
		origin:       cfg.Origin,
		target:       cfg.Target,
		watchTimeout: cfg.WatchTimeout,
		mx:           &sync.Mutex{},
	}
	if srv.watchTimeout <= 0 {
		srv.watchTimeout = defaultWatchTimeout
	}

	r := httprouter.New()
	r.GET("/api/state", srv.state)
	r.GET("/api/notices", srv.notices)
	r.GET("/api/invite", srv.invite)
	r.GET("/api/invite/qr", srv.inviteQR)
	r.POST("/api/cards/:id/toggle", srv.toggleCard)
	r.POST("/api/submit", srv.submit)
	r.POST("/api/winner", srv.winner)
	r.POST("/api/chat", srv.chat)
	r.POST("/api/kick", srv.kick)
	r.POST("/api/decks", srv.addDecks)
	r.DELETE("/api/decks", srv.removeDecks)
	r.GET("/api/decks", srv.requestDecks)
	r.POST("/api/start", srv.start)
	r.POST("/api/leave", srv.leave)
	r.PanicHandler = func(w http.ResponseWriter, _ *http.Request, i any) {
		srv.logger.Error().Any("panic", i).Msg("handler panicked")
		writeResponse(w, http.StatusInternalServerError, &GenericResponse{Error: ErrUnexpected.Error()})
	}

	srv.Server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: defaultReadTimeout,
	}
	return srv
}

// state returns the current snapshot. With watch=1 the request is held
// until a state newer than since (the current version by default) exists,
// or until the watch timeout, which answers with the unchanged state.
func (srv *Server) state(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	q := r.URL.Query()
	current := srv.svc.State()
	if q.Get("watch") != "1" {
		writeResponse(w, http.StatusOK, &GenericResponse{Data: current})
		return
	}
	since := current.Version
	if v := q.Get("since"); v != "" {
		var err error
		if since, err = strconv.ParseUint(v, 10, 64); err != nil {
			writeResponse(w, http.StatusBadRequest, &GenericResponse{Error: "invalid since version"})
			return
		}
	}

	updates, cancel := srv.svc.Subscribe()
	defer cancel()
	timer := time.NewTimer(srv.watchTimeout)
	defer timer.Stop()
	for {
		select {
		case st, ok := <-updates:
			if !ok {
				writeResponse(w, http.StatusOK, &GenericResponse{Data: srv.svc.State()})
				return
			}
			if st.Version > since {
				writeResponse(w, http.StatusOK, &GenericResponse{Data: st})
				return
			}
		case <-timer.C:
			writeResponse(w, http.StatusOK, &GenericResponse{Data: srv.svc.State()})
			return
		case <-r.Context().Done():
			srv.logger.Trace().Msg("state watcher gone")
			return
		}
	}
}

// notices drains the notices collected since the previous call.
func (srv *Server) notices(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	srv.mx.Lock()
	pending := srv.pending
	srv.pending = nil
	srv.mx.Unlock()

	out := make([]NoticeView, 0, len(pending))
	for _, n := range pending {
		out = append(out, srv.view(n))
	}
	writeResponse(w, http.StatusOK, &GenericResponse{Data: out})
}

func (srv *Server) view(n notice.Notice) NoticeView {
	v := NoticeView{Level: n.Level, Key: n.Key, Text: n.Key}
	if srv.tr != nil {
		v.Text = srv.tr.Text(n)
	} else if n.Fallback != "" {
		v.Text = n.Fallback
	}
	return v
}

func (srv *Server) inviteLink() (string, error) {
	target := srv.target
	if gameID := srv.svc.State().GameID; gameID != "" {
		target.GameID = gameID
	}
	return invite.Link(srv.origin, target)
}

func (srv *Server) invite(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	link, err := srv.inviteLink()
	if err != nil {
		writeResponse(w, http.StatusBadRequest, &GenericResponse{Error: err.Error()})
		return
	}
	qr, err := invite.Terminal(link)
	if err != nil {
		srv.logger.Error().Err(err).Msg("cannot render invite qr")
	}
	writeResponse(w, http.StatusOK, &GenericResponse{Data: InviteView{Link: link, QR: qr}})
}

func (srv *Server) inviteQR(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	link, err := srv.inviteLink()
	if err != nil {
		writeResponse(w, http.StatusBadRequest, &GenericResponse{Error: err.Error()})
		return
	}
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))
	png, err := invite.PNG(link, size)
	if err != nil {
		writeResponse(w, http.StatusInternalServerError, &GenericResponse{Error: err.Error()})
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.WriteHeader(http.StatusOK)
	if _, err = w.Write(png); err != nil {
		srv.logger.Debug().Err(err).Msg("failed to write qr image")
	}
}

func (srv *Server) toggleCard(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	srv.result(w, srv.svc.ToggleCard(ps.ByName("id")))
}

func (srv *Server) submit(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	srv.result(w, srv.svc.SubmitCards())
}

func (srv *Server) winner(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req PlayerRequest
	if !readJSON(w, r, &req) {
		return
	}
	srv.result(w, srv.svc.SelectWinner(req.PlayerID))
}

func (srv *Server) chat(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req ChatRequest
	if !readJSON(w, r, &req) {
		return
	}
	srv.result(w, srv.svc.SendChat(req.Text))
}

func (srv *Server) kick(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req PlayerRequest
	if !readJSON(w, r, &req) {
		return
	}
	srv.result(w, srv.svc.KickPlayer(req.PlayerID))
}

func (srv *Server) addDecks(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req DecksRequest
	if !readJSON(w, r, &req) {
		return
	}
	srv.result(w, srv.svc.AddDecks(req.Decks...))
}

func (srv *Server) removeDecks(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req DecksRequest
	if !readJSON(w, r, &req) {
		return
	}
	srv.result(w, srv.svc.RemoveDecks(req.Decks...))
}

func (srv *Server) requestDecks(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	q := r.URL.Query()
	page, errP := strconv.Atoi(q.Get("page"))
	size, errS := strconv.Atoi(q.Get("pageSize"))
	if errP != nil || errS != nil {
		writeResponse(w, http.StatusBadRequest, &GenericResponse{Error: session.ErrBadPage.Error()})
		return
	}
	srv.result(w, srv.svc.RequestDecks(page, size))
}

func (srv *Server) start(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	srv.result(w, srv.svc.StartGame())
}

func (srv *Server) leave(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	srv.result(w, srv.svc.Leave())
}

func (srv *Server) result(w http.ResponseWriter, err error) {
	if err == nil {
		writeResponse(w, http.StatusOK, &GenericResponse{Message: "OK"})
		return
	}
	code := http.StatusBadRequest
	switch {
	case errors.Is(err, session.ErrNotConnected):
		code = http.StatusConflict
	case errors.Is(err, session.ErrClosed):
		code = http.StatusServiceUnavailable
	}
	srv.logger.Debug().Err(err).Int("code", code).Msg("action refused")
	writeResponse(w, code, &GenericResponse{Error: err.Error()})
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	defer func() {
		_ = r.Body.Close()
	}()
	if err != nil || json.Unmarshal(body, v) != nil {
		writeResponse(w, http.StatusBadRequest, &GenericResponse{Error: "invalid request body"})
		return false
	}
	return true
}

func writeResponse(w http.ResponseWriter, code int, resp *GenericResponse) {
	b, err := json.Marshal(resp)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeBytes(w, code, b)
}

func writeBytes(w http.ResponseWriter, code int, b []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(code)
	if _, err := w.Write(b); err != nil {
		log.Printf("failed to write response: %v", err)
	}
}

// collect keeps notices for the next /api/notices call, dropping the
// oldest once the buffer is full.
func (srv *Server) collect(ctx context.Context) {
	src := srv.svc.Notices()
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-src:
			if !ok {
				return
			}
			v := srv.view(n)
			srv.logger.Info().Str("level", string(v.Level)).Str("key", v.Key).Msg(v.Text)
			srv.mx.Lock()
			if len(srv.pending) >= maxKeptNotices {
				srv.pending = srv.pending[1:]
			}
			srv.pending = append(srv.pending, n)
			srv.mx.Unlock()
		}
	}
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	go srv.collect(ctx)

	hErr := make(chan error, 1)
	go func() {
		hErr <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-hErr:
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		if err := srv.Shutdown(shCtx); err != nil {
			srv.logger.Error().Err(err).Msg("server shutdown failed")
		}
	}
}
