package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/adwski/cards-client/client/auth"
	"github.com/adwski/cards-client/client/invite"
	"github.com/adwski/cards-client/client/model"
	"github.com/adwski/cards-client/client/notice"
	"github.com/adwski/cards-client/client/reconnect"
	httpServer "github.com/adwski/cards-client/client/server/http"
	"github.com/adwski/cards-client/client/session"
	ws "github.com/adwski/cards-client/client/transport/websocket"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var errEnded = errors.New("session ended")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := &Config{}
	cobra.CheckErr(newCmd(cfg).ExecuteContext(ctx))
}

func play(ctx context.Context, cfg *Config) error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	lvl, err := zerolog.ParseLevel(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}
	logger = logger.Level(lvl)

	tr, err := notice.NewTranslator(cfg.lang)
	if err != nil {
		return err
	}

	user := auth.User{ID: cfg.userID, Name: cfg.userName}
	creds, err := auth.NewStoreFromCookies(user, cfg.sessionToken, cfg.cookie)
	if err != nil {
		return err
	}
	creds.OnLogout(func() {
		logger.Warn().Msg("session token rejected, logged out")
	})

	gw := ws.Gateway{
		Env:         cfg.env,
		Development: cfg.gatewayDev,
		Production:  cfg.gateway,
	}
	target := model.Target{GameID: cfg.game, InvitationCode: cfg.code}

	// The session outlives the signal context so the leave notification
	// can still be written after an interrupt.
	sessCtx, sessCancel := context.WithCancel(context.Background())
	defer sessCancel()

	mgr := ws.NewManager(ws.Config{Logger: &logger})
	sup := reconnect.New(sessCtx, reconnect.Config{
		Logger:  &logger,
		Manager: mgr,
		Endpoint: func(t model.Target) (string, error) {
			return gw.Endpoint(t, creds)
		},
		Delay: cfg.reconnectDelay,
	})
	sess := session.New(sessCtx, session.Config{
		Logger:       &logger,
		Identity:     creds,
		Supervisor:   sup,
		Translator:   tr,
		ResultsDelay: cfg.resultsDelay,
	})

	apiSrv := httpServer.NewServer(httpServer.Config{
		Logger:     &logger,
		Session:    sess,
		Translator: tr,
		ListenAddr: cfg.listen,
		Origin:     cfg.origin,
		Target:     target,
	})

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 2)
	)
	wg.Add(2)
	go apiSrv.Run(runCtx, wg, errc)
	go present(runCtx, wg, errc, sess, target, &logger)

	if err = sess.Mount(session.ScreenLobby, target, nil); err != nil {
		logger.Error().Err(err).Msg("cannot open lobby")
	}

	select {
	case err = <-errc:
		if errors.Is(err, errEnded) {
			logger.Info().Msg("session ended")
			err = nil
		} else {
			logger.Error().Err(err).Msg("unexpected error, shutting down")
		}
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	sess.Shutdown()
	runCancel()
	wg.Wait()
	return err
}

// present plays the part of the screens: it follows navigations, moving the
// lobby into the game with the handoff and stopping once the session sends
// the player back to the menu or the login screen.
func present(
	ctx context.Context,
	wg *sync.WaitGroup,
	errc chan<- error,
	sess *session.Session,
	target model.Target,
	logger *zerolog.Logger,
) {
	defer wg.Done()
	log := logger.With().Str("component", "presenter").Logger()
	current := session.ScreenLobby
	for {
		select {
		case <-ctx.Done():
			return
		case nav := <-sess.Navigations():
			log.Info().
				Str("from", string(current)).
				Str("to", string(nav.To)).
				Msg("navigation")
			switch nav.To {
			case session.ScreenGame, session.ScreenLobby:
				if err := sess.Unmount(current, false); err != nil {
					log.Error().Err(err).Msg("unmount failed")
				}
				t := target
				if nav.GameID != "" {
					t.GameID = nav.GameID
				}
				if err := sess.Mount(nav.To, t, nav.Handoff); err != nil {
					log.Error().Err(err).Msg("mount failed")
				}
				current = nav.To
			default:
				errc <- errEnded
				return
			}
		}
	}
}

func printInvite(w io.Writer, cfg *Config) error {
	link, err := invite.Link(cfg.origin, model.Target{GameID: cfg.game, InvitationCode: cfg.code})
	if err != nil {
		return err
	}
	qr, err := invite.Terminal(link)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n\n%s", link, qr)
	return err
}
