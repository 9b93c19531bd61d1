package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adwski/cards-client/client/reconnect"
	"github.com/adwski/cards-client/client/session"
	ws "github.com/adwski/cards-client/client/transport/websocket"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const releaseVersion = "0.1.0"

type Config struct {
	env            string
	gateway        string
	gatewayDev     string
	origin         string
	sessionToken   string
	cookie         string
	userID         string
	userName       string
	game           string
	code           string
	listen         string
	reconnectDelay time.Duration
	resultsDelay   time.Duration
	lang           string
	logLevel       string
}

func (c *Config) validate() error {
	if c.game == "" {
		return errors.New("--game is required")
	}
	if c.env != ws.EnvDevelopment && c.env != ws.EnvProduction {
		return fmt.Errorf("unknown env %q (want %s or %s)", c.env, ws.EnvDevelopment, ws.EnvProduction)
	}
	if c.reconnectDelay <= 0 || c.resultsDelay <= 0 {
		return errors.New("delays must be positive")
	}
	return nil
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("CARDS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "cards-client",
		Short:         "Headless client for the cards game: joins a lobby and plays through a local control API.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return play(cmd.Context(), cfg)
		},
	}

	inviteCmd := &cobra.Command{
		Use:   "invite",
		Short: "Print the invitation link and its QR code for a game.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfg.game == "" {
				return errors.New("--game is required")
			}
			return printInvite(cmd.OutOrStdout(), cfg)
		},
	}
	cmd.AddCommand(inviteCmd)

	fs := cmd.PersistentFlags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVar(&cfg.env, "env", ws.EnvProduction, "deployment environment: development or production (env: CARDS_ENV)")
	fs.StringVar(&cfg.gateway, "gateway", "https://api.cards.example.com", "production gateway base address (env: CARDS_GATEWAY)")
	fs.StringVar(&cfg.gatewayDev, "gateway-dev", "http://localhost:8080", "development gateway base address (env: CARDS_GATEWAY_DEV)")
	fs.StringVar(&cfg.origin, "origin", "http://localhost:3000", "web origin used in invitation links (env: CARDS_ORIGIN)")
	fs.StringVar(&cfg.sessionToken, "session-token", "", "session token (env: CARDS_SESSION_TOKEN)")
	fs.StringVar(&cfg.cookie, "cookie", "", "raw Cookie header to take the session token from (env: CARDS_COOKIE)")
	fs.StringVar(&cfg.userID, "user-id", "", "local user id (env: CARDS_USER_ID)")
	fs.StringVar(&cfg.userName, "user-name", "", "local user name (env: CARDS_USER_NAME)")
	fs.StringVarP(&cfg.game, "game", "g", "", "game id to join (env: CARDS_GAME)")
	fs.StringVarP(&cfg.code, "code", "c", "", "invitation code (env: CARDS_CODE)")
	fs.StringVarP(&cfg.listen, "listen", "a", "127.0.0.1:8090", "control api listen address (env: CARDS_LISTEN)")
	fs.DurationVar(&cfg.reconnectDelay, "reconnect-delay", reconnect.DefaultDelay, "delay before reconnecting after an unexpected close (env: CARDS_RECONNECT_DELAY)")
	fs.DurationVar(&cfg.resultsDelay, "results-delay", session.DefaultResultsDelay, "how long round results stay on screen (env: CARDS_RESULTS_DELAY)")
	fs.StringVar(&cfg.lang, "lang", "en", "notice language: en or pl (env: CARDS_LANG)")
	fs.StringVarP(&cfg.logLevel, "log-level", "l", "info", "log level (env: CARDS_LOG_LEVEL)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("cards-client v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
