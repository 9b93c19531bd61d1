package websocket

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/adwski/cards-client/client/model"
)

const (
	DefaultConnectPath = "/game/connect"

	EnvDevelopment = "development"
	EnvProduction  = "production"
)

var (
	ErrGateway  = errors.New("invalid gateway address")
	ErrNoTarget = errors.New("game id is required")
)

type Credentials interface {
	SessionToken() (string, error)
}

// Gateway resolves the websocket endpoint for a target. Development and
// production deployments use different base addresses.
type Gateway struct {
	Env         string
	Development string
	Production  string
	Path        string
}

func (g Gateway) Base() string {
	if g.Env == EnvDevelopment {
		return g.Development
	}
	return g.Production
}

// Endpoint builds the connect URI. Credentials are read on every call, so a
// reconnect picks up a refreshed token. Query parameters are encoded in
// sorted order, which keeps the result deterministic.
func (g Gateway) Endpoint(target model.Target, creds Credentials) (string, error) {
	if target.GameID == "" {
		return "", ErrNoTarget
	}
	base, err := url.Parse(g.Base())
	if err != nil {
		return "", errors.Join(ErrGateway, err)
	}
	switch base.Scheme {
	case "ws", "wss":
	case "http":
		base.Scheme = "ws"
	case "https":
		base.Scheme = "wss"
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrGateway, base.Scheme)
	}
	if base.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrGateway)
	}

	path := g.Path
	if path == "" {
		path = DefaultConnectPath
	}
	u := base.JoinPath(path)

	q := url.Values{}
	if creds != nil {
		token, err := creds.SessionToken()
		if err != nil {
			return "", err
		}
		if token != "" {
			q.Set("sessionToken", token)
		}
	}
	q.Set("game", target.GameID)
	if target.InvitationCode != "" {
		q.Set("code", target.InvitationCode)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
