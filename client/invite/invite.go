package invite

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/adwski/cards-client/client/model"
	"github.com/skip2/go-qrcode"
)

const defaultPNGSize = 320

var (
	ErrOrigin = errors.New("invalid origin")
	ErrGame   = errors.New("game id is required")
	ErrQR     = errors.New("qr generation failed")
)

// Link builds the shareable lobby link: {origin}/lobby/{gameId}?code={code}.
func Link(origin string, target model.Target) (string, error) {
	if target.GameID == "" {
		return "", ErrGame
	}
	u, err := url.Parse(strings.TrimSuffix(origin, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrOrigin, origin)
	}
	u = u.JoinPath("lobby", target.GameID)
	q := url.Values{}
	q.Set("code", target.InvitationCode)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Terminal renders the link as a QR code made of block characters.
func Terminal(link string) (string, error) {
	qr, err := qrcode.New(link, qrcode.Medium)
	if err != nil {
		return "", errors.Join(ErrQR, err)
	}
	return qr.ToSmallString(false), nil
}

// PNG renders the link as a QR code image; size <= 0 picks a default.
func PNG(link string, size int) ([]byte, error) {
	if size <= 0 {
		size = defaultPNGSize
	}
	png, err := qrcode.Encode(link, qrcode.Medium, size)
	if err != nil {
		return nil, errors.Join(ErrQR, err)
	}
	return png, nil
}
