package model

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrBadEnvelope = errors.New("malformed envelope")
	ErrBadPayload  = errors.New("malformed payload")
)

type CardType string

const (
	CardWhite CardType = "white"
	CardBlack CardType = "black"
)

type Card struct {
	ID               string   `json:"id"`
	Text             string   `json:"text"`
	Type             CardType `json:"type,omitempty"`
	BlankSpaceAmount int      `json:"blankSpaceAmount,omitempty"`
}

// Blanks is the number of white cards a prompt card requires. Prompts
// without an explicit amount take one card.
func (c Card) Blanks() int {
	if c.BlankSpaceAmount < 1 {
		return 1
	}
	return c.BlankSpaceAmount
}

type Player struct {
	ID           string `json:"id"`
	UserID       string `json:"userId,omitempty"`
	Name         string `json:"name"`
	Points       int    `json:"points"`
	Owner        bool   `json:"owner"`
	HasSubmitted bool   `json:"hasSubmitted,omitempty"`
}

// Matches reports whether the player entry belongs to the given user.
// Servers identify players either by game-player id or by user id.
func (p Player) Matches(userID string) bool {
	if userID == "" {
		return false
	}
	return p.ID == userID || (p.UserID != "" && p.UserID == userID)
}

type Deck struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Description     string `json:"description,omitempty"`
	CreatedAt       string `json:"createdAt,omitempty"`
	UpdatedAt       string `json:"updatedAt,omitempty"`
	IsPublic        bool   `json:"isPublic"`
	BlackCardsCount int    `json:"blackCardsCount"`
	WhiteCardsCount int    `json:"whiteCardsCount"`
}

type Submission struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	Cards      []Card `json:"cards"`
}

type Winner struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Points int    `json:"points"`
}

type ChatMessage struct {
	ID         string    `json:"id,omitempty"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Text       string    `json:"text"`
	Timestamp  Timestamp `json:"timestamp"`
}

// Timestamp accepts RFC 3339 strings and unix milliseconds.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == `""` {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		if ms, err := strconv.ParseInt(str, 10, 64); err == nil {
			t.Time = time.UnixMilli(ms).UTC()
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, str)
		if err != nil {
			return errors.Join(ErrBadPayload, err)
		}
		t.Time = parsed
		return nil
	}
	ms, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return errors.Join(ErrBadPayload, err)
	}
	t.Time = time.UnixMilli(int64(ms)).UTC()
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

// Number is an integer that servers send either as a JSON number or as a
// decimal string.
type Number int

func (n *Number) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return errors.Join(ErrBadPayload, err)
	}
	*n = Number(v)
	return nil
}

// Target identifies the lobby or game a session connects to.
type Target struct {
	GameID         string
	InvitationCode string
}
