package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

type RoundStarted struct {
	Cards     []Card `json:"cards"`
	CardRef   string `json:"cardRef"`
	BlackCard Card   `json:"blackCard"`

	// HasSubmitted is only present when the server replays the current
	// round to a reconnecting player.
	HasSubmitted *bool `json:"hasSubmitted,omitempty"`
}

// IsResume reports whether the payload replays an in-progress round rather
// than announcing a new one.
func (r RoundStarted) IsResume() bool {
	return r.HasSubmitted != nil
}

func (r RoundStarted) Submitted() bool {
	return r.HasSubmitted != nil && *r.HasSubmitted
}

// Key identifies the round the payload describes.
func (r RoundStarted) Key() string {
	return r.CardRef + "/" + r.BlackCard.ID
}

// UniqueCards returns the hand with duplicate card ids collapsed, keeping
// the first occurrence's position and the last occurrence's content.
func (r RoundStarted) UniqueCards() []Card {
	idx := make(map[string]int, len(r.Cards))
	out := make([]Card, 0, len(r.Cards))
	for _, c := range r.Cards {
		if i, ok := idx[c.ID]; ok {
			out[i] = c
			continue
		}
		idx[c.ID] = len(out)
		out = append(out, c)
	}
	return out
}

type CardsSubmitted struct {
	PlayerID string `json:"playerId"`
}

type AllCardsSubmitted struct {
	Submissions []Submission `json:"submissions"`
}

type RoundFinished struct {
	Winner  Winner   `json:"winner"`
	Players []Player `json:"players"`
}

type JudgeChanged struct {
	NewJudgeID string `json:"newJudgeId"`
}

type PlayerLeft struct {
	ID string `json:"id"`
}

type JoinFailed struct {
	Reason string `json:"reason"`
}

// DeckPage is the canonical shape of an available-decks snapshot.
type DeckPage struct {
	Decks    []Deck `json:"decks"`
	Total    int    `json:"total"`
	Page     int    `json:"page"`
	PageSize int    `json:"pageSize"`
}

type nestedDeckPage struct {
	Decks    []Deck  `json:"decks"`
	Data     []Deck  `json:"data"`
	Total    *Number `json:"total"`
	Page     *Number `json:"page"`
	PageSize *Number `json:"pageSize"`
}

// ParseDeckPage normalizes both snapshot shapes: a flat deck array with
// total/page next to data, or an object carrying its own fields.
func ParseDeckPage(env Envelope) (DeckPage, error) {
	var page DeckPage
	if !env.HasData() {
		return page, fmt.Errorf("%w: %s has no data", ErrBadPayload, env.Event)
	}
	switch firstByte(env.Data) {
	case '[':
		if err := json.Unmarshal(env.Data, &page.Decks); err != nil {
			return DeckPage{}, errors.Join(ErrBadPayload, err)
		}
		page.Total = numberOr(env.Total, len(page.Decks))
		page.Page = numberOr(env.Page, 1)
		page.PageSize = numberOr(env.PageSize, 0)
	case '{':
		var nested nestedDeckPage
		if err := json.Unmarshal(env.Data, &nested); err != nil {
			return DeckPage{}, errors.Join(ErrBadPayload, err)
		}
		page.Decks = nested.Decks
		if page.Decks == nil {
			page.Decks = nested.Data
		}
		page.Total = numberOr(nested.Total, numberOr(env.Total, len(page.Decks)))
		page.Page = numberOr(nested.Page, numberOr(env.Page, 1))
		page.PageSize = numberOr(nested.PageSize, numberOr(env.PageSize, 0))
	default:
		return DeckPage{}, fmt.Errorf("%w: unexpected deck page shape", ErrBadPayload)
	}
	if page.Decks == nil {
		page.Decks = []Deck{}
	}
	return page, nil
}

// ParseDeckList accepts either a bare array or {decks: [...]}.
func ParseDeckList(env Envelope) ([]Deck, error) {
	if !env.HasData() {
		return nil, fmt.Errorf("%w: %s has no data", ErrBadPayload, env.Event)
	}
	var decks []Deck
	switch firstByte(env.Data) {
	case '[':
		if err := json.Unmarshal(env.Data, &decks); err != nil {
			return nil, errors.Join(ErrBadPayload, err)
		}
	case '{':
		var wrapped struct {
			Decks []Deck `json:"decks"`
		}
		if err := json.Unmarshal(env.Data, &wrapped); err != nil {
			return nil, errors.Join(ErrBadPayload, err)
		}
		decks = wrapped.Decks
	default:
		return nil, fmt.Errorf("%w: unexpected deck list shape", ErrBadPayload)
	}
	if decks == nil {
		decks = []Deck{}
	}
	return decks, nil
}

// ParseDeckIDs reads a delta payload whose decks are either full deck
// objects or plain ids.
func ParseDeckIDs(env Envelope) ([]Deck, error) {
	decks, err := ParseDeckList(env)
	if err == nil {
		return decks, nil
	}
	var ids []string
	if json.Unmarshal(env.Data, &ids) != nil {
		var wrapped DecksData
		if env.Decode(&wrapped) != nil {
			return nil, err
		}
		ids = wrapped.Decks
	}
	out := make([]Deck, 0, len(ids))
	for _, id := range ids {
		out = append(out, Deck{ID: id})
	}
	return out, nil
}

func firstByte(b []byte) byte {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return 0
	}
	return b[0]
}

func numberOr(n *Number, def int) int {
	if n == nil {
		return def
	}
	return int(*n)
}
