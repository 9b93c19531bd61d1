package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Envelope is the frame shape in both directions.
// Paginated deck snapshots may carry total/page/pageSize next to data
// instead of inside it, so those siblings are kept for normalization.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`

	Total    *Number `json:"total,omitempty"`
	Page     *Number `json:"page,omitempty"`
	PageSize *Number `json:"pageSize,omitempty"`
}

// Server announcements.
const (
	EventConnected         = "WS_CONNECTED"
	EventChatMessage       = "CHAT_MESSAGE"
	EventInvalidSession    = "INVALID_OR_EXPIRED_SESSION"
	EventUserNotInGame     = "USER_NOT_IN_GAME"
	EventJoinFailed        = "JOIN_FAILED"
	EventKicked            = "KICKED_FROM_GAME"
	EventPlayerJoined      = "NEW_PLAYER_JOINED"
	EventPlayerLeft        = "PLAYER_LEFT"
	EventPlayersInGame     = "PLAYERS_IN_GAME"
	EventAvailableDecks    = "AVAILABLE_DECKS"
	EventDecksInGame       = "DECKS_IN_GAME"
	EventDecksAdded        = "DECKS_ADDED_TO_GAME"
	EventDecksRemoved      = "DECKS_REMOVED_FROM_GAME"
	EventGameStarted       = "GAME_STARTED"
	EventRoundStarted      = "ROUND_STARTED"
	EventCardsSubmitted    = "CARDS_SUBMITTED"
	EventAllCardsSubmitted = "ALL_CARDS_SUBMITTED"
	EventRoundFinished     = "ROUND_FINISHED"
	EventJudgeChanged      = "REF_CHANGED"
	EventGameFinished      = "GAME_FINISHED"

	EventNotEnoughPlayers   = "NOT_ENOUGH_PLAYERS"
	EventNotEnoughCards     = "NOT_ENOUGH_CARDS_IN_DECKS"
	EventGameNotFound       = "GAME_NOT_FOUND"
	EventGameAlreadyStarted = "GAME_ALREADY_STARTED"
	EventNotGameOwner       = "USER_IS_NOT_GAME_OWNER"
	EventDeckNotFound       = "DECK_NOT_FOUND"
)

// Client commands.
const (
	CommandLeaveGame     = "LEAVE_GAME"
	CommandSubmitCards   = "SUBMIT_CARDS"
	CommandSelectWinner  = "SELECT_ROUND_WINNER"
	CommandChatMessage   = "CHAT_MESSAGE"
	CommandKickPlayer    = "KICK_PLAYER"
	CommandAddDecks      = "ADD_DECKS_TO_GAME"
	CommandRemoveDecks   = "REMOVE_DECKS_FROM_GAME"
	CommandGetDecksPaged = "GET_DECKS_PAGINATED"
	CommandStartGame     = "START_GAME"
)

type Category int

const (
	CategoryUnknown Category = iota
	CategoryConfirmation
	CategorySnapshot
	CategoryDelta
	CategoryRound
	CategoryChat
	CategoryFatal
	CategoryRejection
)

var categories = map[string]Category{
	EventConnected: CategoryConfirmation,

	EventPlayersInGame:  CategorySnapshot,
	EventAvailableDecks: CategorySnapshot,
	EventDecksInGame:    CategorySnapshot,

	EventPlayerJoined: CategoryDelta,
	EventPlayerLeft:   CategoryDelta,
	EventDecksAdded:   CategoryDelta,
	EventDecksRemoved: CategoryDelta,

	EventGameStarted:       CategoryRound,
	EventRoundStarted:      CategoryRound,
	EventCardsSubmitted:    CategoryRound,
	EventAllCardsSubmitted: CategoryRound,
	EventRoundFinished:     CategoryRound,
	EventJudgeChanged:      CategoryRound,

	EventChatMessage: CategoryChat,

	EventInvalidSession: CategoryFatal,
	EventUserNotInGame:  CategoryFatal,
	EventJoinFailed:     CategoryFatal,
	EventKicked:         CategoryFatal,
	EventGameFinished:   CategoryFatal,

	EventNotEnoughPlayers:   CategoryRejection,
	EventNotEnoughCards:     CategoryRejection,
	EventGameNotFound:       CategoryRejection,
	EventGameAlreadyStarted: CategoryRejection,
	EventNotGameOwner:       CategoryRejection,
	EventDeckNotFound:       CategoryRejection,
}

func CategoryOf(event string) Category {
	return categories[event]
}

func (c Category) String() string {
	switch c {
	case CategoryConfirmation:
		return "confirmation"
	case CategorySnapshot:
		return "snapshot"
	case CategoryDelta:
		return "delta"
	case CategoryRound:
		return "round"
	case CategoryChat:
		return "chat"
	case CategoryFatal:
		return "fatal"
	case CategoryRejection:
		return "rejection"
	default:
		return "unknown"
	}
}

func ParseEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, errors.Join(ErrBadEnvelope, err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("%w: missing event tag", ErrBadEnvelope)
	}
	return env, nil
}

// NewCommand builds an outbound envelope. A nil payload produces a frame
// without data.
func NewCommand(event string, payload any) (Envelope, error) {
	env := Envelope{Event: event}
	if payload == nil {
		return env, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, errors.Join(ErrBadPayload, err)
	}
	env.Data = b
	return env, nil
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if !e.HasData() {
		return fmt.Errorf("%w: %s has no data", ErrBadPayload, e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return errors.Join(ErrBadPayload, err)
	}
	return nil
}

func (e Envelope) HasData() bool {
	d := bytes.TrimSpace(e.Data)
	return len(d) > 0 && !bytes.Equal(d, []byte("null"))
}

type SubmitCardsData struct {
	CardIDs []string `json:"cardIds"`
}

type PlayerRefData struct {
	PlayerID string `json:"playerId"`
}

type ChatData struct {
	Text string `json:"text"`
}

type DecksData struct {
	Decks []string `json:"decks"`
}

type PageRequestData struct {
	Page     string `json:"page"`
	PageSize string `json:"pageSize"`
}

func NewPageRequest(page, pageSize int) PageRequestData {
	return PageRequestData{Page: strconv.Itoa(page), PageSize: strconv.Itoa(pageSize)}
}
