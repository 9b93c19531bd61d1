package notice

var english = map[string]string{
	"connected":    "Connected",
	"reconnecting": "Reconnecting...",

	"lobby.player_joined":           "%s joined the game",
	"lobby.player_left":             "%s left the game",
	"lobby.errors.join_failed":      "Could not join the game",
	"lobby.errors.min_players_2":    "At least 2 players are needed to start",
	"lobby.errors.not_enough_cards": "The selected decks do not have enough cards",

	"game.started":         "The game has started",
	"game.judge_changed":   "The judge has changed",
	"game.round_winner":    "%s won the round",
	"game.cards_submitted": "Cards submitted",
	"game.finished":        "The game has finished",

	"errors.INVALID_OR_EXPIRED_SESSION": "Your session has expired, please log in again",
	"errors.USER_NOT_IN_GAME":           "You are not a member of this game",
	"errors.KICKED_FROM_GAME":           "You were kicked from the game",
	"errors.NOT_ENOUGH_PLAYERS":         "Not enough players to start the game",
	"errors.NOT_ENOUGH_CARDS_IN_DECKS":  "Not enough cards in the selected decks",
	"errors.GAME_NOT_FOUND":             "Game not found",
	"errors.GAME_ALREADY_STARTED":       "The game has already started",
	"errors.USER_IS_NOT_GAME_OWNER":     "Only the game owner can do that",
	"errors.DECK_NOT_FOUND":             "Deck not found",
	"errors.WEBSOCKET_DISCONNECT":       "Connection lost",
	"errors.websocket_not_connected":    "Not connected to the game server",
}

var polish = map[string]string{
	"connected":    "Połączono",
	"reconnecting": "Ponowne łączenie...",

	"lobby.player_joined":           "%s dołączył do gry",
	"lobby.player_left":             "%s opuścił grę",
	"lobby.errors.join_failed":      "Nie udało się dołączyć do gry",
	"lobby.errors.min_players_2":    "Do rozpoczęcia potrzeba co najmniej 2 graczy",
	"lobby.errors.not_enough_cards": "Wybrane talie mają za mało kart",

	"game.started":         "Gra się rozpoczęła",
	"game.judge_changed":   "Zmienił się sędzia",
	"game.round_winner":    "%s wygrał rundę",
	"game.cards_submitted": "Karty wysłane",
	"game.finished":        "Gra zakończona",

	"errors.INVALID_OR_EXPIRED_SESSION": "Sesja wygasła, zaloguj się ponownie",
	"errors.USER_NOT_IN_GAME":           "Nie jesteś uczestnikiem tej gry",
	"errors.KICKED_FROM_GAME":           "Zostałeś wyrzucony z gry",
	"errors.NOT_ENOUGH_PLAYERS":         "Za mało graczy, aby rozpocząć grę",
	"errors.NOT_ENOUGH_CARDS_IN_DECKS":  "Za mało kart w wybranych taliach",
	"errors.GAME_NOT_FOUND":             "Nie znaleziono gry",
	"errors.GAME_ALREADY_STARTED":       "Gra już się rozpoczęła",
	"errors.USER_IS_NOT_GAME_OWNER":     "Tylko właściciel gry może to zrobić",
	"errors.DECK_NOT_FOUND":             "Nie znaleziono talii",
	"errors.WEBSOCKET_DISCONNECT":       "Utracono połączenie",
	"errors.websocket_not_connected":    "Brak połączenia z serwerem gry",
}
