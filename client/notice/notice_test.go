package notice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslator(t *testing.T) {
	tests := []struct {
		name   string
		lang   string
		notice Notice
		want   string
	}{
		{name: "english", lang: "en", notice: New(LevelInfo, "game.finished"), want: "The game has finished"},
		{name: "args", lang: "en", notice: New(LevelInfo, "lobby.player_left", "Bob"), want: "Bob left the game"},
		{name: "polish", lang: "pl", notice: New(LevelInfo, "lobby.player_left", "Ola"), want: "Ola opuścił grę"},
		{name: "polish region", lang: "pl-PL", notice: New(LevelWarn, ErrorKey("WEBSOCKET_DISCONNECT")), want: "Utracono połączenie"},
		{name: "unsupported language", lang: "de", notice: New(LevelInfo, "game.finished"), want: "The game has finished"},
		{
			name:   "unknown key uses fallback",
			lang:   "en",
			notice: Notice{Level: LevelError, Key: ErrorKey("BRAND_NEW"), Fallback: "server reason"},
			want:   "server reason",
		},
		{name: "unknown key without fallback", lang: "en", notice: New(LevelError, "nope"), want: "nope"},
		{
			name:   "known key ignores fallback",
			lang:   "en",
			notice: Notice{Level: LevelError, Key: "lobby.errors.join_failed", Fallback: "raw"},
			want:   "Could not join the game",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := NewTranslator(tt.lang)
			require.NoError(t, err)
			assert.Equal(t, tt.want, tr.Text(tt.notice))
		})
	}

	_, err := NewTranslator("%%")
	assert.Error(t, err)
}

func TestHas(t *testing.T) {
	tr, err := NewTranslator("en")
	require.NoError(t, err)

	assert.True(t, tr.Has(ErrorKey("KICKED_FROM_GAME")))
	assert.True(t, tr.Has(ErrorKey("DECK_NOT_FOUND")))
	assert.False(t, tr.Has(ErrorKey("SOMETHING_UNKNOWN")))
}

func TestCatalogsMatch(t *testing.T) {
	for key := range english {
		_, ok := polish[key]
		assert.True(t, ok, "missing polish translation for %s", key)
	}
	for key := range polish {
		_, ok := english[key]
		assert.True(t, ok, "polish key %s has no english source", key)
	}
}
