package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStoreFromCookies(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		cookie string
		want   string
	}{
		{name: "cookie", cookie: "theme=dark; sessionToken=abc123", want: "abc123"},
		{name: "explicit token wins", token: "explicit", cookie: "sessionToken=abc123", want: "explicit"},
		{name: "no session cookie", cookie: "theme=dark", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewStoreFromCookies(User{ID: "u1"}, tt.token, tt.cookie)
			require.NoError(t, err)
			token, err := s.SessionToken()
			require.NoError(t, err)
			assert.Equal(t, tt.want, token)
		})
	}
}

func TestLogout(t *testing.T) {
	s := NewStore(User{ID: "u1", Name: "Ann"}, "tok")
	require.True(t, s.LoggedIn())

	var called int
	s.OnLogout(func() { called++ })
	s.Logout()

	assert.Equal(t, 1, called)
	assert.False(t, s.LoggedIn())
	_, ok := s.User()
	assert.False(t, ok)
	_, err := s.SessionToken()
	assert.ErrorIs(t, err, ErrNoSession)

	s.SetSession(User{ID: "u2"}, "")
	token, err := s.SessionToken()
	require.NoError(t, err)
	assert.Empty(t, token)
	assert.True(t, s.LoggedIn())
}

func TestTokenOnly(t *testing.T) {
	s := NewStore(User{}, "tok")
	assert.True(t, s.LoggedIn())
	_, ok := s.User()
	assert.False(t, ok)
}
