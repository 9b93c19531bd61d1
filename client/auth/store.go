package auth

import (
	"errors"
	"net/http"
	"sync"
)

const (
	SessionCookieName = "sessionToken"
)

var (
	ErrNoSession  = errors.New("no active session")
	ErrBadCookies = errors.New("unable to parse cookie header")
)

type User struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Store keeps the credential material the game server expects and the
// identity of the local user. Logout drops both.
type Store struct {
	mx      *sync.RWMutex
	user    User
	token   string
	onClear []func()
}

func NewStore(user User, token string) *Store {
	return &Store{
		mx:    &sync.RWMutex{},
		user:  user,
		token: token,
	}
}

// NewStoreFromCookies extracts the session token from a raw Cookie header
// value. An explicit token wins over the cookie.
func NewStoreFromCookies(user User, token, cookieHeader string) (*Store, error) {
	if token == "" && cookieHeader != "" {
		cookies, err := http.ParseCookie(cookieHeader)
		if err != nil {
			return nil, errors.Join(ErrBadCookies, err)
		}
		for _, c := range cookies {
			if c.Name == SessionCookieName {
				token = c.Value
				break
			}
		}
	}
	return NewStore(user, token), nil
}

func (s *Store) SessionToken() (string, error) {
	s.mx.RLock()
	defer s.mx.RUnlock()
	if s.user.ID == "" && s.token == "" {
		return "", ErrNoSession
	}
	return s.token, nil
}

func (s *Store) User() (User, bool) {
	s.mx.RLock()
	defer s.mx.RUnlock()
	return s.user, s.user.ID != ""
}

func (s *Store) SetSession(user User, token string) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.user = user
	s.token = token
}

// LoggedIn reports whether there is anything to authenticate with: a user
// id, a session token or both.
func (s *Store) LoggedIn() bool {
	_, err := s.SessionToken()
	return err == nil
}

// OnLogout registers fn to run after credentials are dropped.
func (s *Store) OnLogout(fn func()) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.onClear = append(s.onClear, fn)
}

func (s *Store) Logout() {
	s.mx.Lock()
	s.user = User{}
	s.token = ""
	hooks := append([]func(){}, s.onClear...)
	s.mx.Unlock()

	for _, fn := range hooks {
		fn()
	}
}
