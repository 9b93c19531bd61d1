package invite

import (
	"bytes"
	"testing"

	"github.com/adwski/cards-client/client/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLink(t *testing.T) {
	type args struct {
		origin string
		target model.Target
	}
	tests := []struct {
		name    string
		args    args
		want    string
		wantErr error
	}{
		{
			name: "with code",
			args: args{origin: "https://cards.example.com", target: model.Target{GameID: "g1", InvitationCode: "abc"}},
			want: "https://cards.example.com/lobby/g1?code=abc",
		},
		{
			name: "trailing slash",
			args: args{origin: "http://localhost:3000/", target: model.Target{GameID: "g2"}},
			want: "http://localhost:3000/lobby/g2?code=",
		},
		{
			name:    "no game",
			args:    args{origin: "http://localhost:3000"},
			wantErr: ErrGame,
		},
		{
			name:    "no scheme",
			args:    args{origin: "localhost", target: model.Target{GameID: "g"}},
			wantErr: ErrOrigin,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Link(tt.args.origin, tt.args.target)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestQR(t *testing.T) {
	link := "https://cards.example.com/lobby/g1?code=abc"

	s, err := Terminal(link)
	require.NoError(t, err)
	assert.NotEmpty(t, s)

	png, err := PNG(link, 0)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))
}
