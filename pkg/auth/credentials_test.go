package auth

import (
	"testing"

	"github.com/luxfi/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/luxfi/fixgateway/pkg/session"
)

func newTestCredentials(t *testing.T) *Credentials {
	t.Helper()
	level, _ := log.ToLevel("debug")
	c := NewCredentials(bcrypt.MinCost, log.NewTestLogger(level))
	require.NoError(t, c.Add("CLIENT", "bob", "secret"))
	return c
}

func TestCredentials_Authenticate(t *testing.T) {
	var strategy session.AuthenticationStrategy = newTestCredentials(t)

	tests := []struct {
		name                 string
		comp, user, password string
		want                 bool
	}{
		{"valid", "CLIENT", "bob", "secret", true},
		{"wrong password", "CLIENT", "bob", "guess", false},
		{"wrong username", "CLIENT", "alice", "secret", false},
		{"unknown comp id", "OTHER", "bob", "secret", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, strategy.Authenticate(tt.comp, tt.user, tt.password))
		})
	}
}

func TestCredentials_AllowUnknownAndRemove(t *testing.T) {
	c := newTestCredentials(t)
	c.AllowUnknown = true

	assert.True(t, c.Authenticate("OTHER", "", ""))

	c.Remove("CLIENT")
	assert.True(t, c.Authenticate("CLIENT", "anyone", "anything"))
}

func TestCredentials_AddRejectsEmptyPassword(t *testing.T) {
	c := newTestCredentials(t)
	assert.ErrorIs(t, c.Add("CLIENT", "bob", ""), ErrEmptyPassword)
}
