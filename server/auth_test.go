package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/rfm/auth"
	"github.com/opd-ai/rfm/protocol"
)

func newAuthority(t *testing.T) auth.Authority {
	t.Helper()
	store := auth.NewMemoryStore()
	require.NoError(t, store.CreateUser(context.Background(), testUser, testPassword))
	require.NoError(t, store.CreateUser(context.Background(), "bob", "bobpass"))
	issuer, err := auth.NewTokenIssuer(testSecret, time.Minute)
	require.NoError(t, err)
	return auth.NewService(store, issuer)
}

func TestLoginFlow(t *testing.T) {
	srv := startServer(t, Config{Authority: newAuthority(t)})
	c, welcome := connect(t, srv)
	assert.Equal(t, protocol.ResPassRequested, welcome.Tag)

	assert.Equal(t, protocol.ResLoginNeeded, c.call(protocol.New(protocol.CmdDir)).Tag)
	assert.Equal(t, protocol.ResOK, c.call(protocol.New(protocol.CmdHelp)).Tag, "HELP needs no login")

	assert.Equal(t, protocol.ResAuthFailed, c.login(testUser, "wrong").Tag)
	assert.Equal(t, protocol.ResAuthFailed, c.login("", "").Tag)
	assert.Empty(t, c.token)

	resp := c.login(testUser, testPassword)
	require.Equal(t, protocol.ResOK, resp.Tag)
	require.NotEmpty(t, c.token)
	assert.Equal(t, protocol.ResOK, c.call(protocol.New(protocol.CmdDir)).Tag)

	token := c.token
	c.token = ""
	assert.Equal(t, protocol.ResLoginNeeded, c.call(protocol.New(protocol.CmdDir)).Tag, "token is required on every request")
	c.token = "garbage"
	assert.Equal(t, protocol.ResLoginNeeded, c.call(protocol.New(protocol.CmdDir)).Tag)
	c.token = token
	assert.Equal(t, protocol.ResOK, c.call(protocol.New(protocol.CmdStats)).Tag)
}

func TestTokenMustMatchSessionUser(t *testing.T) {
	authority := newAuthority(t)
	srv := startServer(t, Config{Authority: authority})
	c, _ := connect(t, srv)

	require.Equal(t, protocol.ResOK, c.login(testUser, testPassword).Tag)
	bobToken, err := authority.IssueToken("bob")
	require.NoError(t, err)

	c.token = bobToken
	assert.Equal(t, protocol.ResLoginNeeded, c.call(protocol.New(protocol.CmdDir)).Tag)
}

func TestFailedLoginClearsUser(t *testing.T) {
	srv := startServer(t, Config{Authority: newAuthority(t)})
	c, _ := connect(t, srv)

	require.Equal(t, protocol.ResOK, c.login(testUser, testPassword).Tag)
	token := c.token
	require.Equal(t, protocol.ResAuthFailed, c.login(testUser, "wrong").Tag)

	c.token = token
	assert.Equal(t, protocol.ResLoginNeeded, c.call(protocol.New(protocol.CmdDir)).Tag)
}

func TestAuthorityUnavailable(t *testing.T) {
	srv := startServer(t, Config{Authority: &stubAuthority{
		verify: func(string, string) (bool, error) { return false, errStubBackend },
	}})
	c, _ := connect(t, srv)

	resp := c.login(testUser, testPassword)
	assert.Equal(t, protocol.ResServerNotReady, resp.Tag)
	assert.Equal(t, protocol.ResOK, c.call(protocol.New(protocol.CmdHelp)).Tag)
}

func TestPanicEndsOnlyThatSession(t *testing.T) {
	srv := startServer(t, Config{Authority: &stubAuthority{panics: true}})

	c, _ := connect(t, srv)
	c.send(protocol.New(protocol.CmdVerifyPassword).
		With(protocol.KeyUsername, testUser).
		With(protocol.KeyPassword, testPassword))
	_, err := c.conn.ReadMessage()
	assert.Error(t, err, "panicking session is closed")

	other, welcome := connect(t, srv)
	assert.Equal(t, protocol.ResPassRequested, welcome.Tag)
	assert.Equal(t, protocol.ResOK, other.call(protocol.New(protocol.CmdHelp)).Tag)
}

func TestVerifyPasswordWithAuthDisabled(t *testing.T) {
	srv := startServer(t, Config{})
	c, _ := connect(t, srv)
	resp := c.login(testUser, testPassword)
	assert.Equal(t, protocol.ResOK, resp.Tag)
	assert.False(t, resp.Has(protocol.KeyAuthToken))
}
