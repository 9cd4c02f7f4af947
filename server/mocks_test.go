package server

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opd-ai/rfm/protocol"
	"github.com/opd-ai/rfm/transport"
)

const (
	testUser     = "admin"
	testPassword = "correct horse"
	testSecret   = "test-secret"
)

// startServer runs a Server on a loopback port until the test ends.
func startServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	if cfg.Root == "" {
		cfg.Root = t.TempDir()
	}
	srv, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Listen("127.0.0.1:0"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		srv.Close()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("Serve did not return after Close")
		}
	})
	return srv
}

// testClient speaks the protocol directly, one request at a time.
type testClient struct {
	t     *testing.T
	conn  *transport.Conn
	token string
}

// connect dials srv and returns the client together with the welcome
// message.
func connect(t *testing.T, srv *Server) (*testClient, protocol.Message) {
	t.Helper()
	nc, err := net.DialTimeout("tcp", srv.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	return wrap(t, nc)
}

func wrap(t *testing.T, nc net.Conn) (*testClient, protocol.Message) {
	t.Helper()
	conn := transport.NewConn(nc, transport.Options{ReadTimeout: 5 * time.Second})
	t.Cleanup(func() { conn.Close() })

	welcome, err := conn.ReadMessage()
	require.NoError(t, err)
	return &testClient{t: t, conn: conn}, welcome
}

func (c *testClient) send(msg protocol.Message) {
	c.t.Helper()
	if c.token != "" {
		msg = msg.With(protocol.KeyAuthToken, c.token)
	}
	require.NoError(c.t, c.conn.WriteMessage(msg))
}

func (c *testClient) read() protocol.Message {
	c.t.Helper()
	msg, err := c.conn.ReadMessage()
	require.NoError(c.t, err)
	return msg
}

func (c *testClient) call(msg protocol.Message) protocol.Message {
	c.t.Helper()
	c.send(msg)
	return c.read()
}

func (c *testClient) login(user, pass string) protocol.Message {
	c.t.Helper()
	resp := c.call(protocol.New(protocol.CmdVerifyPassword).
		With(protocol.KeyUsername, user).
		With(protocol.KeyPassword, pass))
	if resp.Tag == protocol.ResOK {
		c.token = resp.StringValue(protocol.KeyAuthToken)
	}
	return resp
}

// stubAuthority lets tests control every Authority answer.
type stubAuthority struct {
	verify func(user, pass string) (bool, error)
	panics bool
}

var errStubBackend = errors.New("backend offline")

func (a *stubAuthority) VerifyCredentials(_ context.Context, user, pass string) (bool, error) {
	if a.panics {
		panic("credential store exploded")
	}
	return a.verify(user, pass)
}

func (a *stubAuthority) IssueToken(user string) (string, error) {
	return "token-for-" + user, nil
}

func (a *stubAuthority) VerifyToken(token string) (string, error) {
	const prefix = "token-for-"
	if len(token) <= len(prefix) || token[:len(prefix)] != prefix {
		return "", errors.New("bad token")
	}
	return token[len(prefix):], nil
}
