package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rfm/crypto"
	"github.com/opd-ai/rfm/file"
	"github.com/opd-ai/rfm/protocol"
	"github.com/opd-ai/rfm/relpath"
	"github.com/opd-ai/rfm/transport"
)

// ErrUnexpectedResponse indicates the server broke the request/response
// sequence.
var ErrUnexpectedResponse = errors.New("unexpected response")

// Options configures a Client.
type Options struct {
	// CompressLevel is the deflate level for archive uploads, 0 to store.
	CompressLevel int
	// Secure runs the Noise handshake before anything else.
	Secure bool
	// Keys is the client's static key pair for the secure channel. A fresh
	// pair is generated when nil.
	Keys *crypto.KeyPair
	// ServerKey pins the server's static public key when non-empty.
	ServerKey []byte
	// DialTimeout bounds connection setup.
	DialTimeout time.Duration
	// ReadTimeout bounds every wait for the server.
	ReadTimeout time.Duration
}

// Client is one connection to a server.
type Client struct {
	conn  *transport.Conn
	ui    UI
	opts  Options
	cwd   relpath.RelativePath
	token string
}

// Dial connects to addr and prepares a Client. The welcome message is read by
// Run.
func Dial(ctx context.Context, addr string, ui UI, opts Options) (*Client, error) {
	if err := file.ValidateCompressLevel(opts.CompressLevel); err != nil {
		return nil, err
	}
	nc, err := transport.Dial(ctx, addr, opts.DialTimeout)
	if err != nil {
		return nil, err
	}
	c, err := New(nc, ui, opts)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return c, nil
}

// New wraps an established connection, running the secure handshake first
// when opts.Secure is set.
func New(nc net.Conn, ui UI, opts Options) (*Client, error) {
	if opts.Secure {
		keys := opts.Keys
		if keys == nil {
			var err error
			if keys, err = crypto.GenerateKeyPair(); err != nil {
				return nil, fmt.Errorf("generate client keys: %w", err)
			}
		}
		sc, err := transport.SecureClient(nc, keys, opts.ServerKey)
		if err != nil {
			return nil, err
		}
		logrus.WithFields(logrus.Fields{
			"function":    "New",
			"server_key":  crypto.Fingerprint(toKey(sc.RemoteStaticKey())),
			"server_addr": nc.RemoteAddr().String(),
		}).Info("Secure channel established")
		nc = sc
	}

	return &Client{
		conn: transport.NewConn(nc, transport.Options{ReadTimeout: opts.ReadTimeout}),
		ui:   ui,
		opts: opts,
		cwd:  relpath.Root(),
	}, nil
}

func toKey(b []byte) [32]byte {
	var k [32]byte
	copy(k[:], b)
	return k
}

// Cwd returns the remote working directory.
func (c *Client) Cwd() relpath.RelativePath {
	return c.cwd
}

// LoggedIn reports whether the client holds a session token.
func (c *Client) LoggedIn() bool {
	return c.token != ""
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// request sends msg with the session token attached and returns the reply.
func (c *Client) request(msg protocol.Message) (protocol.Message, error) {
	if c.token != "" {
		msg = msg.With(protocol.KeyAuthToken, c.token)
	}
	if err := c.conn.WriteMessage(msg); err != nil {
		return protocol.Message{}, err
	}
	return c.conn.ReadMessage()
}

// Run reads the welcome message, logs in when asked to, and serves user
// commands until LOGOUT, a DISCONNECT from the server, the UI giving up or a
// connection failure. Only connection failures are returned.
func (c *Client) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { c.conn.Close() })
	defer stop()
	defer c.conn.Close()

	welcome, err := c.conn.ReadMessage()
	if err != nil {
		return err
	}
	c.ui.DisplayMessage(welcome.Text())
	switch welcome.Tag {
	case protocol.ResOK:
	case protocol.ResPassRequested:
		if err := c.authenticate(); err != nil {
			return c.finish(err)
		}
	default:
		c.ui.DisplayError(welcome.Tag, welcome.Text())
		return fmt.Errorf("%w: welcome %s", ErrUnexpectedResponse, welcome.Tag)
	}

	for {
		cmd, err := c.ui.PromptCommand(c.cwd)
		if err != nil {
			return c.finish(c.logout())
		}

		done, err := c.execute(cmd)
		if err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			if file.IsFatal(err) || errors.Is(err, ErrUnexpectedResponse) {
				c.ui.DisplayError(protocol.ResDisconnect, err.Error())
				return err
			}
			c.ui.DisplayError(protocol.ResError, err.Error())
		}
		if done {
			return nil
		}
	}
}

// finish maps errQuit to a clean exit.
func (c *Client) finish(err error) error {
	if errors.Is(err, errQuit) {
		return nil
	}
	return err
}

// execute runs one command. done reports that the session is over.
func (c *Client) execute(cmd Command) (done bool, err error) {
	logrus.WithFields(logrus.Fields{
		"function": "execute",
		"command":  cmd.Tag.String(),
		"cwd":      c.cwd.Path(),
	}).Debug("Executing command")

	switch cmd.Tag {
	case protocol.CmdHelp:
		c.ui.DisplayMessage(protocol.HelpText())
	case protocol.CmdCls:
		c.ui.ClearScreen()
	case protocol.CmdLogout:
		return true, c.logout()
	case protocol.CmdDir:
		return false, c.list(false)
	case protocol.CmdTree:
		return false, c.list(true)
	case protocol.CmdCD:
		return false, c.changeDir(cmd.Arg)
	case protocol.CmdMkdir:
		return false, c.simple(protocol.CmdMkdir, cmd.Arg)
	case protocol.CmdRmdir:
		return false, c.simple(protocol.CmdRmdir, cmd.Arg)
	case protocol.CmdDelete:
		return false, c.delete(cmd.Arg)
	case protocol.CmdStats:
		return false, c.stats()
	case protocol.CmdUpload:
		return false, c.upload()
	case protocol.CmdDownload:
		return false, c.download(cmd.Arg)
	default:
		c.ui.DisplayError(protocol.ResInvalidCmd, protocol.ResInvalidCmd.Description())
	}
	return false, nil
}
