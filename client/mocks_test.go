package client

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opd-ai/rfm/auth"
	"github.com/opd-ai/rfm/protocol"
	"github.com/opd-ai/rfm/relpath"
	"github.com/opd-ai/rfm/server"
)

const (
	testUser     = "admin"
	testPassword = "correct horse"
)

type credentials struct{ user, pass string }

type displayedError struct {
	code protocol.Tag
	text string
}

// scriptedUI answers every prompt from pre-filled queues. An exhausted queue
// behaves like a user closing the terminal.
type scriptedUI struct {
	commands    []Command
	credentials []credentials
	renames     []string
	sources     [][]LocalSource
	targets     [][]relpath.RelativePath
	destination string

	// beforePrompt runs before each command is handed out.
	beforePrompt func(n int)
	prompts      int

	messages []string
	errors   []displayedError
	listings [][]relpath.RelativePath
	stats    []protocol.Stats
	progress []int
	cwds     []string
	cleared  int
	approx   int64
}

func (u *scriptedUI) PromptCommand(cwd relpath.RelativePath) (Command, error) {
	u.cwds = append(u.cwds, cwd.Path())
	if u.beforePrompt != nil {
		u.beforePrompt(u.prompts)
	}
	u.prompts++
	if len(u.commands) == 0 {
		return Command{}, io.EOF
	}
	cmd := u.commands[0]
	u.commands = u.commands[1:]
	return cmd, nil
}

func (u *scriptedUI) PromptCredentials() (string, string, error) {
	if len(u.credentials) == 0 {
		return "", "", io.EOF
	}
	c := u.credentials[0]
	u.credentials = u.credentials[1:]
	return c.user, c.pass, nil
}

func (u *scriptedUI) DisplayMessage(text string) { u.messages = append(u.messages, text) }

func (u *scriptedUI) DisplayError(code protocol.Tag, text string) {
	u.errors = append(u.errors, displayedError{code: code, text: text})
}

func (u *scriptedUI) DisplayListing(entries []relpath.RelativePath) {
	u.listings = append(u.listings, entries)
}

func (u *scriptedUI) DisplayStats(s protocol.Stats) { u.stats = append(u.stats, s) }

func (u *scriptedUI) ReportProgress(percent int, _ float64, _ int64) {
	u.progress = append(u.progress, percent)
}

func (u *scriptedUI) SelectRemoteTargets(relpath.RelativePath) ([]relpath.RelativePath, error) {
	if len(u.targets) == 0 {
		return nil, nil
	}
	t := u.targets[0]
	u.targets = u.targets[1:]
	return t, nil
}

func (u *scriptedUI) SelectLocalSources() ([]LocalSource, error) {
	if len(u.sources) == 0 {
		return nil, nil
	}
	s := u.sources[0]
	u.sources = u.sources[1:]
	return s, nil
}

func (u *scriptedUI) SelectLocalDestination(approxTotal int64) (string, error) {
	u.approx = approxTotal
	return u.destination, nil
}

func (u *scriptedUI) RenameTarget(string) (string, error) {
	if len(u.renames) == 0 {
		return "", nil
	}
	name := u.renames[0]
	u.renames = u.renames[1:]
	return name, nil
}

func (u *scriptedUI) ClearScreen() { u.cleared++ }

func (u *scriptedUI) errorCodes() []protocol.Tag {
	codes := make([]protocol.Tag, len(u.errors))
	for i, e := range u.errors {
		codes[i] = e.code
	}
	return codes
}

func (u *scriptedUI) sawMessage(substr string) bool {
	for _, m := range u.messages {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

func cmd(tag protocol.Tag, arg string) Command {
	return Command{Tag: tag, Arg: arg}
}

// startServer runs a server on a loopback port until the test ends.
func startServer(t *testing.T, cfg server.Config) *server.Server {
	t.Helper()
	if cfg.Root == "" {
		cfg.Root = t.TempDir()
	}
	srv, err := server.New(cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Listen("127.0.0.1:0"))

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv
}

func newAuthority(t *testing.T) auth.Authority {
	t.Helper()
	store := auth.NewMemoryStore()
	require.NoError(t, store.CreateUser(context.Background(), testUser, testPassword))
	issuer, err := auth.NewTokenIssuer("client-test-secret", time.Minute)
	require.NoError(t, err)
	return auth.NewService(store, issuer)
}

// runClient connects ui to srv and runs the session to completion.
func runClient(t *testing.T, srv *server.Server, ui *scriptedUI, opts Options) (*Client, error) {
	t.Helper()
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 5 * time.Second
	}
	c, err := Dial(context.Background(), srv.Addr().String(), ui, opts)
	require.NoError(t, err)
	return c, c.Run(context.Background())
}
