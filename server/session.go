package server

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rfm/logging"
	"github.com/opd-ai/rfm/protocol"
	"github.com/opd-ai/rfm/relpath"
	"github.com/opd-ai/rfm/transport"
)

// errSessionEnded stops the command loop after an orderly LOGOUT.
var errSessionEnded = errors.New("session ended")

// errMissingPath is reported as INVALID_ARGS when a request lacks REL_PATH.
var errMissingPath = errors.New("request has no path")

const welcomeText = "Welcome to the server"

type handlerFunc func(s *session, msg protocol.Message) error

type route struct {
	handle    handlerFunc
	needsAuth bool
}

// routes maps each command the server answers to its handler. CLS is
// client-local and therefore absent.
var routes = map[protocol.Tag]route{
	protocol.CmdVerifyResource: {(*session).handleVerifyResource, false},
	protocol.CmdVerifyPassword: {(*session).handleVerifyPassword, false},
	protocol.CmdLogout:         {(*session).handleLogout, false},
	protocol.CmdHelp:           {(*session).handleHelp, false},
	protocol.CmdDir:            {(*session).handleDir, true},
	protocol.CmdTree:           {(*session).handleTree, true},
	protocol.CmdUpload:         {(*session).handleUpload, true},
	protocol.CmdDownload:       {(*session).handleDownload, true},
	protocol.CmdCD:             {(*session).handleCD, true},
	protocol.CmdRmdir:          {(*session).handleRmdir, true},
	protocol.CmdMkdir:          {(*session).handleMkdir, true},
	protocol.CmdDelete:         {(*session).handleDelete, true},
	protocol.CmdStats:          {(*session).handleStats, true},
}

// session is the server side of one connection. All state is private to
// the session goroutine.
type session struct {
	ctx  context.Context
	srv  *Server
	id   string
	conn *transport.Conn
	log  *logrus.Entry

	// user is set after a successful VERIFY_PASSWORD.
	user string
	// started is when the request being answered was read.
	started time.Time
}

func newSession(ctx context.Context, srv *Server, id string, conn *transport.Conn, log *logrus.Entry) *session {
	return &session{ctx: ctx, srv: srv, id: id, conn: conn, log: log}
}

// run sends the welcome message and serves commands until the client leaves,
// the connection fails or a handler panics. The session's conn is closed on
// return.
func (s *session) run() {
	defer s.conn.Close()
	defer func() {
		if r := recover(); r != nil {
			s.log.WithFields(logrus.Fields{
				"function": "run",
				"panic":    fmt.Sprint(r),
				"stack":    string(debug.Stack()),
			}).Error("Session panicked")
		}
	}()

	s.log.WithField("function", "run").Info("Client connected")
	s.started = time.Now()
	if err := s.reply(s.welcome()); err != nil {
		s.log.WithField("error", err.Error()).Warn("Failed to send welcome")
		return
	}

	for {
		msg, err := s.conn.ReadMessage()
		s.started = time.Now()
		if err != nil {
			if errors.Is(err, transport.ErrMalformedMessage) {
				s.log.WithField("error", err.Error()).Warn("Malformed request")
				if err := s.reply(protocol.Errorf(protocol.ResInvalidArgs, "Malformed request")); err != nil {
					return
				}
				continue
			}
			s.logDisconnect(err)
			return
		}

		err = s.dispatch(msg)
		if errors.Is(err, errSessionEnded) {
			s.log.WithField("function", "run").Info("Client logged out")
			return
		}
		if err != nil {
			s.logDisconnect(err)
			return
		}
	}
}

func (s *session) welcome() protocol.Message {
	if s.srv.authority != nil {
		return protocol.Errorf(protocol.ResPassRequested, "%s. Please log in.", welcomeText)
	}
	return protocol.Errorf(protocol.ResOK, "%s", welcomeText)
}

func (s *session) logDisconnect(err error) {
	entry := s.log.WithField("function", "run")
	if transport.IsClosed(err) {
		entry.Info("Client disconnected")
		return
	}
	entry.WithField("error", err.Error()).Warn("Session ended by connection error")
}

// dispatch answers one request. Only connection failures and LOGOUT are
// returned; every other problem is reported to the client.
func (s *session) dispatch(msg protocol.Message) error {
	r, ok := routes[msg.Tag]
	if !ok {
		s.log.WithFields(logrus.Fields{
			"function": "dispatch",
			"tag":      msg.Tag.String(),
		}).Debug("Rejected unknown command")
		return s.reply(protocol.Response(protocol.ResInvalidCmd))
	}

	s.log.WithFields(logrus.Fields{
		"function": "dispatch",
		"command":  msg.Tag.String(),
		"user":     s.user,
	}).Debug("Handling command")

	if r.needsAuth && !s.authorized(msg) {
		return s.reply(protocol.Errorf(protocol.ResLoginNeeded, "Please log in first"))
	}
	return r.handle(s, msg)
}

// authorized reports whether msg may run a protected command. With
// authentication disabled everything is allowed; otherwise the request must
// carry a token issued to the logged-in user.
func (s *session) authorized(msg protocol.Message) bool {
	if s.srv.authority == nil {
		return true
	}
	if s.user == "" {
		return false
	}
	token := msg.StringValue(protocol.KeyAuthToken)
	if token == "" {
		return false
	}
	subject, err := s.srv.authority.VerifyToken(token)
	if err != nil || subject != s.user {
		logging.NewLogger("server", "authorized").
			WithFields(logging.SecureFieldHash([]byte(token), "token")).
			WithField("session", s.id).
			WithError(err, "verify token").
			Warn("Rejected token")
		return false
	}
	return true
}

// reply sends msg and records it as the response to the current request. A
// response that cannot be encoded or exceeds the frame limit is replaced by
// ERROR so the session stays usable; only connection failures are returned.
func (s *session) reply(msg protocol.Message) error {
	err := s.conn.WriteMessage(msg)
	if err != nil && !transport.IsFatal(err) {
		s.log.WithFields(logrus.Fields{
			"function": "reply",
			"response": msg.Tag.String(),
			"error":    err.Error(),
		}).Warn("Response could not be sent, replying with ERROR")
		msg = protocol.Errorf(protocol.ResError, "Response could not be sent: %v", err)
		err = s.conn.WriteMessage(msg)
	}
	if err != nil {
		return err
	}
	s.srv.stats.ObserveResponse(msg.Tag, time.Since(s.started))
	return nil
}

// resolve maps the request's REL_PATH onto the root.
func (s *session) resolve(msg protocol.Message) (string, relpath.RelativePath, error) {
	rp, ok := msg.Path(protocol.KeyRelPath)
	if !ok {
		return "", relpath.RelativePath{}, errMissingPath
	}
	full, err := relpath.ResolvePath(s.srv.root, rp)
	if err != nil {
		return "", rp, err
	}
	return full, rp, nil
}

// invalidArgs answers a request whose path was missing or escaped the root.
func (s *session) invalidArgs(err error) error {
	return s.reply(protocol.Errorf(protocol.ResInvalidArgs, "Invalid arguments: %v", err))
}
