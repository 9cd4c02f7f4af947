package server

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rfm/protocol"
	"github.com/opd-ai/rfm/relpath"
)

// handleVerifyResource checks a path against the EXISTS and IS_DIR flags.
// EXISTS=false asks that nothing be there yet; otherwise the path must
// exist and, when IS_DIR is present, have the requested type.
func (s *session) handleVerifyResource(msg protocol.Message) error {
	full, rp, err := s.resolve(msg)
	if err != nil {
		return s.invalidArgs(err)
	}

	mustExist := !msg.Has(protocol.KeyExists) || msg.Bool(protocol.KeyExists)
	info, statErr := os.Stat(full)
	if statErr != nil && !errors.Is(statErr, fs.ErrNotExist) {
		return s.fsError("verify", rp, statErr)
	}
	exists := statErr == nil

	switch {
	case !mustExist && exists:
		return s.reply(protocol.Errorf(protocol.ResExists, "%s already exists", rp.Path()))
	case !mustExist:
		return s.reply(protocol.Response(protocol.ResOK))
	case !exists:
		return s.reply(protocol.Errorf(protocol.ResFileNotFound, "%s does not exist", rp.Path()))
	case msg.Has(protocol.KeyIsDir) && msg.Bool(protocol.KeyIsDir) && !info.IsDir():
		return s.reply(protocol.Errorf(protocol.ResDirectoryNeeded, "%s is not a directory", rp.Path()))
	case msg.Has(protocol.KeyIsDir) && !msg.Bool(protocol.KeyIsDir) && info.IsDir():
		return s.reply(protocol.Errorf(protocol.ResFileNeeded, "%s is not a file", rp.Path()))
	}
	return s.reply(protocol.Response(protocol.ResOK))
}

func (s *session) handleVerifyPassword(msg protocol.Message) error {
	if s.srv.authority == nil {
		return s.reply(protocol.Errorf(protocol.ResOK, "Authentication is disabled"))
	}

	user := msg.StringValue(protocol.KeyUsername)
	pass := msg.StringValue(protocol.KeyPassword)
	if user == "" || pass == "" {
		return s.reply(protocol.Errorf(protocol.ResAuthFailed, "Username and password are required"))
	}

	ok, err := s.srv.authority.VerifyCredentials(s.ctx, user, pass)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"function": "handleVerifyPassword",
			"error":    err.Error(),
		}).Error("Credential check failed")
		return s.reply(protocol.Errorf(protocol.ResServerNotReady, "Authentication is unavailable, try again later"))
	}
	if !ok {
		s.user = ""
		return s.reply(protocol.Response(protocol.ResAuthFailed))
	}

	token, err := s.srv.authority.IssueToken(user)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"function": "handleVerifyPassword",
			"error":    err.Error(),
		}).Error("Token issue failed")
		return s.reply(protocol.Errorf(protocol.ResServerNotReady, "Authentication is unavailable, try again later"))
	}

	s.user = user
	s.log = s.log.WithField("user", user)
	s.log.WithField("function", "handleVerifyPassword").Info("User logged in")
	return s.reply(protocol.Errorf(protocol.ResOK, "Logged in as %s", user).
		With(protocol.KeyAuthToken, token))
}

func (s *session) handleLogout(protocol.Message) error {
	s.user = ""
	if err := s.reply(protocol.Errorf(protocol.ResDisconnect, "Disconnecting from server")); err != nil {
		return err
	}
	return errSessionEnded
}

func (s *session) handleHelp(protocol.Message) error {
	return s.reply(protocol.New(protocol.ResOK).With(protocol.KeyMsg, protocol.HelpText()))
}

func (s *session) handleDir(msg protocol.Message) error {
	return s.list(msg, false)
}

func (s *session) handleTree(msg protocol.Message) error {
	return s.list(msg, true)
}

// list answers DIR and TREE. A request without REL_PATH lists the root.
func (s *session) list(msg protocol.Message, recursive bool) error {
	dir, ok := msg.Path(protocol.KeyRelPath)
	if !ok {
		dir = relpath.Root()
	}

	entries, err := relpath.ListEntries(s.srv.root, dir, recursive)
	switch {
	case errors.Is(err, relpath.ErrPathEscapesRoot):
		return s.invalidArgs(err)
	case errors.Is(err, relpath.ErrNotFound):
		return s.reply(protocol.Errorf(protocol.ResFileNotFound, "%s does not exist", dir.Path()))
	case errors.Is(err, relpath.ErrNotADirectory):
		return s.reply(protocol.Errorf(protocol.ResDirectoryNeeded, "%s is not a directory", dir.Path()))
	case err != nil:
		return s.fsError("list", dir, err)
	}

	return s.reply(protocol.Response(protocol.ResOK).With(protocol.KeyRelPaths, entries))
}

// handleCD validates the target directory and returns its canonical path;
// the cursor itself lives on the client.
func (s *session) handleCD(msg protocol.Message) error {
	full, rp, err := s.resolve(msg)
	if err != nil {
		return s.invalidArgs(err)
	}

	info, err := os.Stat(full)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s.reply(protocol.Errorf(protocol.ResFileNotFound, "%s does not exist", rp.Path()))
	case err != nil:
		return s.fsError("cd", rp, err)
	case !info.IsDir():
		return s.reply(protocol.Errorf(protocol.ResDirectoryNeeded, "%s is not a directory", rp.Path()))
	}

	canonical, err := relpath.FromEntry(s.srv.root, full)
	if err != nil {
		return s.fsError("cd", rp, err)
	}
	return s.reply(protocol.Response(protocol.ResOK).With(protocol.KeyRelPath, canonical))
}

func (s *session) handleMkdir(msg protocol.Message) error {
	full, rp, err := s.resolve(msg)
	if err != nil {
		return s.invalidArgs(err)
	}

	if _, err := os.Lstat(full); err == nil {
		return s.reply(protocol.Errorf(protocol.ResExists, "%s already exists", rp.Path()))
	}
	if err := os.MkdirAll(full, 0o755); err != nil {
		return s.fsError("mkdir", rp, err)
	}

	s.log.WithFields(logrus.Fields{
		"function": "handleMkdir",
		"path":     rp.Path(),
	}).Info("Directory created")
	return s.reply(protocol.Errorf(protocol.ResOK, "Created %s", rp.Path()))
}

func (s *session) handleRmdir(msg protocol.Message) error {
	full, rp, err := s.resolve(msg)
	if err != nil {
		return s.invalidArgs(err)
	}
	if full == filepath.Clean(s.srv.root) {
		return s.reply(protocol.Errorf(protocol.ResInvalidArgs, "The root directory cannot be removed"))
	}

	info, err := os.Lstat(full)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s.reply(protocol.Errorf(protocol.ResFileNotFound, "%s does not exist", rp.Path()))
	case err != nil:
		return s.fsError("rmdir", rp, err)
	case !info.IsDir():
		return s.reply(protocol.Errorf(protocol.ResDirectoryNeeded, "%s is not a directory", rp.Path()))
	}

	if err := os.RemoveAll(full); err != nil {
		return s.fsError("rmdir", rp, err)
	}

	s.log.WithFields(logrus.Fields{
		"function": "handleRmdir",
		"path":     rp.Path(),
	}).Info("Directory removed")
	return s.reply(protocol.Errorf(protocol.ResOK, "Removed %s", rp.Path()))
}

func (s *session) handleDelete(msg protocol.Message) error {
	full, rp, err := s.resolve(msg)
	if err != nil {
		return s.invalidArgs(err)
	}

	info, err := os.Lstat(full)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s.reply(protocol.Errorf(protocol.ResFileNotFound, "%s does not exist", rp.Path()))
	case err != nil:
		return s.fsError("delete", rp, err)
	case info.IsDir():
		return s.reply(protocol.Errorf(protocol.ResFileNeeded, "%s is a directory", rp.Path()))
	}

	if err := os.Remove(full); err != nil {
		return s.fsError("delete", rp, err)
	}

	s.log.WithFields(logrus.Fields{
		"function": "handleDelete",
		"path":     rp.Path(),
	}).Info("File deleted")
	return s.reply(protocol.Errorf(protocol.ResOK, "Deleted %s", rp.Path()))
}

func (s *session) handleStats(protocol.Message) error {
	return s.reply(protocol.Response(protocol.ResOK).With(protocol.KeyStats, s.srv.stats.Snapshot()))
}

// fsError reports an unexpected filesystem failure as ERROR.
func (s *session) fsError(op string, rp relpath.RelativePath, err error) error {
	s.log.WithFields(logrus.Fields{
		"function": "fsError",
		"op":       op,
		"path":     rp.Path(),
		"error":    err.Error(),
	}).Error("Filesystem operation failed")
	return s.reply(protocol.Errorf(protocol.ResError, "%s %s failed", op, rp.Path()))
}
