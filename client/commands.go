package client

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rfm/file"
	"github.com/opd-ai/rfm/limits"
	"github.com/opd-ai/rfm/protocol"
	"github.com/opd-ai/rfm/relpath"
	"github.com/opd-ai/rfm/transport"
)

// errQuit ends Run without an error when the user gives up.
var errQuit = errors.New("user quit")

// authenticate prompts until the server accepts the credentials. If the UI
// stops answering the client logs out and returns errQuit.
func (c *Client) authenticate() error {
	c.token = ""
	for {
		user, pass, err := c.ui.PromptCredentials()
		if err != nil {
			if err := c.logout(); err != nil {
				return err
			}
			return errQuit
		}

		resp, err := c.request(protocol.New(protocol.CmdVerifyPassword).
			With(protocol.KeyUsername, user).
			With(protocol.KeyPassword, pass))
		if err != nil {
			return err
		}
		if resp.Tag == protocol.ResOK {
			c.token = resp.StringValue(protocol.KeyAuthToken)
			c.ui.DisplayMessage(resp.Text())
			logrus.WithFields(logrus.Fields{
				"function": "authenticate",
				"username": user,
			}).Info("Logged in")
			return nil
		}
		c.ui.DisplayError(resp.Tag, resp.Text())
	}
}

// failure shows an error response. Authentication problems trigger a new
// login prompt.
func (c *Client) failure(resp protocol.Message) error {
	c.ui.DisplayError(resp.Tag, resp.Text())
	if resp.Tag.IsAuthRelated() {
		return c.authenticate()
	}
	return nil
}

func (c *Client) logout() error {
	resp, err := c.request(protocol.New(protocol.CmdLogout))
	if err != nil {
		if transport.IsClosed(err) {
			return nil
		}
		return err
	}
	c.token = ""
	c.ui.DisplayMessage(resp.Text())
	return nil
}

// remote interprets a user typed path relative to the working directory; a
// leading slash starts from the root.
func (c *Client) remote(arg string) relpath.RelativePath {
	arg = strings.TrimSpace(arg)
	if strings.HasPrefix(arg, "/") {
		return relpath.Root().Join(strings.TrimLeft(arg, "/"))
	}
	return c.cwd.Join(arg)
}

// remoteFile is remote for a path naming a file.
func (c *Client) remoteFile(arg string) relpath.RelativePath {
	location, name := path.Split(c.remote(arg).Path())
	return relpath.New(location, name, 0)
}

func (c *Client) list(recursive bool) error {
	tag := protocol.CmdDir
	if recursive {
		tag = protocol.CmdTree
	}
	resp, err := c.request(protocol.New(tag).With(protocol.KeyRelPath, c.cwd))
	if err != nil {
		return err
	}
	if resp.Tag != protocol.ResOK {
		return c.failure(resp)
	}

	entries := resp.Paths(protocol.KeyRelPaths)
	if len(entries) == 0 {
		c.ui.DisplayMessage("Directory is empty")
		return nil
	}
	c.ui.DisplayListing(entries)
	return nil
}

func (c *Client) changeDir(arg string) error {
	target := relpath.Root()
	if strings.TrimSpace(arg) != "" {
		target = c.remote(arg)
	}

	resp, err := c.request(protocol.New(protocol.CmdCD).With(protocol.KeyRelPath, target))
	if err != nil {
		return err
	}
	if resp.Tag != protocol.ResOK {
		return c.failure(resp)
	}

	if canonical, ok := resp.Path(protocol.KeyRelPath); ok {
		target = canonical
	}
	c.cwd = target
	return nil
}

// simple runs a single request on a directory named by arg (MKDIR, RMDIR).
func (c *Client) simple(tag protocol.Tag, arg string) error {
	if strings.TrimSpace(arg) == "" {
		c.ui.DisplayError(protocol.ResInvalidArgs, fmt.Sprintf("Usage: %s <directory>", strings.ToLower(tag.String())))
		return nil
	}
	resp, err := c.request(protocol.New(tag).With(protocol.KeyRelPath, c.remote(arg)))
	if err != nil {
		return err
	}
	if resp.Tag != protocol.ResOK {
		return c.failure(resp)
	}
	c.ui.DisplayMessage(resp.Text())
	return nil
}

func (c *Client) delete(arg string) error {
	var targets []relpath.RelativePath
	if strings.TrimSpace(arg) != "" {
		targets = []relpath.RelativePath{c.remoteFile(arg)}
	} else {
		var err error
		if targets, err = c.ui.SelectRemoteTargets(c.cwd); err != nil {
			return err
		}
	}
	if len(targets) == 0 {
		c.ui.DisplayError(protocol.ResNoFilesSelected, protocol.ResNoFilesSelected.Description())
		return nil
	}

	for _, target := range targets {
		resp, err := c.request(protocol.New(protocol.CmdDelete).With(protocol.KeyRelPath, target))
		if err != nil {
			return err
		}
		if resp.Tag != protocol.ResOK {
			if err := c.failure(resp); err != nil {
				return err
			}
			continue
		}
		c.ui.DisplayMessage(resp.Text())
	}
	return nil
}

func (c *Client) stats() error {
	resp, err := c.request(protocol.New(protocol.CmdStats))
	if err != nil {
		return err
	}
	if resp.Tag != protocol.ResOK {
		return c.failure(resp)
	}
	c.ui.DisplayStats(resp.Stats(protocol.KeyStats))
	return nil
}

// upload sends the sources chosen by the user into the working directory.
// One regular file goes as an exact byte stream; anything else is archived.
func (c *Client) upload() error {
	sources, err := c.ui.SelectLocalSources()
	if err != nil {
		return err
	}
	if !c.hasFiles(sources) {
		c.ui.DisplayError(protocol.ResNoFilesSelected, protocol.ResNoFilesSelected.Description())
		return nil
	}
	accepted, err := c.resolveConflicts(sources)
	if err != nil {
		return err
	}
	if len(accepted) == 0 {
		c.ui.DisplayError(protocol.ResNoFilesSelected, protocol.ResNoFilesSelected.Description())
		return nil
	}

	if len(accepted) == 1 {
		if info, err := os.Stat(accepted[0].Path); err == nil && info.Mode().IsRegular() {
			return c.uploadFile(accepted[0])
		}
	}
	return c.uploadArchive(accepted)
}

// hasFiles reports whether sources hold at least one existing file, without
// touching the network.
func (c *Client) hasFiles(sources []LocalSource) bool {
	planned := make([]file.Source, len(sources))
	for i, src := range sources {
		planned[i] = file.Source{Path: src.Path, Name: filepath.Base(src.Path)}
	}
	plan, err := file.PlanArchive(planned)
	return err == nil && plan.Files > 0
}

// resolveConflicts checks every name against the working directory and asks
// for a new name while one is taken. Skipped sources are dropped.
func (c *Client) resolveConflicts(sources []LocalSource) ([]LocalSource, error) {
	accepted := make([]LocalSource, 0, len(sources))
	for _, src := range sources {
		name := src.Name
		if name == "" {
			name = filepath.Base(src.Path)
		}

		for name != "" {
			if err := limits.ValidateFileName(name); err != nil {
				c.ui.DisplayError(protocol.ResInvalidArgs, fmt.Sprintf("%q is not a valid name", name))
				renamed, err := c.ui.RenameTarget(name)
				if err != nil {
					return nil, err
				}
				name = renamed
				continue
			}

			resp, err := c.request(protocol.New(protocol.CmdVerifyResource).
				With(protocol.KeyRelPath, relpath.New(c.cwd.Path(), name, 0)).
				With(protocol.KeyExists, false))
			if err != nil {
				return nil, err
			}

			switch {
			case resp.Tag == protocol.ResOK:
				accepted = append(accepted, LocalSource{Path: src.Path, Name: name})
				name = ""
			case resp.Tag == protocol.ResExists:
				c.ui.DisplayError(resp.Tag, resp.Text())
				renamed, err := c.ui.RenameTarget(name)
				if err != nil {
					return nil, err
				}
				name = renamed
			case resp.Tag.IsAuthRelated():
				if err := c.failure(resp); err != nil {
					return nil, err
				}
			default:
				if err := c.failure(resp); err != nil {
					return nil, err
				}
				name = ""
			}
		}
	}
	return accepted, nil
}

func (c *Client) uploadFile(src LocalSource) error {
	f, err := os.Open(src.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	resp, err := c.request(protocol.New(protocol.CmdUpload).
		With(protocol.KeyRelPath, c.cwd).
		With(protocol.KeyFileName, src.Name).
		With(protocol.KeyBytes, info.Size()))
	if err != nil {
		return err
	}
	if resp.Tag != protocol.ResOK {
		return c.failure(resp)
	}

	_, sendErr := file.Send(c.conn, f, info.Size(), file.ModeExact, c.ui.ReportProgress)
	return c.confirm(sendErr)
}

func (c *Client) uploadArchive(accepted []LocalSource) error {
	sources := make([]file.Source, len(accepted))
	for i, src := range accepted {
		sources[i] = file.Source{Path: src.Path, Name: src.Name}
	}

	plan, err := file.PlanArchive(sources)
	if errors.Is(err, file.ErrNoFilesSelected) {
		c.ui.DisplayError(protocol.ResNoFilesSelected, protocol.ResNoFilesSelected.Description())
		return nil
	}
	if err != nil {
		return err
	}

	resp, err := c.request(protocol.New(protocol.CmdUpload).
		With(protocol.KeyRelPath, c.cwd).
		With(protocol.KeyBytes, plan.Total).
		With(protocol.KeyArchive, true))
	if err != nil {
		return err
	}
	if resp.Tag != protocol.ResOK {
		return c.failure(resp)
	}

	stream := file.StreamArchive(sources, c.opts.CompressLevel)
	defer stream.Close()
	_, sendErr := file.Send(c.conn, stream, plan.Total, file.ModeArchive, c.ui.ReportProgress)
	return c.confirm(sendErr)
}

// confirm reads the server's verdict after an upload stream.
func (c *Client) confirm(sendErr error) error {
	if file.IsFatal(sendErr) {
		return sendErr
	}
	if sendErr != nil {
		c.ui.DisplayError(protocol.ResError, sendErr.Error())
	}

	resp, err := c.conn.ReadMessage()
	if err != nil {
		return err
	}
	if resp.Tag != protocol.ResOK {
		return c.failure(resp)
	}
	c.ui.DisplayMessage(resp.Text())
	return nil
}

// download fetches the chosen server paths as one archive. The user picks
// the destination after seeing the size; no destination sends CANCEL.
func (c *Client) download(arg string) error {
	var targets []relpath.RelativePath
	if strings.TrimSpace(arg) != "" {
		targets = []relpath.RelativePath{c.remote(arg)}
	} else {
		var err error
		if targets, err = c.ui.SelectRemoteTargets(c.cwd); err != nil {
			return err
		}
	}
	if len(targets) == 0 {
		c.ui.DisplayError(protocol.ResNoFilesSelected, protocol.ResNoFilesSelected.Description())
		return nil
	}

	resp, err := c.request(protocol.New(protocol.CmdDownload).With(protocol.KeyRelPaths, targets))
	if err != nil {
		return err
	}
	if resp.Tag != protocol.ResOK {
		return c.failure(resp)
	}
	approx, _ := resp.Int(protocol.KeyBytes)
	c.ui.DisplayMessage(resp.Text())

	dest, uiErr := c.ui.SelectLocalDestination(approx)
	if uiErr == nil && dest != "" {
		if info, err := os.Stat(dest); err != nil || !info.IsDir() {
			c.ui.DisplayError(protocol.ResDirectoryNeeded, fmt.Sprintf("%s is not a directory", dest))
			dest = ""
		}
	}
	if uiErr != nil || dest == "" {
		if err := c.conn.WriteMessage(protocol.New(protocol.ResCancel)); err != nil {
			return err
		}
		c.ui.DisplayMessage("Download cancelled")
		return uiErr
	}

	if err := c.conn.WriteMessage(protocol.New(protocol.ResOK)); err != nil {
		return err
	}
	if err := file.ReceiveArchive(c.conn, dest, approx, c.ui.ReportProgress); err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	c.ui.DisplayMessage(fmt.Sprintf("Downloaded to %s", dest))
	return nil
}
