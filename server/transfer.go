package server

import (
	"errors"
	"io/fs"
	"os"
	"path"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rfm/file"
	"github.com/opd-ai/rfm/logging"
	"github.com/opd-ai/rfm/limits"
	"github.com/opd-ai/rfm/protocol"
	"github.com/opd-ai/rfm/relpath"
	"github.com/opd-ai/rfm/transport"
)

// handleUpload receives a file (FILE_NAME, exact mode) or an archive
// (ARCHIVE flag) of BYTES bytes into the REL_PATH directory. The target is
// checked before OK is sent; after the transfer the result is confirmed with
// OK or UPLOAD_FAILED.
func (s *session) handleUpload(msg protocol.Message) error {
	dir, rp, err := s.resolve(msg)
	if err != nil {
		return s.invalidArgs(err)
	}

	total, ok := msg.Int(protocol.KeyBytes)
	if !ok || total < 0 {
		return s.reply(protocol.Errorf(protocol.ResInvalidArgs, "Upload size is missing"))
	}
	archive := msg.Bool(protocol.KeyArchive)
	name := msg.StringValue(protocol.KeyFileName)
	if !archive {
		if err := limits.ValidateFileName(name); err != nil {
			return s.invalidArgs(err)
		}
	}

	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s.reply(protocol.Errorf(protocol.ResFileNotFound, "%s does not exist", rp.Path()))
	case err != nil:
		return s.fsError("upload", rp, err)
	case !info.IsDir():
		return s.reply(protocol.Errorf(protocol.ResDirectoryNeeded, "%s is not a directory", rp.Path()))
	}

	if err := s.reply(protocol.Errorf(protocol.ResOK, "Ready to receive")); err != nil {
		return err
	}

	mode := file.ModeExact
	if archive {
		mode = file.ModeArchive
	}
	t := file.NewTransfer(file.TransferDirectionIncoming, mode, total)
	if archive {
		err = t.ReceiveArchive(s.conn, dir)
	} else {
		err = t.ReceiveFile(s.conn, dir, name)
	}
	s.srv.stats.ObserveUpload(t.Transferred, t.Elapsed(), err)

	entry := s.log.WithFields(transferFields("upload", t, err, logrus.Fields{
		"function": "handleUpload",
		"dir":      rp.Path(),
		"name":     name,
	}))
	if file.IsFatal(err) {
		return err
	}
	if err != nil {
		entry.WithField("error", err.Error()).Warn("Upload failed")
		return s.reply(protocol.Errorf(protocol.ResUploadFailed, "Upload failed: %v", err))
	}

	entry.Info("Upload complete")
	return s.reply(protocol.Errorf(protocol.ResOK, "File uploaded successfully"))
}

// handleDownload packs REL_PATHS into an archive, offers its approximate size
// and streams it once the client answers OK. CANCEL skips the stream.
func (s *session) handleDownload(msg protocol.Message) error {
	targets := msg.Paths(protocol.KeyRelPaths)
	if rp, ok := msg.Path(protocol.KeyRelPath); ok {
		targets = append(targets, rp)
	}
	if len(targets) == 0 {
		return s.reply(protocol.Response(protocol.ResNoFilesSelected))
	}

	sources := make([]file.Source, 0, len(targets))
	for _, rp := range targets {
		full, err := relpath.ResolvePath(s.srv.root, rp)
		if err != nil {
			return s.invalidArgs(err)
		}
		if _, err := os.Stat(full); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return s.reply(protocol.Errorf(protocol.ResFileNotFound, "%s does not exist", rp.Path()))
			}
			return s.fsError("download", rp, err)
		}
		sources = append(sources, file.Source{Path: full, Name: archiveName(rp)})
	}

	plan, err := file.PlanArchive(sources)
	if errors.Is(err, file.ErrNoFilesSelected) {
		return s.reply(protocol.Response(protocol.ResNoFilesSelected))
	}
	if err != nil {
		return s.fsError("download", targets[0], err)
	}

	offer := protocol.Errorf(protocol.ResOK, "%d files, about %s", plan.Files, relpath.FormatBytes(plan.Total)).
		With(protocol.KeyBytes, plan.Total)
	if err := s.reply(offer); err != nil {
		return err
	}

	fields := logrus.Fields{
		"function": "handleDownload",
		"files":    plan.Files,
		"approx":   plan.Total,
	}

	answer, err := s.conn.ReadMessage()
	if err != nil && !errors.Is(err, transport.ErrMalformedMessage) {
		return err
	}
	if err != nil || answer.Tag != protocol.ResOK {
		s.log.WithFields(logging.OperationFields("download", "cancelled", fields)).
			WithField("answer", answer.Tag.String()).Info("Download cancelled by client")
		return nil
	}

	stream := file.StreamArchive(sources, s.srv.compressLevel)
	defer stream.Close()

	t := file.NewTransfer(file.TransferDirectionOutgoing, file.ModeArchive, plan.Total)
	err = t.Send(s.conn, stream)
	s.srv.stats.ObserveDownload(t.Transferred, t.Elapsed(), err)
	if file.IsFatal(err) {
		return err
	}

	entry := s.log.WithFields(transferFields("download", t, err, fields))
	if err != nil {
		entry.WithField("error", err.Error()).Warn("Download aborted")
		return nil
	}

	entry.Info("Download complete")
	return nil
}

// transferFields describes a finished transfer for the handler log lines.
func transferFields(operation string, t *file.Transfer, err error, extra logrus.Fields) logrus.Fields {
	status := "ok"
	if err != nil {
		status = "failed"
	}
	return logging.OperationFields(operation, status, extra, logrus.Fields{
		"mode":        t.Mode.String(),
		"bytes":       t.Transferred,
		"declared":    t.Total,
		"progress":    t.GetProgress(),
		"elapsed":     t.Elapsed().String(),
		"bytes_per_s": t.GetSpeed(),
	})
}

// archiveName is the entry name a selected path gets inside the archive.
func archiveName(rp relpath.RelativePath) string {
	if rp.IsFile() {
		return rp.Name
	}
	if rp.IsRoot() {
		return ""
	}
	return path.Base(rp.Location)
}
