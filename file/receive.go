package file

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rfm/limits"
	"github.com/opd-ai/rfm/relpath"
)

// tempName returns a hidden, collision-free name for partial data.
func tempName(suffix string) string {
	return ".rfm-" + uuid.NewString() + suffix
}

func checkDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", relpath.ErrNotADirectory, dir)
	}
	return nil
}

// ReceiveFile runs one incoming exact-mode transfer into destDir/name.
func ReceiveFile(r io.Reader, destDir, name string, total int64, onProgress ProgressFunc) error {
	t := NewTransfer(TransferDirectionIncoming, ModeExact, total)
	t.OnProgress(onProgress)
	return t.ReceiveFile(r, destDir, name)
}

// ReceiveArchive runs one incoming archive-mode transfer unpacked into destDir.
func ReceiveArchive(r io.Reader, destDir string, approxTotal int64, onProgress ProgressFunc) error {
	t := NewTransfer(TransferDirectionIncoming, ModeArchive, approxTotal)
	t.OnProgress(onProgress)
	return t.ReceiveArchive(r, destDir)
}

// ReceiveFile receives the stream into destDir/name. Data is written to a
// temporary file that is renamed into place only on success, so readers never
// observe a partial file. If the destination cannot be prepared the stream is
// still drained before the error is returned.
func (t *Transfer) ReceiveFile(r io.Reader, destDir, name string) error {
	prepErr := limits.ValidateFileName(name)
	if prepErr == nil {
		prepErr = checkDir(destDir)
	}

	var tmp *os.File
	if prepErr == nil {
		tmp, prepErr = os.Create(filepath.Join(destDir, tempName(".part")))
	}
	if prepErr != nil {
		if err := t.Receive(r, io.Discard); IsFatal(err) {
			return err
		}
		return prepErr
	}

	tmpPath := tmp.Name()
	err := t.Receive(r, tmp)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmpPath, filepath.Join(destDir, name))
	}
	if err != nil {
		os.Remove(tmpPath)
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "ReceiveFile",
		"dest":     destDir,
		"name":     name,
		"bytes":    t.Total,
	}).Info("File received")
	return nil
}

// ReceiveArchive spools the stream next to destDir and unpacks it there. The
// declared total only drives progress.
func (t *Transfer) ReceiveArchive(r io.Reader, destDir string) error {
	prepErr := checkDir(destDir)

	var spool *os.File
	if prepErr == nil {
		spool, prepErr = os.Create(filepath.Join(destDir, tempName(".zip")))
	}
	if prepErr != nil {
		if err := t.Receive(r, io.Discard); IsFatal(err) {
			return err
		}
		return prepErr
	}

	spoolPath := spool.Name()
	defer os.Remove(spoolPath)

	err := t.Receive(r, spool)
	if closeErr := spool.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	if err := Unpack(spoolPath, destDir); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "ReceiveArchive",
		"dest":     destDir,
		"bytes":    t.Transferred,
	}).Info("Archive received and unpacked")
	return nil
}
