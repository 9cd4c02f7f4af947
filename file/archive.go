package file

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rfm/relpath"
)

var (
	// ErrNoFilesSelected indicates that none of the selected paths yielded a
	// file to transfer.
	ErrNoFilesSelected = errors.New("no files selected")
	// ErrDirectoryTraversal indicates an archive entry that would be
	// extracted outside the destination directory.
	ErrDirectoryTraversal = errors.New("path contains directory traversal")
	// ErrInvalidCompressLevel indicates a level outside 0..MaxCompressLevel.
	ErrInvalidCompressLevel = errors.New("invalid compression level")
)

// MaxCompressLevel is the highest accepted compression level. Level 0 stores
// entries without compression.
const MaxCompressLevel = 7

// Source is one local path selected for an archive transfer. Name is the
// entry name inside the archive, which may differ from the base name of Path
// when the user renamed it to avoid a conflict.
type Source struct {
	Path string
	Name string
}

// ArchivePlan summarises what Pack would write.
type ArchivePlan struct {
	Files int
	// Total is the sum of uncompressed sizes, an estimate of the stream size.
	Total int64
}

type archiveEntry struct {
	path string
	name string
	info fs.FileInfo
}

// collect expands sources into regular files, skipping missing paths and
// yielding nothing for empty directories.
func collect(sources []Source) ([]archiveEntry, error) {
	var entries []archiveEntry
	for _, src := range sources {
		name := strings.Trim(filepath.ToSlash(src.Name), "/")
		if name == "" {
			name = filepath.Base(src.Path)
		}

		info, err := os.Stat(src.Path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				logrus.WithFields(logrus.Fields{
					"function": "collect",
					"path":     src.Path,
				}).Debug("Skipping missing source")
				continue
			}
			return nil, err
		}

		if !info.IsDir() {
			if info.Mode().IsRegular() {
				entries = append(entries, archiveEntry{path: src.Path, name: name, info: info})
			}
			continue
		}

		err = filepath.WalkDir(src.Path, func(p string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				if errors.Is(walkErr, fs.ErrNotExist) {
					return nil
				}
				return walkErr
			}
			if d.IsDir() {
				return nil
			}
			fi, err := d.Info()
			if err != nil || !fi.Mode().IsRegular() {
				return nil
			}
			rel, err := filepath.Rel(src.Path, p)
			if err != nil {
				return err
			}
			entries = append(entries, archiveEntry{
				path: p,
				name: path.Join(name, filepath.ToSlash(rel)),
				info: fi,
			})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// PlanArchive reports how many files Pack would include and their total
// uncompressed size. It returns ErrNoFilesSelected when nothing qualifies.
func PlanArchive(sources []Source) (ArchivePlan, error) {
	entries, err := collect(sources)
	if err != nil {
		return ArchivePlan{}, err
	}
	if len(entries) == 0 {
		return ArchivePlan{}, ErrNoFilesSelected
	}

	plan := ArchivePlan{Files: len(entries)}
	for _, e := range entries {
		plan.Total += e.info.Size()
	}
	return plan, nil
}

// ValidateCompressLevel accepts 0..MaxCompressLevel.
func ValidateCompressLevel(level int) error {
	if level < 0 || level > MaxCompressLevel {
		return fmt.Errorf("%w: %d", ErrInvalidCompressLevel, level)
	}
	return nil
}

// Pack writes a zip archive of sources to w at the given compression level.
// Files that disappear between planning and packing are skipped.
func Pack(w io.Writer, sources []Source, level int) error {
	if err := ValidateCompressLevel(level); err != nil {
		return err
	}

	entries, err := collect(sources)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return ErrNoFilesSelected
	}

	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, level)
	})

	method := zip.Deflate
	if level == 0 {
		method = zip.Store
	}

	for _, e := range entries {
		if err := addEntry(zw, e, method); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return zw.Close()
}

func addEntry(zw *zip.Writer, e archiveEntry, method uint16) error {
	f, err := os.Open(e.path)
	if err != nil {
		return err
	}
	defer f.Close()

	header, err := zip.FileInfoHeader(e.info)
	if err != nil {
		return err
	}
	header.Name = e.name
	header.Method = method

	out, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, f); err != nil {
		return fmt.Errorf("pack %s: %w", e.name, err)
	}
	return nil
}

// StreamArchive packs sources on a goroutine and returns the archive as a
// reader. A packing failure surfaces as a read error, which makes the sender
// abort the transfer.
func StreamArchive(sources []Source, level int) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(Pack(pw, sources, level))
	}()
	return pr
}

// ValidatePath checks that an archive entry name is relative and free of
// parent traversal. It returns the cleaned slash-separated name.
func ValidatePath(name string) (string, error) {
	slashed := strings.ReplaceAll(name, `\`, "/")
	if path.IsAbs(slashed) || filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return "", ErrDirectoryTraversal
	}
	cleaned := path.Clean(slashed)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrDirectoryTraversal
	}
	return cleaned, nil
}

// Unpack extracts the zip archive at archivePath into destDir, preserving the
// relative paths stored in it.
func Unpack(archivePath, destDir string) error {
	info, err := os.Stat(destDir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", relpath.ErrNotADirectory, destDir)
	}

	zr, err := zip.OpenReader(archivePath)
	if errors.Is(err, zip.ErrInsecurePath) {
		if zr != nil {
			zr.Close()
		}
		return ErrDirectoryTraversal
	}
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer zr.Close()
	zr.RegisterDecompressor(zip.Deflate, func(r io.Reader) io.ReadCloser {
		return flate.NewReader(r)
	})

	for _, f := range zr.File {
		name, err := ValidatePath(f.Name)
		if err != nil {
			return fmt.Errorf("%w: %q", err, f.Name)
		}
		target, err := relpath.Resolve(destDir, name)
		if err != nil {
			return fmt.Errorf("%w: %q", ErrDirectoryTraversal, f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := extractFile(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("extract %s: %w", f.Name, err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	if !f.Modified.IsZero() {
		_ = os.Chtimes(target, f.Modified, f.Modified)
	}
	return nil
}
