package relpath

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"
)

// ErrPathEscapesRoot indicates a client supplied path that would leave the root.
var ErrPathEscapesRoot = errors.New("path escapes root")

// ErrNotADirectory indicates a directory was required but a file was found.
var ErrNotADirectory = errors.New("not a directory")

// ErrNotFound indicates the requested entry does not exist.
var ErrNotFound = errors.New("no such file or directory")

// Resolve joins a client supplied, slash separated candidate onto root and
// returns the resulting OS path. The result is always root or a descendant of
// root: when the naive join would escape (".." climbing out, an absolute
// override, or a symlink leading outside) Resolve returns root together with
// ErrPathEscapesRoot so the caller can reject the request.
func Resolve(root, candidate string) (string, error) {
	cleanRoot := filepath.Clean(root)
	slashed := filepath.ToSlash(candidate)

	if path.IsAbs(slashed) || filepath.IsAbs(candidate) || filepath.VolumeName(candidate) != "" {
		logEscape(cleanRoot, candidate, "absolute path")
		return cleanRoot, ErrPathEscapesRoot
	}

	joined := filepath.Join(cleanRoot, filepath.FromSlash(slashed))
	if _, ok := relativeTo(cleanRoot, joined); !ok {
		logEscape(cleanRoot, candidate, "parent traversal")
		return cleanRoot, ErrPathEscapesRoot
	}

	// Lexically contained; make sure no symlink along the way leads out,
	// including links above entries that do not exist yet.
	realRoot, err := evalExisting(cleanRoot)
	if err != nil {
		realRoot = cleanRoot
	}
	real, err := evalExisting(joined)
	if err != nil {
		logEscape(cleanRoot, candidate, "unresolvable symlink")
		return cleanRoot, ErrPathEscapesRoot
	}
	if _, ok := relativeTo(realRoot, real); !ok {
		logEscape(cleanRoot, candidate, "symlink")
		return cleanRoot, ErrPathEscapesRoot
	}

	return joined, nil
}

// errDanglingLink marks a symlink whose target is missing; creating through
// it would land wherever it points.
var errDanglingLink = errors.New("dangling symlink")

// evalExisting resolves symlinks in the longest existing prefix of p and
// appends the remaining segments unchanged.
func evalExisting(p string) (string, error) {
	var rest []string
	cur := p
	for {
		real, err := filepath.EvalSymlinks(cur)
		if err == nil {
			return filepath.Join(append([]string{real}, rest...)...), nil
		}
		if info, lerr := os.Lstat(cur); lerr == nil {
			if info.Mode()&fs.ModeSymlink != 0 {
				return "", errDanglingLink
			}
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", err
		}
		rest = append([]string{filepath.Base(cur)}, rest...)
		cur = parent
	}
}

// ResolvePath is Resolve applied to a RelativePath.
func ResolvePath(root string, rp RelativePath) (string, error) {
	return Resolve(root, rp.Path())
}

func logEscape(root, candidate, reason string) {
	logrus.WithFields(logrus.Fields{
		"function":  "Resolve",
		"root":      root,
		"candidate": candidate,
		"reason":    reason,
	}).Warn("Rejected path escaping the root")
}

// ListEntries enumerates the direct children of dir, or all of its
// descendants when recursive is set. Entries are sorted by path so repeated
// listings of an unchanged directory are identical.
func ListEntries(root string, dir RelativePath, recursive bool) ([]RelativePath, error) {
	base, err := ResolvePath(root, dir)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(base)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, ErrNotADirectory
	}

	cleanRoot := filepath.Clean(root)
	entries := make([]RelativePath, 0)

	if recursive {
		err = filepath.WalkDir(base, func(p string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				if errors.Is(walkErr, fs.ErrNotExist) {
					return nil
				}
				return walkErr
			}
			if p == base {
				return nil
			}
			if entry, ok := entryFor(cleanRoot, p, d); ok {
				entries = append(entries, entry)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	} else {
		children, err := os.ReadDir(base)
		if err != nil {
			return nil, err
		}
		for _, d := range children {
			if entry, ok := entryFor(cleanRoot, filepath.Join(base, d.Name()), d); ok {
				entries = append(entries, entry)
			}
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Path() < entries[j].Path()
	})
	return entries, nil
}

// entryFor converts a directory entry, skipping entries that vanished between
// the directory read and the stat.
func entryFor(root, fullPath string, d fs.DirEntry) (RelativePath, bool) {
	info, err := os.Stat(fullPath)
	if err != nil {
		if d == nil {
			return RelativePath{}, false
		}
		// Dangling symlinks still show up, described by the link itself.
		info, err = d.Info()
		if err != nil {
			return RelativePath{}, false
		}
	}
	return fromInfo(root, fullPath, info), true
}
