// Package relpath implements the root-relative path model shared by the rfm
// client and server.
//
// A RelativePath identifies a filesystem entry relative to a fixed root
// without assuming the root exists when the value is built. Directories carry
// an empty Name; files carry their leaf name together with size and
// modification time metadata that would otherwise be lost once the absolute
// path is stripped.
//
// Example:
//
//	cwd := relpath.Root()
//	notes := cwd.Join("notes")
//	entries, err := relpath.ListEntries(serverRoot, notes, false)
package relpath

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// RootLocation is the Location of the root directory itself.
const RootLocation = "."

// RelativePath is an immutable, root-relative path with cached file metadata.
type RelativePath struct {
	// Location is the directory component, slash separated, "." for the root.
	Location string
	// Name is the leaf file name; empty if and only if the entry is a directory.
	Name string
	// Size is the file size in bytes. Always zero for directories.
	Size int64
	// ModTime is the file modification time. Always zero for directories.
	ModTime time.Time
}

// Key is the comparable identity of a RelativePath. It deliberately omits
// ModTime, which is display-only.
type Key struct {
	Location string
	Name     string
	Size     int64
}

// Root returns the path denoting the root directory.
func Root() RelativePath {
	return RelativePath{Location: RootLocation}
}

// New builds a RelativePath from its parts. A non-empty name makes it a file.
func New(location, name string, size int64) RelativePath {
	rp := RelativePath{Location: cleanLocation(location), Name: name}
	if name != "" {
		rp.Size = size
	}
	return rp
}

// Dir builds a directory RelativePath from a slash or OS separated location.
func Dir(location string) RelativePath {
	return RelativePath{Location: cleanLocation(location)}
}

// FromEntry builds a RelativePath for an existing filesystem entry. The
// location is computed relative to root; an entry that is not under root falls
// back to the root location so the value can never point outside it.
func FromEntry(root, fullPath string) (RelativePath, error) {
	info, err := os.Stat(fullPath)
	if err != nil {
		return RelativePath{}, err
	}
	return fromInfo(root, fullPath, info), nil
}

func fromInfo(root, fullPath string, info os.FileInfo) RelativePath {
	rel, ok := relativeTo(filepath.Clean(root), filepath.Clean(fullPath))

	if info.IsDir() {
		if !ok {
			return Root()
		}
		return RelativePath{Location: cleanLocation(rel)}
	}

	location := RootLocation
	if ok {
		location = cleanLocation(path.Dir(filepath.ToSlash(rel)))
	}
	return RelativePath{
		Location: location,
		Name:     info.Name(),
		Size:     info.Size(),
		ModTime:  info.ModTime(),
	}
}

// IsDir reports whether the path denotes a directory.
func (r RelativePath) IsDir() bool {
	return r.Name == ""
}

// IsFile reports whether the path denotes a file.
func (r RelativePath) IsFile() bool {
	return r.Name != ""
}

// Path returns the slash-separated root-relative path of the entry.
func (r RelativePath) Path() string {
	loc := r.Location
	if loc == "" {
		loc = RootLocation
	}
	if r.Name == "" {
		return loc
	}
	return path.Join(loc, r.Name)
}

// IsRoot reports whether the path denotes the root directory.
func (r RelativePath) IsRoot() bool {
	return r.IsDir() && cleanLocation(r.Location) == RootLocation
}

// Join appends a slash separated segment and returns the resulting directory
// path. Segments are cleaned, so ".." moves up; containment is enforced later
// by Resolve.
func (r RelativePath) Join(segment string) RelativePath {
	return RelativePath{Location: cleanLocation(path.Join(r.Path(), filepath.ToSlash(segment)))}
}

// JoinPath appends other's location and inherits its name and metadata.
func (r RelativePath) JoinPath(other RelativePath) RelativePath {
	return RelativePath{
		Location: cleanLocation(path.Join(r.Path(), other.Location)),
		Name:     other.Name,
		Size:     other.Size,
		ModTime:  other.ModTime,
	}
}

// Parent returns the directory one level up. The parent of a file is the
// directory holding it; the root is its own parent.
func (r RelativePath) Parent() RelativePath {
	if r.IsFile() {
		return Dir(r.Location)
	}
	loc := cleanLocation(r.Location)
	if loc == RootLocation || loc == "/" {
		return Dir(loc)
	}
	return Dir(path.Dir(loc))
}

// Key returns the comparable identity of the path.
func (r RelativePath) Key() Key {
	return Key{Location: cleanLocation(r.Location), Name: r.Name, Size: r.Size}
}

// Equal compares location, name and size. ModTime is ignored.
func (r RelativePath) Equal(other RelativePath) bool {
	return r.Key() == other.Key()
}

// DisplayName returns the leaf name for files and the last location element
// for directories.
func (r RelativePath) DisplayName() string {
	if r.IsFile() {
		return r.Name
	}
	return path.Base(cleanLocation(r.Location))
}

// HumanSize returns the size with a binary unit, e.g. "512 B" or "1.50 KB".
func (r RelativePath) HumanSize() string {
	return FormatBytes(r.Size)
}

// TimeString formats the modification time, or returns "" for directories.
func (r RelativePath) TimeString() string {
	if r.ModTime.IsZero() {
		return ""
	}
	return r.ModTime.Local().Format("2006-01-02 15:04")
}

func (r RelativePath) String() string {
	if r.IsDir() {
		return r.Path() + "\t<DIR>"
	}
	return r.Name + "\t" + r.HumanSize()
}

// FormatBytes renders n with B/KB/MB/GB/TB units using 1024 scaling. Bytes are
// printed without decimals, larger units with two.
func FormatBytes(n int64) string {
	if n == 0 {
		return "0 B"
	}
	units := []string{"B", "KB", "MB", "GB", "TB"}
	size := float64(n)
	unit := 0
	for size >= 1024 && unit < len(units)-1 {
		size /= 1024
		unit++
	}
	if unit == 0 {
		return fmt.Sprintf("%d %s", n, units[0])
	}
	return fmt.Sprintf("%.2f %s", size, units[unit])
}

func cleanLocation(location string) string {
	if location == "" {
		return RootLocation
	}
	return path.Clean(filepath.ToSlash(location))
}

// relativeTo returns target relative to root and whether target lies inside it.
func relativeTo(root, target string) (string, bool) {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return "", false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}
