package file

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/rfm/relpath"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	require.NoError(t, filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		require.NoError(t, err)
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		require.NoError(t, err)
		data, err := os.ReadFile(p)
		require.NoError(t, err)
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	}))
	return out
}

func TestPlanArchive(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"a.txt":         "12345",
		"docs/b.txt":    "123",
		"docs/in/c.txt": "1",
	})
	require.NoError(t, os.Mkdir(filepath.Join(src, "empty"), 0o755))

	plan, err := PlanArchive([]Source{
		{Path: filepath.Join(src, "a.txt"), Name: "a.txt"},
		{Path: filepath.Join(src, "docs"), Name: "docs"},
		{Path: filepath.Join(src, "missing"), Name: "missing"},
		{Path: filepath.Join(src, "empty"), Name: "empty"},
	})
	require.NoError(t, err)
	assert.Equal(t, ArchivePlan{Files: 3, Total: 9}, plan)

	_, err = PlanArchive([]Source{
		{Path: filepath.Join(src, "missing")},
		{Path: filepath.Join(src, "empty")},
	})
	assert.ErrorIs(t, err, ErrNoFilesSelected)

	_, err = PlanArchive(nil)
	assert.ErrorIs(t, err, ErrNoFilesSelected)
}

func TestPackUnpackRoundTrip(t *testing.T) {
	for _, level := range []int{0, 1, MaxCompressLevel} {
		src := t.TempDir()
		writeTree(t, src, map[string]string{
			"report.txt":        "quarterly numbers",
			"photos/a.jpg":      string(bytes.Repeat([]byte{0xff, 0xd8}, 5000)),
			"photos/2024/b.jpg": "b",
		})

		var archive bytes.Buffer
		require.NoError(t, Pack(&archive, []Source{
			{Path: filepath.Join(src, "report.txt"), Name: "renamed.txt"},
			{Path: filepath.Join(src, "photos"), Name: "photos"},
		}, level))

		archivePath := filepath.Join(t.TempDir(), "out.zip")
		require.NoError(t, os.WriteFile(archivePath, archive.Bytes(), 0o644))

		dest := t.TempDir()
		require.NoError(t, Unpack(archivePath, dest))
		assert.Equal(t, map[string]string{
			"renamed.txt":       "quarterly numbers",
			"photos/a.jpg":      string(bytes.Repeat([]byte{0xff, 0xd8}, 5000)),
			"photos/2024/b.jpg": "b",
		}, readTree(t, dest), "level %d", level)
	}
}

func TestPackRejectsBadLevel(t *testing.T) {
	assert.ErrorIs(t, Pack(io.Discard, nil, 8), ErrInvalidCompressLevel)
	assert.ErrorIs(t, Pack(io.Discard, nil, -1), ErrInvalidCompressLevel)
	assert.ErrorIs(t, Pack(io.Discard, nil, 3), ErrNoFilesSelected)
}

func TestUnpackRejectsZipSlip(t *testing.T) {
	for _, name := range []string{"../evil.txt", "a/../../evil.txt", "/etc/evil"} {
		var buf bytes.Buffer
		zw := zip.NewWriter(&buf)
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte("pwned"))
		require.NoError(t, err)
		require.NoError(t, zw.Close())

		archivePath := filepath.Join(t.TempDir(), "evil.zip")
		require.NoError(t, os.WriteFile(archivePath, buf.Bytes(), 0o644))

		parent := t.TempDir()
		dest := filepath.Join(parent, "dest")
		require.NoError(t, os.Mkdir(dest, 0o755))

		err = Unpack(archivePath, dest)
		assert.ErrorIs(t, err, ErrDirectoryTraversal, name)
		_, statErr := os.Stat(filepath.Join(parent, "evil.txt"))
		assert.True(t, os.IsNotExist(statErr), name)
	}
}

func TestUnpackNeedsDirectory(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(dest, nil, 0o644))
	assert.ErrorIs(t, Unpack("whatever.zip", dest), relpath.ErrNotADirectory)
}

func TestValidatePath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"a/b.txt", "a/b.txt", false},
		{"a/./b/../c", "a/c", false},
		{`dir\file`, "dir/file", false},
		{"..", "", true},
		{"../x", "", true},
		{`..\x`, "", true},
		{"/abs", "", true},
	}
	for _, tt := range tests {
		got, err := ValidatePath(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrDirectoryTraversal, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestStreamArchiveOverTransfer(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{"x/1.txt": "one", "x/2.txt": "two"})
	sources := []Source{{Path: filepath.Join(src, "x"), Name: "x"}}

	plan, err := PlanArchive(sources)
	require.NoError(t, err)

	stream := StreamArchive(sources, 5)
	defer stream.Close()

	var wire bytes.Buffer
	_, err = Send(&wire, stream, plan.Total, ModeArchive, nil)
	require.NoError(t, err)

	dest := t.TempDir()
	require.NoError(t, ReceiveArchive(&wire, dest, plan.Total, nil))
	assert.Equal(t, map[string]string{"x/1.txt": "one", "x/2.txt": "two"}, readTree(t, dest))
}

func TestStreamArchiveFailureAbortsTransfer(t *testing.T) {
	stream := StreamArchive([]Source{{Path: filepath.Join(t.TempDir(), "gone")}}, 1)
	defer stream.Close()

	var wire bytes.Buffer
	_, err := Send(&wire, stream, 0, ModeArchive, nil)
	assert.ErrorIs(t, err, ErrNoFilesSelected)

	dest := t.TempDir()
	err = ReceiveArchive(&wire, dest, 0, nil)
	assert.ErrorIs(t, err, ErrTransferAborted)
	assert.Empty(t, readTree(t, dest), "spool file must be removed")
}
