package file

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/rfm/limits"
	"github.com/opd-ai/rfm/relpath"
)

func sendBytes(t *testing.T, data []byte, total int64) *bytes.Buffer {
	t.Helper()
	var wire bytes.Buffer
	_, _ = Send(&wire, bytes.NewReader(data), total, ModeExact, nil)
	wire.WriteString("tail")
	return &wire
}

func TestReceiveFile(t *testing.T) {
	dest := t.TempDir()
	data := randomBytes(t, testFileSize5000)
	wire := sendBytes(t, data, int64(len(data)))

	require.NoError(t, ReceiveFile(wire, dest, "upload.bin", int64(len(data)), nil))

	got, err := os.ReadFile(filepath.Join(dest, "upload.bin"))
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, map[string]string{"upload.bin": string(data)}, readTree(t, dest))
	assert.Equal(t, "tail", wire.String())
}

func TestTransferReceiveFileReportsTiming(t *testing.T) {
	dest := t.TempDir()
	data := randomBytes(t, testFileSize5000)
	wire := sendBytes(t, data, int64(len(data)))

	clock := newMockTimeProvider()
	clock.step = testProgressStep
	tr := NewTransfer(TransferDirectionIncoming, ModeExact, int64(len(data)))
	tr.SetTimeProvider(clock)

	require.NoError(t, tr.ReceiveFile(wire, dest, "timed.bin"))
	assert.Equal(t, TransferStateCompleted, tr.State)
	assert.Equal(t, int64(len(data)), tr.Transferred)
	assert.Equal(t, float64(100), tr.GetProgress())
	assert.Positive(t, tr.Elapsed())
	assert.InDelta(t, float64(len(data))/tr.Elapsed().Seconds(), tr.GetSpeed(), 0.001)
}

func TestReceiveFileFailureLeavesNothing(t *testing.T) {
	dest := t.TempDir()
	wire := sendBytes(t, make([]byte, 10), 20)

	err := ReceiveFile(wire, dest, "partial.bin", 20, nil)
	assert.ErrorIs(t, err, ErrTransferAborted)
	assert.Empty(t, readTree(t, dest))
	assert.Equal(t, "tail", wire.String())
}

func TestReceiveFileBadDestinationDrains(t *testing.T) {
	tests := []struct {
		name    string
		dest    func(t *testing.T) string
		file    string
		wantErr error
	}{
		{"traversal name", func(t *testing.T) string { return t.TempDir() }, "../x", limits.ErrInvalidFileName},
		{"empty name", func(t *testing.T) string { return t.TempDir() }, "", limits.ErrMessageEmpty},
		{"missing dir", func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope") }, "f", relpath.ErrNotADirectory},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire := sendBytes(t, []byte("payload"), 7)
			err := ReceiveFile(wire, tt.dest(t), tt.file, 7, nil)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.False(t, IsFatal(err))
			assert.Equal(t, "tail", wire.String())
		})
	}
}

func TestReceiveArchiveBadDestinationDrains(t *testing.T) {
	var wire bytes.Buffer
	_, err := Send(&wire, bytes.NewReader([]byte("not really a zip")), 16, ModeArchive, nil)
	require.NoError(t, err)
	wire.WriteString("tail")

	err = ReceiveArchive(&wire, filepath.Join(t.TempDir(), "missing"), 16, nil)
	assert.ErrorIs(t, err, relpath.ErrNotADirectory)
	assert.Equal(t, "tail", wire.String())
}

func TestReceiveArchiveCorruptArchive(t *testing.T) {
	var wire bytes.Buffer
	_, err := Send(&wire, bytes.NewReader([]byte("not really a zip")), 16, ModeArchive, nil)
	require.NoError(t, err)

	dest := t.TempDir()
	err = ReceiveArchive(&wire, dest, 16, nil)
	assert.Error(t, err)
	assert.False(t, IsFatal(err))
	assert.Empty(t, readTree(t, dest))
}
