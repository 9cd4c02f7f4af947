package file

import (
	"bytes"
	"encoding/binary"
	"io"
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/rfm/limits"
	"github.com/opd-ai/rfm/transport"
)

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	data := make([]byte, n)
	rand.New(rand.NewSource(int64(n))).Read(data)
	return data
}

func chunkFrame(data []byte) []byte {
	out := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(out, uint32(len(data)))
	copy(out[4:], data)
	return out
}

func marker(m uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], m)
	return b[:]
}

func TestSendReceiveExactIsByteExact(t *testing.T) {
	sizes := []int{0, 1, limits.ChunkSize - 1, limits.ChunkSize, limits.ChunkSize + 1, testFileSize5000, testFileSize1MB}

	for _, size := range sizes {
		data := randomBytes(t, size)
		var wire bytes.Buffer

		sent, err := Send(&wire, bytes.NewReader(data), int64(size), ModeExact, nil)
		require.NoError(t, err, "size %d", size)
		assert.Equal(t, int64(size), sent)

		// every content chunk respects the chunk size
		raw := wire.Bytes()
		for off := 0; ; {
			n := binary.BigEndian.Uint32(raw[off:])
			if n == endMarker {
				assert.Equal(t, len(raw), off+4)
				break
			}
			assert.LessOrEqual(t, int(n), limits.ChunkSize)
			off += 4 + int(n)
		}

		var out bytes.Buffer
		received, err := Receive(&wire, &out, int64(size), ModeExact, nil)
		require.NoError(t, err, "size %d", size)
		assert.Equal(t, int64(size), received)
		assert.Equal(t, data, out.Bytes())
		assert.Zero(t, wire.Len())
	}
}

func TestSendStopsAtDeclaredTotal(t *testing.T) {
	var wire bytes.Buffer
	sent, err := Send(&wire, bytes.NewReader(make([]byte, 3000)), 2000, ModeExact, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), sent)

	var out bytes.Buffer
	_, err = Receive(&wire, &out, 2000, ModeExact, nil)
	require.NoError(t, err)
	assert.Equal(t, 2000, out.Len())
}

func TestProgressCadenceAndCompletion(t *testing.T) {
	data := randomBytes(t, testFileSize5000)
	recorder := &progressRecorder{}

	clock := newMockTimeProvider()
	clock.step = testProgressStep

	tr := NewTransfer(TransferDirectionOutgoing, ModeExact, int64(len(data)))
	tr.SetTimeProvider(clock)
	tr.OnProgress(recorder.record)

	var wire bytes.Buffer
	require.NoError(t, tr.Send(&wire, bytes.NewReader(data)))
	assert.Equal(t, TransferStateCompleted, tr.State)

	assert.Equal(t, []int{20, 40, 61, 81, 99, 100}, recorder.percents)
	for i := 1; i < len(recorder.percents); i++ {
		assert.GreaterOrEqual(t, recorder.percents[i], recorder.percents[i-1])
	}
	for _, total := range recorder.totals {
		assert.Equal(t, int64(testFileSize5000), total)
	}
	// each sample moved ChunkSize bytes in testProgressStep
	assert.InDelta(t, float64(limits.ChunkSize)/testProgressStep.Seconds(), recorder.speeds[0], 0.001)

	var out bytes.Buffer
	rr := &progressRecorder{}
	_, err := Receive(&wire, &out, int64(len(data)), ModeExact, rr.record)
	require.NoError(t, err)
	require.NotEmpty(t, rr.percents)
	assert.Equal(t, 100, rr.percents[len(rr.percents)-1])
	assert.Equal(t, data, out.Bytes())
}

func TestProgressRespectsInterval(t *testing.T) {
	clock := newMockTimeProvider()
	recorder := &progressRecorder{}

	tr := NewTransfer(TransferDirectionOutgoing, ModeExact, 10*limits.ChunkSize)
	tr.SetTimeProvider(clock)
	tr.OnProgress(recorder.record)

	var wire bytes.Buffer
	require.NoError(t, tr.Send(&wire, bytes.NewReader(make([]byte, 10*limits.ChunkSize))))

	// the clock never moved, so only the final call happens
	assert.Equal(t, []int{100}, recorder.percents)
}

func TestIncompleteSourceAbortsCleanly(t *testing.T) {
	var wire bytes.Buffer
	sent, err := Send(&wire, bytes.NewReader(make([]byte, 100)), 200, ModeExact, nil)
	assert.ErrorIs(t, err, ErrIncompleteSource)
	assert.False(t, IsFatal(err))
	assert.Equal(t, int64(100), sent)

	var out bytes.Buffer
	_, err = Receive(&wire, &out, 200, ModeExact, nil)
	assert.ErrorIs(t, err, ErrTransferAborted)
	assert.False(t, IsFatal(err))
	assert.Zero(t, wire.Len(), "stream must be consumed up to the marker")
}

func TestSourceReadErrorAborts(t *testing.T) {
	var wire bytes.Buffer
	src := &failingReader{data: []byte("abc"), err: errDiskFull}

	_, err := Send(&wire, src, 10, ModeArchive, nil)
	assert.ErrorIs(t, err, errDiskFull)

	_, err = Receive(&wire, io.Discard, 10, ModeArchive, nil)
	assert.ErrorIs(t, err, ErrTransferAborted)
}

func TestReceiveByteCountMismatch(t *testing.T) {
	tests := []struct {
		name    string
		stream  [][]byte
		total   int64
		wantErr error
	}{
		{"short", [][]byte{chunkFrame(make([]byte, 10)), marker(endMarker)}, 20, ErrShortTransfer},
		{"overrun", [][]byte{chunkFrame(make([]byte, 15)), chunkFrame(make([]byte, 15)), marker(endMarker)}, 20, ErrTransferOverrun},
		{"empty but expected", [][]byte{marker(endMarker)}, 1, ErrShortTransfer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire := bytes.NewBuffer(bytes.Join(tt.stream, nil))
			var out bytes.Buffer
			_, err := Receive(wire, &out, tt.total, ModeExact, nil)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.False(t, IsFatal(err))
			assert.Zero(t, wire.Len())
		})
	}
}

func TestArchiveModeIgnoresTotal(t *testing.T) {
	data := randomBytes(t, 3000)
	var wire bytes.Buffer
	_, err := Send(&wire, bytes.NewReader(data), 10, ModeArchive, nil)
	require.NoError(t, err)

	var out bytes.Buffer
	rec := &progressRecorder{}
	received, err := Receive(&wire, &out, 10, ModeArchive, rec.record)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), received)
	assert.Equal(t, data, out.Bytes())
	for _, p := range rec.percents[:len(rec.percents)-1] {
		assert.LessOrEqual(t, p, 99)
	}
}

func TestOversizedChunkIsFatal(t *testing.T) {
	wire := bytes.NewBuffer(marker(limits.MaxChunkSize + 1))
	_, err := Receive(wire, io.Discard, 0, ModeArchive, nil)
	assert.ErrorIs(t, err, ErrChunkTooLarge)
	assert.True(t, IsFatal(err))
}

func TestDestinationFailureDrainsStream(t *testing.T) {
	data := randomBytes(t, 4*limits.ChunkSize)
	var wire bytes.Buffer
	wire.Write(bytes.Join([][]byte{
		chunkFrame(data[:limits.ChunkSize]),
		chunkFrame(data[limits.ChunkSize : 2*limits.ChunkSize]),
		chunkFrame(data[2*limits.ChunkSize:]),
		marker(endMarker),
	}, nil))
	wire.WriteString("next")

	_, err := Receive(&wire, &failingWriter{limit: limits.ChunkSize}, int64(len(data)), ModeExact, nil)
	assert.ErrorIs(t, err, errDiskFull)
	assert.False(t, IsFatal(err))
	assert.Equal(t, "next", wire.String())
}

func TestConnectionLossIsFatal(t *testing.T) {
	a, b := net.Pipe()
	reader := transport.NewConn(b, transport.Options{})
	defer reader.Close()

	go func() {
		_, _ = a.Write(chunkFrame([]byte("partial")))
		a.Close()
	}()

	_, err := Receive(reader, io.Discard, 100, ModeExact, nil)
	assert.True(t, IsFatal(err))
}

func TestTransferRunsOnce(t *testing.T) {
	tr := NewTransfer(TransferDirectionOutgoing, ModeExact, 0)
	var wire bytes.Buffer
	require.NoError(t, tr.Send(&wire, bytes.NewReader(nil)))
	assert.ErrorIs(t, tr.Send(&wire, bytes.NewReader(nil)), ErrTransferStarted)

	in := NewTransfer(TransferDirectionIncoming, ModeExact, 0)
	assert.Error(t, in.Send(&wire, bytes.NewReader(nil)))
}

func TestPercentOf(t *testing.T) {
	tests := []struct {
		done, total int64
		want        int
	}{
		{0, 0, 0},
		{5, 0, 0},
		{0, 100, 0},
		{1, 3, 33},
		{2, 3, 66},
		{100, 100, 99},
		{500, 100, 99},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, percentOf(tt.done, tt.total), "%d/%d", tt.done, tt.total)
	}
}

func TestGetProgress(t *testing.T) {
	tr := NewTransfer(TransferDirectionOutgoing, ModeExact, 2*testFileSize1KB)
	var wire bytes.Buffer
	require.NoError(t, tr.Send(&wire, bytes.NewReader(make([]byte, 2*testFileSize1KB))))
	assert.Equal(t, float64(100), tr.GetProgress())
	assert.Greater(t, tr.Elapsed(), time.Duration(-1))
}
