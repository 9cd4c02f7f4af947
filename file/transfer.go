package file

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rfm/limits"
	"github.com/opd-ai/rfm/transport"
)

var (
	// ErrIncompleteSource indicates the source ended before the declared total.
	ErrIncompleteSource = errors.New("source ended before declared size")
	// ErrShortTransfer indicates the end marker arrived before the declared total.
	ErrShortTransfer = errors.New("transfer ended before declared size")
	// ErrTransferOverrun indicates more bytes than declared were received.
	ErrTransferOverrun = errors.New("transfer exceeded declared size")
	// ErrTransferAborted indicates the sender gave up and wrote the abort marker.
	ErrTransferAborted = errors.New("transfer aborted by sender")
	// ErrChunkTooLarge indicates that a chunk exceeds the maximum allowed size.
	// The stream cannot be resynchronised after it.
	ErrChunkTooLarge = errors.New("chunk size exceeds maximum allowed")
	// ErrTransferStarted indicates a Transfer was run twice.
	ErrTransferStarted = errors.New("transfer already started")
)

const (
	endMarker   uint32 = 0
	abortMarker uint32 = 0xFFFFFFFF
)

// DefaultProgressInterval is the minimum time between progress callbacks.
const DefaultProgressInterval = 200 * time.Millisecond

// TransferDirection indicates whether a transfer is incoming or outgoing.
type TransferDirection uint8

const (
	// TransferDirectionIncoming represents a stream being received.
	TransferDirectionIncoming TransferDirection = iota
	// TransferDirectionOutgoing represents a stream being sent.
	TransferDirectionOutgoing
)

func (d TransferDirection) String() string {
	if d == TransferDirectionOutgoing {
		return "outgoing"
	}
	return "incoming"
}

// Mode selects how the declared total is interpreted.
type Mode uint8

const (
	// ModeExact treats the total as the exact stream length.
	ModeExact Mode = iota
	// ModeArchive treats the total as a progress estimate only.
	ModeArchive
)

func (m Mode) String() string {
	if m == ModeArchive {
		return "archive"
	}
	return "exact"
}

// TransferState represents the current state of a transfer.
type TransferState uint8

const (
	// TransferStatePending indicates the transfer is waiting to start.
	TransferStatePending TransferState = iota
	// TransferStateRunning indicates the transfer is in progress.
	TransferStateRunning
	// TransferStateCompleted indicates the transfer has finished successfully.
	TransferStateCompleted
	// TransferStateError indicates the transfer failed.
	TransferStateError
)

// ProgressFunc receives progress updates. percent is truncated and stays
// below 100 until the final call.
type ProgressFunc func(percent int, bytesPerSecond float64, total int64)

// TimeProvider abstracts time operations for deterministic testing.
type TimeProvider interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// DefaultTimeProvider uses the standard library time functions.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// Since returns the duration since t.
func (DefaultTimeProvider) Since(t time.Time) time.Duration { return time.Since(t) }

var defaultTimeProvider TimeProvider = DefaultTimeProvider{}

// Transfer is one run of the engine in one direction. It is not reusable.
type Transfer struct {
	Direction   TransferDirection
	Mode        Mode
	Total       int64
	State       TransferState
	StartTime   time.Time
	Transferred int64
	Error       error

	mu               sync.Mutex
	progressCallback ProgressFunc
	timeProvider     TimeProvider
	interval         time.Duration
	lastSample       time.Time
	lastSampleBytes  int64
	transferSpeed    float64 // bytes per second at the last sample
}

// NewTransfer creates a pending transfer.
func NewTransfer(direction TransferDirection, mode Mode, total int64) *Transfer {
	return &Transfer{
		Direction:    direction,
		Mode:         mode,
		Total:        total,
		State:        TransferStatePending,
		timeProvider: defaultTimeProvider,
		interval:     DefaultProgressInterval,
	}
}

// SetTimeProvider sets a custom time provider for deterministic testing.
func (t *Transfer) SetTimeProvider(tp TimeProvider) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeProvider = tp
}

// OnProgress sets a callback for progress updates.
func (t *Transfer) OnProgress(callback ProgressFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progressCallback = callback
}

// GetSpeed returns the throughput measured at the last progress sample.
func (t *Transfer) GetSpeed() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transferSpeed
}

// GetProgress returns the completion percentage. Archive transfers may
// report more than 100 before finishing since their total is an estimate.
func (t *Transfer) GetProgress() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Total <= 0 {
		if t.State == TransferStateCompleted {
			return 100
		}
		return 0
	}
	return float64(t.Transferred) / float64(t.Total) * 100
}

func (t *Transfer) begin(want TransferDirection) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.State != TransferStatePending {
		return ErrTransferStarted
	}
	if t.Direction != want {
		return fmt.Errorf("cannot run %s transfer as %s", t.Direction, want)
	}
	t.State = TransferStateRunning
	t.StartTime = t.timeProvider.Now()
	t.lastSample = t.StartTime
	return nil
}

// Send streams src to w as chunk frames. In ModeExact exactly Total bytes are
// sent; in ModeArchive src is read until EOF.
func (t *Transfer) Send(w io.Writer, src io.Reader) error {
	if err := t.begin(TransferDirectionOutgoing); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Send",
		"mode":     t.Mode.String(),
		"total":    t.Total,
	}).Debug("Starting outgoing transfer")

	buf := make([]byte, 4+limits.ChunkSize)
	for {
		want := int64(limits.ChunkSize)
		if t.Mode == ModeExact {
			remaining := t.Total - t.Transferred
			if remaining <= 0 {
				break
			}
			if remaining < want {
				want = remaining
			}
		}

		n, readErr := io.ReadFull(src, buf[4:4+want])
		if n > 0 {
			binary.BigEndian.PutUint32(buf[:4], uint32(n))
			if _, err := w.Write(buf[:4+n]); err != nil {
				return t.fail(err)
			}
			t.advance(int64(n))
		}

		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			if t.Mode == ModeExact {
				if err := writeMarker(w, abortMarker); err != nil {
					return t.fail(err)
				}
				return t.fail(fmt.Errorf("%w: sent %d of %d bytes", ErrIncompleteSource, t.Transferred, t.Total))
			}
			break
		}
		if readErr != nil {
			if err := writeMarker(w, abortMarker); err != nil {
				return t.fail(err)
			}
			return t.fail(fmt.Errorf("read source: %w", readErr))
		}
	}

	if err := writeMarker(w, endMarker); err != nil {
		return t.fail(err)
	}
	t.complete()
	return nil
}

// Receive reads chunk frames from r into dst until the end marker. Local
// write failures do not stop the read loop, so the stream is always consumed
// up to its marker unless the connection itself fails.
func (t *Transfer) Receive(r io.Reader, dst io.Writer) error {
	if err := t.begin(TransferDirectionIncoming); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Receive",
		"mode":     t.Mode.String(),
		"total":    t.Total,
	}).Debug("Starting incoming transfer")

	var (
		header   [4]byte
		buf      = make([]byte, limits.ChunkSize)
		writeErr error
		overrun  bool
	)

	for {
		if _, err := io.ReadFull(r, header[:]); err != nil {
			return t.fail(err)
		}
		length := binary.BigEndian.Uint32(header[:])

		if length == endMarker {
			break
		}
		if length == abortMarker {
			return t.fail(ErrTransferAborted)
		}
		if err := limits.ValidateChunkSize(length); err != nil {
			return t.fail(fmt.Errorf("%w: %v", ErrChunkTooLarge, err))
		}
		if int(length) > len(buf) {
			buf = make([]byte, length)
		}

		chunk := buf[:length]
		if _, err := io.ReadFull(r, chunk); err != nil {
			return t.fail(err)
		}

		if t.Mode == ModeExact && t.Transferred+int64(length) > t.Total {
			overrun = true
		}
		if writeErr == nil && !overrun {
			if _, err := dst.Write(chunk); err != nil {
				writeErr = err
				logrus.WithFields(logrus.Fields{
					"function":    "Receive",
					"transferred": t.Transferred,
					"error":       err.Error(),
				}).Warn("Destination write failed, draining stream")
			}
		}
		t.advance(int64(length))
	}

	switch {
	case writeErr != nil:
		return t.fail(fmt.Errorf("write destination: %w", writeErr))
	case overrun:
		return t.fail(fmt.Errorf("%w: received %d of %d bytes", ErrTransferOverrun, t.Transferred, t.Total))
	case t.Mode == ModeExact && t.Transferred < t.Total:
		return t.fail(fmt.Errorf("%w: received %d of %d bytes", ErrShortTransfer, t.Transferred, t.Total))
	}

	t.complete()
	return nil
}

func writeMarker(w io.Writer, marker uint32) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], marker)
	_, err := w.Write(header[:])
	return err
}

// advance records n more bytes and emits a progress sample when due.
func (t *Transfer) advance(n int64) {
	t.mu.Lock()
	t.Transferred += n
	now := t.timeProvider.Now()
	elapsed := now.Sub(t.lastSample)
	if elapsed < t.interval {
		t.mu.Unlock()
		return
	}

	if elapsed > 0 {
		t.transferSpeed = float64(t.Transferred-t.lastSampleBytes) / elapsed.Seconds()
	}
	t.lastSample = now
	t.lastSampleBytes = t.Transferred
	cb, percent, speed, total := t.progressCallback, percentOf(t.Transferred, t.Total), t.transferSpeed, t.Total
	t.mu.Unlock()

	if cb != nil {
		cb(percent, speed, total)
	}
}

// percentOf truncates and caps at 99 so only a finished transfer shows 100.
func percentOf(done, total int64) int {
	if total <= 0 {
		return 0
	}
	percent := done * 100 / total
	if percent > 99 {
		percent = 99
	}
	return int(percent)
}

func (t *Transfer) complete() {
	t.mu.Lock()
	t.State = TransferStateCompleted
	elapsed := t.timeProvider.Since(t.StartTime)
	if elapsed > 0 {
		t.transferSpeed = float64(t.Transferred) / elapsed.Seconds()
	}
	cb, speed, total := t.progressCallback, t.transferSpeed, t.Total
	transferred := t.Transferred
	t.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":    "complete",
		"direction":   t.Direction.String(),
		"mode":        t.Mode.String(),
		"transferred": transferred,
		"elapsed":     elapsed.String(),
	}).Debug("Transfer completed")

	if cb != nil {
		cb(100, speed, total)
	}
}

func (t *Transfer) fail(err error) error {
	t.mu.Lock()
	t.State = TransferStateError
	t.Error = err
	transferred := t.Transferred
	t.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":    "fail",
		"direction":   t.Direction.String(),
		"mode":        t.Mode.String(),
		"transferred": transferred,
		"total":       t.Total,
		"fatal":       IsFatal(err),
		"error":       err.Error(),
	}).Warn("Transfer failed")
	return err
}

// Elapsed returns the time since the transfer started.
func (t *Transfer) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.StartTime.IsZero() {
		return 0
	}
	return t.timeProvider.Since(t.StartTime)
}

// IsFatal reports whether a transfer error leaves the connection unusable:
// a connection failure or a chunk stream that can no longer be parsed.
func IsFatal(err error) bool {
	return transport.IsFatal(err) || errors.Is(err, ErrChunkTooLarge)
}

// Send is a convenience wrapper running one outgoing transfer.
func Send(w io.Writer, src io.Reader, total int64, mode Mode, onProgress ProgressFunc) (int64, error) {
	t := NewTransfer(TransferDirectionOutgoing, mode, total)
	t.OnProgress(onProgress)
	err := t.Send(w, src)
	return t.Transferred, err
}

// Receive is a convenience wrapper running one incoming transfer.
func Receive(r io.Reader, dst io.Writer, total int64, mode Mode, onProgress ProgressFunc) (int64, error) {
	t := NewTransfer(TransferDirectionIncoming, mode, total)
	t.OnProgress(onProgress)
	err := t.Receive(r, dst)
	return t.Transferred, err
}
