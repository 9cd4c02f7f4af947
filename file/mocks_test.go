package file

import (
	"errors"
	"sync"
	"time"
)

// mockTimeProvider provides deterministic time for testing. When step is
// set, every call to Now advances the clock by step.
type mockTimeProvider struct {
	mu          sync.Mutex
	currentTime time.Time
	step        time.Duration
}

func (m *mockTimeProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.currentTime
	m.currentTime = m.currentTime.Add(m.step)
	return now
}

func (m *mockTimeProvider) Since(t time.Time) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTime.Sub(t)
}

func (m *mockTimeProvider) advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentTime = m.currentTime.Add(d)
}

func newMockTimeProvider() *mockTimeProvider {
	return &mockTimeProvider{
		currentTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// progressRecorder collects progress callbacks.
type progressRecorder struct {
	mu       sync.Mutex
	percents []int
	speeds   []float64
	totals   []int64
}

func (p *progressRecorder) record(percent int, bytesPerSecond float64, total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.percents = append(p.percents, percent)
	p.speeds = append(p.speeds, bytesPerSecond)
	p.totals = append(p.totals, total)
}

var errDiskFull = errors.New("disk full")

// failingWriter accepts limit bytes and then fails.
type failingWriter struct {
	limit   int
	written int
}

func (f *failingWriter) Write(p []byte) (int, error) {
	if f.written+len(p) > f.limit {
		return 0, errDiskFull
	}
	f.written += len(p)
	return len(p), nil
}

// failingReader returns data and then a non-EOF error.
type failingReader struct {
	data []byte
	err  error
}

func (f *failingReader) Read(p []byte) (int, error) {
	if len(f.data) == 0 {
		return 0, f.err
	}
	n := copy(p, f.data)
	f.data = f.data[n:]
	return n, nil
}
