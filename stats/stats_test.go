package stats

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/opd-ai/rfm/protocol"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionCounters(t *testing.T) {
	c := NewCollector()
	c.SessionOpened()
	c.SessionOpened()
	c.SessionClosed()

	snap := c.Snapshot()
	assert.Equal(t, 1.0, snap[KeySessionsActive])
	assert.Equal(t, 2.0, snap[KeySessionsTotal])
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sessionsActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.sessionsTotal))
}

func TestSessionClosedNeverNegative(t *testing.T) {
	c := NewCollector()
	c.SessionClosed()
	assert.Equal(t, 0.0, c.Snapshot()[KeySessionsActive])
}

func TestTransferTotals(t *testing.T) {
	c := NewCollector()
	c.ObserveUpload(2000, 2*time.Second, nil)
	c.ObserveUpload(1000, time.Second, errors.New("disk full"))
	c.ObserveDownload(500, 500*time.Millisecond, nil)

	n := c.Network()
	assert.Equal(t, int64(3000), n.UploadAmount)
	assert.InDelta(t, 3.0, n.UploadSeconds, 1e-9)
	assert.InDelta(t, 1000.0, n.UploadRate(), 1e-9)
	assert.InDelta(t, 1000.0, n.DownloadRate(), 1e-9)

	snap := c.Snapshot()
	assert.Equal(t, 3000.0, snap[KeyUploadBytes])
	assert.Equal(t, 500.0, snap[KeyDownloadBytes])

	assert.Equal(t, 3000.0, testutil.ToFloat64(c.transferBytes.WithLabelValues("upload")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transferResults.WithLabelValues("upload", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transferResults.WithLabelValues("upload", "ok")))
}

func TestRatesBeforeTraffic(t *testing.T) {
	var n NetworkStat
	assert.Zero(t, n.DownloadRate())
	assert.Zero(t, n.UploadRate())
}

func TestResponsesByTag(t *testing.T) {
	c := NewCollector()
	c.ObserveResponse(protocol.ResOK, 10*time.Millisecond)
	c.ObserveResponse(protocol.ResOK, 30*time.Millisecond)
	c.ObserveResponse(protocol.ResFileNotFound, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.responsesTotal.WithLabelValues("OK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.responsesTotal.WithLabelValues("FILE_NOT_FOUND")))

	snap := c.Snapshot()
	assert.Equal(t, 3.0, snap[KeyResponses])
	assert.InDelta(t, 0.041, snap[KeyResponseSeconds], 1e-9)
}

func TestMetricsEndpoint(t *testing.T) {
	c := NewCollector()
	c.SessionOpened()
	c.ObserveDownload(42, time.Second, nil)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)
	assert.True(t, strings.Contains(text, "rfm_sessions_active 1"))
	assert.True(t, strings.Contains(text, `rfm_transfer_bytes_total{direction="download"} 42`))

	health, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}
