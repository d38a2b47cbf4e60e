package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	m.Submitted("live_stream")
	m.Submitted("live_stream")
	m.Dropped("live_stream")
	m.Delivered("live_stream")
	m.EmptyFrame("video")
	m.Failed("image")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.submitted.WithLabelValues("live_stream")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dropped.WithLabelValues("live_stream")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.delivered.WithLabelValues("live_stream")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.emptyFrames.WithLabelValues("video")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("image")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Submitted("image")
		m.ObserveLatency("image", time.Now())
	})
}

func TestDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}

func TestHandler(t *testing.T) {
	reg := NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)
	m.ObserveLatency("video", time.Now().Add(-20*time.Millisecond))

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "landmarker_inference_duration_seconds"))
}
