package httpserver_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conductorhq/conductor/internal/telemetry/httpserver"
	"github.com/conductorhq/conductor/internal/telemetry/metrics"
	"github.com/conductorhq/conductor/pkg/notify"
)

type fakeStatus struct{ counts notify.ProgressCounts }

func (f fakeStatus) Status() notify.ProgressCounts { return f.counts }

func TestHealthzReportsOK(t *testing.T) {
	srv := httpserver.New(":0", fakeStatus{}, metrics.New())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusReportsTheProvidedCounts(t *testing.T) {
	srv := httpserver.New(":0", fakeStatus{counts: notify.ProgressCounts{Pending: 2, Completed: 1}}, metrics.New())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var counts notify.ProgressCounts
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&counts))
	assert.Equal(t, 2, counts.Pending)
	assert.Equal(t, 1, counts.Completed)
}

func TestMetricsServesThePrometheusExpositionFormat(t *testing.T) {
	m := metrics.New()
	m.ReaperReleases.Inc()
	srv := httpserver.New(":0", fakeStatus{}, m)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "conductor_reaper_releases_total")
}
