package metrics_test

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snowline/internal/batch"
	"snowline/internal/catalog"
	"snowline/internal/metrics"
	"snowline/internal/services"
)

func TestMetricsRecordPipelineActivity(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New("", reg)
	require.NoError(t, err)

	m.ObserveUnit(metrics.StageDownload, batch.Result{ProductID: 1, Outcome: batch.Succeeded, Duration: time.Second})
	m.ObserveUnit(metrics.StageDownload, batch.Result{ProductID: 2, Outcome: batch.Failed})
	m.ObserveUnit(metrics.StageProcess, batch.Result{ProductID: 1, Outcome: batch.Skipped})
	m.RecordRetry(services.Wrap(services.ErrTransient, "provider", "fetch", "", errors.New("503")))
	m.RecordRetry(services.Wrap(services.ErrTimeout, "", "attempt", "", nil))
	m.AddArtifactBytes(metrics.StageDownload, 2048)
	m.ObserveSnowCover(42)
	m.RecordDiscovery(3, 1)
	m.SetStatusCounts(map[catalog.Status]int{catalog.StatusPending: 4})

	expected := `
# HELP snowline_units_total Work units finished, by stage and outcome.
# TYPE snowline_units_total counter
snowline_units_total{outcome="failed",stage="download"} 1
snowline_units_total{outcome="skipped",stage="process"} 1
snowline_units_total{outcome="succeeded",stage="download"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "snowline_units_total"))

	expected = `
# HELP snowline_products Products in the catalog, by download status.
# TYPE snowline_products gauge
snowline_products{status="downloaded"} 0
snowline_products{status="failed"} 0
snowline_products{status="pending"} 4
snowline_products{status="processed"} 0
snowline_products{status="processing"} 0
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "snowline_products"))

	retries, err := testutil.GatherAndCount(reg, "snowline_fetch_retries_total")
	require.NoError(t, err)
	assert.Equal(t, 2, retries)
	histograms, err := testutil.GatherAndCount(reg, "snowline_snow_cover_percent")
	require.NoError(t, err)
	assert.Equal(t, 1, histograms)
}

func TestNewReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := metrics.New("snowline", reg)
	require.NoError(t, err)
	second, err := metrics.New("snowline", reg)
	require.NoError(t, err)

	first.RecordDiscovery(1, 0)
	second.RecordDiscovery(1, 0)

	expected := `
# HELP snowline_products_discovered_total Catalog search results, by whether they were new.
# TYPE snowline_products_discovered_total counter
snowline_products_discovered_total{result="created"} 2
snowline_products_discovered_total{result="skipped"} 0
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "snowline_products_discovered_total"))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *metrics.Metrics
	m.ObserveUnit(metrics.StageDownload, batch.Result{})
	m.RecordRetry(nil)
	m.AddArtifactBytes(metrics.StageProcess, 10)
	m.ObserveSnowCover(1)
	m.RecordDiscovery(1, 1)
	m.SetStatusCounts(nil)
	assert.NotNil(t, m.Handler())
}

func TestHandlerServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New("", reg)
	require.NoError(t, err)
	m.AddArtifactBytes(metrics.StageDownload, 5)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `snowline_artifact_bytes_total{stage="download"} 5`)
}
