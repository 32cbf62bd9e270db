package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("debug")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = NewLogger("")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))

	_, err = NewLogger("loud")
	assert.Error(t, err)
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()

	m.ObserveRun(ResultSuccess)
	m.ObserveRun(ResultSuccess)
	m.ObserveRun(ResultFailure)
	m.ObservePublish("metadata")
	m.ObserveScanned(12)
	m.ObserveScanned(0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.runs.WithLabelValues(ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues(ResultFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.published.WithLabelValues("metadata")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.scanned))
}

func TestMetrics_Phase(t *testing.T) {
	m := NewMetrics()
	done := m.Phase("filters")
	done()

	count, err := testutil.GatherAndCount(m.Registry(), "bqmeta_phase_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.ObserveRun(ResultSuccess)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(string(body), `bqmeta_runs_total{result="success"} 1`))
}
