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

func TestMetrics_Counters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IntentRecognized()
	m.JobEnqueued()
	m.JobEnqueued()
	m.JobProcessed(OutcomeCompleted, 10*time.Millisecond)
	m.JobProcessed(OutcomeFaulted, 20*time.Millisecond)
	m.EmailSkipped(ReasonOptOut)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.intentsRecognized))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobsEnqueued))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsProcessed.WithLabelValues(OutcomeCompleted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsProcessed.WithLabelValues(OutcomeFaulted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.emailsSkipped.WithLabelValues(ReasonOptOut)))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	assert.NotPanics(t, func() {
		m.IntentRecognized()
		m.JobEnqueued()
		m.JobProcessed(OutcomeCompleted, time.Second)
		m.EmailSkipped(ReasonGate)
		m.WatchQueue(prometheus.NewRegistry(), func() int { return 0 })
	})
}

func TestMetrics_HandlerExposesQueueDepth(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New(reg)
	m.WatchQueue(reg, func() int { return 7 })

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "mailr_queue_depth 7"), "body: %s", body)
}
