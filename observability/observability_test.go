package observability_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/bonus-engine/observability"
)

func TestNewLogger(t *testing.T) {
	logger, err := observability.NewLogger("debug", "console")
	require.NoError(t, err)
	logger.Debug("hello")

	_, err = observability.NewLogger("loud", "json")
	assert.Error(t, err)

	_, err = observability.NewLogger("info", "xml")
	assert.Error(t, err)
}

func TestSetupTracing_NoEndpointIsNoop(t *testing.T) {
	tp, shutdown, err := observability.SetupTracing(context.Background(), observability.TracingConfig{})
	require.NoError(t, err)

	_, span := observability.Tracer(tp).Start(context.Background(), "test")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	assert.NoError(t, shutdown(context.Background()))
}

func TestMetrics_RegisteredPerRegistry(t *testing.T) {
	// Two registries must not collide.
	m1 := observability.NewMetrics(prometheus.NewRegistry())
	m2 := observability.NewMetrics(prometheus.NewRegistry())

	m1.Row("processed", 3)
	m1.Row("skipped", 0)
	m2.Row("processed", 1)
	m1.Evaluation(true, "open_run")
	m1.LeaderboardRead(true)
	m1.LeaderboardRead(false)
	m1.Batch(time.Second)

	assert.Equal(t, 3.0, testutil.ToFloat64(m1.RowsTotal.WithLabelValues("processed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m2.RowsTotal.WithLabelValues("processed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m1.EligibilityTotal.WithLabelValues("true", "open_run")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m1.LeaderboardRequests.WithLabelValues("hit")))
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *observability.Metrics

	assert.NotPanics(t, func() {
		m.Row("processed", 1)
		m.Evaluation(false, "empty_history")
		m.Batch(time.Millisecond)
		m.ConflictRetry()
		m.LeaderboardRead(true)
		m.LeaderboardBuild(time.Millisecond)
		m.Like()
	})
}
