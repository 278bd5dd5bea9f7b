package metrics_test

import (
	"testing"
	"time"

	"github.com/DRSN-tech/visual-search/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveSince(t *testing.T) {
	metrics.ObserveSince(metrics.SearchDuration, "metrics_test", time.Now().Add(-time.Second))
	assert.GreaterOrEqual(t, testutil.CollectAndCount(metrics.SearchDuration), 1)
}

func TestCounters(t *testing.T) {
	c := metrics.OnlineAdds.WithLabelValues("metrics_test", metrics.OutcomeOK)
	before := testutil.ToFloat64(c)
	c.Inc()
	assert.InDelta(t, before+1, testutil.ToFloat64(c), 1e-9)

	metrics.IndexSize.WithLabelValues("metrics_test").Set(42)
	assert.InDelta(t, 42, testutil.ToFloat64(metrics.IndexSize.WithLabelValues("metrics_test")), 1e-9)
}
