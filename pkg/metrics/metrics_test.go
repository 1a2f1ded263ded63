package metrics

import (
	"bytes"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWritePrometheus(t *testing.T) {
	RouteTotal.WithLabelValues("high", "false").Inc()
	RecoveryTotal.WithLabelValues("degraded").Inc()
	StageDuration.WithLabelValues("route").Observe(0.01)

	var buf bytes.Buffer
	require.NoError(t, WritePrometheus(&buf))
	out := buf.String()
	assert.Contains(t, out, `rag_route_total{bucket="high",need="false"}`)
	assert.Contains(t, out, `rag_recovery_total{outcome="degraded"}`)
	assert.Contains(t, out, "rag_stage_duration_seconds_bucket")
}

func TestMemoryErrorsCounter(t *testing.T) {
	before := testutil.ToFloat64(MemoryErrorsTotal.WithLabelValues("object"))
	MemoryErrorsTotal.WithLabelValues("object").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(MemoryErrorsTotal.WithLabelValues("object")))
}
