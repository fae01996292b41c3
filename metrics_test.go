package stageflow

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stageflow/stageflow/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()

	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
	metric:
		for _, m := range fam.GetMetric() {
			for _, pair := range m.GetLabel() {
				if want, ok := labels[pair.GetName()]; ok && want != pair.GetValue() {
					continue metric
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestMetricsMiddlewareCountsHops(t *testing.T) {
	stages, err := NewStageStore(
		&StageDefinition{URI: "/welcome", Type: StageMessage, Final: true},
	)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	messenger := &fakeMessenger{}
	c := NewController(stages, store.NewMemoryStore(), newMessageRegistry(nil), &fakeBot{}, messenger, testEnvelope(),
		WithLogger(&TestLogger{t: t}),
		WithMiddleware(MetricsMiddleware(metrics, stages)))

	require.NoError(t, c.Route(context.Background(), "/welcome", nil))
	require.NoError(t, c.Route(context.Background(), "/welcome", nil))
	require.NoError(t, c.Route(context.Background(), "/missing", nil))

	families, err := reg.Gather()
	require.NoError(t, err)

	assert.Equal(t, float64(2), counterValue(t, families, "stageflow_routes_total",
		map[string]string{"type": "message", "outcome": "ok"}))

	// Unknown routes are observed too; they resolve cleanly.
	assert.Equal(t, float64(1), counterValue(t, families, "stageflow_routes_total",
		map[string]string{"type": "unknown", "outcome": "ok"}))

	var samples uint64
	for _, fam := range families {
		if fam.GetName() != "stageflow_route_duration_seconds" {
			continue
		}
		for _, m := range fam.GetMetric() {
			samples += m.GetHistogram().GetSampleCount()
		}
	}
	assert.Equal(t, uint64(3), samples)
}
