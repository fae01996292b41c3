package stageflow

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's routing collectors.
type Metrics struct {
	// RoutesTotal counts routed stages by stage type and outcome.
	RoutesTotal *prometheus.CounterVec

	// RouteDuration observes per-hop routing latency by stage type.
	RouteDuration *prometheus.HistogramVec
}

// NewMetrics builds and registers the routing collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RoutesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stageflow",
			Name:      "routes_total",
			Help:      "Routed stages by stage type and outcome.",
		}, []string{"type", "outcome"}),
		RouteDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "stageflow",
			Name:      "route_duration_seconds",
			Help:      "Routing latency per hop by stage type.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
	}
	reg.MustRegister(m.RoutesTotal, m.RouteDuration)
	return m
}

// MetricsMiddleware observes every routing hop. The stage type label is
// resolved from the catalog; unknown URIs count under "unknown".
func MetricsMiddleware(m *Metrics, stages *StageStore) Middleware {
	return func(next RouteFunc) RouteFunc {
		return func(ctx context.Context, uri string, overrides map[string]any) error {
			stageType := "unknown"
			if parsed, err := ParseURI(uri); err == nil {
				if def, ok := stages.Lookup(parsed.URI); ok {
					stageType = string(def.Type)
				}
			}

			start := time.Now()
			err := next(ctx, uri, overrides)

			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			m.RoutesTotal.WithLabelValues(stageType, outcome).Inc()
			m.RouteDuration.WithLabelValues(stageType).Observe(time.Since(start).Seconds())

			return err
		}
	}
}
