package metrics

import (
	grpcprometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	Registry = prometheus.NewRegistry()

	GRPCClientMetrics = grpcprometheus.NewClientMetrics(
		func(c *prometheus.CounterOpts) {
			c.Namespace = "RouteDB"
		},
	)

	RoutingLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "RouteDB",
		Subsystem: "routing",
		Name:      "lookups_total",
	}, []string{"collection", "result"})

	CatalogRefreshDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "RouteDB",
		Subsystem: "catalog",
		Name:      "refresh_duration_seconds",
	}, []string{"collection"})
)

func init() {
	Registry.MustRegister(
		GRPCClientMetrics,
		RoutingLookups,
		CatalogRefreshDuration,
	)
}
