package integrations

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	oauthCallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "integration_oauth_callbacks_total",
			Help: "OAuth callbacks handled, by provider and outcome",
		},
		[]string{"provider", "result"},
	)

	itemsCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "integration_items_cache_total",
			Help: "Item listing cache lookups, by provider and hit/miss",
		},
		[]string{"provider", "result"},
	)

	upstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "integration_upstream_requests_total",
			Help: "Requests made to provider APIs, by provider, operation and status",
		},
		[]string{"provider", "operation", "status"},
	)
)
