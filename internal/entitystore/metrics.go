package entitystore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	labelDeviceType = "device_type"
)

var (
	metricOutOfOrderDropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rvcd_entitystore_out_of_order_drops_total",
			Help: "Total number of apply_decoded updates rejected for a non-monotonic timestamp",
		},
		[]string{labelDeviceType},
	)

	metricStalenessTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rvcd_entitystore_staleness_transitions_total",
			Help: "Total number of entities marked unavailable after exceeding their staleness window",
		},
		[]string{labelDeviceType},
	)

	metricDeltasPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rvcd_entitystore_deltas_published_total",
			Help: "Total number of deltas handed to the broadcaster sink",
		},
		[]string{labelDeviceType},
	)
)
