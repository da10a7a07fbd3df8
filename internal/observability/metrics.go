package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WaypointsRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "route_waypoints_recorded_total",
		Help: "Waypoints stored while recording routes",
	})
	WaypointsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "route_waypoints_skipped_total",
		Help: "Waypoints dropped for being too close to the previous one",
	})
	PositionsRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "route_track_positions_recorded_total",
		Help: "Mover positions stored on active tracks",
	})
	PositionsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "route_track_positions_skipped_total",
		Help: "Mover positions ignored because the mover barely moved",
	})
	FeedPublishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "route_feed_publish_errors_total",
		Help: "Errors publishing position events on the live feed",
	})
	IngestMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "route_ingest_messages_total",
		Help: "Position messages consumed from Kafka by result",
	}, []string{"result"})
	Estimates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "route_estimates_total",
		Help: "Arrival estimates computed by outcome",
	}, []string{"outcome"})
	EstimateLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "route_estimate_latency_seconds",
		Help:    "Time to load route data and compute an arrival estimate",
		Buckets: prometheus.DefBuckets,
	})
)

func ObserveEstimateLatency(start time.Time) {
	EstimateLatency.Observe(time.Since(start).Seconds())
}
