package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reid",
		Name:      "jobs_processed_total",
		Help:      "Total number of clustering jobs processed, by final status",
	}, []string{"status"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "reid",
		Name:      "stage_duration_seconds",
		Help:      "Duration of clustering pipeline stages",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
	}, []string{"stage"})

	KMeansIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "reid",
		Name:      "kmeans_iterations",
		Help:      "Assign/update passes per constrained k-means run",
		Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 50, 100, 300},
	})

	TracksClustered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "reid",
		Name:      "tracks_clustered_total",
		Help:      "Total number of tracks assigned to identity clusters",
	})

	ConstraintsDerived = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "reid",
		Name:      "cannot_link_constraints",
		Help:      "Cannot-link constraints derived per run",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
	})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reid",
		Name:      "cooccurrence_cache_lookups_total",
		Help:      "Co-occurrence matrix cache lookups by result",
	}, []string{"result"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "reid",
		Name:      "queue_depth",
		Help:      "Number of pending clustering jobs in queue",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "reid",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "reid",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
