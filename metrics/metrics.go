package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "helpqueue"

var (
	Operations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "operations_total", Help: "Queue operations by result",
	}, []string{"op", "result"})
	EventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "events_published_total", Help: "Events published on the bus",
	}, []string{"topic"})
	EventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "events_dropped_total", Help: "Events dropped by channel subscribers",
	}, []string{"topic"})
	SubscriberPanics = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "subscriber_panics_total", Help: "Recovered panics in event handlers",
	})
	ConsistencyFaults = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "consistency_faults_total", Help: "Row diffs rejected as inconsistent",
	})
	PendingTimers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Name: "pending_timers", Help: "Armed scheduler timers",
	}, []string{"kind"})
	DBPing = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Name: "db_ping_seconds", Help: "DB ping latency",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(Operations, EventsPublished, EventsDropped, SubscriberPanics, ConsistencyFaults, PendingTimers, DBPing)
}

func Handler() http.Handler { return promhttp.Handler() }

func ObserveDBPing(d time.Duration) { DBPing.Observe(d.Seconds()) }

// Observe counts an operation as ok, rejected or failed.
func Observe(op, result string) {
	Operations.WithLabelValues(op, result).Inc()
}
