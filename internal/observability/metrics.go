package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	registerOnce sync.Once

	connections      prometheus.Gauge
	publishes        *prometheus.CounterVec
	rejections       *prometheus.CounterVec
	deliveries       prometheus.Counter
	drops            prometheus.Counter
	fanoutSeconds    prometheus.Histogram
	clientReconnects prometheus.Counter
	clientUpdates    *prometheus.CounterVec
)

func registerMetrics() {
	registerOnce.Do(func() {
		connections = promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "overlaysync",
			Subsystem: "relay",
			Name:      "connections",
			Help:      "Number of live persistent connections.",
		})
		publishes = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "overlaysync",
			Subsystem: "relay",
			Name:      "publishes_total",
			Help:      "Accepted document publishes.",
		}, []string{"transport"})
		rejections = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "overlaysync",
			Subsystem: "relay",
			Name:      "rejected_publishes_total",
			Help:      "Publishes rejected as malformed.",
		}, []string{"transport"})
		deliveries = promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "overlaysync",
			Subsystem: "relay",
			Name:      "deliveries_total",
			Help:      "Update frames queued to connections.",
		})
		drops = promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "overlaysync",
			Subsystem: "relay",
			Name:      "dropped_deliveries_total",
			Help:      "Update frames dropped because a connection queue was full.",
		})
		fanoutSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "overlaysync",
			Subsystem: "relay",
			Name:      "fanout_seconds",
			Help:      "Time to queue one publish to every connection.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		})
		clientReconnects = promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "overlaysync",
			Subsystem: "client",
			Name:      "reconnects_total",
			Help:      "Reconnection attempts made by transport clients.",
		})
		clientUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "overlaysync",
			Subsystem: "client",
			Name:      "updates_total",
			Help:      "Documents delivered to update handlers, by delivery path.",
		}, []string{"path"})
	})
}

// Recorder records relay metrics for one transport ("ws" or "http").
// Methods are no-ops while metrics are disabled.
type Recorder struct {
	transport string
}

// NewRecorder returns a Recorder labelled with transport.
func NewRecorder(transport string) *Recorder {
	return &Recorder{transport: transport}
}

func (r *Recorder) Published() {
	if !metricsOn.Load() {
		return
	}
	publishes.WithLabelValues(r.transport).Inc()
}

func (r *Recorder) Rejected() {
	if !metricsOn.Load() {
		return
	}
	rejections.WithLabelValues(r.transport).Inc()
}

// Fanout records one publish reaching sent connections and being dropped
// for dropped connections.
func (r *Recorder) Fanout(sent, dropped int) {
	if !metricsOn.Load() {
		return
	}
	deliveries.Add(float64(sent))
	drops.Add(float64(dropped))
}

// LatencyObs returns the fan-out histogram, or nil while metrics are
// disabled.
func (r *Recorder) LatencyObs() prometheus.Observer {
	if !metricsOn.Load() {
		return nil
	}
	return fanoutSeconds
}

func IncConnections() {
	if metricsOn.Load() {
		connections.Inc()
	}
}

func DecConnections() {
	if metricsOn.Load() {
		connections.Dec()
	}
}

func ClientReconnect() {
	if metricsOn.Load() {
		clientReconnects.Inc()
	}
}

// ClientUpdate counts a document handed to update handlers via path.
func ClientUpdate(path string) {
	if metricsOn.Load() {
		clientUpdates.WithLabelValues(path).Inc()
	}
}
