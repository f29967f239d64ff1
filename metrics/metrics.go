package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// StoreConnected is 1 while the store connection is in the Connected state.
	StoreConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "incidents",
		Subsystem: "store",
		Name:      "connected",
		Help:      "Whether the report store connection is currently connected.",
	})

	// StoreConnectAttemptsTotal counts connect attempts by result.
	StoreConnectAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "incidents",
		Subsystem: "store",
		Name:      "connect_attempts_total",
		Help:      "Total number of store connect attempts, labeled by result.",
	}, []string{"result"})

	// ReportsSavedTotal counts save calls by result.
	ReportsSavedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "incidents",
		Subsystem: "reports",
		Name:      "saved_total",
		Help:      "Total number of report save calls, labeled by result.",
	}, []string{"result"})

	// NotificationsTotal counts notification attempts by channel and result.
	NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "incidents",
		Subsystem: "notify",
		Name:      "attempts_total",
		Help:      "Total number of notification send attempts, labeled by channel and result.",
	}, []string{"channel", "result"})

	// NotificationDurationSeconds is the time spent per send attempt.
	NotificationDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "incidents",
		Subsystem: "notify",
		Name:      "send_duration_seconds",
		Help:      "Time spent on one notification send attempt.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"channel"})
)

// Register registers service metrics with the default Prometheus registry.
// Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			StoreConnected,
			StoreConnectAttemptsTotal,
			ReportsSavedTotal,
			NotificationsTotal,
			NotificationDurationSeconds,
		)
	})
}

// Result maps an error to a metric label.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
