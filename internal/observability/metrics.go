package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_http_requests_total",
			Help: "Total number of HTTP requests processed by the inbox service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inbox_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "inbox_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_ws_events_total",
			Help: "Total number of websocket events.",
		},
		[]string{"event"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "inbox_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
	syncCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_sync_cycles_total",
			Help: "Synchronizer cycles by result (new, idle, fetch_failure, malformed, discarded).",
		},
		[]string{"result"},
	)
	syncAppendedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "inbox_sync_messages_appended_total",
			Help: "Messages appended to local state that raised a new-message signal.",
		},
	)
	syncReconciledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "inbox_sync_messages_reconciled_total",
			Help: "Server echoes that replaced an optimistic placeholder.",
		},
	)
	syncWatermark = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "inbox_sync_watermark",
			Help: "Highest message id incorporated into local state.",
		},
		[]string{"conversation"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEventsTotal,
		amqpPublishErrorsTotal,
		syncCyclesTotal,
		syncAppendedTotal,
		syncReconciledTotal,
		syncWatermark,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

func IncWSEvent(event string) {
	wsEventsTotal.WithLabelValues(event).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}

func IncSyncCycle(result string) {
	syncCyclesTotal.WithLabelValues(result).Inc()
}

func AddSyncAppended(n int) {
	syncAppendedTotal.Add(float64(n))
}

func AddSyncReconciled(n int) {
	syncReconciledTotal.Add(float64(n))
}

func SetSyncWatermark(conversation string, id int64) {
	syncWatermark.WithLabelValues(conversation).Set(float64(id))
}
