package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry 应用自己的指标注册表，不使用全局默认注册表
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "photorevive",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "photorevive",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms ~ 10s
		},
		[]string{"method", "path"},
	)

	ledgerOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "photorevive",
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Ledger operations by outcome.",
		},
		[]string{"operation", "result"},
	)

	referralBonuses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "photorevive",
			Subsystem: "ledger",
			Name:      "referral_bonuses_total",
			Help:      "Referral bonuses credited to referrers.",
		},
	)

	auditMismatches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "photorevive",
			Subsystem: "ledger",
			Name:      "audit_mismatches_total",
			Help:      "Accounts whose balance disagrees with their latest journal entry.",
		},
	)

	providerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "photorevive",
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Restoration requests sent to the image provider.",
		},
		[]string{"result"},
	)

	providerDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "photorevive",
			Subsystem: "provider",
			Name:      "request_duration_seconds",
			Help:      "Latency of restoration requests.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms ~ 2min
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		httpRequests,
		httpDuration,
		ledgerOperations,
		referralBonuses,
		auditMismatches,
		providerRequests,
		providerDuration,
	)
}

// Handler 以 Prometheus 文本格式暴露指标
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Middleware 按路由模板统计请求数和耗时，未匹配的路由归为 unmatched
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		httpRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

func RecordLedgerOperation(operation, result string) {
	ledgerOperations.WithLabelValues(operation, result).Inc()
}

func RecordReferralBonus() {
	referralBonuses.Inc()
}

func RecordAuditMismatch() {
	auditMismatches.Inc()
}

func RecordProviderRequest(result string, duration time.Duration) {
	providerRequests.WithLabelValues(result).Inc()
	providerDuration.Observe(duration.Seconds())
}
