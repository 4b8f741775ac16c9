// Package metrics exposes Prometheus collectors for the marketplace.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	OrderTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "p2p_order_transitions_total",
			Help: "Order lifecycle transition attempts by event and outcome",
		},
		[]string{"event", "outcome"},
	)

	Settlements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "p2p_settlements_total",
			Help: "Settlement attempts by outcome",
		},
		[]string{"outcome"},
	)

	ExpiredOrders = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "p2p_orders_expired_total",
			Help: "Pending orders cancelled by the expiry sweep",
		},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of response latency (seconds) for HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
)

func init() {
	prometheus.MustRegister(OrderTransitions, Settlements, ExpiredOrders)
	prometheus.MustRegister(httpRequestsTotal, httpRequestDuration)
}

// Middleware records request counts and latencies per route template
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(route, c.Request.Method).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the Prometheus exposition format
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
