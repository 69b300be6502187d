package metrics

/* adapted from https://github.com/zsais/go-gin-prometheus
edits:
- zap logger instead of log
- request counter and latency only, no push gateway
*/

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const defaultMetricPath = "/metrics"

var reqCnt = &Metric{
	Name:        "req_total",
	Description: "How many HTTP requests processed, partitioned by status code, method and route.",
	Type:        "counter_vec",
	Args:        []string{"code", "method", "url"},
}

var reqDur = &Metric{
	Name:        "req_dur_ms",
	Description: "The HTTP request latencies in milliseconds.",
	Type:        "histogram_vec",
	Args:        []string{"code", "method", "url"},
}

// RequestCounterURLLabelMappingFn controls the cardinality of the "url" label.
type RequestCounterURLLabelMappingFn func(c *gin.Context) string

// Prometheus contains the HTTP metrics gathered by the instance and its path
type Prometheus struct {
	reqCnt        *prometheus.CounterVec
	reqDur        *prometheus.HistogramVec
	listenAddress string
	server        *http.Server

	MetricsPath             string
	ReqCntURLLabelMappingFn RequestCounterURLLabelMappingFn

	logger *zap.SugaredLogger
}

type NewPrometheusOptions struct {
	MetricsPath             string
	ListenAddress           string
	ReqCntURLLabelMappingFn RequestCounterURLLabelMappingFn
	Logger                  *zap.SugaredLogger
}

// NewPrometheus generates the HTTP metrics under the "http" subsystem.
func NewPrometheus(options NewPrometheusOptions) *Prometheus {
	p := &Prometheus{
		reqCnt:                  register(NewMetric(reqCnt, "http").(*prometheus.CounterVec)),
		reqDur:                  register(NewMetric(reqDur, "http").(*prometheus.HistogramVec)),
		listenAddress:           options.ListenAddress,
		MetricsPath:             options.MetricsPath,
		ReqCntURLLabelMappingFn: options.ReqCntURLLabelMappingFn,
		logger:                  options.Logger,
	}
	if p.MetricsPath == "" {
		p.MetricsPath = defaultMetricPath
	}
	if p.ReqCntURLLabelMappingFn == nil {
		p.ReqCntURLLabelMappingFn = func(c *gin.Context) string {
			if fp := c.FullPath(); fp != "" {
				return fp
			}
			return "unmatched"
		}
	}
	if p.logger == nil {
		p.logger = zap.NewNop().Sugar()
	}
	return p
}

// Use adds the middleware to a gin engine and exposes the metrics endpoint,
// either on the engine itself or on a dedicated listen address.
func (p *Prometheus) Use(e *gin.Engine) {
	e.Use(p.HandlerFunc())
	if p.listenAddress == "" {
		e.GET(p.MetricsPath, gin.WrapH(promhttp.Handler()))
		return
	}
	mux := http.NewServeMux()
	mux.Handle(p.MetricsPath, promhttp.Handler())
	p.server = &http.Server{Addr: p.listenAddress, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := p.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			p.logger.Errorw("metrics server stopped", "addr", p.listenAddress, "error", err)
		}
	}()
}

// Close stops the dedicated metrics listener, if any.
func (p *Prometheus) Close() error {
	if p.server == nil {
		return nil
	}
	return p.server.Close()
}

// HandlerFunc defines handler function for middleware
func (p *Prometheus) HandlerFunc() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == p.MetricsPath {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		elapsed := float64(time.Since(start)) / float64(time.Millisecond)
		url := p.ReqCntURLLabelMappingFn(c)

		p.reqDur.WithLabelValues(status, c.Request.Method, url).Observe(elapsed)
		p.reqCnt.WithLabelValues(status, c.Request.Method, url).Inc()
	}
}
