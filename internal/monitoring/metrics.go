package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 删除来源
const (
	DeleteSourceAPI     = "api"
	DeleteSourceCleaner = "cleaner"
)

// 邮件丢弃原因
const (
	DropReasonIncomplete = "incomplete"
	DropReasonStoreError = "store_error"
)

// Metrics 监控指标
//
// 所有方法在接收者为 nil 时直接返回，未启用监控的组件可以传 nil。
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// SMTP 指标
	SMTPConnectionsTotal    prometheus.Counter
	SMTPConnectionsRejected prometheus.Counter
	SMTPSessionsActive      prometheus.Gauge
	SMTPSessionDuration     prometheus.Histogram

	// 邮件指标
	MailsReceived *prometheus.CounterVec
	MailsDropped  *prometheus.CounterVec
	MailsDeleted  *prometheus.CounterVec
	MailsStored   prometheus.Gauge

	// 清理任务
	CleanerSweepDuration prometheus.Histogram

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter
}

// NewMetrics 在独立的注册表上创建监控指标，reg 为 nil 时新建
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailsink_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailsink_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailsink_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint"},
		),

		SMTPConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailsink_smtp_connections_total",
			Help: "Total number of accepted SMTP connections",
		}),
		SMTPConnectionsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailsink_smtp_connections_rejected_total",
			Help: "SMTP connections rejected by the connection limiter",
		}),
		SMTPSessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mailsink_smtp_sessions_active",
			Help: "Number of SMTP sessions in progress",
		}),
		SMTPSessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailsink_smtp_session_duration_seconds",
			Help:    "SMTP session duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),

		MailsReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailsink_mails_received_total",
				Help: "Total number of mails persisted, by SMTP port",
			},
			[]string{"port"},
		),
		MailsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailsink_mails_dropped_total",
				Help: "Mails not persisted, by reason",
			},
			[]string{"reason"},
		),
		MailsDeleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailsink_mails_deleted_total",
				Help: "Mails deleted, by source",
			},
			[]string{"source"},
		),
		MailsStored: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mailsink_mails_stored",
			Help: "Number of mails currently stored",
		}),

		CleanerSweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailsink_cleaner_sweep_duration_seconds",
			Help:    "Duration of one expiry sweep",
			Buckets: prometheus.DefBuckets,
		}),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailsink_errors_total",
				Help: "Total number of errors",
			},
			[]string{"type", "component"},
		),
		PanicsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailsink_panics_total",
			Help: "Total number of recovered panics",
		}),
	}
}

// RegisterRuntimeCollectors 注册 Go 运行时与进程指标
func (m *Metrics) RegisterRuntimeCollectors() {
	if m == nil {
		return
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// RecordHTTPRequest 记录 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration, responseSize int) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	if responseSize > 0 {
		m.HTTPResponseSize.WithLabelValues(method, endpoint).Observe(float64(responseSize))
	}
}

// RecordSMTPConnection 记录接受的连接
func (m *Metrics) RecordSMTPConnection() {
	if m == nil {
		return
	}
	m.SMTPConnectionsTotal.Inc()
}

// RecordSMTPRejected 记录被限流拒绝的连接
func (m *Metrics) RecordSMTPRejected() {
	if m == nil {
		return
	}
	m.SMTPConnectionsRejected.Inc()
}

// SMTPSessionStarted 会话开始
func (m *Metrics) SMTPSessionStarted() {
	if m == nil {
		return
	}
	m.SMTPSessionsActive.Inc()
}

// SMTPSessionFinished 会话结束
func (m *Metrics) SMTPSessionFinished(duration time.Duration) {
	if m == nil {
		return
	}
	m.SMTPSessionsActive.Dec()
	m.SMTPSessionDuration.Observe(duration.Seconds())
}

// RecordMailReceived 记录持久化成功的邮件
func (m *Metrics) RecordMailReceived(port string) {
	if m == nil {
		return
	}
	m.MailsReceived.WithLabelValues(port).Inc()
}

// RecordMailDropped 记录未持久化的邮件
func (m *Metrics) RecordMailDropped(reason string) {
	if m == nil {
		return
	}
	m.MailsDropped.WithLabelValues(reason).Inc()
}

// RecordMailsDeleted 记录删除的邮件数
func (m *Metrics) RecordMailsDeleted(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.MailsDeleted.WithLabelValues(source).Add(float64(n))
}

// UpdateMailsStored 更新当前邮件总数
func (m *Metrics) UpdateMailsStored(n int) {
	if m == nil {
		return
	}
	m.MailsStored.Set(float64(n))
}

// RecordSweep 记录一次清理耗时
func (m *Metrics) RecordSweep(duration time.Duration) {
	if m == nil {
		return
	}
	m.CleanerSweepDuration.Observe(duration.Seconds())
}

// RecordError 记录错误
func (m *Metrics) RecordError(errorType, component string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.PanicsTotal.Inc()
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
