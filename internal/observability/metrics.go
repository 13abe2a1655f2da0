package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "instaxemu"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"model", "method", "route", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"model", "method", "route", "status"},
	)
	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "frames_total",
			Help:      "Inbound protocol frames by function and operation.",
		},
		[]string{"model", "function", "operation"},
	)
	acksSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "acks_total",
			Help:      "ACK frames sent by status byte.",
		},
		[]string{"model", "status"},
	)
	framingErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "framing_errors_total",
			Help:      "Dropped inbound bytes by reason.",
		},
		[]string{"model", "reason"},
	)
	bytesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "print",
			Name:      "image_bytes_total",
			Help:      "Image bytes received across all jobs.",
		},
		[]string{"model"},
	)
	jobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "print",
			Name:      "jobs_total",
			Help:      "Print jobs by outcome.",
		},
		[]string{"model", "outcome"},
	)
	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "print",
			Name:      "job_duration_seconds",
			Help:      "Time from print start to completion or abort.",
			Buckets:   []float64{1, 2, 5, 10, 20, 40, 80},
		},
		[]string{"model", "outcome"},
	)
	storageErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "print",
			Name:      "storage_errors_total",
			Help:      "Job sink failures by stage.",
		},
		[]string{"model", "stage"},
	)
	eventsPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "pending",
			Help:      "Job events waiting for a successful publish.",
		},
	)
	eventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Job events never published, by reason.",
		},
		[]string{"reason"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			framesReceived, acksSent, framingErrors,
			bytesReceived, jobs, jobDuration, storageErrors,
			eventsPending, eventsDropped,
		)
	})
}

func RecordHTTPRequest(model, method, route string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(model, method, route, statusLabel).Inc()
	httpDuration.WithLabelValues(model, method, route, statusLabel).Observe(duration.Seconds())
}

func RecordFrame(model string, function, operation byte) {
	RegisterMetrics()
	framesReceived.WithLabelValues(model, hexLabel(function), hexLabel(operation)).Inc()
}

func RecordAck(model string, status byte) {
	RegisterMetrics()
	acksSent.WithLabelValues(model, hexLabel(status)).Inc()
}

func RecordFramingError(model, reason string) {
	RegisterMetrics()
	framingErrors.WithLabelValues(model, reason).Inc()
}

func RecordImageBytes(model string, n int) {
	RegisterMetrics()
	bytesReceived.WithLabelValues(model).Add(float64(n))
}

// RecordJob counts a finished job. Outcome is "complete", "aborted" or
// "rejected".
func RecordJob(model, outcome string, duration time.Duration) {
	RegisterMetrics()
	jobs.WithLabelValues(model, outcome).Inc()
	if duration > 0 {
		jobDuration.WithLabelValues(model, outcome).Observe(duration.Seconds())
	}
}

func RecordStorageError(model, stage string) {
	RegisterMetrics()
	storageErrors.WithLabelValues(model, stage).Inc()
}

func SetEventsPending(n int) {
	RegisterMetrics()
	eventsPending.Set(float64(n))
}

// RecordEventDropped counts an event lost to a full queue, exhausted
// retries, or shutdown.
func RecordEventDropped(reason string) {
	RegisterMetrics()
	eventsDropped.WithLabelValues(reason).Inc()
}

func hexLabel(b byte) string {
	const digits = "0123456789abcdef"
	return string([]byte{'0', 'x', digits[b>>4], digits[b&0x0F]})
}
