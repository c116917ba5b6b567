package metric

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type prometheusMetrics struct {
	requestsTotal   prometheus.Counter
	requestsInFlight prometheus.Gauge
	requestDuration *prometheus.HistogramVec
	responsesTotal  *prometheus.CounterVec
	failedTotal     *prometheus.CounterVec
}

// NewPrometheus registers the gateway's metrics against the default
// registerer and returns a Metrics implementation backed by them.
func NewPrometheus() Metrics {
	m := &prometheusMetrics{
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "halogate",
			Name:      "requests_total",
			Help:      "Total number of inbound requests accepted by the gateway.",
		}),
		requestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "halogate",
			Name:      "requests_in_flight",
			Help:      "Number of requests currently being dispatched.",
		}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "halogate",
			Name:      "request_duration_seconds",
			Help:      "Duration of a request cycle, from headers_complete to task settlement.",
		}, []string{"service"}),
		responsesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "halogate",
			Name:      "responses_total",
			Help:      "Total number of responses written, by status code.",
		}, []string{"status"}),
		failedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "halogate",
			Name:      "failed_requests_total",
			Help:      "Total number of requests that ended in a gateway error, by reason.",
		}, []string{"reason"}),
	}

	prometheus.MustRegister(
		m.requestsTotal,
		m.requestsInFlight,
		m.requestDuration,
		m.responsesTotal,
		m.failedTotal,
	)

	return m
}

func (m *prometheusMetrics) IncRequestsTotal()    { m.requestsTotal.Inc() }
func (m *prometheusMetrics) IncRequestsInFlight() { m.requestsInFlight.Inc() }
func (m *prometheusMetrics) DecRequestsInFlight() { m.requestsInFlight.Dec() }

func (m *prometheusMetrics) UpdateRequestDuration(service string, start time.Time) {
	m.requestDuration.WithLabelValues(service).Observe(time.Since(start).Seconds())
}

func (m *prometheusMetrics) IncResponsesTotal(status int) {
	m.responsesTotal.WithLabelValues(strconv.Itoa(status)).Inc()
}

func (m *prometheusMetrics) IncFailedRequestsTotal(reason FailReason) {
	m.failedTotal.WithLabelValues(string(reason)).Inc()
}
