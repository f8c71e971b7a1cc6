package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Drop reasons reported by the worker.
const (
	DropUnsupported = "unsupported"
	DropStale       = "stale"
	DropDuplicate   = "duplicate"
	DropDebounced   = "debounced"
)

// Metrics groups the engine collectors.
type Metrics struct {
	turns        *prometheus.CounterVec
	dropped      *prometheus.CounterVec
	hookDuration *prometheus.HistogramVec
	sends        *prometheus.CounterVec
	flowRequests *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		turns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wadialog_turns_total",
				Help: "Accepted turns by outcome",
			},
			[]string{"outcome"},
		),
		dropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wadialog_dropped_messages_total",
				Help: "Inbound messages dropped before a turn ran",
			},
			[]string{"reason"},
		),
		hookDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wadialog_hook_duration_seconds",
				Help:    "Duration of hook executions",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"hook", "status"},
		),
		sends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wadialog_messages_sent_total",
				Help: "Outbound messages by kind and delivery status",
			},
			[]string{"kind", "delivered"},
		),
		flowRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wadialog_flow_requests_total",
				Help: "Flow endpoint requests by response code",
			},
			[]string{"code"},
		),
	}

	for _, c := range []prometheus.Collector{m.turns, m.dropped, m.hookDuration, m.sends, m.flowRequests} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// TurnCompleted counts a turn that reached the resolver.
func (m *Metrics) TurnCompleted(outcome string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(outcome).Inc()
}

// MessageDropped counts an inbound message filtered by the worker.
func (m *Metrics) MessageDropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

// ObserveHook records one hook execution.
func (m *Metrics) ObserveHook(name string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.hookDuration.WithLabelValues(name, status).Observe(d.Seconds())
}

// MessageSent counts an outbound send attempt.
func (m *Metrics) MessageSent(kind string, delivered bool) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(kind, strconv.FormatBool(delivered)).Inc()
}

// FlowRequest counts a Flow endpoint response by HTTP code.
func (m *Metrics) FlowRequest(code int) {
	if m == nil {
		return
	}
	m.flowRequests.WithLabelValues(strconv.Itoa(code)).Inc()
}
