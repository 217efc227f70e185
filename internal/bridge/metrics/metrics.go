// Package metrics exposes Prometheus collectors for call dispatch and event
// publishing.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Call outcomes as recorded on the calls_total counter.
const (
	OutcomeSuccess     = "success"
	OutcomeFailure     = "failure"
	OutcomeDefect      = "defect"
	OutcomeInterrupted = "interrupted"
)

// Metrics tracks bridge activity: calls by outcome, call latency, published
// and dropped events, and the publisher queue depth.
type Metrics struct {
	mu sync.RWMutex

	methodCounts map[string]*MethodMetrics

	callsTotal      *prometheus.CounterVec
	callSecondsHist *prometheus.HistogramVec
	eventsPublished *prometheus.CounterVec
	eventsDropped   *prometheus.CounterVec
	queueDepthGauge *prometheus.GaugeVec

	registerer prometheus.Registerer
	registered bool
}

// MethodMetrics holds per-method dispatch counts.
type MethodMetrics struct {
	Calls         uint64    `json:"calls"`
	Successes     uint64    `json:"successes"`
	Failures      uint64    `json:"failures"`
	Defects       uint64    `json:"defects"`
	Interrupted   uint64    `json:"interrupted"`
	LastCalledAt  time.Time `json:"last_called_at"`
	AvgDurationMS float64   `json:"avg_duration_ms"`
}

// Snapshot provides a point-in-time view of bridge metrics.
type Snapshot struct {
	TotalCalls    uint64                    `json:"total_calls"`
	TotalDefects  uint64                    `json:"total_defects"`
	MethodMetrics map[string]*MethodMetrics `json:"method_metrics"`
	CollectedAt   time.Time                 `json:"collected_at"`
}

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wireflow",
			Subsystem: "bridge",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newGaugeVec(name, help string, labels []string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "wireflow",
			Subsystem: "bridge",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newHistogramVec(name, help string, buckets []float64, labels []string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wireflow",
			Subsystem: "bridge",
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		},
		labels,
	)
}

// New creates a metrics collector. A nil registerer falls back to the
// Prometheus default registerer.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		methodCounts:    make(map[string]*MethodMetrics),
		registerer:      registerer,
		callsTotal:      newCounterVec("calls_total", "Total number of dispatched calls by method and outcome", []string{"method", "outcome"}),
		callSecondsHist: newHistogramVec("call_duration_seconds", "Time spent dispatching a call, decode to encode", []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10}, []string{"method"}),
		eventsPublished: newCounterVec("events_published_total", "Total number of events accepted into the outbound queue", []string{"event"}),
		eventsDropped:   newCounterVec("events_dropped_total", "Total number of events dropped before reaching the target", []string{"event", "reason"}),
		queueDepthGauge: newGaugeVec("event_queue_depth", "Current number of events waiting in the outbound queue", []string{"publisher"}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.callsTotal,
		m.callSecondsHist,
		m.eventsPublished,
		m.eventsDropped,
		m.queueDepthGauge,
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// RecordCall records one dispatched call with its outcome and duration.
func (m *Metrics) RecordCall(method, outcome string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.getOrCreateMethodMetrics(method)
	stats.Calls++
	stats.LastCalledAt = time.Now()
	switch outcome {
	case OutcomeSuccess:
		stats.Successes++
	case OutcomeFailure:
		stats.Failures++
	case OutcomeDefect:
		stats.Defects++
	case OutcomeInterrupted:
		stats.Interrupted++
	}

	total := stats.Calls
	ms := float64(duration.Milliseconds())
	stats.AvgDurationMS = ((stats.AvgDurationMS * float64(total-1)) + ms) / float64(total)

	m.callsTotal.WithLabelValues(method, outcome).Inc()
	m.callSecondsHist.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordEventPublished records one event accepted into the queue.
func (m *Metrics) RecordEventPublished(event string) {
	m.eventsPublished.WithLabelValues(event).Inc()
}

// RecordEventDropped records one event dropped for the given reason.
func (m *Metrics) RecordEventDropped(event, reason string) {
	m.eventsDropped.WithLabelValues(event, reason).Inc()
}

// SetQueueDepth reports the current queue depth for a publisher.
func (m *Metrics) SetQueueDepth(publisher string, depth int) {
	m.queueDepthGauge.WithLabelValues(publisher).Set(float64(depth))
}

// GetSnapshot returns a point-in-time snapshot of call metrics.
func (m *Metrics) GetSnapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := Snapshot{
		MethodMetrics: make(map[string]*MethodMetrics),
		CollectedAt:   time.Now(),
	}

	for method, stats := range m.methodCounts {
		statsCopy := *stats
		snapshot.MethodMetrics[method] = &statsCopy
		snapshot.TotalCalls += stats.Calls
		snapshot.TotalDefects += stats.Defects
	}

	return snapshot
}

func (m *Metrics) getOrCreateMethodMetrics(method string) *MethodMetrics {
	if stats, ok := m.methodCounts[method]; ok {
		return stats
	}
	stats := &MethodMetrics{}
	m.methodCounts[method] = stats
	return stats
}

// Reset clears all metrics (useful for testing).
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.methodCounts = make(map[string]*MethodMetrics)
	m.callsTotal.Reset()
	m.callSecondsHist.Reset()
	m.eventsPublished.Reset()
	m.eventsDropped.Reset()
	m.queueDepthGauge.Reset()
}
