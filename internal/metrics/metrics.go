// Package metrics exports coordinator activity as Prometheus collectors.
//
// All Record methods are safe to call on a nil *Exporter, so components can
// run without metrics wired in.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/me/wdist/pkg/model"
	prom "github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "wdist"

// Options controls collector configuration.
type Options struct {
	Namespace       string
	DurationBuckets []float64
}

// Exporter records coordinator events into Prometheus collectors.
type Exporter struct {
	framesTotal       *prom.CounterVec
	framesDropped     *prom.CounterVec
	tasksSubmitted    prom.Counter
	tasksFinished     *prom.CounterVec
	taskDuration      prom.Histogram
	dispatchTotal     *prom.CounterVec
	livenessDemotions prom.Counter
	workers           *prom.GaugeVec
	queueDepth        prom.Gauge
	connections       prom.Gauge
	pendingReplies    prom.Gauge
}

// New creates and registers the coordinator's collectors. Registering twice
// against the same registry reuses the existing collectors.
func New(reg prom.Registerer, opts Options) (*Exporter, error) {
	ns := opts.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}

	framesTotal := prom.NewCounterVec(prom.CounterOpts{
		Namespace: ns,
		Name:      "frames_received_total",
		Help:      "Inbound protocol frames by type.",
	}, []string{"type"})
	framesDropped := prom.NewCounterVec(prom.CounterOpts{
		Namespace: ns,
		Name:      "frames_dropped_total",
		Help:      "Inbound frames dropped without effect, by reason.",
	}, []string{"reason"})
	tasksSubmitted := prom.NewCounter(prom.CounterOpts{
		Namespace: ns,
		Name:      "tasks_submitted_total",
		Help:      "Tasks accepted into the queue.",
	})
	tasksFinished := prom.NewCounterVec(prom.CounterOpts{
		Namespace: ns,
		Name:      "tasks_finished_total",
		Help:      "Tasks that reached a terminal status.",
	}, []string{"status"})
	taskDuration := prom.NewHistogram(prom.HistogramOpts{
		Namespace: ns,
		Name:      "task_duration_seconds",
		Help:      "Time from submission to terminal status.",
		Buckets:   buckets,
	})
	dispatchTotal := prom.NewCounterVec(prom.CounterOpts{
		Namespace: ns,
		Name:      "dispatch_total",
		Help:      "EXECUTE sends to workers by outcome.",
	}, []string{"outcome"})
	livenessDemotions := prom.NewCounter(prom.CounterOpts{
		Namespace: ns,
		Name:      "liveness_demotions_total",
		Help:      "Workers marked disconnected after missing heartbeats.",
	})
	workers := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: ns,
		Name:      "workers",
		Help:      "Registered workers by status.",
	}, []string{"status"})
	queueDepth := prom.NewGauge(prom.GaugeOpts{
		Namespace: ns,
		Name:      "queue_depth",
		Help:      "Pending tasks waiting for a worker.",
	})
	connections := prom.NewGauge(prom.GaugeOpts{
		Namespace: ns,
		Name:      "connections",
		Help:      "Open TCP connections.",
	})
	pendingReplies := prom.NewGauge(prom.GaugeOpts{
		Namespace: ns,
		Name:      "pending_replies",
		Help:      "Admin callers waiting for a RESULT.",
	})

	var err error
	if framesTotal, err = registerCollector(reg, framesTotal); err != nil {
		return nil, err
	}
	if framesDropped, err = registerCollector(reg, framesDropped); err != nil {
		return nil, err
	}
	if tasksSubmitted, err = registerCollector(reg, tasksSubmitted); err != nil {
		return nil, err
	}
	if tasksFinished, err = registerCollector(reg, tasksFinished); err != nil {
		return nil, err
	}
	if taskDuration, err = registerCollector(reg, taskDuration); err != nil {
		return nil, err
	}
	if dispatchTotal, err = registerCollector(reg, dispatchTotal); err != nil {
		return nil, err
	}
	if livenessDemotions, err = registerCollector(reg, livenessDemotions); err != nil {
		return nil, err
	}
	if workers, err = registerCollector(reg, workers); err != nil {
		return nil, err
	}
	if queueDepth, err = registerCollector(reg, queueDepth); err != nil {
		return nil, err
	}
	if connections, err = registerCollector(reg, connections); err != nil {
		return nil, err
	}
	if pendingReplies, err = registerCollector(reg, pendingReplies); err != nil {
		return nil, err
	}

	return &Exporter{
		framesTotal:       framesTotal,
		framesDropped:     framesDropped,
		tasksSubmitted:    tasksSubmitted,
		tasksFinished:     tasksFinished,
		taskDuration:      taskDuration,
		dispatchTotal:     dispatchTotal,
		livenessDemotions: livenessDemotions,
		workers:           workers,
		queueDepth:        queueDepth,
		connections:       connections,
		pendingReplies:    pendingReplies,
	}, nil
}

// RecordFrame counts an inbound frame.
func (m *Exporter) RecordFrame(frameType string) {
	if m == nil {
		return
	}
	m.framesTotal.WithLabelValues(normalizeLabel(frameType, "unknown")).Inc()
}

// RecordDropped counts a frame that was ignored.
func (m *Exporter) RecordDropped(reason string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(normalizeLabel(reason, "unknown")).Inc()
}

// RecordSubmitted counts a newly queued task.
func (m *Exporter) RecordSubmitted() {
	if m == nil {
		return
	}
	m.tasksSubmitted.Inc()
}

// RecordFinished counts a task reaching a terminal status.
func (m *Exporter) RecordFinished(status model.TaskStatus, d time.Duration) {
	if m == nil {
		return
	}
	m.tasksFinished.WithLabelValues(normalizeLabel(string(status), "unknown")).Inc()
	if d > 0 {
		m.taskDuration.Observe(d.Seconds())
	}
}

// RecordDispatch counts one EXECUTE send attempt.
func (m *Exporter) RecordDispatch(ok bool) {
	if m == nil {
		return
	}
	outcome := "sent"
	if !ok {
		outcome = "failed"
	}
	m.dispatchTotal.WithLabelValues(outcome).Inc()
}

// RecordDemotion counts a liveness timeout.
func (m *Exporter) RecordDemotion() {
	if m == nil {
		return
	}
	m.livenessDemotions.Inc()
}

// RecordWorkers sets the per-status worker gauges. Statuses missing from
// counts are reset to zero.
func (m *Exporter) RecordWorkers(counts map[model.WorkerStatus]int) {
	if m == nil {
		return
	}
	for _, s := range []model.WorkerStatus{
		model.WorkerStatusConnected,
		model.WorkerStatusIdle,
		model.WorkerStatusBusy,
		model.WorkerStatusDisconnected,
	} {
		m.workers.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}

// RecordQueueDepth sets the pending task gauge.
func (m *Exporter) RecordQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// RecordConnections sets the open connection gauge.
func (m *Exporter) RecordConnections(n int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(n))
}

// RecordPendingReplies sets the open correlation gauge.
func (m *Exporter) RecordPendingReplies(n int) {
	if m == nil {
		return
	}
	m.pendingReplies.Set(float64(n))
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
