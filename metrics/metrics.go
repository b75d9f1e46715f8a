// Package metrics provides Prometheus-compatible instrumentation for the
// workflow engine, placement planner, and durable runtime.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder collects metrics across the lifetime of one controller process
// (potentially many concurrent engines, one per in-flight request).
//
// Metrics exposed (namespaced "flowmesh_"):
//
//  1. stages_executing (gauge): stages currently EXECUTING, across all engines.
//  2. engine_poll_depth (gauge): number of PENDING+EXECUTING stages an engine
//     is tracking, per namespace — a proxy for in-flight fan-out.
//  3. stage_latency_ms (histogram): wall-clock time from EXECUTING to
//     SUCCESS/FAILURE, labeled by stage and outcome.
//  4. stage_retries_total (counter): stage invocation retries, labeled by
//     stage and reason.
//  5. placement_merge_total (counter): accepted critical-path group merges
//     performed by the placement planner.
//  6. durable_suspensions_total (counter): DurableSuspend signals raised,
//     labeled func_name; the durable runtime passes the orchestrator
//     instance id as its value.
type Recorder struct {
	stagesExecuting   prometheus.Gauge
	enginePollDepth   *prometheus.GaugeVec
	stageLatency      *prometheus.HistogramVec
	stageRetries      *prometheus.CounterVec
	placementMerges   prometheus.Counter
	durableSuspension *prometheus.CounterVec

	mu      sync.RWMutex
	enabled bool
}

// NewRecorder registers all metrics with the given registry. A nil registry
// uses prometheus.DefaultRegisterer.
func NewRecorder(registry prometheus.Registerer) *Recorder {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Recorder{
		enabled: true,
		stagesExecuting: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "flowmesh",
			Name:      "stages_executing",
			Help:      "Current number of stage invocations in EXECUTING state across all engines",
		}),
		enginePollDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "flowmesh",
			Name:      "engine_poll_depth",
			Help:      "Number of non-SUCCESS stages an engine is tracking for one workflow instance",
		}, []string{"namespace"}),
		stageLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flowmesh",
			Name:      "stage_latency_ms",
			Help:      "Stage invocation duration in milliseconds, from dispatch to terminal status",
			Buckets:   []float64{5, 25, 100, 500, 1000, 5000, 10000, 30000, 60000},
		}, []string{"stage", "status"}),
		stageRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowmesh",
			Name:      "stage_retries_total",
			Help:      "Cumulative count of stage invocation retries",
		}, []string{"stage", "reason"}),
		placementMerges: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "flowmesh",
			Name:      "placement_merge_total",
			Help:      "Accepted critical-path stage group merges performed by the placement planner",
		}),
		durableSuspension: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowmesh",
			Name:      "durable_suspensions_total",
			Help:      "DurableSuspend signals raised by orchestrator functions",
		}, []string{"func_name"}),
	}
}

func (r *Recorder) RecordStageLatency(stage, status string, d time.Duration) {
	if !r.isEnabled() {
		return
	}
	r.stageLatency.WithLabelValues(stage, status).Observe(float64(d.Milliseconds()))
}

func (r *Recorder) IncrementStageRetries(stage, reason string) {
	if !r.isEnabled() {
		return
	}
	r.stageRetries.WithLabelValues(stage, reason).Inc()
}

func (r *Recorder) SetStagesExecuting(n int) {
	if !r.isEnabled() {
		return
	}
	r.stagesExecuting.Set(float64(n))
}

func (r *Recorder) SetEnginePollDepth(namespace string, depth int) {
	if !r.isEnabled() {
		return
	}
	r.enginePollDepth.WithLabelValues(namespace).Set(float64(depth))
}

func (r *Recorder) IncrementPlacementMerges() {
	if !r.isEnabled() {
		return
	}
	r.placementMerges.Inc()
}

func (r *Recorder) IncrementDurableSuspensions(funcName string) {
	if !r.isEnabled() {
		return
	}
	r.durableSuspension.WithLabelValues(funcName).Inc()
}

func (r *Recorder) Disable() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = false
}

func (r *Recorder) Enable() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = true
}

func (r *Recorder) isEnabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled
}
