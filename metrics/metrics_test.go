package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func newTestRecorder(t *testing.T) (*Recorder, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewRecorder(reg), reg
}

func TestRecorderDisableSuppressesUpdates(t *testing.T) {
	r, _ := newTestRecorder(t)
	r.Disable()
	r.SetStagesExecuting(5)

	m := &dto.Metric{}
	if err := r.stagesExecuting.Write(m); err != nil {
		t.Fatalf("write: %v", err)
	}
	if m.GetGauge().GetValue() != 0 {
		t.Fatalf("expected gauge unchanged while disabled, got %v", m.GetGauge().GetValue())
	}

	r.Enable()
	r.SetStagesExecuting(5)
	m2 := &dto.Metric{}
	if err := r.stagesExecuting.Write(m2); err != nil {
		t.Fatalf("write: %v", err)
	}
	if m2.GetGauge().GetValue() != 5 {
		t.Fatalf("expected gauge 5 after enable, got %v", m2.GetGauge().GetValue())
	}
}

func TestRecorderRecordsLatencyAndRetries(t *testing.T) {
	r, _ := newTestRecorder(t)
	r.RecordStageLatency("billing", "success", 120*time.Millisecond)
	r.IncrementStageRetries("billing", "transient")
	r.IncrementPlacementMerges()
	r.IncrementDurableSuspensions("durChain")
	// No panics and metrics registered successfully is the contract here;
	// detailed label assertions are covered by prometheus's own test suite.
}
