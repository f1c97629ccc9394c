package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordLineCompleted(t *testing.T) {
	initial := testutil.ToFloat64(linesTotal.With(prometheus.Labels{"status": "completed"}))
	RecordLineCompleted("completed")
	got := testutil.ToFloat64(linesTotal.With(prometheus.Labels{"status": "completed"}))
	if got != initial+1 {
		t.Errorf("expected count to increment by 1, got initial=%f, new=%f", initial, got)
	}
}

func TestRecordNodeDuration(t *testing.T) {
	before := testutil.CollectAndCount(nodeDuration)
	RecordNodeDuration("classify-duration-test-node", 0.5)
	RecordNodeDuration("classify-duration-test-node", 1.5)
	after := testutil.CollectAndCount(nodeDuration)
	if after != before+1 {
		t.Errorf("expected a new histogram series for a new node label, before=%d, after=%d", before, after)
	}
}

func TestRecordCacheLookup(t *testing.T) {
	initialHit := testutil.ToFloat64(cacheLookups.With(prometheus.Labels{"result": "hit"}))
	initialMiss := testutil.ToFloat64(cacheLookups.With(prometheus.Labels{"result": "miss"}))

	RecordCacheLookup(true)
	RecordCacheLookup(false)

	if got := testutil.ToFloat64(cacheLookups.With(prometheus.Labels{"result": "hit"})); got != initialHit+1 {
		t.Errorf("expected hit count to increment by 1, got initial=%f, new=%f", initialHit, got)
	}
	if got := testutil.ToFloat64(cacheLookups.With(prometheus.Labels{"result": "miss"})); got != initialMiss+1 {
		t.Errorf("expected miss count to increment by 1, got initial=%f, new=%f", initialMiss, got)
	}
}

func TestRecordPersistenceError_MultipleIncrements(t *testing.T) {
	operation := "PersistNodeRun"
	errorType := "io_error"

	initial := testutil.ToFloat64(persistenceErrors.With(prometheus.Labels{
		"operation":  operation,
		"error_type": errorType,
	}))

	for i := 0; i < 5; i++ {
		RecordPersistenceError(operation, errorType)
	}

	got := testutil.ToFloat64(persistenceErrors.With(prometheus.Labels{
		"operation":  operation,
		"error_type": errorType,
	}))
	if got != initial+5 {
		t.Errorf("expected count to increment by 5, got initial=%f, new=%f", initial, got)
	}
}
