package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordTaskLifecycle(t *testing.T) {
	r := NewRegistry()

	r.RecordTaskSubmitted("client-1")
	r.RecordTaskAssigned("worker-1")
	r.RecordTaskFinished("worker-1", 250*time.Millisecond)
	r.RecordTaskErred("worker-1", 10*time.Millisecond)
	r.RecordTaskStolen("worker-1", "worker-2")

	assert.Equal(t, float64(1), testutil.ToFloat64(r.tasksSubmittedTotal.WithLabelValues("client-1")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.tasksAssignedTotal.WithLabelValues("worker-1")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.tasksFinishedTotal.WithLabelValues("worker-1")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.tasksErredTotal.WithLabelValues("worker-1")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.tasksStolenTotal.WithLabelValues("worker-1", "worker-2")))
}

func TestGaugeSetters(t *testing.T) {
	r := NewRegistry()

	r.SetWorkersConnected(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(r.workersConnected))

	r.SetWorkerLoad("worker-1", 5)
	assert.Equal(t, float64(5), testutil.ToFloat64(r.workerLoad.WithLabelValues("worker-1")))

	r.SetReadyQueueDepth("global", 7)
	assert.Equal(t, float64(7), testutil.ToFloat64(r.readyQueueDepth.WithLabelValues("global")))

	r.SetBridgeDepth(42)
	assert.Equal(t, float64(42), testutil.ToFloat64(r.bridgeDepth))
}

func TestRecordProtocolError(t *testing.T) {
	r := NewRegistry()
	r.RecordProtocolError("worker")
	assert.Equal(t, float64(1), testutil.ToFloat64(r.protocolErrors.WithLabelValues("worker")))
}
