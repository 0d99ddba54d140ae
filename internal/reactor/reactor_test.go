package reactor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dagsched/internal/dslog"
	"dagsched/internal/subworker"
)

type fakeHandle struct {
	started []int64
}

func (h *fakeHandle) Start(ctx context.Context, taskID int64) {
	h.started = append(h.started, taskID)
}

func newTestReactor(slots int) (*Reactor, *subworker.Pool, chan FetchRequest, chan Output) {
	handles := make([]subworker.Handle, slots)
	for i := range handles {
		handles[i] = &fakeHandle{}
	}
	pool := subworker.NewPool(handles, slots)
	fetchReqs := make(chan FetchRequest, 16)
	outputs := make(chan Output, 16)
	r := New(1, pool, fetchReqs, outputs, dslog.New(dslog.ErrorLevel), nil)
	return r, pool, fetchReqs, outputs
}

func TestOnAssignWithNoDepsStartsImmediately(t *testing.T) {
	r, pool, _, _ := newTestReactor(1)
	r.OnAssign(10, nil, 0, 0)

	assert.Equal(t, 1, r.TaskCount())
	assert.Equal(t, 0, r.ReadyDepth(), "the only ready task should already have been popped and started")
	_, ok := pool.Acquire()
	assert.False(t, ok, "the pool's one slot should already be in use")
}

func TestOnAssignWithRemoteDepRequestsFetchAndWaits(t *testing.T) {
	r, _, fetchReqs, _ := newTestReactor(1)
	r.OnAssign(20, []DependencyInput{
		{ID: 1, Size: 100, CandidateWorkers: []int64{2, 3}, CandidateAddrs: map[int64]string{2: "host2:1", 3: "host3:1"}},
	}, 5, 0)

	require.Equal(t, 1, r.TaskCount())
	select {
	case req := <-fetchReqs:
		assert.Equal(t, int64(1), req.ID)
		assert.Equal(t, []int64{2, 3}, req.CandidateWorkers)
		assert.Equal(t, "host2:1", req.CandidateAddrs[2])
		assert.Equal(t, int64(5), req.UserPriority)
	default:
		t.Fatal("expected a fetch request to be enqueued")
	}
}

func TestOnDataDownloadedUnblocksWaitingTaskAndStarts(t *testing.T) {
	r, _, _, outputs := newTestReactor(1)
	r.OnAssign(30, []DependencyInput{{ID: 1, Size: 8, CandidateWorkers: []int64{2}}}, 0, 0)
	assert.Equal(t, 0, r.ReadyDepth())

	r.OnDataDownloaded(1, 8, []byte("12345678"), "pickle")

	select {
	case out := <-outputs:
		assert.Equal(t, DataDownloadedOutput{ID: 1}, out)
	default:
		t.Fatal("expected a DataDownloadedOutput")
	}
	assert.Equal(t, 0, r.ReadyDepth(), "task should have been popped and started, not left ready")
}

func TestOnTaskFinishedRegistersLocalDataAndReportsUpstream(t *testing.T) {
	r, _, _, outputs := newTestReactor(1)
	r.OnAssign(40, nil, 0, 0)

	r.OnTaskFinished(0, 40, 4, []byte("data"), "pickle")

	select {
	case out := <-outputs:
		assert.Equal(t, TaskFinishedOutput{ID: 40, Size: 4}, out)
	default:
		t.Fatal("expected a TaskFinishedOutput")
	}
	bytes, serializer, ok := r.LocalData(40)
	require.True(t, ok)
	assert.Equal(t, []byte("data"), bytes)
	assert.Equal(t, "pickle", serializer)
	assert.Equal(t, 0, r.TaskCount())
}

func TestOnTaskErredReportsFailureAndFreesSlot(t *testing.T) {
	r, pool, _, outputs := newTestReactor(1)
	r.OnAssign(50, nil, 0, 0)

	r.OnTaskErred(0, 50, "boom")

	select {
	case out := <-outputs:
		assert.Equal(t, TaskErredOutput{ID: 50, Err: "boom"}, out)
	default:
		t.Fatal("expected a TaskErredOutput")
	}
	slot, ok := pool.Acquire()
	require.True(t, ok, "slot should have been released back to the pool")
	assert.Equal(t, 0, slot)
}

func TestOnStealRunningTaskReportsRunning(t *testing.T) {
	r, _, _, _ := newTestReactor(1)
	r.OnAssign(60, nil, 0, 0)

	assert.Equal(t, StealRunning, r.OnSteal(60))
}

func TestOnStealWaitingTaskRemovesIt(t *testing.T) {
	r, _, _, _ := newTestReactor(0)
	r.OnAssign(70, nil, 0, 0)
	assert.Equal(t, 1, r.ReadyDepth())

	assert.Equal(t, StealOk, r.OnSteal(70))
	assert.Equal(t, 0, r.TaskCount())
	assert.Equal(t, 0, r.ReadyDepth())
}

func TestOnStealUnknownTaskReportsNotHere(t *testing.T) {
	r, _, _, _ := newTestReactor(1)
	assert.Equal(t, StealNotHere, r.OnSteal(999))
}

func TestOnRemoveDataWithLiveConsumersIsProtocolViolation(t *testing.T) {
	r, _, _, _ := newTestReactor(0)
	r.OnAssign(80, []DependencyInput{{ID: 1, Size: 1, CandidateWorkers: []int64{2}}}, 0, 0)

	err := r.OnRemoveData(1)
	require.Error(t, err)
}

func TestOnRemoveDataEvictsAndReports(t *testing.T) {
	r, _, _, outputs := newTestReactor(1)
	r.OnAssign(90, nil, 0, 0)
	r.OnTaskFinished(0, 90, 1, []byte("x"), "pickle")
	<-outputs // drain TaskFinishedOutput

	require.NoError(t, r.OnRemoveData(90))
	select {
	case out := <-outputs:
		assert.Equal(t, DataRemovedOutput{ID: 90}, out)
	default:
		t.Fatal("expected a DataRemovedOutput")
	}
	_, _, ok := r.LocalData(90)
	assert.False(t, ok)
}

func TestOnFetchFailedEmitsDataUnavailable(t *testing.T) {
	r, _, _, outputs := newTestReactor(0)
	r.OnAssign(100, []DependencyInput{{ID: 5, Size: 1, CandidateWorkers: []int64{2}}}, 0, 0)

	r.OnFetchFailed(5)

	select {
	case out := <-outputs:
		assert.Equal(t, DataUnavailableOutput{ID: 5}, out)
	default:
		t.Fatal("expected a DataUnavailableOutput")
	}
}

func TestDuplicateAssignIsIgnored(t *testing.T) {
	r, _, _, _ := newTestReactor(1)
	r.OnAssign(110, nil, 0, 0)
	r.OnAssign(110, nil, 9, 9)
	assert.Equal(t, 1, r.TaskCount())
}
