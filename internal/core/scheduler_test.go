package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dagsched/internal/placement"
)

func newTestScheduler(policy placement.Policy) *Scheduler {
	return NewScheduler(policy, time.Hour, 16, 16, nil, nil)
}

func drainOutputs(s *Scheduler) []Output {
	var out []Output
	for {
		select {
		case o := <-s.outbound:
			out = append(out, o)
		default:
			return out
		}
	}
}

func TestLinearChainAssignsOnlyWhenReady(t *testing.T) {
	s := newTestScheduler(placement.NewWorkStealing(1.0, 0.0))

	s.handle(WorkerAddedEvent{ID: 1, Addr: "w1:1", NCPUs: 4})
	s.handle(TaskSubmit{ID: 10})
	outs := drainOutputs(s)
	require.Len(t, outs, 1)
	assign, ok := outs[0].(AssignOutput)
	require.True(t, ok)
	assert.Equal(t, int64(10), assign.Task)

	s.handle(TaskSubmit{ID: 20, Deps: []int64{10}})
	// 20 depends on 10, which hasn't finished: no assignment yet.
	assert.Empty(t, drainOutputs(s))
	assert.Equal(t, TaskWaiting, s.graph.tasks[20].State)
	assert.Equal(t, 1, s.graph.tasks[20].WaitCount)

	s.handle(TaskFinishedEvent{Worker: 1, ID: 10, ActualSize: 100})
	outs = drainOutputs(s)
	// KeyFinishedOutput for 10, then AssignOutput for 20.
	require.Len(t, outs, 2)
	assert.Equal(t, TaskAssigned, s.graph.tasks[20].State)
}

func TestTaskSubmitBeforeDependencyBackfillsConsumerLink(t *testing.T) {
	s := newTestScheduler(placement.NewWorkStealing(1.0, 0.0))
	s.handle(WorkerAddedEvent{ID: 1, Addr: "w1", NCPUs: 4})

	// A client's UpdateGraph batch may list a consumer before its
	// producer; submit 20 (depends on 10) before 10 itself exists.
	s.handle(TaskSubmit{ID: 20, Deps: []int64{10}})
	assert.Equal(t, 1, s.graph.tasks[20].WaitCount)

	s.handle(TaskSubmit{ID: 10})
	outs := drainOutputs(s)
	var sawAssign10 bool
	for _, o := range outs {
		if a, ok := o.(AssignOutput); ok && a.Task == 10 {
			sawAssign10 = true
		}
	}
	require.True(t, sawAssign10)

	s.handle(TaskFinishedEvent{Worker: 1, ID: 10, ActualSize: 100})
	outs = drainOutputs(s)
	assert.Equal(t, TaskAssigned, s.graph.tasks[20].State)
	var sawAssign20 bool
	for _, o := range outs {
		if a, ok := o.(AssignOutput); ok && a.Task == 20 {
			sawAssign20 = true
		}
	}
	assert.True(t, sawAssign20)
}

func TestFanInWaitsForAllDeps(t *testing.T) {
	s := newTestScheduler(placement.NewWorkStealing(1.0, 0.0))
	s.handle(WorkerAddedEvent{ID: 1, Addr: "w1", NCPUs: 4})

	s.handle(TaskSubmit{ID: 1})
	s.handle(TaskSubmit{ID: 2})
	drainOutputs(s)

	s.handle(TaskSubmit{ID: 3, Deps: []int64{1, 2}})
	assert.Equal(t, 2, s.graph.tasks[3].WaitCount)

	s.handle(TaskFinishedEvent{Worker: 1, ID: 1, ActualSize: 1})
	drainOutputs(s)
	assert.Equal(t, TaskWaiting, s.graph.tasks[3].State)
	assert.Equal(t, 1, s.graph.tasks[3].WaitCount)

	s.handle(TaskFinishedEvent{Worker: 1, ID: 2, ActualSize: 1})
	outs := drainOutputs(s)
	assert.Equal(t, TaskAssigned, s.graph.tasks[3].State)

	var sawAssign bool
	for _, o := range outs {
		if a, ok := o.(AssignOutput); ok && a.Task == 3 {
			sawAssign = true
			require.Len(t, a.Deps, 2)
		}
	}
	assert.True(t, sawAssign)
}

func TestErrorPropagatesToConsumers(t *testing.T) {
	s := newTestScheduler(placement.NewWorkStealing(1.0, 0.0))
	s.handle(WorkerAddedEvent{ID: 1, Addr: "w1", NCPUs: 4})
	s.handle(TaskSubmit{ID: 1})
	s.handle(TaskSubmit{ID: 2, Deps: []int64{1}})
	s.handle(TaskSubmit{ID: 3, Deps: []int64{2}})
	drainOutputs(s)

	s.handle(TaskErredEvent{Worker: 1, ID: 1, Err: "boom"})
	outs := drainOutputs(s)

	assert.Equal(t, TaskErred, s.graph.tasks[1].State)
	assert.Equal(t, TaskErred, s.graph.tasks[2].State)
	assert.Equal(t, TaskErred, s.graph.tasks[3].State)

	var erredCount int
	for _, o := range outs {
		if _, ok := o.(KeyErredOutput); ok {
			erredCount++
		}
	}
	assert.Equal(t, 3, erredCount)
}

func TestStealOkRevertsTaskToWaiting(t *testing.T) {
	s := newTestScheduler(placement.NewWorkStealing(1.0, 0.0))
	s.handle(WorkerAddedEvent{ID: 1, Addr: "w1", NCPUs: 4})
	s.handle(WorkerAddedEvent{ID: 2, Addr: "w2", NCPUs: 4})
	s.handle(TaskSubmit{ID: 1})
	drainOutputs(s)

	require.Equal(t, TaskAssigned, s.graph.tasks[1].State)
	assignedTo := s.graph.tasks[1].AssignedWorker

	s.graph.tasks[1].StealInFlight = true
	s.handle(TaskStealResponseEvent{Worker: assignedTo, ID: 1, Outcome: StealOk})

	assert.False(t, s.graph.tasks[1].StealInFlight)
	// tryAssignAll immediately re-places it since it's still Waiting(0).
	assert.Equal(t, TaskAssigned, s.graph.tasks[1].State)
}

func TestStealNotHereLeavesTaskInPlace(t *testing.T) {
	s := newTestScheduler(placement.NewWorkStealing(1.0, 0.0))
	s.handle(WorkerAddedEvent{ID: 1, Addr: "w1", NCPUs: 4})
	s.handle(TaskSubmit{ID: 1})
	drainOutputs(s)

	s.graph.tasks[1].StealInFlight = true
	s.handle(TaskStealResponseEvent{Worker: 1, ID: 1, Outcome: StealNotHere})

	assert.False(t, s.graph.tasks[1].StealInFlight)
	assert.Equal(t, TaskAssigned, s.graph.tasks[1].State)
	assert.Equal(t, int64(1), s.graph.tasks[1].AssignedWorker)
}

func TestWorkerLostRevertsAssignedTasksAndDataLocations(t *testing.T) {
	s := newTestScheduler(placement.NewWorkStealing(1.0, 0.0))
	s.handle(WorkerAddedEvent{ID: 1, Addr: "w1", NCPUs: 4})
	s.handle(WorkerAddedEvent{ID: 2, Addr: "w2", NCPUs: 4})

	// Task 1 lands on worker 1 (tie-break on equal cost); task 2 then costs
	// less on worker 2, landing there instead, so the two tasks end up on
	// distinct workers.
	s.handle(TaskSubmit{ID: 1})
	s.handle(TaskSubmit{ID: 2})
	drainOutputs(s)
	require.Equal(t, int64(1), s.graph.tasks[1].AssignedWorker)
	require.Equal(t, int64(2), s.graph.tasks[2].AssignedWorker)

	s.handle(TaskFinishedEvent{Worker: 1, ID: 1, ActualSize: 10})
	drainOutputs(s)

	s.handle(WorkerLostEvent{ID: 1})
	assert.Equal(t, TaskAssigned, s.graph.tasks[1].State, "finished task's sole location was lost, so it is re-placed on the surviving worker")
	assert.Equal(t, int64(2), s.graph.tasks[1].AssignedWorker)

	s.handle(WorkerLostEvent{ID: 2})
	assert.Equal(t, TaskWaiting, s.graph.tasks[2].State)
	assert.Equal(t, int64(0), s.graph.tasks[2].AssignedWorker)
}

func TestClientReleaseGarbageCollectsFinishedLeaf(t *testing.T) {
	s := newTestScheduler(placement.NewWorkStealing(1.0, 0.0))
	s.handle(WorkerAddedEvent{ID: 1, Addr: "w1", NCPUs: 4})
	s.handle(TaskSubmit{ID: 1})
	drainOutputs(s)
	s.handle(TaskFinishedEvent{Worker: 1, ID: 1, ActualSize: 5})
	drainOutputs(s)

	s.handle(ClientReleaseEvent{ID: 1})
	_, exists := s.graph.tasks[1]
	assert.False(t, exists)
	_, dataExists := s.graph.dataObjects[1]
	assert.False(t, dataExists)
}

func TestClientReleaseBeforeFinishGarbageCollectsOnCompletion(t *testing.T) {
	// S5: ReleaseKeys{A,B} arrives while A is still Running; neither A
	// nor B should linger once A finishes, and no Assign for B should
	// ever be observed.
	s := newTestScheduler(placement.NewWorkStealing(1.0, 0.0))
	s.handle(WorkerAddedEvent{ID: 1, Addr: "w1", NCPUs: 4})
	s.handle(TaskSubmit{ID: 1})
	s.handle(TaskSubmit{ID: 2, Deps: []int64{1}})
	drainOutputs(s)
	require.Equal(t, TaskAssigned, s.graph.tasks[1].State)

	s.handle(ClientReleaseEvent{ID: 1})
	s.handle(ClientReleaseEvent{ID: 2})
	// 1 is still Assigned/Running with consumer 2 recorded, so it is not
	// collectible yet. 2 is Waiting, unassigned, released, and has no
	// consumers of its own, so it is collectible immediately, which also
	// drops it from 1's consumer set.
	_, exists := s.graph.tasks[1]
	assert.True(t, exists)
	_, exists = s.graph.tasks[2]
	assert.False(t, exists, "B has no consumers of its own and should be collected as soon as it is released")
	assert.Empty(t, s.graph.tasks[1].Consumers)

	s.handle(TaskFinishedEvent{Worker: 1, ID: 1, ActualSize: 5})
	outs := drainOutputs(s)
	for _, o := range outs {
		_, isAssign := o.(AssignOutput)
		assert.False(t, isAssign, "B must never be assigned once both keys are released")
	}
	_, exists = s.graph.tasks[1]
	assert.False(t, exists, "A must be collected once finished and released with no consumers left")
	_, dataExists := s.graph.dataObjects[1]
	assert.False(t, dataExists)
}

func TestClientReleaseKeepsTaskWithLiveConsumer(t *testing.T) {
	s := newTestScheduler(placement.NewWorkStealing(1.0, 0.0))
	s.handle(WorkerAddedEvent{ID: 1, Addr: "w1", NCPUs: 4})
	s.handle(TaskSubmit{ID: 1})
	s.handle(TaskSubmit{ID: 2, Deps: []int64{1}})
	drainOutputs(s)
	s.handle(TaskFinishedEvent{Worker: 1, ID: 1, ActualSize: 5})
	drainOutputs(s)

	s.handle(ClientReleaseEvent{ID: 1})
	_, exists := s.graph.tasks[1]
	assert.True(t, exists, "task 2 still consumes task 1's output")
}

func TestDataDownloadedGrowsCandidateWorkers(t *testing.T) {
	s := newTestScheduler(placement.NewWorkStealing(1.0, 0.0))
	s.handle(WorkerAddedEvent{ID: 1, Addr: "w1", NCPUs: 4})
	s.handle(WorkerAddedEvent{ID: 2, Addr: "w2", NCPUs: 4})
	s.handle(TaskSubmit{ID: 1})
	drainOutputs(s)
	s.handle(TaskFinishedEvent{Worker: 1, ID: 1, ActualSize: 42})
	drainOutputs(s)

	assert.ElementsMatch(t, []int64{1}, s.graph.candidateWorkersFor(1))

	s.handle(DataDownloadedEvent{Worker: 2, ID: 1})
	assert.ElementsMatch(t, []int64{1, 2}, s.graph.candidateWorkersFor(1))
}

func TestTickProposesStealFromOverloadedWorker(t *testing.T) {
	s := newTestScheduler(placement.NewWorkStealing(1.0, 0.0))

	// Submit before any worker exists so all five pile onto the first
	// worker once it connects, then add a second, idle worker: tick
	// should propose migrating work onto it.
	for i := int64(1); i <= 5; i++ {
		s.handle(TaskSubmit{ID: i})
	}
	s.handle(WorkerAddedEvent{ID: 1, Addr: "w1", NCPUs: 8})
	s.handle(WorkerAddedEvent{ID: 2, Addr: "w2", NCPUs: 8})
	drainOutputs(s)
	require.Equal(t, 5, s.graph.Load(1))
	require.Equal(t, 0, s.graph.Load(2))

	s.handle(TickEvent{})
	outs := drainOutputs(s)
	var sawSteal bool
	for _, o := range outs {
		if _, ok := o.(StealOutput); ok {
			sawSteal = true
		}
	}
	assert.True(t, sawSteal)
}
