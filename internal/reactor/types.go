// Package reactor implements the worker-side state machine (§4.5): the
// Task/DataObject maps, the priority ready queue, and the operations that
// drive a task from assignment through to a finished or evicted data
// object. It is the single-goroutine counterpart to internal/core on the
// scheduler side — exclusively owning its worker's local state, the same
// way internal/core exclusively owns the cluster graph — grounded on
// original_source/src/worker/state.rs's WorkerState (add_dependancy,
// try_start_tasks, on_data_downloaded, remove_data, remove_task,
// steal_task), re-expressed as explicit Go methods that send the outputs
// they produce on the toScheduler channel passed to New.
package reactor

// TaskState is the reactor-side lifecycle state of a task, matching the
// original's three-state TaskState (Waiting/Running/Removed) rather than
// the scheduler's five: the worker never tracks Finished or Erred as a
// standing state, since a finished or failed task is reported upstream and
// then forgotten locally (see OnTaskFinished and OnTaskErred).
type TaskState int

const (
	TaskWaiting TaskState = iota
	TaskRunning
	TaskRemoved
)

func (s TaskState) String() string {
	switch s {
	case TaskWaiting:
		return "waiting"
	case TaskRunning:
		return "running"
	case TaskRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Task is the worker-side view of one assigned task.
type Task struct {
	ID               int64
	State            TaskState
	WaitCount        int
	Deps             []int64
	UserPriority     int64
	InternalPriority int64
	Slot             int // valid while State == TaskRunning
}

// DataObjectState is the reactor-side data lifecycle: Remote (known to
// exist elsewhere, not yet fetched), Local (bytes in hand), Removed
// (terminal, evicted).
type DataObjectState int

const (
	DataRemote DataObjectState = iota
	DataLocal
	DataRemoved
)

// DataObject is the worker-side view of one dependency or locally-produced
// output.
type DataObject struct {
	ID               int64
	Size             int64
	State            DataObjectState
	CandidateWorkers []int64
	CandidateAddrs   map[int64]string
	Serializer       string
	Bytes            []byte
	Consumers        map[int64]struct{}
}

func newDataObject(id int64, size int64, candidates []int64, addrs map[int64]string) *DataObject {
	return &DataObject{
		ID:               id,
		Size:             size,
		State:            DataRemote,
		CandidateWorkers: candidates,
		CandidateAddrs:   addrs,
		Consumers:        make(map[int64]struct{}),
	}
}

// DependencyInput describes one dependency as advertised by the scheduler's
// ComputeTask assignment.
type DependencyInput struct {
	ID               int64
	Size             int64
	CandidateWorkers []int64
	CandidateAddrs   map[int64]string
}

// StealOutcome mirrors wire.StealOutcome without importing wire — the
// reactor stays transport-agnostic like internal/core.
type StealOutcome int

const (
	StealOk StealOutcome = iota
	StealRunning
	StealNotHere
)
