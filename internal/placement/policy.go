// Package placement implements the scheduler's placement policies:
// WorkStealing (cost-function load balancing with periodic rebalance) and
// Random (uniform over workers with free capacity). Both are pure decision
// procedures over a read-only View of scheduler state; all mutation happens
// in internal/core, per the spec's requirement that policies be pure
// w.r.t. the snapshot passed in.
//
// WorkStealing is grounded on the teacher's work-stealing scheduler
// (pkg/distributed/work_stealing.go: WorkStealingScheduler, peer load
// comparison, steal-from-busiest), generalized from job-stealing between
// worker-pool nodes to task-placement-among-cluster-workers, and from a
// lock-free deque's queue-depth load metric to the spec's
// len(assigned-but-unfinished) load metric.
package placement

// WorkerID and TaskID mirror the opaque 64-bit identifiers of the data
// model; defined locally so this package has no dependency on internal/core.
type WorkerID = int64
type TaskID = int64

// View is the read-only snapshot a Policy consults. internal/core.Graph
// implements it; Policy implementations must not retain a View across
// calls or mutate anything reachable from it.
type View interface {
	// Workers lists every currently connected worker.
	Workers() []WorkerID
	// Load is the number of tasks assigned-but-unfinished on w.
	Load(w WorkerID) int
	// NCPUs is the worker's subworker slot count.
	NCPUs(w WorkerID) int
	// RemoteBytes is the sum of sizes of task's dependencies not already
	// held by w.
	RemoteBytes(w WorkerID, task TaskID) int64
	// StealCandidates lists tasks currently on w in Waiting or Assigned
	// state (never Running — a task never pre-empts a running subworker).
	StealCandidates(w WorkerID) []TaskID
}

// StealCommand instructs the core to propose migrating a task off a
// worker.
type StealCommand struct {
	FromWorker WorkerID
	Task       TaskID
}

// Policy is the two-method interface every placement variant implements.
type Policy interface {
	// PickTarget chooses a worker for an eligible (Waiting(0)) task. The
	// second return value is false when no worker is connected at all.
	PickTarget(task TaskID, view View) (WorkerID, bool)
	// Rebalance inspects load across all workers and proposes steals for
	// an overloaded worker's non-running tasks. Called on every Tick.
	Rebalance(view View) []StealCommand
}
