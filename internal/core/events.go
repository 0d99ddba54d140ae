package core

// Event is one input delivered over the bridge, processed by the scheduler
// one at a time in receipt order (§4.1).
type Event interface{ isEvent() }

// StealOutcome mirrors wire.StealOutcome without importing the wire
// package — the scheduler core is transport-agnostic; the gateway
// translates between the two.
type StealOutcome int

const (
	StealOk StealOutcome = iota
	StealRunning
	StealNotHere
)

// TaskSubmit is a client's request to add a task to the graph.
type TaskSubmit struct {
	ID             int64
	Deps           []int64
	ClientPriority int64
	ExpectedSize   *int64
}

func (TaskSubmit) isEvent() {}

// TaskFinishedEvent reports a successful task completion on a worker.
type TaskFinishedEvent struct {
	Worker     int64
	ID         int64
	ActualSize int64
}

func (TaskFinishedEvent) isEvent() {}

// TaskErredEvent reports a task failure on a worker.
type TaskErredEvent struct {
	Worker int64
	ID     int64
	Err    string
}

func (TaskErredEvent) isEvent() {}

// TaskStealResponseEvent is a worker's answer to a previously emitted
// Steal output.
type TaskStealResponseEvent struct {
	Worker  int64
	ID      int64
	Outcome StealOutcome
}

func (TaskStealResponseEvent) isEvent() {}

// DataRemovedEvent reports a worker evicting a local data object.
type DataRemovedEvent struct {
	Worker int64
	ID     int64
}

func (DataRemovedEvent) isEvent() {}

// DataDownloadedEvent reports a worker landing a peer-fetched copy of a
// dependency locally, growing that data object's candidate-worker set for
// future placement decisions.
type DataDownloadedEvent struct {
	Worker int64
	ID     int64
}

func (DataDownloadedEvent) isEvent() {}

// WorkerAddedEvent reports a new worker handshake.
type WorkerAddedEvent struct {
	ID    int64
	Addr  string
	NCPUs int
}

func (WorkerAddedEvent) isEvent() {}

// WorkerLostEvent reports a worker disconnect.
type WorkerLostEvent struct {
	ID int64
}

func (WorkerLostEvent) isEvent() {}

// ClientReleaseEvent reports a client releasing interest in a task output.
type ClientReleaseEvent struct {
	ID int64
}

func (ClientReleaseEvent) isEvent() {}

// TickEvent drives periodic rebalancing; delivered on a fixed interval
// rather than over the bridge channel.
type TickEvent struct{}

func (TickEvent) isEvent() {}

// Output is one decision produced synchronously while handling an event.
type Output interface{ isOutput() }

// DependencyRef describes one dependency as advertised to the assigned
// worker. CandidateAddrs carries each candidate's listen_address keyed by
// id alongside CandidateWorkers, so the assigned worker's data fetcher can
// dial a peer it has never otherwise heard of (§4.4: "on worker handshake
// [the gateway] records listen_address so peer fetches can be routed" —
// this is the field that makes the recorded address reach the worker
// side).
type DependencyRef struct {
	ID               int64
	Size             int64
	CandidateWorkers []int64
	CandidateAddrs   map[int64]string
}

// AssignOutput instructs the gateway to send a ComputeTask frame to Worker.
type AssignOutput struct {
	Worker           int64
	Task             int64
	Deps             []DependencyRef
	ClientPriority   int64
	InternalPriority int64
}

func (AssignOutput) isOutput() {}

// StealOutput instructs the gateway to send a StealRequest frame to
// FromWorker.
type StealOutput struct {
	FromWorker int64
	Task       int64
}

func (StealOutput) isOutput() {}

// RemoveTaskOutput instructs the gateway to send a DeleteData frame to
// Worker for Task.
type RemoveTaskOutput struct {
	Worker int64
	Task   int64
}

func (RemoveTaskOutput) isOutput() {}

// KeyFinishedOutput instructs the gateway to notify clients that Task's
// output is ready.
type KeyFinishedOutput struct {
	Task int64
}

func (KeyFinishedOutput) isOutput() {}

// KeyErredOutput instructs the gateway to notify clients that Task failed.
type KeyErredOutput struct {
	Task int64
	Err  string
}

func (KeyErredOutput) isOutput() {}
