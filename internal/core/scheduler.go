package core

import (
	"context"
	"strconv"
	"time"

	"dagsched/internal/dslog"
	"dagsched/internal/metrics"
	"dagsched/internal/placement"
)

// Scheduler runs the central scheduling loop on one goroutine, mirroring
// the teacher's single-goroutine dispatch shape in
// pkg/replication/worker.go's WorkerPool.worker, specialized to a
// select-driven event reactor instead of a generic job queue.
type Scheduler struct {
	graph  *Graph
	policy placement.Policy
	logger dslog.Logger
	reg    *metrics.Registry

	tickInterval time.Duration

	inbound  chan Event
	outbound chan Output

	// stealTargets remembers which worker a StealOutput proposed migrating
	// to; nothing reads it back, and the entry is dropped when the steal
	// response arrives. The actual re-placement on an Ok response
	// goes back through the policy so it reflects the graph's state at
	// the moment the response lands, not the moment the steal was
	// proposed.
	stealTargets map[int64]int64
}

// NewScheduler builds a Scheduler. inboundBuffer/outboundBuffer size the
// bridge channels (internal/bridge wires the other end).
func NewScheduler(policy placement.Policy, tickInterval time.Duration, inboundBuffer, outboundBuffer int, logger dslog.Logger, reg *metrics.Registry) *Scheduler {
	return &Scheduler{
		graph:        newGraph(),
		policy:       policy,
		logger:       logger,
		reg:          reg,
		tickInterval: tickInterval,
		inbound:      make(chan Event, inboundBuffer),
		outbound:     make(chan Output, outboundBuffer),
		stealTargets: make(map[int64]int64),
	}
}

// Inbound returns the channel callers push Events onto.
func (s *Scheduler) Inbound() chan<- Event { return s.inbound }

// Outbound returns the channel Outputs are delivered on.
func (s *Scheduler) Outbound() <-chan Output { return s.outbound }

// InboundDepth reports the number of events currently buffered, waiting to
// be processed. A best-effort snapshot for internal/metrics' bridge_depth
// gauge, not for backpressure decisions.
func (s *Scheduler) InboundDepth() int { return len(s.inbound) }

// Run processes events until ctx is canceled. It owns the cluster graph
// exclusively: nothing outside this goroutine ever reads or writes it.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-s.inbound:
			s.handle(ev)
		case <-ticker.C:
			s.handle(TickEvent{})
		}
	}
}

func (s *Scheduler) handle(ev Event) {
	switch e := ev.(type) {
	case TaskSubmit:
		s.onTaskSubmit(e)
	case TaskFinishedEvent:
		s.onTaskFinished(e)
	case TaskErredEvent:
		s.onTaskErred(e)
	case TaskStealResponseEvent:
		s.onStealResponse(e)
	case DataRemovedEvent:
		s.onDataRemoved(e)
	case DataDownloadedEvent:
		s.onDataDownloaded(e)
	case WorkerAddedEvent:
		s.onWorkerAdded(e)
	case WorkerLostEvent:
		s.onWorkerLost(e)
	case ClientReleaseEvent:
		s.onClientRelease(e)
	case TickEvent:
		s.onTick()
	}
	// Invariant 7 (work conservation): any eligible task is assigned
	// before the next event is accepted.
	s.tryAssignAll()
}

func (s *Scheduler) emit(out Output) {
	s.outbound <- out
}

func (s *Scheduler) onTaskSubmit(e TaskSubmit) {
	if _, exists := s.graph.tasks[e.ID]; exists {
		return
	}
	t := newTask(e.ID, e.Deps, e.ClientPriority, s.graph.allocInternalPriority(), e.ExpectedSize)
	t.WaitCount = s.graph.recomputeWaitCount(t)
	s.graph.tasks[e.ID] = t

	for _, depID := range e.Deps {
		dep, ok := s.graph.tasks[depID]
		if !ok {
			// The dependency hasn't been submitted yet (it may appear
			// later in the same client batch); remember the link so it
			// can be backfilled once the dependency is created.
			pending := s.graph.pendingConsumers[depID]
			if pending == nil {
				pending = make(map[int64]struct{})
				s.graph.pendingConsumers[depID] = pending
			}
			pending[e.ID] = struct{}{}
			continue
		}
		dep.Consumers[e.ID] = struct{}{}
	}

	if pending, ok := s.graph.pendingConsumers[e.ID]; ok {
		for consumerID := range pending {
			t.Consumers[consumerID] = struct{}{}
		}
		delete(s.graph.pendingConsumers, e.ID)
	}

	if s.reg != nil {
		s.reg.RecordTaskSubmitted("")
	}
}

func (s *Scheduler) onTaskFinished(e TaskFinishedEvent) {
	t, ok := s.graph.tasks[e.ID]
	if !ok {
		return
	}
	worker, ok := s.graph.workers[e.Worker]
	if ok {
		delete(worker.Assigned, e.ID)
	}

	t.State = TaskFinished
	t.AssignedWorker = 0
	t.ActualSize = e.ActualSize
	t.Locations = map[int64]struct{}{e.Worker: {}}

	d := s.graph.dataObjects[e.ID]
	if d == nil {
		d = newDataObject(e.ID)
		s.graph.dataObjects[e.ID] = d
	}
	d.Size = e.ActualSize
	d.Locations[e.Worker] = struct{}{}
	if ok {
		worker.DataObjects[e.ID] = struct{}{}
	}

	for consumerID := range t.Consumers {
		consumer := s.graph.tasks[consumerID]
		if consumer == nil || consumer.State != TaskWaiting {
			continue
		}
		consumer.WaitCount = s.graph.recomputeWaitCount(consumer)
	}

	s.emit(KeyFinishedOutput{Task: e.ID})
	if s.reg != nil {
		s.reg.RecordTaskFinished(workerLabel(e.Worker), 0)
	}
	// A ClientRelease may have arrived while this task was still
	// Assigned/Running, in which case maybeGC's TaskRunning-era check
	// found nothing collectible and never retried. Finishing is the
	// other edge of that race, so check again now.
	s.maybeGC(e.ID)
}

func (s *Scheduler) onTaskErred(e TaskErredEvent) {
	t, ok := s.graph.tasks[e.ID]
	if !ok {
		return
	}
	if worker, ok := s.graph.workers[e.Worker]; ok {
		delete(worker.Assigned, e.ID)
	}
	t.State = TaskErred
	t.Err = e.Err
	s.emit(KeyErredOutput{Task: e.ID, Err: e.Err})
	if s.reg != nil {
		s.reg.RecordTaskErred(workerLabel(e.Worker), 0)
	}
	s.propagateErred(t, e.Err)
	// Same release-before-finish race as onTaskFinished, on the error path.
	s.maybeGC(e.ID)
}

func (s *Scheduler) propagateErred(t *Task, reason string) {
	for consumerID := range t.Consumers {
		consumer := s.graph.tasks[consumerID]
		if consumer == nil || consumer.State == TaskErred {
			continue
		}
		consumer.State = TaskErred
		consumer.Err = "dependency failed: " + reason
		s.emit(KeyErredOutput{Task: consumer.ID, Err: consumer.Err})
		s.propagateErred(consumer, reason)
		s.maybeGC(consumer.ID)
	}
}

func (s *Scheduler) onStealResponse(e TaskStealResponseEvent) {
	t, ok := s.graph.tasks[e.ID]
	if !ok {
		return
	}
	t.StealInFlight = false
	delete(s.stealTargets, e.ID)

	if e.Outcome != StealOk {
		// Running or NotHere: the task remains where it is.
		return
	}
	if worker, ok := s.graph.workers[e.Worker]; ok {
		delete(worker.Assigned, e.ID)
	}
	t.AssignedWorker = 0
	t.State = TaskWaiting
	t.WaitCount = s.graph.recomputeWaitCount(t)
}

func (s *Scheduler) onDataRemoved(e DataRemovedEvent) {
	d := s.graph.dataObjects[e.ID]
	if d == nil {
		return
	}
	delete(d.Locations, e.Worker)
	if worker, ok := s.graph.workers[e.Worker]; ok {
		delete(worker.DataObjects, e.ID)
	}
	if len(d.Locations) > 0 {
		return
	}
	t := s.graph.tasks[e.ID]
	if t == nil || t.State != TaskFinished {
		return
	}
	if t.Released && len(t.Consumers) == 0 {
		s.removeTask(t.ID)
		return
	}
	t.State = TaskWaiting
	t.Locations = map[int64]struct{}{}
	t.WaitCount = s.graph.recomputeWaitCount(t)
}

func (s *Scheduler) onDataDownloaded(e DataDownloadedEvent) {
	d := s.graph.dataObjects[e.ID]
	if d == nil {
		// The data object's owning task was GC'd before the fetch landed;
		// nothing to record.
		return
	}
	d.Locations[e.Worker] = struct{}{}
	if worker, ok := s.graph.workers[e.Worker]; ok {
		worker.DataObjects[e.ID] = struct{}{}
	}
}

func (s *Scheduler) onWorkerAdded(e WorkerAddedEvent) {
	s.graph.workers[e.ID] = newWorker(e.ID, e.Addr, e.NCPUs)
	if s.reg != nil {
		s.reg.SetWorkersConnected(len(s.graph.workers))
	}
}

func (s *Scheduler) onWorkerLost(e WorkerLostEvent) {
	worker, ok := s.graph.workers[e.ID]
	if !ok {
		return
	}

	for taskID := range worker.Assigned {
		t := s.graph.tasks[taskID]
		if t == nil {
			continue
		}
		t.AssignedWorker = 0
		t.State = TaskWaiting
		t.WaitCount = s.graph.recomputeWaitCount(t)
	}

	for dataID := range worker.DataObjects {
		d := s.graph.dataObjects[dataID]
		if d == nil {
			continue
		}
		delete(d.Locations, e.ID)
		if len(d.Locations) > 0 {
			continue
		}
		t := s.graph.tasks[dataID]
		if t == nil || t.State != TaskFinished {
			continue
		}
		if t.Released && len(t.Consumers) == 0 {
			s.removeTask(t.ID)
			continue
		}
		t.State = TaskWaiting
		t.Locations = map[int64]struct{}{}
		t.WaitCount = s.graph.recomputeWaitCount(t)
	}

	delete(s.graph.workers, e.ID)
	if s.reg != nil {
		s.reg.SetWorkersConnected(len(s.graph.workers))
		s.reg.RecordWorkerLost()
	}
}

func (s *Scheduler) onClientRelease(e ClientReleaseEvent) {
	t, ok := s.graph.tasks[e.ID]
	if !ok {
		return
	}
	t.Released = true
	s.maybeGC(e.ID)
}

func (s *Scheduler) onTick() {
	for _, cmd := range s.policy.Rebalance(s.graph) {
		t := s.graph.tasks[cmd.Task]
		if t == nil || t.StealInFlight {
			continue
		}
		t.StealInFlight = true
		s.emit(StealOutput{FromWorker: cmd.FromWorker, Task: cmd.Task})
		if target, ok := s.policy.PickTarget(cmd.Task, s.graph); ok {
			s.stealTargets[cmd.Task] = target
			if s.reg != nil {
				s.reg.RecordTaskStolen(workerLabel(cmd.FromWorker), workerLabel(target))
			}
		}
	}
}

// tryAssignAll implements invariant 7: every Waiting(0) task not already
// assigned gets placed before the next event is accepted.
func (s *Scheduler) tryAssignAll() {
	for id, t := range s.graph.tasks {
		if t.State != TaskWaiting || t.WaitCount != 0 || t.AssignedWorker != 0 {
			continue
		}
		target, ok := s.policy.PickTarget(id, s.graph)
		if !ok {
			continue
		}
		s.assign(t, target)
	}
}

func (s *Scheduler) assign(t *Task, target int64) {
	worker := s.graph.workers[target]
	if worker == nil {
		return
	}
	t.State = TaskAssigned
	t.AssignedWorker = target
	worker.Assigned[t.ID] = struct{}{}

	deps := make([]DependencyRef, 0, len(t.Deps))
	for _, depID := range t.Deps {
		d := s.graph.dataObjects[depID]
		size := int64(0)
		if d != nil {
			size = d.Size
		}
		deps = append(deps, DependencyRef{
			ID:               depID,
			Size:             size,
			CandidateWorkers: s.graph.candidateWorkersFor(depID),
			CandidateAddrs:   s.graph.candidateAddrsFor(depID),
		})
	}

	s.emit(AssignOutput{
		Worker:           target,
		Task:             t.ID,
		Deps:             deps,
		ClientPriority:   t.ClientPriority,
		InternalPriority: t.InternalPriority,
	})
	if s.reg != nil {
		s.reg.RecordTaskAssigned(workerLabel(target))
	}
}

// removeTask deletes a task and its data object outright, cascading garbage
// collection to dependencies that become collectible as a result.
func (s *Scheduler) removeTask(id int64) {
	t := s.graph.tasks[id]
	if t == nil {
		return
	}
	deps := t.Deps
	delete(s.graph.tasks, id)
	delete(s.graph.dataObjects, id)
	for _, dep := range deps {
		if dt, ok := s.graph.tasks[dep]; ok {
			delete(dt.Consumers, id)
			s.maybeGC(dep)
		}
	}
}

// maybeGC implements the termination rules of §4.1: a task is freed once
// it is Finished/Released/Erred, has no remaining consumers, and the
// client has released it.
func (s *Scheduler) maybeGC(id int64) {
	t := s.graph.tasks[id]
	if t == nil {
		return
	}
	if !t.Released || len(t.Consumers) != 0 {
		return
	}
	switch t.State {
	case TaskFinished, TaskErred:
		s.removeTask(id)
	case TaskWaiting:
		if t.AssignedWorker == 0 && !t.StealInFlight {
			s.removeTask(id)
		}
	}
}

func workerLabel(id int64) string {
	if id == 0 {
		return "unknown"
	}
	return strconv.FormatInt(id, 10)
}
