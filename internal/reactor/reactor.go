package reactor

import (
	"context"
	"strconv"

	"dagsched/internal/dserrors"
	"dagsched/internal/dslog"
	"dagsched/internal/metrics"
	"dagsched/internal/readyqueue"
	"dagsched/internal/subworker"
)

// FetchRequest is what the reactor hands to the fetcher for a Remote
// dependency: the id, the candidate workers to try, and the priority to
// order it against other outstanding fetches, matching §4.6's
// "(DataObject, priority)" request shape.
type FetchRequest struct {
	ID               int64
	Size             int64
	CandidateWorkers []int64
	CandidateAddrs   map[int64]string
	UserPriority     int64
	InternalPriority int64
}

// Reactor is the single-goroutine, per-worker state machine of §4.5: the
// Task/DataObject maps, the ready queue, and the subworker pool handoff.
// Every exported method runs on the worker's one I/O goroutine; none of
// them block, matching the "acquire, mutate, release before any await"
// rule of §5.
type Reactor struct {
	workerID int64
	pool     *subworker.Pool
	logger   dslog.Logger
	reg      *metrics.Registry

	tasks       map[int64]*Task
	dataObjects map[int64]*DataObject
	ready       *readyqueue.Queue

	fetchRequests chan<- FetchRequest

	// toScheduler receives the outputs on_* produces, consumed by whatever
	// owns the connection to the scheduler (see internal/workerproc).
	toScheduler chan<- Output
}

// Output is one message the reactor needs delivered to the scheduler.
type Output interface{ isOutput() }

// TaskFinishedOutput reports a successful completion.
type TaskFinishedOutput struct {
	ID   int64
	Size int64
}

func (TaskFinishedOutput) isOutput() {}

// TaskErredOutput reports a subworker failure.
type TaskErredOutput struct {
	ID  int64
	Err string
}

func (TaskErredOutput) isOutput() {}

// DataDownloadedOutput reports a landed fetch.
type DataDownloadedOutput struct {
	ID int64
}

func (DataDownloadedOutput) isOutput() {}

// DataRemovedOutput reports a local eviction, whether scheduler-initiated
// or triggered by the last consumer disappearing.
type DataRemovedOutput struct {
	ID int64
}

func (DataRemovedOutput) isOutput() {}

// DataUnavailableOutput reports that every candidate worker for a fetch
// answered NotAvailable, forcing the scheduler to re-place the producer
// (§4.6).
type DataUnavailableOutput struct {
	ID int64
}

func (DataUnavailableOutput) isOutput() {}

// New builds a Reactor. fetchRequests is the channel the fetcher consumes
// from; toScheduler is the channel whatever owns the scheduler connection
// drains Outputs from.
func New(workerID int64, pool *subworker.Pool, fetchRequests chan<- FetchRequest, toScheduler chan<- Output, logger dslog.Logger, reg *metrics.Registry) *Reactor {
	return &Reactor{
		workerID:      workerID,
		pool:          pool,
		logger:        logger,
		reg:           reg,
		tasks:         make(map[int64]*Task),
		dataObjects:   make(map[int64]*DataObject),
		ready:         readyqueue.New(),
		fetchRequests: fetchRequests,
		toScheduler:   toScheduler,
	}
}

func (r *Reactor) emit(out Output) {
	r.toScheduler <- out
	if r.reg != nil {
		r.reg.SetReadyQueueDepth("worker", r.ready.Depth())
	}
}

// OnAssign implements §4.5's on_assign: create the Task, wire up each
// dependency via addDep, and push to the ready queue (then try to start
// it) once every dependency is already Local.
func (r *Reactor) OnAssign(id int64, deps []DependencyInput, userPriority, internalPriority int64) {
	if _, exists := r.tasks[id]; exists {
		return
	}
	t := &Task{
		ID:               id,
		State:            TaskWaiting,
		UserPriority:     userPriority,
		InternalPriority: internalPriority,
	}
	depIDs := make([]int64, 0, len(deps))
	for _, d := range deps {
		depIDs = append(depIDs, d.ID)
	}
	t.Deps = depIDs
	r.tasks[id] = t

	for _, d := range deps {
		r.addDep(t, d)
	}

	if t.WaitCount == 0 {
		r.pushReady(t)
	}
	r.tryStart()
}

// addDep reuses an existing DataObject or creates a fresh Remote one, and
// bumps the task's wait count if the dependency isn't already Local.
func (r *Reactor) addDep(t *Task, d DependencyInput) {
	obj, ok := r.dataObjects[d.ID]
	if !ok {
		obj = newDataObject(d.ID, d.Size, d.CandidateWorkers, d.CandidateAddrs)
		r.dataObjects[d.ID] = obj
	} else if len(d.CandidateWorkers) > 0 {
		obj.CandidateWorkers = mergeCandidates(obj.CandidateWorkers, d.CandidateWorkers)
		obj.CandidateAddrs = mergeAddrs(obj.CandidateAddrs, d.CandidateAddrs)
	}
	obj.Consumers[t.ID] = struct{}{}

	switch obj.State {
	case DataLocal:
		// Already local: no wait contribution.
	case DataRemote:
		t.WaitCount++
		r.requestFetch(t, obj)
	case DataRemoved:
		// Unreachable under invariant 3 (Removed is terminal and a
		// consumer set never regains an entry once removed); treat as
		// Remote defensively rather than panicking, since a scheduler
		// replay could legitimately resurrect the id.
		obj.State = DataRemote
		t.WaitCount++
		r.requestFetch(t, obj)
	}
}

func (r *Reactor) requestFetch(t *Task, obj *DataObject) {
	if r.fetchRequests == nil {
		return
	}
	r.fetchRequests <- FetchRequest{
		ID:               obj.ID,
		Size:             obj.Size,
		CandidateWorkers: obj.CandidateWorkers,
		CandidateAddrs:   obj.CandidateAddrs,
		UserPriority:     t.UserPriority,
		InternalPriority: t.InternalPriority,
	}
}

func mergeCandidates(existing, incoming []int64) []int64 {
	seen := make(map[int64]struct{}, len(existing))
	for _, id := range existing {
		seen[id] = struct{}{}
	}
	out := existing
	for _, id := range incoming {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func mergeAddrs(existing, incoming map[int64]string) map[int64]string {
	if len(incoming) == 0 {
		return existing
	}
	if existing == nil {
		existing = make(map[int64]string, len(incoming))
	}
	for id, addr := range incoming {
		existing[id] = addr
	}
	return existing
}

func (r *Reactor) pushReady(t *Task) {
	r.ready.Insert(&readyqueue.Entry{
		TaskID:           t.ID,
		UserPriority:     t.UserPriority,
		InternalPriority: t.InternalPriority,
	})
}

// TryStart implements §4.5's try_start: while a free subworker exists and
// the ready queue is non-empty, pop the highest-priority task and hand it
// to the subworker. A running subworker is never pre-empted.
func (r *Reactor) TryStart() { r.tryStart() }

func (r *Reactor) tryStart() {
	for {
		slot, ok := r.pool.Acquire()
		if !ok {
			return
		}
		entry := r.ready.PopFront()
		if entry == nil {
			r.pool.Release(slot)
			return
		}
		t := r.tasks[entry.TaskID]
		if t == nil || t.State != TaskWaiting {
			// Stolen or removed between being queued and being popped;
			// the slot stays free for the next pop.
			r.pool.Release(slot)
			continue
		}
		t.State = TaskRunning
		t.Slot = slot
		r.pool.Start(context.Background(), slot, t.ID)
		if r.reg != nil {
			r.reg.SetWorkerLoad(workerLabel(r.workerID), len(r.tasks))
		}
	}
}

// OnDataDownloaded implements §4.6/§4.5's on_data_downloaded: validate the
// object is Remote, transition it Local, report upstream, and wake any
// consumer whose wait count reaches zero.
func (r *Reactor) OnDataDownloaded(id int64, size int64, bytes []byte, serializer string) {
	obj, ok := r.dataObjects[id]
	if !ok || obj.State == DataRemoved {
		// Dropped: the object (or its owning task) was evicted before the
		// fetch landed.
		return
	}
	if obj.State == DataLocal {
		// addDep requests a fetch for every consumer of a Remote object,
		// so a second download of the same id can land after the first;
		// ignore it rather than corrupt state already settled.
		return
	}
	obj.State = DataLocal
	obj.Size = size
	obj.Bytes = bytes
	obj.Serializer = serializer

	r.emit(DataDownloadedOutput{ID: id})

	for consumerID := range obj.Consumers {
		t := r.tasks[consumerID]
		if t == nil || t.State != TaskWaiting {
			continue
		}
		t.WaitCount--
		if t.WaitCount == 0 {
			r.pushReady(t)
		}
	}
	r.tryStart()
}

// OnFetchFailed reports that every candidate for id answered NotAvailable
// (or every retry was exhausted), per §4.6.
func (r *Reactor) OnFetchFailed(id int64) {
	if obj, ok := r.dataObjects[id]; ok && obj.State != DataRemoved {
		r.emit(DataUnavailableOutput{ID: id})
	}
}

// OnTaskFinished implements §4.5's on_task_finished: free the subworker,
// remove the task, detach it from each dependency's consumer set, register
// the produced bytes as a fresh local DataObject (TaskId == DataObjectId
// per §3), and report completion upstream.
func (r *Reactor) OnTaskFinished(slot int, id int64, size int64, bytes []byte, serializer string) {
	r.pool.Release(slot)
	t := r.tasks[id]
	if t == nil {
		return
	}
	t.State = TaskRemoved
	r.detachFromDeps(t)
	delete(r.tasks, id)

	obj, exists := r.dataObjects[id]
	if !exists {
		obj = &DataObject{ID: id, Consumers: make(map[int64]struct{})}
		r.dataObjects[id] = obj
	}
	obj.Size = size
	obj.State = DataLocal
	obj.Bytes = bytes
	obj.Serializer = serializer

	r.emit(TaskFinishedOutput{ID: id, Size: size})
	if r.reg != nil {
		r.reg.SetWorkerLoad(workerLabel(r.workerID), len(r.tasks))
	}
	r.tryStart()
}

// LocalData returns the bytes and serializer backing a Local data object,
// for the peer fetch server to answer a FetchRequest with.
func (r *Reactor) LocalData(id int64) (bytes []byte, serializer string, ok bool) {
	obj, found := r.dataObjects[id]
	if !found || obj.State != DataLocal {
		return nil, "", false
	}
	return obj.Bytes, obj.Serializer, true
}

// OnTaskErred reports a subworker failure and otherwise follows the same
// teardown path as OnTaskFinished.
func (r *Reactor) OnTaskErred(slot int, id int64, errMsg string) {
	r.pool.Release(slot)
	t := r.tasks[id]
	if t == nil {
		return
	}
	t.State = TaskRemoved
	r.detachFromDeps(t)
	delete(r.tasks, id)
	r.emit(TaskErredOutput{ID: id, Err: errMsg})
	if r.reg != nil {
		r.reg.SetWorkerLoad(workerLabel(r.workerID), len(r.tasks))
	}
	r.tryStart()
}

func (r *Reactor) detachFromDeps(t *Task) {
	for _, depID := range t.Deps {
		obj := r.dataObjects[depID]
		if obj == nil {
			continue
		}
		delete(obj.Consumers, t.ID)
		if len(obj.Consumers) == 0 && obj.State == DataRemote {
			// The fetch, if still outstanding, becomes unneeded; the
			// fetcher drops its result silently when it lands (see
			// OnDataDownloaded's Removed check above).
			obj.State = DataRemoved
			delete(r.dataObjects, depID)
		}
	}
}

// OnSteal implements §4.5's on_steal: NotHere if absent or already
// removed, Running if running, otherwise transition to Removed and drop
// it from the ready queue.
func (r *Reactor) OnSteal(id int64) StealOutcome {
	t, ok := r.tasks[id]
	if !ok || t.State == TaskRemoved {
		return StealNotHere
	}
	if t.State == TaskRunning {
		return StealRunning
	}
	t.State = TaskRemoved
	r.ready.Remove(id)
	r.detachFromDeps(t)
	delete(r.tasks, id)
	if r.reg != nil {
		r.reg.SetWorkerLoad(workerLabel(r.workerID), len(r.tasks))
	}
	return StealOk
}

// OnRemoveData implements §4.5's on_remove_data: mark an object Removed.
// A non-empty consumer set at this point is a protocol violation — the
// scheduler must never ask to remove data still needed locally — and is
// reported as such rather than silently corrupting the consumer's wait
// count.
func (r *Reactor) OnRemoveData(id int64) error {
	obj, ok := r.dataObjects[id]
	if !ok {
		return nil
	}
	if len(obj.Consumers) != 0 {
		return dserrors.Protocolf("remove data %d requested with %d live consumers", id, len(obj.Consumers))
	}
	obj.State = DataRemoved
	delete(r.dataObjects, id)
	r.emit(DataRemovedOutput{ID: id})
	return nil
}

// TaskCount reports the number of tasks currently tracked, for the
// worker-load gauge and tests.
func (r *Reactor) TaskCount() int { return len(r.tasks) }

// ReadyDepth reports the ready queue's current length.
func (r *Reactor) ReadyDepth() int { return r.ready.Depth() }

func workerLabel(id int64) string {
	return strconv.FormatInt(id, 10)
}
