package core

import "dagsched/internal/placement"

// Graph is the cluster-wide task/worker/data-object index. It implements
// placement.View directly so policies read it without a copy.
type Graph struct {
	tasks       map[int64]*Task
	workers     map[int64]*Worker
	dataObjects map[int64]*DataObject

	// pendingConsumers holds, for a dependency not yet submitted, the
	// consumer ids that named it as a dep. A client's UpdateGraph batch
	// may list a consumer before its producer (the gateway forwards
	// tasks to the scheduler in the client's list order, not
	// topological order), so the backward Consumers link has to be
	// backfilled once the producer itself is submitted.
	pendingConsumers map[int64]map[int64]struct{}

	nextInternalPriority int64
}

func newGraph() *Graph {
	return &Graph{
		tasks:            make(map[int64]*Task),
		workers:          make(map[int64]*Worker),
		dataObjects:      make(map[int64]*DataObject),
		pendingConsumers: make(map[int64]map[int64]struct{}),
	}
}

func (g *Graph) allocInternalPriority() int64 {
	g.nextInternalPriority++
	return g.nextInternalPriority
}

// recomputeWaitCount counts t's dependencies that are not yet backed by a
// DataObject with at least one surviving location.
func (g *Graph) recomputeWaitCount(t *Task) int {
	n := 0
	for _, dep := range t.Deps {
		d := g.dataObjects[dep]
		if d == nil || len(d.Locations) == 0 {
			n++
		}
	}
	return n
}

func (g *Graph) candidateWorkersFor(dataID int64) []int64 {
	d := g.dataObjects[dataID]
	if d == nil {
		return nil
	}
	out := make([]int64, 0, len(d.Locations))
	for w := range d.Locations {
		out = append(out, w)
	}
	return out
}

// candidateAddrsFor resolves every current location of dataID to its
// listen address, so the assigned worker's fetcher can dial it directly.
func (g *Graph) candidateAddrsFor(dataID int64) map[int64]string {
	d := g.dataObjects[dataID]
	if d == nil || len(d.Locations) == 0 {
		return nil
	}
	out := make(map[int64]string, len(d.Locations))
	for w := range d.Locations {
		if worker, ok := g.workers[w]; ok {
			out[w] = worker.ListenAddress
		}
	}
	return out
}

// --- placement.View ---

var _ placement.View = (*Graph)(nil)

func (g *Graph) Workers() []placement.WorkerID {
	ids := make([]placement.WorkerID, 0, len(g.workers))
	for id := range g.workers {
		ids = append(ids, id)
	}
	return ids
}

func (g *Graph) Load(w placement.WorkerID) int {
	worker, ok := g.workers[w]
	if !ok {
		return 0
	}
	return len(worker.Assigned)
}

func (g *Graph) NCPUs(w placement.WorkerID) int {
	worker, ok := g.workers[w]
	if !ok {
		return 0
	}
	return worker.NCPUs
}

func (g *Graph) RemoteBytes(w placement.WorkerID, task placement.TaskID) int64 {
	t, ok := g.tasks[task]
	if !ok {
		return 0
	}
	var sum int64
	for _, depID := range t.Deps {
		d := g.dataObjects[depID]
		if d == nil {
			continue
		}
		if _, local := d.Locations[w]; !local {
			sum += d.Size
		}
	}
	return sum
}

func (g *Graph) StealCandidates(w placement.WorkerID) []placement.TaskID {
	worker, ok := g.workers[w]
	if !ok {
		return nil
	}
	var out []placement.TaskID
	for taskID := range worker.Assigned {
		t := g.tasks[taskID]
		if t == nil || t.StealInFlight {
			continue
		}
		if t.State == TaskWaiting || t.State == TaskAssigned {
			out = append(out, taskID)
		}
	}
	return out
}
