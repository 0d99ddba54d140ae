package placement

// WorkStealing places each eligible task on the worker minimizing
// cost(w,t) = Alpha*load(w) + Beta*remote_bytes(w,t), ties broken by
// smaller WorkerID, and rebalances overloaded workers on every Tick.
// Grounded on the teacher's WorkStealingScheduler cost/load comparison in
// pkg/distributed/work_stealing.go, with the lock-free deque and
// goroutine-pool specific mechanics dropped: that scheduler balanced
// queue depth across pool workers sharing one process; this one balances
// task counts across whole cluster members, a pure function of the View
// snapshot instead of live queue state.
type WorkStealing struct {
	Alpha float64
	Beta  float64

	// SlackOverAverage is the spec's "avg + 1" rebalance threshold: a
	// worker with strictly more load than avg+SlackOverAverage is a
	// rebalance candidate.
	SlackOverAverage float64
	// Epsilon is the minimum cost improvement required before a steal is
	// proposed, avoiding thrashing on near-tied costs.
	Epsilon float64
}

// NewWorkStealing builds a WorkStealing policy with the spec's defaults.
func NewWorkStealing(alpha, beta float64) *WorkStealing {
	return &WorkStealing{Alpha: alpha, Beta: beta, SlackOverAverage: 1.0, Epsilon: 1e-9}
}

func (p *WorkStealing) cost(view View, w WorkerID, task TaskID) float64 {
	return p.Alpha*float64(view.Load(w)) + p.Beta*float64(view.RemoteBytes(w, task))
}

// PickTarget implements the spec's "immediate placement" rule: minimum
// cost wins regardless of free capacity (workers queue internally when
// load(w) >= ncpus(w)).
func (p *WorkStealing) PickTarget(task TaskID, view View) (WorkerID, bool) {
	workers := view.Workers()
	if len(workers) == 0 {
		return 0, false
	}

	best := workers[0]
	bestCost := p.cost(view, best, task)
	for _, w := range workers[1:] {
		c := p.cost(view, w, task)
		if c < bestCost || (c == bestCost && w < best) {
			best, bestCost = w, c
		}
	}
	return best, true
}

// Rebalance implements the spec's periodic rebalance: for each worker
// loaded strictly more than avg+SlackOverAverage, consider its non-running
// tasks for migration to whichever worker the cost function now prefers,
// proposing a steal when the improvement clears Epsilon.
func (p *WorkStealing) Rebalance(view View) []StealCommand {
	workers := view.Workers()
	if len(workers) < 2 {
		return nil
	}

	total := 0
	for _, w := range workers {
		total += view.Load(w)
	}
	avg := float64(total) / float64(len(workers))

	var commands []StealCommand
	for _, hot := range workers {
		if float64(view.Load(hot)) <= avg+p.SlackOverAverage {
			continue
		}
		for _, task := range view.StealCandidates(hot) {
			target, ok := p.PickTarget(task, view)
			if !ok || target == hot {
				continue
			}
			if p.cost(view, target, task)+p.Epsilon < p.cost(view, hot, task) {
				commands = append(commands, StealCommand{FromWorker: hot, Task: task})
			}
		}
	}
	return commands
}
