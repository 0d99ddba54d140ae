package placement

import "math/rand"

// Random places each eligible task uniformly among workers with free
// capacity, falling back to a uniform choice over all workers when none
// have slack. It never rebalances.
type Random struct {
	// Rand is injectable so tests can make placement deterministic;
	// production code leaves it nil and gets a process-global source.
	Rand *rand.Rand
}

// NewRandom builds a Random policy using the global math/rand source.
func NewRandom() *Random {
	return &Random{}
}

func (p *Random) intn(n int) int {
	if p.Rand != nil {
		return p.Rand.Intn(n)
	}
	return rand.Intn(n)
}

// PickTarget implements the spec's random policy.
func (p *Random) PickTarget(task TaskID, view View) (WorkerID, bool) {
	workers := view.Workers()
	if len(workers) == 0 {
		return 0, false
	}

	var withSlack []WorkerID
	for _, w := range workers {
		if view.Load(w) < view.NCPUs(w) {
			withSlack = append(withSlack, w)
		}
	}
	if len(withSlack) > 0 {
		return withSlack[p.intn(len(withSlack))], true
	}
	return workers[p.intn(len(workers))], true
}

// Rebalance never migrates tasks under the random policy.
func (p *Random) Rebalance(view View) []StealCommand {
	return nil
}
