// Package bridge provides the bounded, ordered channel pair between the
// Gateway's I/O goroutines and the Scheduler's own goroutine (spec §4.3).
// It does not own the channels' buffers itself — those belong to
// core.Scheduler, created at the size the scheduler config names — it
// wraps them with the context-aware send pattern the teacher uses for
// worker-pool submission (pkg/replication/worker.go: WorkerPool.Submit
// selecting on the job channel vs ctx.Done()) and with depth gauges for
// internal/metrics.
package bridge

import (
	"context"

	"dagsched/internal/core"
	"dagsched/internal/dserrors"
	"dagsched/internal/metrics"
)

// Bridge is the Gateway-facing handle onto a running Scheduler's event
// channels. Exactly one Bridge wraps exactly one Scheduler.
type Bridge struct {
	sched       *core.Scheduler
	toScheduler chan<- core.Event
	fromSched   <-chan core.Output
	reg         *metrics.Registry
}

// New wraps a Scheduler's channels. The Scheduler must already be running
// (or about to run) its Run loop, consuming inbound and producing
// outbound.
func New(sched *core.Scheduler, reg *metrics.Registry) *Bridge {
	return &Bridge{
		sched:       sched,
		toScheduler: sched.Inbound(),
		fromSched:   sched.Outbound(),
		reg:         reg,
	}
}

// SendEvent delivers ev to the scheduler, blocking under backpressure until
// either the send succeeds or ctx is canceled. Gateway connection
// goroutines call this for every decoded frame; a canceled ctx here means
// the connection (or the process) is shutting down, not a scheduler fault.
func (b *Bridge) SendEvent(ctx context.Context, ev core.Event) error {
	select {
	case b.toScheduler <- ev:
		return nil
	case <-ctx.Done():
		return dserrors.Wrap(ctx.Err(), "bridge: send canceled")
	}
}

// Outputs returns the channel the Gateway drains scheduler decisions from.
// There is exactly one consumer: the Gateway's single output-dispatch
// goroutine, which fans each Output out to the right per-worker or
// per-client connection.
func (b *Bridge) Outputs() <-chan core.Output {
	return b.fromSched
}

// Depth reports the bridge's current undelivered event count, for
// internal/metrics' bridge_depth gauge. It is a best-effort snapshot,
// intended for periodic sampling, not for backpressure decisions.
func (b *Bridge) Depth() int {
	return b.sched.InboundDepth()
}

// SampleMetrics records the current depth against the registry passed to
// New, if any. Call on a periodic ticker from whichever goroutine owns the
// admin HTTP server's scrape loop.
func (b *Bridge) SampleMetrics() {
	if b.reg == nil {
		return
	}
	b.reg.SetBridgeDepth(b.Depth())
}
