// Package workerproc assembles one worker process out of the pieces built
// by its sibling packages: a reactor.Reactor owning local task/data state,
// a subworker.Pool of execution slots, one or more fetcher.Fetchers
// resolving Remote dependencies, a connection to the scheduler's gateway,
// and a small TCP server answering peer FetchRequests. It is the
// concurrency glue the spec's §5 describes but does not name as its own
// component: everything that touches the Reactor runs on exactly one
// goroutine (Process.Run's event loop); every other goroutine only ever
// pushes a message onto a channel, grounded on the same message-passing
// discipline internal/gateway uses for the scheduler side.
package workerproc

import (
	"context"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"dagsched/internal/dserrors"
	"dagsched/internal/dslog"
	"dagsched/internal/fetcher"
	"dagsched/internal/metrics"
	"dagsched/internal/reactor"
	"dagsched/internal/subworker"
	"dagsched/internal/wire"
)

// Config names the addresses and sizing a worker process needs.
type Config struct {
	SchedulerAddr    string
	ListenAddr       string // bound for peer fetch serving and advertised at handshake
	NCPUs            int
	FetchConcurrency int
	Backoff          fetcher.BackoffConfig
}

// Process owns one worker's reactor, pool, fetchers, and both of its TCP
// roles (client to the scheduler, server to peer fetchers).
type Process struct {
	cfg    Config
	pool   *subworker.Pool
	logger dslog.Logger
	reg    *metrics.Registry

	react   *reactor.Reactor
	events  chan event
	outputs chan reactor.Output

	workerID int64
}

// New builds a Process. The scheduler mints WorkerIds but does not send
// the id back over the handshake, so the reactor runs with worker id 0.
func New(cfg Config, pool *subworker.Pool, logger dslog.Logger, reg *metrics.Registry) *Process {
	return &Process{
		cfg:     cfg,
		pool:    pool,
		logger:  logger,
		reg:     reg,
		events:  make(chan event, 256),
		outputs: make(chan reactor.Output, 256),
	}
}

// event is every input the owning goroutine processes, analogous to
// core.Event on the scheduler side.
type event interface{ isEvent() }

type assignEvent struct {
	id               int64
	deps             []reactor.DependencyInput
	userPriority     int64
	internalPriority int64
}

func (assignEvent) isEvent() {}

type deleteDataEvent struct{ ids []int64 }

func (deleteDataEvent) isEvent() {}

type stealEvent struct{ id int64 }

func (stealEvent) isEvent() {}

type taskDoneEvent struct{ res subworker.Result }

func (taskDoneEvent) isEvent() {}

type dataLandedEvent struct{ d fetcher.Delivery }

func (dataLandedEvent) isEvent() {}

type fetchFailedEvent struct{ id int64 }

func (fetchFailedEvent) isEvent() {}

type fetchServeEvent struct {
	id      int64
	respond chan<- localData
}

func (fetchServeEvent) isEvent() {}

type localData struct {
	bytes      []byte
	serializer string
	ok         bool
}

// Run dials the scheduler, starts the peer-fetch server and fetcher pool,
// and runs the single-goroutine event loop until ctx is canceled or the
// scheduler connection drops.
func (p *Process) Run(ctx context.Context) error {
	conn, err := net.DialTimeout("tcp", p.cfg.SchedulerAddr, 10*time.Second)
	if err != nil {
		return dserrors.Networkf("workerproc: dialing scheduler %s: %v", p.cfg.SchedulerAddr, err)
	}
	defer conn.Close()

	if err := wire.SendHandshake(conn, wire.Handshake{
		PeerKind:      wire.PeerWorker,
		ListenAddress: p.cfg.ListenAddr,
		NCPUs:         p.cfg.NCPUs,
	}); err != nil {
		return dserrors.Wrap(err, "workerproc: handshake with scheduler")
	}
	p.logger.WithField("scheduler", p.cfg.SchedulerAddr).Info("workerproc: connected to scheduler")

	fetchReqs := make(chan reactor.FetchRequest, 256)
	deliveries := make(chan fetcher.Delivery, 256)
	fetchFailed := make(chan int64, 256)
	p.react = reactor.New(0, p.pool, fetchReqs, p.outputs, p.logger, p.reg)

	ln, err := net.Listen("tcp", p.cfg.ListenAddr)
	if err != nil {
		return dserrors.Wrap(err, "workerproc: binding peer-fetch listener")
	}
	defer ln.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.readScheduler(gctx, conn) })
	g.Go(func() error { return p.drainPool(gctx) })
	g.Go(func() error { return p.servePeers(gctx, ln) })

	concurrency := p.cfg.FetchConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	for i := 0; i < concurrency; i++ {
		f := fetcher.New(0, p.cfg.Backoff, deliveries, fetchFailed, p.logger, p.reg)
		g.Go(func() error { f.Run(gctx, fetchReqs); return nil })
	}
	g.Go(func() error { return p.forward(gctx, deliveries, fetchFailed) })
	g.Go(func() error { return p.loop(gctx, conn) })

	err = g.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (p *Process) forward(ctx context.Context, deliveries <-chan fetcher.Delivery, failed <-chan int64) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-deliveries:
			select {
			case p.events <- dataLandedEvent{d: d}:
			case <-ctx.Done():
				return nil
			}
		case id := <-failed:
			select {
			case p.events <- fetchFailedEvent{id: id}:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (p *Process) drainPool(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case res := <-p.pool.Results():
			select {
			case p.events <- taskDoneEvent{res: res}:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// readScheduler decodes frames from the scheduler connection into events.
// A decode error is fatal to the connection per §7's protocol-error
// taxonomy.
func (p *Process) readScheduler(ctx context.Context, conn net.Conn) error {
	for {
		body, err := wire.ReadFrame(conn)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return dserrors.Networkf("workerproc: reading from scheduler: %v", err)
		}
		kind, raw, err := wire.Decode(body)
		if err != nil {
			if p.reg != nil {
				p.reg.RecordProtocolError("scheduler")
			}
			return err
		}
		ev, ok, err := decodeSchedulerFrame(kind, raw)
		if err != nil {
			if p.reg != nil {
				p.reg.RecordProtocolError("scheduler")
			}
			return err
		}
		if !ok {
			continue
		}
		select {
		case p.events <- ev:
		case <-ctx.Done():
			return nil
		}
	}
}

func decodeSchedulerFrame(kind wire.Kind, raw []byte) (event, bool, error) {
	switch kind {
	case wire.KindComputeTask:
		var m wire.ComputeTask
		if err := wire.DecodePayload(raw, &m); err != nil {
			return nil, false, err
		}
		deps := make([]reactor.DependencyInput, 0, len(m.Dependencies))
		for _, d := range m.Dependencies {
			deps = append(deps, reactor.DependencyInput{
				ID:               d.ID,
				Size:             d.Size,
				CandidateWorkers: d.CandidateWorkers,
				CandidateAddrs:   d.CandidateAddrs,
			})
		}
		return assignEvent{id: m.ID, deps: deps, userPriority: m.Priority[0], internalPriority: m.Priority[1]}, true, nil
	case wire.KindDeleteData:
		var m wire.DeleteData
		if err := wire.DecodePayload(raw, &m); err != nil {
			return nil, false, err
		}
		return deleteDataEvent{ids: m.IDs}, true, nil
	case wire.KindStealRequest:
		var m wire.StealRequest
		if err := wire.DecodePayload(raw, &m); err != nil {
			return nil, false, err
		}
		if len(m.IDs) == 0 {
			return nil, false, nil
		}
		return stealEvent{id: m.IDs[0]}, true, nil
	default:
		return nil, false, dserrors.Protocolf("workerproc: unexpected frame kind %q from scheduler", kind)
	}
}

// servePeers accepts peer-fetcher connections and answers FetchRequests by
// round-tripping through the event loop for every lookup, since LocalData
// reads the reactor's map and must never run concurrently with it.
func (p *Process) servePeers(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return dserrors.Wrap(err, "workerproc: accepting peer connection")
		}
		go p.handlePeer(ctx, conn)
	}
}

func (p *Process) handlePeer(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	hs, err := wire.ReadHandshake(conn)
	if err != nil || hs.PeerKind != wire.PeerWorker {
		if p.reg != nil {
			p.reg.RecordProtocolError("peer")
		}
		return
	}
	for {
		body, err := wire.ReadFrame(conn)
		if err != nil {
			return
		}
		kind, raw, err := wire.Decode(body)
		if err != nil || kind != wire.KindFetchRequest {
			if p.reg != nil {
				p.reg.RecordProtocolError("peer")
			}
			return
		}
		var req wire.FetchRequest
		if err := wire.DecodePayload(raw, &req); err != nil {
			return
		}

		respond := make(chan localData, 1)
		select {
		case p.events <- fetchServeEvent{id: req.TaskID, respond: respond}:
		case <-ctx.Done():
			return
		}
		var data localData
		select {
		case data = <-respond:
		case <-ctx.Done():
			return
		}

		if !data.ok {
			header, _ := wire.Encode(wire.KindDataResponse, wire.DataResponse{Status: wire.DataResponseNotAvailable})
			_ = wire.WriteFrame(conn, header)
			continue
		}
		header, _ := wire.Encode(wire.KindDataResponse, wire.DataResponse{
			Status:     wire.DataResponseData,
			Size:       int64(len(data.bytes)),
			Serializer: data.serializer,
		})
		if err := wire.WriteFrame(conn, header); err != nil {
			return
		}
		if err := wire.WriteFrame(conn, data.bytes); err != nil {
			return
		}
	}
}

// loop is the sole goroutine that ever calls into p.react or writes to
// conn, matching §5's "state is acquired, mutated, and released before any
// suspension point" rule.
func (p *Process) loop(ctx context.Context, conn net.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-p.events:
			p.handle(conn, ev)
		case out := <-p.outputs:
			p.dispatch(conn, out)
		}
	}
}

func (p *Process) handle(conn net.Conn, ev event) {
	switch e := ev.(type) {
	case assignEvent:
		p.react.OnAssign(e.id, e.deps, e.userPriority, e.internalPriority)
	case deleteDataEvent:
		for _, id := range e.ids {
			if err := p.react.OnRemoveData(id); err != nil {
				p.logger.WithError(err).Warn("workerproc: scheduler requested removal of live data, closing connection")
				_ = conn.Close()
				return
			}
		}
	case stealEvent:
		outcome := p.react.OnSteal(e.id)
		p.sendStealResponse(conn, e.id, outcome)
	case taskDoneEvent:
		if e.res.Err != nil {
			p.react.OnTaskErred(e.res.Slot, e.res.TaskID, e.res.Err.Error())
		} else {
			p.react.OnTaskFinished(e.res.Slot, e.res.TaskID, e.res.Size, e.res.Bytes, e.res.Serializer)
		}
	case dataLandedEvent:
		p.react.OnDataDownloaded(e.d.ID, int64(len(e.d.Bytes)), e.d.Bytes, e.d.Serializer)
	case fetchFailedEvent:
		p.react.OnFetchFailed(e.id)
	case fetchServeEvent:
		bytes, serializer, ok := p.react.LocalData(e.id)
		e.respond <- localData{bytes: bytes, serializer: serializer, ok: ok}
	}
}

func (p *Process) sendStealResponse(conn net.Conn, id int64, outcome reactor.StealOutcome) {
	p.send(conn, wire.KindStealResponse, wire.StealResponse{ID: id, Outcome: wireStealOutcome(outcome)})
}

func wireStealOutcome(o reactor.StealOutcome) wire.StealOutcome {
	switch o {
	case reactor.StealOk:
		return wire.StealOk
	case reactor.StealRunning:
		return wire.StealRunning
	default:
		return wire.StealNotHere
	}
}

func (p *Process) dispatch(conn net.Conn, out reactor.Output) {
	switch o := out.(type) {
	case reactor.TaskFinishedOutput:
		p.send(conn, wire.KindTaskFinished, wire.TaskFinished{ID: o.ID, Size: o.Size})
	case reactor.TaskErredOutput:
		p.send(conn, wire.KindTaskErred, wire.TaskErred{ID: o.ID, Err: o.Err})
	case reactor.DataDownloadedOutput:
		p.send(conn, wire.KindDataDownloaded, wire.DataDownloaded{ID: o.ID})
	case reactor.DataRemovedOutput:
		p.send(conn, wire.KindDataRemoved, wire.DataRemoved{ID: o.ID})
	case reactor.DataUnavailableOutput:
		// The wire protocol has no dedicated DataUnavailable kind; the
		// scheduler learns the same fact indirectly once it times out
		// waiting for DataDownloaded, but reporting explicitly lets it
		// re-place the producer immediately instead of waiting. Reuse
		// TaskErred's shape scoped to this data id so no new message kind
		// is needed for a single-field notification.
		p.send(conn, wire.KindTaskErred, wire.TaskErred{ID: o.ID, Err: "data unavailable from every candidate worker"})
	}
}

func (p *Process) send(conn net.Conn, kind wire.Kind, payload interface{}) {
	body, err := wire.Encode(kind, payload)
	if err != nil {
		p.logger.Error("workerproc: encoding frame", err)
		return
	}
	if err := wire.WriteFrame(conn, body); err != nil {
		p.logger.WithError(err).Warn("workerproc: writing frame to scheduler failed")
	}
}
