// Package gateway is the TCP front-end (§4.4): it accepts connections, reads
// the first-frame handshake to learn the peer kind, decodes subsequent
// frames into core.Events for the bridge, and translates core.Outputs back
// into per-peer frames. It makes no scheduling decisions of its own.
package gateway

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"dagsched/internal/bridge"
	"dagsched/internal/core"
	"dagsched/internal/dserrors"
	"dagsched/internal/dslog"
	"dagsched/internal/metrics"
	"dagsched/internal/wire"
)

// Server is the scheduler-side TCP gateway.
type Server struct {
	listenAddr string
	bridge     *bridge.Bridge
	logger     dslog.Logger
	reg        *metrics.Registry

	mu           sync.RWMutex
	workers      map[int64]net.Conn
	clients      map[string]net.Conn
	nextWorkerID int64

	addrMu  sync.Mutex
	addr    net.Addr
	readyCh chan struct{}
}

// New builds a Server that will listen on addr once Serve runs.
func New(addr string, b *bridge.Bridge, logger dslog.Logger, reg *metrics.Registry) *Server {
	return &Server{
		listenAddr: addr,
		bridge:     b,
		logger:     logger,
		reg:        reg,
		workers:    make(map[int64]net.Conn),
		clients:    make(map[string]net.Conn),
		readyCh:    make(chan struct{}),
	}
}

// Addr blocks until Serve has bound its listener, then returns the actual
// address bound (useful in tests that pass ":0").
func (s *Server) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-s.readyCh:
		s.addrMu.Lock()
		defer s.addrMu.Unlock()
		return s.addr, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Serve listens on the configured address until ctx is canceled, accepting
// connections and dispatching bridge outputs concurrently.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return dserrors.Wrap(err, "gateway: listen")
	}

	s.addrMu.Lock()
	s.addr = ln.Addr()
	s.addrMu.Unlock()
	close(s.readyCh)

	s.logger.WithField("addr", ln.Addr().String()).Info("gateway listening")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.dispatchOutputs(gctx) })
	g.Go(func() error { return s.acceptLoop(gctx, ln) })

	<-gctx.Done()
	_ = ln.Close()
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return dserrors.Wrap(err, "gateway: accept")
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	hs, err := wire.ReadHandshake(conn)
	if err != nil {
		s.logger.WithError(err).Warn("gateway: rejecting connection on bad handshake")
		if s.reg != nil {
			s.reg.RecordProtocolError("unknown")
		}
		_ = conn.Close()
		return
	}

	if s.reg != nil {
		s.reg.SetGatewayConnections(s.connectionCount() + 1)
	}

	switch hs.PeerKind {
	case wire.PeerWorker:
		s.handleWorker(ctx, conn, hs)
	case wire.PeerClient:
		s.handleClient(ctx, conn, hs)
	default:
		s.logger.WithField("peer_kind", string(hs.PeerKind)).Warn("gateway: unknown peer kind")
		if s.reg != nil {
			s.reg.RecordProtocolError("unknown")
		}
		_ = conn.Close()
	}

	if s.reg != nil {
		s.reg.SetGatewayConnections(s.connectionCount())
	}
}

func (s *Server) connectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.workers) + len(s.clients)
}

func (s *Server) handleWorker(ctx context.Context, conn net.Conn, hs wire.Handshake) {
	id := atomic.AddInt64(&s.nextWorkerID, 1)
	log := s.logger.WithField("worker_id", id).WithField("listen_addr", hs.ListenAddress)

	s.mu.Lock()
	s.workers[id] = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.workers, id)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	if err := s.bridge.SendEvent(ctx, core.WorkerAddedEvent{ID: id, Addr: hs.ListenAddress, NCPUs: hs.NCPUs}); err != nil {
		log.WithError(err).Warn("gateway: dropping worker, bridge closed")
		return
	}
	log.Info("worker connected")

	for {
		body, err := wire.ReadFrame(conn)
		if err != nil {
			break
		}
		kind, raw, err := wire.Decode(body)
		if err != nil {
			log.WithError(err).Warn("worker sent undecodable frame, disconnecting")
			if s.reg != nil {
				s.reg.RecordProtocolError("worker")
			}
			break
		}
		if ev, ok := decodeWorkerEvent(id, kind, raw, log); ok {
			if err := s.bridge.SendEvent(ctx, ev); err != nil {
				break
			}
		}
	}

	log.Info("worker disconnected")
	_ = s.bridge.SendEvent(ctx, core.WorkerLostEvent{ID: id})
}

func decodeWorkerEvent(workerID int64, kind wire.Kind, raw []byte, log dslog.Logger) (core.Event, bool) {
	switch kind {
	case wire.KindTaskFinished:
		var m wire.TaskFinished
		if err := wire.DecodePayload(raw, &m); err != nil {
			log.WithError(err).Warn("malformed TaskFinished")
			return nil, false
		}
		return core.TaskFinishedEvent{Worker: workerID, ID: m.ID, ActualSize: m.Size}, true
	case wire.KindTaskErred:
		var m wire.TaskErred
		if err := wire.DecodePayload(raw, &m); err != nil {
			log.WithError(err).Warn("malformed TaskErred")
			return nil, false
		}
		return core.TaskErredEvent{Worker: workerID, ID: m.ID, Err: m.Err}, true
	case wire.KindDataDownloaded:
		var m wire.DataDownloaded
		if err := wire.DecodePayload(raw, &m); err != nil {
			log.WithError(err).Warn("malformed DataDownloaded")
			return nil, false
		}
		return core.DataDownloadedEvent{Worker: workerID, ID: m.ID}, true
	case wire.KindDataRemoved:
		var m wire.DataRemoved
		if err := wire.DecodePayload(raw, &m); err != nil {
			log.WithError(err).Warn("malformed DataRemoved")
			return nil, false
		}
		return core.DataRemovedEvent{Worker: workerID, ID: m.ID}, true
	case wire.KindStealResponse:
		var m wire.StealResponse
		if err := wire.DecodePayload(raw, &m); err != nil {
			log.WithError(err).Warn("malformed StealResponse")
			return nil, false
		}
		return core.TaskStealResponseEvent{Worker: workerID, ID: m.ID, Outcome: stealOutcomeFromWire(m.Outcome)}, true
	case wire.KindHeartbeat:
		return nil, false
	default:
		log.WithField("kind", string(kind)).Warn("unexpected frame kind from worker")
		return nil, false
	}
}

func stealOutcomeFromWire(o wire.StealOutcome) core.StealOutcome {
	switch o {
	case wire.StealOk:
		return core.StealOk
	case wire.StealRunning:
		return core.StealRunning
	default:
		return core.StealNotHere
	}
}

func (s *Server) handleClient(ctx context.Context, conn net.Conn, hs wire.Handshake) {
	id := hs.ConnectionID
	if id == "" {
		id = wire.NewConnectionID()
	}
	log := s.logger.WithField("client_id", id)

	s.mu.Lock()
	s.clients[id] = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.clients, id)
		s.mu.Unlock()
		_ = conn.Close()
	}()
	log.Info("client connected")

	for {
		body, err := wire.ReadFrame(conn)
		if err != nil {
			break
		}
		kind, raw, err := wire.Decode(body)
		if err != nil {
			log.WithError(err).Warn("client sent undecodable frame, disconnecting")
			if s.reg != nil {
				s.reg.RecordProtocolError("client")
			}
			break
		}
		if !s.handleClientFrame(ctx, kind, raw, log) {
			break
		}
	}
	log.Info("client disconnected")
}

func (s *Server) handleClientFrame(ctx context.Context, kind wire.Kind, raw []byte, log dslog.Logger) bool {
	switch kind {
	case wire.KindUpdateGraph:
		var m wire.UpdateGraph
		if err := wire.DecodePayload(raw, &m); err != nil {
			log.WithError(err).Warn("malformed UpdateGraph")
			return true
		}
		for _, t := range m.Tasks {
			ev := core.TaskSubmit{
				ID:             t.ID,
				Deps:           t.Dependencies,
				ClientPriority: t.ClientPriority,
				ExpectedSize:   t.ExpectedSize,
			}
			if err := s.bridge.SendEvent(ctx, ev); err != nil {
				return false
			}
		}
		return true
	case wire.KindReleaseKeys:
		var m wire.ReleaseKeys
		if err := wire.DecodePayload(raw, &m); err != nil {
			log.WithError(err).Warn("malformed ReleaseKeys")
			return true
		}
		for _, id := range m.IDs {
			if err := s.bridge.SendEvent(ctx, core.ClientReleaseEvent{ID: id}); err != nil {
				return false
			}
		}
		return true
	case wire.KindCloseClient:
		return false
	default:
		log.WithField("kind", string(kind)).Warn("unexpected frame kind from client")
		return true
	}
}

// dispatchOutputs is the gateway's single output-dispatch goroutine; it owns
// all writes to peer connections so no per-connection write lock is needed.
func (s *Server) dispatchOutputs(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case out := <-s.bridge.Outputs():
			s.dispatch(out)
		}
	}
}

func (s *Server) dispatch(out core.Output) {
	switch o := out.(type) {
	case core.AssignOutput:
		s.sendToWorker(o.Worker, wire.KindComputeTask, wire.ComputeTask{
			ID:           o.Task,
			Dependencies: convertDeps(o.Deps),
			Priority:     [2]int64{o.ClientPriority, o.InternalPriority},
		})
	case core.StealOutput:
		s.sendToWorker(o.FromWorker, wire.KindStealRequest, wire.StealRequest{IDs: []int64{o.Task}})
	case core.RemoveTaskOutput:
		s.sendToWorker(o.Worker, wire.KindDeleteData, wire.DeleteData{IDs: []int64{o.Task}})
	case core.KeyFinishedOutput:
		s.broadcastToClients(wire.KindKeyFinished, wire.KeyFinished{ID: o.Task})
	case core.KeyErredOutput:
		s.broadcastToClients(wire.KindKeyErred, wire.KeyErred{ID: o.Task, Err: o.Err})
	}
}

func convertDeps(deps []core.DependencyRef) []wire.DependencyRef {
	out := make([]wire.DependencyRef, 0, len(deps))
	for _, d := range deps {
		out = append(out, wire.DependencyRef{
			ID:               d.ID,
			Size:             d.Size,
			CandidateWorkers: d.CandidateWorkers,
			CandidateAddrs:   d.CandidateAddrs,
		})
	}
	return out
}

func (s *Server) sendToWorker(id int64, kind wire.Kind, payload interface{}) {
	s.mu.RLock()
	conn, ok := s.workers[id]
	s.mu.RUnlock()
	if !ok {
		return
	}
	s.send(conn, kind, payload)
}

func (s *Server) broadcastToClients(kind wire.Kind, payload interface{}) {
	s.mu.RLock()
	conns := make([]net.Conn, 0, len(s.clients))
	for _, c := range s.clients {
		conns = append(conns, c)
	}
	s.mu.RUnlock()
	for _, c := range conns {
		s.send(c, kind, payload)
	}
}

func (s *Server) send(conn net.Conn, kind wire.Kind, payload interface{}) {
	body, err := wire.Encode(kind, payload)
	if err != nil {
		s.logger.WithError(err).Error("gateway: encoding frame", err)
		return
	}
	if err := wire.WriteFrame(conn, body); err != nil {
		s.logger.WithError(err).Warn("gateway: writing frame to peer failed")
	}
}
