// Package fetcher implements the per-worker data fetcher (§4.6): it
// consumes (DataObject, priority) requests from a priority-ordered
// channel, dials a candidate peer worker, and exchanges a FetchRequest /
// DataResponse pair to pull one Remote dependency Local. Grounded on
// original_source/src/transfer/fetch.rs's fetch_data (FetchRequest sent,
// DataResponse read, NotAvailable/DataUploaded handled as distinct
// failures) and the teacher's retry.go for the exponential backoff shape,
// generalized from a single retryable call into "retry this candidate,
// then try the next one".
package fetcher

import (
	"context"
	"net"
	"sync"
	"time"

	"dagsched/internal/dserrors"
	"dagsched/internal/dslog"
	"dagsched/internal/metrics"
	"dagsched/internal/readyqueue"
	"dagsched/internal/reactor"
	"dagsched/internal/wire"
)

// Delivery is one landed fetch, handed back to the reactor's goroutine.
type Delivery struct {
	ID         int64
	Bytes      []byte
	Serializer string
}

// BackoffConfig bounds the exponential backoff applied between retries of
// the same candidate, mirroring the teacher's RetryOptions
// (InitialWait/MaxWait/Factor) rather than inventing a new shape.
type BackoffConfig struct {
	InitialWait time.Duration
	MaxWait     time.Duration
	Factor      float64
	MaxAttempts int
}

// DefaultBackoff matches the teacher's DefaultRetryOptions, scaled down for
// a peer-to-peer fetch instead of a cloud API call.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		InitialWait: 50 * time.Millisecond,
		MaxWait:     2 * time.Second,
		Factor:      2.0,
		MaxAttempts: 3,
	}
}

// Fetcher owns the connection pool to peer workers and the background
// goroutine that drains requests. It resolves each candidate's address
// from the request itself (core.DependencyRef.CandidateAddrs, carried
// through the reactor's FetchRequest) rather than consulting the
// scheduler a second time.
type Fetcher struct {
	selfID  int64
	backoff BackoffConfig
	logger  dslog.Logger
	reg     *metrics.Registry
	deliver chan<- Delivery
	failed  chan<- int64

	mu    sync.Mutex
	conns map[int64]net.Conn
}

// New builds a Fetcher. deliver receives successful fetches; failed
// receives ids whose every candidate was exhausted, for the reactor to
// call OnFetchFailed.
func New(selfID int64, backoff BackoffConfig, deliver chan<- Delivery, failed chan<- int64, logger dslog.Logger, reg *metrics.Registry) *Fetcher {
	return &Fetcher{
		selfID:  selfID,
		backoff: backoff,
		logger:  logger,
		reg:     reg,
		deliver: deliver,
		failed:  failed,
		conns:   make(map[int64]net.Conn),
	}
}

// Run drains requests in priority order until ctx is canceled or reqs is
// closed. One fetch runs at a time per Fetcher instance; callers wanting
// concurrent fetches run multiple Fetchers sharing the same reqs channel
// feed, which is how the worker process sizes fetch concurrency.
func (f *Fetcher) Run(ctx context.Context, reqs <-chan reactor.FetchRequest) {
	pq := readyqueue.New()
	pending := make(map[int64]reactor.FetchRequest)
	for {
		if pq.IsEmpty() {
			select {
			case <-ctx.Done():
				return
			case req, ok := <-reqs:
				if !ok {
					return
				}
				f.enqueue(pq, pending, req)
			}
			continue
		}

		// The queue is non-empty: keep draining newly arrived requests
		// into it without blocking, so a burst arriving mid-fetch gets
		// the spec's priority ordering instead of FIFO-by-arrival, then
		// run the highest-priority one once nothing more is waiting.
		select {
		case <-ctx.Done():
			return
		case req, ok := <-reqs:
			if !ok {
				return
			}
			f.enqueue(pq, pending, req)
		default:
			entry := pq.PopFront()
			req := pending[entry.TaskID]
			delete(pending, entry.TaskID)
			f.runOne(ctx, req)
		}
	}
}

func (f *Fetcher) enqueue(pq *readyqueue.Queue, pending map[int64]reactor.FetchRequest, req reactor.FetchRequest) {
	pending[req.ID] = req
	pq.Insert(&readyqueue.Entry{
		TaskID:           req.ID,
		UserPriority:     req.UserPriority,
		InternalPriority: req.InternalPriority,
	})
}

func (f *Fetcher) runOne(ctx context.Context, req reactor.FetchRequest) {
	start := time.Now()
	candidates := req.CandidateWorkers
	if len(candidates) == 0 {
		f.logger.WithField("id", req.ID).Warn("fetcher: no candidate workers advertised")
		f.reportFailed(req.ID)
		return
	}

	for round := 0; ; round++ {
		worker := candidates[round%len(candidates)]
		bytes, serializer, err := f.fetchFrom(ctx, worker, req.CandidateAddrs[worker], req.ID)
		if err == nil {
			if f.reg != nil {
				f.reg.RecordFetchSuccess(time.Since(start), int64(len(bytes)))
				f.reg.RecordFetchAttempt("ok")
			}
			select {
			case f.deliver <- Delivery{ID: req.ID, Bytes: bytes, Serializer: serializer}:
			case <-ctx.Done():
			}
			return
		}
		if f.reg != nil {
			f.reg.RecordFetchAttempt(attemptStatus(err))
		}
		if dserrors.Is(err, dserrors.ErrProtocol) {
			// DataUploaded on a fetch path, or an undecodable response:
			// terminate the connection and give up on this candidate
			// permanently, never retry it.
			f.dropConn(worker)
			candidates = removeCandidate(candidates, worker)
			if len(candidates) == 0 {
				f.reportFailed(req.ID)
				return
			}
			continue
		}
		if round+1 >= f.backoff.MaxAttempts*len(candidates) {
			f.reportFailed(req.ID)
			return
		}
		wait := backoffFor(f.backoff, round)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
}

func (f *Fetcher) reportFailed(id int64) {
	select {
	case f.failed <- id:
	default:
	}
}

func backoffFor(cfg BackoffConfig, attempt int) time.Duration {
	wait := cfg.InitialWait
	for i := 0; i < attempt; i++ {
		wait = time.Duration(float64(wait) * cfg.Factor)
		if wait > cfg.MaxWait {
			return cfg.MaxWait
		}
	}
	return wait
}

func attemptStatus(err error) string {
	switch {
	case dserrors.Is(err, dserrors.ErrProtocol):
		return "protocol_error"
	case dserrors.Is(err, dserrors.ErrUnavailable):
		return "not_available"
	default:
		return "network_error"
	}
}

func removeCandidate(candidates []int64, remove int64) []int64 {
	out := make([]int64, 0, len(candidates))
	for _, c := range candidates {
		if c != remove {
			out = append(out, c)
		}
	}
	return out
}

// fetchFrom opens (or reuses) a connection to worker and performs one
// FetchRequest/DataResponse exchange, mirroring fetch_data's three-way
// branch on the response status.
func (f *Fetcher) fetchFrom(ctx context.Context, worker int64, addr string, taskID int64) ([]byte, string, error) {
	conn, err := f.connFor(worker, addr)
	if err != nil {
		return nil, "", err
	}

	body, err := wire.Encode(wire.KindFetchRequest, wire.FetchRequest{TaskID: taskID})
	if err != nil {
		return nil, "", dserrors.Wrap(err, "fetcher: encoding request")
	}
	if err := wire.WriteFrame(conn, body); err != nil {
		f.dropConn(worker)
		return nil, "", dserrors.Networkf("fetcher: writing request to worker %d: %v", worker, err)
	}

	headerBody, err := wire.ReadFrame(conn)
	if err != nil {
		f.dropConn(worker)
		return nil, "", dserrors.Networkf("fetcher: reading response header from worker %d: %v", worker, err)
	}
	kind, raw, err := wire.Decode(headerBody)
	if err != nil || kind != wire.KindDataResponse {
		f.dropConn(worker)
		return nil, "", dserrors.Protocolf("fetcher: unexpected frame kind %q from worker %d", kind, worker)
	}
	var header wire.DataResponse
	if err := wire.DecodePayload(raw, &header); err != nil {
		f.dropConn(worker)
		return nil, "", err
	}

	switch header.Status {
	case wire.DataResponseNotAvailable:
		return nil, "", dserrors.Unavailablef("fetcher: worker %d reports data %d not available", worker, taskID)
	case wire.DataResponseUploaded:
		f.dropConn(worker)
		return nil, "", dserrors.Protocolf("fetcher: worker %d sent DataUploaded on a fetch path", worker)
	case wire.DataResponseData:
		payload, err := wire.ReadFrame(conn)
		if err != nil {
			f.dropConn(worker)
			return nil, "", dserrors.Networkf("fetcher: reading data body from worker %d: %v", worker, err)
		}
		return payload, header.Serializer, nil
	default:
		f.dropConn(worker)
		return nil, "", dserrors.Protocolf("fetcher: unknown response status %q from worker %d", header.Status, worker)
	}
}

func (f *Fetcher) connFor(worker int64, addr string) (net.Conn, error) {
	f.mu.Lock()
	if conn, ok := f.conns[worker]; ok {
		f.mu.Unlock()
		return conn, nil
	}
	f.mu.Unlock()

	if addr == "" {
		return nil, dserrors.NotFoundf("fetcher: no listen address known for worker %d", worker)
	}
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, dserrors.Networkf("fetcher: dialing worker %d at %s: %v", worker, addr, err)
	}
	if err := wire.SendHandshake(conn, wire.Handshake{PeerKind: wire.PeerWorker, ListenAddress: "", NCPUs: 0}); err != nil {
		_ = conn.Close()
		return nil, dserrors.Wrap(err, "fetcher: handshake")
	}

	f.mu.Lock()
	f.conns[worker] = conn
	f.mu.Unlock()
	return conn, nil
}

// dropConn evicts a pooled connection on error, per §5's "entries are
// evicted on error" policy.
func (f *Fetcher) dropConn(worker int64) {
	f.mu.Lock()
	conn, ok := f.conns[worker]
	delete(f.conns, worker)
	f.mu.Unlock()
	if ok {
		_ = conn.Close()
	}
}

// Close closes every pooled connection, for worker shutdown.
func (f *Fetcher) Close() error {
	f.mu.Lock()
	conns := f.conns
	f.conns = make(map[int64]net.Conn)
	f.mu.Unlock()
	var errs []error
	for _, c := range conns {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return dserrors.Multiple(errs...)
}
