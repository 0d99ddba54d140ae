package gateway

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dagsched/internal/bridge"
	"dagsched/internal/core"
	"dagsched/internal/dslog"
	"dagsched/internal/placement"
	"dagsched/internal/wire"
)

func startTestGateway(t *testing.T) (*Server, *core.Scheduler, context.CancelFunc) {
	t.Helper()
	sched := core.NewScheduler(placement.NewWorkStealing(1.0, 0.0), 20*time.Millisecond, 32, 32, nil, nil)
	b := bridge.New(sched, nil)
	srv := New("127.0.0.1:0", b, dslog.New(dslog.ErrorLevel), nil)

	ctx, cancel := context.WithCancel(context.Background())
	go sched.Run(ctx)
	go func() { _ = srv.Serve(ctx) }()

	return srv, sched, cancel
}

func dialAndHandshake(t *testing.T, addr net.Addr, peerKind wire.PeerKind, listenAddr string, ncpus int) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	require.NoError(t, wire.SendHandshake(conn, wire.Handshake{
		PeerKind:      peerKind,
		ListenAddress: listenAddr,
		NCPUs:         ncpus,
	}))
	return conn
}

func TestWorkerHandshakeThenAssignRoundTrip(t *testing.T) {
	srv, _, cancel := startTestGateway(t)
	defer cancel()

	addr, err := srv.Addr(context.Background())
	require.NoError(t, err)

	worker := dialAndHandshake(t, addr, wire.PeerWorker, "worker1:9000", 4)
	defer worker.Close()

	client := dialAndHandshake(t, addr, wire.PeerClient, "", 0)
	defer client.Close()

	body, err := wire.Encode(wire.KindUpdateGraph, wire.UpdateGraph{
		Tasks: []wire.TaskSpec{{ID: 1}},
	})
	require.NoError(t, err)
	require.NoError(t, wire.WriteFrame(client, body))

	_ = worker.SetReadDeadline(time.Now().Add(2 * time.Second))
	frame, err := wire.ReadFrame(worker)
	require.NoError(t, err)
	kind, raw, err := wire.Decode(frame)
	require.NoError(t, err)
	require.Equal(t, wire.KindComputeTask, kind)

	var ct wire.ComputeTask
	require.NoError(t, wire.DecodePayload(raw, &ct))
	require.Equal(t, int64(1), ct.ID)
}

func TestWorkerTaskFinishedNotifiesClient(t *testing.T) {
	srv, _, cancel := startTestGateway(t)
	defer cancel()

	addr, err := srv.Addr(context.Background())
	require.NoError(t, err)

	worker := dialAndHandshake(t, addr, wire.PeerWorker, "worker1:9000", 4)
	defer worker.Close()
	client := dialAndHandshake(t, addr, wire.PeerClient, "", 0)
	defer client.Close()

	body, err := wire.Encode(wire.KindUpdateGraph, wire.UpdateGraph{Tasks: []wire.TaskSpec{{ID: 7}}})
	require.NoError(t, err)
	require.NoError(t, wire.WriteFrame(client, body))

	_ = worker.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = wire.ReadFrame(worker) // ComputeTask
	require.NoError(t, err)

	finishedBody, err := wire.Encode(wire.KindTaskFinished, wire.TaskFinished{ID: 7, Size: 99})
	require.NoError(t, err)
	require.NoError(t, wire.WriteFrame(worker, finishedBody))

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	clientFrame, err := wire.ReadFrame(client)
	require.NoError(t, err)
	kind, raw, err := wire.Decode(clientFrame)
	require.NoError(t, err)
	require.Equal(t, wire.KindKeyFinished, kind)

	var kf wire.KeyFinished
	require.NoError(t, wire.DecodePayload(raw, &kf))
	require.Equal(t, int64(7), kf.ID)
}
