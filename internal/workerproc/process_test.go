package workerproc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dagsched/internal/reactor"
	"dagsched/internal/wire"
)

func TestDecodeSchedulerFrameComputeTask(t *testing.T) {
	body, err := wire.Encode(wire.KindComputeTask, wire.ComputeTask{
		ID: 1,
		Dependencies: []wire.DependencyRef{
			{ID: 9, Size: 64, CandidateWorkers: []int64{2}, CandidateAddrs: map[int64]string{2: "host:1"}},
		},
		Priority: [2]int64{3, 4},
	})
	require.NoError(t, err)
	kind, raw, err := wire.Decode(body)
	require.NoError(t, err)

	ev, ok, err := decodeSchedulerFrame(kind, raw)
	require.NoError(t, err)
	require.True(t, ok)

	a, isAssign := ev.(assignEvent)
	require.True(t, isAssign)
	assert.Equal(t, int64(1), a.id)
	assert.Equal(t, int64(3), a.userPriority)
	assert.Equal(t, int64(4), a.internalPriority)
	require.Len(t, a.deps, 1)
	assert.Equal(t, reactor.DependencyInput{
		ID: 9, Size: 64, CandidateWorkers: []int64{2}, CandidateAddrs: map[int64]string{2: "host:1"},
	}, a.deps[0])
}

func TestDecodeSchedulerFrameDeleteData(t *testing.T) {
	body, err := wire.Encode(wire.KindDeleteData, wire.DeleteData{IDs: []int64{5, 6}})
	require.NoError(t, err)
	kind, raw, err := wire.Decode(body)
	require.NoError(t, err)

	ev, ok, err := decodeSchedulerFrame(kind, raw)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, deleteDataEvent{ids: []int64{5, 6}}, ev)
}

func TestDecodeSchedulerFrameStealRequestTakesFirstID(t *testing.T) {
	body, err := wire.Encode(wire.KindStealRequest, wire.StealRequest{IDs: []int64{11, 12}})
	require.NoError(t, err)
	kind, raw, err := wire.Decode(body)
	require.NoError(t, err)

	ev, ok, err := decodeSchedulerFrame(kind, raw)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, stealEvent{id: 11}, ev)
}

func TestDecodeSchedulerFrameStealRequestEmptyIsIgnored(t *testing.T) {
	body, err := wire.Encode(wire.KindStealRequest, wire.StealRequest{})
	require.NoError(t, err)
	kind, raw, err := wire.Decode(body)
	require.NoError(t, err)

	ev, ok, err := decodeSchedulerFrame(kind, raw)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, ev)
}

func TestDecodeSchedulerFrameUnknownKindIsProtocolError(t *testing.T) {
	_, _, err := decodeSchedulerFrame(wire.KindHeartbeat, nil)
	require.Error(t, err)
}

func TestWireStealOutcomeMapsAllVariants(t *testing.T) {
	assert.Equal(t, wire.StealOk, wireStealOutcome(reactor.StealOk))
	assert.Equal(t, wire.StealRunning, wireStealOutcome(reactor.StealRunning))
	assert.Equal(t, wire.StealNotHere, wireStealOutcome(reactor.StealNotHere))
}
