package subworker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestExecHandleRoundTrip uses "cat" as a stand-in subprocess: it echoes
// whatever frame it receives straight back, exercising the framing without
// needing a real subworker binary.
func TestExecHandleRoundTrip(t *testing.T) {
	results := make(chan Result, 1)
	h := NewExecHandle(0, "cat", nil, results)
	defer h.Close()

	h.Start(context.Background(), 7)

	select {
	case res := <-results:
		assert.Equal(t, int64(7), res.TaskID)
		assert.Equal(t, 0, res.Slot)
		assert.NoError(t, res.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subworker result")
	}
}

func TestExecHandleMissingBinaryReportsError(t *testing.T) {
	results := make(chan Result, 1)
	h := NewExecHandle(0, "/no/such/binary-for-test", nil, results)

	h.Start(context.Background(), 1)

	select {
	case res := <-results:
		require.Error(t, res.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subworker result")
	}
}
