package dserrors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategoryConstructorsClassify(t *testing.T) {
	assert.ErrorIs(t, Protocolf("bad frame type %d", 9), ErrProtocol)
	assert.ErrorIs(t, Networkf("dial %s", "host"), ErrNetwork)
	assert.ErrorIs(t, TaskFailedf("task %s", "t1"), ErrTaskFailed)
	assert.ErrorIs(t, Invariantf("unreachable"), ErrInvariant)
	assert.ErrorIs(t, NotFoundf("task %s", "t1"), ErrNotFound)
	assert.ErrorIs(t, Unavailablef("data %s", "d1"), ErrUnavailable)
}

func TestWrapPreservesSentinel(t *testing.T) {
	err := Wrap(ErrProtocol, "decoding frame")
	assert.ErrorIs(t, err, ErrProtocol)
	assert.Contains(t, err.Error(), "decoding frame")
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, "x"))
}

func TestMultipleErrors(t *testing.T) {
	assert.Nil(t, Multiple())
	assert.Equal(t, ErrProtocol, Multiple(ErrProtocol))

	combined := Multiple(ErrProtocol, ErrNetwork)
	assert.ErrorIs(t, combined, ErrProtocol)
	var me *multiError
	assert.ErrorAs(t, combined, &me)
	assert.Len(t, me.Errors(), 2)
}
