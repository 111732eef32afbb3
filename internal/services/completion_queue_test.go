package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-vdev/internal/types"
)

func TestCompletionQueueOrder(t *testing.T) {
	q := NewCompletionQueue(8)

	reqs := []*types.Request{
		{Type: types.RequestRead, Offset: 0},
		{Type: types.RequestWrite, Offset: 512},
		{Type: types.RequestIoctl, Cmd: types.IoctlFlushWriteCache},
	}
	for _, r := range reqs {
		q.Complete(r)
	}
	require.Equal(t, len(reqs), q.Len())

	for _, want := range reqs {
		got := <-q.Requests()
		assert.Same(t, want, got)
	}
	assert.Equal(t, 0, q.Len())
}

func TestCompletionQueueMinimumDepth(t *testing.T) {
	q := NewCompletionQueue(0)
	q.Complete(&types.Request{})
	assert.Equal(t, 1, q.Len())
}
