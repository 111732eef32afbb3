// File: internal/services/completion_queue.go
package services

import (
	"github.com/deploymenttheory/go-vdev/internal/types"
)

// CompletionQueue is a bounded work queue carrying finished requests
// from the dispatcher's completion callbacks to the pool manager.
// Completion callbacks run on the device layer's completion thread and
// must stay small; pushing onto this queue is all they do with the
// request once its error is classified.
type CompletionQueue struct {
	ch chan *types.Request
}

// NewCompletionQueue returns a queue holding at most depth requests.
func NewCompletionQueue(depth int) *CompletionQueue {
	if depth <= 0 {
		depth = 1
	}
	return &CompletionQueue{ch: make(chan *types.Request, depth)}
}

// Complete enqueues a finished request. It blocks when the queue is
// full, applying backpressure to the completion thread.
func (q *CompletionQueue) Complete(req *types.Request) {
	q.ch <- req
}

// Requests exposes the receive side for the pool manager to drain.
func (q *CompletionQueue) Requests() <-chan *types.Request {
	return q.ch
}

// Len reports how many completions are waiting.
func (q *CompletionQueue) Len() int {
	return len(q.ch)
}
