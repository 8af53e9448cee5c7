package processor

import (
	"context"
	"sync"
	"time"

	"github.com/blockchaintp/sawtooth-mttp/protocol"
)

// PendingResponse is a completed process response waiting to be sent.
type PendingResponse struct {
	CorrelationID string
	Response      *protocol.TpProcessResponse

	// ReceivedAt is when the request reached the dispatch loop.
	ReceivedAt time.Time
}

// ResponseQueue is an unbounded FIFO of pending responses. Any number of
// workers may Put; the dispatch loop is the only consumer.
type ResponseQueue struct {
	mu    sync.Mutex
	items []PendingResponse
	head  int
}

// NewResponseQueue creates an empty queue.
func NewResponseQueue() *ResponseQueue {
	return &ResponseQueue{}
}

// Put appends a response. It only fails when ctx is already done.
func (q *ResponseQueue) Put(ctx context.Context, r PendingResponse) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	q.items = append(q.items, r)
	q.mu.Unlock()
	return nil
}

// Poll removes and returns the oldest response, if any.
func (q *ResponseQueue) Poll() (PendingResponse, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head == len(q.items) {
		return PendingResponse{}, false
	}

	r := q.items[q.head]
	q.items[q.head] = PendingResponse{}
	q.head++

	// Reclaim the consumed prefix once it dominates the slice
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 1024 && q.head*2 > len(q.items) {
		n := copy(q.items, q.items[q.head:])
		q.items = q.items[:n]
		q.head = 0
	}
	return r, true
}

// Len returns the number of queued responses.
func (q *ResponseQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}
