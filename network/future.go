package network

import (
	"context"
	"sync"

	"github.com/blockchaintp/sawtooth-mttp/protocol"
)

// Future is the pending reply to a request sent on the stream.
// It is completed exactly once, either with the correlated reply or with an
// error when the connection carrying the request is lost.
type Future struct {
	correlationID string

	ch   chan struct{} // closed when completed
	once sync.Once

	msg *protocol.Message
	err error
}

// NewFuture allocates a pending future for the given correlation id.
func NewFuture(correlationID string) *Future {
	return &Future{
		correlationID: correlationID,
		ch:            make(chan struct{}),
	}
}

// CorrelationID returns the id the reply is matched on.
func (f *Future) CorrelationID() string {
	return f.correlationID
}

// Resolve completes the future with a reply. Later calls are ignored.
func (f *Future) Resolve(msg *protocol.Message) {
	f.once.Do(func() {
		f.msg = msg
		close(f.ch)
	})
}

// Fail completes the future with an error. Later calls are ignored.
func (f *Future) Fail(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.ch)
	})
}

// Done returns a channel that is closed once the future completes.
func (f *Future) Done() <-chan struct{} {
	return f.ch
}

// Result blocks until the future completes or ctx is done.
func (f *Future) Result(ctx context.Context) (*protocol.Message, error) {
	select {
	case <-f.ch:
		return f.msg, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
