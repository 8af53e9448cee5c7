package processor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/blockchaintp/sawtooth-mttp/protocol"
)

// execute runs one process request on a worker and queues its response.
// An undecodable request gets no response.
func (p *Processor) execute(ctx context.Context, msg *protocol.Message, receivedAt time.Time) error {
	var req protocol.TpProcessRequest
	if err := req.Unmarshal(msg.Content); err != nil {
		slog.Warn(fmt.Sprintf("%s - Dropping undecodable process request %s: %v", logPrefix, msg.CorrelationID, err))
		return err
	}

	state := NewStreamState(p.transport, req.ContextID)
	outcome := Classify(p.apply(ctx, &req, state))

	switch outcome.Kind {
	case OutcomeOK:
	case OutcomeInvalidTransaction:
		slog.Info(fmt.Sprintf("%s - Invalid transaction %s: %s", logPrefix, msg.CorrelationID, outcome.Message))
	default:
		slog.Warn(fmt.Sprintf("%s - Internal error on %s (%s): %s", logPrefix, msg.CorrelationID, outcome.Kind, outcome.Message))
	}

	pending := PendingResponse{
		CorrelationID: msg.CorrelationID,
		Response:      outcome.Response(),
		ReceivedAt:    receivedAt,
	}
	if err := p.queue.Put(ctx, pending); err != nil {
		slog.Warn(fmt.Sprintf("%s - Dropping response %s: %v", logPrefix, msg.CorrelationID, err))
		return err
	}
	return nil
}

// apply calls the handler, turning a panic into an error.
func (p *Processor) apply(ctx context.Context, req *protocol.TpProcessRequest, state State) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return p.handler.Apply(ctx, req, state)
}
