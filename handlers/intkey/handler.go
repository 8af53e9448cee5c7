// Package intkey implements the Sawtooth integer-key transaction family: a
// map from short names to unsigned 32-bit integers that can be set once and
// then incremented or decremented.
package intkey

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/blockchaintp/sawtooth-mttp/processor"
	"github.com/blockchaintp/sawtooth-mttp/protocol"
)

const logPrefix = "intkey:handler"

const (
	FamilyName    = "intkey"
	FamilyVersion = "1.0"
)

// Handler is the intkey TransactionHandler. It holds no per-transaction state
// and is safe for concurrent use.
type Handler struct {
	// EmitEvents adds an "intkey/<verb>" event for every applied transaction
	EmitEvents bool
}

// NewHandler creates an intkey handler.
func NewHandler() *Handler {
	return &Handler{}
}

func (h *Handler) FamilyName() string   { return FamilyName }
func (h *Handler) Version() string      { return FamilyVersion }
func (h *Handler) Namespaces() []string { return []string{Namespace} }

// Apply executes one intkey transaction against state.
func (h *Handler) Apply(ctx context.Context, req *protocol.TpProcessRequest, state processor.State) error {
	payload, err := DecodePayload(req.Payload)
	if err != nil {
		return err
	}

	address := Address(payload.Name)
	entries, err := state.GetState(ctx, []string{address})
	if err != nil {
		return err
	}

	values, err := decodeEntry(entries[address])
	if err != nil {
		return processor.NewInternalError("failed to decode state at %s: %v", address, err)
	}

	current, exists := values[payload.Name]
	var next int64
	switch payload.Verb {
	case VerbSet:
		if exists {
			return processor.NewInvalidTransactionError("verb is 'set' but name already in state: %s", payload.Name)
		}
		next = payload.Value

	case VerbInc:
		if !exists {
			return processor.NewInvalidTransactionError("verb is 'inc' but name not in state: %s", payload.Name)
		}
		next = current + payload.Value
		if next > MaxValue {
			return processor.NewInvalidTransactionError("verb is 'inc' but result would be greater than %d", uint32(MaxValue))
		}

	case VerbDec:
		if !exists {
			return processor.NewInvalidTransactionError("verb is 'dec' but name not in state: %s", payload.Name)
		}
		next = current - payload.Value
		if next < 0 {
			return processor.NewInvalidTransactionError("verb is 'dec' but result would be less than 0")
		}
	}

	values[payload.Name] = next
	data, err := encodeEntry(values)
	if err != nil {
		return processor.NewInternalError("failed to encode state: %v", err)
	}

	set, err := state.SetState(ctx, map[string][]byte{address: data})
	if err != nil {
		return err
	}
	if len(set) == 0 {
		return processor.NewInternalError("state error: address %s was not set", address)
	}

	slog.Debug(fmt.Sprintf("%s - %s %s=%d", logPrefix, payload.Verb, payload.Name, next))

	if h.EmitEvents {
		attrs := []protocol.EventAttribute{
			{Key: "name", Value: payload.Name},
			{Key: "value", Value: strconv.FormatInt(next, 10)},
		}
		if err := state.AddEvent(ctx, FamilyName+"/"+payload.Verb, attrs, nil); err != nil {
			return err
		}
	}
	return nil
}
