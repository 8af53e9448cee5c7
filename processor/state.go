package processor

import (
	"context"
	"errors"

	"github.com/blockchaintp/sawtooth-mttp/network"
	"github.com/blockchaintp/sawtooth-mttp/protocol"
)

// State is the view of global state a handler gets for one transaction.
type State interface {
	// GetState returns the data stored at each address. Unset addresses are
	// omitted from the result.
	GetState(ctx context.Context, addresses []string) (map[string][]byte, error)

	// SetState stores entries and returns the addresses that were set.
	SetState(ctx context.Context, entries map[string][]byte) ([]string, error)

	// DeleteState clears addresses and returns the addresses that were deleted.
	DeleteState(ctx context.Context, addresses []string) ([]string, error)

	// AddReceiptData attaches opaque data to the transaction receipt.
	AddReceiptData(ctx context.Context, data []byte) error

	// AddEvent emits an event when the transaction's block is committed.
	AddEvent(ctx context.Context, eventType string, attributes []protocol.EventAttribute, data []byte) error
}

// Requester sends a request to the validator and returns the future reply.
// *network.Stream implements it.
type Requester interface {
	Send(ctx context.Context, messageType protocol.MessageType, content []byte) (*network.Future, error)
}

// StreamState implements State over the validator stream, scoped to the
// context id of one process request.
type StreamState struct {
	requester Requester
	contextID string
}

// NewStreamState creates a State bound to contextID.
func NewStreamState(requester Requester, contextID string) *StreamState {
	return &StreamState{requester: requester, contextID: contextID}
}

// ContextID returns the validator context the state is scoped to.
func (s *StreamState) ContextID() string {
	return s.contextID
}

func (s *StreamState) GetState(ctx context.Context, addresses []string) (map[string][]byte, error) {
	req := &protocol.StateGetRequest{ContextID: s.contextID, Addresses: addresses}
	msg, err := s.request(ctx, protocol.MessageTypeTpStateGetRequest, protocol.MessageTypeTpStateGetResponse, req.Marshal())
	if err != nil {
		return nil, err
	}

	var resp protocol.StateGetResponse
	if err := resp.Unmarshal(msg.Content); err != nil {
		return nil, NewInternalError("decode state get response: %v", err)
	}
	if err := checkStatus(resp.Status, "get", addresses); err != nil {
		return nil, err
	}

	results := make(map[string][]byte, len(resp.Entries))
	for _, entry := range resp.Entries {
		if len(entry.Data) > 0 {
			results[entry.Address] = entry.Data
		}
	}
	return results, nil
}

func (s *StreamState) SetState(ctx context.Context, entries map[string][]byte) ([]string, error) {
	req := &protocol.StateSetRequest{ContextID: s.contextID}
	addresses := make([]string, 0, len(entries))
	for address, data := range entries {
		req.Entries = append(req.Entries, protocol.StateEntry{Address: address, Data: data})
		addresses = append(addresses, address)
	}

	msg, err := s.request(ctx, protocol.MessageTypeTpStateSetRequest, protocol.MessageTypeTpStateSetResponse, req.Marshal())
	if err != nil {
		return nil, err
	}

	var resp protocol.AddressesResponse
	if err := resp.Unmarshal(msg.Content); err != nil {
		return nil, NewInternalError("decode state set response: %v", err)
	}
	if err := checkStatus(resp.Status, "set", addresses); err != nil {
		return nil, err
	}
	return resp.Addresses, nil
}

func (s *StreamState) DeleteState(ctx context.Context, addresses []string) ([]string, error) {
	req := &protocol.StateDeleteRequest{ContextID: s.contextID, Addresses: addresses}
	msg, err := s.request(ctx, protocol.MessageTypeTpStateDeleteRequest, protocol.MessageTypeTpStateDeleteResponse, req.Marshal())
	if err != nil {
		return nil, err
	}

	var resp protocol.AddressesResponse
	if err := resp.Unmarshal(msg.Content); err != nil {
		return nil, NewInternalError("decode state delete response: %v", err)
	}
	if err := checkStatus(resp.Status, "delete", addresses); err != nil {
		return nil, err
	}
	return resp.Addresses, nil
}

func (s *StreamState) AddReceiptData(ctx context.Context, data []byte) error {
	req := &protocol.ReceiptAddDataRequest{ContextID: s.contextID, Data: data}
	msg, err := s.request(ctx, protocol.MessageTypeTpReceiptAddDataRequest, protocol.MessageTypeTpReceiptAddDataResponse, req.Marshal())
	if err != nil {
		return err
	}

	var resp protocol.StatusResponse
	if err := resp.Unmarshal(msg.Content); err != nil {
		return NewInternalError("decode receipt response: %v", err)
	}
	if resp.Status != protocol.StateStatusOK {
		return NewInternalError("failed to add receipt data")
	}
	return nil
}

func (s *StreamState) AddEvent(ctx context.Context, eventType string, attributes []protocol.EventAttribute, data []byte) error {
	req := &protocol.EventAddRequest{
		ContextID: s.contextID,
		Event: protocol.Event{
			EventType:  eventType,
			Attributes: attributes,
			Data:       data,
		},
	}
	msg, err := s.request(ctx, protocol.MessageTypeTpEventAddRequest, protocol.MessageTypeTpEventAddResponse, req.Marshal())
	if err != nil {
		return err
	}

	var resp protocol.StatusResponse
	if err := resp.Unmarshal(msg.Content); err != nil {
		return NewInternalError("decode event response: %v", err)
	}
	if resp.Status != protocol.StateStatusOK {
		return NewInternalError("failed to add event %s", eventType)
	}
	return nil
}

// request sends one state request and waits for its reply.
func (s *StreamState) request(ctx context.Context, messageType, replyType protocol.MessageType, content []byte) (*protocol.Message, error) {
	future, err := s.requester.Send(ctx, messageType, content)
	if err != nil {
		return nil, requestError(ctx, messageType, err)
	}

	msg, err := future.Result(ctx)
	if err != nil {
		return nil, requestError(ctx, messageType, err)
	}
	if msg.MessageType != replyType {
		return nil, NewInternalError("expected %v in reply to %v, got %v", replyType, messageType, msg.MessageType)
	}
	return msg, nil
}

func requestError(ctx context.Context, messageType protocol.MessageType, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return ctxErr
	}
	return NewInternalError("%v failed: %v", messageType, err)
}

func checkStatus(status protocol.StateStatus, op string, addresses []string) error {
	switch status {
	case protocol.StateStatusOK:
		return nil
	case protocol.StateStatusAuthorizationError:
		return NewInvalidTransactionError("tried to %s unauthorized address %v", op, addresses)
	default:
		return NewInternalError("state %s failed with status %v", op, status)
	}
}
