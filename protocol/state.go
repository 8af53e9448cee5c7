package protocol

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// StateStatus is the validator's answer to a state, receipt or event request.
type StateStatus int32

const (
	StateStatusUnset              StateStatus = 0
	StateStatusOK                 StateStatus = 1
	StateStatusAuthorizationError StateStatus = 2
)

func (s StateStatus) String() string {
	switch s {
	case StateStatusOK:
		return "OK"
	case StateStatusAuthorizationError:
		return "AUTHORIZATION_ERROR"
	default:
		return "STATUS_UNSET"
	}
}

// StateEntry is one address/value pair of global state.
type StateEntry struct {
	Address string
	Data    []byte
}

func (e *StateEntry) marshal() []byte {
	var b []byte
	b = appendString(b, 1, e.Address)
	b = appendBytes(b, 2, e.Data)
	return b
}

func (e *StateEntry) unmarshal(data []byte) error {
	*e = StateEntry{}
	return decodeFields(data, func(d *decoder, num protowire.Number, typ protowire.Type) (bool, error) {
		var err error
		switch num {
		case 1:
			e.Address, err = d.string(typ)
		case 2:
			e.Data, err = d.bytes(typ)
		default:
			return false, nil
		}
		return true, err
	})
}

func appendEntries(b []byte, num protowire.Number, entries []StateEntry) []byte {
	for i := range entries {
		b = appendMessage(b, num, entries[i].marshal())
	}
	return b
}

func decodeEntry(d *decoder, typ protowire.Type) (StateEntry, error) {
	var e StateEntry
	raw, err := d.bytes(typ)
	if err != nil {
		return e, err
	}
	err = e.unmarshal(raw)
	return e, err
}

// StateGetRequest reads addresses within a context.
type StateGetRequest struct {
	ContextID string
	Addresses []string
}

// Marshal encodes the request.
func (r *StateGetRequest) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, r.ContextID)
	b = appendStrings(b, 2, r.Addresses)
	return b
}

// Unmarshal decodes the request.
func (r *StateGetRequest) Unmarshal(data []byte) error {
	*r = StateGetRequest{}
	return decodeFields(data, func(d *decoder, num protowire.Number, typ protowire.Type) (bool, error) {
		var err error
		switch num {
		case 1:
			r.ContextID, err = d.string(typ)
		case 2:
			var s string
			s, err = d.string(typ)
			r.Addresses = append(r.Addresses, s)
		default:
			return false, nil
		}
		return true, err
	})
}

// StateGetResponse returns the entries found for a StateGetRequest.
type StateGetResponse struct {
	Entries []StateEntry
	Status  StateStatus
}

// Marshal encodes the response.
func (r *StateGetResponse) Marshal() []byte {
	var b []byte
	b = appendEntries(b, 1, r.Entries)
	b = appendVarint(b, 2, uint64(uint32(r.Status)))
	return b
}

// Unmarshal decodes the response.
func (r *StateGetResponse) Unmarshal(data []byte) error {
	*r = StateGetResponse{}
	return decodeFields(data, func(d *decoder, num protowire.Number, typ protowire.Type) (bool, error) {
		switch num {
		case 1:
			e, err := decodeEntry(d, typ)
			r.Entries = append(r.Entries, e)
			return true, err
		case 2:
			v, err := d.varint(typ)
			r.Status = StateStatus(int32(v))
			return true, err
		}
		return false, nil
	})
}

// StateSetRequest writes entries within a context.
type StateSetRequest struct {
	ContextID string
	Entries   []StateEntry
}

// Marshal encodes the request.
func (r *StateSetRequest) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, r.ContextID)
	b = appendEntries(b, 2, r.Entries)
	return b
}

// Unmarshal decodes the request.
func (r *StateSetRequest) Unmarshal(data []byte) error {
	*r = StateSetRequest{}
	return decodeFields(data, func(d *decoder, num protowire.Number, typ protowire.Type) (bool, error) {
		switch num {
		case 1:
			var err error
			r.ContextID, err = d.string(typ)
			return true, err
		case 2:
			e, err := decodeEntry(d, typ)
			r.Entries = append(r.Entries, e)
			return true, err
		}
		return false, nil
	})
}

// AddressesResponse is the shape shared by the set and delete responses:
// the addresses affected plus a status.
type AddressesResponse struct {
	Addresses []string
	Status    StateStatus
}

// Marshal encodes the response.
func (r *AddressesResponse) Marshal() []byte {
	var b []byte
	b = appendStrings(b, 1, r.Addresses)
	b = appendVarint(b, 2, uint64(uint32(r.Status)))
	return b
}

// Unmarshal decodes the response.
func (r *AddressesResponse) Unmarshal(data []byte) error {
	*r = AddressesResponse{}
	return decodeFields(data, func(d *decoder, num protowire.Number, typ protowire.Type) (bool, error) {
		switch num {
		case 1:
			s, err := d.string(typ)
			r.Addresses = append(r.Addresses, s)
			return true, err
		case 2:
			v, err := d.varint(typ)
			r.Status = StateStatus(int32(v))
			return true, err
		}
		return false, nil
	})
}

// StateDeleteRequest removes addresses within a context. It shares the wire
// shape of StateGetRequest.
type StateDeleteRequest = StateGetRequest

// ReceiptAddDataRequest attaches opaque data to the transaction receipt.
type ReceiptAddDataRequest struct {
	ContextID string
	Data      []byte
}

// Marshal encodes the request.
func (r *ReceiptAddDataRequest) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, r.ContextID)
	b = appendBytes(b, 3, r.Data)
	return b
}

// Unmarshal decodes the request.
func (r *ReceiptAddDataRequest) Unmarshal(data []byte) error {
	*r = ReceiptAddDataRequest{}
	return decodeFields(data, func(d *decoder, num protowire.Number, typ protowire.Type) (bool, error) {
		var err error
		switch num {
		case 1:
			r.ContextID, err = d.string(typ)
		case 3:
			r.Data, err = d.bytes(typ)
		default:
			return false, nil
		}
		return true, err
	})
}

// StatusResponse is the shape of the receipt and event acknowledgements.
// For these, a status of 2 is a generic error rather than an authorization error.
type StatusResponse struct {
	Status StateStatus
}

// Marshal encodes the response.
func (r *StatusResponse) Marshal() []byte {
	return appendVarint(nil, 2, uint64(uint32(r.Status)))
}

// Unmarshal decodes the response.
func (r *StatusResponse) Unmarshal(data []byte) error {
	*r = StatusResponse{}
	return decodeFields(data, func(d *decoder, num protowire.Number, typ protowire.Type) (bool, error) {
		if num != 2 {
			return false, nil
		}
		v, err := d.varint(typ)
		r.Status = StateStatus(int32(v))
		return true, err
	})
}

// EventAttribute is a key/value pair used by subscribers to filter events.
type EventAttribute struct {
	Key   string
	Value string
}

// Event is emitted by a transaction and delivered to event subscribers.
type Event struct {
	EventType  string
	Attributes []EventAttribute
	Data       []byte
}

func (e *Event) marshal() []byte {
	var b []byte
	b = appendString(b, 1, e.EventType)
	for _, a := range e.Attributes {
		var ab []byte
		ab = appendString(ab, 1, a.Key)
		ab = appendString(ab, 2, a.Value)
		b = appendMessage(b, 2, ab)
	}
	b = appendBytes(b, 3, e.Data)
	return b
}

func (e *Event) unmarshal(data []byte) error {
	*e = Event{}
	return decodeFields(data, func(d *decoder, num protowire.Number, typ protowire.Type) (bool, error) {
		var err error
		switch num {
		case 1:
			e.EventType, err = d.string(typ)
		case 2:
			var raw []byte
			if raw, err = d.bytes(typ); err != nil {
				return true, err
			}
			var a EventAttribute
			err = decodeFields(raw, func(d *decoder, num protowire.Number, typ protowire.Type) (bool, error) {
				var err error
				switch num {
				case 1:
					a.Key, err = d.string(typ)
				case 2:
					a.Value, err = d.string(typ)
				default:
					return false, nil
				}
				return true, err
			})
			e.Attributes = append(e.Attributes, a)
		case 3:
			e.Data, err = d.bytes(typ)
		default:
			return false, nil
		}
		return true, err
	})
}

// EventAddRequest emits an event from within a context.
type EventAddRequest struct {
	ContextID string
	Event     Event
}

// Marshal encodes the request.
func (r *EventAddRequest) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, r.ContextID)
	b = appendMessage(b, 2, r.Event.marshal())
	return b
}

// Unmarshal decodes the request.
func (r *EventAddRequest) Unmarshal(data []byte) error {
	*r = EventAddRequest{}
	return decodeFields(data, func(d *decoder, num protowire.Number, typ protowire.Type) (bool, error) {
		var err error
		switch num {
		case 1:
			r.ContextID, err = d.string(typ)
		case 2:
			var raw []byte
			if raw, err = d.bytes(typ); err != nil {
				return true, err
			}
			err = r.Event.unmarshal(raw)
		default:
			return false, nil
		}
		return true, err
	})
}
