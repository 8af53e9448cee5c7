// Package protocol implements the validator message envelope and the
// transaction-processor messages exchanged with a Sawtooth validator.
//
// Messages are encoded in protobuf wire format using the field numbers of the
// validator's .proto definitions, so frames produced here are readable by a
// stock validator and vice versa. Only the envelope and the processor/state
// messages live here; business payloads stay opaque bytes.
package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// MessageType identifies the content carried by a Message.
type MessageType int32

const (
	MessageTypeDefault                  MessageType = 0
	MessageTypeTpRegisterRequest        MessageType = 1
	MessageTypeTpRegisterResponse       MessageType = 2
	MessageTypeTpUnregisterRequest      MessageType = 3
	MessageTypeTpUnregisterResponse     MessageType = 4
	MessageTypeTpProcessRequest         MessageType = 5
	MessageTypeTpProcessResponse        MessageType = 6
	MessageTypeTpStateGetRequest        MessageType = 7
	MessageTypeTpStateGetResponse       MessageType = 8
	MessageTypeTpStateSetRequest        MessageType = 9
	MessageTypeTpStateSetResponse       MessageType = 10
	MessageTypeTpStateDeleteRequest     MessageType = 11
	MessageTypeTpStateDeleteResponse    MessageType = 12
	MessageTypeTpReceiptAddDataRequest  MessageType = 13
	MessageTypeTpReceiptAddDataResponse MessageType = 14
	MessageTypeTpEventAddRequest        MessageType = 15
	MessageTypeTpEventAddResponse       MessageType = 16
	MessageTypePingRequest              MessageType = 1200
	MessageTypePingResponse             MessageType = 1201
)

var messageTypeNames = map[MessageType]string{
	MessageTypeDefault:                  "DEFAULT",
	MessageTypeTpRegisterRequest:        "TP_REGISTER_REQUEST",
	MessageTypeTpRegisterResponse:       "TP_REGISTER_RESPONSE",
	MessageTypeTpUnregisterRequest:      "TP_UNREGISTER_REQUEST",
	MessageTypeTpUnregisterResponse:     "TP_UNREGISTER_RESPONSE",
	MessageTypeTpProcessRequest:         "TP_PROCESS_REQUEST",
	MessageTypeTpProcessResponse:        "TP_PROCESS_RESPONSE",
	MessageTypeTpStateGetRequest:        "TP_STATE_GET_REQUEST",
	MessageTypeTpStateGetResponse:       "TP_STATE_GET_RESPONSE",
	MessageTypeTpStateSetRequest:        "TP_STATE_SET_REQUEST",
	MessageTypeTpStateSetResponse:       "TP_STATE_SET_RESPONSE",
	MessageTypeTpStateDeleteRequest:     "TP_STATE_DELETE_REQUEST",
	MessageTypeTpStateDeleteResponse:    "TP_STATE_DELETE_RESPONSE",
	MessageTypeTpReceiptAddDataRequest:  "TP_RECEIPT_ADD_DATA_REQUEST",
	MessageTypeTpReceiptAddDataResponse: "TP_RECEIPT_ADD_DATA_RESPONSE",
	MessageTypeTpEventAddRequest:        "TP_EVENT_ADD_REQUEST",
	MessageTypeTpEventAddResponse:       "TP_EVENT_ADD_RESPONSE",
	MessageTypePingRequest:              "PING_REQUEST",
	MessageTypePingResponse:             "PING_RESPONSE",
}

func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("MESSAGE_TYPE_%d", int32(t))
}

// Message is the envelope for every frame on the validator stream.
type Message struct {
	MessageType   MessageType
	CorrelationID string
	Content       []byte
}

// Marshal encodes the envelope.
func (m *Message) Marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(uint32(m.MessageType)))
	b = appendString(b, 2, m.CorrelationID)
	b = appendBytes(b, 3, m.Content)
	return b
}

// Unmarshal decodes an envelope, replacing the receiver's fields.
func (m *Message) Unmarshal(data []byte) error {
	*m = Message{}
	return decodeFields(data, func(d *decoder, num protowire.Number, typ protowire.Type) (bool, error) {
		var err error
		switch num {
		case 1:
			var v uint64
			v, err = d.varint(typ)
			m.MessageType = MessageType(int32(v))
		case 2:
			m.CorrelationID, err = d.string(typ)
		case 3:
			m.Content, err = d.bytes(typ)
		default:
			return false, nil
		}
		return true, err
	})
}

// ParseMessage decodes a frame received from the stream.
func ParseMessage(data []byte) (*Message, error) {
	var m Message
	if err := m.Unmarshal(data); err != nil {
		return nil, err
	}
	return &m, nil
}
