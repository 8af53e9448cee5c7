package protocol

import (
	"testing"
)

// FuzzParseMessage feeds random frames to the envelope decoder.
// Run with: go test -fuzz=FuzzParseMessage -fuzztime=30s ./protocol/
func FuzzParseMessage(f *testing.F) {
	valid := &Message{
		MessageType:   MessageTypeTpProcessRequest,
		CorrelationID: "c0",
		Content:       []byte("content"),
	}
	f.Add(valid.Marshal())
	f.Add([]byte{})
	f.Add([]byte{0xff, 0xff, 0xff})
	f.Add([]byte{0x08, 0xb0, 0x09})

	f.Fuzz(func(t *testing.T, data []byte) {
		// Should not panic regardless of input
		msg, err := ParseMessage(data)
		if err == nil {
			// A decoded envelope must survive re-encoding
			if _, err := ParseMessage(msg.Marshal()); err != nil {
				t.Errorf("re-encoded message failed to parse: %v", err)
			}
		}
	})
}

// FuzzProcessRequest feeds random content to the process request decoder.
// Run with: go test -fuzz=FuzzProcessRequest -fuzztime=30s ./protocol/
func FuzzProcessRequest(f *testing.F) {
	valid := &TpProcessRequest{
		Header:    &TransactionHeader{FamilyName: "intkey", FamilyVersion: "1.0"},
		Payload:   []byte{0xa1},
		ContextID: "ctx",
	}
	f.Add(valid.Marshal())
	f.Add([]byte{0x0a, 0x02, 0xff, 0xff})
	f.Add([]byte(`{"not":"protobuf"}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		var req TpProcessRequest
		_ = req.Unmarshal(data)
	})
}
