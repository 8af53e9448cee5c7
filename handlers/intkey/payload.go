package intkey

import (
	"crypto/sha512"
	"encoding/hex"
	"math"

	"github.com/fxamacker/cbor/v2"

	"github.com/blockchaintp/sawtooth-mttp/processor"
)

const (
	// MaxNameLength bounds the length of a key.
	MaxNameLength = 20

	// MaxValue is the largest value a key may hold.
	MaxValue = math.MaxUint32
)

// Verbs understood by the family.
const (
	VerbSet = "set"
	VerbInc = "inc"
	VerbDec = "dec"
)

// Payload is the CBOR transaction payload.
type Payload struct {
	Verb  string `cbor:"Verb"`
	Name  string `cbor:"Name"`
	Value int64  `cbor:"Value"`
}

// Encode returns the CBOR encoding of the payload.
func (p *Payload) Encode() ([]byte, error) {
	return cbor.Marshal(p)
}

// DecodePayload decodes and checks a transaction payload. Every failure is
// an invalid transaction.
func DecodePayload(data []byte) (*Payload, error) {
	if len(data) == 0 {
		return nil, processor.NewInvalidTransactionError("empty payload")
	}

	var p Payload
	if err := cbor.Unmarshal(data, &p); err != nil {
		return nil, processor.NewInvalidTransactionError("failed to decode payload: %v", err)
	}

	switch p.Verb {
	case VerbSet, VerbInc, VerbDec:
	case "":
		return nil, processor.NewInvalidTransactionError("verb is required")
	default:
		return nil, processor.NewInvalidTransactionError("invalid verb: %q", p.Verb)
	}

	if p.Name == "" {
		return nil, processor.NewInvalidTransactionError("name is required")
	}
	if len(p.Name) > MaxNameLength {
		return nil, processor.NewInvalidTransactionError("name must be at most %d characters: %q", MaxNameLength, p.Name)
	}
	if p.Value < 0 || p.Value > MaxValue {
		return nil, processor.NewInvalidTransactionError("value must be between 0 and %d: %d", uint32(MaxValue), p.Value)
	}
	return &p, nil
}

func hexdigest(s string) string {
	sum := sha512.Sum512([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Namespace is the address prefix owned by the family.
var Namespace = hexdigest(FamilyName)[:6]

// Address returns the state address of a key.
func Address(name string) string {
	digest := hexdigest(name)
	return Namespace + digest[len(digest)-64:]
}

// decodeEntry decodes the key/value map stored at an address. Distinct keys
// may share an address.
func decodeEntry(data []byte) (map[string]int64, error) {
	values := make(map[string]int64)
	if len(data) == 0 {
		return values, nil
	}
	if err := cbor.Unmarshal(data, &values); err != nil {
		return nil, err
	}
	return values, nil
}

var encMode, _ = cbor.CanonicalEncOptions().EncMode()

func encodeEntry(values map[string]int64) ([]byte, error) {
	return encMode.Marshal(values)
}
