package protocol

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// ProcessStatus is the outcome reported for a processed transaction.
type ProcessStatus int32

const (
	ProcessStatusUnset              ProcessStatus = 0
	ProcessStatusOK                 ProcessStatus = 1
	ProcessStatusInvalidTransaction ProcessStatus = 2
	ProcessStatusInternalError      ProcessStatus = 3
)

func (s ProcessStatus) String() string {
	switch s {
	case ProcessStatusOK:
		return "OK"
	case ProcessStatusInvalidTransaction:
		return "INVALID_TRANSACTION"
	case ProcessStatusInternalError:
		return "INTERNAL_ERROR"
	default:
		return "STATUS_UNSET"
	}
}

// RegisterStatus is the validator's answer to a (un)registration request.
type RegisterStatus int32

const (
	RegisterStatusUnset RegisterStatus = 0
	RegisterStatusOK    RegisterStatus = 1
	RegisterStatusError RegisterStatus = 2
)

func (s RegisterStatus) String() string {
	switch s {
	case RegisterStatusOK:
		return "OK"
	case RegisterStatusError:
		return "ERROR"
	default:
		return "STATUS_UNSET"
	}
}

// HeaderStyle selects how the validator delivers the transaction header.
type HeaderStyle int32

const (
	HeaderStyleUnset    HeaderStyle = 0
	HeaderStyleExpanded HeaderStyle = 1
	HeaderStyleRaw      HeaderStyle = 2
)

// TransactionHeader is the signed header of a transaction.
type TransactionHeader struct {
	BatcherPublicKey string
	Dependencies     []string
	FamilyName       string
	FamilyVersion    string
	Inputs           []string
	Nonce            string
	Outputs          []string
	PayloadSha512    string
	SignerPublicKey  string
}

// Marshal encodes the header.
func (h *TransactionHeader) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, h.BatcherPublicKey)
	b = appendStrings(b, 2, h.Dependencies)
	b = appendString(b, 3, h.FamilyName)
	b = appendString(b, 4, h.FamilyVersion)
	b = appendStrings(b, 5, h.Inputs)
	b = appendString(b, 6, h.Nonce)
	b = appendStrings(b, 7, h.Outputs)
	b = appendString(b, 9, h.PayloadSha512)
	b = appendString(b, 10, h.SignerPublicKey)
	return b
}

// Unmarshal decodes the header.
func (h *TransactionHeader) Unmarshal(data []byte) error {
	*h = TransactionHeader{}
	return decodeFields(data, func(d *decoder, num protowire.Number, typ protowire.Type) (bool, error) {
		var (
			s   string
			err error
		)
		switch num {
		case 1:
			h.BatcherPublicKey, err = d.string(typ)
		case 2:
			s, err = d.string(typ)
			h.Dependencies = append(h.Dependencies, s)
		case 3:
			h.FamilyName, err = d.string(typ)
		case 4:
			h.FamilyVersion, err = d.string(typ)
		case 5:
			s, err = d.string(typ)
			h.Inputs = append(h.Inputs, s)
		case 6:
			h.Nonce, err = d.string(typ)
		case 7:
			s, err = d.string(typ)
			h.Outputs = append(h.Outputs, s)
		case 9:
			h.PayloadSha512, err = d.string(typ)
		case 10:
			h.SignerPublicKey, err = d.string(typ)
		default:
			return false, nil
		}
		return true, err
	})
}

// TpProcessRequest asks the processor to apply one transaction within the
// validator-side context identified by ContextID.
type TpProcessRequest struct {
	Header      *TransactionHeader
	Payload     []byte
	Signature   string
	ContextID   string
	HeaderBytes []byte
}

// Marshal encodes the request.
func (r *TpProcessRequest) Marshal() []byte {
	var b []byte
	if r.Header != nil {
		b = appendMessage(b, 1, r.Header.Marshal())
	}
	b = appendBytes(b, 2, r.Payload)
	b = appendString(b, 3, r.Signature)
	b = appendString(b, 4, r.ContextID)
	b = appendBytes(b, 5, r.HeaderBytes)
	return b
}

// Unmarshal decodes the request.
func (r *TpProcessRequest) Unmarshal(data []byte) error {
	*r = TpProcessRequest{}
	return decodeFields(data, func(d *decoder, num protowire.Number, typ protowire.Type) (bool, error) {
		var err error
		switch num {
		case 1:
			var raw []byte
			if raw, err = d.bytes(typ); err != nil {
				return true, err
			}
			r.Header = &TransactionHeader{}
			err = r.Header.Unmarshal(raw)
		case 2:
			r.Payload, err = d.bytes(typ)
		case 3:
			r.Signature, err = d.string(typ)
		case 4:
			r.ContextID, err = d.string(typ)
		case 5:
			r.HeaderBytes, err = d.bytes(typ)
		default:
			return false, nil
		}
		return true, err
	})
}

// TpProcessResponse carries the outcome of a TpProcessRequest.
type TpProcessResponse struct {
	Status       ProcessStatus
	Message      string
	ExtendedData []byte
}

// Marshal encodes the response.
func (r *TpProcessResponse) Marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(uint32(r.Status)))
	b = appendString(b, 2, r.Message)
	b = appendBytes(b, 3, r.ExtendedData)
	return b
}

// Unmarshal decodes the response.
func (r *TpProcessResponse) Unmarshal(data []byte) error {
	*r = TpProcessResponse{}
	return decodeFields(data, func(d *decoder, num protowire.Number, typ protowire.Type) (bool, error) {
		var err error
		switch num {
		case 1:
			var v uint64
			v, err = d.varint(typ)
			r.Status = ProcessStatus(int32(v))
		case 2:
			r.Message, err = d.string(typ)
		case 3:
			r.ExtendedData, err = d.bytes(typ)
		default:
			return false, nil
		}
		return true, err
	})
}

// TpRegisterRequest advertises a transaction family to the validator.
type TpRegisterRequest struct {
	Family             string
	Version            string
	Namespaces         []string
	MaxOccupancy       uint32
	ProtocolVersion    uint32
	RequestHeaderStyle HeaderStyle
}

// Marshal encodes the request.
func (r *TpRegisterRequest) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, r.Family)
	b = appendString(b, 2, r.Version)
	b = appendStrings(b, 4, r.Namespaces)
	b = appendVarint(b, 5, uint64(r.MaxOccupancy))
	b = appendVarint(b, 6, uint64(r.ProtocolVersion))
	b = appendVarint(b, 7, uint64(uint32(r.RequestHeaderStyle)))
	return b
}

// Unmarshal decodes the request.
func (r *TpRegisterRequest) Unmarshal(data []byte) error {
	*r = TpRegisterRequest{}
	return decodeFields(data, func(d *decoder, num protowire.Number, typ protowire.Type) (bool, error) {
		var (
			v   uint64
			err error
		)
		switch num {
		case 1:
			r.Family, err = d.string(typ)
		case 2:
			r.Version, err = d.string(typ)
		case 4:
			var s string
			s, err = d.string(typ)
			r.Namespaces = append(r.Namespaces, s)
		case 5:
			v, err = d.varint(typ)
			r.MaxOccupancy = uint32(v)
		case 6:
			v, err = d.varint(typ)
			r.ProtocolVersion = uint32(v)
		case 7:
			v, err = d.varint(typ)
			r.RequestHeaderStyle = HeaderStyle(int32(v))
		default:
			return false, nil
		}
		return true, err
	})
}

// TpRegisterResponse acknowledges a registration.
type TpRegisterResponse struct {
	Status          RegisterStatus
	ProtocolVersion uint32
}

// Marshal encodes the response.
func (r *TpRegisterResponse) Marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(uint32(r.Status)))
	b = appendVarint(b, 2, uint64(r.ProtocolVersion))
	return b
}

// Unmarshal decodes the response.
func (r *TpRegisterResponse) Unmarshal(data []byte) error {
	*r = TpRegisterResponse{}
	return decodeFields(data, func(d *decoder, num protowire.Number, typ protowire.Type) (bool, error) {
		var (
			v   uint64
			err error
		)
		switch num {
		case 1:
			v, err = d.varint(typ)
			r.Status = RegisterStatus(int32(v))
		case 2:
			v, err = d.varint(typ)
			r.ProtocolVersion = uint32(v)
		default:
			return false, nil
		}
		return true, err
	})
}

// TpUnregisterResponse acknowledges an unregistration. The request itself has
// no fields and is sent with empty content.
type TpUnregisterResponse struct {
	Status RegisterStatus
}

// Marshal encodes the response.
func (r *TpUnregisterResponse) Marshal() []byte {
	return appendVarint(nil, 1, uint64(uint32(r.Status)))
}

// Unmarshal decodes the response.
func (r *TpUnregisterResponse) Unmarshal(data []byte) error {
	*r = TpUnregisterResponse{}
	return decodeFields(data, func(d *decoder, num protowire.Number, typ protowire.Type) (bool, error) {
		if num != 1 {
			return false, nil
		}
		v, err := d.varint(typ)
		r.Status = RegisterStatus(int32(v))
		return true, err
	})
}
