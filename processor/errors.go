package processor

import (
	"errors"
	"fmt"

	"github.com/blockchaintp/sawtooth-mttp/protocol"
)

// InvalidTransactionError is returned by a handler when a transaction breaks a
// business rule. The validator rejects the transaction.
type InvalidTransactionError struct {
	Message      string
	ExtendedData []byte
}

// NewInvalidTransactionError formats an InvalidTransactionError.
func NewInvalidTransactionError(format string, args ...any) *InvalidTransactionError {
	return &InvalidTransactionError{Message: fmt.Sprintf(format, args...)}
}

func (e *InvalidTransactionError) Error() string {
	return "invalid transaction: " + e.Message
}

// InternalError is returned by a handler when it could not evaluate a
// transaction. The validator may retry it.
type InternalError struct {
	Message      string
	ExtendedData []byte
}

// NewInternalError formats an InternalError.
func NewInternalError(format string, args ...any) *InternalError {
	return &InternalError{Message: fmt.Sprintf(format, args...)}
}

func (e *InternalError) Error() string {
	return "internal error: " + e.Message
}

// OutcomeKind tags the result of applying one transaction.
type OutcomeKind int

const (
	OutcomeOK OutcomeKind = iota
	OutcomeInvalidTransaction
	OutcomeInternalError
	OutcomeUnclassified
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOK:
		return "ok"
	case OutcomeInvalidTransaction:
		return "invalid_transaction"
	case OutcomeInternalError:
		return "internal_error"
	case OutcomeUnclassified:
		return "unclassified"
	default:
		return fmt.Sprintf("outcome_%d", int(k))
	}
}

// Outcome is the classified result of a handler call.
type Outcome struct {
	Kind         OutcomeKind
	Message      string
	ExtendedData []byte
}

// Classify maps the error returned by TransactionHandler.Apply to an Outcome.
//
// The error itself is inspected first, then at most one level of wrapping.
// Anything else is unclassified and reported as an internal error carrying the
// error's own text.
func Classify(err error) Outcome {
	if err == nil {
		return Outcome{Kind: OutcomeOK}
	}
	if outcome, ok := classifyDirect(err); ok {
		return outcome
	}
	if cause := errors.Unwrap(err); cause != nil {
		if outcome, ok := classifyDirect(cause); ok {
			return outcome
		}
	}

	msg := err.Error()
	if msg == "" {
		msg = fmt.Sprintf("%T", err)
	}
	return Outcome{Kind: OutcomeUnclassified, Message: msg}
}

func classifyDirect(err error) (Outcome, bool) {
	switch e := err.(type) {
	case *InvalidTransactionError:
		return Outcome{Kind: OutcomeInvalidTransaction, Message: e.Message, ExtendedData: e.ExtendedData}, true
	case *InternalError:
		return Outcome{Kind: OutcomeInternalError, Message: e.Message, ExtendedData: e.ExtendedData}, true
	}
	return Outcome{}, false
}

// Status returns the wire status for the outcome.
func (o Outcome) Status() protocol.ProcessStatus {
	switch o.Kind {
	case OutcomeOK:
		return protocol.ProcessStatusOK
	case OutcomeInvalidTransaction:
		return protocol.ProcessStatusInvalidTransaction
	default:
		return protocol.ProcessStatusInternalError
	}
}

// Response builds the process response sent back to the validator.
func (o Outcome) Response() *protocol.TpProcessResponse {
	return &protocol.TpProcessResponse{
		Status:       o.Status(),
		Message:      o.Message,
		ExtendedData: o.ExtendedData,
	}
}

// panicError carries a value recovered from a panicking handler.
type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.value)
}
