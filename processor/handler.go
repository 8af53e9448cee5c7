package processor

import (
	"context"

	"github.com/blockchaintp/sawtooth-mttp/protocol"
)

// TransactionHandler implements the business logic of one transaction family.
//
// Apply is called concurrently from the worker pool and must be safe for
// concurrent use. It returns nil on success, an *InvalidTransactionError when
// the transaction is rejected, or an *InternalError when it could not be
// evaluated. Other errors are reported to the validator as internal errors.
type TransactionHandler interface {
	FamilyName() string
	Version() string
	Namespaces() []string
	Apply(ctx context.Context, req *protocol.TpProcessRequest, state State) error
}
