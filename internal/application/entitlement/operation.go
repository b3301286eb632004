package entitlement

import (
	"fmt"

	"github.com/verimail/backend/internal/domain/shared"
)

// OperationKind identifies what an account is asking to do
type OperationKind string

const (
	OperationValidate      OperationKind = "validate"
	OperationBatchValidate OperationKind = "batch_validate"
	OperationSendEmail     OperationKind = "send_email"
)

// IsValid checks if the operation kind is known
func (k OperationKind) IsValid() bool {
	switch k {
	case OperationValidate, OperationBatchValidate, OperationSendEmail:
		return true
	}
	return false
}

// Operation is an intended chargeable action: a kind plus the number of
// quota units it would consume.
type Operation struct {
	Kind  OperationKind
	Count int64
}

// Validate builds a single/multi email validation operation
func Validate(count int64) Operation {
	return Operation{Kind: OperationValidate, Count: count}
}

// BatchValidate builds a batch-mode validation operation
func BatchValidate(count int64) Operation {
	return Operation{Kind: OperationBatchValidate, Count: count}
}

// SendEmail builds an email-sending operation, consuming one unit
func SendEmail() Operation {
	return Operation{Kind: OperationSendEmail, Count: 1}
}

// NewOperation validates and builds an operation from raw input
func NewOperation(kind string, count int64) (Operation, error) {
	k := OperationKind(kind)
	if !k.IsValid() {
		return Operation{}, shared.NewDomainError("INVALID_INPUT",
			fmt.Sprintf("Unknown operation kind %q", kind))
	}
	if k == OperationSendEmail {
		return SendEmail(), nil
	}
	if count < 1 {
		return Operation{}, shared.NewDomainError("INVALID_INPUT",
			"Operation count must be at least 1")
	}
	return Operation{Kind: k, Count: count}, nil
}
