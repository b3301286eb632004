package shared

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Common domain errors
var (
	ErrNotFound            = NewDomainError("NOT_FOUND", "Resource not found")
	ErrAlreadyExists       = NewDomainError("ALREADY_EXISTS", "Resource already exists")
	ErrInvalidInput        = NewDomainError("INVALID_INPUT", "Invalid input provided")
	ErrConcurrencyConflict = NewDomainError("CONCURRENCY_CONFLICT", "Resource was modified by another process")
	ErrUnauthorized        = NewDomainError("UNAUTHORIZED", "Not authorized to perform this action")
	ErrInvalidState        = NewDomainError("INVALID_STATE", "Operation not allowed in current state")

	// Entitlement domain errors
	ErrUnknownTier     = NewDomainError("UNKNOWN_TIER", "Account references a tier that is not defined")
	ErrAccountNotFound = NewDomainError("ACCOUNT_NOT_FOUND", "Account does not exist in the directory")
	ErrOwnershipCycle  = NewDomainError("OWNERSHIP_CYCLE", "Account ownership chain exceeds one level")
	ErrQuotaExceeded   = NewDomainError("QUOTA_EXCEEDED", "Usage limit reached for the current period")
)
