package errors

import (
	"errors"
	"fmt"
	"time"
)

// DomainError is the base interface for all structured errors in the application
type DomainError interface {
	error

	// Domain returns the domain context (e.g., "peer", "registry", "interface")
	Domain() string

	// Code returns a stable error code for operator messaging
	Code() string

	// Retryable indicates if the operation can be retried as-is
	Retryable() bool

	// Metadata returns additional error context
	Metadata() map[string]any

	// WithMetadata adds metadata to the error
	WithMetadata(key string, value any) DomainError

	// Timestamp returns when the error occurred
	Timestamp() time.Time
}

// BaseError is the foundational implementation of DomainError
type BaseError struct {
	domain    string
	code      string
	message   string
	cause     error
	retryable bool
	metadata  map[string]any
	timestamp time.Time
}

func (e *BaseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.domain, e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.domain, e.code, e.message)
}

func (e *BaseError) Unwrap() error            { return e.cause }

// Is matches errors by domain and code so errors.Is works against the
// sentinel errors even after WithMetadata copies.
func (e *BaseError) Is(target error) bool {
	t, ok := target.(*BaseError)
	return ok && t.domain == e.domain && t.code == e.code
}
func (e *BaseError) Domain() string           { return e.domain }
func (e *BaseError) Code() string             { return e.code }
func (e *BaseError) Retryable() bool          { return e.retryable }
func (e *BaseError) Metadata() map[string]any { return e.metadata }
func (e *BaseError) Timestamp() time.Time     { return e.timestamp }

// NewBaseError creates a new BaseError with the specified parameters
func NewBaseError(domain, code, message string, retryable bool, cause error, metadata map[string]any) *BaseError {
	if metadata == nil {
		metadata = make(map[string]any)
	}

	return &BaseError{
		domain:    domain,
		code:      code,
		message:   message,
		cause:     cause,
		retryable: retryable,
		metadata:  metadata,
		timestamp: time.Now(),
	}
}

// WithMetadata returns a copy of the error with the key/value added. The
// receiver is not mutated so shared sentinel errors stay safe.
func (e *BaseError) WithMetadata(key string, value any) DomainError {
	newMeta := make(map[string]any, len(e.metadata)+1)
	for k, v := range e.metadata {
		newMeta[k] = v
	}
	newMeta[key] = value

	return &BaseError{
		domain:    e.domain,
		code:      e.code,
		message:   e.message,
		cause:     e.cause,
		retryable: e.retryable,
		metadata:  newMeta,
		timestamp: e.timestamp,
	}
}

// Standardized Error Codes
const (
	// Peer Domain Errors
	ErrCodeValidation    = "validation_error"
	ErrCodeDuplicateUser = "duplicate_user"
	ErrCodeUserNotFound  = "user_not_found"
	ErrCodeKeyGenFailed  = "keygen_failed"

	// Address Allocation Errors
	ErrCodeSubnetExhausted = "subnet_exhausted"
	ErrCodeInvalidCIDR     = "invalid_cidr"
	ErrCodeInvalidAddress  = "invalid_address"

	// Registry Errors
	ErrCodeRegistryIO      = "registry_io_error"
	ErrCodeRegistryCorrupt = "registry_corrupt"

	// Projection / Interface Errors
	ErrCodeSyncFailed    = "sync_failed"
	ErrCodeReloadFailed  = "reload_failed"
	ErrCodeConfigParse   = "config_parse_error"
	ErrCodeFileOperation = "file_operation_error"

	// System Errors
	ErrCodeLockHeld        = "lock_held"
	ErrCodeBootstrapFailed = "bootstrap_failed"
	ErrCodeConfiguration   = "config_error"
	ErrCodeTimeout         = "timeout"
	ErrCodeInternal        = "internal_error"
)

// Domain Constants
const (
	DomainPeer      = "peer"
	DomainRegistry  = "registry"
	DomainSync      = "sync"
	DomainInterface = "interface"
	DomainSystem    = "system"
)

// Domain-specific error constructors

// NewPeerError creates a standardized peer domain error
func NewPeerError(code, message string, retryable bool, cause error) DomainError {
	return NewBaseError(DomainPeer, code, message, retryable, cause, nil)
}

// NewRegistryError creates a standardized registry domain error
func NewRegistryError(code, message string, retryable bool, cause error) DomainError {
	return NewBaseError(DomainRegistry, code, message, retryable, cause, nil)
}

// NewSyncError creates a standardized projection domain error
func NewSyncError(code, message string, retryable bool, cause error) DomainError {
	return NewBaseError(DomainSync, code, message, retryable, cause, nil)
}

// NewInterfaceError creates a standardized live-interface domain error
func NewInterfaceError(code, message string, retryable bool, cause error) DomainError {
	return NewBaseError(DomainInterface, code, message, retryable, cause, nil)
}

// NewSystemError creates a standardized system error
func NewSystemError(code, message string, retryable bool, cause error) DomainError {
	return NewBaseError(DomainSystem, code, message, retryable, cause, nil)
}

// Domain Sentinel Errors - pre-created common errors for fast comparison
var (
	ErrDuplicateUser   = NewPeerError(ErrCodeDuplicateUser, "user already exists", false, nil)
	ErrUserNotFound    = NewPeerError(ErrCodeUserNotFound, "user not found", false, nil)
	ErrSubnetExhausted = NewPeerError(ErrCodeSubnetExhausted, "subnet has no free address", false, nil)
	ErrLockHeld        = NewSystemError(ErrCodeLockHeld, "another operation holds the provisioning lock", true, nil)
)

// Helper functions for error checking

// IsDomainError checks if an error is a DomainError
func IsDomainError(err error) bool {
	var de DomainError
	return errors.As(err, &de)
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var de DomainError
	if errors.As(err, &de) {
		return de.Retryable()
	}
	return false
}

// GetErrorCode returns the error code if it's a DomainError, otherwise "unknown"
func GetErrorCode(err error) string {
	var de DomainError
	if errors.As(err, &de) {
		return de.Code()
	}
	return "unknown"
}

// GetErrorDomain returns the error domain if it's a DomainError, otherwise "unknown"
func GetErrorDomain(err error) string {
	var de DomainError
	if errors.As(err, &de) {
		return de.Domain()
	}
	return "unknown"
}

// IsErrorCode checks if any error in the chain carries the specified code
func IsErrorCode(err error, code string) bool {
	for err != nil {
		if de, ok := err.(DomainError); ok && de.Code() == code {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// WrapWithDomain wraps an existing error with domain context
func WrapWithDomain(err error, domain, code, message string, retryable bool) DomainError {
	return NewBaseError(domain, code, message, retryable, err, nil)
}
