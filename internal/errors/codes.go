package errors

import (
	"fmt"
)

// ErrorCode represents internal error codes for repository operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Caller errors (4xx equivalent)
	ErrCodeInvalidArgument      ErrorCode = 1000
	ErrCodeNodeNotFound         ErrorCode = 1001
	ErrCodePropertyNotFound     ErrorCode = 1002
	ErrCodeLockNotFound         ErrorCode = 1003
	ErrCodeLockViolation        ErrorCode = 1004
	ErrCodeLockTokenMismatch    ErrorCode = 1005
	ErrCodeReferentialIntegrity ErrorCode = 1006
	ErrCodeWriteConflict        ErrorCode = 1007

	// Programming defects and server errors (5xx equivalent)
	ErrCodeInternal           ErrorCode = 2000
	ErrCodeReentrancyFault    ErrorCode = 2001
	ErrCodeJournalAppendFailed ErrorCode = 2002
	ErrCodeJournalCorrupted   ErrorCode = 2003
	ErrCodeNodeUnsynchronized ErrorCode = 2004
	ErrCodeRevisionGap        ErrorCode = 2005
	ErrCodeStorageFailed      ErrorCode = 2006
)

// StoreError represents a structured error with code and context
type StoreError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *StoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// NewStoreError creates a new StoreError
func NewStoreError(code ErrorCode, message string, cause error) *StoreError {
	return &StoreError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *StoreError) WithDetail(key string, value interface{}) *StoreError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func InvalidArgument(message string, cause error) *StoreError {
	return NewStoreError(ErrCodeInvalidArgument, message, cause)
}

func NodeNotFound(nodeID string) *StoreError {
	return NewStoreError(ErrCodeNodeNotFound, fmt.Sprintf("node not found: %s", nodeID), nil).
		WithDetail("node_id", nodeID)
}

func PropertyNotFound(propertyID string) *StoreError {
	return NewStoreError(ErrCodePropertyNotFound, fmt.Sprintf("property not found: %s", propertyID), nil).
		WithDetail("property_id", propertyID)
}

func LockNotFound(path string) *StoreError {
	return NewStoreError(ErrCodeLockNotFound, fmt.Sprintf("no lock governs %s", path), nil).
		WithDetail("path", path)
}

func LockViolation(path, holderPath, owner string) *StoreError {
	return NewStoreError(ErrCodeLockViolation,
		fmt.Sprintf("lock request for %s conflicts with lock at %s held by session %s", path, holderPath, owner), nil).
		WithDetail("path", path).
		WithDetail("holder_path", holderPath).
		WithDetail("owner_session", owner)
}

func LockTokenMismatch(path, session string) *StoreError {
	return NewStoreError(ErrCodeLockTokenMismatch,
		fmt.Sprintf("session %s does not hold the lock token for %s", session, path), nil).
		WithDetail("path", path).
		WithDetail("session", session)
}

func ReentrancyFault(txID, mode string) *StoreError {
	return NewStoreError(ErrCodeReentrancyFault,
		fmt.Sprintf("transaction %s released %s lock without matching acquisition", txID, mode), nil).
		WithDetail("tx_id", txID).
		WithDetail("mode", mode)
}

func ReferentialIntegrity(nodeID string, referrers int) *StoreError {
	return NewStoreError(ErrCodeReferentialIntegrity,
		fmt.Sprintf("node %s is still the target of %d reference(s)", nodeID, referrers), nil).
		WithDetail("node_id", nodeID).
		WithDetail("referrers", referrers)
}

func WriteConflict(nodeID string, baseRevision, currentRevision uint64) *StoreError {
	return NewStoreError(ErrCodeWriteConflict,
		fmt.Sprintf("node %s changed concurrently: staged against revision %d, now at %d", nodeID, baseRevision, currentRevision), nil).
		WithDetail("node_id", nodeID).
		WithDetail("base_revision", baseRevision).
		WithDetail("current_revision", currentRevision)
}

func JournalAppendFailed(message string, cause error) *StoreError {
	return NewStoreError(ErrCodeJournalAppendFailed, message, cause)
}

func JournalCorrupted(revision uint64, cause error) *StoreError {
	return NewStoreError(ErrCodeJournalCorrupted,
		fmt.Sprintf("journal corrupted at revision %d", revision), cause).
		WithDetail("revision", revision)
}

func NodeUnsynchronized(nodeID string) *StoreError {
	return NewStoreError(ErrCodeNodeUnsynchronized,
		fmt.Sprintf("cluster node %s is unsynchronized and refuses local commits", nodeID), nil).
		WithDetail("cluster_node_id", nodeID)
}

func RevisionGap(expected, got uint64) *StoreError {
	return NewStoreError(ErrCodeRevisionGap,
		fmt.Sprintf("journal revision gap: expected %d, got %d", expected, got), nil).
		WithDetail("expected", expected).
		WithDetail("got", got)
}

func InternalError(message string, cause error) *StoreError {
	return NewStoreError(ErrCodeInternal, message, cause)
}

func StorageFailed(message string, cause error) *StoreError {
	return NewStoreError(ErrCodeStorageFailed, message, cause)
}

// IsStoreError checks if an error is a StoreError
func IsStoreError(err error) bool {
	_, ok := err.(*StoreError)
	return ok
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if se, ok := err.(*StoreError); ok {
		return se.Code
	}
	return ErrCodeInternal
}
