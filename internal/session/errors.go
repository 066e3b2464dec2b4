package session

import (
	"fmt"
)

// Error codes carried in error response bodies so clients can map a
// rejection back to a typed error without string matching.
const (
	ErrCodeValidation = "validation"
	ErrCodeNotFound   = "not_found"
	ErrCodeIncomplete = "incomplete"
	ErrCodeStorage    = "storage"
	ErrCodeState      = "state"
)

// ValidationError rejects malformed initiate or chunk parameters. Never
// retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// SessionNotFoundError covers unknown, expired and cancelled upload ids.
// Fatal for the upload; the caller has to start over.
type SessionNotFoundError struct {
	UploadID string
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("upload session %s not found or expired", e.UploadID)
}

// IncompleteUploadError rejects finalize while parts are still missing.
// The session stays in uploading; the caller may send the missing parts
// and finalize again.
type IncompleteUploadError struct {
	UploadID      string
	MissingParts  []int
	ReceivedBytes int64
	TotalSize     int64
}

func (e *IncompleteUploadError) Error() string {
	return fmt.Sprintf("upload %s incomplete: %d of %d bytes received, missing parts %v",
		e.UploadID, e.ReceivedBytes, e.TotalSize, e.MissingParts)
}

// StorageError is a finalize-time assembly failure. Fatal; the session
// moves to failed and is not retried automatically.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// StateError rejects an operation the session's current status does not
// allow, e.g. chunks after completion.
type StateError struct {
	UploadID string
	Status   Status
}

func (e *StateError) Error() string {
	return fmt.Sprintf("upload %s is %s and no longer accepts this operation", e.UploadID, e.Status)
}
