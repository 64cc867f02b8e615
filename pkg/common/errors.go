package common

import (
	"errors"
	"fmt"
)

// MalformedInputError reports a document that cannot be segmented at all
// (empty bytes, undecodable content). It is never retried; the document
// goes straight to Failed without affecting the rest of the run.
type MalformedInputError struct {
	DocumentID string
	Reason     string
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("malformed input for document %s: %s", e.DocumentID, e.Reason)
}

// IsMalformedInput reports whether err wraps a MalformedInputError.
func IsMalformedInput(err error) bool {
	var target *MalformedInputError
	return errors.As(err, &target)
}

// ExtractionDegraded marks a chunk whose extraction was abandoned after
// the retry bound. The chunk contributes zero candidates; the document
// continues. It is recorded, not propagated as a failure.
type ExtractionDegraded struct {
	ChunkID  string
	Attempts int
	Err      error
}

func (e *ExtractionDegraded) Error() string {
	return fmt.Sprintf("extraction degraded for chunk %s after %d attempts: %v", e.ChunkID, e.Attempts, e.Err)
}

func (e *ExtractionDegraded) Unwrap() error { return e.Err }

// VerificationRejected reports a mutation dropped by the verification
// agent. Logged with its reason, never fatal to the document.
type VerificationRejected struct {
	Reason string
}

func (e *VerificationRejected) Error() string {
	return fmt.Sprintf("verification rejected: %s", e.Reason)
}

// StoreWriteError reports a batch that could not be applied after the
// write retry bound. Fatal to its document, never to the run.
type StoreWriteError struct {
	DocumentID string
	Attempts   int
	Err        error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("store write failed for document %s after %d attempts: %v", e.DocumentID, e.Attempts, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }

// CapabilityErrorKind classifies a failed language-model call.
type CapabilityErrorKind string

const (
	CapabilityTimeout     CapabilityErrorKind = "timeout"
	CapabilityRateLimited CapabilityErrorKind = "rate_limited"
	CapabilityMalformed   CapabilityErrorKind = "malformed"
)

// CapabilityError wraps a failure of the external language-model
// capability. All kinds are retryable with backoff at the call site that
// raised them.
type CapabilityError struct {
	Kind CapabilityErrorKind
	Err  error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("capability %s: %v", e.Kind, e.Err)
}

func (e *CapabilityError) Unwrap() error { return e.Err }

// CapabilityKind returns the kind of the CapabilityError wrapped in err,
// or an empty kind when err is not a capability failure.
func CapabilityKind(err error) CapabilityErrorKind {
	var target *CapabilityError
	if errors.As(err, &target) {
		return target.Kind
	}
	return ""
}
