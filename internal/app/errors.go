package app

import (
	"errors"
	"fmt"

	"relay/api/internal/dlock"
	"relay/api/internal/docstore"
	"relay/api/internal/store"
)

// Kind classifies a domain error so callers can branch on the class
// without string-matching messages.
type Kind int

const (
	// KindLockTimeout: the distributed lock was not acquired within
	// budget. The operation did not run; safe to retry later.
	KindLockTimeout Kind = iota + 1
	// KindConflictExhausted: optimistic version conflicts past the
	// retry budget. Terminal for this invocation; safe to retry as a
	// fresh operation.
	KindConflictExhausted
	// KindDuplicate: a benign unique-relationship conflict (already
	// friends, already requested, request already handled).
	KindDuplicate
	// KindValidation: the request is locally invalid; never retried.
	KindValidation
	// KindUnavailable: a backing store is unreachable; fails closed.
	KindUnavailable
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	// Existing carries the already-persisted entity on KindDuplicate,
	// so callers can answer "already done" with the real record.
	Existing any
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// mapInfra converts a backing-store outage into its typed error; every
// other error passes through unchanged. Applied wherever a store error
// crosses the service boundary.
func mapInfra(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, dlock.ErrUnavailable):
		return domainError(KindUnavailable, "LOCK_STORE_DOWN", "lock store unreachable")
	case errors.Is(err, store.ErrUnavailable):
		return domainError(KindUnavailable, "DATABASE_DOWN", "relational store unreachable")
	case errors.Is(err, docstore.ErrUnavailable):
		return domainError(KindUnavailable, "DOCUMENT_STORE_DOWN", "document store unreachable")
	default:
		return err
	}
}

// KindOf extracts the Kind from err, or 0 for non-domain errors.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return 0
}

// CodeOf extracts the Code from err, or "" for non-domain errors.
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
