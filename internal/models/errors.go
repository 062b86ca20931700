package models

import (
	"errors"
	"fmt"
)

// ErrJailMismatch a record does not belong to the jail being processed
var ErrJailMismatch = errors.New("record does not belong to jail")

// NormalizationError one bad source record; skipped and logged
type NormalizationError struct {
	Field  string
	Reason string
	Value  string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize %s: %s (value %q)", e.Field, e.Reason, e.Value)
}

// TransientPersistenceError connection/lock-timeout class failure; retried
type TransientPersistenceError struct {
	Op  string
	Err error
}

func (e *TransientPersistenceError) Error() string {
	return fmt.Sprintf("transient persistence error during %s: %v", e.Op, e.Err)
}

func (e *TransientPersistenceError) Unwrap() error { return e.Err }

// PersistenceConflictError uniqueness violation on insert
type PersistenceConflictError struct {
	Key IdentityKey
	Err error
}

func (e *PersistenceConflictError) Error() string {
	return fmt.Sprintf("identity conflict for %s: %v", e.Key, e.Err)
}

func (e *PersistenceConflictError) Unwrap() error { return e.Err }

// JailUnreachableError the jail's source could not be scraped this cycle
type JailUnreachableError struct {
	JailID string
	Err    error
}

func (e *JailUnreachableError) Error() string {
	return fmt.Sprintf("jail %s unreachable: %v", e.JailID, e.Err)
}

func (e *JailUnreachableError) Unwrap() error { return e.Err }

// NotificationDeliveryError a notification could not be delivered; always swallowed
type NotificationDeliveryError struct {
	Method string
	Err    error
}

func (e *NotificationDeliveryError) Error() string {
	return fmt.Sprintf("notification via %s failed: %v", e.Method, e.Err)
}

func (e *NotificationDeliveryError) Unwrap() error { return e.Err }
