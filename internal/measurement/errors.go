package measurement

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes a failed or absorbed admission.
type ErrorCode string

const (
	// CodeDuplicateDigest: the (digest, pcr) pair is already in the log.
	// Non-fatal, the entry was absorbed.
	CodeDuplicateDigest ErrorCode = "DUPLICATE_DIGEST"

	// CodeOutOfMemory: the namespace log could not take another entry.
	CodeOutOfMemory ErrorCode = "OUT_OF_MEMORY"

	// CodeHardwareError: the entry was recorded but the trust-anchor extend
	// failed.
	CodeHardwareError ErrorCode = "HARDWARE_ERROR"

	// CodeAdmissionOverflow: the admission gate is full.
	CodeAdmissionOverflow ErrorCode = "ADMISSION_OVERFLOW"

	// CodeAdmissionTimeout: the admission never reached its turn.
	CodeAdmissionTimeout ErrorCode = "ADMISSION_TIMEOUT"

	// CodeAdmissionCanceled: the caller's context ended while waiting for
	// its turn, before the gate's own bound.
	CodeAdmissionCanceled ErrorCode = "ADMISSION_CANCELED"

	// CodeNamespaceInactive: the namespace exists but is not active.
	CodeNamespaceInactive ErrorCode = "NAMESPACE_INACTIVE"

	// CodeNamespaceNotFound: no such namespace, or it was torn down.
	CodeNamespaceNotFound ErrorCode = "NAMESPACE_NOT_FOUND"

	// CodeInvalidEntry: the request could not be turned into an entry.
	CodeInvalidEntry ErrorCode = "INVALID_ENTRY"
)

// Errno returns the negative errno carried in audit records for c.
func (c ErrorCode) Errno() int {
	switch c {
	case CodeDuplicateDigest:
		return -17 // EEXIST
	case CodeOutOfMemory:
		return -12 // ENOMEM
	case CodeAdmissionOverflow:
		return -16 // EBUSY
	case CodeAdmissionTimeout:
		return -62 // ETIME
	case CodeAdmissionCanceled:
		return -125 // ECANCELED
	case CodeNamespaceInactive:
		return -13 // EACCES
	case CodeNamespaceNotFound:
		return -2 // ENOENT
	case CodeInvalidEntry:
		return -22 // EINVAL
	}
	return 0
}

// Error is returned by the engine for every admission that did not end in a
// plain hash_added.
type Error struct {
	Code      ErrorCode
	Namespace int
	// Cause is the audit cause string of the attempt.
	Cause string
	Err   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: ns %d: %s: %v", e.Code, e.Namespace, e.Cause, e.Err)
	}
	return fmt.Sprintf("%s: ns %d: %s", e.Code, e.Namespace, e.Cause)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// Errno returns the negative errno of the error's code.
func (e *Error) Errno() int { return e.Code.Errno() }

// CodeOf returns the ErrorCode carried by err, or "" when err is not an *Error.
func CodeOf(err error) ErrorCode {
	var me *Error
	if errors.As(err, &me) {
		return me.Code
	}
	return ""
}

// IsDuplicate reports whether err is a DuplicateDigest error.
func IsDuplicate(err error) bool { return CodeOf(err) == CodeDuplicateDigest }

// IsOutOfMemory reports whether err is an OutOfMemory error.
func IsOutOfMemory(err error) bool { return CodeOf(err) == CodeOutOfMemory }

// IsHardware reports whether err is a HardwareError. The entry was still
// recorded.
func IsHardware(err error) bool { return CodeOf(err) == CodeHardwareError }

// IsOverflow reports whether err is an AdmissionOverflow error.
func IsOverflow(err error) bool { return CodeOf(err) == CodeAdmissionOverflow }

// IsTimeout reports whether err is an AdmissionTimeout error.
func IsTimeout(err error) bool { return CodeOf(err) == CodeAdmissionTimeout }

// IsCanceled reports whether err is an AdmissionCanceled error.
func IsCanceled(err error) bool { return CodeOf(err) == CodeAdmissionCanceled }

// IsInactive reports whether err is a NamespaceInactive error.
func IsInactive(err error) bool { return CodeOf(err) == CodeNamespaceInactive }

// IsNotFound reports whether err is a NamespaceNotFound error.
func IsNotFound(err error) bool { return CodeOf(err) == CodeNamespaceNotFound }

// Recorded reports whether an Append that returned err still stored its entry.
func Recorded(err error) bool { return err == nil || IsHardware(err) }
