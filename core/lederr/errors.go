// Package lederr defines the closed error taxonomy surfaced by the ledger.
// Codes are stable and wire-visible: clients branch on them, so a kind is
// never renumbered or removed.
package lederr

import (
	"errors"
	"fmt"
)

// Code identifies one failure kind of the ledger contract.
type Code uint32

const (
	CodeNotAuthorized             Code = 1
	CodeAlreadyInitialized        Code = 2
	CodeNotInitialized            Code = 3
	CodeContractPaused            Code = 4
	CodeMerchantNotFound          Code = 5
	CodeMerchantAlreadyRegistered Code = 6
	CodeInvoiceNotFound           Code = 7
	CodeTokenNotAccepted          Code = 8
	CodeInvalidAmount             Code = 9
	CodeFeeNotSet                 Code = 10
	CodeInsufficientBalance       Code = 11
	CodeTransferFailed            Code = 12
	CodeInvalidInvoiceStatus      Code = 13
)

// Error couples a stable code with a human-readable message.
type Error struct {
	code Code
	msg  string
}

// New constructs an error for the provided code.
func New(code Code, msg string) *Error {
	return &Error{code: code, msg: msg}
}

// Error implements the error interface.
func (e *Error) Error() string { return e.msg }

// Code returns the stable numeric identifier of the failure kind.
func (e *Error) Code() Code { return e.code }

// Is matches any error of the same code so sentinel comparisons survive
// wrapping with additional context.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.code == e.code
}

// Wrapf attaches call-site context while preserving the code.
func (e *Error) Wrapf(format string, args ...interface{}) *Error {
	return &Error{code: e.code, msg: fmt.Sprintf("%s: %s", e.msg, fmt.Sprintf(format, args...))}
}

var (
	ErrNotAuthorized             = New(CodeNotAuthorized, "caller is not authorized")
	ErrAlreadyInitialized        = New(CodeAlreadyInitialized, "ledger already initialized")
	ErrNotInitialized            = New(CodeNotInitialized, "ledger not initialized")
	ErrContractPaused            = New(CodeContractPaused, "ledger is paused")
	ErrMerchantNotFound          = New(CodeMerchantNotFound, "merchant not found")
	ErrMerchantAlreadyRegistered = New(CodeMerchantAlreadyRegistered, "merchant already registered")
	ErrInvoiceNotFound           = New(CodeInvoiceNotFound, "invoice not found")
	ErrTokenNotAccepted          = New(CodeTokenNotAccepted, "token not accepted")
	ErrInvalidAmount             = New(CodeInvalidAmount, "amount must be positive")
	ErrFeeNotSet                 = New(CodeFeeNotSet, "fee not configured for token")
	ErrInsufficientBalance       = New(CodeInsufficientBalance, "insufficient balance")
	ErrTransferFailed            = New(CodeTransferFailed, "token transfer failed")
	ErrInvalidInvoiceStatus      = New(CodeInvalidInvoiceStatus, "invoice is not pending")
)

// CodeOf extracts the taxonomy code from err. The second return reports
// whether err belongs to the taxonomy at all.
func CodeOf(err error) (Code, bool) {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.code, true
	}
	return 0, false
}
