// Package apperr defines the machine-readable error kinds shared by every use case.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindAuthorization     Kind = "authorization"
	KindInvalidTransition Kind = "invalid_transition"
	KindOutOfStock        Kind = "out_of_stock"
	KindInsufficientStock Kind = "insufficient_stock"
	KindAmountMismatch    Kind = "amount_mismatch"
	KindMultipleSellers   Kind = "multiple_sellers"
	KindGateway           Kind = "gateway_error"
	KindConflict          Kind = "conflict"
	KindInternal          Kind = "internal"
)

// Error is a classified failure. Op names the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	case e.Op != "":
		return e.Op + ": " + e.Msg
	default:
		return e.Msg
	}
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorKind implements Kinded.
func (e *Error) ErrorKind() Kind { return e.Kind }

// Kinded is implemented by any error that knows its own kind.
type Kinded interface {
	ErrorKind() Kind
}

// KindOf returns the first kind found in err's chain; unclassified errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var k Kinded
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	return KindInternal
}

// IsKind reports whether err classifies as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func New(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

func Wrap(kind Kind, op, msg string, err error) error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

func Validation(op, msg string) error { return New(KindValidation, op, msg) }

func NotFound(op string, err error) error {
	return Wrap(KindNotFound, op, "not found", err)
}

func Forbidden(op, msg string) error { return New(KindAuthorization, op, msg) }

func InvalidTransition(op string, err error) error {
	return Wrap(KindInvalidTransition, op, "invalid status transition", err)
}

func Gateway(op string, err error) error {
	return Wrap(KindGateway, op, "payment gateway failure", err)
}

func Internal(op string, err error) error {
	return Wrap(KindInternal, op, "internal failure", err)
}
