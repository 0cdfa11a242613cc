package internalerr

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common cases
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrQuery            = errors.New("query cannot be classified")
	ErrContract         = errors.New("contract violation")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrInvalidConfig    = errors.New("invalid configuration")
)

// ParseError is a syntax or compile failure at a byte offset of the source.
type ParseError struct {
	Offset int
	Msg    string
}

func (e *ParseError) Error() string {
	if e.Offset < 0 {
		return fmt.Sprintf("parse: %s", e.Msg)
	}
	return fmt.Sprintf("parse at byte %d: %s", e.Offset, e.Msg)
}

// ErrorList aggregates the failures of a batch operation. Valid items of the
// batch are applied even when the list is returned non-empty.
type ErrorList struct {
	Errs []error
}

func (e *ErrorList) Error() string {
	if len(e.Errs) == 1 {
		return e.Errs[0].Error()
	}
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d errors: %s", len(e.Errs), strings.Join(msgs, "; "))
}

func (e *ErrorList) Unwrap() []error { return e.Errs }

// Append collects err when it is non-nil and returns the list, creating it
// on first use.
func Append(list *ErrorList, err error) *ErrorList {
	if err == nil {
		return list
	}
	if list == nil {
		list = &ErrorList{}
	}
	list.Errs = append(list.Errs, err)
	return list
}

// OrNil returns the list as an error, or nil when it is empty.
func (e *ErrorList) OrNil() error {
	if e == nil || len(e.Errs) == 0 {
		return nil
	}
	return e
}
