// Package automation holds the error taxonomy shared by the form automation
// components and the run controller.
package automation

import (
	"errors"
	"fmt"
)

// Kind classifies an automation failure.
type Kind string

const (
	KindElementNotFound          Kind = "element_not_found"
	KindOracleUnavailable        Kind = "oracle_unavailable"
	KindSurfaceLoadTimeout       Kind = "surface_load_timeout"
	KindMessageDeliveryExhausted Kind = "message_delivery_exhausted"
	KindBudgetExceeded           Kind = "budget_exceeded"
	KindNoBudgetSet              Kind = "no_budget_set"
	KindNoBoardEnabled           Kind = "no_board_enabled"
	KindDomainSkipped            Kind = "domain_skipped"
	KindMaxPagesReached          Kind = "max_pages_reached"
	KindMaxAttemptsReached       Kind = "max_attempts_reached"
	KindUnknown                  Kind = "unknown"
)

var (
	ErrElementNotFound          = errors.New("element not found")
	ErrOracleUnavailable        = errors.New("field oracle unavailable")
	ErrSurfaceLoadTimeout       = errors.New("surface load timeout")
	ErrMessageDeliveryExhausted = errors.New("message delivery exhausted")
	ErrBudgetExceeded           = errors.New("total board limit exceeds the global application limit")
	ErrNoBudgetSet              = errors.New("no application limit set")
	ErrNoBoardEnabled           = errors.New("no job board enabled")
	ErrDomainSkipped            = errors.New("destination domain is skipped")
	ErrMaxPagesReached          = errors.New("maximum page count reached")
	ErrMaxAttemptsReached       = errors.New("maximum attempts reached")
)

var sentinels = map[Kind]error{
	KindElementNotFound:          ErrElementNotFound,
	KindOracleUnavailable:        ErrOracleUnavailable,
	KindSurfaceLoadTimeout:       ErrSurfaceLoadTimeout,
	KindMessageDeliveryExhausted: ErrMessageDeliveryExhausted,
	KindBudgetExceeded:           ErrBudgetExceeded,
	KindNoBudgetSet:              ErrNoBudgetSet,
	KindNoBoardEnabled:           ErrNoBoardEnabled,
	KindDomainSkipped:            ErrDomainSkipped,
	KindMaxPagesReached:          ErrMaxPagesReached,
	KindMaxAttemptsReached:       ErrMaxAttemptsReached,
}

// Error carries the failing operation alongside its kind and cause.
type Error struct {
	Kind  Kind
	Op    string
	Cause error
}

// E builds an *Error. A nil cause is replaced by the sentinel of the kind.
func E(kind Kind, op string, cause error) *Error {
	if cause == nil {
		cause = sentinels[kind]
	}
	return &Error{Kind: kind, Op: op, Cause: cause}
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// KindOf reports the kind of err, looking through wrapped errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	for kind, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindUnknown
}

// Soft reports whether err is a ceiling that ends a loop without failing it.
func Soft(err error) bool {
	switch KindOf(err) {
	case KindMaxPagesReached, KindMaxAttemptsReached, KindDomainSkipped:
		return true
	}
	return false
}
