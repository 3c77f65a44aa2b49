package domain

import "errors"

// CodedError is a specific failure that also matches its broader class with errors.Is.
type CodedError struct {
	Code  string
	Class error
}

func (e *CodedError) Error() string { return e.Code }

func (e *CodedError) Unwrap() error { return e.Class }

var (
	ErrInvalidTransition   = errors.New("invalid_transition")
	ErrPaymentPrecondition = errors.New("payment_precondition")
	ErrAlreadyPaid         = errors.New("already_paid")

	ErrTerminalState     = &CodedError{Code: "terminal_state", Class: ErrInvalidTransition}
	ErrReasonRequired    = &CodedError{Code: "reason_required", Class: ErrInvalidTransition}
	ErrInvalidStatus     = &CodedError{Code: "invalid_status", Class: ErrInvalidTransition}
	ErrActorNotPermitted = &CodedError{Code: "actor_not_permitted", Class: ErrInvalidTransition}
)

var (
	ErrInvalidRestaurant    = errors.New("invalid_restaurant")
	ErrInvalidOrderID       = errors.New("invalid_order_id")
	ErrEmptyOrder           = errors.New("empty_order")
	ErrInvalidQuantity      = errors.New("invalid_quantity")
	ErrInvalidPrice         = errors.New("invalid_price")
	ErrInvalidItemName      = errors.New("invalid_item_name")
	ErrInvalidPaymentMethod = errors.New("invalid_payment_method")
	ErrInsufficientPayment  = errors.New("insufficient_payment")
	ErrNotFound             = errors.New("order_not_found")
	ErrConcurrentUpdate     = errors.New("concurrent_update")
)
