// Package transition validates and applies order lifecycle moves. It is pure:
// callers persist the returned order and hand the event to the notifier.
package transition

import (
	"strings"
	"time"

	"github.com/smallbiznis/tableside/internal/order/domain"
	"github.com/smallbiznis/tableside/internal/restaurantctx"
)

type actorClass int

const (
	staffOnly actorClass = iota
	customerOrManager
)

// edges is the full transition table. Anything absent is illegal.
var edges = map[domain.OrderStatus]map[domain.OrderStatus]actorClass{
	domain.StatusAwaitingApproval: {
		domain.StatusPending:   staffOnly,
		domain.StatusRejected:  staffOnly,
		domain.StatusCancelled: customerOrManager,
	},
	domain.StatusPending: {
		domain.StatusPreparing: staffOnly,
		domain.StatusCancelled: customerOrManager,
	},
	domain.StatusPreparing: {
		domain.StatusReady: staffOnly,
	},
	domain.StatusReady: {
		domain.StatusCompleted: staffOnly,
	},
}

// Allowed reports whether the table contains from → to.
func Allowed(from, to domain.OrderStatus) bool {
	_, ok := edges[from][to]
	return ok
}

// Apply moves order to requested and returns the updated copy plus the event describing it.
// The input order is never modified.
func Apply(order domain.Order, requested string, actor restaurantctx.Actor, reason string, now time.Time) (domain.Order, domain.OrderEvent, error) {
	target, err := domain.ParseStatus(requested)
	if err != nil {
		return domain.Order{}, domain.OrderEvent{}, err
	}

	if target == domain.StatusCancelled && order.IsPaid() {
		return domain.Order{}, domain.OrderEvent{}, domain.ErrPaymentPrecondition
	}
	if order.Status.IsTerminal() {
		return domain.Order{}, domain.OrderEvent{}, domain.ErrTerminalState
	}

	class, ok := edges[order.Status][target]
	if !ok {
		return domain.Order{}, domain.OrderEvent{}, domain.ErrInvalidTransition
	}
	if !permits(class, actor) {
		return domain.Order{}, domain.OrderEvent{}, domain.ErrActorNotPermitted
	}

	reason = strings.TrimSpace(reason)
	if target == domain.StatusRejected && reason == "" {
		return domain.Order{}, domain.OrderEvent{}, domain.ErrReasonRequired
	}

	next := order.Clone()
	previous := next.Status
	next.Status = target
	if target == domain.StatusRejected {
		next.RejectionReason = &reason
	}
	next.UpdatedAt = bump(order.UpdatedAt, now)

	return next, domain.NewEvent(kindFor(target), previous, next, actor, next.UpdatedAt), nil
}

// Payment is the tender presented at the till.
type Payment struct {
	Method   string
	Tendered int64
}

// MarkPaid records payment. Status is untouched: payment is an independent axis.
func MarkPaid(order domain.Order, payment Payment, actor restaurantctx.Actor, now time.Time) (domain.Order, domain.OrderEvent, error) {
	if order.Status.IsTerminal() {
		return domain.Order{}, domain.OrderEvent{}, domain.ErrTerminalState
	}
	if order.IsPaid() {
		return domain.Order{}, domain.OrderEvent{}, domain.ErrAlreadyPaid
	}
	method, err := domain.ParsePaymentMethod(payment.Method)
	if err != nil {
		return domain.Order{}, domain.OrderEvent{}, err
	}

	paid := order.TotalAmount
	var change int64
	if method == domain.PaymentMethodCash {
		if payment.Tendered < order.TotalAmount {
			return domain.Order{}, domain.OrderEvent{}, domain.ErrInsufficientPayment
		}
		paid = payment.Tendered
		change = payment.Tendered - order.TotalAmount
	}

	next := order.Clone()
	next.PaymentStatus = domain.PaymentPaid
	next.PaymentMethod = method
	next.PaidAmount = &paid
	next.ChangeGiven = &change
	next.UpdatedAt = bump(order.UpdatedAt, now)
	paidAt := next.UpdatedAt
	next.PaidAt = &paidAt

	return next, domain.NewEvent(domain.EventPaid, order.Status, next, actor, next.UpdatedAt), nil
}

func permits(class actorClass, actor restaurantctx.Actor) bool {
	switch class {
	case staffOnly:
		return actor.Role.IsStaff()
	case customerOrManager:
		switch actor.Role {
		case restaurantctx.RoleCustomer, restaurantctx.RoleManager, restaurantctx.RoleSystem:
			return true
		}
	}
	return false
}

func kindFor(target domain.OrderStatus) domain.EventKind {
	switch target {
	case domain.StatusPending:
		return domain.EventApproved
	case domain.StatusRejected:
		return domain.EventRejected
	case domain.StatusCancelled:
		return domain.EventCancelled
	default:
		return domain.EventAdvanced
	}
}

// bump keeps updated_at monotone per order even if the server clock steps back.
func bump(previous, now time.Time) time.Time {
	now = now.UTC()
	if now.Before(previous) {
		return previous.UTC()
	}
	return now
}
