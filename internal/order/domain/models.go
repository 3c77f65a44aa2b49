// Package domain contains the order record, its lifecycle vocabulary and the events it emits.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

// OrderStatus is the kitchen-facing lifecycle state of an order.
type OrderStatus string

const (
	StatusAwaitingApproval OrderStatus = "awaiting_approval"
	StatusPending          OrderStatus = "pending"
	StatusPreparing        OrderStatus = "preparing"
	StatusReady            OrderStatus = "ready"
	StatusCompleted        OrderStatus = "completed"
	StatusCancelled        OrderStatus = "cancelled"
	StatusRejected         OrderStatus = "rejected"
)

// IsTerminal reports whether no further status move is possible.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusRejected:
		return true
	default:
		return false
	}
}

// ParseStatus rejects anything outside the lifecycle vocabulary.
func ParseStatus(value string) (OrderStatus, error) {
	switch status := OrderStatus(strings.ToLower(strings.TrimSpace(value))); status {
	case StatusAwaitingApproval,
		StatusPending,
		StatusPreparing,
		StatusReady,
		StatusCompleted,
		StatusCancelled,
		StatusRejected:
		return status, nil
	default:
		return "", ErrInvalidStatus
	}
}

// ActiveStatuses lists the statuses shown on the live order board.
func ActiveStatuses() []OrderStatus {
	return []OrderStatus{StatusAwaitingApproval, StatusPending, StatusPreparing, StatusReady}
}

type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "unpaid"
	PaymentPaid   PaymentStatus = "paid"
)

type PaymentMethod string

const (
	PaymentMethodCash    PaymentMethod = "cash"
	PaymentMethodCard    PaymentMethod = "card"
	PaymentMethodEWallet PaymentMethod = "e_wallet"
)

func ParsePaymentMethod(value string) (PaymentMethod, error) {
	switch method := PaymentMethod(strings.ToLower(strings.TrimSpace(value))); method {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodEWallet:
		return method, nil
	default:
		return "", ErrInvalidPaymentMethod
	}
}

// Order is the canonical order record. Amounts are in minor currency units.
type Order struct {
	ID              snowflake.ID  `json:"id" gorm:"primaryKey"`
	RestaurantID    snowflake.ID  `json:"restaurant_id" gorm:"not null;index"`
	OrderNumber     string        `json:"order_number" gorm:"type:text;not null"`
	UserID          *string       `json:"user_id"`
	Status          OrderStatus   `json:"status" gorm:"type:text;not null"`
	PaymentStatus   PaymentStatus `json:"payment_status" gorm:"type:text;not null"`
	PaymentMethod   PaymentMethod `json:"payment_method,omitempty" gorm:"type:text;not null;default:''"`
	TotalAmount     int64         `json:"total_amount" gorm:"not null"`
	ItemCount       int           `json:"item_count" gorm:"not null"`
	PaidAmount      *int64        `json:"paid_amount,omitempty"`
	ChangeGiven     *int64        `json:"change_given,omitempty"`
	PaidAt          *time.Time    `json:"paid_at,omitempty"`
	RejectionReason *string       `json:"rejection_reason,omitempty"`
	Note            *string       `json:"note,omitempty"`
	Items           []OrderItem   `json:"items" gorm:"-"`
	CreatedAt       time.Time     `json:"created_at" gorm:"not null"`
	UpdatedAt       time.Time     `json:"updated_at" gorm:"not null"`
}

func (Order) TableName() string { return "orders" }

// IsWalkIn reports whether the order has no owning customer account.
func (o Order) IsWalkIn() bool {
	return o.UserID == nil || strings.TrimSpace(*o.UserID) == ""
}

func (o Order) IsPaid() bool {
	return o.PaymentStatus == PaymentPaid
}

// OwnedBy reports whether userID placed the order.
func (o Order) OwnedBy(userID string) bool {
	return !o.IsWalkIn() && *o.UserID == strings.TrimSpace(userID)
}

// Clone returns a deep copy of the order and its items.
func (o Order) Clone() Order {
	out := o
	out.UserID = cloneString(o.UserID)
	out.RejectionReason = cloneString(o.RejectionReason)
	out.Note = cloneString(o.Note)
	out.PaidAmount = cloneInt64(o.PaidAmount)
	out.ChangeGiven = cloneInt64(o.ChangeGiven)
	if o.PaidAt != nil {
		paidAt := *o.PaidAt
		out.PaidAt = &paidAt
	}
	if o.Items != nil {
		out.Items = make([]OrderItem, len(o.Items))
		for i, item := range o.Items {
			item.Note = cloneString(item.Note)
			out.Items[i] = item
		}
	}
	return out
}

// OrderItem is a line on an order with name and price captured at order time.
type OrderItem struct {
	ID         snowflake.ID `json:"id" gorm:"primaryKey"`
	OrderID    snowflake.ID `json:"order_id" gorm:"not null;index"`
	MenuItemID string       `json:"menu_item_id" gorm:"type:text;not null"`
	Name       string       `json:"name" gorm:"type:text;not null"`
	UnitPrice  int64        `json:"unit_price" gorm:"not null"`
	Quantity   int          `json:"quantity" gorm:"not null"`
	Note       *string      `json:"note,omitempty"`
	Position   int          `json:"position" gorm:"not null"`
}

func (OrderItem) TableName() string { return "order_items" }

// LineTotal is unit price times quantity.
func (i OrderItem) LineTotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

// Totals returns the order total and the item count (sum of quantities).
func Totals(items []OrderItem) (int64, int) {
	var total int64
	var count int
	for _, item := range items {
		total += item.LineTotal()
		count += item.Quantity
	}
	return total, count
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
