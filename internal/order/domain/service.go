package domain

import "context"

type CreateOrderItemRequest struct {
	MenuItemID string  `json:"menu_item_id"`
	Name       string  `json:"name"`
	UnitPrice  int64   `json:"unit_price"`
	Quantity   int     `json:"quantity"`
	Note       *string `json:"note,omitempty"`
}

// CreateOrderRequest carries the client's basket. Totals are always computed server-side.
type CreateOrderRequest struct {
	Items []CreateOrderItemRequest `json:"items"`
	Note  *string                  `json:"note,omitempty"`
}

type ListActiveRequest struct {
	Status string
}

type PayOrderRequest struct {
	Method string `json:"method"`
	Amount int64  `json:"amount"`
}

type Service interface {
	Create(ctx context.Context, req CreateOrderRequest) (Order, error)
	Get(ctx context.Context, id string) (Order, error)
	ListActive(ctx context.Context, req ListActiveRequest) ([]Order, error)
	Approve(ctx context.Context, id string) (Order, error)
	Reject(ctx context.Context, id string, reason string) (Order, error)
	Advance(ctx context.Context, id string, status string) (Order, error)
	Cancel(ctx context.Context, id string) (Order, error)
	MarkPaid(ctx context.Context, id string, req PayOrderRequest) (Order, error)
}
