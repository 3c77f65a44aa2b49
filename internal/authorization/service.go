package authorization

import (
	"context"
	"errors"

	"github.com/smallbiznis/tableside/internal/restaurantctx"
)

type Service interface {
	Authorize(ctx context.Context, actor restaurantctx.Actor, restaurantID string, object string, action string) error
}

var (
	ErrInvalidActor      = errors.New("invalid_actor")
	ErrInvalidRestaurant = errors.New("invalid_restaurant")
	ErrInvalidObject     = errors.New("invalid_object")
	ErrInvalidAction     = errors.New("invalid_action")
	ErrForbidden         = errors.New("forbidden")
)
