package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Guard is the state an update expects to find; a mismatch means another writer won.
type Guard struct {
	Status        OrderStatus
	PaymentStatus PaymentStatus
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, order *Order) error
	InsertItems(ctx context.Context, db *gorm.DB, items []OrderItem) error
	FindByID(ctx context.Context, db *gorm.DB, restaurantID, id snowflake.ID) (*Order, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, restaurantID, id snowflake.ID) (*Order, error)
	ListActive(ctx context.Context, db *gorm.DB, restaurantID snowflake.ID, statuses []OrderStatus) ([]Order, error)
	CountByNumberPrefix(ctx context.Context, db *gorm.DB, restaurantID snowflake.ID, prefix string) (int64, error)
	UpdateLifecycle(ctx context.Context, db *gorm.DB, order *Order, expected Guard) (bool, error)
}
