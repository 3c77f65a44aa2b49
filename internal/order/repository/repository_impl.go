package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	orderdomain "github.com/smallbiznis/tableside/internal/order/domain"
	"gorm.io/gorm"
)

const orderColumns = `id, restaurant_id, order_number, user_id, status, payment_status, payment_method,
	 total_amount, item_count, paid_amount, change_given, paid_at, rejection_reason, note,
	 created_at, updated_at`

type repo struct{}

func Provide() orderdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, order *orderdomain.Order) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO orders (
			id, restaurant_id, order_number, user_id, status, payment_status, payment_method,
			total_amount, item_count, paid_amount, change_given, paid_at, rejection_reason, note,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID,
		order.RestaurantID,
		order.OrderNumber,
		order.UserID,
		order.Status,
		order.PaymentStatus,
		order.PaymentMethod,
		order.TotalAmount,
		order.ItemCount,
		order.PaidAmount,
		order.ChangeGiven,
		order.PaidAt,
		order.RejectionReason,
		order.Note,
		order.CreatedAt,
		order.UpdatedAt,
	).Error
}

func (r *repo) InsertItems(ctx context.Context, db *gorm.DB, items []orderdomain.OrderItem) error {
	if len(items) == 0 {
		return nil
	}

	for _, item := range items {
		if err := db.WithContext(ctx).Exec(
			`INSERT INTO order_items (
				id, order_id, menu_item_id, name, unit_price, quantity, note, position
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID,
			item.OrderID,
			item.MenuItemID,
			item.Name,
			item.UnitPrice,
			item.Quantity,
			item.Note,
			item.Position,
		).Error; err != nil {
			return err
		}
	}

	return nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, restaurantID, id snowflake.ID) (*orderdomain.Order, error) {
	return r.findByID(ctx, db, restaurantID, id, false)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, restaurantID, id snowflake.ID) (*orderdomain.Order, error) {
	return r.findByID(ctx, db, restaurantID, id, true)
}

func (r *repo) findByID(ctx context.Context, db *gorm.DB, restaurantID, id snowflake.ID, forUpdate bool) (*orderdomain.Order, error) {
	query := `SELECT ` + orderColumns + `
		 FROM orders WHERE restaurant_id = ? AND id = ?`
	if forUpdate && db.Dialector.Name() != "sqlite" {
		query += ` FOR UPDATE`
	}

	var order orderdomain.Order
	err := db.WithContext(ctx).Raw(query, restaurantID, id).Scan(&order).Error
	if err != nil {
		return nil, err
	}
	if order.ID == 0 {
		return nil, nil
	}

	items, err := r.itemsFor(ctx, db, []snowflake.ID{order.ID})
	if err != nil {
		return nil, err
	}
	order.Items = items[order.ID]
	return &order, nil
}

func (r *repo) ListActive(ctx context.Context, db *gorm.DB, restaurantID snowflake.ID, statuses []orderdomain.OrderStatus) ([]orderdomain.Order, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	var orders []orderdomain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT `+orderColumns+`
		 FROM orders WHERE restaurant_id = ? AND status IN ?
		 ORDER BY created_at ASC, id ASC`,
		restaurantID,
		statuses,
	).Scan(&orders).Error
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]snowflake.ID, 0, len(orders))
	for _, order := range orders {
		ids = append(ids, order.ID)
	}
	items, err := r.itemsFor(ctx, db, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, nil
}

func (r *repo) CountByNumberPrefix(ctx context.Context, db *gorm.DB, restaurantID snowflake.ID, prefix string) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM orders WHERE restaurant_id = ? AND order_number LIKE ?`,
		restaurantID,
		prefix+"%",
	).Scan(&count).Error
	return count, err
}

// UpdateLifecycle writes the mutable lifecycle columns only if the row still
// matches expected. It reports false when another writer got there first.
func (r *repo) UpdateLifecycle(ctx context.Context, db *gorm.DB, order *orderdomain.Order, expected orderdomain.Guard) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE orders SET
			status = ?, payment_status = ?, payment_method = ?, paid_amount = ?, change_given = ?,
			paid_at = ?, rejection_reason = ?, updated_at = ?
		 WHERE restaurant_id = ? AND id = ? AND status = ? AND payment_status = ?`,
		order.Status,
		order.PaymentStatus,
		order.PaymentMethod,
		order.PaidAmount,
		order.ChangeGiven,
		order.PaidAt,
		order.RejectionReason,
		order.UpdatedAt,
		order.RestaurantID,
		order.ID,
		expected.Status,
		expected.PaymentStatus,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) itemsFor(ctx context.Context, db *gorm.DB, orderIDs []snowflake.ID) (map[snowflake.ID][]orderdomain.OrderItem, error) {
	var items []orderdomain.OrderItem
	err := db.WithContext(ctx).Raw(
		`SELECT id, order_id, menu_item_id, name, unit_price, quantity, note, position
		 FROM order_items WHERE order_id IN ?
		 ORDER BY order_id ASC, position ASC`,
		orderIDs,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}

	grouped := make(map[snowflake.ID][]orderdomain.OrderItem, len(orderIDs))
	for _, item := range items {
		grouped[item.OrderID] = append(grouped[item.OrderID], item)
	}
	return grouped, nil
}
