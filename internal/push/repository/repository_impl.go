package repository

import (
	"context"

	pushdomain "github.com/smallbiznis/tableside/internal/push/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() pushdomain.Repository {
	return &repo{}
}

// Insert reports false when (user_id, token) already exists.
func (r *repo) Insert(ctx context.Context, db *gorm.DB, token *pushdomain.DeviceToken) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`INSERT INTO device_tokens (id, user_id, restaurant_id, token, platform, created_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, token) DO NOTHING`,
		token.ID,
		token.UserID,
		token.RestaurantID,
		token.Token,
		token.Platform,
		token.CreatedAt,
		token.LastSeenAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// Touch refreshes an existing registration from token.
func (r *repo) Touch(ctx context.Context, db *gorm.DB, token *pushdomain.DeviceToken) error {
	return db.WithContext(ctx).Exec(
		`UPDATE device_tokens SET restaurant_id = ?, platform = ?, last_seen_at = ?
		WHERE user_id = ? AND token = ?`,
		token.RestaurantID,
		token.Platform,
		token.LastSeenAt,
		token.UserID,
		token.Token,
	).Error
}

func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, userID string) ([]pushdomain.DeviceToken, error) {
	var tokens []pushdomain.DeviceToken
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, restaurant_id, token, platform, created_at, last_seen_at
		FROM device_tokens WHERE user_id = ?
		ORDER BY created_at ASC, id ASC`,
		userID,
	).Scan(&tokens).Error
	if err != nil {
		return nil, err
	}
	return tokens, nil
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, userID, token string) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`DELETE FROM device_tokens WHERE user_id = ? AND token = ?`,
		userID,
		token,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
