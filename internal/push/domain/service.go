package domain

import (
	"context"

	"gorm.io/gorm"
)

// Provider delivers one notification to one token. Implementations return
// ErrTokenInvalid when the provider has permanently rejected the token.
type Provider interface {
	Name() string
	Send(ctx context.Context, token string, n Notification) error
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, token *DeviceToken) (bool, error)
	Touch(ctx context.Context, db *gorm.DB, token *DeviceToken) error
	ListByUser(ctx context.Context, db *gorm.DB, userID string) ([]DeviceToken, error)
	Delete(ctx context.Context, db *gorm.DB, userID, token string) (bool, error)
}

type RegisterTokenRequest struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

// Service manages the caller's device tokens.
type Service interface {
	RegisterToken(ctx context.Context, req RegisterTokenRequest) (DeviceToken, error)
	UnregisterToken(ctx context.Context, token string) error
	ListTokens(ctx context.Context, userID string) ([]DeviceToken, error)
}
