package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Platform string

const (
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
	PlatformWeb     Platform = "web"
)

func ParsePlatform(value string) (Platform, error) {
	switch platform := Platform(strings.ToLower(strings.TrimSpace(value))); platform {
	case PlatformAndroid, PlatformIOS, PlatformWeb:
		return platform, nil
	default:
		return "", ErrInvalidPlatform
	}
}

// DeviceToken is one push destination of a user. (user_id, token) is unique.
type DeviceToken struct {
	ID           snowflake.ID `json:"id" gorm:"primaryKey"`
	UserID       string       `json:"user_id" gorm:"type:text;not null"`
	RestaurantID snowflake.ID `json:"restaurant_id" gorm:"not null"`
	Token        string       `json:"-" gorm:"type:text;not null"`
	Platform     Platform     `json:"platform" gorm:"type:text;not null"`
	CreatedAt    time.Time    `json:"created_at" gorm:"not null"`
	LastSeenAt   time.Time    `json:"last_seen_at" gorm:"not null"`
}

func (DeviceToken) TableName() string { return "device_tokens" }

// Push notification types carried in the data payload.
const (
	TypeOrderConfirmation = "order_confirmation"
	TypeOrderStatusUpdate = "order_status_update"
)

// Notification is what a provider delivers to one token.
type Notification struct {
	Title string
	Body  string
	Data  map[string]string
	Sound string
	TTL   time.Duration
}
