package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ActorType string

const (
	ActorTypeUser   ActorType = "user"
	ActorTypeSystem ActorType = "system"
)

// Order actions recorded in the trail.
const (
	ActionOrderCreate  = "order.create"
	ActionOrderApprove = "order.approve"
	ActionOrderReject  = "order.reject"
	ActionOrderAdvance = "order.advance"
	ActionOrderCancel  = "order.cancel"
	ActionOrderPay     = "order.pay"

	ActionDeviceRegister   = "device.register"
	ActionDeviceUnregister = "device.unregister"
)

type AuditLog struct {
	ID           snowflake.ID      `json:"id" gorm:"primaryKey"`
	RestaurantID *snowflake.ID     `json:"restaurant_id,omitempty"`
	ActorType    string            `json:"actor_type"`
	ActorID      *string           `json:"actor_id,omitempty"`
	Action       string            `json:"action"`
	TargetType   string            `json:"target_type"`
	TargetID     *string           `json:"target_id,omitempty"`
	Metadata     datatypes.JSONMap `json:"metadata,omitempty"`
	IPAddress    *string           `json:"ip_address,omitempty"`
	UserAgent    *string           `json:"user_agent,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }

type AuditCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	RestaurantID snowflake.ID
	Action       string
	TargetType   string
	TargetID     string
	ActorType    string
	StartAt      *time.Time
	EndAt        *time.Time
	Cursor       *AuditCursor
	Limit        int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*AuditLog, error)
}
