package restaurantctx

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// RestaurantContextKey is the request context key for the active restaurant ID.
type RestaurantContextKey struct{}

// ActorContextKey is the request context key for the authenticated actor.
type ActorContextKey struct{}

type Role string

const (
	RoleCustomer Role = "customer"
	RoleCashier  Role = "cashier"
	RoleKitchen  Role = "kitchen"
	RoleManager  Role = "manager"
	RoleSystem   Role = "system"
)

func ParseRole(value string) (Role, bool) {
	switch role := Role(strings.ToLower(strings.TrimSpace(value))); role {
	case RoleCustomer, RoleCashier, RoleKitchen, RoleManager, RoleSystem:
		return role, true
	default:
		return "", false
	}
}

// IsStaff reports whether the role works on the restaurant side of the counter.
func (r Role) IsStaff() bool {
	switch r {
	case RoleCashier, RoleKitchen, RoleManager, RoleSystem:
		return true
	default:
		return false
	}
}

// Actor is the authenticated principal behind a request.
type Actor struct {
	UserID string
	Role   Role
}

func (a Actor) IsZero() bool {
	return strings.TrimSpace(a.UserID) == "" && a.Role == ""
}

// Subject is the casbin subject for the actor.
func (a Actor) Subject() string {
	if a.Role == RoleSystem {
		return "system"
	}
	return "user:" + strings.TrimSpace(a.UserID)
}

func SystemActor() Actor {
	return Actor{UserID: "system", Role: RoleSystem}
}

// WithRestaurantID stores the restaurant ID in the context.
func WithRestaurantID(ctx context.Context, restaurantID int64) context.Context {
	return context.WithValue(ctx, RestaurantContextKey{}, restaurantID)
}

// RestaurantIDFromContext returns the restaurant ID from context, if set.
func RestaurantIDFromContext(ctx context.Context) (snowflake.ID, bool) {
	if ctx == nil {
		return 0, false
	}

	switch typed := ctx.Value(RestaurantContextKey{}).(type) {
	case int64:
		return snowflake.ID(typed), typed != 0
	case snowflake.ID:
		return typed, typed != 0
	case string:
		parsed, err := snowflake.ParseString(strings.TrimSpace(typed))
		if err == nil && parsed != 0 {
			return parsed, true
		}
	}
	return 0, false
}

func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, ActorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(ActorContextKey{}).(Actor)
	if !ok || actor.IsZero() {
		return Actor{}, false
	}
	return actor, true
}
