package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/tableside/internal/audit/domain"
	"github.com/smallbiznis/tableside/internal/restaurantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectOrder    = "order"
	ObjectDevice   = "device"
	ObjectAuditLog = "audit_log"
)

const (
	ActionOrderCreate  = "order.create"
	ActionOrderView    = "order.view"
	ActionOrderList    = "order.list"
	ActionOrderApprove = "order.approve"
	ActionOrderReject  = "order.reject"
	ActionOrderAdvance = "order.advance"
	ActionOrderCancel  = "order.cancel"
	ActionOrderPay     = "order.pay"

	ActionDeviceRegister = "device.register"

	ActionAuditLogView = "audit_log.view"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor restaurantctx.Actor, restaurantID string, object string, action string) error {
	if actor.IsZero() {
		return ErrInvalidActor
	}
	restaurantID = strings.TrimSpace(restaurantID)
	if restaurantID == "" {
		return ErrInvalidRestaurant
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject, roleName, actorType, actorID, err := resolveActor(actor)
	if err != nil {
		s.auditDecision(ctx, "denied", actorType, actorID, restaurantID, object, action)
		return err
	}

	domain := fmt.Sprintf("restaurant:%s", restaurantID)
	if err := s.ensureGrouping(subject, roleName, domain); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, domain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Debug("authorization denied",
			zap.String("subject", subject),
			zap.String("role", roleName),
			zap.String("action", action),
		)
		s.auditDecision(ctx, "denied", actorType, actorID, restaurantID, object, action)
		return ErrForbidden
	}

	if action == ActionAuditLogView {
		s.auditDecision(ctx, "granted", actorType, actorID, restaurantID, object, action)
	}
	return nil
}

func resolveActor(actor restaurantctx.Actor) (string, string, string, *string, error) {
	if actor.Role == restaurantctx.RoleSystem {
		return actor.Subject(), "role:system", "system", nil, nil
	}
	userID := strings.TrimSpace(actor.UserID)
	if userID == "" {
		return "", "", "", nil, ErrInvalidActor
	}
	if _, ok := restaurantctx.ParseRole(string(actor.Role)); !ok {
		return actor.Subject(), "", "user", &userID, ErrInvalidActor
	}
	roleName := fmt.Sprintf("role:%s", actor.Role)
	return actor.Subject(), roleName, "user", &userID, nil
}

func (s *ServiceImpl) ensureGrouping(subject string, roleName string, domain string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject, "", domain)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if rule[1] != roleName {
			params := make([]interface{}, 0, len(rule))
			for _, value := range rule {
				params = append(params, value)
			}
			_, _ = s.enforcer.RemoveGroupingPolicy(params...)
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName, domain)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName, domain)
	return err
}

// auditDecision records refusals and the grants worth keeping a trail of.
func (s *ServiceImpl) auditDecision(ctx context.Context, decision string, actorType string, actorID *string, restaurantID string, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	parsedID, err := snowflake.ParseString(restaurantID)
	if err != nil || parsedID == 0 {
		return
	}
	subject := actorType
	if actorType == "user" && actorID != nil {
		subject = "user:" + *actorID
	}
	targetID := object + ":" + action
	_ = s.auditSvc.AuditLog(ctx, &parsedID, actorType, actorID, "authorization."+decision, "capability", &targetID, map[string]any{
		"object":  object,
		"action":  action,
		"subject": subject,
	})
}

// rolePermissions is the fixed role to capability table, seeded into every
// restaurant domain on start.
var rolePermissions = map[restaurantctx.Role]map[string][]string{
	restaurantctx.RoleCustomer: {
		ObjectOrder:  {ActionOrderCreate, ActionOrderView, ActionOrderCancel},
		ObjectDevice: {ActionDeviceRegister},
	},
	restaurantctx.RoleCashier: {
		ObjectOrder:  {ActionOrderCreate, ActionOrderView, ActionOrderList, ActionOrderApprove, ActionOrderReject, ActionOrderPay},
		ObjectDevice: {ActionDeviceRegister},
	},
	restaurantctx.RoleKitchen: {
		ObjectOrder:  {ActionOrderView, ActionOrderList, ActionOrderAdvance},
		ObjectDevice: {ActionDeviceRegister},
	},
	restaurantctx.RoleManager: {
		ObjectOrder:    {ActionOrderCreate, ActionOrderView, ActionOrderList, ActionOrderApprove, ActionOrderReject, ActionOrderAdvance, ActionOrderCancel, ActionOrderPay},
		ObjectDevice:   {ActionDeviceRegister},
		ObjectAuditLog: {ActionAuditLogView},
	},
	restaurantctx.RoleSystem: {
		ObjectOrder:    {ActionOrderCreate, ActionOrderView, ActionOrderList, ActionOrderApprove, ActionOrderReject, ActionOrderAdvance, ActionOrderCancel, ActionOrderPay},
		ObjectAuditLog: {ActionAuditLogView},
	},
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	var missing [][]string
	for role, objects := range rolePermissions {
		for object, actions := range objects {
			for _, action := range actions {
				rule := []string{"role:" + string(role), object, action}
				has, err := enforcer.HasPolicy(rule)
				if err != nil {
					return err
				}
				if !has {
					missing = append(missing, rule)
				}
			}
		}
	}
	if len(missing) == 0 {
		return nil
	}
	_, err := enforcer.AddPolicies(missing)
	return err
}
