package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/tableside/internal/audit/domain"
	"github.com/smallbiznis/tableside/internal/audit/masking"
	"github.com/smallbiznis/tableside/internal/authorization"
	"github.com/smallbiznis/tableside/internal/clock"
	pushdomain "github.com/smallbiznis/tableside/internal/push/domain"
	"github.com/smallbiznis/tableside/internal/restaurantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxTokenLength = 4096

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  pushdomain.Repository
	Authz authorization.Service

	Clock    clock.Clock         `optional:"true"`
	AuditSvc auditdomain.Service `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	repo     pushdomain.Repository
	authz    authorization.Service
	clock    clock.Clock
	auditSvc auditdomain.Service
}

func New(p Params) pushdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("push.service"),
		genID:    p.GenID,
		repo:     p.Repo,
		authz:    p.Authz,
		clock:    clk,
		auditSvc: p.AuditSvc,
	}
}

// RegisterToken binds a device token to the calling user. Registering the
// same token again only refreshes it.
func (s *Service) RegisterToken(ctx context.Context, req pushdomain.RegisterTokenRequest) (pushdomain.DeviceToken, error) {
	restaurantID, actor, err := s.caller(ctx)
	if err != nil {
		return pushdomain.DeviceToken{}, err
	}

	token := strings.TrimSpace(req.Token)
	if token == "" || len(token) > maxTokenLength {
		return pushdomain.DeviceToken{}, pushdomain.ErrInvalidToken
	}
	platform, err := pushdomain.ParsePlatform(req.Platform)
	if err != nil {
		return pushdomain.DeviceToken{}, err
	}

	now := s.clock.Now().UTC()
	record := pushdomain.DeviceToken{
		ID:           s.genID.Generate(),
		UserID:       actor.UserID,
		RestaurantID: restaurantID,
		Token:        token,
		Platform:     platform,
		CreatedAt:    now,
		LastSeenAt:   now,
	}

	inserted, err := s.repo.Insert(ctx, s.db, &record)
	if err != nil {
		return pushdomain.DeviceToken{}, err
	}
	if !inserted {
		if err := s.repo.Touch(ctx, s.db, &record); err != nil {
			return pushdomain.DeviceToken{}, err
		}
		s.log.Debug("device token refreshed", zap.String("user_id", actor.UserID))
		return record, nil
	}

	s.audit(ctx, restaurantID, auditdomain.ActionDeviceRegister, token, map[string]any{
		"platform": string(platform),
	})
	return record, nil
}

// UnregisterToken is idempotent.
func (s *Service) UnregisterToken(ctx context.Context, token string) error {
	restaurantID, actor, err := s.caller(ctx)
	if err != nil {
		return err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return pushdomain.ErrInvalidToken
	}

	removed, err := s.repo.Delete(ctx, s.db, actor.UserID, token)
	if err != nil {
		return err
	}
	if removed {
		s.audit(ctx, restaurantID, auditdomain.ActionDeviceUnregister, token, nil)
	}
	return nil
}

func (s *Service) ListTokens(ctx context.Context, userID string) ([]pushdomain.DeviceToken, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, pushdomain.ErrInvalidUser
	}
	return s.repo.ListByUser(ctx, s.db, userID)
}

func (s *Service) caller(ctx context.Context) (snowflake.ID, restaurantctx.Actor, error) {
	restaurantID, ok := restaurantctx.RestaurantIDFromContext(ctx)
	if !ok {
		return 0, restaurantctx.Actor{}, authorization.ErrInvalidRestaurant
	}
	actor, ok := restaurantctx.ActorFromContext(ctx)
	if !ok || strings.TrimSpace(actor.UserID) == "" {
		return 0, restaurantctx.Actor{}, pushdomain.ErrInvalidUser
	}
	if err := s.authz.Authorize(ctx, actor, restaurantID.String(), authorization.ObjectDevice, authorization.ActionDeviceRegister); err != nil {
		return 0, restaurantctx.Actor{}, err
	}
	return restaurantID, actor, nil
}

func (s *Service) audit(ctx context.Context, restaurantID snowflake.ID, action, token string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	masked := masking.MaskSecret(token)
	if err := s.auditSvc.AuditLog(ctx, &restaurantID, "", nil, action, "device_token", &masked, metadata); err != nil {
		s.log.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}
