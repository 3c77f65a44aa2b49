// Package logpush is a push provider that only logs. It backs local
// development and deployments without FCM credentials.
package logpush

import (
	"context"

	"github.com/smallbiznis/tableside/internal/audit/masking"
	pushdomain "github.com/smallbiznis/tableside/internal/push/domain"
	"go.uber.org/zap"
)

type Provider struct {
	log *zap.Logger
}

func New(log *zap.Logger) *Provider {
	return &Provider{log: log.Named("push.log")}
}

func (p *Provider) Name() string { return "log" }

func (p *Provider) Send(ctx context.Context, token string, n pushdomain.Notification) error {
	p.log.Info("push notification",
		zap.String("token", masking.MaskSecret(token)),
		zap.String("title", n.Title),
		zap.Any("data", n.Data),
	)
	return nil
}
