package push

import (
	"context"
	"strings"

	"github.com/smallbiznis/tableside/internal/clock"
	"github.com/smallbiznis/tableside/internal/config"
	"github.com/smallbiznis/tableside/internal/observability/metrics"
	pushdomain "github.com/smallbiznis/tableside/internal/push/domain"
	"github.com/smallbiznis/tableside/internal/push/provider/fcm"
	"github.com/smallbiznis/tableside/internal/push/provider/logpush"
	"github.com/smallbiznis/tableside/internal/push/repository"
	"github.com/smallbiznis/tableside/internal/push/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("push",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(NewProvider),
	fx.Provide(NewDispatcher),
)

type ProviderParams struct {
	fx.In

	Config   config.Config
	Log      *zap.Logger
	Realtime *config.RealtimeConfigHolder `optional:"true"`
	Clock    clock.Clock                  `optional:"true"`
	Metrics  *metrics.RealtimeMetrics     `optional:"true"`
}

// NewProvider selects the configured provider and puts it behind a breaker.
func NewProvider(p ProviderParams) (pushdomain.Provider, error) {
	var provider pushdomain.Provider
	switch strings.ToLower(strings.TrimSpace(p.Config.Push.Provider)) {
	case config.PushProviderFCM:
		fcmProvider, err := fcm.New(context.Background(), fcm.Config{
			ProjectID:       p.Config.Push.FCMProjectID,
			CredentialsFile: p.Config.Push.FCMCredentials,
			Endpoint:        p.Config.Push.FCMEndpoint,
		})
		if err != nil {
			return nil, err
		}
		provider = fcmProvider
	default:
		provider = logpush.New(p.Log)
	}

	settings := p.Realtime.Get()
	p.Log.Named("push").Info("push provider ready",
		zap.String("provider", provider.Name()),
		zap.Int("breaker_max_failures", settings.BreakerMaxFailures),
		zap.Duration("breaker_reset_timeout", settings.BreakerResetTimeout),
	)
	return NewBreaker(provider, settings.BreakerMaxFailures, settings.BreakerResetTimeout, p.Clock, p.Metrics), nil
}
