package notification

import (
	"context"

	orderdomain "github.com/smallbiznis/tableside/internal/order/domain"
	"github.com/smallbiznis/tableside/internal/push"
	"github.com/smallbiznis/tableside/internal/realtime"
	"go.uber.org/fx"
)

var Module = fx.Module("notification",
	fx.Provide(
		func(b *realtime.Bus) Broadcaster { return b },
		func(d *push.Dispatcher) Pusher { return d },
		NewRouter,
		func(r *Router) orderdomain.Notifier { return r },
	),
	fx.Invoke(registerLifecycle),
)

func registerLifecycle(lc fx.Lifecycle, r *Router) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			r.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return r.Stop(ctx)
		},
	})
}
