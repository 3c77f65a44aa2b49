package order

import (
	"github.com/smallbiznis/tableside/internal/order/repository"
	"github.com/smallbiznis/tableside/internal/order/service"
	"go.uber.org/fx"
)

var Module = fx.Module("order.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
