package audit

import (
	"github.com/smallbiznis/tableside/internal/audit/repository"
	"github.com/smallbiznis/tableside/internal/audit/service"
	"go.uber.org/fx"
)

// Module records who changed what. Order and device services take the
// resulting auditdomain.Service as an optional dependency.
var Module = fx.Module("audit",
	fx.Provide(repository.Provide, service.NewService),
)
