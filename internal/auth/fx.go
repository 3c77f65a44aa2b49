package auth

import (
	"github.com/smallbiznis/tableside/internal/auth/token"
	"github.com/smallbiznis/tableside/internal/clock"
	"github.com/smallbiznis/tableside/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("auth",
	fx.Provide(newVerifier),
)

type verifierParams struct {
	fx.In

	Config config.Config
	Clock  clock.Clock `optional:"true"`
}

func newVerifier(p verifierParams) (*token.Verifier, error) {
	return token.NewVerifier(p.Config, p.Clock)
}
