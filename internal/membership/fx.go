package membership

import (
	"github.com/smallbiznis/opsdash/internal/membership/repository"
	"github.com/smallbiznis/opsdash/internal/membership/service"
	"go.uber.org/fx"
)

var Module = fx.Module("membership",
	fx.Provide(
		repository.NewRepository,
		service.NewService,
	),
)
