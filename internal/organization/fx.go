package organization

import (
	"github.com/smallbiznis/opsdash/internal/organization/event"
	"github.com/smallbiznis/opsdash/internal/organization/repository"
	"github.com/smallbiznis/opsdash/internal/organization/service"
	"go.uber.org/fx"
)

var Module = fx.Module("organization",
	fx.Provide(
		repository.NewRepository,
		event.NewOutboxPublisher,
		service.NewService,
	),
)
