package quota

import "go.uber.org/fx"

var Module = fx.Module("quota.service",
	fx.Provide(func() UsageSource { return StubUsageSource{} }),
	fx.Provide(NewService),
)
