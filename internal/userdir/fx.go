package userdir

import "go.uber.org/fx"

var Module = fx.Module("userdir",
	fx.Provide(
		fx.Annotate(NewMemoryResolver, fx.As(new(Resolver))),
	),
)
