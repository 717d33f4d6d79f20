package claim

import (
	"go.uber.org/fx"
)

var Module = fx.Module("claim.module",
	fx.Provide(
		NewService,
	),
)
