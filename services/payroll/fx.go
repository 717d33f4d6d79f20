package payroll

import (
	"go.uber.org/fx"
)

var Module = fx.Module("payroll.module",
	fx.Provide(
		NewService,
	),
)
